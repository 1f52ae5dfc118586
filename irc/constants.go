package irc

// Commands and numerics the core dispatch table recognizes. Named rather
// than inlined so the dispatch switch in client.go reads like protocol
// text.
const (
	cmdPing    = "PING"
	cmdError   = "ERROR"
	cmdNick    = "NICK"
	cmdPrivmsg = "PRIVMSG"
	cmdJoin    = "JOIN"
	cmdPart    = "PART"
	cmdKick    = "KICK"
	cmdInvite  = "INVITE"
	cmdCap     = "CAP"
	cmdPong    = "PONG"

	numWelcome   = "001"
	numYourHost  = "004"
	numISupport  = "005"
	numNamReply  = "353"
	numNickInUse = "433"
	numNickColl  = "436"
	numBadPass   = "464"
	numBanned    = "465"
	numSaslFail1 = "902"
	numSaslLogin = "903"
	numSaslFail2 = "904"
	numSaslFail3 = "905"
	numSaslFail4 = "906"
)

var saslNumerics = map[string]bool{
	numSaslFail1: true,
	numSaslLogin: true,
	numSaslFail2: true,
	numSaslFail3: true,
	numSaslFail4: true,
}

// ctcpVersion is the CTCP VERSION request body; productName and
// productVers form the reply payload "<product>: v<version>".
const (
	ctcpVersion   = "\x01VERSION\x01"
	productName   = "ircplug"
	productVers   = "0.1.0"
)
