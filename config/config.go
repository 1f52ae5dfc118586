// Package config loads the TOML-backed settings that parameterize a
// session: where to connect, what identity to present, which channels to
// join on startup, and the command-prefix-to-executable mapping that
// drives plugin dispatch.
package config

import (
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Config is the on-disk settings file, loaded once at startup and re-read
// via Reload, which returns a fresh Config.
type Config struct {
	Nick   string `toml:"nick"`
	Server string `toml:"server"`
	Port   int    `toml:"port"`
	TLS    bool   `toml:"tls"`

	// CommandPrefix lists the leading characters of a chat command. It is
	// loaded and defaulted but nothing in the core reads it; plugins are
	// started from Commands at startup, not per chat line.
	CommandPrefix string   `toml:"command_prefix"`
	Channels      []string `toml:"channels"`

	// Commands maps an invocation word to the executable path a plugin is
	// spawned from.
	Commands map[string]string `toml:"commands"`

	// ServerPassword, if set, would be sent as PASS before NICK/USER.
	// Not wired into the connect sequence; carried for a future
	// collaborator along with TLS.
	ServerPassword string `toml:"server_password"`

	// SASLPassword is deliberately unused: the session treats any SASL
	// numeric (902-906) as fatal rather than attempting SASL auth.
	SASLPassword string `toml:"sasl_password"`

	// NickservPassword, if set, is sent once via "PRIVMSG NickServ
	// :IDENTIFY <password>" the first time the session reaches Ready.
	NickservPassword string `toml:"nickserv_password"`

	// InviteFile is accepted for forward compatibility with an
	// auto-invite-channel feature; nothing currently reads it.
	InviteFile string `toml:"invite_file"`
}

func defaults() Config {
	return Config{
		Port:          6667,
		TLS:           false,
		CommandPrefix: ".!",
		Commands:      map[string]string{},
	}
}

// Load reads and parses the TOML file at path, applying defaults for any
// field the file leaves unset.
func Load(path string) (*Config, error) {
	cfg := defaults()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, errors.Wrapf(err, "loading config from %s", path)
	}
	if cfg.Nick == "" {
		return nil, errors.New("config: nick is required")
	}
	if cfg.Server == "" {
		return nil, errors.New("config: server is required")
	}
	return &cfg, nil
}

// Reload re-parses the file at path into a fresh Config, leaving the
// receiver untouched on error so a bad SIGUSR1/2 reload can't tear down a
// running session.
func (c *Config) Reload(path string) (*Config, error) {
	return Load(path)
}

// ConnectString returns the "host:port" form eventloop's dialer expects.
func (c *Config) ConnectString() string {
	port := c.Port
	if port == 0 {
		port = 6667
	}
	return c.Server + ":" + strconv.Itoa(port)
}
