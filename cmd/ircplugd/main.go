// Command ircplugd connects a single IRC session, starts one plugin
// process per configured command, and folds each plugin's stdout back
// onto the wire as outbound lines. Chat lines are not dispatched to
// plugins.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/inconshreveable/log15"
	"github.com/spf13/cobra"

	"github.com/hlandau/ircplug/config"
	"github.com/hlandau/ircplug/eventloop"
)

var (
	flagConfig    string
	flagLogOutput string
	flagTimestamp bool
)

func main() {
	root := &cobra.Command{
		Use:           "ircplugd",
		Short:         "A single-connection IRC client with out-of-process plugin commands",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	root.Flags().StringVarP(&flagConfig, "config", "c", "./ircplug.toml", "path to the TOML config file")
	root.Flags().StringVarP(&flagLogOutput, "log-output", "o", "", "log file path (default: stderr)")
	root.Flags().BoolVarP(&flagTimestamp, "timestamp", "t", false, "include timestamps in log output")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	logger := buildLogger()

	cfg, err := config.Load(flagConfig)
	if err != nil {
		logger.Error("loading config", "err", err.Error())
		os.Exit(1)
	}

	loop, err := eventloop.New(cfg, flagConfig, logger)
	if err != nil {
		logger.Error("starting event loop", "err", err.Error())
		os.Exit(1)
	}
	defer loop.Close()

	for invocation, executable := range cfg.Commands {
		if err := loop.SpawnPlugin(executable, nil); err != nil {
			logger.Warn("failed to spawn plugin, skipping", "command", invocation, "executable", executable, "err", err.Error())
		}
	}

	reason, runErr := loop.Run()
	switch reason {
	case eventloop.ExitClean:
		return nil
	case eventloop.ExitConnectError:
		logger.Error("connection error", "err", errString(runErr))
		os.Exit(1)
	case eventloop.ExitProtocolError:
		logger.Error("protocol error", "err", errString(runErr))
		fmt.Fprintln(os.Stdout, errString(runErr))
		os.Exit(1)
	}
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func buildLogger() log15.Logger {
	logger := log15.New()

	format := log15.LogfmtFormat()
	if flagLogOutput == "" {
		format = log15.TerminalFormat()
	}
	if !flagTimestamp {
		format = withoutTimestamp(format)
	}

	var handler log15.Handler
	if flagLogOutput == "" {
		handler = log15.StreamHandler(os.Stderr, format)
	} else {
		fileHandler, err := log15.FileHandler(flagLogOutput, format)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ircplugd: could not open log file %s: %v\n", flagLogOutput, err)
			fileHandler = log15.StreamHandler(os.Stderr, format)
		}
		handler = fileHandler
	}

	logger.SetHandler(log15.LvlFilterHandler(log15.LvlDebug, handler))
	return logger
}

// withoutTimestamp zeroes a record's Time before handing it to inner, so
// with -t=false every line carries the same zero time instead of the
// wall-clock time. The time field itself is still printed.
func withoutTimestamp(inner log15.Format) log15.Format {
	return log15.FormatFunc(func(r *log15.Record) []byte {
		r.Time = time.Time{}
		return inner.Format(r)
	})
}
