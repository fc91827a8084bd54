// Command chatsession is a terminal client for the realtime chat session:
// it streams live events and sends typing, read, presence and chat frames.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	logLevel  string
	logJSON   bool
	transport string
)

var rootCmd = &cobra.Command{
	Use:   "chatsession",
	Short: "Realtime chat session CLI",
	Long: "Command-line client for the realtime chat session.\n" +
		"Stream live events with 'listen', or send single frames with 'send', 'typing', 'read' and 'presence'.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger(logLevel, logJSON)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	flags.BoolVar(&logJSON, "log-json", false, "Log as JSON lines on stderr")
	flags.StringVar(&transport, "transport", "", "Websocket implementation: nhooyr or gorilla (overrides server.transport)")
}

// newLogger builds the stderr logger every command logs through.
func newLogger(level string, asJSON bool) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if asJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
