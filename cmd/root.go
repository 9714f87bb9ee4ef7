package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/fakeyudi/pocketcode/internal/config"
	"github.com/fakeyudi/pocketcode/internal/logging"
	"github.com/fakeyudi/pocketcode/internal/opencode"
	"github.com/fakeyudi/pocketcode/internal/project"
	"github.com/fakeyudi/pocketcode/internal/tui"
)

// tuiAnnotation marks commands that take over the terminal. Their logs go to
// a file instead of stderr.
const tuiAnnotation = "tui"

// cfg holds the merged configuration, populated in PersistentPreRunE.
var cfg config.Config

var (
	logger    = zerolog.Nop()
	logCloser io.Closer
	store     project.Store
)

var rootCmd = &cobra.Command{
	Use:           "pocketcode",
	Short:         "Drive opencode agent servers from the terminal",
	Long:          "pocketcode pairs with opencode servers, lists their sessions and chats with the agent,\nreviewing its tool calls and answering permission requests as they stream in.",
	Annotations:   map[string]string{tuiAnnotation: "true"},
	SilenceUsage:  true,
	Args:          cobra.NoArgs,
	RunE:          runUI,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = c

		if cmd.Annotations[tuiAnnotation] != "" {
			logger, logCloser, err = logging.File(cfg.LogFile, cfg.LogLevel)
		} else {
			logger, err = logging.Console(cmd.ErrOrStderr(), cfg.LogLevel)
		}
		if err != nil {
			return fmt.Errorf("setting up logging: %w", err)
		}

		dir := cfg.DataDir
		if dir == "" {
			if dir, err = project.DefaultDir(); err != nil {
				return fmt.Errorf("resolving data directory: %w", err)
			}
		}
		store, err = project.NewStore(dir, logger)
		if err != nil {
			return fmt.Errorf("opening project store: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
			logCloser = nil
		}
	},
}

// Execute runs the root command. Exits with code 1 on error.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

// GetConfig returns the merged configuration for use by subcommands.
func GetConfig() config.Config {
	return cfg
}

// clientFor builds the API client of p with credentials parsed from its
// auth token.
func clientFor(p project.Project) (*opencode.Client, error) {
	return opencode.NewClient(p.URL, opencode.ParseCredentials(p.AuthToken),
		opencode.WithLogger(logger.With().Str("project", p.Name).Logger()))
}

func tuiOptions() tui.Options {
	return tui.Options{Store: store, Config: cfg, Log: logger, Dial: clientFor}
}
