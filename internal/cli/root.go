// Package cli implements the scriptdesk command line.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/KafClaw/scriptdesk/internal/config"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/KafClaw/scriptdesk/internal/cli.version=1.2.3"
	version = "0.4.0"
	logo    = "\n" +
		"  ___         _      _      _         _   \n" +
		" / __| __ _ _(_)_ __| |_ __| |___ ___| |__\n" +
		" \\__ \\/ _| '_| | '_ \\  _/ _` / -_|_-<| / /\n" +
		" |___/\\__|_| |_| .__/\\__\\__,_\\___/__/|_\\_\\\n" +
		"               |_|\n"
)

// globalFlags are shared by every command.
type globalFlags struct {
	configPath string
	userID     string
	scriptID   string
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "scriptdesk",
		Short:         "scriptdesk - screenplay co-writing assistant",
		Long:          color.CyanString(logo) + "\nPer-script chat history and assistant script operations.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file (default ~/.scriptdesk/config.json)")
	root.PersistentFlags().StringVarP(&flags.userID, "user", "u", "", "author id (overrides identity.userId)")
	root.PersistentFlags().StringVarP(&flags.scriptID, "script", "s", "", "script id (overrides identity.scriptId)")

	root.AddCommand(
		newVersionCmd(),
		newServeCmd(flags),
		newHistoryCmd(flags),
		newSanitizeCmd(),
		newChatCmd(flags),
	)
	return root
}

// Execute runs the root command.
func Execute() error {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error: %v", err))
		return err
	}
	return nil
}

// loadConfig reads the configuration, applies the global flags and installs
// the slog handler.
func loadConfig(cmd *cobra.Command, flags *globalFlags) (*config.Config, error) {
	if flags.configPath != "" {
		if err := os.Setenv("SCRIPTDESK_CONFIG", flags.configPath); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if flags.userID != "" {
		cfg.Identity.UserID = flags.userID
	}
	if flags.scriptID != "" {
		cfg.Identity.ScriptID = flags.scriptID
	}
	slog.SetDefault(newLogger(cmd.ErrOrStderr(), cfg.Log))
	return cfg, nil
}

func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}

func printHeader(w io.Writer, title string) {
	fmt.Fprintln(w, color.CyanString(logo))
	if title != "" {
		fmt.Fprintln(w, title)
		fmt.Fprintln(w, "─────────────────────")
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "scriptdesk %s\n", version)
		},
	}
}
