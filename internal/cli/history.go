package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/KafClaw/scriptdesk/internal/chat"
)

func newHistoryCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect or clear the chat history of a script",
	}
	cmd.AddCommand(newHistoryShowCmd(flags), newHistoryClearCmd(flags))
	return cmd
}

func newHistoryShowCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show [script]",
		Short: "Print the chat history of a script",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				cfg.Identity.ScriptID = args[0]
			}
			s, err := openSession(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer s.close()

			msgs := s.history.GetCurrentScriptHistory()
			out := cmd.OutOrStdout()
			if len(msgs) == 0 {
				fmt.Fprintf(out, "No chat history for script %s.\n", cfg.Identity.ScriptID)
				return nil
			}
			for _, m := range msgs {
				printMessage(out, m)
			}
			return nil
		},
	}
}

func newHistoryClearCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "clear [script]",
		Short: "Delete the chat history of a script",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				cfg.Identity.ScriptID = args[0]
			}
			s, err := openSession(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer s.close()

			if !s.history.ClearScriptHistory(cmd.Context(), cfg.Identity.ScriptID) {
				return fmt.Errorf("could not clear history of script %s", cfg.Identity.ScriptID)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Cleared chat history of script %s\n", color.GreenString("✓"), cfg.Identity.ScriptID)
			return nil
		},
	}
}

func printMessage(w io.Writer, m chat.Message) {
	label := string(m.Type)
	switch m.Type {
	case chat.TypeUser:
		label = color.CyanString("you")
	case chat.TypeAssistant, chat.TypeAI:
		label = color.MagentaString("assistant")
	case chat.TypeError:
		label = color.RedString("error")
	case "":
		label = color.YellowString("?")
	}
	stamp := ""
	if !m.Timestamp.IsZero() {
		if t, ok := m.Timestamp.Time(); ok {
			stamp = t.Local().Format("2006-01-02 15:04") + " "
		}
	}
	fmt.Fprintf(w, "%s%s: %s\n", stamp, label, m.Body())
}
