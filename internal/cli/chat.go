package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/KafClaw/scriptdesk/internal/assistant"
	"github.com/KafClaw/scriptdesk/internal/bus"
	"github.com/KafClaw/scriptdesk/internal/scriptops"
)

func newChatCmd(flags *globalFlags) *cobra.Command {
	var docPath string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the assistant about a script",
		Long: "Reads one message per line from stdin. Script operations in the\n" +
			"assistant's replies are applied to the document given by --doc.\n" +
			"Type /clear to wipe the history of the script, /quit to leave.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			if cfg.Assistant.Endpoint == "" {
				return fmt.Errorf("assistant.endpoint is not configured")
			}
			ctx := cmd.Context()
			s, err := openSession(ctx, cfg)
			if err != nil {
				return err
			}
			defer s.close()

			out := cmd.OutOrStdout()
			unsub := announceScriptEvents(s.bus, out)
			defer unsub()

			router, err := scriptops.NewRouter(&fileDocument{path: docPath}, s.bus,
				scriptops.WithErrorHandler(func(err error, label string) {
					fmt.Fprintf(out, "%s %s: %v\n", color.RedString("✗"), label, err)
				}),
			)
			if err != nil {
				return err
			}
			backend := assistant.NewHTTPBackend(cfg.Assistant.Endpoint, cfg.Assistant.Token, cfg.Assistant.Timeout())
			svc := assistant.NewService(s.history, s.stores, backend, router, nil)

			printHeader(out, fmt.Sprintf("Script %s as %s", cfg.Identity.ScriptID, cfg.Identity.UserID))
			for _, m := range s.history.GetCurrentScriptHistory() {
				printMessage(out, m)
			}
			return chatLoop(ctx, cmd.InOrStdin(), out, svc, func() bool {
				return s.history.ClearScriptHistory(ctx, cfg.Identity.ScriptID)
			})
		},
	}
	cmd.Flags().StringVar(&docPath, "doc", "script.txt", "script document that edits and appends are applied to")
	return cmd
}

func chatLoop(ctx context.Context, in io.Reader, out io.Writer, svc *assistant.Service, clearHistory func() bool) error {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for {
		fmt.Fprint(out, color.CyanString("> "))
		if !sc.Scan() {
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/clear":
			if clearHistory() {
				fmt.Fprintln(out, color.GreenString("History cleared."))
			} else {
				fmt.Fprintln(out, color.RedString("Could not clear history."))
			}
			continue
		}

		reply, err := svc.Send(ctx, line)
		if err != nil && !errors.Is(err, context.Canceled) {
			fmt.Fprintf(out, "%s %v\n", color.RedString("✗"), err)
			continue
		}
		if err != nil {
			return err
		}
		printMessage(out, reply)
	}
}

// announceScriptEvents prints router notifications that have no other
// surface in a terminal.
func announceScriptEvents(b *bus.Bus, out io.Writer) func() {
	unsubs := []func(){
		bus.On(b, func(ev bus.AppendBlocked) {
			fmt.Fprintf(out, "%s The assistant produced no usable script content (%s).\n", color.YellowString("!"), ev.Reason)
		}),
		bus.On(b, func(ev bus.LineInsertion) {
			fmt.Fprintf(out, "%s Insertion %s line %d:\n%s\n", color.YellowString("↳"), ev.Position, ev.Line, ev.Content)
		}),
		bus.On(b, func(ev bus.AnalysisComplete) {
			data, err := json.MarshalIndent(ev.Analysis, "", "  ")
			if err != nil {
				data = []byte(fmt.Sprint(ev.Analysis))
			}
			fmt.Fprintf(out, "%s\n%s\n", color.MagentaString("Analysis"), data)
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// fileDocument applies script operations to a plain text file.
type fileDocument struct {
	mu   sync.Mutex
	path string
}

func (d *fileDocument) HandleScriptEdit(_ context.Context, cmd scriptops.EditCommand) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	content := cmd.Content
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(d.path, []byte(content), 0o644)
}

func (d *fileDocument) HandleScriptAppend(_ context.Context, cmd scriptops.AppendCommand) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, err := os.OpenFile(d.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(cmd.Content + "\n"); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
