package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/KafClaw/scriptdesk/internal/api"
	"github.com/KafClaw/scriptdesk/internal/bus"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat history API backed by SQLite",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			if port > 0 {
				cfg.Server.Port = port
			}

			tl, err := openTimeline(cfg.Store.Path)
			if err != nil {
				return err
			}
			defer tl.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			events := bus.New()
			stopKafka := startKafkaSink(ctx, cfg.Kafka, events)
			defer stopKafka()
			defer stopBus(events)

			addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
			server := &http.Server{
				Addr:              addr,
				Handler:           api.NewRouter(tl, events, cfg.Server.AuthToken, slog.Default()),
				ReadHeaderTimeout: 10 * time.Second,
			}

			printHeader(cmd.OutOrStdout(), "History API")
			fmt.Fprintf(cmd.OutOrStdout(), "Listening on http://%s\n", addr)
			if cfg.Server.AuthToken == "" {
				slog.Warn("Serve: no auth token configured, API is open")
			}

			errCh := make(chan error, 1)
			go func() { errCh <- server.ListenAndServe() }()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server failed: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			slog.Info("Serve: shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides server.port)")
	return cmd
}
