package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/KafClaw/scriptdesk/internal/bus"
	"github.com/KafClaw/scriptdesk/internal/chathistory"
	"github.com/KafClaw/scriptdesk/internal/config"
	"github.com/KafClaw/scriptdesk/internal/historystore"
	"github.com/KafClaw/scriptdesk/internal/identity"
	"github.com/KafClaw/scriptdesk/internal/timeline"
)

// openStores returns the history directory selected by cfg.Store.Driver and a
// function releasing it.
func openStores(cfg config.StoreConfig) (historystore.Directory, func() error, error) {
	noop := func() error { return nil }
	switch strings.ToLower(cfg.Driver) {
	case "", config.DriverSQLite:
		tl, err := openTimeline(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return tl.Directory(), tl.Close, nil
	case config.DriverHTTP:
		if cfg.BaseURL == "" {
			return nil, nil, fmt.Errorf("store.baseUrl is required for the http driver")
		}
		return historystore.DirectoryFunc(func(userID string) historystore.Store {
			return historystore.NewRemote(cfg.BaseURL, cfg.Token, userID, cfg.Timeout())
		}), noop, nil
	case config.DriverMemory:
		return historystore.NewMemory().Directory(), noop, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func openTimeline(path string) (*timeline.TimelineService, error) {
	path, err := config.ExpandHome(path)
	if err != nil {
		return nil, err
	}
	if err := config.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, err
	}
	tl, err := timeline.NewTimelineService(path)
	if err != nil {
		return nil, fmt.Errorf("open history database %s: %w", path, err)
	}
	return tl, nil
}

// session is a Coordinator bound to the identity named in the config.
type session struct {
	ids     *identity.State
	bus     *bus.Bus
	history *chathistory.Coordinator
	stores  historystore.Directory
	close   func()
}

func openSession(ctx context.Context, cfg *config.Config) (*session, error) {
	if cfg.Identity.UserID == "" {
		return nil, fmt.Errorf("no author selected: pass --user or set identity.userId")
	}
	if cfg.Identity.ScriptID == "" {
		return nil, fmt.Errorf("no script selected: pass --script or set identity.scriptId")
	}

	stores, closeStores, err := openStores(cfg.Store)
	if err != nil {
		return nil, err
	}
	b := bus.New()
	stopKafka := startKafkaSink(ctx, cfg.Kafka, b)

	ids := identity.NewState()
	ids.SetUser(&identity.User{ID: cfg.Identity.UserID})
	history, err := chathistory.New(stores, ids, b,
		chathistory.WithMaxMessages(cfg.History.MaxMessages),
		chathistory.WithMaxEntries(cfg.History.MaxEntries),
		chathistory.WithLogger(slog.Default()),
	)
	if err != nil {
		stopKafka()
		_ = closeStores()
		return nil, err
	}

	s := &session{ids: ids, bus: b, history: history, stores: stores}
	s.close = func() {
		history.Destroy()
		history.Wait()
		stopBus(b)
		stopKafka()
		if err := closeStores(); err != nil {
			slog.Warn("CLI: closing history store failed", "error", err)
		}
	}
	ids.SetScript(&identity.Script{ID: cfg.Identity.ScriptID})
	history.Wait()
	return s, nil
}

// stopBus closes b to further events so that nothing is published into a
// sink that is shutting down.
func stopBus(b *bus.Bus) {
	if n := b.Pending(); n > 0 {
		slog.Warn("CLI: discarding undelivered events", "events", n)
	}
	b.Stop()
}

// startKafkaSink mirrors bus events to Kafka when enabled. The returned
// function stops the sink.
func startKafkaSink(ctx context.Context, cfg config.KafkaConfig, b *bus.Bus) func() {
	brokers := cfg.BrokerList()
	if !cfg.Enabled || len(brokers) == 0 || cfg.Topic == "" {
		return func() {}
	}

	sink := bus.NewKafkaSink(bus.NewKafkaWriter(strings.Join(brokers, ","), cfg.Topic), cfg.Source, cfg.BufferSize)
	detach := sink.Attach(b)
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sink.Run(ctx)
	}()
	slog.Info("CLI: mirroring events to Kafka", "topic", cfg.Topic, "brokers", brokers)

	return func() {
		detach()
		cancel()
		<-done
		if n := sink.Dropped(); n > 0 {
			slog.Warn("CLI: Kafka sink dropped events", "dropped", n)
		}
		if err := sink.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "kafka writer close: %v\n", err)
		}
	}
}
