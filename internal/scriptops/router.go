package scriptops

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/KafClaw/scriptdesk/internal/bus"
)

// Option configures a Router.
type Option func(*Router)

// WithErrorHandler sets the callback failures are reported to. The default
// logs at ERROR.
func WithErrorHandler(h ErrorHandler) Option {
	return func(r *Router) {
		if h != nil {
			r.onError = h
		}
	}
}

// WithLineSplitter installs the pre-append hook.
func WithLineSplitter(s LineSplitter) Option {
	return func(r *Router) { r.splitter = s }
}

// WithAnalysisRenderer installs the renderer analyses are forwarded to.
func WithAnalysisRenderer(a AnalysisRenderer) Option {
	return func(r *Router) { r.renderer = a }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// Router dispatches assistant responses by intent.
type Router struct {
	orch      Orchestrator
	bus       *bus.Bus
	splitter  LineSplitter
	renderer  AnalysisRenderer
	onError   ErrorHandler
	logger    *slog.Logger
	contracts contracts
}

// NewRouter creates a router that forwards to orch and publishes on b.
func NewRouter(orch Orchestrator, b *bus.Bus, opts ...Option) (*Router, error) {
	if orch == nil {
		return nil, fmt.Errorf("%w: orchestrator", ErrMissingDependency)
	}
	if b == nil {
		return nil, fmt.Errorf("%w: notification bus", ErrMissingDependency)
	}
	cs, err := loadContracts()
	if err != nil {
		return nil, err
	}

	r := &Router{orch: orch, bus: b, logger: slog.Default(), contracts: cs}
	for _, opt := range opts {
		opt(r)
	}
	if r.onError == nil {
		r.onError = func(err error, label string) {
			r.logger.Error("ScriptOps: intent failed", "context", label, "error", err)
		}
	}
	return r, nil
}

// HandleIntent applies env. It never panics and never returns an error;
// failures go to the error handler.
func (r *Router) HandleIntent(ctx context.Context, env Envelope) {
	label := "scriptops:" + string(env.Intent)
	defer func() {
		if p := recover(); p != nil {
			r.onError(fmt.Errorf("scriptops: panic: %v", p), label)
		}
	}()

	var err error
	switch env.Intent {
	case IntentEdit, IntentWrite:
		err = r.edit(ctx, env)
	case IntentAnalyze:
		err = r.analyze(ctx, env)
	case IntentAppend:
		err = r.append(ctx, env)
	default:
		r.logger.Debug("ScriptOps: ignoring intent", "intent", env.Intent)
		return
	}
	if err != nil {
		r.onError(err, label)
	}
}

type editPayload struct {
	Content       string          `json:"content"`
	Commands      json.RawMessage `json:"commands"`
	VersionNumber int             `json:"versionNumber"`
}

func (r *Router) edit(ctx context.Context, env Envelope) error {
	var p editPayload
	if isAbsent(env.Response) {
		r.logger.Warn("ScriptOps: edit without content", "intent", env.Intent)
		return nil
	}
	if err := json.Unmarshal(env.Response, &p.Content); err != nil {
		// Not a bare string: decode the object form.
		p.Content = ""
		if err := json.Unmarshal(env.Response, &p); err != nil {
			return fmt.Errorf("decode edit response: %w", err)
		}
	}
	if strings.TrimSpace(p.Content) == "" {
		r.logger.Warn("ScriptOps: edit without content", "intent", env.Intent)
		return nil
	}

	return r.orch.HandleScriptEdit(ctx, EditCommand{
		Content:       p.Content,
		IsFromEdit:    true,
		VersionNumber: p.VersionNumber,
		Commands:      p.Commands,
	})
}

func (r *Router) analyze(ctx context.Context, env Envelope) error {
	if isAbsent(env.Response) {
		return ErrMissingResponse
	}
	var analysis any
	if err := json.Unmarshal(env.Response, &analysis); err != nil {
		return fmt.Errorf("decode analysis: %w", err)
	}
	if r.renderer != nil {
		if err := r.renderer.RenderAnalysis(ctx, analysis); err != nil {
			return fmt.Errorf("render analysis: %w", err)
		}
	}
	r.bus.Publish(bus.AnalysisComplete{Analysis: analysis})
	return nil
}

func (r *Router) append(ctx context.Context, env Envelope) error {
	if isAbsent(env.Response) {
		return ErrMissingResponse
	}
	text, err := r.contracts.decodeAppend(env.Response)
	if err != nil {
		return err
	}

	if line, position, ok := lineTarget(text); ok {
		r.logger.Info("ScriptOps: routing append as line insertion", "line", line, "position", position)
		r.bus.Publish(bus.LineInsertion{Content: Sanitize(text), Line: line, Position: position})
		return nil
	}

	content := Sanitize(text)
	if content == "" {
		r.logger.Warn("ScriptOps: append blocked, empty output")
		r.bus.Publish(bus.AppendBlocked{Reason: "empty output", Intent: string(env.Intent)})
		return nil
	}
	if r.splitter != nil {
		content = r.splitter.SplitLongAILines(content)
	}
	return r.orch.HandleScriptAppend(ctx, AppendCommand{Content: content, IsFromAppend: true})
}

func isAbsent(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}
