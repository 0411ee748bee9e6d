package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KafClaw/scriptdesk/internal/bus"
	"github.com/KafClaw/scriptdesk/internal/chat"
	"github.com/KafClaw/scriptdesk/internal/chathistory"
	"github.com/KafClaw/scriptdesk/internal/historystore"
	"github.com/KafClaw/scriptdesk/internal/identity"
	"github.com/KafClaw/scriptdesk/internal/scriptops"
)

type stubBackend struct {
	reply Reply
	err   error
	got   []Request
}

func (b *stubBackend) Complete(_ context.Context, req Request) (Reply, error) {
	b.got = append(b.got, req)
	return b.reply, b.err
}

type recordingOrchestrator struct {
	appends []scriptops.AppendCommand
}

func (o *recordingOrchestrator) HandleScriptEdit(context.Context, scriptops.EditCommand) error {
	return nil
}

func (o *recordingOrchestrator) HandleScriptAppend(_ context.Context, cmd scriptops.AppendCommand) error {
	o.appends = append(o.appends, cmd)
	return nil
}

type setup struct {
	mem     *historystore.Memory
	history *chathistory.Coordinator
	orch    *recordingOrchestrator
	backend *stubBackend
	svc     *Service
}

func newSetup(t *testing.T) *setup {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ids := identity.NewState()
	ids.SetUser(&identity.User{ID: "writer"})
	b := bus.New()
	mem := historystore.NewMemory()

	history, err := chathistory.New(mem.Directory(), ids, b, chathistory.WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(history.Destroy)
	history.LoadScriptHistory(context.Background(), "pilot")

	orch := &recordingOrchestrator{}
	router, err := scriptops.NewRouter(orch, b, scriptops.WithLogger(logger))
	require.NoError(t, err)

	backend := &stubBackend{}
	return &setup{
		mem:     mem,
		history: history,
		orch:    orch,
		backend: backend,
		svc:     NewService(history, mem.Directory(), backend, router, logger),
	}
}

func TestSendRecordsAndPersistsBothTurns(t *testing.T) {
	s := newSetup(t)
	s.backend.reply = Reply{Text: "Try a cold open."}

	answer, err := s.svc.Send(context.Background(), "How should it start?")
	require.NoError(t, err)
	assert.Equal(t, chat.TypeAssistant, answer.Type)

	got := s.history.GetCurrentScriptHistory()
	require.Len(t, got, 2)
	assert.Equal(t, "How should it start?", got[0].Body())
	assert.Equal(t, "Try a cold open.", got[1].Body())

	stored, err := s.mem.ForUser("writer").GetMessages(context.Background(), "pilot")
	require.NoError(t, err)
	assert.Equal(t, got, stored)

	require.Len(t, s.backend.got, 1)
	assert.Equal(t, "pilot", s.backend.got[0].ScriptID)
	assert.Len(t, s.backend.got[0].History, 1)
}

func TestSendRoutesScriptOperations(t *testing.T) {
	s := newSetup(t)
	s.backend.reply = Reply{
		Intent:   scriptops.IntentAppend,
		Response: json.RawMessage(`{"formattedScript":"<action>The  door opens.</action>"}`),
	}

	answer, err := s.svc.Send(context.Background(), "Add a beat")
	require.NoError(t, err)
	assert.Equal(t, scriptUpdateText, answer.Body())
	assert.Equal(t, "APPEND_SCRIPT", answer.Metadata["intent"])

	require.Len(t, s.orch.appends, 1)
	assert.Equal(t, "<action>The door opens.</action>", s.orch.appends[0].Content)
}

func TestSendRecordsBackendFailure(t *testing.T) {
	s := newSetup(t)
	s.backend.err = errors.New("model overloaded")

	msg, err := s.svc.Send(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, chat.TypeError, msg.Type)

	got := s.history.GetCurrentScriptHistory()
	require.Len(t, got, 2)
	assert.Equal(t, chat.TypeError, got[1].Type)
	assert.Contains(t, got[1].Body(), "model overloaded")
}

func TestSendRequiresScopeAndText(t *testing.T) {
	s := newSetup(t)
	_, err := s.svc.Send(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	s.history.HandleUserChange(context.Background(), nil)
	_, err = s.svc.Send(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrNoScope)
	assert.Empty(t, s.backend.got)
}

func TestHTTPBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "pilot", req.ScriptID)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":"ok","intent":"ANALYZE_SCRIPT","response":{"tone":"dark"}}`))
	}))
	defer srv.Close()

	backend := NewHTTPBackend(srv.URL, "key", 5*time.Second)
	reply, err := backend.Complete(context.Background(), Request{ScriptID: "pilot", Message: "analyze"})
	require.NoError(t, err)
	assert.Equal(t, "ok", reply.Text)
	assert.Equal(t, scriptops.IntentAnalyze, reply.Intent)
	assert.JSONEq(t, `{"tone":"dark"}`, string(reply.Response))
}

func TestHTTPBackendReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewHTTPBackend(srv.URL, "", time.Second).Complete(context.Background(), Request{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

// gatedStore holds GetMessages for one script until release is closed.
type gatedStore struct {
	*historystore.MemoryStore
	script  string
	release chan struct{}
}

func (g gatedStore) GetMessages(ctx context.Context, scriptID string) ([]chat.Message, error) {
	if scriptID == g.script {
		<-g.release
	}
	return g.MemoryStore.GetMessages(ctx, scriptID)
}

func TestSendDuringScriptSwitchStaysOnSelectedScript(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mem := historystore.NewMemory()
	release := make(chan struct{})
	stores := historystore.DirectoryFunc(func(userID string) historystore.Store {
		return gatedStore{MemoryStore: mem.ForUser(userID), script: "sequel", release: release}
	})
	ids := identity.NewState()
	ids.SetUser(&identity.User{ID: "writer"})
	history, err := chathistory.New(stores, ids, bus.New(), chathistory.WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(history.Destroy)

	ids.SetScript(&identity.Script{ID: "pilot"})
	history.Wait()
	ids.SetScript(&identity.Script{ID: "sequel"})
	require.Equal(t, "pilot", history.CurrentScriptID(), "sequel is still loading")

	backend := &stubBackend{reply: Reply{Text: "Noted."}}
	svc := NewService(history, stores, backend, nil, logger)
	answer, err := svc.Send(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "sequel", answer.ScriptID)

	require.Len(t, backend.got, 1)
	assert.Equal(t, "sequel", backend.got[0].ScriptID)
	require.Len(t, backend.got[0].History, 1)
	assert.Equal(t, "hi", backend.got[0].History[0].Body())

	close(release)
	history.Wait()

	assert.Empty(t, history.GetScriptHistory("pilot"))
	cached := history.GetCurrentScriptHistory()
	require.Len(t, cached, 2)
	for _, m := range cached {
		assert.Equal(t, "sequel", m.ScriptID)
	}

	stored, err := mem.ForUser("writer").GetMessages(context.Background(), "sequel")
	require.NoError(t, err)
	assert.Equal(t, cached, stored)
	pilot, err := mem.ForUser("writer").GetMessages(context.Background(), "pilot")
	require.NoError(t, err)
	assert.Empty(t, pilot)
}
