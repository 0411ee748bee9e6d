package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KafClaw/scriptdesk/internal/bus"
	"github.com/KafClaw/scriptdesk/internal/chat"
	"github.com/KafClaw/scriptdesk/internal/config"
	"github.com/KafClaw/scriptdesk/internal/timeline"
)

// sandbox isolates config lookup and points the sqlite driver at a temp db.
func sandbox(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("SCRIPTDESK_HOME", "")
	t.Setenv("SCRIPTDESK_CONFIG", "")
	t.Setenv("SCRIPTDESK_ENV_FILE", "")
	t.Setenv("SCRIPTDESK_LOG_LEVEL", "error")
	dbPath := filepath.Join(dir, "history.db")
	t.Setenv("SCRIPTDESK_STORE_PATH", dbPath)
	return dbPath
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	color.NoColor = true
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func seed(t *testing.T, dbPath, userID, scriptID string, msgs ...chat.Message) {
	t.Helper()
	tl, err := timeline.NewTimelineService(dbPath)
	require.NoError(t, err)
	defer tl.Close()
	require.NoError(t, tl.Append(context.Background(), userID, scriptID, msgs))
}

func TestVersion(t *testing.T) {
	out, err := run(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "scriptdesk "+version)
}

func TestSanitizeFromStdin(t *testing.T) {
	out, err := run(t, "<speaker>JOHN</speaker>  <dialog>  hi   there </dialog>\n\n<chapter-break/>\n", "sanitize")
	require.NoError(t, err)
	assert.Equal(t, "<speaker>JOHN</speaker>\n<dialog>hi there</dialog>\n<chapter-break></chapter-break>\n", out)
}

func TestSanitizeRejectsEmptyOutput(t *testing.T) {
	_, err := run(t, " \n\t\n", "sanitize")
	assert.Error(t, err)
}

func TestHistoryShowAndClear(t *testing.T) {
	dbPath := sandbox(t)
	seed(t, dbPath, "writer", "pilot",
		chat.Message{ID: "1", Text: "Where does act two start?", Type: chat.TypeUser},
		chat.Message{ID: "2", Text: "At the train station.", Type: chat.TypeAI},
	)

	out, err := run(t, "", "history", "show", "pilot", "--user", "writer")
	require.NoError(t, err)
	assert.Contains(t, out, "Where does act two start?")
	assert.Contains(t, out, "assistant: At the train station.")

	out, err = run(t, "", "history", "show", "pilot", "--user", "someone-else")
	require.NoError(t, err)
	assert.Contains(t, out, "No chat history for script pilot")

	_, err = run(t, "", "history", "clear", "--script", "pilot", "--user", "writer")
	require.NoError(t, err)

	out, err = run(t, "", "history", "show", "pilot", "--user", "writer")
	require.NoError(t, err)
	assert.Contains(t, out, "No chat history for script pilot")
}

func TestHistoryRequiresIdentity(t *testing.T) {
	sandbox(t)
	_, err := run(t, "", "history", "show", "pilot")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--user")
}

func TestChatAppliesAppendsToDocument(t *testing.T) {
	dbPath := sandbox(t)
	assistantSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		if req.Message == "add a beat" {
			_, _ = w.Write([]byte(`{"message":"Added.","intent":"APPEND_SCRIPT","response":{"formattedScript":"<action>The  lights  flicker.</action>"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"message":"Sure."}`))
	}))
	defer assistantSrv.Close()
	t.Setenv("SCRIPTDESK_ASSISTANT_ENDPOINT", assistantSrv.URL)

	doc := filepath.Join(t.TempDir(), "pilot.txt")
	out, err := run(t, "hello\nadd a beat\n/quit\n", "chat", "--user", "writer", "--script", "pilot", "--doc", doc)
	require.NoError(t, err)
	assert.Contains(t, out, "Sure.")
	assert.Contains(t, out, "Added.")

	data, err := os.ReadFile(doc)
	require.NoError(t, err)
	assert.Equal(t, "<action>The lights flicker.</action>\n", string(data))

	tl, err := timeline.NewTimelineService(dbPath)
	require.NoError(t, err)
	defer tl.Close()
	stored, err := tl.Messages(context.Background(), "writer", "pilot")
	require.NoError(t, err)
	assert.Len(t, stored, 4)
}

func TestOpenStoresRejectsUnknownDriver(t *testing.T) {
	sandbox(t)
	t.Setenv("SCRIPTDESK_STORE_DRIVER", "etcd")
	_, err := run(t, "", "history", "show", "pilot", "--user", "writer")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown store driver")
}

func TestSessionCloseStopsBus(t *testing.T) {
	sandbox(t)
	t.Setenv("SCRIPTDESK_STORE_DRIVER", "memory")
	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.Identity.UserID, cfg.Identity.ScriptID = "writer", "pilot"

	s, err := openSession(context.Background(), cfg)
	require.NoError(t, err)
	delivered := 0
	bus.On(s.bus, func(bus.HistoryCleared) { delivered++ })

	s.bus.Enqueue(bus.HistoryCleared{ScriptID: "pilot"})
	s.close()
	s.bus.Drain()
	s.bus.Publish(bus.HistoryCleared{ScriptID: "pilot"})

	assert.Zero(t, delivered)
	assert.Zero(t, s.bus.Pending())
}
