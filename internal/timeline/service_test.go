package timeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KafClaw/scriptdesk/internal/chat"
)

func newTestTimeline(t *testing.T) *TimelineService {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "timeline.db")
	svc, err := NewTimelineService(dbPath)
	if err != nil {
		t.Fatalf("failed to create timeline service: %v", err)
	}
	t.Cleanup(func() {
		_ = svc.Close()
		_ = os.RemoveAll(dir)
	})
	return svc
}

func TestAppendAndReadPreservesOrderAndShape(t *testing.T) {
	svc := newTestTimeline(t)
	ctx := context.Background()

	msgs, err := chat.ParseMessages([]byte(`[
		{"id":1,"message":"Script 1 message 1","type":"user","timestamp":"2023-01-01T00:00:00Z"},
		{"id":2,"content":"malformed, no type"},
		{"id":3,"content":"reply","type":"assistant","timestamp":1700000000000,"tone":"dry"}
	]`))
	require.NoError(t, err)

	require.NoError(t, svc.Append(ctx, "u1", "s1", msgs))

	got, err := svc.Messages(ctx, "u1", "s1")
	require.NoError(t, err)
	assert.Equal(t, msgs, got)
}

func TestHistoriesAreScopedByUserAndScript(t *testing.T) {
	svc := newTestTimeline(t)
	ctx := context.Background()

	require.NoError(t, svc.Append(ctx, "u1", "s1", []chat.Message{{ID: "a", Content: "u1 s1"}}))
	require.NoError(t, svc.Append(ctx, "u2", "s1", []chat.Message{{ID: "b", Content: "u2 s1"}}))
	require.NoError(t, svc.Append(ctx, "u1", "s2", []chat.Message{{ID: "c", Content: "u1 s2"}}))

	n, err := svc.Clear(ctx, "u1", "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := svc.Messages(ctx, "u1", "s1")
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = svc.Messages(ctx, "u2", "s1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "u2 s1", got[0].Content)

	scripts, err := svc.Scripts(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, scripts, 1)
	assert.Equal(t, "s2", scripts[0].ScriptID)
	assert.Equal(t, 1, scripts[0].MessageCount)
}

func TestUserHistoryImplementsStore(t *testing.T) {
	svc := newTestTimeline(t)
	ctx := context.Background()
	store := svc.ForUser("u1")

	require.NoError(t, store.AppendMessages(ctx, "s1", []chat.Message{{ID: "x", Content: "hello"}}))
	got, err := store.GetMessages(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got, 1)

	ok, err := store.ClearMessages(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err = store.GetMessages(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAppendRequiresScope(t *testing.T) {
	svc := newTestTimeline(t)
	assert.Error(t, svc.Append(context.Background(), "", "s1", []chat.Message{{Content: "x"}}))
}
