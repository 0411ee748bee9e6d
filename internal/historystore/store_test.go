package historystore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KafClaw/scriptdesk/internal/chat"
)

func TestMemoryIsScopedPerUser(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	mem.Seed("u1", "s1", []chat.Message{{ID: "1", Content: "mine"}})

	alice := mem.ForUser("u1")
	bob := mem.ForUser("u2")

	got, err := alice.GetMessages(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = bob.GetMessages(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, bob.AppendMessages(ctx, "s1", []chat.Message{{Content: "bob"}}))
	cleared, err := alice.ClearMessages(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, cleared)

	got, _ = bob.GetMessages(ctx, "s1")
	assert.Len(t, got, 1, "clearing alice's history must not touch bob's")
}

func TestMemoryHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMemory().ForUser("u").GetMessages(ctx, "s")
	assert.ErrorIs(t, err, context.Canceled)
}
