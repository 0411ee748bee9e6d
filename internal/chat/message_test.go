package chat

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessagesToleratesMalformedRecords(t *testing.T) {
	raw := []byte(`[
		{"id":1,"message":"Script 1 message 1","type":"user","timestamp":"2023-01-01T00:00:00Z"},
		{"id":"m2","content":"no type or timestamp"},
		{"id":3,"content":"millis","type":"ai","timestamp":1700000000000,"scriptId":7,"mood":"tense"}
	]`)

	msgs, err := ParseMessages(raw)
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	assert.Equal(t, "1", msgs[0].ID)
	assert.Equal(t, "Script 1 message 1", msgs[0].Body())
	assert.Equal(t, TypeUser, msgs[0].Type)
	assert.Equal(t, "2023-01-01T00:00:00Z", msgs[0].Timestamp.String())

	assert.Equal(t, Type(""), msgs[1].Type)
	assert.True(t, msgs[1].Timestamp.IsZero())

	assert.Equal(t, "7", msgs[2].ScriptID)
	assert.Equal(t, json.RawMessage(`"tense"`), msgs[2].Extra["mood"])
	ts, ok := msgs[2].Timestamp.Time()
	require.True(t, ok)
	assert.Equal(t, int64(1700000000000), ts.UnixMilli())
}

func TestMessageRoundTripKeepsShape(t *testing.T) {
	in := `{"content":"bare","extra":{"a":1}}`
	var m Message
	require.NoError(t, json.Unmarshal([]byte(in), &m))

	out, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, in, string(out))
}

func TestUnexpectedFieldShapesAreKeptVerbatim(t *testing.T) {
	var m Message
	require.NoError(t, json.Unmarshal([]byte(`{"id":"x","content":42,"timestamp":true}`), &m))

	assert.Equal(t, "", m.Content)
	assert.True(t, m.Timestamp.IsZero())
	assert.Equal(t, json.RawMessage(`42`), m.Extra["content"])
	assert.Equal(t, json.RawMessage(`true`), m.Extra["timestamp"])
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Message{Content: "hi"}.Validate())
	assert.NoError(t, Message{Text: "legacy", Type: TypeAI}.Validate())
	assert.ErrorIs(t, Message{Content: "   "}.Validate(), ErrEmptyContent)

	err := Message{Content: "hi", Type: "robot"}.Validate()
	assert.True(t, errors.Is(err, ErrUnknownType))
}

func TestComposeFillsDefaults(t *testing.T) {
	now := time.UnixMilli(1234)
	m := Compose(Message{Content: "hello"}, "s1", now)

	assert.NotEmpty(t, m.ID)
	assert.Equal(t, TypeUser, m.Type)
	assert.Equal(t, "s1", m.ScriptID)
	assert.Equal(t, "1234", m.Timestamp.String())

	kept := Compose(Message{ID: "fixed", Content: "x", Type: TypeAssistant, ScriptID: "other"}, "s1", now)
	assert.Equal(t, "fixed", kept.ID)
	assert.Equal(t, TypeAssistant, kept.Type)
	assert.Equal(t, "other", kept.ScriptID)
}

func TestEnsureIDsOnlyFillsMissing(t *testing.T) {
	in := []Message{{ID: "a", Content: "one"}, {Content: "two"}}
	out := EnsureIDs(in)

	assert.Equal(t, "a", out[0].ID)
	assert.NotEmpty(t, out[1].ID)
	assert.Empty(t, in[1].ID, "input must not be mutated")
}

func TestNumericTimestampsReencodeAsWritten(t *testing.T) {
	for _, raw := range []string{"1700000000000", "1.7e12", "1700000000000.5"} {
		var ts Timestamp
		require.NoError(t, json.Unmarshal([]byte(raw), &ts), raw)

		out, err := json.Marshal(ts)
		require.NoError(t, err)
		assert.Equal(t, raw, string(out))

		when, ok := ts.Time()
		require.True(t, ok, raw)
		assert.Equal(t, int64(1700000000000), when.UnixMilli(), raw)
	}

	var plain Timestamp
	require.NoError(t, json.Unmarshal([]byte("1234"), &plain))
	assert.Equal(t, TimestampMillis(1234), plain)
}
