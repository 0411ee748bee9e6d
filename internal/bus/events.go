package bus

import "github.com/KafClaw/scriptdesk/internal/chat"

// Topic is the wire name of an event.
type Topic string

// Chat history topics.
const (
	TopicHistoryUpdated Topic = "CHAT:HISTORY_UPDATED"
	TopicMessageAdded   Topic = "CHAT:MESSAGE_ADDED"
	TopicHistoryCleared Topic = "CHAT:HISTORY_CLEARED"
)

// Script operation topics.
const (
	TopicAppendBlocked    Topic = "SCRIPT:APPEND_BLOCKED"
	TopicLineInsertion    Topic = "SCRIPT:LINE_INSERTION"
	TopicAnalysisComplete Topic = "SCRIPT:ANALYSIS_COMPLETE"
)

// Event is implemented by every payload the bus carries. Topic must work on
// the zero value.
type Event interface {
	Topic() Topic
}

// HistoryUpdated announces the full message list of a script.
type HistoryUpdated struct {
	ScriptID string         `json:"scriptId"`
	Messages []chat.Message `json:"messages"`
}

func (HistoryUpdated) Topic() Topic { return TopicHistoryUpdated }

// MessageAdded announces one message appended to a script's history.
type MessageAdded struct {
	ScriptID string       `json:"scriptId"`
	Message  chat.Message `json:"message"`
}

func (MessageAdded) Topic() Topic { return TopicMessageAdded }

// HistoryCleared announces that a script's history was wiped.
type HistoryCleared struct {
	ScriptID string `json:"scriptId"`
}

func (HistoryCleared) Topic() Topic { return TopicHistoryCleared }

// AppendBlocked tells the UI an assistant append produced nothing usable.
// It is distinct from a transport error on purpose.
type AppendBlocked struct {
	Reason string `json:"reason"`
	Intent string `json:"intent,omitempty"`
}

func (AppendBlocked) Topic() Topic { return TopicAppendBlocked }

// LineInsertion carries assistant output that targets explicit line numbers.
type LineInsertion struct {
	Content  string `json:"content"`
	Line     int    `json:"line"`
	Position string `json:"position"` // "at", "after" or "before"
}

func (LineInsertion) Topic() Topic { return TopicLineInsertion }

// AnalysisComplete carries an assistant analysis of the script.
type AnalysisComplete struct {
	Analysis any `json:"analysis"`
}

func (AnalysisComplete) Topic() Topic { return TopicAnalysisComplete }

// scriptScoped is implemented by events tied to one script; the Kafka sink
// uses it as the partition key.
type scriptScoped interface {
	scriptKey() string
}

func (e HistoryUpdated) scriptKey() string { return e.ScriptID }
func (e MessageAdded) scriptKey() string   { return e.ScriptID }
func (e HistoryCleared) scriptKey() string { return e.ScriptID }
