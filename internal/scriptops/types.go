// Package scriptops routes assistant responses to the script document. It
// classifies the response intent, validates append payloads, sanitizes script
// markup and hands normalized commands to the document orchestrator.
package scriptops

import (
	"context"
	"encoding/json"
	"errors"
)

// Intent is the classification the assistant attached to its response.
type Intent string

// Known intents. Anything else is ignored.
const (
	IntentEdit    Intent = "EDIT_SCRIPT"
	IntentWrite   Intent = "WRITE_SCRIPT"
	IntentAnalyze Intent = "ANALYZE_SCRIPT"
	IntentAppend  Intent = "APPEND_SCRIPT"
)

// Envelope is one assistant response.
type Envelope struct {
	Intent   Intent          `json:"intent"`
	Response json.RawMessage `json:"response,omitempty"`
}

// EditCommand replaces or edits the document.
type EditCommand struct {
	Content       string          `json:"content"`
	IsFromEdit    bool            `json:"isFromEdit"`
	VersionNumber int             `json:"versionNumber,omitempty"`
	Commands      json.RawMessage `json:"commands,omitempty"`
}

// AppendCommand adds sanitized content to the end of the document.
type AppendCommand struct {
	Content      string `json:"content"`
	IsFromAppend bool   `json:"isFromAppend"`
}

// Orchestrator applies commands to the script document.
type Orchestrator interface {
	HandleScriptEdit(ctx context.Context, cmd EditCommand) error
	HandleScriptAppend(ctx context.Context, cmd AppendCommand) error
}

// LineSplitter is an optional hook run on append content before it reaches
// the orchestrator.
type LineSplitter interface {
	SplitLongAILines(content string) string
}

// AnalysisRenderer shows an analysis to the user.
type AnalysisRenderer interface {
	RenderAnalysis(ctx context.Context, analysis any) error
}

// ErrorHandler receives every failure of HandleIntent with a context label.
type ErrorHandler func(err error, label string)

// Routing errors reported to the ErrorHandler.
var (
	ErrMissingDependency = errors.New("scriptops: missing dependency")
	ErrMissingResponse   = errors.New("scriptops: response is missing")
	ErrInvalidPayload    = errors.New("scriptops: invalid append payload")
	ErrUnknownContract   = errors.New("scriptops: unknown append contract")
)
