package scriptops

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

// Append contracts. The payload names its contract in the "contract" field;
// append_text is assumed when it is absent.
const (
	ContractAppendText  = "append_text"
	ContractAppendLines = "append_lines"
)

func intPtr(n int) *int { return &n }

func appendTextSchema() *jsonschema.Schema {
	str := func() *jsonschema.Schema { return &jsonschema.Schema{Type: "string"} }
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"contract":        str(),
			"formattedScript": str(),
			"content":         str(),
		},
		AnyOf: []*jsonschema.Schema{
			{Required: []string{"formattedScript"}},
			{Required: []string{"content"}},
		},
	}
}

func appendLinesSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:     "object",
		Required: []string{"lines"},
		Properties: map[string]*jsonschema.Schema{
			"contract": {Type: "string"},
			"lines": {
				Type:     "array",
				MinItems: intPtr(1),
				Items: &jsonschema.Schema{
					Type:     "object",
					Required: []string{"type", "text"},
					Properties: map[string]*jsonschema.Schema{
						"type": {Type: "string", MinLength: intPtr(1)},
						"text": {Type: "string"},
					},
				},
			},
		},
	}
}

// contracts holds the resolved append schemas by name.
type contracts map[string]*jsonschema.Resolved

func loadContracts() (contracts, error) {
	out := make(contracts)
	for name, s := range map[string]*jsonschema.Schema{
		ContractAppendText:  appendTextSchema(),
		ContractAppendLines: appendLinesSchema(),
	} {
		resolved, err := s.Resolve(nil)
		if err != nil {
			return nil, fmt.Errorf("resolve %s schema: %w", name, err)
		}
		out[name] = resolved
	}
	return out, nil
}

type appendPayload struct {
	Contract        string       `json:"contract"`
	FormattedScript string       `json:"formattedScript"`
	Content         string       `json:"content"`
	Lines           []scriptLine `json:"lines"`
}

type scriptLine struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// decodeAppend validates raw against its contract and returns the canonical
// script text.
func (c contracts) decodeAppend(raw json.RawMessage) (string, error) {
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	contract := ContractAppendText
	if obj, ok := instance.(map[string]any); ok {
		if name, ok := obj["contract"].(string); ok && name != "" {
			contract = name
		}
	}
	schema, ok := c[contract]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownContract, contract)
	}
	if err := schema.Validate(instance); err != nil {
		return "", fmt.Errorf("%w (%s): %v", ErrInvalidPayload, contract, err)
	}

	var p appendPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if contract == ContractAppendLines {
		var b strings.Builder
		for _, l := range p.Lines {
			fmt.Fprintf(&b, "<%s>%s</%s>\n", l.Type, l.Text, l.Type)
		}
		return b.String(), nil
	}
	if strings.TrimSpace(p.FormattedScript) != "" {
		return p.FormattedScript, nil
	}
	return p.Content, nil
}

// Line-insertion heuristics, most specific first. Only the insert form may
// appear mid-line; the others must open a line, optionally after a placing
// verb, so dialogue that mentions a line number is left alone.
var lineTargets = []struct {
	re       *regexp.Regexp
	position string // "" takes the position from the first group
}{
	{regexp.MustCompile(`(?i)\binsert(?:ed)?(?:\s+\w+)?\s+(at|after|before)\s+line\s+(\d+)\b`), ""},
	{regexp.MustCompile(`(?im)^\s*(?:(?:put|place|add|move)(?:\s+\w+)?\s+)?(after|before|at)\s+line\s+(\d+)\b`), ""},
	{regexp.MustCompile(`(?im)^\s*line\s+(\d+)\b`), "at"},
}

// lineTarget reports whether content addresses an explicit line number.
func lineTarget(content string) (line int, position string, ok bool) {
	for _, t := range lineTargets {
		m := t.re.FindStringSubmatch(content)
		if m == nil {
			continue
		}
		position, digits := t.position, m[len(m)-1]
		if position == "" {
			position = strings.ToLower(m[1])
		}
		n, err := strconv.Atoi(digits)
		if err != nil || n <= 0 {
			continue
		}
		return n, position, true
	}
	return 0, "", false
}
