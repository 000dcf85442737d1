package engine

import (
	"encoding/json"
	"strings"
)

// ScannedInvocation is a tool call recovered from free transcript text.
// Some model outputs leak the invocation as an inline JSON blob instead
// of (or in addition to) a structured client_tool_invocation frame.
type ScannedInvocation struct {
	ToolName     string          `json:"toolName"`
	InvocationID string          `json:"invocationId"`
	Parameters   json.RawMessage `json:"parameters"`
}

// ScanTranscript extracts an embedded tool invocation from transcript
// text, if present. The structured invocation path takes precedence;
// de-duplication against it is the caller's job, keyed by invocation id.
func ScanTranscript(text string) (ScannedInvocation, bool) {
	marker := strings.Index(text, `"toolName"`)
	if marker < 0 {
		return ScannedInvocation{}, false
	}
	start := strings.LastIndex(text[:marker], "{")
	if start < 0 {
		return ScannedInvocation{}, false
	}
	dec := json.NewDecoder(strings.NewReader(text[start:]))
	var inv ScannedInvocation
	if err := dec.Decode(&inv); err != nil {
		return ScannedInvocation{}, false
	}
	if inv.ToolName == "" {
		return ScannedInvocation{}, false
	}
	return inv, true
}
