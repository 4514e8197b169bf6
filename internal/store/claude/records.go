// Package claude implements the JSONL transcript store. The native format is
// one JSON record per line, each carrying exactly one content block; a
// logical multi-part turn (several tool calls emitted in one assistant turn)
// spans consecutive records sharing a requestId.
package claude

import (
	"encoding/json"
)

// StoreID is the tag written into canon.Metadata.SourceStore.
const StoreID = "claude"

// Record is one transcript line.
type Record struct {
	UUID       string        `json:"uuid"`
	ParentUUID string        `json:"parentUuid,omitempty"`
	SessionID  string        `json:"sessionId"`
	Timestamp  string        `json:"timestamp"`
	Type       string        `json:"type"` // "user" or "assistant"
	CWD        string        `json:"cwd,omitempty"`
	RequestID  string        `json:"requestId,omitempty"`
	Message    RecordMessage `json:"message"`
	Usage      *RecordUsage  `json:"usage,omitempty"`
}

// RecordMessage is the content envelope of one record. The transcript format
// allows a block list but this store always writes exactly one block per
// record.
type RecordMessage struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// ContentBlock is one content element: text, tool_use, or tool_result.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// RecordUsage mirrors the transcript's per-record token counters.
type RecordUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
