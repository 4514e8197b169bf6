// Package cursor implements the SQLite bubble store. The native format is a
// single key/value table; conversation bubbles live under
// bubble:<sessionId>:<position> keys with JSON values, one content payload
// per bubble. A multi-part turn spans consecutive bubbles sharing a groupId.
package cursor

import (
	"time"
)

// StoreID is the tag written into canon.Metadata.SourceStore.
const StoreID = "cursor"

// Bubble role codes, as stored in the type field.
const (
	bubbleTypeUser      = 1
	bubbleTypeAssistant = 2
)

// Bubble kinds, discriminating the content payload.
const (
	kindText       = "text"
	kindToolCall   = "tool_call"
	kindToolResult = "tool_result"
)

// Bubble is the JSON value of one bubble row. SessionID and Position are
// derived from the row key and not serialized.
type Bubble struct {
	BubbleID   string             `json:"bubbleId"`
	ParentID   string             `json:"parentId,omitempty"`
	Type       int                `json:"type"` // 1=user, 2=assistant
	Kind       string             `json:"kind"`
	Text       string             `json:"text,omitempty"`
	Tool       *ToolPayload       `json:"tool,omitempty"`
	ToolResult *ToolResultPayload `json:"toolResult,omitempty"`
	Timestamp  int64              `json:"timestamp"` // milliseconds since epoch
	GroupID    string             `json:"groupId,omitempty"`
	CWD        string             `json:"cwd,omitempty"`
	Usage      *UsagePayload      `json:"usage,omitempty"`
	// Meta carries canonical extra fields from other stores so they survive
	// a round-trip through this one.
	Meta map[string]string `json:"meta,omitempty"`

	SessionID string `json:"-"`
	Position  int    `json:"-"`
}

// ToolPayload is a tool invocation bubble.
type ToolPayload struct {
	Name   string `json:"name"`
	Args   string `json:"args,omitempty"` // raw JSON
	CallID string `json:"callId"`
}

// ToolResultPayload is a tool outcome bubble.
type ToolResultPayload struct {
	CallID  string `json:"callId"`
	Name    string `json:"name,omitempty"`
	Result  string `json:"result,omitempty"` // raw JSON
	IsError bool   `json:"isError,omitempty"`
}

// UsagePayload mirrors canonical token counters.
type UsagePayload struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// timeOf converts the bubble's millisecond timestamp.
func (b *Bubble) timeOf() time.Time {
	return time.UnixMilli(b.Timestamp).UTC()
}
