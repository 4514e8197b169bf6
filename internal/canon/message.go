// Package canon defines the universal message format shared by every store
// converter and the diff engine. A Message is one conversational turn or tool
// event, normalized away from any store's native record shape.
package canon

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Type identifies which content variant a message carries.
type Type string

const (
	TypeMessage    Type = "message"
	TypeToolUse    Type = "tool_use"
	TypeToolResult Type = "tool_result"
)

// Message is one turn in canonical form. Within a session's message array the
// ID is unique and array order is conversation order.
type Message struct {
	ID        string    `json:"id"`
	ParentID  string    `json:"parentId,omitempty"`
	SessionID string    `json:"sessionId"`
	Timestamp time.Time `json:"timestamp"`
	Role      Role      `json:"role"`
	Type      Type      `json:"type"`
	Content   Content   `json:"-"`
	Metadata  Metadata  `json:"metadata"`
}

// Metadata carries store-provenance and round-trip fields. SourceStore is set
// by the converter that produced the message and never mutated downstream.
type Metadata struct {
	SourceStore string            `json:"sourceStore,omitempty"`
	NativeID    string            `json:"nativeId,omitempty"`
	CWD         string            `json:"cwd,omitempty"`
	Usage       *TokenUsage       `json:"usage,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// TokenUsage holds per-turn token counters. Volatile: the diff engine's
// similarity predicate ignores it.
type TokenUsage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// Content is the closed set of payload variants a message can carry:
// Text, ToolCall, ToolResult, or Parts (an ordered list of the leaf three).
type Content interface {
	contentKind() string
}

// Text is a plain text turn.
type Text struct {
	Text string `json:"text"`
}

// ToolCall is a tool invocation emitted by the assistant.
type ToolCall struct {
	Name   string          `json:"name"`
	Args   json.RawMessage `json:"args,omitempty"`
	CallID string          `json:"callId"`
}

// ToolResult is the outcome of a prior ToolCall, matched by CallID.
type ToolResult struct {
	CallID  string          `json:"callId"`
	Name    string          `json:"name,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	IsError bool            `json:"isError,omitempty"`
}

// Parts is a multi-part turn: an ordered list of leaf variants that a store
// may persist as several native records.
type Parts []Content

func (Text) contentKind() string       { return "text" }
func (ToolCall) contentKind() string   { return "tool_call" }
func (ToolResult) contentKind() string { return "tool_result" }
func (Parts) contentKind() string      { return "parts" }

// Validate checks the type/content pairing invariant: exactly one variant is
// populated and it matches the declared Type.
func (m *Message) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("message has no id")
	}
	switch c := m.Content.(type) {
	case Text:
		if m.Type != TypeMessage {
			return fmt.Errorf("message %s: text content requires type %q, got %q", m.ID, TypeMessage, m.Type)
		}
	case ToolCall:
		if m.Type != TypeToolUse {
			return fmt.Errorf("message %s: tool call content requires type %q, got %q", m.ID, TypeToolUse, m.Type)
		}
	case ToolResult:
		if m.Type != TypeToolResult {
			return fmt.Errorf("message %s: tool result content requires type %q, got %q", m.ID, TypeToolResult, m.Type)
		}
	case Parts:
		if len(c) == 0 {
			return fmt.Errorf("message %s: empty parts list", m.ID)
		}
		for i, p := range c {
			if _, nested := p.(Parts); nested {
				return fmt.Errorf("message %s: part %d: parts cannot nest", m.ID, i)
			}
		}
	case nil:
		return fmt.Errorf("message %s: no content", m.ID)
	default:
		return fmt.Errorf("message %s: unknown content variant %T", m.ID, c)
	}
	return nil
}

// Clone returns a deep copy. Apply paths mutate arrays, never shared messages.
func (m Message) Clone() Message {
	out := m
	out.Content = cloneContent(m.Content)
	if m.Metadata.Usage != nil {
		u := *m.Metadata.Usage
		out.Metadata.Usage = &u
	}
	if m.Metadata.Extra != nil {
		extra := make(map[string]string, len(m.Metadata.Extra))
		for k, v := range m.Metadata.Extra {
			extra[k] = v
		}
		out.Metadata.Extra = extra
	}
	return out
}

func cloneContent(c Content) Content {
	switch c := c.(type) {
	case Text:
		return c
	case ToolCall:
		c.Args = append(json.RawMessage(nil), c.Args...)
		return c
	case ToolResult:
		c.Result = append(json.RawMessage(nil), c.Result...)
		return c
	case Parts:
		out := make(Parts, len(c))
		for i, p := range c {
			out[i] = cloneContent(p)
		}
		return out
	default:
		return c
	}
}
