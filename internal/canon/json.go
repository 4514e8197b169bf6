package canon

import (
	"encoding/json"
	"fmt"
)

// contentEnvelope is the wire form of a Content variant, discriminated by
// "kind" so decoders never have to probe optional fields.
type contentEnvelope struct {
	Kind    string            `json:"kind"`
	Text    string            `json:"text,omitempty"`
	Name    string            `json:"name,omitempty"`
	Args    json.RawMessage   `json:"args,omitempty"`
	CallID  string            `json:"callId,omitempty"`
	Result  json.RawMessage   `json:"result,omitempty"`
	IsError bool              `json:"isError,omitempty"`
	Parts   []contentEnvelope `json:"parts,omitempty"`
}

func envelopeFor(c Content) (contentEnvelope, error) {
	switch c := c.(type) {
	case Text:
		return contentEnvelope{Kind: "text", Text: c.Text}, nil
	case ToolCall:
		return contentEnvelope{Kind: "tool_call", Name: c.Name, Args: c.Args, CallID: c.CallID}, nil
	case ToolResult:
		return contentEnvelope{Kind: "tool_result", CallID: c.CallID, Name: c.Name, Result: c.Result, IsError: c.IsError}, nil
	case Parts:
		env := contentEnvelope{Kind: "parts", Parts: make([]contentEnvelope, 0, len(c))}
		for _, p := range c {
			pe, err := envelopeFor(p)
			if err != nil {
				return contentEnvelope{}, err
			}
			env.Parts = append(env.Parts, pe)
		}
		return env, nil
	case nil:
		return contentEnvelope{}, fmt.Errorf("nil content")
	default:
		return contentEnvelope{}, fmt.Errorf("unknown content variant %T", c)
	}
}

func (e contentEnvelope) content() (Content, error) {
	switch e.Kind {
	case "text":
		return Text{Text: e.Text}, nil
	case "tool_call":
		return ToolCall{Name: e.Name, Args: e.Args, CallID: e.CallID}, nil
	case "tool_result":
		return ToolResult{CallID: e.CallID, Name: e.Name, Result: e.Result, IsError: e.IsError}, nil
	case "parts":
		parts := make(Parts, 0, len(e.Parts))
		for _, pe := range e.Parts {
			p, err := pe.content()
			if err != nil {
				return nil, err
			}
			parts = append(parts, p)
		}
		return parts, nil
	default:
		return nil, fmt.Errorf("unknown content kind %q", e.Kind)
	}
}

type messageJSON struct {
	ID        string          `json:"id"`
	ParentID  string          `json:"parentId,omitempty"`
	SessionID string          `json:"sessionId"`
	Timestamp string          `json:"timestamp"`
	Role      Role            `json:"role"`
	Type      Type            `json:"type"`
	Content   contentEnvelope `json:"content"`
	Metadata  Metadata        `json:"metadata"`
}

// MarshalJSON encodes the message with its content envelope and an RFC3339
// timestamp (ISO-8601, lexically sortable).
func (m Message) MarshalJSON() ([]byte, error) {
	env, err := envelopeFor(m.Content)
	if err != nil {
		return nil, fmt.Errorf("message %s: %w", m.ID, err)
	}
	return json.Marshal(messageJSON{
		ID:        m.ID,
		ParentID:  m.ParentID,
		SessionID: m.SessionID,
		Timestamp: FormatTimestamp(m.Timestamp),
		Role:      m.Role,
		Type:      m.Type,
		Content:   env,
		Metadata:  m.Metadata,
	})
}

// UnmarshalJSON decodes the envelope form produced by MarshalJSON.
func (m *Message) UnmarshalJSON(data []byte) error {
	var mj messageJSON
	if err := json.Unmarshal(data, &mj); err != nil {
		return err
	}
	content, err := mj.Content.content()
	if err != nil {
		return fmt.Errorf("message %s: %w", mj.ID, err)
	}
	ts, err := ParseTimestamp(mj.Timestamp)
	if err != nil {
		return fmt.Errorf("message %s: %w", mj.ID, err)
	}
	*m = Message{
		ID:        mj.ID,
		ParentID:  mj.ParentID,
		SessionID: mj.SessionID,
		Timestamp: ts,
		Role:      mj.Role,
		Type:      mj.Type,
		Content:   content,
		Metadata:  mj.Metadata,
	}
	return nil
}
