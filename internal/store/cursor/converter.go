package cursor

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/iksnae/session-bridge/internal/canon"
	"github.com/iksnae/session-bridge/internal/store"
)

// Extra keys used to round-trip bubble structure through the canonical model.
const (
	extraGroupID = "cursor.groupId"
	extraParts   = "cursor.parts"
)

const metaKeyPrefix = "cursor."

// bubblePartMeta preserves per-bubble identity for multi-part turns.
type bubblePartMeta struct {
	BubbleID  string        `json:"bubbleId"`
	ParentID  string        `json:"parentId,omitempty"`
	Timestamp int64         `json:"timestamp"`
	Usage     *UsagePayload `json:"usage,omitempty"`
}

// Converter maps bubbles to and from canonical messages. Pure, no I/O.
type Converter struct {
	GroupWindow time.Duration
}

// DefaultGroupWindow bounds multi-part grouping when no window is configured.
const DefaultGroupWindow = time.Second

// NewConverter returns a converter with the given grouping window; zero
// means DefaultGroupWindow.
func NewConverter(groupWindow time.Duration) *Converter {
	if groupWindow <= 0 {
		groupWindow = DefaultGroupWindow
	}
	return &Converter{GroupWindow: groupWindow}
}

// Decode converts ordered bubbles into canonical messages, regrouping
// consecutive bubbles of one logical turn: same role, same non-empty
// groupId, timestamps within the group window.
func (c *Converter) Decode(bubbles []Bubble) ([]canon.Message, error) {
	var messages []canon.Message
	for i := 0; i < len(bubbles); {
		group := []Bubble{bubbles[i]}
		j := i + 1
		for j < len(bubbles) && c.sameTurn(bubbles[j-1], bubbles[j]) {
			group = append(group, bubbles[j])
			j++
		}
		msg, err := c.decodeGroup(group)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
		i = j
	}
	return messages, nil
}

func (c *Converter) sameTurn(prev, next Bubble) bool {
	if prev.GroupID == "" || prev.GroupID != next.GroupID {
		return false
	}
	if prev.Type != next.Type {
		return false
	}
	gap := next.Timestamp - prev.Timestamp
	if gap < 0 {
		gap = -gap
	}
	return time.Duration(gap)*time.Millisecond <= c.GroupWindow
}

func (c *Converter) decodeGroup(group []Bubble) (canon.Message, error) {
	first := group[0]
	role, err := c.roleOf(first)
	if err != nil {
		return canon.Message{}, err
	}

	extra := map[string]string{}
	for k, v := range first.Meta {
		extra[k] = v
	}
	if first.GroupID != "" {
		extra[extraGroupID] = first.GroupID
	}

	msg := canon.Message{
		ID:        first.BubbleID,
		ParentID:  first.ParentID,
		SessionID: first.SessionID,
		Timestamp: first.timeOf(),
		Role:      role,
		Metadata: canon.Metadata{
			SourceStore: StoreID,
			NativeID:    first.BubbleID,
			CWD:         first.CWD,
			Usage:       usageToCanon(first.Usage),
		},
	}

	if len(group) == 1 {
		content, typ, err := c.decodePayload(first)
		if err != nil {
			return canon.Message{}, err
		}
		msg.Type = typ
		msg.Content = content
	} else {
		parts := make(canon.Parts, 0, len(group))
		metas := make([]bubblePartMeta, 0, len(group))
		for _, b := range group {
			content, _, err := c.decodePayload(b)
			if err != nil {
				return canon.Message{}, err
			}
			parts = append(parts, content)
			metas = append(metas, bubblePartMeta{
				BubbleID:  b.BubbleID,
				ParentID:  b.ParentID,
				Timestamp: b.Timestamp,
				Usage:     b.Usage,
			})
		}
		encoded, err := json.Marshal(metas)
		if err != nil {
			return canon.Message{}, c.convErr(first.BubbleID, "encoding part metadata", err)
		}
		extra[extraParts] = string(encoded)
		msg.Type = canon.TypeMessage
		msg.Content = parts
	}

	if len(extra) > 0 {
		msg.Metadata.Extra = extra
	}
	return msg, nil
}

func (c *Converter) roleOf(b Bubble) (canon.Role, error) {
	switch b.Type {
	case bubbleTypeUser:
		return canon.RoleUser, nil
	case bubbleTypeAssistant:
		return canon.RoleAssistant, nil
	default:
		return "", c.convErr(b.BubbleID, fmt.Sprintf("unknown bubble type %d", b.Type), nil)
	}
}

func (c *Converter) decodePayload(b Bubble) (canon.Content, canon.Type, error) {
	switch b.Kind {
	case kindText:
		return canon.Text{Text: b.Text}, canon.TypeMessage, nil
	case kindToolCall:
		if b.Tool == nil {
			return nil, "", c.convErr(b.BubbleID, "tool_call bubble without tool payload", nil)
		}
		return canon.ToolCall{
			Name:   b.Tool.Name,
			Args:   rawOrNil(b.Tool.Args),
			CallID: b.Tool.CallID,
		}, canon.TypeToolUse, nil
	case kindToolResult:
		if b.ToolResult == nil {
			return nil, "", c.convErr(b.BubbleID, "tool_result bubble without result payload", nil)
		}
		return canon.ToolResult{
			CallID:  b.ToolResult.CallID,
			Name:    b.ToolResult.Name,
			Result:  rawOrNil(b.ToolResult.Result),
			IsError: b.ToolResult.IsError,
		}, canon.TypeToolResult, nil
	default:
		return nil, "", c.convErr(b.BubbleID, fmt.Sprintf("unknown bubble kind %q", b.Kind), nil)
	}
}

// Encode converts canonical messages into ordered bubbles, splitting
// multi-part messages into one bubble per part.
func (c *Converter) Encode(messages []canon.Message) ([]Bubble, error) {
	var bubbles []Bubble
	for i := range messages {
		group, err := c.encodeMessage(&messages[i])
		if err != nil {
			return nil, err
		}
		bubbles = append(bubbles, group...)
	}
	for i := range bubbles {
		bubbles[i].Position = i
	}
	return bubbles, nil
}

func (c *Converter) encodeMessage(msg *canon.Message) ([]Bubble, error) {
	typ, err := c.typeOf(msg)
	if err != nil {
		return nil, err
	}
	base := Bubble{
		BubbleID:  msg.ID,
		ParentID:  msg.ParentID,
		Type:      typ,
		Timestamp: msg.Timestamp.UnixMilli(),
		GroupID:   msg.Metadata.Extra[extraGroupID],
		CWD:       msg.Metadata.CWD,
		Usage:     usageFromCanon(msg.Metadata.Usage),
		Meta:      foreignExtras(msg.Metadata.Extra),
		SessionID: msg.SessionID,
	}

	parts, multi := msg.Content.(canon.Parts)
	if !multi {
		if err := c.fillPayload(&base, msg.ID, msg.Content); err != nil {
			return nil, err
		}
		return []Bubble{base}, nil
	}

	metas := c.partMetas(msg, len(parts))
	bubbles := make([]Bubble, 0, len(parts))
	for i, part := range parts {
		b := base
		b.BubbleID = metas[i].BubbleID
		b.ParentID = metas[i].ParentID
		b.Timestamp = metas[i].Timestamp
		b.Usage = metas[i].Usage
		if b.GroupID == "" {
			b.GroupID = msg.ID
		}
		if err := c.fillPayload(&b, msg.ID, part); err != nil {
			return nil, err
		}
		bubbles = append(bubbles, b)
	}
	return bubbles, nil
}

func (c *Converter) partMetas(msg *canon.Message, n int) []bubblePartMeta {
	if raw, ok := msg.Metadata.Extra[extraParts]; ok {
		var metas []bubblePartMeta
		if err := json.Unmarshal([]byte(raw), &metas); err == nil && len(metas) == n {
			return metas
		}
	}
	metas := make([]bubblePartMeta, n)
	ts := msg.Timestamp.UnixMilli()
	for i := range metas {
		id := msg.ID
		parent := msg.ParentID
		if i > 0 {
			id = fmt.Sprintf("%s-p%d", msg.ID, i)
			parent = metas[i-1].BubbleID
		}
		metas[i] = bubblePartMeta{BubbleID: id, ParentID: parent, Timestamp: ts}
		if i == 0 {
			metas[i].Usage = usageFromCanon(msg.Metadata.Usage)
		}
	}
	return metas
}

func (c *Converter) typeOf(msg *canon.Message) (int, error) {
	switch msg.Role {
	case canon.RoleUser:
		return bubbleTypeUser, nil
	case canon.RoleAssistant:
		return bubbleTypeAssistant, nil
	default:
		return 0, c.convErr(msg.ID, fmt.Sprintf("unknown role %q", msg.Role), nil)
	}
}

func (c *Converter) fillPayload(b *Bubble, msgID string, content canon.Content) error {
	switch content := content.(type) {
	case canon.Text:
		b.Kind = kindText
		b.Text = content.Text
	case canon.ToolCall:
		b.Kind = kindToolCall
		b.Tool = &ToolPayload{Name: content.Name, Args: string(content.Args), CallID: content.CallID}
	case canon.ToolResult:
		b.Kind = kindToolResult
		b.ToolResult = &ToolResultPayload{
			CallID:  content.CallID,
			Name:    content.Name,
			Result:  string(content.Result),
			IsError: content.IsError,
		}
	case canon.Parts:
		return c.convErr(msgID, "nested multi-part content", nil)
	default:
		return c.convErr(msgID, fmt.Sprintf("unknown content variant %T", content), nil)
	}
	return nil
}

// foreignExtras filters out this store's own extra keys; what remains
// belongs to other stores and is persisted verbatim in the bubble.
func foreignExtras(extra map[string]string) map[string]string {
	var meta map[string]string
	for k, v := range extra {
		if strings.HasPrefix(k, metaKeyPrefix) {
			continue
		}
		if meta == nil {
			meta = map[string]string{}
		}
		meta[k] = v
	}
	return meta
}

func (c *Converter) convErr(record, reason string, err error) error {
	return &store.ConversionError{Store: StoreID, Record: record, Reason: reason, Err: err}
}

func rawOrNil(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	return json.RawMessage(s)
}

func usageToCanon(u *UsagePayload) *canon.TokenUsage {
	if u == nil {
		return nil
	}
	return &canon.TokenUsage{InputTokens: u.InputTokens, OutputTokens: u.OutputTokens}
}

func usageFromCanon(u *canon.TokenUsage) *UsagePayload {
	if u == nil {
		return nil
	}
	return &UsagePayload{InputTokens: u.InputTokens, OutputTokens: u.OutputTokens}
}
