package claude

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/iksnae/session-bridge/internal/canon"
	"github.com/iksnae/session-bridge/internal/store"
)

// Extra keys used to round-trip transcript structure through the canonical
// model.
const (
	// extraRequestID marks a turn as (potentially) multi-part; records
	// sharing it regroup on decode.
	extraRequestID = "claude.requestId"
	// extraParts preserves per-record identity for multi-part turns so
	// re-encoding reproduces the original records exactly.
	extraParts = "claude.parts"
)

// partMeta is the per-record identity of one part of a grouped turn.
type partMeta struct {
	UUID       string       `json:"uuid"`
	ParentUUID string       `json:"parentUuid,omitempty"`
	Timestamp  string       `json:"timestamp"`
	Usage      *RecordUsage `json:"usage,omitempty"`
}

// Converter maps transcript records to and from canonical messages. It is
// pure: no I/O, total over well-formed input.
type Converter struct {
	// GroupWindow is the maximum timestamp gap between consecutive records
	// of one multi-part turn.
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

// Decode converts transcript records into canonical messages, regrouping
// consecutive records of one logical turn: same role, same non-empty
// requestId, and timestamps within the group window.
func (c *Converter) Decode(records []Record) ([]canon.Message, error) {
	var messages []canon.Message
	for i := 0; i < len(records); {
		group := []Record{records[i]}
		j := i + 1
		for j < len(records) && c.sameTurn(records[j-1], records[j]) {
			group = append(group, records[j])
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

// sameTurn reports whether next continues the multi-part turn prev belongs to.
func (c *Converter) sameTurn(prev, next Record) bool {
	if prev.RequestID == "" || prev.RequestID != next.RequestID {
		return false
	}
	if roleOf(prev) != roleOf(next) {
		return false
	}
	pt, err1 := canon.ParseTimestamp(prev.Timestamp)
	nt, err2 := canon.ParseTimestamp(next.Timestamp)
	if err1 != nil || err2 != nil {
		return false
	}
	gap := nt.Sub(pt)
	if gap < 0 {
		gap = -gap
	}
	return gap <= c.GroupWindow
}

func roleOf(r Record) string {
	if r.Message.Role != "" {
		return r.Message.Role
	}
	return r.Type
}

func (c *Converter) decodeGroup(group []Record) (canon.Message, error) {
	first := group[0]
	ts, err := canon.ParseTimestamp(first.Timestamp)
	if err != nil {
		return canon.Message{}, c.convErr(first.UUID, "invalid timestamp", err)
	}
	role := canon.Role(roleOf(first))
	if role != canon.RoleUser && role != canon.RoleAssistant {
		return canon.Message{}, c.convErr(first.UUID, fmt.Sprintf("unknown role %q", roleOf(first)), nil)
	}

	extra := map[string]string{}
	if first.RequestID != "" {
		extra[extraRequestID] = first.RequestID
	}

	msg := canon.Message{
		ID:        first.UUID,
		ParentID:  first.ParentUUID,
		SessionID: first.SessionID,
		Timestamp: ts,
		Role:      role,
		Metadata: canon.Metadata{
			SourceStore: StoreID,
			NativeID:    first.UUID,
			CWD:         first.CWD,
			Usage:       usageToCanon(first.Usage),
		},
	}

	if len(group) == 1 {
		content, typ, err := c.decodeBlock(first)
		if err != nil {
			return canon.Message{}, err
		}
		msg.Type = typ
		msg.Content = content
	} else {
		parts := make(canon.Parts, 0, len(group))
		metas := make([]partMeta, 0, len(group))
		for _, rec := range group {
			content, _, err := c.decodeBlock(rec)
			if err != nil {
				return canon.Message{}, err
			}
			parts = append(parts, content)
			metas = append(metas, partMeta{
				UUID:       rec.UUID,
				ParentUUID: rec.ParentUUID,
				Timestamp:  rec.Timestamp,
				Usage:      rec.Usage,
			})
		}
		encoded, err := json.Marshal(metas)
		if err != nil {
			return canon.Message{}, c.convErr(first.UUID, "encoding part metadata", err)
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

// decodeBlock maps the record's single content block to a canonical content
// variant.
func (c *Converter) decodeBlock(rec Record) (canon.Content, canon.Type, error) {
	if len(rec.Message.Content) != 1 {
		return nil, "", c.convErr(rec.UUID, fmt.Sprintf("expected 1 content block, got %d", len(rec.Message.Content)), nil)
	}
	block := rec.Message.Content[0]
	switch block.Type {
	case "text":
		return canon.Text{Text: block.Text}, canon.TypeMessage, nil
	case "tool_use":
		return canon.ToolCall{Name: block.Name, Args: block.Input, CallID: block.ID}, canon.TypeToolUse, nil
	case "tool_result":
		return canon.ToolResult{CallID: block.ToolUseID, Name: block.Name, Result: block.Content, IsError: block.IsError}, canon.TypeToolResult, nil
	default:
		return nil, "", c.convErr(rec.UUID, fmt.Sprintf("unknown content block type %q", block.Type), nil)
	}
}

// Encode converts canonical messages into transcript records, splitting
// multi-part messages into one record per part. Part identity saved by
// Decode is reused; parts that never lived in this store get deterministic
// derived ids.
func (c *Converter) Encode(messages []canon.Message) ([]Record, error) {
	var records []Record
	for i := range messages {
		recs, err := c.encodeMessage(&messages[i])
		if err != nil {
			return nil, err
		}
		records = append(records, recs...)
	}
	return records, nil
}

func (c *Converter) encodeMessage(msg *canon.Message) ([]Record, error) {
	base := Record{
		UUID:       msg.ID,
		ParentUUID: msg.ParentID,
		SessionID:  msg.SessionID,
		Timestamp:  canon.FormatTimestamp(msg.Timestamp),
		Type:       string(msg.Role),
		CWD:        msg.Metadata.CWD,
		RequestID:  msg.Metadata.Extra[extraRequestID],
		Usage:      usageFromCanon(msg.Metadata.Usage),
	}

	parts, multi := msg.Content.(canon.Parts)
	if !multi {
		block, err := c.encodeBlock(msg.ID, msg.Content)
		if err != nil {
			return nil, err
		}
		base.Message = RecordMessage{Role: string(msg.Role), Content: []ContentBlock{block}}
		return []Record{base}, nil
	}

	metas := c.partMetas(msg, len(parts))
	records := make([]Record, 0, len(parts))
	for i, part := range parts {
		block, err := c.encodeBlock(msg.ID, part)
		if err != nil {
			return nil, err
		}
		rec := base
		rec.UUID = metas[i].UUID
		rec.ParentUUID = metas[i].ParentUUID
		rec.Timestamp = metas[i].Timestamp
		rec.Usage = metas[i].Usage
		if rec.RequestID == "" {
			// Grouping on decode needs the marker even for messages that
			// originated in the other store.
			rec.RequestID = msg.ID
		}
		rec.Message = RecordMessage{Role: string(msg.Role), Content: []ContentBlock{block}}
		records = append(records, rec)
	}
	return records, nil
}

// partMetas returns per-part record identity: the metadata captured at
// decode time when it matches, otherwise ids derived from the message id.
func (c *Converter) partMetas(msg *canon.Message, n int) []partMeta {
	if raw, ok := msg.Metadata.Extra[extraParts]; ok {
		var metas []partMeta
		if err := json.Unmarshal([]byte(raw), &metas); err == nil && len(metas) == n {
			return metas
		}
	}
	metas := make([]partMeta, n)
	ts := canon.FormatTimestamp(msg.Timestamp)
	for i := range metas {
		uuid := msg.ID
		parent := msg.ParentID
		if i > 0 {
			uuid = fmt.Sprintf("%s-p%d", msg.ID, i)
			parent = metas[i-1].UUID
		}
		metas[i] = partMeta{UUID: uuid, ParentUUID: parent, Timestamp: ts}
		if i == 0 {
			metas[i].Usage = usageFromCanon(msg.Metadata.Usage)
		}
	}
	return metas
}

func (c *Converter) encodeBlock(msgID string, content canon.Content) (ContentBlock, error) {
	switch content := content.(type) {
	case canon.Text:
		return ContentBlock{Type: "text", Text: content.Text}, nil
	case canon.ToolCall:
		return ContentBlock{Type: "tool_use", ID: content.CallID, Name: content.Name, Input: content.Args}, nil
	case canon.ToolResult:
		return ContentBlock{Type: "tool_result", ToolUseID: content.CallID, Name: content.Name, Content: content.Result, IsError: content.IsError}, nil
	case canon.Parts:
		return ContentBlock{}, c.convErr(msgID, "nested multi-part content", nil)
	default:
		return ContentBlock{}, c.convErr(msgID, fmt.Sprintf("unknown content variant %T", content), nil)
	}
}

func (c *Converter) convErr(record, reason string, err error) error {
	return &store.ConversionError{Store: StoreID, Record: record, Reason: reason, Err: err}
}

func usageToCanon(u *RecordUsage) *canon.TokenUsage {
	if u == nil {
		return nil
	}
	return &canon.TokenUsage{InputTokens: u.InputTokens, OutputTokens: u.OutputTokens}
}

func usageFromCanon(u *canon.TokenUsage) *RecordUsage {
	if u == nil {
		return nil
	}
	return &RecordUsage{InputTokens: u.InputTokens, OutputTokens: u.OutputTokens}
}
