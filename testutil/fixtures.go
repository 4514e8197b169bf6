// Package testutil provides shared helpers for session-bridge tests:
// canonical message builders, file helpers, and an in-memory bubble database.
package testutil

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/iksnae/session-bridge/internal/canon"
)

// BaseTime is the deterministic timestamp fixtures start from.
var BaseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// TextMessage builds a plain text canonical message.
func TextMessage(id, sessionID string, role canon.Role, text string, at time.Time) canon.Message {
	return canon.Message{
		ID:        id,
		SessionID: sessionID,
		Timestamp: at,
		Role:      role,
		Type:      canon.TypeMessage,
		Content:   canon.Text{Text: text},
	}
}

// ToolCallMessage builds a tool invocation message.
func ToolCallMessage(id, sessionID, name, callID string, args string, at time.Time) canon.Message {
	return canon.Message{
		ID:        id,
		SessionID: sessionID,
		Timestamp: at,
		Role:      canon.RoleAssistant,
		Type:      canon.TypeToolUse,
		Content:   canon.ToolCall{Name: name, Args: json.RawMessage(args), CallID: callID},
	}
}

// ToolResultMessage builds a tool outcome message.
func ToolResultMessage(id, sessionID, callID string, result string, isError bool, at time.Time) canon.Message {
	return canon.Message{
		ID:        id,
		SessionID: sessionID,
		Timestamp: at,
		Role:      canon.RoleUser,
		Type:      canon.TypeToolResult,
		Content:   canon.ToolResult{CallID: callID, Result: json.RawMessage(result), IsError: isError},
	}
}

// MultiPartMessage builds an assistant turn with several tool call parts.
func MultiPartMessage(id, sessionID string, at time.Time, parts ...canon.Content) canon.Message {
	return canon.Message{
		ID:        id,
		SessionID: sessionID,
		Timestamp: at,
		Role:      canon.RoleAssistant,
		Type:      canon.TypeMessage,
		Content:   canon.Parts(parts),
	}
}

// Conversation builds an n-message alternating user/assistant conversation.
func Conversation(sessionID string, n int) []canon.Message {
	msgs := make([]canon.Message, 0, n)
	for i := 0; i < n; i++ {
		role := canon.RoleUser
		if i%2 == 1 {
			role = canon.RoleAssistant
		}
		msgs = append(msgs, TextMessage(
			fmt.Sprintf("msg-%03d", i),
			sessionID,
			role,
			fmt.Sprintf("message number %d", i),
			BaseTime.Add(time.Duration(i)*time.Minute),
		))
	}
	return msgs
}
