package diff

import (
	"fmt"
	"testing"
	"time"

	"github.com/iksnae/session-bridge/internal/canon"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func text(id, body string) canon.Message {
	return canon.Message{
		ID:        id,
		SessionID: "sess-1",
		Timestamp: base,
		Role:      canon.RoleUser,
		Type:      canon.TypeMessage,
		Content:   canon.Text{Text: body},
	}
}

func conversation(ids ...string) []canon.Message {
	msgs := make([]canon.Message, 0, len(ids))
	for _, id := range ids {
		msgs = append(msgs, text(id, "body of "+id))
	}
	return msgs
}

// assertTransforms checks the core diff law: applying the computed
// operations to before yields after (under the Similar predicate).
func assertTransforms(t *testing.T, before, after []canon.Message) Result {
	t.Helper()
	result := Compute(before, after)
	got, err := Apply(before, result.Operations)
	if err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	if len(got) != len(after) {
		t.Fatalf("Apply() produced %d messages, want %d", len(got), len(after))
	}
	for i := range got {
		if !Similar(got[i], after[i]) {
			t.Errorf("message %d: got %q, want %q", i, got[i].ID, after[i].ID)
		}
	}
	return result
}

func TestComputeTransforms(t *testing.T) {
	tests := []struct {
		name     string
		before   []canon.Message
		after    []canon.Message
		wantAdds int
	}{
		{name: "both empty", before: nil, after: nil, wantAdds: 0},
		{name: "all adds from empty", before: nil, after: conversation("a", "b", "c"), wantAdds: 3},
		{name: "all removes to empty", before: conversation("a", "b"), after: nil, wantAdds: 0},
		{name: "append one", before: conversation("a", "b"), after: conversation("a", "b", "c"), wantAdds: 1},
		{name: "insert middle", before: conversation("a", "c"), after: conversation("a", "b", "c"), wantAdds: 1},
		{name: "delete middle", before: conversation("a", "b", "c"), after: conversation("a", "c"), wantAdds: 0},
		{name: "fully disjoint", before: conversation("a", "b"), after: conversation("x", "y", "z"), wantAdds: 2},
		{name: "swap tail", before: conversation("a", "b", "c"), after: conversation("a", "b", "d"), wantAdds: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := assertTransforms(t, tt.before, tt.after)
			if got := CountAdds(result.Operations); got != tt.wantAdds {
				t.Errorf("CountAdds() = %d, want %d", got, tt.wantAdds)
			}
		})
	}
}

func TestComputeNoChanges(t *testing.T) {
	msgs := conversation("a", "b", "c")
	result := Compute(msgs, msgs)
	if result.HasChanges {
		t.Errorf("Compute(X, X).HasChanges = true, want false")
	}
	if len(result.Operations) != 0 {
		t.Errorf("Compute(X, X) produced %d operations, want 0", len(result.Operations))
	}
}

func TestApplyEmptyOpsIsNoop(t *testing.T) {
	msgs := conversation("a", "b")
	got, err := Apply(msgs, nil)
	if err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	if len(got) != len(msgs) {
		t.Fatalf("Apply(X, nil) changed length: got %d, want %d", len(got), len(msgs))
	}
	for i := range got {
		if got[i].ID != msgs[i].ID {
			t.Errorf("message %d changed: got %s, want %s", i, got[i].ID, msgs[i].ID)
		}
	}
}

func TestVolatileFieldsIgnored(t *testing.T) {
	before := conversation("a", "b")
	after := conversation("a", "b")

	// Change only volatile fields: timestamps, usage, provenance.
	after[0].Timestamp = base.Add(time.Hour)
	after[0].Metadata.Usage = &canon.TokenUsage{InputTokens: 500}
	after[1].Metadata.SourceStore = "other"
	after[1].Metadata.Extra = map[string]string{"cursor.groupId": "g1"}

	result := Compute(before, after)
	if result.HasChanges {
		t.Errorf("volatile-only differences produced %d operations", len(result.Operations))
	}
}

func TestSimilar(t *testing.T) {
	a := text("a", "hello")

	sameID := text("a", "completely different")
	if !Similar(a, sameID) {
		t.Error("messages with the same id should be similar")
	}

	sameContent := text("other-id", "hello")
	if !Similar(a, sameContent) {
		t.Error("messages with equal role/type/content should be similar")
	}

	different := text("other-id", "goodbye")
	if Similar(a, different) {
		t.Error("different content with different ids should not be similar")
	}

	toolCall := canon.Message{
		ID: "other-id", Role: canon.RoleUser, Type: canon.TypeToolUse,
		Content: canon.ToolCall{Name: "ls", CallID: "c1"},
	}
	if Similar(a, toolCall) {
		t.Error("different types should not be similar")
	}
}

func TestInPlaceEditBecomesModify(t *testing.T) {
	before := conversation("a", "b", "c")
	after := conversation("a", "b", "c")
	after[1].Content = canon.Text{Text: "edited"}

	result := Compute(before, after)
	if len(result.Operations) != 1 {
		t.Fatalf("got %d operations, want 1", len(result.Operations))
	}
	op := result.Operations[0]
	if op.Type != OpModify || op.Index != 1 {
		t.Errorf("got %s at %d, want modify at 1", op.Type, op.Index)
	}
	if op.OldMessage == nil || op.OldMessage.ID != "b" {
		t.Error("modify should carry the old message")
	}

	assertTransforms(t, before, after)
}

func TestReplaceCoalescesToModify(t *testing.T) {
	before := conversation("a", "b", "c")
	after := conversation("a", "x", "c")

	result := Compute(before, after)
	if len(result.Operations) != 1 {
		t.Fatalf("got %d operations, want 1 (coalesced modify)", len(result.Operations))
	}
	if result.Operations[0].Type != OpModify {
		t.Errorf("got %s, want modify", result.Operations[0].Type)
	}
	assertTransforms(t, before, after)
}

func TestOperationsAscendingByIndex(t *testing.T) {
	before := conversation("a", "b", "c", "d", "e")
	after := conversation("x", "a", "c", "y", "e", "z")

	result := Compute(before, after)
	last := -1
	for _, op := range result.Operations {
		if op.Index < last {
			t.Fatalf("operation indexes not ascending: %d after %d", op.Index, last)
		}
		last = op.Index
	}
	assertTransforms(t, before, after)
}

func TestApplyRejectsOutOfRange(t *testing.T) {
	msgs := conversation("a")
	bad := []Operation{{Type: OpRemove, Index: 5}}
	if _, err := Apply(msgs, bad); err == nil {
		t.Error("Apply() with out-of-range index should fail")
	}

	msg := text("x", "x")
	badAdd := []Operation{{Type: OpAdd, Index: 3, Message: &msg}}
	if _, err := Apply(msgs, badAdd); err == nil {
		t.Error("Apply() with out-of-range add should fail")
	}
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	before := conversation("a", "b")
	msg := text("x", "x")
	ops := []Operation{{Type: OpAdd, Index: 0, Message: &msg}}
	if _, err := Apply(before, ops); err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	if before[0].ID != "a" || len(before) != 2 {
		t.Error("Apply() mutated its input slice")
	}
}

func TestLargeShiftedConversation(t *testing.T) {
	// A sliding window over a long conversation: drop the first 20, add 20
	// new at the tail.
	var before, after []canon.Message
	for i := 0; i < 100; i++ {
		before = append(before, text(idOf(i), "body of "+idOf(i)))
	}
	for i := 20; i < 120; i++ {
		after = append(after, text(idOf(i), "body of "+idOf(i)))
	}
	result := assertTransforms(t, before, after)
	if got := CountAdds(result.Operations); got != 20 {
		t.Errorf("CountAdds() = %d, want 20", got)
	}
}

func idOf(i int) string {
	return fmt.Sprintf("turn-%03d", i)
}
