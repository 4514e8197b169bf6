package cursor

import (
	"errors"
	"testing"
	"time"

	"github.com/iksnae/session-bridge/internal/canon"
	"github.com/iksnae/session-bridge/internal/store"
	"github.com/iksnae/session-bridge/testutil"
)

func sampleConversation() []canon.Message {
	return []canon.Message{
		testutil.TextMessage("b1", "sess-1", canon.RoleUser, "hello", base),
		testutil.TextMessage("b2", "sess-1", canon.RoleAssistant, "hi", base.Add(time.Second)),
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	s := NewStore(t.TempDir(), 0)
	path := s.AfterFile("sess-1")

	if err := s.WriteConversation(path, sampleConversation(), "sess-1"); err != nil {
		t.Fatalf("WriteConversation() error: %v", err)
	}

	got, err := s.ReadConversation(path, "sess-1")
	if err != nil {
		t.Fatalf("ReadConversation() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("read %d messages, want 2", len(got))
	}
	if got[0].ID != "b1" || got[1].ID != "b2" {
		t.Errorf("ids = %q, %q; want b1, b2", got[0].ID, got[1].ID)
	}
	if got[0].SessionID != "sess-1" {
		t.Errorf("SessionID = %q, want sess-1", got[0].SessionID)
	}
	if !canon.ContentEqual(got[1].Content, canon.Text{Text: "hi"}) {
		t.Error("content changed across the round trip")
	}
}

func TestWriteReadToolConversation(t *testing.T) {
	s := NewStore(t.TempDir(), 0)
	path := s.AfterFile("sess-1")

	conv := []canon.Message{
		testutil.TextMessage("b1", "sess-1", canon.RoleUser, "list the files", base),
		testutil.ToolCallMessage("b2", "sess-1", "ls", "call-1", `{"path":"."}`, base.Add(time.Second)),
		testutil.ToolResultMessage("b3", "sess-1", "call-1", `{"files":["a.go"]}`, false, base.Add(2*time.Second)),
	}
	if err := s.WriteConversation(path, conv, "sess-1"); err != nil {
		t.Fatalf("WriteConversation() error: %v", err)
	}

	got, err := s.ReadConversation(path, "sess-1")
	if err != nil {
		t.Fatalf("ReadConversation() error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("read %d messages, want 3", len(got))
	}
	for i := range conv {
		if got[i].Type != conv[i].Type {
			t.Errorf("message %d type = %q, want %q", i, got[i].Type, conv[i].Type)
		}
		if !canon.ContentEqual(got[i].Content, conv[i].Content) {
			t.Errorf("message %d content changed across the round trip", i)
		}
	}
}

func TestReadMissingDatabaseIsEmpty(t *testing.T) {
	s := NewStore(t.TempDir(), 0)
	got, err := s.ReadConversation(s.AfterFile("nope"), "nope")
	if err != nil {
		t.Fatalf("ReadConversation() error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("missing database read %d messages, want 0", len(got))
	}
}

func TestWriteReplacesSessionRows(t *testing.T) {
	s := NewStore(t.TempDir(), 0)
	path := s.AfterFile("sess-1")

	if err := s.WriteConversation(path, sampleConversation(), "sess-1"); err != nil {
		t.Fatal(err)
	}
	// Shrink the conversation; stale trailing rows must not survive.
	if err := s.WriteConversation(path, sampleConversation()[:1], "sess-1"); err != nil {
		t.Fatal(err)
	}

	got, err := s.ReadConversation(path, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Errorf("rewrite left %d messages, want 1", len(got))
	}
}

func TestSessionsShareDatabaseNamespace(t *testing.T) {
	s := NewStore(t.TempDir(), 0)
	path := s.AfterFile("sess-1")

	if err := s.WriteConversation(path, sampleConversation(), "sess-1"); err != nil {
		t.Fatal(err)
	}
	other := []canon.Message{testutil.TextMessage("x1", "sess-2", canon.RoleUser, "other", base)}
	if err := s.WriteConversation(path, other, "sess-2"); err != nil {
		t.Fatal(err)
	}

	got, err := s.ReadConversation(path, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("sess-1 read %d messages after writing sess-2, want 2", len(got))
	}
}

func TestReadMalformedBubble(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, 0)
	path := s.AfterFile("sess-1")

	db := testutil.CreateBubbleDB(t, path)
	testutil.InsertKV(t, db, "bubble:sess-1:000000", "{not json")
	db.Close()

	_, err := s.ReadConversation(path, "sess-1")
	var convErr *store.ConversionError
	if !errors.As(err, &convErr) {
		t.Fatalf("ReadConversation() error = %v, want ConversionError", err)
	}
	if convErr.Record != "bubble:sess-1:000000" {
		t.Errorf("ConversionError.Record = %q, want the bubble key", convErr.Record)
	}
}

func TestInitializeStateIdempotent(t *testing.T) {
	s := NewStore(t.TempDir(), 0)

	if err := s.InitializeState("sess-1"); err != nil {
		t.Fatalf("InitializeState() error: %v", err)
	}
	if err := s.WriteConversation(s.AfterFile("sess-1"), sampleConversation(), "sess-1"); err != nil {
		t.Fatal(err)
	}
	if err := s.InitializeState("sess-1"); err != nil {
		t.Fatal(err)
	}

	got, err := s.ReadConversation(s.AfterFile("sess-1"), "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("re-initialize lost data: %d messages, want 2", len(got))
	}
}

func TestBackupCapturesAfterFile(t *testing.T) {
	s := NewStore(t.TempDir(), 0)
	if err := s.InitializeState("sess-1"); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteConversation(s.AfterFile("sess-1"), sampleConversation(), "sess-1"); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateBackupBeforeSave("sess-1"); err != nil {
		t.Fatalf("CreateBackupBeforeSave() error: %v", err)
	}

	before, err := s.ReadConversation(s.BeforeFile("sess-1"), "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(before) != 2 {
		t.Fatalf("backup has %d messages, want 2", len(before))
	}

	extended := append(sampleConversation(),
		testutil.TextMessage("b3", "sess-1", canon.RoleUser, "more", base.Add(2*time.Second)))
	if err := s.WriteConversation(s.AfterFile("sess-1"), extended, "sess-1"); err != nil {
		t.Fatal(err)
	}
	before, err = s.ReadConversation(s.BeforeFile("sess-1"), "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(before) != 2 {
		t.Errorf("backup drifted: %d messages, want 2", len(before))
	}

	if err := s.UpdateAfterSync("sess-1"); err != nil {
		t.Fatalf("UpdateAfterSync() error: %v", err)
	}
	before, err = s.ReadConversation(s.BeforeFile("sess-1"), "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(before) != 3 {
		t.Errorf("after UpdateAfterSync backup has %d messages, want 3", len(before))
	}
}

func TestUpdateSessionTracking(t *testing.T) {
	s := NewStore(t.TempDir(), 0)
	path := s.AfterFile("sess-1")

	if err := s.WriteConversation(path, sampleConversation(), "sess-1"); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateSessionTracking("sess-1"); err != nil {
		t.Fatalf("UpdateSessionTracking() error: %v", err)
	}

	db := testutil.CreateBubbleDB(t, path)
	defer db.Close()
	raw := testutil.QueryValue(t, db, "session:sess-1")

	var summary struct {
		BubbleCount int    `json:"bubbleCount"`
		UpdatedAt   string `json:"updatedAt"`
	}
	testutil.JSONUnmarshal(t, []byte(raw), &summary)
	if summary.BubbleCount != 2 {
		t.Errorf("bubbleCount = %d, want 2", summary.BubbleCount)
	}
	if summary.UpdatedAt == "" {
		t.Error("updatedAt not set")
	}

	// The summary row must not surface as conversation content.
	got, err := s.ReadConversation(path, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("read %d messages with summary row present, want 2", len(got))
	}
}
