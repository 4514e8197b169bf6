package claude

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/iksnae/session-bridge/internal/canon"
	"github.com/iksnae/session-bridge/internal/store"
	"github.com/iksnae/session-bridge/testutil"
)

func sampleConversation() []canon.Message {
	return []canon.Message{
		{
			ID: "u1", SessionID: "sess-1", Timestamp: base,
			Role: canon.RoleUser, Type: canon.TypeMessage,
			Content: canon.Text{Text: "hello"},
		},
		{
			ID: "a1", ParentID: "u1", SessionID: "sess-1", Timestamp: base.Add(time.Second),
			Role: canon.RoleAssistant, Type: canon.TypeMessage,
			Content: canon.Text{Text: "hi"},
		},
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
	if got[0].ID != "u1" || got[1].ID != "a1" {
		t.Errorf("ids = %q, %q; want u1, a1", got[0].ID, got[1].ID)
	}
	if !canon.ContentEqual(got[0].Content, canon.Text{Text: "hello"}) {
		t.Error("content changed across the round trip")
	}
}

func TestWriteReadLargeConversation(t *testing.T) {
	s := NewStore(t.TempDir(), 0)
	path := s.AfterFile("sess-1")

	conv := testutil.Conversation("sess-1", 40)
	if err := s.WriteConversation(path, conv, "sess-1"); err != nil {
		t.Fatalf("WriteConversation() error: %v", err)
	}

	got, err := s.ReadConversation(path, "sess-1")
	if err != nil {
		t.Fatalf("ReadConversation() error: %v", err)
	}
	if len(got) != len(conv) {
		t.Fatalf("read %d messages, want %d", len(got), len(conv))
	}
	for i := range conv {
		if got[i].ID != conv[i].ID {
			t.Fatalf("message %d id = %q, want %q", i, got[i].ID, conv[i].ID)
		}
		if !canon.ContentEqual(got[i].Content, conv[i].Content) {
			t.Errorf("message %d content changed across the round trip", i)
		}
	}
}

func TestWriteReadMultiPartMessage(t *testing.T) {
	s := NewStore(t.TempDir(), 0)
	path := s.AfterFile("sess-1")

	conv := []canon.Message{
		testutil.TextMessage("u1", "sess-1", canon.RoleUser, "run both", base),
		testutil.MultiPartMessage("a1", "sess-1", base.Add(time.Second),
			canon.ToolCall{Name: "ls", CallID: "c1"},
			canon.ToolCall{Name: "cat", CallID: "c2"},
		),
	}
	if err := s.WriteConversation(path, conv, "sess-1"); err != nil {
		t.Fatalf("WriteConversation() error: %v", err)
	}

	// The parts land as separate transcript records but must regroup into
	// one message on read.
	got, err := s.ReadConversation(path, "sess-1")
	if err != nil {
		t.Fatalf("ReadConversation() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("read %d messages, want 2", len(got))
	}
	parts, ok := got[1].Content.(canon.Parts)
	if !ok {
		t.Fatalf("multi-part message read back as %T, want canon.Parts", got[1].Content)
	}
	if len(parts) != 2 {
		t.Errorf("read %d parts, want 2", len(parts))
	}
}

func TestReadMissingFileIsEmpty(t *testing.T) {
	s := NewStore(t.TempDir(), 0)
	got, err := s.ReadConversation(s.AfterFile("nope"), "nope")
	if err != nil {
		t.Fatalf("ReadConversation() error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("missing transcript read %d messages, want 0", len(got))
	}
}

func TestReadMalformedLine(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, 0)
	path := s.AfterFile("sess-1")
	testutil.WriteFile(t, path, []byte("{not json\n"))

	_, err := s.ReadConversation(path, "sess-1")
	var convErr *store.ConversionError
	if !errors.As(err, &convErr) {
		t.Fatalf("ReadConversation() error = %v, want ConversionError", err)
	}
	if convErr.Store != StoreID {
		t.Errorf("ConversionError.Store = %q, want %q", convErr.Store, StoreID)
	}
}

func TestReadSkipsBlankLines(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, 0)
	path := s.AfterFile("sess-1")

	if err := s.WriteConversation(path, sampleConversation(), "sess-1"); err != nil {
		t.Fatal(err)
	}
	data := testutil.ReadFile(t, path)
	testutil.WriteFile(t, path, append([]byte("\n"), data...))

	got, err := s.ReadConversation(path, "sess-1")
	if err != nil {
		t.Fatalf("ReadConversation() error: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("read %d messages, want 2", len(got))
	}
}

func TestInitializeStateIdempotent(t *testing.T) {
	s := NewStore(t.TempDir(), 0)

	if err := s.InitializeState("sess-1"); err != nil {
		t.Fatalf("InitializeState() error: %v", err)
	}
	for _, path := range []string{s.AfterFile("sess-1"), s.BeforeFile("sess-1")} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("expected %s to exist: %v", path, err)
		}
	}

	// Populate, then re-initialize: content must survive.
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
		t.Errorf("re-initialize truncated the transcript: %d messages, want 2", len(got))
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

	// Mutate the after file; the backup must keep the old content.
	extended := append(sampleConversation(), canon.Message{
		ID: "u2", SessionID: "sess-1", Timestamp: base.Add(2 * time.Second),
		Role: canon.RoleUser, Type: canon.TypeMessage, Content: canon.Text{Text: "more"},
	})
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

	// UpdateAfterSync catches the backup up.
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

func TestWriteIsAtomicReplacement(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, 0)
	path := s.AfterFile("sess-1")

	if err := s.WriteConversation(path, sampleConversation(), "sess-1"); err != nil {
		t.Fatal(err)
	}
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

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("leftover temp file %s", e.Name())
		}
	}
}
