package store

import (
	"context"
	"errors"
	"testing"

	"stibot/internal/safeio"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	fs, err := safeio.NewDataFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewDataFS: %v", err)
	}
	return NewFileStore(fs)
}

func TestAppendAndLoadOrdered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.Create(ctx, "ab12cd"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Append(ctx, "ab12cd",
		TextEvent(RoleUser, "hola"),
		TextEvent(RoleBot, "¿en qué puedo ayudarte?"),
		ButtonEvent(RoleUser, "BTN_HELP"),
	); err != nil {
		t.Fatalf("append: %v", err)
	}

	conv, err := s.Load(ctx, "ab12cd")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if conv.Status != StatusOpen {
		t.Fatalf("status = %s", conv.Status)
	}
	// status event + 3 appends
	if len(conv.Events) != 4 {
		t.Fatalf("events = %d", len(conv.Events))
	}
	if conv.Events[1].Role != RoleUser || conv.Events[2].Role != RoleBot {
		t.Fatal("event order not preserved")
	}
	for i := 1; i < len(conv.Events); i++ {
		if conv.Events[i].Timestamp.Before(conv.Events[i-1].Timestamp) {
			t.Fatal("timestamps not monotonic")
		}
	}
}

func TestLoadMissingConversation(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Load(context.Background(), "nope42"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDuplicateUserEventSkipped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.Create(ctx, "ab12cd"); err != nil {
		t.Fatalf("create: %v", err)
	}
	e := TextEvent(RoleUser, "mi compu no enciende")
	if err := s.Append(ctx, "ab12cd", e); err != nil {
		t.Fatalf("append: %v", err)
	}
	// Client retry: identical payload inside the window.
	if err := s.Append(ctx, "ab12cd", e); err != nil {
		t.Fatalf("retry append: %v", err)
	}
	conv, err := s.Load(ctx, "ab12cd")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(conv.Events) != 2 {
		t.Fatalf("duplicate was appended, events = %d", len(conv.Events))
	}
}

func TestBotEventsNeverDeduplicated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.Create(ctx, "ab12cd"); err != nil {
		t.Fatalf("create: %v", err)
	}
	e := TextEvent(RoleBot, "probemos de nuevo")
	if err := s.Append(ctx, "ab12cd", e, e); err != nil {
		t.Fatalf("append: %v", err)
	}
	conv, _ := s.Load(ctx, "ab12cd")
	if len(conv.Events) != 3 {
		t.Fatalf("bot repeat was dropped, events = %d", len(conv.Events))
	}
}

func TestSetStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.Create(ctx, "ab12cd"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.SetStatus(ctx, "ab12cd", StatusEscalated); err != nil {
		t.Fatalf("set status: %v", err)
	}
	conv, err := s.Load(ctx, "ab12cd")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if conv.Status != StatusEscalated {
		t.Fatalf("status = %s", conv.Status)
	}
}

func TestSessionSnapshot(t *testing.T) {
	sess := NewSession("ab12cd")
	sess.Language = "es-AR"
	sess.Name = "Valeria"
	sess.Context["device"] = "notebook"
	snap := sess.Snapshot()
	if snap["device"] != "notebook" || snap["language"] != "es-AR" || snap["name"] != "Valeria" {
		t.Fatalf("snapshot = %v", snap)
	}
	// Mutating the snapshot must not touch the session.
	snap["device"] = "router"
	if sess.Context["device"] != "notebook" {
		t.Fatal("snapshot aliases session context")
	}
}

func TestMemorySessionStore(t *testing.T) {
	m, err := NewMemorySessionStore(2)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	m.Put(NewSession("one111"))
	m.Put(NewSession("two222"))
	if _, ok := m.Get("one111"); !ok {
		t.Fatal("session one missing")
	}
	// Third insert evicts the least recently used.
	m.Put(NewSession("three3"))
	if _, ok := m.Get("two222"); ok {
		t.Fatal("expected LRU eviction of two222")
	}
	m.Delete("three3")
	if _, ok := m.Get("three3"); ok {
		t.Fatal("delete failed")
	}
}
