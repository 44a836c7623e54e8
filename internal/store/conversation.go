package store

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"stibot/internal/safeio"
)

var ErrNotFound = errors.New("store: conversation not found")

// dedupWindow is how long an identical consecutive event is considered a
// client retry and silently skipped.
const dedupWindow = 30 * time.Second

// ConversationStore is the durable source of truth for transcripts.
type ConversationStore interface {
	Create(ctx context.Context, id string) error
	Append(ctx context.Context, id string, events ...Event) error
	Load(ctx context.Context, id string) (*Conversation, error)
	SetStatus(ctx context.Context, id string, s Status) error
	AppendMarker(ctx context.Context, id, name string, payload any) error
}

// FileStore keeps one append-only NDJSON file per conversation under
// conversations/ in the data root. Appends are serialized per conversation
// to preserve transcript ordering.
type FileStore struct {
	fs *safeio.DataFS

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	last  map[string]lastAppend
}

type lastAppend struct {
	hash string
	at   time.Time
}

func NewFileStore(fs *safeio.DataFS) *FileStore {
	return &FileStore{
		fs:    fs,
		locks: make(map[string]*sync.Mutex),
		last:  make(map[string]lastAppend),
	}
}

func convPath(id string) string {
	return filepath.Join("conversations", id+".ndjson")
}

func (s *FileStore) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// Create starts an empty conversation log with an open-status event.
func (s *FileStore) Create(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("store: empty conversation id")
	}
	return s.Append(ctx, id, StatusEvent(StatusOpen))
}

// Append adds events to the conversation log in order. An event identical to
// the previous append within a short window is treated as a client retry and
// skipped rather than reprocessed.
func (s *FileStore) Append(ctx context.Context, id string, events ...Event) error {
	if id == "" {
		return errors.New("store: empty conversation id")
	}
	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()

	for _, e := range events {
		h := contentHash(e)
		s.mu.Lock()
		prev, had := s.last[id]
		s.mu.Unlock()
		if had && prev.hash == h && e.Role == RoleUser && time.Since(prev.at) < dedupWindow {
			continue
		}
		line, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("store: encode event: %w", err)
		}
		if err := s.fs.AppendLine(convPath(id), line); err != nil {
			return fmt.Errorf("store: append event: %w", err)
		}
		if e.Role == RoleUser {
			s.mu.Lock()
			s.last[id] = lastAppend{hash: h, at: time.Now()}
			s.mu.Unlock()
		}
	}
	return nil
}

// Load rebuilds the conversation record by streaming the event log.
func (s *FileStore) Load(ctx context.Context, id string) (*Conversation, error) {
	data, err := s.fs.ReadFile(convPath(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: read log: %w", err)
	}

	conv := &Conversation{ID: id, Status: StatusOpen}
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("store: corrupt event line: %w", err)
		}
		if st, ok := statusOf(e); ok {
			conv.Status = st
		}
		conv.Events = append(conv.Events, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("store: scan log: %w", err)
	}
	if len(conv.Events) > 0 {
		conv.CreatedAt = conv.Events[0].Timestamp
		conv.UpdatedAt = conv.Events[len(conv.Events)-1].Timestamp
	}
	return conv, nil
}

// SetStatus appends a status-change event; the log itself stays append-only.
func (s *FileStore) SetStatus(ctx context.Context, id string, st Status) error {
	return s.Append(ctx, id, StatusEvent(st))
}

// AppendMarker implements the adapter-side marker contract.
func (s *FileStore) AppendMarker(ctx context.Context, id, name string, payload any) error {
	return s.Append(ctx, id, MarkerEvent(name, payload))
}

func contentHash(e Event) string {
	h := sha256.New()
	h.Write([]byte(e.Role))
	h.Write([]byte{0})
	h.Write([]byte(e.Type))
	h.Write([]byte{0})
	h.Write(e.Payload)
	return hex.EncodeToString(h.Sum(nil))
}
