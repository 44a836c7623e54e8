package store

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"stibot/internal/catalog"
)

// Session is the transient per-conversation state owned by the stage machine.
type Session struct {
	ConversationID string
	Stage          catalog.Stage
	Language       string
	UserLevel      string
	Name           string
	// Context accumulates free-form fields used as LLM input (device,
	// problem, prior step summaries). Keys are additive; they are only
	// cleared on an explicit restart.
	Context map[string]string

	ClarifyCount int
	AttemptCount int
	RiskAcked    bool

	// Duplicate-turn suppression: hash and time of the last processed
	// inbound message.
	LastTurnHash string
	LastTurnAt   time.Time
}

func NewSession(conversationID string) *Session {
	return &Session{
		ConversationID: conversationID,
		Stage:          catalog.StageAskConsent,
		Context:        make(map[string]string),
	}
}

// Snapshot copies the context fields for use as LLM call input, augmented
// with the stable profile fields.
func (s *Session) Snapshot() map[string]string {
	out := make(map[string]string, len(s.Context)+3)
	for k, v := range s.Context {
		out[k] = v
	}
	if s.Language != "" {
		out["language"] = s.Language
	}
	if s.UserLevel != "" {
		out["user_level"] = s.UserLevel
	}
	if s.Name != "" {
		out["name"] = s.Name
	}
	return out
}

// SessionStore is the injected session registry; tests substitute their own.
type SessionStore interface {
	Get(conversationID string) (*Session, bool)
	Put(sess *Session)
	Delete(conversationID string)
}

// MemorySessionStore keeps active sessions in an LRU so abandoned
// conversations age out instead of accumulating forever.
type MemorySessionStore struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *Session]
}

func NewMemorySessionStore(size int) (*MemorySessionStore, error) {
	if size <= 0 {
		size = 1024
	}
	c, err := lru.New[string, *Session](size)
	if err != nil {
		return nil, err
	}
	return &MemorySessionStore{cache: c}, nil
}

func (m *MemorySessionStore) Get(conversationID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cache.Get(conversationID)
}

func (m *MemorySessionStore) Put(sess *Session) {
	if sess == nil || sess.ConversationID == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Add(sess.ConversationID, sess)
}

func (m *MemorySessionStore) Delete(conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Remove(conversationID)
}
