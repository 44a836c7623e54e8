// Package flow is the conversation stage machine. It resolves deterministic
// stages locally, gates the two LLM adapters behind validation and
// thresholds, and guarantees that whatever the model does, the user always
// gets a coherent reply with catalog-approved buttons.
package flow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"stibot/internal/catalog"
	"stibot/internal/classify"
	"stibot/internal/escalate"
	"stibot/internal/ident"
	"stibot/internal/stepgen"
	"stibot/internal/store"
)

var ErrUnknownConversation = errors.New("flow: unknown conversation")

// dedupWindow bounds how long a duplicate inbound message is replayed
// instead of reprocessed.
const dedupWindow = 30 * time.Second

// TurnRequest is one inbound user turn. Wire names follow the original API.
type TurnRequest struct {
	ConversationID string `json:"sessionId"`
	Text           string `json:"text,omitempty"`
	ButtonID       string `json:"buttonId,omitempty"`
	ImageRef       string `json:"imageRef,omitempty"`
}

// Turn is the engine's response to one turn.
type Turn struct {
	ConversationID  string           `json:"sessionId"`
	Reply           string           `json:"reply"`
	Stage           string           `json:"stage"`
	Buttons         []catalog.Entry  `json:"buttons"`
	EndConversation bool             `json:"endConversation"`
	Ticket          *escalate.Ticket `json:"ticket,omitempty"`
}

type Config struct {
	ClarifyThreshold int
	AttemptThreshold int
	// RiskAckLevel is the lowest classifier risk that interrupts the flow
	// with a one-time acknowledgment: "medium" (default) or "high".
	RiskAckLevel classify.RiskLevel
}

func (c Config) withDefaults() Config {
	if c.ClarifyThreshold <= 0 {
		c.ClarifyThreshold = 2
	}
	if c.AttemptThreshold <= 0 {
		c.AttemptThreshold = 2
	}
	if c.RiskAckLevel != classify.RiskHigh {
		c.RiskAckLevel = classify.RiskMedium
	}
	return c
}

// Engine orchestrates sessions, stores, adapters, and the escalation policy.
type Engine struct {
	sessions      store.SessionStore
	conversations store.ConversationStore
	alloc         *ident.Allocator
	classifier    *classify.Classifier
	generator     *stepgen.Generator
	policy        *escalate.Policy
	cfg           Config

	group singleflight.Group

	mu        sync.Mutex
	convLocks *lru.Cache[string, *sync.Mutex]
	replays   *lru.Cache[string, *Turn]
}

// engineCacheSize caps the per-conversation lock and replay caches. Evicted
// entries belong to conversations idle far past the dedup window.
const engineCacheSize = 1024

func NewEngine(
	sessions store.SessionStore,
	conversations store.ConversationStore,
	alloc *ident.Allocator,
	classifier *classify.Classifier,
	generator *stepgen.Generator,
	policy *escalate.Policy,
	cfg Config,
) *Engine {
	convLocks, _ := lru.New[string, *sync.Mutex](engineCacheSize)
	replays, _ := lru.New[string, *Turn](engineCacheSize)
	return &Engine{
		sessions:      sessions,
		conversations: conversations,
		alloc:         alloc,
		classifier:    classifier,
		generator:     generator,
		policy:        policy,
		cfg:           cfg.withDefaults(),
		convLocks:     convLocks,
		replays:       replays,
	}
}

// Greeting creates a new session/conversation pair and returns the consent
// prompt. Allocation failures are the only way this can fail.
func (e *Engine) Greeting(ctx context.Context) (*Turn, error) {
	id, err := e.alloc.Allocate(ctx)
	if err != nil {
		return nil, fmt.Errorf("flow: allocate conversation id: %w", err)
	}
	if err := e.conversations.Create(ctx, id); err != nil {
		return nil, err
	}

	sess := store.NewSession(id)
	e.sessions.Put(sess)

	turn := e.respond(ctx, sess, msg(sess, "greeting"), false)
	return turn, nil
}

// Handle processes one inbound turn. Adapter failures never surface here;
// the worst case is a degraded but coherent reply.
func (e *Engine) Handle(ctx context.Context, req TurnRequest) (*Turn, error) {
	if strings.TrimSpace(req.ConversationID) == "" {
		return e.Greeting(ctx)
	}

	hash := requestHash(req)
	key := req.ConversationID + ":" + hash
	v, err, _ := e.group.Do(key, func() (any, error) {
		return e.handleLocked(ctx, req, hash)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Turn), nil
}

func (e *Engine) handleLocked(ctx context.Context, req TurnRequest, hash string) (*Turn, error) {
	l := e.lockFor(req.ConversationID)
	l.Lock()
	defer l.Unlock()

	sess, ok := e.sessions.Get(req.ConversationID)
	if !ok {
		return nil, ErrUnknownConversation
	}

	// A duplicate inbound text inside the window is a client retry: replay
	// the previous response instead of reprocessing. Button presses are
	// exempt: pressing NOT_RESOLVED after two different steps is two
	// answers, not a retry. Concurrent double-clicks are already collapsed
	// by singleflight on the request hash.
	if req.ButtonID == "" && sess.LastTurnHash == hash && time.Since(sess.LastTurnAt) < dedupWindow {
		if cached, ok := e.replays.Get(req.ConversationID); ok {
			return cached, nil
		}
	}

	in := resolveInput(sess.Stage, req)
	e.recordUserEvent(ctx, sess.ConversationID, in)

	def, ok := transitions[sess.Stage]
	if !ok {
		return nil, fmt.Errorf("flow: session in unknown stage %q", sess.Stage)
	}
	prior := sess.Stage
	turn := def.handle(e, ctx, sess, in)
	if sess.Stage != prior {
		if err := e.conversations.AppendMarker(ctx, sess.ConversationID, "stage_changed", map[string]string{
			"from": string(prior),
			"to":   string(sess.Stage),
		}); err != nil {
			log.Printf("flow: stage marker: %v", err)
		}
	}

	sess.LastTurnHash = hash
	sess.LastTurnAt = time.Now()
	e.sessions.Put(sess)
	e.replays.Add(req.ConversationID, turn)
	return turn, nil
}

// input is one resolved inbound message: the token if the user pressed a
// button (or typed an exact alias of one), plus the raw text.
type input struct {
	token string
	text  string
}

func resolveInput(stage catalog.Stage, req TurnRequest) input {
	in := input{text: strings.TrimSpace(req.Text)}
	if req.ButtonID != "" {
		// A pressed button only counts if the catalog allows it for the
		// current stage; anything else is treated as noise.
		if catalog.Contains(stage, req.ButtonID) {
			in.token = req.ButtonID
		}
		return in
	}
	if tok, ok := catalog.Match(stage, in.text); ok {
		in.token = tok
	}
	return in
}

func (e *Engine) recordUserEvent(ctx context.Context, id string, in input) {
	var ev store.Event
	switch {
	case in.token != "":
		ev = store.ButtonEvent(store.RoleUser, in.token)
	case in.text != "":
		ev = store.TextEvent(store.RoleUser, in.text)
	default:
		return
	}
	if err := e.conversations.Append(ctx, id, ev); err != nil {
		log.Printf("flow: append user event: %v", err)
	}
}

// respond finalizes a turn for the session's current stage: buttons are
// drawn from (and filtered against) the catalog entry for the RESULTING
// stage, and the bot event is appended to the transcript.
func (e *Engine) respond(ctx context.Context, sess *store.Session, reply string, end bool, buttons ...catalog.Entry) *Turn {
	if len(buttons) == 0 {
		buttons = catalog.AllowedFor(sess.Stage)
	} else {
		buttons = catalog.Filter(sess.Stage, buttons)
	}
	if reply == "" {
		reply = msg(sess, "try_again")
	}
	turn := &Turn{
		ConversationID:  sess.ConversationID,
		Reply:           reply,
		Stage:           string(sess.Stage),
		Buttons:         buttons,
		EndConversation: end,
	}
	if err := e.conversations.Append(ctx, sess.ConversationID, store.TextEvent(store.RoleBot, reply)); err != nil {
		log.Printf("flow: append bot event: %v", err)
	}
	return turn
}

func (e *Engine) lockFor(id string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.convLocks.Get(id)
	if !ok {
		l = &sync.Mutex{}
		e.convLocks.Add(id, l)
	}
	return l
}

func requestHash(req TurnRequest) string {
	h := sha256.New()
	h.Write([]byte(req.Text))
	h.Write([]byte{0})
	h.Write([]byte(req.ButtonID))
	h.Write([]byte{0})
	h.Write([]byte(req.ImageRef))
	return hex.EncodeToString(h.Sum(nil))
}
