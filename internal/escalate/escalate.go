// Package escalate decides nothing about when to hand off; it only executes
// the handoff: mint one ticket per conversation, build the messaging deep
// link, and mark the conversation escalated. Escalation is idempotent: a
// second call for the same conversation returns the original ticket.
package escalate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"stibot/internal/safeio"
	"stibot/internal/store"
)

const ticketsFile = "tickets.ndjson"

// Ticket is created once per escalation and immutable thereafter.
type Ticket struct {
	ID             string    `json:"ticket_id"`
	ConversationID string    `json:"conversation_id"`
	CreatedAt      time.Time `json:"created_at"`
	Reason         string    `json:"reason"`
	Summary        string    `json:"summary"`
	HandoffLink    string    `json:"handoff_link"`
}

// Policy mints tickets and flips conversations to escalated.
type Policy struct {
	Store store.ConversationStore
	Phone string // technician WhatsApp number, international format, no plus

	fs *safeio.DataFS

	mu     sync.Mutex
	byConv map[string]Ticket
	loaded bool
}

func NewPolicy(fs *safeio.DataFS, st store.ConversationStore, phone string) *Policy {
	return &Policy{Store: st, Phone: phone, fs: fs, byConv: make(map[string]Ticket)}
}

// Escalate hands the conversation to a human. If the conversation already
// escalated, the existing ticket is returned and nothing is re-generated.
func (p *Policy) Escalate(ctx context.Context, sess *store.Session, reason string) (Ticket, error) {
	if sess == nil || sess.ConversationID == "" {
		return Ticket{}, fmt.Errorf("escalate: missing session")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureLoaded(); err != nil {
		return Ticket{}, err
	}

	if t, ok := p.byConv[sess.ConversationID]; ok {
		return t, nil
	}

	t := Ticket{
		ID:             uuid.NewString(),
		ConversationID: sess.ConversationID,
		CreatedAt:      time.Now().UTC(),
		Reason:         reason,
		Summary:        summarize(sess, reason),
	}
	t.HandoffLink = handoffLink(p.Phone, t)

	line, err := json.Marshal(t)
	if err != nil {
		return Ticket{}, fmt.Errorf("escalate: encode ticket: %w", err)
	}
	if err := p.fs.AppendLine(ticketsFile, line); err != nil {
		return Ticket{}, fmt.Errorf("escalate: persist ticket: %w", err)
	}
	p.byConv[sess.ConversationID] = t

	if err := p.Store.SetStatus(ctx, sess.ConversationID, store.StatusEscalated); err != nil {
		return Ticket{}, fmt.Errorf("escalate: mark conversation: %w", err)
	}
	if err := p.Store.AppendMarker(ctx, sess.ConversationID, "escalated", map[string]string{
		"ticket_id": t.ID,
		"reason":    reason,
	}); err != nil {
		return Ticket{}, fmt.Errorf("escalate: terminal event: %w", err)
	}
	return t, nil
}

// TicketFor returns the existing ticket for a conversation, if any.
func (p *Policy) TicketFor(conversationID string) (Ticket, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureLoaded(); err != nil {
		return Ticket{}, false
	}
	t, ok := p.byConv[conversationID]
	return t, ok
}

// ensureLoaded replays tickets.ndjson once so idempotence survives restarts.
// Caller holds p.mu.
func (p *Policy) ensureLoaded() error {
	if p.loaded {
		return nil
	}
	p.loaded = true
	data, err := p.fs.ReadFile(ticketsFile)
	if err != nil {
		return nil // no tickets yet
	}
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var t Ticket
		if err := json.Unmarshal(line, &t); err != nil {
			return fmt.Errorf("escalate: corrupt ticket line: %w", err)
		}
		if _, ok := p.byConv[t.ConversationID]; !ok {
			p.byConv[t.ConversationID] = t
		}
	}
	return sc.Err()
}

// summarize assembles the human-readable handoff summary from accumulated
// context fields.
func summarize(sess *store.Session, reason string) string {
	snap := sess.Snapshot()
	var b strings.Builder
	fmt.Fprintf(&b, "Conversación %s", sess.ConversationID)
	if name := snap["name"]; name != "" {
		fmt.Fprintf(&b, " — %s", name)
	}
	b.WriteString("\n")
	if v := snap["device"]; v != "" {
		fmt.Fprintf(&b, "Equipo: %s\n", v)
	}
	if v := snap["problem"]; v != "" {
		fmt.Fprintf(&b, "Problema: %s\n", v)
	}
	if v := snap["last_step"]; v != "" {
		fmt.Fprintf(&b, "Último paso intentado: %s\n", v)
	}
	if v := snap["contact_email"]; v != "" {
		fmt.Fprintf(&b, "Email: %s\n", v)
	}
	if v := snap["contact_phone"]; v != "" {
		fmt.Fprintf(&b, "Teléfono: %s\n", v)
	}
	fmt.Fprintf(&b, "Intentos: %d, aclaraciones: %d\n", sess.AttemptCount, sess.ClarifyCount)
	fmt.Fprintf(&b, "Motivo: %s", reason)
	return b.String()
}

func handoffLink(phone string, t Ticket) string {
	text := fmt.Sprintf("Ticket %s\n%s", t.ID, t.Summary)
	return fmt.Sprintf("https://wa.me/%s?text=%s", phone, url.QueryEscape(text))
}
