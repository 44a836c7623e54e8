package flow

import (
	"context"
	"fmt"
	"log"
	"strings"

	"stibot/internal/catalog"
	"stibot/internal/classify"
	"stibot/internal/store"
)

// stageDef is one row of the transition table: whether the stage resolves
// locally (the LLM is never invoked), which stages it may hand off to, and
// the handler that does it.
type stageDef struct {
	deterministic bool
	next          []catalog.Stage
	handle        func(e *Engine, ctx context.Context, sess *store.Session, in input) *Turn
}

// transitions is the full, inspectable stage graph.
var transitions = map[catalog.Stage]stageDef{
	catalog.StageAskConsent: {
		deterministic: true,
		next:          []catalog.Stage{catalog.StageAskLanguage, catalog.StageEnded},
		handle:        handleConsent,
	},
	catalog.StageAskLanguage: {
		deterministic: true,
		next:          []catalog.Stage{catalog.StageAskName},
		handle:        handleLanguage,
	},
	catalog.StageAskName: {
		deterministic: true,
		next:          []catalog.Stage{catalog.StageAskUserLevel},
		handle:        handleName,
	},
	catalog.StageAskUserLevel: {
		deterministic: true,
		next:          []catalog.Stage{catalog.StageAskDevice},
		handle:        handleUserLevel,
	},
	catalog.StageAskDevice: {
		deterministic: true,
		next:          []catalog.Stage{catalog.StageAskProblem},
		handle:        handleDevice,
	},
	catalog.StageAskProblem: {
		next: []catalog.Stage{
			catalog.StageAskClarification,
			catalog.StageRiskAck,
			catalog.StageDiagnosticStep,
			catalog.StageEscalate,
		},
		handle: handleProblem,
	},
	catalog.StageAskClarification: {
		next: []catalog.Stage{
			catalog.StageAskClarification,
			catalog.StageRiskAck,
			catalog.StageDiagnosticStep,
			catalog.StageEscalate,
		},
		handle: handleClarification,
	},
	catalog.StageRiskAck: {
		deterministic: true,
		next:          []catalog.Stage{catalog.StageDiagnosticStep, catalog.StageEscalate},
		handle:        handleRiskAck,
	},
	catalog.StageDiagnosticStep: {
		next: []catalog.Stage{
			catalog.StageDiagnosticStep,
			catalog.StageAskFeedback,
			catalog.StageEscalate,
		},
		handle: handleDiagnostic,
	},
	catalog.StageEscalate: {
		deterministic: true,
		next:          []catalog.Stage{catalog.StageEnded},
		handle:        handleEscalateContact,
	},
	catalog.StageAskFeedback: {
		deterministic: true,
		next:          []catalog.Stage{catalog.StageEnded},
		handle:        handleFeedback,
	},
	catalog.StageEnded: {
		deterministic: true,
		handle:        handleEnded,
	},
}

// Next exposes the allowed successor stages, for inspection and tests.
func Next(s catalog.Stage) []catalog.Stage {
	def, ok := transitions[s]
	if !ok {
		return nil
	}
	out := make([]catalog.Stage, len(def.next))
	copy(out, def.next)
	return out
}

// Deterministic reports whether a stage resolves without any LLM call.
func Deterministic(s catalog.Stage) bool {
	return transitions[s].deterministic
}

// ---- deterministic onboarding stages ----

func handleConsent(e *Engine, ctx context.Context, sess *store.Session, in input) *Turn {
	switch in.token {
	case "BTN_ACCEPT":
		sess.Stage = catalog.StageAskLanguage
		return e.respond(ctx, sess, msg(sess, "ask_language"), false)
	case "BTN_DECLINE":
		sess.Stage = catalog.StageEnded
		if err := e.conversations.SetStatus(ctx, sess.ConversationID, store.StatusClosed); err != nil {
			log.Printf("flow: close declined conversation: %v", err)
		}
		return e.respond(ctx, sess, msg(sess, "declined"), true)
	}
	return e.respond(ctx, sess, msg(sess, "consent_retry"), false)
}

var languageByToken = map[string]string{
	"BTN_LANG_ES_AR": "es-AR",
	"BTN_LANG_ES_ES": "es-ES",
	"BTN_LANG_EN":    "en",
}

func handleLanguage(e *Engine, ctx context.Context, sess *store.Session, in input) *Turn {
	lang, ok := languageByToken[in.token]
	if !ok {
		return e.respond(ctx, sess, msg(sess, "ask_language"), false)
	}
	sess.Language = lang
	sess.Stage = catalog.StageAskName
	return e.respond(ctx, sess, msg(sess, "ask_name"), false)
}

func handleName(e *Engine, ctx context.Context, sess *store.Session, in input) *Turn {
	switch {
	case in.token == "BTN_NO_NAME":
		sess.Name = ""
	case in.text != "":
		sess.Name = truncate(in.text, 80)
	default:
		return e.respond(ctx, sess, msg(sess, "ask_name"), false)
	}
	sess.Stage = catalog.StageAskUserLevel
	return e.respond(ctx, sess, fmt.Sprintf(msg(sess, "ask_user_level"), displayName(sess)), false)
}

func handleUserLevel(e *Engine, ctx context.Context, sess *store.Session, in input) *Turn {
	switch in.token {
	case "BTN_HELP":
		sess.UserLevel = "guided"
	case "BTN_TASK":
		sess.UserLevel = "task"
	default:
		return e.respond(ctx, sess, fmt.Sprintf(msg(sess, "ask_user_level"), displayName(sess)), false)
	}
	sess.Stage = catalog.StageAskDevice
	return e.respond(ctx, sess, msg(sess, "ask_device"), false)
}

func handleDevice(e *Engine, ctx context.Context, sess *store.Session, in input) *Turn {
	switch {
	case in.token != "":
		if entry, ok := catalog.Lookup(catalog.StageAskDevice, in.token); ok {
			sess.Context["device"] = entry.Value
		}
	case in.text != "":
		sess.Context["device"] = truncate(in.text, 120)
	default:
		return e.respond(ctx, sess, msg(sess, "ask_device"), false)
	}
	sess.Stage = catalog.StageAskProblem
	return e.respond(ctx, sess, msg(sess, "ask_problem"), false)
}

// ---- AI-governed stages ----

func handleProblem(e *Engine, ctx context.Context, sess *store.Session, in input) *Turn {
	if in.text == "" {
		return e.respond(ctx, sess, msg(sess, "ask_problem"), false)
	}
	sess.Context["problem"] = truncate(in.text, 500)
	res := e.classifier.Classify(ctx, sess.ConversationID, sess.Snapshot(), in.text)
	return e.applyClassification(ctx, sess, res)
}

func handleClarification(e *Engine, ctx context.Context, sess *store.Session, in input) *Turn {
	if in.text == "" {
		return e.respond(ctx, sess, msg(sess, "ask_clarification"), false)
	}
	sess.Context["problem"] = truncate(sess.Context["problem"]+" / "+in.text, 500)
	res := e.classifier.Classify(ctx, sess.ConversationID, sess.Snapshot(), in.text)
	return e.applyClassification(ctx, sess, res)
}

// applyClassification drives the ASK_PROBLEM outcome: clarification loop,
// one-time risk acknowledgment, or the first diagnostic step. A fallback
// judgment is a valid (degraded) result and flows through the same rules.
func (e *Engine) applyClassification(ctx context.Context, sess *store.Session, res classify.Result) *Turn {
	cls := res.Classification
	sess.Context["intent"] = cls.Intent
	sess.Context["risk"] = string(cls.RiskLevel)

	if cls.NeedsClarification {
		sess.ClarifyCount++
		if sess.ClarifyCount >= e.cfg.ClarifyThreshold {
			// Escalate without ever invoking the step generator.
			return e.startEscalation(ctx, sess, "clarification threshold reached")
		}
		sess.Stage = catalog.StageAskClarification
		return e.respond(ctx, sess, msg(sess, "ask_clarification"), false)
	}

	if riskAtOrAbove(cls.RiskLevel, e.cfg.RiskAckLevel) && !sess.RiskAcked {
		// The acknowledgment comes before the first diagnostic step, for
		// medium as well as high.
		sess.Stage = catalog.StageRiskAck
		return e.respond(ctx, sess, msg(sess, "risk_warning"), false)
	}

	return e.diagnosticStep(ctx, sess)
}

func handleRiskAck(e *Engine, ctx context.Context, sess *store.Session, in input) *Turn {
	switch in.token {
	case "BTN_RISK_OK":
		sess.RiskAcked = true
		return e.diagnosticStep(ctx, sess)
	case "BTN_RISK_STOP":
		return e.startEscalation(ctx, sess, "user declined risky self-service")
	}
	return e.respond(ctx, sess, msg(sess, "risk_warning"), false)
}

// diagnosticStep invokes the step generator and moves to DIAGNOSTIC_STEP.
// The generated step summary is folded back into the context so the next
// invocation does not repeat itself.
func (e *Engine) diagnosticStep(ctx context.Context, sess *store.Session) *Turn {
	sess.Stage = catalog.StageDiagnosticStep
	allowed := catalog.AllowedFor(catalog.StageDiagnosticStep)
	step := e.generator.NextStep(ctx, sess.Snapshot(), catalog.StageDiagnosticStep, allowed)

	summary := truncate(step.Reply, 160)
	sess.Context["last_step"] = summary
	if prior := sess.Context["prior_steps"]; prior == "" {
		sess.Context["prior_steps"] = summary
	} else {
		sess.Context["prior_steps"] = truncate(prior+" | "+summary, 1000)
	}
	return e.respond(ctx, sess, step.Reply, false, step.Buttons...)
}

func handleDiagnostic(e *Engine, ctx context.Context, sess *store.Session, in input) *Turn {
	switch in.token {
	case "RESOLVED":
		sess.Stage = catalog.StageAskFeedback
		return e.respond(ctx, sess, msg(sess, "ask_feedback"), false)
	case "NOT_RESOLVED":
		sess.AttemptCount++
		if sess.AttemptCount >= e.cfg.AttemptThreshold {
			return e.startEscalation(ctx, sess, "attempt threshold reached")
		}
		return e.diagnosticStep(ctx, sess)
	case "NEED_HELP":
		return e.startEscalation(ctx, sess, "user requested a technician")
	}
	if in.text != "" {
		// Extra detail between steps refines the context without burning
		// an attempt.
		sess.Context["detail"] = truncate(in.text, 300)
		return e.diagnosticStep(ctx, sess)
	}
	return e.respond(ctx, sess, msg(sess, "try_again"), false)
}

// ---- escalation contact capture and terminal stages ----

func (e *Engine) startEscalation(ctx context.Context, sess *store.Session, reason string) *Turn {
	sess.Context["escalate_reason"] = reason
	sess.Stage = catalog.StageEscalate
	return e.respond(ctx, sess, msg(sess, "ask_contact_email"), false)
}

func handleEscalateContact(e *Engine, ctx context.Context, sess *store.Session, in input) *Turn {
	if _, ok := sess.Context["contact_email"]; !ok {
		switch {
		case in.token == "BTN_SKIP":
			sess.Context["contact_email"] = ""
		case looksLikeEmail(in.text):
			sess.Context["contact_email"] = in.text
		default:
			return e.respond(ctx, sess, msg(sess, "contact_email_retry"), false)
		}
		return e.respond(ctx, sess, msg(sess, "ask_contact_phone"), false)
	}

	if _, ok := sess.Context["contact_phone"]; !ok {
		switch {
		case in.token == "BTN_SKIP":
			sess.Context["contact_phone"] = ""
		case looksLikePhone(in.text):
			sess.Context["contact_phone"] = in.text
		default:
			return e.respond(ctx, sess, msg(sess, "ask_contact_phone"), false)
		}
	}

	ticket, err := e.policy.Escalate(ctx, sess, sess.Context["escalate_reason"])
	if err != nil {
		// Retryable: leave the session in ESCALATE and let the user nudge
		// again rather than losing the conversation.
		log.Printf("flow: escalate failed for %s: %v", sess.ConversationID, err)
		return e.respond(ctx, sess, msg(sess, "try_again"), false)
	}

	sess.Stage = catalog.StageEnded
	turn := e.respond(ctx, sess, fmt.Sprintf(msg(sess, "ticket_created"), ticket.ID, ticket.HandoffLink), true)
	turn.Ticket = &ticket
	return turn
}

func handleFeedback(e *Engine, ctx context.Context, sess *store.Session, in input) *Turn {
	feedback := in.token
	if feedback == "" {
		feedback = truncate(in.text, 200)
	}
	if err := e.conversations.AppendMarker(ctx, sess.ConversationID, "feedback", map[string]string{"value": feedback}); err != nil {
		log.Printf("flow: feedback marker: %v", err)
	}
	if err := e.conversations.SetStatus(ctx, sess.ConversationID, store.StatusClosed); err != nil {
		log.Printf("flow: close conversation: %v", err)
	}
	sess.Stage = catalog.StageEnded
	return e.respond(ctx, sess, msg(sess, "goodbye"), true)
}

func handleEnded(e *Engine, ctx context.Context, sess *store.Session, in input) *Turn {
	return e.respond(ctx, sess, msg(sess, "ended"), true)
}

// ---- helpers ----

var riskRank = map[classify.RiskLevel]int{
	classify.RiskLow:    0,
	classify.RiskMedium: 1,
	classify.RiskHigh:   2,
}

func riskAtOrAbove(level, threshold classify.RiskLevel) bool {
	return riskRank[level] >= riskRank[threshold]
}

func looksLikeEmail(s string) bool {
	at := strings.Index(s, "@")
	return at > 0 && strings.Contains(s[at:], ".") && !strings.ContainsAny(s, " \t")
}

func looksLikePhone(s string) bool {
	digits := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits >= 6
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
