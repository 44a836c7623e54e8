// Package stepgen produces exactly one next diagnostic instruction per call.
// Model output passes schema validation, an anti-hallucination button filter
// against the caller's allowed set, a single-step cut, and a coherence check
// before it may leave this package.
package stepgen

import (
	"context"
	"encoding/json"
	"log"
	"regexp"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"stibot/internal/catalog"
	"stibot/internal/llm"
	"stibot/internal/prompt"
)

// Step is one validated diagnostic instruction with its button set.
type Step struct {
	Reply    string
	Buttons  []catalog.Entry
	Fallback bool
}

const schemaJSON = `{
	"type": "object",
	"required": ["reply"],
	"properties": {
		"reply": {"type": "string", "minLength": 1},
		"buttons": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["token"],
				"properties": {
					"token": {"type": "string", "minLength": 1},
					"label": {"type": "string"}
				}
			}
		}
	}
}`

var schema = gojsonschema.NewStringLoader(schemaJSON)

var promptSpec = prompt.Spec{
	Purpose:    "Produce the single next diagnostic instruction for a guided technical-support conversation.",
	Background: "INPUT carries the session context: device, problem description, prior step summaries, and attempt count. The user already tried the prior steps without success.",
	OutputFields: []prompt.Field{
		{Name: "reply", Type: "string", Required: true, Description: "Exactly one instruction the user can perform now, optionally ending in one verification question."},
		{Name: "buttons", Type: "[]{token,label}", Required: false, Description: "Buttons the user answers with. token must come from allowed_tokens in INPUT."},
	},
	Constraints: []string{
		"Exactly ONE instruction. Never a numbered list of steps, never step 2.",
		"Do not repeat an instruction already listed in prior_steps.",
		"button tokens outside allowed_tokens are discarded.",
	},
	Rules: []string{
		"Keep the instruction concrete and performable without tools the user has not mentioned.",
	},
	OutputFormat: "A single JSON object. No markdown, no surrounding text.",
	Language:     "Use the language named in the context language field.",
}

// Generator is the adapter around the step-generation LLM call.
type Generator struct {
	LLM llm.LLMClient
	// CorrectIncoherence substitutes the canonical fallback buttons when the
	// reply and button set contradict each other. When false the
	// contradiction is only logged.
	CorrectIncoherence bool
}

var fallbackReplies = map[string]string{
	"es": "Probemos de nuevo: apagá el equipo por completo, esperá diez segundos y volvé a encenderlo. ¿Cambió algo?",
	"en": "Let's try again: power the device off completely, wait ten seconds, and turn it back on. Did anything change?",
}

// fallbackStep is the deterministic degraded step used on any transport,
// parse, or schema failure.
func fallbackStep(stage catalog.Stage, lang string) Step {
	reply := fallbackReplies["es"]
	if strings.HasPrefix(strings.ToLower(lang), "en") {
		reply = fallbackReplies["en"]
	}
	return Step{
		Reply:    reply,
		Buttons:  catalog.Fallback(stage),
		Fallback: true,
	}
}

// NextStep runs one bounded generation call and returns a validated step.
// It never returns an error: failures yield the deterministic fallback.
func (g *Generator) NextStep(ctx context.Context, snapshot map[string]string, stage catalog.Stage, allowed []catalog.Entry) Step {
	ctx = llm.WithPhase(ctx, "step")
	lang := snapshot["language"]

	input := map[string]any{
		"context":        snapshot,
		"allowed_tokens": tokensOf(allowed),
	}
	p, err := prompt.Build(promptSpec, input)
	if err != nil {
		log.Printf("stepgen: prompt build failed: %v", err)
		return fallbackStep(stage, lang)
	}

	raw, err := g.LLM.GenerateJSON(ctx, p, input)
	if err != nil {
		log.Printf("stepgen: llm call failed: %v", err)
		return fallbackStep(stage, lang)
	}

	step, err := g.parse(raw, stage, allowed)
	if err != nil {
		log.Printf("stepgen: %v", err)
		return fallbackStep(stage, lang)
	}
	return step
}

type rawStep struct {
	Reply   string `json:"reply"`
	Buttons []struct {
		Token string `json:"token"`
		Label string `json:"label"`
	} `json:"buttons"`
}

func (g *Generator) parse(raw json.RawMessage, stage catalog.Stage, allowed []catalog.Entry) (Step, error) {
	doc := gojsonschema.NewBytesLoader(raw)
	validation, err := gojsonschema.Validate(schema, doc)
	if err != nil {
		return Step{}, &llm.ParseError{Err: err}
	}
	if !validation.Valid() {
		reason := "invalid step"
		if errs := validation.Errors(); len(errs) > 0 {
			reason = errs[0].String()
		}
		return Step{}, &llm.SchemaError{Reason: reason}
	}

	var rs rawStep
	if err := json.Unmarshal(raw, &rs); err != nil {
		return Step{}, &llm.ParseError{Err: err}
	}

	reply := SingleStep(rs.Reply)
	if strings.TrimSpace(reply) == "" {
		return Step{}, &llm.SchemaError{Reason: "empty reply after single-step cut"}
	}

	buttons := filterButtons(rs, allowed)
	if len(buttons) == 0 && len(allowed) > 0 {
		// Filtering emptied the set but the stage expects controls.
		buttons = catalog.Fallback(stage)
	}

	if !coherent(reply, buttons) {
		if g.CorrectIncoherence {
			log.Printf("stepgen: incoherent reply/button pairing corrected")
			buttons = catalog.Fallback(stage)
		} else {
			log.Printf("stepgen: incoherent reply/button pairing flagged")
		}
	}

	return Step{Reply: reply, Buttons: buttons}, nil
}

// filterButtons keeps only tokens present in the allowed set, in the model's
// order, with labels canonicalized from the allowed entries. Unknown tokens
// are dropped silently.
func filterButtons(rs rawStep, allowed []catalog.Entry) []catalog.Entry {
	byToken := make(map[string]catalog.Entry, len(allowed))
	for _, e := range allowed {
		byToken[e.Token] = e
	}
	var out []catalog.Entry
	seen := make(map[string]bool)
	for _, b := range rs.Buttons {
		e, ok := byToken[b.Token]
		if !ok || seen[b.Token] {
			continue
		}
		seen[b.Token] = true
		out = append(out, e)
	}
	return out
}

var enumeratedStep = regexp.MustCompile(`(?m)^\s*(?:2[\.\)]|paso\s+2|step\s+2)\s`)

// SingleStep cuts a reply down to its first instruction block. Verbose model
// output that unrolls "1. ... 2. ..." sequences is truncated before the
// second item, and anything past the first two paragraphs is dropped.
func SingleStep(reply string) string {
	reply = strings.TrimSpace(reply)
	if loc := enumeratedStep.FindStringIndex(strings.ToLower(reply)); loc != nil {
		reply = strings.TrimSpace(reply[:loc[0]])
	}
	paras := strings.Split(reply, "\n\n")
	if len(paras) > 2 {
		paras = paras[:2]
	}
	out := strings.TrimSpace(strings.Join(paras, "\n\n"))
	// A leading "1." on the surviving item is noise once the list is gone.
	out = strings.TrimSpace(strings.TrimPrefix(out, "1."))
	return out
}

// positive/negative shaped tokens, for the yes/no coherence check.
var positiveTokens = map[string]bool{
	"RESOLVED": true, "BTN_ACCEPT": true, "BTN_RISK_OK": true, "BTN_FEEDBACK_GOOD": true,
}
var negativeTokens = map[string]bool{
	"NOT_RESOLVED": true, "BTN_DECLINE": true, "BTN_RISK_STOP": true, "BTN_FEEDBACK_BAD": true,
}

// coherent reports whether the reply and button set agree: a reply phrased
// as a question must ship with both an affirmative and a negative control.
func coherent(reply string, buttons []catalog.Entry) bool {
	if len(buttons) == 0 {
		return true
	}
	if !strings.Contains(reply, "?") && !strings.Contains(reply, "¿") {
		return true
	}
	var pos, neg bool
	for _, b := range buttons {
		if positiveTokens[b.Token] {
			pos = true
		}
		if negativeTokens[b.Token] {
			neg = true
		}
	}
	return pos && neg
}

func tokensOf(entries []catalog.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Token)
	}
	return out
}
