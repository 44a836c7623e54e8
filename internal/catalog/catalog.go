// Package catalog is the single source of truth for what a user may ever see
// as an actionable control. Every component filters buttons through it; no
// component may synthesize a token that is not declared here. Tokens are
// stable across releases once published.
package catalog

import "strings"

// Stage is a named state in the conversation FSM.
type Stage string

const (
	StageAskConsent       Stage = "ASK_CONSENT"
	StageAskLanguage      Stage = "ASK_LANGUAGE"
	StageAskName          Stage = "ASK_NAME"
	StageAskUserLevel     Stage = "ASK_USER_LEVEL"
	StageAskDevice        Stage = "ASK_DEVICE"
	StageAskProblem       Stage = "ASK_PROBLEM"
	StageAskClarification Stage = "ASK_PROBLEM_CLARIFICATION"
	StageDiagnosticStep   Stage = "DIAGNOSTIC_STEP"
	StageRiskAck          Stage = "RISK_ACK"
	StageEscalate         Stage = "ESCALATE"
	StageAskFeedback      Stage = "ASK_FEEDBACK"
	StageEnded            Stage = "ENDED"
)

// Entry is one user-selectable control: an opaque stable token, a display
// label, a canonical free-text value, and extra free-text aliases.
type Entry struct {
	Token   string   `json:"token"`
	Label   string   `json:"label"`
	Value   string   `json:"value,omitempty"`
	Aliases []string `json:"-"`
}

var stages = []Stage{
	StageAskConsent,
	StageAskLanguage,
	StageAskName,
	StageAskUserLevel,
	StageAskDevice,
	StageAskProblem,
	StageAskClarification,
	StageDiagnosticStep,
	StageRiskAck,
	StageEscalate,
	StageAskFeedback,
	StageEnded,
}

var allowed = map[Stage][]Entry{
	StageAskConsent: {
		{Token: "BTN_ACCEPT", Label: "Acepto", Value: "acepto", Aliases: []string{"si", "sí", "yes", "ok", "dale", "de acuerdo"}},
		{Token: "BTN_DECLINE", Label: "No acepto", Value: "no", Aliases: []string{"no acepto", "rechazar"}},
	},
	StageAskLanguage: {
		{Token: "BTN_LANG_ES_AR", Label: "Español (Argentina)", Value: "es-ar", Aliases: []string{"argentina", "español argentina"}},
		{Token: "BTN_LANG_ES_ES", Label: "Español (España)", Value: "es-es", Aliases: []string{"españa", "espana", "español españa"}},
		{Token: "BTN_LANG_EN", Label: "English", Value: "en", Aliases: []string{"english", "ingles", "inglés"}},
	},
	StageAskName: {
		{Token: "BTN_NO_NAME", Label: "Prefiero no decirlo", Value: "anonimo", Aliases: []string{"anónimo", "no", "prefiero no decirlo"}},
	},
	StageAskUserLevel: {
		{Token: "BTN_HELP", Label: "Necesito ayuda con un problema", Value: "ayuda", Aliases: []string{"problema", "help", "no anda", "falla"}},
		{Token: "BTN_TASK", Label: "Quiero hacer una tarea puntual", Value: "tarea", Aliases: []string{"instalar", "configurar", "task"}},
	},
	StageAskDevice: {
		{Token: "BTN_DEVICE_NOTEBOOK", Label: "Notebook / PC portátil", Value: "notebook", Aliases: []string{"laptop", "portatil", "portátil", "compu"}},
		{Token: "BTN_DEVICE_DESKTOP", Label: "PC de escritorio", Value: "desktop", Aliases: []string{"pc", "escritorio", "torre"}},
		{Token: "BTN_DEVICE_NETWORK", Label: "Router / red", Value: "red", Aliases: []string{"router", "wifi", "modem", "internet", "mikrotik", "microtik"}},
		{Token: "BTN_DEVICE_TV", Label: "TV / Stick TV", Value: "tv", Aliases: []string{"stick", "stick tv", "televisor", "smart tv"}},
		{Token: "BTN_DEVICE_OTHER", Label: "Otro dispositivo", Value: "otro", Aliases: []string{"other", "celular", "impresora"}},
	},
	StageAskProblem:       nil,
	StageAskClarification: nil,
	StageDiagnosticStep: {
		{Token: "RESOLVED", Label: "Se solucionó", Value: "se soluciono", Aliases: []string{"se solucionó", "listo", "funciona", "solved"}},
		{Token: "NOT_RESOLVED", Label: "Sigue igual", Value: "sigue igual", Aliases: []string{"no funciona", "sigue sin andar", "no se soluciono", "no se solucionó"}},
		{Token: "NEED_HELP", Label: "Quiero hablar con un técnico", Value: "tecnico", Aliases: []string{"técnico", "humano", "persona", "ayuda"}},
	},
	StageRiskAck: {
		{Token: "BTN_RISK_OK", Label: "Entiendo, continuar", Value: "continuar", Aliases: []string{"entiendo", "seguir", "ok"}},
		{Token: "BTN_RISK_STOP", Label: "Prefiero un técnico", Value: "tecnico", Aliases: []string{"técnico", "parar", "no"}},
	},
	StageEscalate: {
		{Token: "BTN_SKIP", Label: "Omitir", Value: "omitir", Aliases: []string{"skip", "no", "saltar"}},
	},
	StageAskFeedback: {
		{Token: "BTN_FEEDBACK_GOOD", Label: "Me sirvió", Value: "bien", Aliases: []string{"me sirvio", "me sirvió", "util", "útil", "excelente"}},
		{Token: "BTN_FEEDBACK_BAD", Label: "No me sirvió", Value: "mal", Aliases: []string{"no me sirvio", "no me sirvió", "inutil", "inútil"}},
	},
	StageEnded: nil,
}

// fallbacks holds the canonical 1-2 button substitute per stage, used when
// anti-hallucination filtering empties a generated button set.
var fallbacks = map[Stage][]string{
	StageDiagnosticStep: {"RESOLVED", "NOT_RESOLVED"},
	StageRiskAck:        {"BTN_RISK_OK", "BTN_RISK_STOP"},
	StageAskConsent:     {"BTN_ACCEPT", "BTN_DECLINE"},
	StageAskFeedback:    {"BTN_FEEDBACK_GOOD", "BTN_FEEDBACK_BAD"},
}

// Stages returns the fixed stage set in flow order.
func Stages() []Stage {
	out := make([]Stage, len(stages))
	copy(out, stages)
	return out
}

// Known reports whether s is a member of the fixed stage set.
func Known(s Stage) bool {
	_, ok := allowed[s]
	return ok
}

// AllowedFor returns the ordered allowed entries for a stage.
// Unknown stages yield an empty list.
func AllowedFor(s Stage) []Entry {
	entries := allowed[s]
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}

// Contains reports whether token is allowed for the stage.
func Contains(s Stage, token string) bool {
	for _, e := range allowed[s] {
		if e.Token == token {
			return true
		}
	}
	return false
}

// Lookup finds the catalog entry for a token within a stage.
func Lookup(s Stage, token string) (Entry, bool) {
	for _, e := range allowed[s] {
		if e.Token == token {
			return e, true
		}
	}
	return Entry{}, false
}

// Filter keeps only entries whose token is allowed for the stage, preserving
// order. Tokens outside the catalog are dropped silently.
func Filter(s Stage, entries []Entry) []Entry {
	var out []Entry
	for _, e := range entries {
		if canonical, ok := Lookup(s, e.Token); ok {
			// The label is taken from the catalog, never from the caller.
			out = append(out, canonical)
		}
	}
	return out
}

// Fallback returns the canonical substitute button set for a stage.
func Fallback(s Stage) []Entry {
	var out []Entry
	for _, token := range fallbacks[s] {
		if e, ok := Lookup(s, token); ok {
			out = append(out, e)
		}
	}
	return out
}

// Match resolves free-form user text to a token for the stage by comparing
// against each entry's value and aliases. Matching is case-insensitive on
// trimmed text.
func Match(s Stage, text string) (string, bool) {
	needle := strings.ToLower(strings.TrimSpace(text))
	if needle == "" {
		return "", false
	}
	for _, e := range allowed[s] {
		if needle == strings.ToLower(e.Value) || needle == strings.ToLower(e.Label) {
			return e.Token, true
		}
		for _, alias := range e.Aliases {
			if needle == strings.ToLower(alias) {
				return e.Token, true
			}
		}
	}
	return "", false
}

// Tokens returns the allowed token list for a stage, for prompt construction.
func Tokens(s Stage) []string {
	entries := allowed[s]
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Token)
	}
	return out
}
