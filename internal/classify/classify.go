// Package classify turns free-form user text into a structured intent/risk
// judgment via a single bounded LLM call. Output is validated against an
// explicit schema; every failure mode degrades to a deterministic fallback,
// never to a user-facing error.
package classify

import (
	"context"
	"encoding/json"
	"log"

	"github.com/xeipuuv/gojsonschema"

	"stibot/internal/llm"
	"stibot/internal/prompt"
)

// RiskLevel is the classifier's judgment of how dangerous it would be to
// keep walking the user through automated steps.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Classification is the structured judgment over one problem description.
type Classification struct {
	Intent             string    `json:"intent"`
	NeedsClarification bool      `json:"needs_clarification"`
	Missing            []string  `json:"missing"`
	RiskLevel          RiskLevel `json:"risk_level"`
	Confidence         float64   `json:"confidence"`
}

// Result is the tagged outcome of a classification call. Downstream code
// switches on Fallback instead of optimistically reading model fields.
type Result struct {
	Classification Classification
	Fallback       bool
	Reason         string
}

// MarkerRecorder appends internal marker events to the conversation
// transcript. The raw prompt is never recorded, only the judgment.
type MarkerRecorder interface {
	AppendMarker(ctx context.Context, conversationID, name string, payload any) error
}

const schemaJSON = `{
	"type": "object",
	"required": ["intent", "needs_clarification", "risk_level", "confidence"],
	"properties": {
		"intent": {"type": "string", "minLength": 1},
		"needs_clarification": {"type": "boolean"},
		"missing": {"type": "array", "items": {"type": "string"}},
		"risk_level": {"type": "string", "enum": ["low", "medium", "high"]},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1}
	}
}`

var schema = gojsonschema.NewStringLoader(schemaJSON)

var promptSpec = prompt.Spec{
	Purpose:    "Classify a technical-support request into an intent and risk judgment.",
	Background: "A guided troubleshooting chatbot collected the session context in INPUT. The user_text field is the latest free-form message.",
	OutputFields: []prompt.Field{
		{Name: "intent", Type: "string", Required: true, Description: "Problem category, e.g. power, network, install, display, unknown."},
		{Name: "needs_clarification", Type: "bool", Required: true, Description: "True when the description is too vague to diagnose."},
		{Name: "missing", Type: "[]string", Required: false, Description: "Context fields still needed, e.g. device, model."},
		{Name: "risk_level", Type: "string", Required: true, Description: "One of low, medium, high. High means hardware damage or data loss is plausible."},
		{Name: "confidence", Type: "number", Required: true, Description: "0..1."},
	},
	Constraints: []string{
		"risk_level must be exactly one of: low, medium, high.",
		"Do not invent context that is not present in INPUT.",
	},
	Rules: []string{
		"If the text does not describe a technical problem, use intent \"unknown\" and needs_clarification true.",
	},
	OutputFormat: "A single JSON object. No markdown, no surrounding text.",
	Language:     "Match the language of user_text.",
}

// Classifier is the adapter around the classification LLM call.
type Classifier struct {
	LLM      llm.LLMClient
	Recorder MarkerRecorder
}

// fallback is the deterministic degraded judgment substituted on any
// transport, parse, or schema failure.
func fallback(reason string) Result {
	return Result{
		Classification: Classification{
			Intent:             "unknown",
			NeedsClarification: true,
			Missing:            []string{},
			RiskLevel:          RiskLow,
			Confidence:         0,
		},
		Fallback: true,
		Reason:   reason,
	}
}

// Classify runs one bounded classification call. The prompt is built from
// session context fields only, never the full transcript. It never returns
// an error: failures yield the fallback judgment.
func (c *Classifier) Classify(ctx context.Context, conversationID string, snapshot map[string]string, userText string) Result {
	ctx = llm.WithPhase(ctx, "classify")

	input := map[string]any{
		"context":   snapshot,
		"user_text": userText,
	}
	p, err := prompt.Build(promptSpec, input)
	if err != nil {
		log.Printf("classify: prompt build failed: %v", err)
		return c.record(ctx, conversationID, fallback("prompt: "+err.Error()))
	}

	raw, err := c.LLM.GenerateJSON(ctx, p, input)
	if err != nil {
		log.Printf("classify: llm call failed: %v", err)
		return c.record(ctx, conversationID, fallback("transport: "+err.Error()))
	}

	res, err := Parse(raw)
	if err != nil {
		log.Printf("classify: %v", err)
		return c.record(ctx, conversationID, fallback(err.Error()))
	}
	return c.record(ctx, conversationID, res)
}

// Parse validates raw model output against the schema and decodes it.
func Parse(raw json.RawMessage) (Result, error) {
	doc := gojsonschema.NewBytesLoader(raw)
	validation, err := gojsonschema.Validate(schema, doc)
	if err != nil {
		return Result{}, &llm.ParseError{Err: err}
	}
	if !validation.Valid() {
		reason := "invalid classification"
		if errs := validation.Errors(); len(errs) > 0 {
			reason = errs[0].String()
		}
		return Result{}, &llm.SchemaError{Reason: reason}
	}

	var cls Classification
	if err := json.Unmarshal(raw, &cls); err != nil {
		return Result{}, &llm.ParseError{Err: err}
	}
	if cls.Missing == nil {
		cls.Missing = []string{}
	}
	return Result{Classification: cls}, nil
}

func (c *Classifier) record(ctx context.Context, conversationID string, res Result) Result {
	if c.Recorder == nil || conversationID == "" {
		return res
	}
	payload := map[string]any{
		"intent":              res.Classification.Intent,
		"needs_clarification": res.Classification.NeedsClarification,
		"risk_level":          res.Classification.RiskLevel,
		"confidence":          res.Classification.Confidence,
		"fallback":            res.Fallback,
	}
	if res.Fallback {
		payload["reason"] = res.Reason
	}
	if err := c.Recorder.AppendMarker(ctx, conversationID, "classifier_result", payload); err != nil {
		log.Printf("classify: marker append failed: %v", err)
	}
	return res
}
