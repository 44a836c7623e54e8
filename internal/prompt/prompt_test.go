package prompt

import (
	"strings"
	"testing"
)

func TestBuildRendersSections(t *testing.T) {
	spec := Spec{
		Purpose:      "Classify a support request.",
		Background:   "Guided troubleshooting conversation.",
		OutputFormat: "JSON only.",
		Language:     "Spanish",
		OutputFields: []Field{
			{Name: "intent", Type: "string", Required: true, Description: "Problem category."},
			{Name: "missing", Type: "[]string", Required: false},
		},
		Constraints: []string{"No markdown."},
		Rules:       []string{"Be concise."},
		Examples: []Example{
			{InputJSON: `{"text":"no enciende"}`, OutputJSON: `{"intent":"power"}`},
		},
	}

	out, err := Build(spec, map[string]any{"device": "notebook"})
	if err != nil {
		t.Fatalf("build error: %v", err)
	}

	wantSections := []string{
		"[PURPOSE]",
		"[BACKGROUND]",
		"[INPUT]",
		"[OUTPUT]",
		"[CONSTRAINTS]",
		"[RULES]",
		"[OUTPUT_FORMAT]",
		"[LANGUAGE]",
		"[EXAMPLES]",
	}
	for _, sec := range wantSections {
		if !strings.Contains(out, sec) {
			t.Fatalf("expected section %s in prompt", sec)
		}
	}
	if !strings.Contains(out, `"device": "notebook"`) {
		t.Fatal("expected input JSON in prompt")
	}
}

func TestBuildRequiresPurpose(t *testing.T) {
	spec := Spec{OutputFields: []Field{{Name: "intent", Type: "string", Required: true}}}
	if _, err := Build(spec, nil); err == nil || !strings.Contains(err.Error(), "purpose") {
		t.Fatalf("expected purpose error, got %v", err)
	}
}

func TestBuildRequiresOutputFields(t *testing.T) {
	spec := Spec{Purpose: "x"}
	if _, err := Build(spec, nil); err == nil || !strings.Contains(err.Error(), "output fields") {
		t.Fatalf("expected output fields error, got %v", err)
	}
}
