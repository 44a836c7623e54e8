package llm

import (
	"context"
	"encoding/json"
)

// FakeClient returns deterministic, minimal JSON payloads per phase for
// offline runs and tests.
type FakeClient struct{}

func NewFakeClient() *FakeClient { return &FakeClient{} }

func (f *FakeClient) Name() string { return "FakeLLM" }
func (f *FakeClient) Close() error { return nil }

func (f *FakeClient) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	var obj any
	switch PhaseFrom(ctx) {
	case "classify":
		obj = map[string]any{
			"intent":              "power",
			"needs_clarification": false,
			"missing":             []string{},
			"risk_level":          "low",
			"confidence":          0.9,
		}
	case "step":
		obj = map[string]any{
			"reply": "Mantené presionado el botón de encendido durante 10 segundos y soltalo. ¿El equipo muestra alguna luz?",
			"buttons": []any{
				map[string]any{"token": "RESOLVED", "label": "Se solucionó"},
				map[string]any{"token": "NOT_RESOLVED", "label": "Sigue igual"},
			},
		}
	default:
		obj = map[string]any{}
	}
	b, _ := json.Marshal(obj)
	return json.RawMessage(b), nil
}
