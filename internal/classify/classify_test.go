package classify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"stibot/internal/llm"
)

type scriptedLLM struct {
	raw json.RawMessage
	err error
}

func (s *scriptedLLM) Name() string { return "scripted" }
func (s *scriptedLLM) Close() error { return nil }
func (s *scriptedLLM) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	return s.raw, s.err
}

type markerSink struct {
	names    []string
	payloads []any
}

func (m *markerSink) AppendMarker(ctx context.Context, conversationID, name string, payload any) error {
	m.names = append(m.names, name)
	m.payloads = append(m.payloads, payload)
	return nil
}

func TestClassifyOk(t *testing.T) {
	c := &Classifier{LLM: &scriptedLLM{raw: json.RawMessage(
		`{"intent":"power","needs_clarification":false,"missing":[],"risk_level":"low","confidence":0.85}`,
	)}}
	res := c.Classify(context.Background(), "ab12cd", map[string]string{"device": "notebook"}, "mi notebook no enciende")
	if res.Fallback {
		t.Fatalf("unexpected fallback: %s", res.Reason)
	}
	if res.Classification.Intent != "power" {
		t.Fatalf("intent = %q", res.Classification.Intent)
	}
	if res.Classification.RiskLevel != RiskLow {
		t.Fatalf("risk = %q", res.Classification.RiskLevel)
	}
}

func TestClassifyTransportFailureFallsBack(t *testing.T) {
	c := &Classifier{LLM: &scriptedLLM{err: &llm.TransportError{Op: "classify", Err: errors.New("timeout")}}}
	res := c.Classify(context.Background(), "ab12cd", nil, "algo")
	assertFallback(t, res)
}

func TestClassifyMalformedJSONFallsBack(t *testing.T) {
	c := &Classifier{LLM: &scriptedLLM{raw: json.RawMessage(`{"intent": "power",`)}}
	res := c.Classify(context.Background(), "ab12cd", nil, "algo")
	assertFallback(t, res)
}

func TestClassifyOutOfEnumRiskFallsBack(t *testing.T) {
	c := &Classifier{LLM: &scriptedLLM{raw: json.RawMessage(
		`{"intent":"power","needs_clarification":false,"risk_level":"catastrophic","confidence":0.5}`,
	)}}
	res := c.Classify(context.Background(), "ab12cd", nil, "algo")
	assertFallback(t, res)
}

func TestClassifyMissingRequiredFieldFallsBack(t *testing.T) {
	c := &Classifier{LLM: &scriptedLLM{raw: json.RawMessage(
		`{"intent":"power","risk_level":"low"}`,
	)}}
	res := c.Classify(context.Background(), "ab12cd", nil, "algo")
	assertFallback(t, res)
}

func TestClassifyConfidenceOutOfRangeFallsBack(t *testing.T) {
	c := &Classifier{LLM: &scriptedLLM{raw: json.RawMessage(
		`{"intent":"power","needs_clarification":false,"risk_level":"low","confidence":1.7}`,
	)}}
	res := c.Classify(context.Background(), "ab12cd", nil, "algo")
	assertFallback(t, res)
}

func TestClassifyRecordsMarker(t *testing.T) {
	sink := &markerSink{}
	c := &Classifier{
		LLM: &scriptedLLM{raw: json.RawMessage(
			`{"intent":"network","needs_clarification":true,"missing":["device"],"risk_level":"medium","confidence":0.4}`,
		)},
		Recorder: sink,
	}
	c.Classify(context.Background(), "ab12cd", nil, "no anda el wifi")
	if len(sink.names) != 1 || sink.names[0] != "classifier_result" {
		t.Fatalf("marker names = %v", sink.names)
	}
}

func assertFallback(t *testing.T, res Result) {
	t.Helper()
	if !res.Fallback {
		t.Fatal("expected fallback result")
	}
	cls := res.Classification
	if cls.Intent != "unknown" || !cls.NeedsClarification || cls.RiskLevel != RiskLow || cls.Confidence != 0 {
		t.Fatalf("fallback shape wrong: %+v", cls)
	}
}
