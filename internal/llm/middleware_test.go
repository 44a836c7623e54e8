package llm

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

type stubClient struct {
	calls int
	delay time.Duration
	fail  int // fail the first N calls
}

func (s *stubClient) Name() string { return "stub" }
func (s *stubClient) Close() error { return nil }
func (s *stubClient) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	s.calls++
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, &TransportError{Op: PhaseFrom(ctx), Err: ctx.Err()}
		case <-time.After(s.delay):
		}
	}
	if s.calls <= s.fail {
		return nil, errors.New("boom")
	}
	return json.RawMessage(`{}`), nil
}

func TestWrapOrder(t *testing.T) {
	stub := &stubClient{}
	wrapped := Wrap(stub, Retry(2, time.Millisecond), WithTimeout(time.Second))
	if _, err := wrapped.GenerateJSON(context.Background(), "p", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stub.calls != 1 {
		t.Fatalf("expected 1 call, got %d", stub.calls)
	}
}

func TestRetryRecovers(t *testing.T) {
	stub := &stubClient{fail: 2}
	wrapped := Wrap(stub, Retry(3, time.Millisecond))
	if _, err := wrapped.GenerateJSON(context.Background(), "p", nil); err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	if stub.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", stub.calls)
	}
}

func TestRetryExhausts(t *testing.T) {
	stub := &stubClient{fail: 10}
	wrapped := Wrap(stub, Retry(2, time.Millisecond))
	if _, err := wrapped.GenerateJSON(context.Background(), "p", nil); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if stub.calls != 2 {
		t.Fatalf("expected 2 calls, got %d", stub.calls)
	}
}

func TestDeadlineBoundsWholeRetryLoop(t *testing.T) {
	stub := &stubClient{delay: 200 * time.Millisecond}
	wrapped := Wrap(stub, WithTimeout(20*time.Millisecond), Retry(3, time.Millisecond))
	start := time.Now()
	_, err := wrapped.GenerateJSON(context.Background(), "p", nil)
	var tErr *TransportError
	if !errors.As(err, &tErr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if stub.calls != 1 {
		t.Fatalf("timed-out call was retried: %d calls", stub.calls)
	}
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Fatalf("call not abandoned at the deadline: took %v", elapsed)
	}
}

func TestRetryDoesNotRetryExpiredDeadline(t *testing.T) {
	stub := &stubClient{delay: 200 * time.Millisecond}
	wrapped := Wrap(stub, Retry(3, time.Millisecond), WithTimeout(20*time.Millisecond))
	if _, err := wrapped.GenerateJSON(context.Background(), "p", nil); err == nil {
		t.Fatal("expected error")
	}
	if stub.calls != 1 {
		t.Fatalf("expired attempt was retried: %d calls", stub.calls)
	}
}

func TestRateLimitDisabledPassesThrough(t *testing.T) {
	stub := &stubClient{}
	wrapped := Wrap(stub, RateLimit(0, 1))
	if _, err := wrapped.GenerateJSON(context.Background(), "p", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stub.calls != 1 {
		t.Fatalf("expected 1 call, got %d", stub.calls)
	}
}

func TestRateLimitHonorsContext(t *testing.T) {
	stub := &stubClient{}
	wrapped := Wrap(stub, RateLimit(0.5, 1))
	defer func() { _ = wrapped.Close() }()

	if _, err := wrapped.GenerateJSON(context.Background(), "p", nil); err != nil {
		t.Fatalf("burst call: %v", err)
	}

	// The bucket is empty and the refill period is 2s; a canceled context
	// must release the waiter with a transport error.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := wrapped.GenerateJSON(ctx, "p", nil)
	var tErr *TransportError
	if !errors.As(err, &tErr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if stub.calls != 1 {
		t.Fatalf("throttled call reached the client: %d calls", stub.calls)
	}
}

func TestTimeoutYieldsTransportError(t *testing.T) {
	stub := &stubClient{delay: 200 * time.Millisecond}
	wrapped := Wrap(stub, WithTimeout(10*time.Millisecond))
	_, err := wrapped.GenerateJSON(context.Background(), "p", nil)
	var tErr *TransportError
	if !errors.As(err, &tErr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
}

func TestFakeClientPhases(t *testing.T) {
	f := NewFakeClient()
	raw, err := f.GenerateJSON(WithPhase(context.Background(), "classify"), "p", nil)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	var cls map[string]any
	if err := json.Unmarshal(raw, &cls); err != nil {
		t.Fatalf("classify unmarshal: %v", err)
	}
	if _, ok := cls["risk_level"]; !ok {
		t.Fatal("classify payload missing risk_level")
	}

	raw, err = f.GenerateJSON(WithPhase(context.Background(), "step"), "p", nil)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	var step map[string]any
	if err := json.Unmarshal(raw, &step); err != nil {
		t.Fatalf("step unmarshal: %v", err)
	}
	if step["reply"] == "" {
		t.Fatal("step payload missing reply")
	}
}
