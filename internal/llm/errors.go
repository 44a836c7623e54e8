package llm

import (
	"errors"
	"fmt"
)

var ErrInvalidJSON = errors.New("llm: invalid JSON from model")

// TransportError wraps network, timeout, and service failures on the way to
// the completion service. Adapters recover from it with their deterministic
// fallback; it never reaches the user.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("llm: transport failure during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// SchemaError reports model output that parsed as JSON but violated the
// declared schema (missing required fields, out-of-enum values).
type SchemaError struct {
	Reason string
}

func (e *SchemaError) Error() string {
	return "llm: schema violation: " + e.Reason
}

// ParseError reports model output that was not valid JSON at all.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("llm: malformed structured output: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
