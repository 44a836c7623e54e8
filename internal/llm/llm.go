package llm

import (
	"context"
	"encoding/json"
)

// LLMClient is the minimal completion-service surface the engine needs:
// one prompt in, one JSON document out.
type LLMClient interface {
	Name() string
	GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error)
	Close() error
}
