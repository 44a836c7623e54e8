package llm

import "context"

type phaseKey struct{}

// WithPhase tags the context with the adapter phase ("classify", "step")
// so middlewares and the fake client can tell calls apart.
func WithPhase(ctx context.Context, phase string) context.Context {
	return context.WithValue(ctx, phaseKey{}, phase)
}

// PhaseFrom returns the phase tag, or "" when absent.
func PhaseFrom(ctx context.Context) string {
	if v, ok := ctx.Value(phaseKey{}).(string); ok {
		return v
	}
	return ""
}
