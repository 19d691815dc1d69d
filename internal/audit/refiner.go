package audit

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/parthipan76/ruleengine-automation-sub000/internal/oracle"
)

const refinePrompt = `A text-transformation instruction produced output that failed a fidelity check.
Rewrite the instruction so the next attempt preserves the original meaning. Keep the same
output format requirements. Respond with the improved instruction only, no commentary.

CURRENT INSTRUCTION:
%s

ORIGINAL INPUT:
%s

PREVIOUS OUTPUT:
%s

FAILURE FEEDBACK:
%s

This is retry attempt %d.`

// Refiner synthesizes an improved stage instruction after a failed audit.
type Refiner struct {
	client oracle.Client
	logger *zap.Logger
}

// NewRefiner creates a refiner. A nil logger is replaced with a no-op.
func NewRefiner(client oracle.Client, logger *zap.Logger) *Refiner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Refiner{client: client, logger: logger}
}

// Refine returns a replacement prompt for the failing stage. It never
// returns an empty string: on any oracle failure the original prompt comes
// back unchanged, so the engine's retry loop always has a usable prompt.
func (r *Refiner) Refine(ctx context.Context, originalPrompt, inputText, previousOutput, feedback string, attempt int) string {
	resp, err := r.client.Complete(ctx, fmt.Sprintf(refinePrompt,
		originalPrompt, inputText, previousOutput, feedback, attempt))
	if err != nil {
		r.logger.Warn("prompt refinement failed, keeping prior prompt",
			zap.Int("attempt", attempt), zap.Error(err))
		return originalPrompt
	}
	if resp == "" {
		return originalPrompt
	}
	return resp
}
