package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/parthipan76/ruleengine-automation-sub000/internal/telemetry"
)

// Engine executes the fixed ordered stage list against one State. Within a
// run everything is strictly sequential: execute, audit, refine, re-execute;
// the engine always awaits one step before routing to the next.
type Engine struct {
	stages []StageDescriptor
	queue  *telemetry.Queue
	logger *zap.Logger
}

// NewEngine creates an engine over the given stage list. queue may be nil
// when telemetry is disabled; logger nil becomes a no-op.
func NewEngine(stages []StageDescriptor, queue *telemetry.Queue, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	normalized := make([]StageDescriptor, len(stages))
	copy(normalized, stages)
	for i := range normalized {
		normalized[i].normalize()
	}
	return &Engine{stages: normalized, queue: queue, logger: logger}
}

// Run drives the state through every stage and returns it. A terminal
// failure stops the run; the returned state then carries FailureReason.
func (e *Engine) Run(ctx context.Context, state *State) *State {
	logger := e.logger.With(zap.String("trace_id", state.TraceID))
	logger.Info("pipeline run started", zap.String("input", state.Input))

	e.offer(telemetry.Event{
		Type:    telemetry.EventTraceCreate,
		TraceID: state.TraceID,
		Name:    "rule-structuring",
		Input:   state.Input,
		Model:   state.ModelName,
	})

	for i := range e.stages {
		if state.TerminalFailure {
			break
		}
		e.runStage(ctx, &e.stages[i], state, logger)
	}

	if state.TerminalFailure {
		logger.Warn("pipeline run aborted", zap.String("reason", state.FailureReason))
	} else {
		logger.Info("pipeline run completed")
	}
	return state
}

// runStage loops one stage until it advances, aborts, or gives up.
func (e *Engine) runStage(ctx context.Context, stage *StageDescriptor, state *State, logger *zap.Logger) {
	ss := state.Stage(stage.Name)
	slog := logger.With(zap.String("stage", stage.Name))

	// Validation-class stages gate on a boolean classification, no retry.
	if stage.Validate != nil {
		valid, reason, err := stage.Validate(ctx, state, stage.activePrompt(ss))
		if err != nil {
			state.Fail(fmt.Sprintf("%s: %v", stage.Name, err))
			return
		}
		if !valid {
			slog.Warn("input rejected", zap.String("reason", reason))
			state.Fail(fmt.Sprintf("%s: input rejected: %s", stage.Name, reason))
			return
		}
		slog.Debug("input accepted")
		return
	}

	for {
		attempt := ss.RetryCount + 1
		if err := stage.Execute(ctx, state, stage.activePrompt(ss)); err != nil {
			// Execution failures are fatal; there is no generic
			// exception-as-retry policy.
			slog.Error("stage execution failed", zap.Error(err))
			state.Fail(fmt.Sprintf("%s: execution failed: %v", stage.Name, err))
			return
		}

		if stage.Audit == nil {
			slog.Debug("stage advanced without audit")
			return
		}

		score, feedback, err := stage.Audit(ctx, state)
		if err != nil {
			if stage.Gating {
				state.Fail(fmt.Sprintf("%s: audit failed: %v", stage.Name, err))
				return
			}
			// Extraction-family stages degrade transport failures to a zero
			// score and let the retry loop absorb them.
			slog.Warn("audit degraded to zero score", zap.Error(err))
			score, feedback = 0, err.Error()
		}
		ss.ConsistencyScore = &score
		ss.Feedback = feedback

		e.offer(telemetry.Event{
			Type:    telemetry.EventGenerationCreate,
			TraceID: state.TraceID,
			Name:    "stage-attempt",
			Stage:   stage.Name,
			Attempt: attempt,
			Score:   &score,
			Output:  ss.LastOutput,
			Model:   state.ModelName,
		})

		if score >= stage.Threshold {
			slog.Info("stage passed audit",
				zap.Float64("score", score), zap.Int("retries", ss.RetryCount))
			return
		}

		if ss.RetryCount < stage.MaxRetries {
			refined := stage.activePrompt(ss)
			if stage.Refine != nil {
				refined = stage.Refine(ctx, stage.activePrompt(ss), state.Input, ss.LastOutput, feedback, ss.RetryCount+1)
			}
			ss.RefinedPrompt = refined
			ss.RetryCount++
			slog.Info("stage retrying with refined prompt",
				zap.Float64("score", score),
				zap.Float64("threshold", stage.Threshold),
				zap.Int("retry", ss.RetryCount))
			continue
		}

		// Retry budget exhausted.
		switch stage.OnRetryExhausted {
		case ProceedBestEffort:
			slog.Warn("retries exhausted, proceeding best-effort",
				zap.Float64("score", score))
			return
		default:
			slog.Error("retries exhausted, aborting run",
				zap.Float64("score", score))
			state.Fail(fmt.Sprintf("%s: consistency %0.2f below threshold %0.2f after %d retries",
				stage.Name, score, stage.Threshold, stage.MaxRetries))
			return
		}
	}
}

func (e *Engine) offer(event telemetry.Event) {
	if e.queue != nil {
		e.queue.Offer(event)
	}
}
