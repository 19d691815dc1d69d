package pipeline

import "context"

// RetryPolicy decides what happens when a stage exhausts its retry budget.
type RetryPolicy int

const (
	// Abort terminates the whole run. Gating stages use this.
	Abort RetryPolicy = iota

	// ProceedBestEffort advances to the next stage keeping whatever tree
	// state the last attempt produced. Extraction stages use this.
	ProceedBestEffort
)

func (p RetryPolicy) String() string {
	if p == ProceedBestEffort {
		return "proceed-best-effort"
	}
	return "abort"
}

// Default stage knobs.
const (
	DefaultThreshold  = 0.8
	DefaultMaxRetries = 3
)

// ExecuteFunc runs one attempt of a stage under its active instruction.
// A returned error is an execution failure and terminates the run;
// non-gating stages absorb oracle failures into StageState.ExecDegraded
// instead of returning them.
type ExecuteFunc func(ctx context.Context, state *State, instruction string) error

// AuditFunc scores the stage's output against its origin text. Errors are
// transport failures; they abort gating stages and degrade to score 0
// elsewhere.
type AuditFunc func(ctx context.Context, state *State) (score float64, feedback string, err error)

// ValidateFunc classifies the input as a usable rule statement or not.
// Invalid input aborts immediately with no retry.
type ValidateFunc func(ctx context.Context, state *State, instruction string) (valid bool, reason string, err error)

// RefineFunc synthesizes a replacement instruction after a failed audit.
// Implementations never return an empty string.
type RefineFunc func(ctx context.Context, originalPrompt, inputText, previousOutput, feedback string, attempt int) string

// StageDescriptor is configuration, not run state: one entry of the fixed
// ordered stage list.
type StageDescriptor struct {
	Name string

	// Gating marks validation/decomposition-class stages whose failures
	// abort the run rather than degrade.
	Gating bool

	// Exactly one of Validate or Execute is set. Audit is optional; a stage
	// without one advances unconditionally after execution.
	Validate ValidateFunc
	Execute  ExecuteFunc
	Audit    AuditFunc
	Refine   RefineFunc

	// DefaultPrompt is the stage's instruction until a refinement overrides
	// it for this run.
	DefaultPrompt string

	Threshold        float64
	MaxRetries       int
	OnRetryExhausted RetryPolicy
}

// activePrompt returns the stage's current instruction for a run.
func (d *StageDescriptor) activePrompt(ss *StageState) string {
	if ss.RefinedPrompt != "" {
		return ss.RefinedPrompt
	}
	return d.DefaultPrompt
}

// normalize fills unset knobs with their defaults.
func (d *StageDescriptor) normalize() {
	if d.Threshold == 0 {
		d.Threshold = DefaultThreshold
	}
	if d.MaxRetries == 0 {
		d.MaxRetries = DefaultMaxRetries
	}
}
