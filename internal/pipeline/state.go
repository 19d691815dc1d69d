// Package pipeline drives one business-rule statement through the ordered
// stage list: execute, audit, then advance, retry with a refined prompt, or
// abort. All mutable run state lives in a single strongly-typed State record
// threaded through the whole run; there are no shared globals, so any number
// of independent runs may execute concurrently.
package pipeline

import (
	"github.com/google/uuid"

	"github.com/parthipan76/ruleengine-automation-sub000/internal/ruletree"
)

// StageState is the per-stage slice of the run record.
type StageState struct {
	// RetryCount is monotonic and never exceeds the stage's MaxRetries.
	RetryCount int

	// ConsistencyScore is the last score the stage's audit computed.
	ConsistencyScore *float64

	// Feedback explains the last audit failure; it feeds the refiner.
	Feedback string

	// RefinedPrompt, when set, overrides the stage's default instruction
	// on the next attempt.
	RefinedPrompt string

	// LastOutput is the raw oracle response of the last execute attempt,
	// kept for the refiner's previous-output slot.
	LastOutput string

	// ExecDegraded carries an oracle failure a non-gating execute absorbed;
	// the stage's audit converts it to a zero score and clears it.
	ExecDegraded string
}

// State is the record threaded through a whole pipeline run.
type State struct {
	Input   string
	TraceID string
	Tree    *ruletree.RuleTree

	// Segments holds the original decomposition fragments, captured once so
	// later stages rewrite from the originals instead of their own output.
	Segments []string

	// ModelName records provenance on nodes the stages create.
	ModelName string

	stages map[string]*StageState

	// TerminalFailure is monotonic: once set, no further stage executes.
	TerminalFailure bool
	FailureReason   string
}

// NewState creates the run record for one input statement.
func NewState(input string) *State {
	return &State{
		Input:   input,
		TraceID: uuid.NewString(),
		Tree:    ruletree.NewTree(input),
		stages:  make(map[string]*StageState),
	}
}

// Stage returns the per-stage record, creating it on first use.
func (s *State) Stage(name string) *StageState {
	ss, ok := s.stages[name]
	if !ok {
		ss = &StageState{}
		s.stages[name] = ss
	}
	return ss
}

// Fail marks the run terminally failed. The flag is monotonic; the first
// reason wins.
func (s *State) Fail(reason string) {
	if s.TerminalFailure {
		return
	}
	s.TerminalFailure = true
	s.FailureReason = reason
}

// Completed reports whether the run finished without a terminal failure.
func (s *State) Completed() bool {
	return !s.TerminalFailure
}
