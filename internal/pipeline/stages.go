package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/parthipan76/ruleengine-automation-sub000/internal/audit"
	"github.com/parthipan76/ruleengine-automation-sub000/internal/oracle"
	"github.com/parthipan76/ruleengine-automation-sub000/internal/prompt"
	"github.com/parthipan76/ruleengine-automation-sub000/internal/ruletree"
)

// Deps carries everything the concrete stage set needs. All collaborators
// are injected; stages hold no globals.
type Deps struct {
	Client    oracle.Client
	Auditor   *audit.Auditor
	Refiner   *audit.Refiner
	Prompts   *prompt.Registry
	Logger    *zap.Logger
	ModelName string
}

// StageConfig tunes one stage from configuration.
type StageConfig struct {
	ConsistencyThreshold float64
	MaxRetries           int
}

// BuildStages assembles the fixed ordered stage list. overrides is keyed by
// stage name; absent entries keep the defaults.
func BuildStages(deps Deps, overrides map[string]StageConfig) ([]StageDescriptor, error) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	b := &stageBuilder{deps: deps}

	defs := []struct {
		name    string
		gating  bool
		policy  RetryPolicy
		build   func(*StageDescriptor)
	}{
		{prompt.StageValidation, true, Abort, b.validation},
		{prompt.StageDecomposition, true, Abort, b.decomposition},
		{prompt.StageConditionExtraction, false, ProceedBestEffort, b.conditionExtraction},
		{prompt.StageScheduleExtraction, false, ProceedBestEffort, b.scheduleExtraction},
		{prompt.StageRuleConversion, false, ProceedBestEffort, b.ruleConversion},
		{prompt.StageUnifiedRule, false, ProceedBestEffort, b.unifiedRule},
		{prompt.StageActionExtraction, false, ProceedBestEffort, b.actionExtraction},
	}

	stages := make([]StageDescriptor, 0, len(defs))
	for _, def := range defs {
		instruction, err := deps.Prompts.Get(def.name)
		if err != nil {
			return nil, err
		}
		stage := StageDescriptor{
			Name:             def.name,
			Gating:           def.gating,
			OnRetryExhausted: def.policy,
			DefaultPrompt:    instruction,
		}
		if deps.Refiner != nil {
			stage.Refine = deps.Refiner.Refine
		}
		if cfg, ok := overrides[def.name]; ok {
			stage.Threshold = cfg.ConsistencyThreshold
			stage.MaxRetries = cfg.MaxRetries
		}
		def.build(&stage)
		stages = append(stages, stage)
	}
	return stages, nil
}

type stageBuilder struct {
	deps Deps
}

// complete sends the stage instruction as the system message and the text
// under transformation as the user message.
func (b *stageBuilder) complete(ctx context.Context, instruction, userText string) (string, error) {
	return b.deps.Client.CompleteWithMessages(ctx, []oracle.Message{
		{Role: "system", Content: instruction},
		{Role: "user", Content: userText},
	})
}

// degrade records an absorbed oracle failure for the stage's audit to turn
// into a zero score. Extraction stages never surface these as errors.
func degrade(ss *StageState, err error) {
	ss.ExecDegraded = err.Error()
}

// degradedAudit wraps an audit so an absorbed execute failure short-circuits
// to score 0 before any oracle comparison happens.
func degradedAudit(name string, inner AuditFunc) AuditFunc {
	return func(ctx context.Context, state *State) (float64, string, error) {
		ss := state.Stage(name)
		if ss.ExecDegraded != "" {
			feedback := ss.ExecDegraded
			ss.ExecDegraded = ""
			return 0, feedback, nil
		}
		return inner(ctx, state)
	}
}

// statements returns the decomposition container, a structural requirement
// for every post-decomposition stage.
func statements(state *State) (*ruletree.RuleNode, error) {
	if state.Tree == nil || state.Tree.Root == nil {
		return nil, fmt.Errorf("pipeline: no rule tree")
	}
	stmts := state.Tree.Root.FirstChildOfKind(ruletree.KindNormalStatements)
	if stmts == nil {
		return nil, fmt.Errorf("pipeline: decomposition missing from tree")
	}
	return stmts, nil
}

// ============================================================================
// STAGE 1: VALIDATION (boolean gate, no retry)
// ============================================================================

func (b *stageBuilder) validation(stage *StageDescriptor) {
	stage.Validate = func(ctx context.Context, state *State, instruction string) (bool, string, error) {
		resp, err := b.complete(ctx, instruction, state.Input)
		if err != nil {
			return false, "", err
		}
		payload, ok := oracle.ExtractJSON(resp)
		if !ok {
			return false, "", fmt.Errorf("pipeline: validation response had no JSON payload")
		}
		var verdict struct {
			Valid  bool   `json:"valid"`
			Reason string `json:"reason"`
		}
		if err := json.Unmarshal([]byte(payload), &verdict); err != nil {
			return false, "", fmt.Errorf("pipeline: parse validation verdict: %w", err)
		}
		return verdict.Valid, verdict.Reason, nil
	}
}

// ============================================================================
// STAGE 2: DECOMPOSITION (gating, audited at root level)
// ============================================================================

func (b *stageBuilder) decomposition(stage *StageDescriptor) {
	stage.Execute = func(ctx context.Context, state *State, instruction string) error {
		ss := state.Stage(stage.Name)
		if state.ModelName == "" {
			// First node-creating stage stamps provenance for the whole run.
			state.ModelName = b.deps.ModelName
		}
		resp, err := b.complete(ctx, instruction, state.Input)
		if err != nil {
			return err
		}
		ss.LastOutput = resp

		payload, ok := oracle.ExtractJSON(resp)
		if !ok {
			return fmt.Errorf("pipeline: decomposition response had no JSON payload")
		}
		var segments []string
		if err := json.Unmarshal([]byte(payload), &segments); err != nil {
			return fmt.Errorf("pipeline: parse decomposition: %w", err)
		}
		if len(segments) == 0 {
			return fmt.Errorf("pipeline: decomposition produced no segments")
		}

		// Rebuild exactly the owned subtree so a retry is idempotent.
		state.Tree.Root.RemoveChildrenOfKind(ruletree.KindNormalStatements)
		stmts := ruletree.NewNode(ruletree.KindNormalStatements, state.Input)
		stmts.ModelName = state.ModelName
		if err := state.Tree.Root.AddChild(stmts); err != nil {
			return err
		}
		for _, text := range segments {
			seg := ruletree.NewNode(ruletree.KindSegment, text)
			seg.ModelName = state.ModelName
			if err := stmts.AddChild(seg); err != nil {
				return err
			}
		}
		state.Segments = segments
		return nil
	}
	stage.Audit = func(ctx context.Context, state *State) (float64, string, error) {
		return b.deps.Auditor.ScoreRoot(ctx, state.Tree)
	}
}

// ============================================================================
// STAGE 3: CONDITION EXTRACTION (per segment, best-effort)
// ============================================================================

func (b *stageBuilder) conditionExtraction(stage *StageDescriptor) {
	name := stage.Name
	stage.Execute = func(ctx context.Context, state *State, instruction string) error {
		ss := state.Stage(name)
		stmts, err := statements(state)
		if err != nil {
			return err
		}

		var outputs []string
		for _, seg := range stmts.ChildrenOfKind(ruletree.KindSegment) {
			seg.RemoveChildrenOfKind(ruletree.KindConditions)

			resp, err := b.complete(ctx, instruction, seg.Text)
			if err != nil {
				degrade(ss, err)
				return nil
			}
			outputs = append(outputs, resp)

			payload, ok := oracle.ExtractJSON(resp)
			if !ok {
				degrade(ss, fmt.Errorf("no JSON payload in condition response"))
				return nil
			}
			var conditions []string
			if err := json.Unmarshal([]byte(payload), &conditions); err != nil {
				degrade(ss, fmt.Errorf("parse conditions: %w", err))
				return nil
			}
			if len(conditions) == 0 {
				continue
			}

			// The container carries the segment's text so the audit can
			// compare origin against the joined extracted conditions.
			group := ruletree.NewNode(ruletree.KindConditions, seg.Text)
			group.ModelName = state.ModelName
			if err := seg.AddChild(group); err != nil {
				return err
			}
			for _, cond := range conditions {
				node := ruletree.NewNode(ruletree.KindIfCondition, cond)
				node.ModelName = state.ModelName
				if err := group.AddChild(node); err != nil {
					return err
				}
			}
		}
		ss.LastOutput = strings.Join(outputs, "\n")
		return nil
	}
	stage.Audit = degradedAudit(name, func(ctx context.Context, state *State) (float64, string, error) {
		return b.deps.Auditor.ScoreTree(ctx, state.Tree.Root, []audit.PairRule{
			{Parent: ruletree.KindConditions, Child: ruletree.KindIfCondition, JoinChildren: true},
		})
	})
}

// ============================================================================
// STAGE 4: SCHEDULE EXTRACTION (whole statement, best-effort)
// ============================================================================

func (b *stageBuilder) scheduleExtraction(stage *StageDescriptor) {
	name := stage.Name
	stage.Execute = func(ctx context.Context, state *State, instruction string) error {
		ss := state.Stage(name)
		if state.Tree == nil || state.Tree.Root == nil {
			return fmt.Errorf("pipeline: no rule tree")
		}
		state.Tree.Root.RemoveChildrenOfKind(ruletree.KindSchedule)

		resp, err := b.complete(ctx, instruction, state.Input)
		if err != nil {
			degrade(ss, err)
			return nil
		}
		ss.LastOutput = resp

		payload, ok := oracle.ExtractJSON(resp)
		if !ok {
			degrade(ss, fmt.Errorf("no JSON payload in schedule response"))
			return nil
		}
		var parsed struct {
			Schedule string `json:"schedule"`
		}
		if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
			degrade(ss, fmt.Errorf("parse schedule: %w", err))
			return nil
		}
		if strings.TrimSpace(parsed.Schedule) == "" {
			// Statement has no schedule; nothing to build or audit.
			return nil
		}

		schedule := ruletree.NewNode(ruletree.KindSchedule, state.Input)
		schedule.ModelName = state.ModelName
		if err := state.Tree.Root.AddChild(schedule); err != nil {
			return err
		}
		details := ruletree.NewNode(ruletree.KindScheduleDetails, parsed.Schedule)
		details.ModelName = state.ModelName
		return schedule.AddChild(details)
	}
	stage.Audit = degradedAudit(name, func(ctx context.Context, state *State) (float64, string, error) {
		return b.deps.Auditor.ScoreTree(ctx, state.Tree.Root, []audit.PairRule{
			{Parent: ruletree.KindSchedule, Child: ruletree.KindScheduleDetails},
		})
	})
}

// ============================================================================
// STAGE 5: RULE CONVERSION (canonical if/then phrasing per segment)
// ============================================================================

func (b *stageBuilder) ruleConversion(stage *StageDescriptor) {
	name := stage.Name
	stage.Execute = func(ctx context.Context, state *State, instruction string) error {
		ss := state.Stage(name)
		stmts, err := statements(state)
		if err != nil {
			return err
		}
		segments := stmts.ChildrenOfKind(ruletree.KindSegment)

		var outputs []string
		for i, seg := range segments {
			// Always convert from the original fragment, not from a prior
			// attempt's rewrite.
			original := seg.Text
			if i < len(state.Segments) {
				original = state.Segments[i]
			}
			resp, err := b.complete(ctx, instruction, original)
			if err != nil {
				degrade(ss, err)
				return nil
			}
			outputs = append(outputs, resp)

			payload, ok := oracle.ExtractJSON(resp)
			if !ok {
				degrade(ss, fmt.Errorf("no JSON payload in rule conversion response"))
				return nil
			}
			var parsed struct {
				Rule string `json:"rule"`
			}
			if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
				degrade(ss, fmt.Errorf("parse converted rule: %w", err))
				return nil
			}
			if parsed.Rule != "" {
				seg.Text = parsed.Rule
				seg.ModelName = state.ModelName
			}
		}
		ss.LastOutput = strings.Join(outputs, "\n")
		return nil
	}
	// NormalStatements still carries the original statement here, so the
	// audit compares it against the joined canonical segments.
	stage.Audit = degradedAudit(name, func(ctx context.Context, state *State) (float64, string, error) {
		return b.deps.Auditor.ScoreTree(ctx, state.Tree.Root, []audit.PairRule{
			{Parent: ruletree.KindNormalStatements, Child: ruletree.KindSegment, JoinChildren: true},
		})
	})
}

// ============================================================================
// STAGE 6: UNIFIED RULE SYNTHESIS (merge segments into one statement)
// ============================================================================

func (b *stageBuilder) unifiedRule(stage *StageDescriptor) {
	name := stage.Name
	stage.Execute = func(ctx context.Context, state *State, instruction string) error {
		ss := state.Stage(name)
		stmts, err := statements(state)
		if err != nil {
			return err
		}
		segments := stmts.ChildrenOfKind(ruletree.KindSegment)
		texts := make([]string, len(segments))
		for i, seg := range segments {
			texts[i] = seg.Text
		}

		resp, err := b.complete(ctx, instruction, strings.Join(texts, "\n"))
		if err != nil {
			degrade(ss, err)
			return nil
		}
		ss.LastOutput = resp

		payload, ok := oracle.ExtractJSON(resp)
		if !ok {
			degrade(ss, fmt.Errorf("no JSON payload in unified rule response"))
			return nil
		}
		var parsed struct {
			Rule string `json:"rule"`
		}
		if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
			degrade(ss, fmt.Errorf("parse unified rule: %w", err))
			return nil
		}
		if parsed.Rule != "" {
			// The container now holds the unified statement; the audit below
			// compares it against the segments it merged.
			stmts.Text = parsed.Rule
			stmts.ModelName = state.ModelName
		}
		return nil
	}
	stage.Audit = degradedAudit(name, func(ctx context.Context, state *State) (float64, string, error) {
		return b.deps.Auditor.ScoreTree(ctx, state.Tree.Root, []audit.PairRule{
			{Parent: ruletree.KindNormalStatements, Child: ruletree.KindSegment, JoinChildren: true},
		})
	})
}

// ============================================================================
// STAGE 7: ACTION EXTRACTION (per segment, best-effort)
// ============================================================================

func (b *stageBuilder) actionExtraction(stage *StageDescriptor) {
	name := stage.Name
	stage.Execute = func(ctx context.Context, state *State, instruction string) error {
		ss := state.Stage(name)
		stmts, err := statements(state)
		if err != nil {
			return err
		}

		var outputs []string
		for _, seg := range stmts.ChildrenOfKind(ruletree.KindSegment) {
			seg.RemoveChildrenOfKind(ruletree.KindAction)

			resp, err := b.complete(ctx, instruction, seg.Text)
			if err != nil {
				degrade(ss, err)
				return nil
			}
			outputs = append(outputs, resp)

			payload, ok := oracle.ExtractJSON(resp)
			if !ok {
				degrade(ss, fmt.Errorf("no JSON payload in action response"))
				return nil
			}
			var parsed struct {
				Action  string `json:"action"`
				Details string `json:"details"`
			}
			if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
				degrade(ss, fmt.Errorf("parse action: %w", err))
				return nil
			}
			if parsed.Action == "" {
				continue
			}

			action := ruletree.NewNode(ruletree.KindAction, parsed.Action)
			action.ModelName = state.ModelName
			if err := seg.AddChild(action); err != nil {
				return err
			}
			if parsed.Details != "" {
				details := ruletree.NewNode(ruletree.KindActionDetails, parsed.Details)
				details.ModelName = state.ModelName
				if err := action.AddChild(details); err != nil {
					return err
				}
			}
		}
		ss.LastOutput = strings.Join(outputs, "\n")
		return nil
	}
	stage.Audit = degradedAudit(name, func(ctx context.Context, state *State) (float64, string, error) {
		return b.deps.Auditor.ScoreTree(ctx, state.Tree.Root, []audit.PairRule{
			{Parent: ruletree.KindAction, Child: ruletree.KindActionDetails},
		})
	})
}
