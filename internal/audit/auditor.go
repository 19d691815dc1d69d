// Package audit computes fidelity scores between original text fragments
// and the fragments stages derive from them, and synthesizes improved stage
// prompts when a score falls below threshold. Both paths go through the
// same generation oracle as stage execution.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/parthipan76/ruleengine-automation-sub000/internal/oracle"
	"github.com/parthipan76/ruleengine-automation-sub000/internal/ruletree"
)

const comparisonPrompt = `You compare an original business-rule fragment with a derived rendering of it.
Judge only meaning preservation: conditions, actions, schedules, amounts, and their relationships.

ORIGINAL:
%s

DERIVED:
%s

Respond with a single JSON object:
{"similarity_score": <float between 0.0 and 1.0>, "feedback": "<one sentence on what meaning was lost, empty if none>"}`

// Auditor scores derived fragments against their origins.
type Auditor struct {
	client oracle.Client
	logger *zap.Logger
}

// NewAuditor creates an auditor. A nil logger is replaced with a no-op.
func NewAuditor(client oracle.Client, logger *zap.Logger) *Auditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Auditor{client: client, logger: logger}
}

type comparisonResult struct {
	SimilarityScore float64 `json:"similarity_score"`
	Feedback        string  `json:"feedback"`
}

// Score compares one original/derived pair and returns a score in [0,1].
// A response the oracle returns but that cannot be parsed yields score 0
// with no error (fail-closed); only transport failures surface as errors.
func (a *Auditor) Score(ctx context.Context, original, derived string) (float64, string, error) {
	resp, err := a.client.Complete(ctx, fmt.Sprintf(comparisonPrompt, original, derived))
	if err != nil {
		return 0, "", err
	}

	payload, ok := oracle.ExtractJSON(resp)
	if !ok {
		a.logger.Warn("auditor response had no JSON payload", zap.String("response", resp))
		return 0, "no similarity_score in oracle response", nil
	}
	var result comparisonResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		a.logger.Warn("auditor response unparsable", zap.Error(err))
		return 0, "unparsable similarity response", nil
	}

	score := result.SimilarityScore
	if score < 0 {
		score = 0
	} else if score > 1 {
		score = 1
	}
	return score, result.Feedback, nil
}

// PairRule selects which (parent kind, derived child kind) pairs a nested
// audit visits.
type PairRule struct {
	Parent ruletree.Kind
	Child  ruletree.Kind

	// JoinChildren compares the parent's text against the newline-joined,
	// order-preserving concatenation of all matching children (one pair per
	// parent). When false, each matching child is scored on its own.
	JoinChildren bool
}

// ScoreTree audits every matched pair in the tree and returns the minimum
// score: one inconsistent branch fails the whole stage. Every scored pair
// annotates SimilarityScore on the contributing derived node(s) regardless
// of pass or fail. Zero matched pairs returns 1.0, the empty-minimum fold.
func (a *Auditor) ScoreTree(ctx context.Context, root *ruletree.RuleNode, rules []PairRule) (float64, string, error) {
	min := 1.0
	var minFeedback string
	var scoreErr error

	annotate := func(nodes []*ruletree.RuleNode, score float64) {
		for _, n := range nodes {
			s := score
			n.SimilarityScore = &s
		}
	}

	visit := func(original string, derived string, nodes []*ruletree.RuleNode) bool {
		score, feedback, err := a.Score(ctx, original, derived)
		if err != nil {
			scoreErr = err
			return false
		}
		annotate(nodes, score)
		if score < min || minFeedback == "" {
			minFeedback = feedback
		}
		if score < min {
			min = score
		}
		return true
	}

	for _, rule := range rules {
		rule := rule
		ruletree.Walk(root, func(n *ruletree.RuleNode) bool {
			if n.Kind != rule.Parent {
				return true
			}
			children := n.ChildrenOfKind(rule.Child)
			if len(children) == 0 {
				return true
			}
			if rule.JoinChildren {
				texts := make([]string, len(children))
				for i, c := range children {
					texts[i] = c.Text
				}
				return visit(n.Text, strings.Join(texts, "\n"), children)
			}
			for _, c := range children {
				if !visit(n.Text, c.Text, []*ruletree.RuleNode{c}) {
					return false
				}
			}
			return true
		})
		if scoreErr != nil {
			return 0, "", scoreErr
		}
	}
	return min, minFeedback, nil
}

// ScoreRoot audits the first decomposition: the full input statement against
// the newline-joined, order-preserving texts of the first NormalStatements
// node's direct children. The contributing children are annotated.
func (a *Auditor) ScoreRoot(ctx context.Context, tree *ruletree.RuleTree) (float64, string, error) {
	if tree == nil || tree.Root == nil {
		return 0, "", fmt.Errorf("audit: no tree to score")
	}
	stmts := tree.Root.FirstChildOfKind(ruletree.KindNormalStatements)
	if stmts == nil || len(stmts.Children) == 0 {
		// No decomposition produced: nothing to compare, empty-minimum fold.
		return 1.0, "", nil
	}

	texts := make([]string, len(stmts.Children))
	for i, c := range stmts.Children {
		texts[i] = c.Text
	}
	score, feedback, err := a.Score(ctx, tree.Root.Text, strings.Join(texts, "\n"))
	if err != nil {
		return 0, "", err
	}
	for _, c := range stmts.Children {
		s := score
		c.SimilarityScore = &s
	}
	return score, feedback, nil
}
