package audit

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parthipan76/ruleengine-automation-sub000/internal/oracle"
	"github.com/parthipan76/ruleengine-automation-sub000/internal/ruletree"
)

// stubClient replays canned responses in order; the last one repeats.
type stubClient struct {
	responses []string
	err       error
	prompts   []string
}

func (s *stubClient) Complete(ctx context.Context, prompt string) (string, error) {
	s.prompts = append(s.prompts, prompt)
	if s.err != nil {
		return "", s.err
	}
	if len(s.responses) == 0 {
		return "", nil
	}
	resp := s.responses[0]
	if len(s.responses) > 1 {
		s.responses = s.responses[1:]
	}
	return resp, nil
}

func (s *stubClient) CompleteWithMessages(ctx context.Context, messages []oracle.Message) (string, error) {
	var last string
	for _, m := range messages {
		last = m.Content
	}
	return s.Complete(ctx, last)
}

func scoreReply(score float64, feedback string) string {
	return fmt.Sprintf("```json\n{\"similarity_score\": %g, \"feedback\": %q}\n```", score, feedback)
}

func TestScoreParsesSimilarity(t *testing.T) {
	client := &stubClient{responses: []string{scoreReply(0.87, "minor loss")}}
	auditor := NewAuditor(client, nil)

	score, feedback, err := auditor.Score(context.Background(), "orig", "derived")

	require.NoError(t, err)
	assert.InDelta(t, 0.87, score, 1e-9)
	assert.Equal(t, "minor loss", feedback)
}

func TestScoreUnparsableFailsClosed(t *testing.T) {
	client := &stubClient{responses: []string{"I cannot help with that."}}
	auditor := NewAuditor(client, nil)

	score, feedback, err := auditor.Score(context.Background(), "orig", "derived")

	require.NoError(t, err, "parse failures never escape the auditor")
	assert.Zero(t, score)
	assert.NotEmpty(t, feedback)
}

func TestScoreClampsRange(t *testing.T) {
	client := &stubClient{responses: []string{scoreReply(1.7, "")}}
	auditor := NewAuditor(client, nil)

	score, _, err := auditor.Score(context.Background(), "o", "d")
	require.NoError(t, err)
	assert.Equal(t, 1.0, score)
}

func TestScoreTransportErrorPropagates(t *testing.T) {
	client := &stubClient{err: errors.New("connection refused")}
	auditor := NewAuditor(client, nil)

	_, _, err := auditor.Score(context.Background(), "o", "d")
	assert.Error(t, err)
}

func TestScoreRoot(t *testing.T) {
	tree := ruletree.NewTree("A\nB")
	stmts := tree.Root.MustAddChild(ruletree.NewNode(ruletree.KindNormalStatements, ""))
	segA := stmts.MustAddChild(ruletree.NewNode(ruletree.KindSegment, "A"))
	segB := stmts.MustAddChild(ruletree.NewNode(ruletree.KindSegment, "B"))

	client := &stubClient{responses: []string{scoreReply(0.95, "")}}
	auditor := NewAuditor(client, nil)

	score, _, err := auditor.ScoreRoot(context.Background(), tree)

	require.NoError(t, err)
	assert.InDelta(t, 0.95, score, 1e-9)
	require.NotNil(t, segA.SimilarityScore)
	require.NotNil(t, segB.SimilarityScore)
	assert.InDelta(t, 0.95, *segA.SimilarityScore, 1e-9)
	assert.InDelta(t, 0.95, *segB.SimilarityScore, 1e-9)

	// Derived fragments are joined in order with newlines.
	require.Len(t, client.prompts, 1)
	assert.Contains(t, client.prompts[0], "A\nB")
}

func TestScoreRootNoDecomposition(t *testing.T) {
	tree := ruletree.NewTree("input")
	auditor := NewAuditor(&stubClient{}, nil)

	score, _, err := auditor.ScoreRoot(context.Background(), tree)
	require.NoError(t, err)
	assert.Equal(t, 1.0, score)
}

func TestScoreTreeMinFold(t *testing.T) {
	tree := ruletree.NewTree("input")
	stmts := tree.Root.MustAddChild(ruletree.NewNode(ruletree.KindNormalStatements, ""))

	var details []*ruletree.RuleNode
	for _, text := range []string{"first", "second"} {
		seg := stmts.MustAddChild(ruletree.NewNode(ruletree.KindSegment, text))
		action := seg.MustAddChild(ruletree.NewNode(ruletree.KindAction, text))
		details = append(details, action.MustAddChild(ruletree.NewNode(ruletree.KindActionDetails, text+" details")))
	}

	client := &stubClient{responses: []string{scoreReply(0.9, ""), scoreReply(0.7, "dropped amount")}}
	auditor := NewAuditor(client, nil)

	score, feedback, err := auditor.ScoreTree(context.Background(), tree.Root, []PairRule{
		{Parent: ruletree.KindAction, Child: ruletree.KindActionDetails},
	})

	require.NoError(t, err)
	assert.InDelta(t, 0.7, score, 1e-9, "one inconsistent branch fails the stage")
	assert.Equal(t, "dropped amount", feedback)
	assert.InDelta(t, 0.9, *details[0].SimilarityScore, 1e-9)
	assert.InDelta(t, 0.7, *details[1].SimilarityScore, 1e-9)
}

func TestScoreTreeZeroPairsPasses(t *testing.T) {
	tree := ruletree.NewTree("input")
	auditor := NewAuditor(&stubClient{}, nil)

	score, _, err := auditor.ScoreTree(context.Background(), tree.Root, []PairRule{
		{Parent: ruletree.KindAction, Child: ruletree.KindActionDetails},
	})

	require.NoError(t, err)
	assert.Equal(t, 1.0, score, "empty-minimum fold passes by default")
}

func TestScoreTreeJoinedChildren(t *testing.T) {
	tree := ruletree.NewTree("input")
	stmts := tree.Root.MustAddChild(ruletree.NewNode(ruletree.KindNormalStatements, "both parts"))
	stmts.MustAddChild(ruletree.NewNode(ruletree.KindSegment, "part one"))
	stmts.MustAddChild(ruletree.NewNode(ruletree.KindSegment, "part two"))

	client := &stubClient{responses: []string{scoreReply(0.8, "")}}
	auditor := NewAuditor(client, nil)

	score, _, err := auditor.ScoreTree(context.Background(), tree.Root, []PairRule{
		{Parent: ruletree.KindNormalStatements, Child: ruletree.KindSegment, JoinChildren: true},
	})

	require.NoError(t, err)
	assert.InDelta(t, 0.8, score, 1e-9)
	require.Len(t, client.prompts, 1, "joined children produce a single pair")
	assert.Contains(t, client.prompts[0], "part one\npart two")
}
