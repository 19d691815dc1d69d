package ruletree

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildSampleTree mirrors the shape the full pipeline produces for
// "if the order total exceeds 100, apply a discount every friday".
func buildSampleTree() *RuleTree {
	tree := NewTree("if the order total exceeds 100, apply a discount every friday")
	stmts := tree.Root.MustAddChild(NewNode(KindNormalStatements, ""))
	seg := stmts.MustAddChild(NewNode(KindSegment, "if the order total exceeds 100, apply a discount"))
	conds := seg.MustAddChild(NewNode(KindConditions, ""))
	conds.MustAddChild(NewNode(KindIfCondition, "order total > 100"))
	action := seg.MustAddChild(NewNode(KindAction, "apply_discount"))
	action.MustAddChild(NewNode(KindActionDetails, "percent=10"))
	schedule := tree.Root.MustAddChild(NewNode(KindSchedule, ""))
	schedule.MustAddChild(NewNode(KindScheduleDetails, "every friday"))
	return tree
}

func TestRenderASCII(t *testing.T) {
	out := RenderASCII(buildSampleTree().Root)

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	assert.True(t, strings.HasPrefix(lines[0], "Root"))
	assert.Contains(t, out, "  NormalStatements")
	assert.Contains(t, out, "      IfCondition: order total > 100")
}

func TestRenderASCIIShowsScore(t *testing.T) {
	tree := buildSampleTree()
	score := 0.95
	tree.Root.Children[0].SimilarityScore = &score

	assert.Contains(t, RenderASCII(tree.Root), "[score=0.95]")
}

func TestRenderDSL(t *testing.T) {
	out := RenderDSL(buildSampleTree().Root)

	assert.Equal(t, "{if (order total > 100) {then apply_discount(percent=10)}} schedule(every friday)", out)
}

func TestRenderDSLElseIfChain(t *testing.T) {
	tree := NewTree("input")
	stmts := tree.Root.MustAddChild(NewNode(KindNormalStatements, ""))
	seg := stmts.MustAddChild(NewNode(KindSegment, ""))
	conds := seg.MustAddChild(NewNode(KindConditions, ""))
	conds.MustAddChild(NewNode(KindIfCondition, "a"))
	conds.MustAddChild(NewNode(KindIfCondition, "b"))
	seg.MustAddChild(NewNode(KindAction, "act"))

	out := RenderDSL(tree.Root)
	assert.Equal(t, "{if (a) {then act()} else if (b) {then act()}}", out)
}

func TestRenderJSONParentChildIDs(t *testing.T) {
	out, err := RenderJSON(buildSampleTree().Root)
	require.NoError(t, err)

	var nodes []struct {
		ID       int    `json:"id"`
		ParentID *int   `json:"parent_id"`
		Kind     string `json:"kind"`
		Children []int  `json:"children"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &nodes))

	require.NotEmpty(t, nodes)
	assert.Equal(t, 0, nodes[0].ID)
	assert.Nil(t, nodes[0].ParentID, "root has no parent")

	byID := make(map[int][]int)
	for _, n := range nodes {
		byID[n.ID] = n.Children
	}
	for _, n := range nodes[1:] {
		require.NotNil(t, n.ParentID)
		assert.Contains(t, byID[*n.ParentID], n.ID, "parent must list child id")
	}
}

func TestRenderGraphEdges(t *testing.T) {
	out := RenderGraph(buildSampleTree().Root)

	assert.Contains(t, out, "Root -> NormalStatements")
	assert.Contains(t, out, "Conditions -> IfCondition [order total > 100]")
}
