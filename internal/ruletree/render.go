package ruletree

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Renderers are read-only consumers of the tree. None of them mutate nodes;
// they can run on a tree that a finished (or best-effort) pipeline produced.

// RenderASCII dumps the subtree as an indented listing, one node per line.
// Audited nodes show their similarity score.
func RenderASCII(root *RuleNode) string {
	var b strings.Builder
	var dump func(n *RuleNode, depth int)
	dump = func(n *RuleNode, depth int) {
		b.WriteString(strings.Repeat("  ", depth))
		b.WriteString(n.Kind.String())
		if n.Text != "" {
			fmt.Fprintf(&b, ": %s", n.Text)
		}
		if n.SimilarityScore != nil {
			fmt.Fprintf(&b, " [score=%.2f]", *n.SimilarityScore)
		}
		b.WriteByte('\n')
		for _, c := range n.Children {
			dump(c, depth+1)
		}
	}
	if root != nil {
		dump(root, 0)
	}
	return b.String()
}

// RenderDSL emits the rule in the compact conditional form
//
//	{if (cond) {then action(details)} else if (cond2) {then ...}} schedule(details)
//
// Conditions are grouped by their governing action; groups appear in action
// pre-order so output is deterministic.
func RenderDSL(root *RuleNode) string {
	grouped, orphans := GroupConditionsByAction(root)

	var b strings.Builder
	b.WriteByte('{')
	first := true
	emit := func(cond string, action *RuleNode) {
		if first {
			b.WriteString("if (")
			first = false
		} else {
			b.WriteString(" else if (")
		}
		b.WriteString(cond)
		b.WriteString(") {then ")
		if action != nil {
			b.WriteString(action.Text)
			b.WriteByte('(')
			if details := action.FirstChildOfKind(KindActionDetails); details != nil {
				b.WriteString(details.Text)
			}
			b.WriteByte(')')
		}
		b.WriteByte('}')
	}
	for _, action := range CollectKind(root, KindAction) {
		for _, cond := range grouped[action] {
			emit(cond.Text, action)
		}
	}
	for _, cond := range orphans {
		emit(cond.Text, nil)
	}
	b.WriteByte('}')

	if schedule := firstScheduleDetails(root); schedule != "" {
		fmt.Fprintf(&b, " schedule(%s)", schedule)
	}
	return b.String()
}

func firstScheduleDetails(root *RuleNode) string {
	var text string
	Walk(root, func(n *RuleNode) bool {
		if n.Kind == KindSchedule {
			// The schedule's leftmost leaf carries the resolved details.
			text = FindLeftmostLeaf(n).Text
			return false
		}
		return true
	})
	return text
}

type jsonNode struct {
	ID       int      `json:"id"`
	ParentID *int     `json:"parent_id"`
	Kind     string   `json:"kind"`
	Text     string   `json:"text,omitempty"`
	Score    *float64 `json:"similarity_score,omitempty"`
	Model    string   `json:"model_name,omitempty"`
	Children []int    `json:"children"`
}

// RenderJSON serializes the tree as a flat node list with parent and child
// ids, assigned in pre-order starting at 0.
func RenderJSON(root *RuleNode) (string, error) {
	ids := make(map[*RuleNode]int)
	next := 0
	Walk(root, func(n *RuleNode) bool {
		ids[n] = next
		next++
		return true
	})

	nodes := make([]jsonNode, 0, len(ids))
	Walk(root, func(n *RuleNode) bool {
		jn := jsonNode{
			ID:       ids[n],
			Kind:     n.Kind.String(),
			Text:     n.Text,
			Score:    n.SimilarityScore,
			Model:    n.ModelName,
			Children: make([]int, 0, len(n.Children)),
		}
		if n.Parent != nil {
			pid := ids[n.Parent]
			jn.ParentID = &pid
		}
		for _, c := range n.Children {
			jn.Children = append(jn.Children, ids[c])
		}
		nodes = append(nodes, jn)
		return true
	})

	out, err := json.MarshalIndent(nodes, "", "  ")
	if err != nil {
		return "", fmt.Errorf("ruletree: marshal tree: %w", err)
	}
	return string(out), nil
}

// RenderGraph emits one "parent -> child" edge description per line,
// suitable for feeding a graph viewer.
func RenderGraph(root *RuleNode) string {
	var b strings.Builder
	Walk(root, func(n *RuleNode) bool {
		for _, c := range n.Children {
			fmt.Fprintf(&b, "%s -> %s", n.Kind, c.Kind)
			if c.Text != "" {
				fmt.Fprintf(&b, " [%s]", truncate(c.Text, 60))
			}
			b.WriteByte('\n')
		}
		return true
	})
	return b.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
