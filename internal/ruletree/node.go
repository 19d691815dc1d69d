// Package ruletree defines the n-ary tree that pipeline stages grow while
// decomposing one business-rule statement. Nodes are tagged with a closed
// Kind set; child order is semantically meaningful (Children[0] is the
// leftmost fragment of the decomposition).
package ruletree

import "fmt"

// Kind tags a RuleNode with its structural role.
type Kind int

const (
	KindRoot Kind = iota
	KindNormalStatements
	KindSegment
	KindConditions
	KindIfCondition
	KindAction
	KindActionDetails
	KindSchedule
	KindScheduleDetails
	KindPolicy
	KindSampling
)

var kindNames = map[Kind]string{
	KindRoot:             "Root",
	KindNormalStatements: "NormalStatements",
	KindSegment:          "Segment",
	KindConditions:       "Conditions",
	KindIfCondition:      "IfCondition",
	KindAction:           "Action",
	KindActionDetails:    "ActionDetails",
	KindSchedule:         "Schedule",
	KindScheduleDetails:  "ScheduleDetails",
	KindPolicy:           "Policy",
	KindSampling:         "Sampling",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// allowedChildren is the closed parent/child table. AddChild rejects any
// pairing not listed here, so traversal code can rely on tree shape.
var allowedChildren = map[Kind]map[Kind]bool{
	KindRoot: {
		KindNormalStatements: true,
		KindSchedule:         true,
		KindPolicy:           true,
		KindSampling:         true,
	},
	KindNormalStatements: {
		KindSegment: true,
	},
	KindSegment: {
		KindConditions:  true,
		KindIfCondition: true,
		KindAction:      true,
		KindSchedule:    true,
	},
	KindConditions: {
		KindIfCondition: true,
	},
	KindAction: {
		KindActionDetails: true,
	},
	KindSchedule: {
		KindScheduleDetails: true,
	},
}

// ChildAllowed reports whether a node of kind child may appear under parent.
func ChildAllowed(parent, child Kind) bool {
	return allowedChildren[parent][child]
}

// RuleNode is one node of the evolving decomposition tree.
type RuleNode struct {
	Kind Kind
	Text string

	// SimilarityScore is set by the consistency auditor after this node's
	// derived text has been compared against its origin fragment.
	SimilarityScore *float64

	// ModelName records which model produced this node's text.
	ModelName string

	Parent   *RuleNode
	Children []*RuleNode
}

// NewNode creates a detached node.
func NewNode(kind Kind, text string) *RuleNode {
	return &RuleNode{Kind: kind, Text: text}
}

// AddChild appends child to n's children and sets the back-reference.
// It is the only mutator that establishes the parent link, keeping both
// sides consistent. A node already attached elsewhere is rejected.
func (n *RuleNode) AddChild(child *RuleNode) error {
	if child == nil {
		return fmt.Errorf("ruletree: nil child")
	}
	if child.Parent != nil {
		return fmt.Errorf("ruletree: node %s already has parent %s", child.Kind, child.Parent.Kind)
	}
	if !ChildAllowed(n.Kind, child.Kind) {
		return fmt.Errorf("ruletree: %s not allowed under %s", child.Kind, n.Kind)
	}
	child.Parent = n
	n.Children = append(n.Children, child)
	return nil
}

// MustAddChild is AddChild for statically known pairings.
func (n *RuleNode) MustAddChild(child *RuleNode) *RuleNode {
	if err := n.AddChild(child); err != nil {
		panic(err)
	}
	return child
}

// RemoveChildrenOfKind detaches every direct child of the given kind and
// returns how many were removed. Stages use it to clear exactly the subtree
// they own before a retry rebuild.
func (n *RuleNode) RemoveChildrenOfKind(kind Kind) int {
	kept := n.Children[:0]
	removed := 0
	for _, c := range n.Children {
		if c.Kind == kind {
			c.Parent = nil
			removed++
			continue
		}
		kept = append(kept, c)
	}
	n.Children = kept
	return removed
}

// FirstChildOfKind returns the leftmost direct child of the given kind.
func (n *RuleNode) FirstChildOfKind(kind Kind) *RuleNode {
	for _, c := range n.Children {
		if c.Kind == kind {
			return c
		}
	}
	return nil
}

// ChildrenOfKind returns the direct children of the given kind in order.
func (n *RuleNode) ChildrenOfKind(kind Kind) []*RuleNode {
	var out []*RuleNode
	for _, c := range n.Children {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// RuleTree owns the root of one statement's decomposition.
type RuleTree struct {
	Root *RuleNode
}

// NewTree creates a tree whose root holds the original input statement.
func NewTree(input string) *RuleTree {
	return &RuleTree{Root: NewNode(KindRoot, input)}
}
