package ruletree

// Walk visits the subtree rooted at n in pre-order (node, then children
// left to right). Returning false from fn stops the walk.
func Walk(n *RuleNode, fn func(*RuleNode) bool) bool {
	if n == nil {
		return true
	}
	if !fn(n) {
		return false
	}
	for _, c := range n.Children {
		if !Walk(c, fn) {
			return false
		}
	}
	return true
}

// FindLeftmostLeaf descends via Children[0] until it reaches a node with
// no children. A childless node is its own leftmost leaf.
func FindLeftmostLeaf(n *RuleNode) *RuleNode {
	if n == nil {
		return nil
	}
	for len(n.Children) > 0 {
		n = n.Children[0]
	}
	return n
}

// FindMatchingAction resolves the action governing a condition node by
// walking the parent chain upward. At each ancestor it scans that
// ancestor's direct children for an Action node; it never descends into
// sibling subtrees. The nearest enclosing ancestor wins. Returns nil when
// the root is reached without a match.
func FindMatchingAction(cond *RuleNode) *RuleNode {
	if cond == nil {
		return nil
	}
	for p := cond.Parent; p != nil; p = p.Parent {
		if action := p.FirstChildOfKind(KindAction); action != nil {
			return action
		}
	}
	return nil
}

// GroupConditionsByAction collects every IfCondition node in the tree
// (pre-order) and partitions them by the identity of their resolved action
// node. Keying is by node pointer, not text: two distinct actions may carry
// identical text. Conditions with no resolvable action are returned in the
// second value, in visit order.
func GroupConditionsByAction(root *RuleNode) (map[*RuleNode][]*RuleNode, []*RuleNode) {
	grouped := make(map[*RuleNode][]*RuleNode)
	var orphans []*RuleNode
	Walk(root, func(n *RuleNode) bool {
		if n.Kind != KindIfCondition {
			return true
		}
		if action := FindMatchingAction(n); action != nil {
			grouped[action] = append(grouped[action], n)
		} else {
			orphans = append(orphans, n)
		}
		return true
	})
	return grouped, orphans
}

// CollectKind returns every node of the given kind in pre-order.
func CollectKind(root *RuleNode, kind Kind) []*RuleNode {
	var out []*RuleNode
	Walk(root, func(n *RuleNode) bool {
		if n.Kind == kind {
			out = append(out, n)
		}
		return true
	})
	return out
}
