package condition

import (
	"log/slog"

	"github.com/rafaeljc/verdandi/internal/entities"
)

// TreeEvaluator walks a boolean condition tree applying three-valued logic.
//
// UNKNOWN propagates: it infects AND unless a FALSE settles the answer first,
// and infects OR unless a TRUE does. Operators short-circuit, so children
// after a deciding one are never evaluated (observable through leaf logs).
type TreeEvaluator struct {
	leaf   *Evaluator
	logger *slog.Logger
}

// NewTreeEvaluator creates a new TreeEvaluator.
// If logger is nil, it defaults to slog.Default().
func NewTreeEvaluator(logger *slog.Logger) *TreeEvaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &TreeEvaluator{
		leaf:   NewEvaluator(logger),
		logger: logger,
	}
}

// Evaluate computes the tri-state result for a condition tree.
// A nil tree evaluates to UNKNOWN: absent targeting information is not
// the same as "matches everyone"; the caller decides what nil means.
func (t *TreeEvaluator) Evaluate(node *entities.TreeNode, user entities.UserContext) Result {
	if node == nil {
		return Unknown
	}

	if node.IsLeaf() {
		return t.leaf.Evaluate(node.Item, user)
	}

	switch node.Operator {
	case entities.OperatorAnd:
		return t.evaluateAnd(node.Nodes, user)
	case entities.OperatorOr:
		return t.evaluateOr(node.Nodes, user)
	case entities.OperatorNot:
		return t.evaluateNot(node.Nodes, user)
	default:
		t.logger.Warn("condition tree has an unknown operator",
			slog.String("operator", node.Operator),
		)
		return Unknown
	}
}

// evaluateAnd is tri-state AND: FALSE as soon as any child is FALSE
// (short-circuit), else UNKNOWN if any child was UNKNOWN, else TRUE.
// An empty child list yields UNKNOWN.
func (t *TreeEvaluator) evaluateAnd(nodes []*entities.TreeNode, user entities.UserContext) Result {
	if len(nodes) == 0 {
		return Unknown
	}

	sawUnknown := false
	for _, child := range nodes {
		switch t.Evaluate(child, user) {
		case False:
			return False
		case Unknown:
			sawUnknown = true
		}
	}

	if sawUnknown {
		return Unknown
	}
	return True
}

// evaluateOr is the dual: TRUE on the first TRUE child (short-circuit),
// else UNKNOWN if any child was UNKNOWN, else FALSE.
func (t *TreeEvaluator) evaluateOr(nodes []*entities.TreeNode, user entities.UserContext) Result {
	if len(nodes) == 0 {
		return Unknown
	}

	sawUnknown := false
	for _, child := range nodes {
		switch t.Evaluate(child, user) {
		case True:
			return True
		case Unknown:
			sawUnknown = true
		}
	}

	if sawUnknown {
		return Unknown
	}
	return False
}

// evaluateNot flips its single child; a missing child yields UNKNOWN.
func (t *TreeEvaluator) evaluateNot(nodes []*entities.TreeNode, user entities.UserContext) Result {
	if len(nodes) == 0 || nodes[0] == nil {
		return Unknown
	}
	return t.Evaluate(nodes[0], user).Not()
}

// ExtractSegments collects the segment names of every qualified-match leaf
// reachable in the tree, deduplicated, in first-encountered order. Callers use
// this to know which third-party segments must be fetched before evaluation.
func ExtractSegments(node *entities.TreeNode) []string {
	var segments []string
	seen := make(map[string]struct{})

	var walk func(n *entities.TreeNode)
	walk = func(n *entities.TreeNode) {
		if n == nil {
			return
		}
		if n.IsLeaf() {
			cond := n.Item
			if cond.Match != entities.MatchQualified {
				return
			}
			segment, ok := cond.Value.(string)
			if !ok {
				return
			}
			if _, dup := seen[segment]; dup {
				return
			}
			seen[segment] = struct{}{}
			segments = append(segments, segment)
			return
		}
		for _, child := range n.Nodes {
			walk(child)
		}
	}
	walk(node)

	return segments
}
