package entities

// Condition type and match identifiers recognized by the evaluator.
// Unknown values are not an error at parse time; the evaluator degrades
// them to an UNKNOWN result with a warning.
const (
	ConditionTypeCustomAttribute     = "custom_attribute"
	ConditionTypeThirdPartyDimension = "third_party_dimension"

	MatchExact     = "exact"
	MatchExists    = "exists"
	MatchSubstring = "substring"
	MatchGt        = "gt"
	MatchGe        = "ge"
	MatchLt        = "lt"
	MatchLe        = "le"
	MatchSemverEq  = "semver_eq"
	MatchSemverLt  = "semver_lt"
	MatchSemverGt  = "semver_gt"
	MatchSemverLe  = "semver_le"
	MatchSemverGe  = "semver_ge"
	MatchQualified = "qualified"
)

// Tree operators composing conditions with three-valued logic.
const (
	OperatorAnd = "and"
	OperatorOr  = "or"
	OperatorNot = "not"
)

// Condition is a leaf predicate over a single user attribute (or, for the
// qualified match, over the user's segment memberships).
//
// Value is dynamically typed: the datafile supplies string, number, boolean or
// null, and each matcher validates the type it expects. A mismatch is a
// validation failure surfaced as UNKNOWN, never a crash.
type Condition struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Match string `json:"match"`
	Value any    `json:"value"`
}

// TreeNode is one node of a boolean condition tree. Exactly one of Item
// (leaf) or Nodes (branch) is populated; Operator is empty for leaves.
//
// This is a closed representation: evaluation dispatches on Operator with an
// exhaustive switch rather than interface dispatch.
type TreeNode struct {
	Operator string
	Item     *Condition
	Nodes    []*TreeNode
}

// IsLeaf reports whether the node wraps a single condition.
func (n *TreeNode) IsLeaf() bool {
	return n != nil && n.Item != nil
}
