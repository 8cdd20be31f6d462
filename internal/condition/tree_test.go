package condition

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rafaeljc/verdandi/internal/entities"
)

// leaf builds an exact-match leaf against the "browser" attribute.
func leaf(value string) *entities.TreeNode {
	return &entities.TreeNode{Item: &entities.Condition{
		Name:  "browser",
		Type:  entities.ConditionTypeCustomAttribute,
		Match: entities.MatchExact,
		Value: value,
	}}
}

// unknownLeaf targets an attribute the user never supplies.
func unknownLeaf() *entities.TreeNode {
	return &entities.TreeNode{Item: &entities.Condition{
		Name:  "never_set",
		Type:  entities.ConditionTypeCustomAttribute,
		Match: entities.MatchExact,
		Value: "x",
	}}
}

func node(operator string, children ...*entities.TreeNode) *entities.TreeNode {
	return &entities.TreeNode{Operator: operator, Nodes: children}
}

func TestTreeEvaluator_Evaluate(t *testing.T) {
	// The user's browser is "chrome": leaf("chrome") is TRUE, leaf("safari")
	// is FALSE, unknownLeaf() is UNKNOWN.
	user := entities.UserContext{ID: "u1", Attributes: map[string]any{"browser": "chrome"}}

	tests := []struct {
		name string
		tree *entities.TreeNode
		want Result
	}{
		{name: "nil tree", tree: nil, want: Unknown},
		{name: "single true leaf", tree: leaf("chrome"), want: True},
		{name: "single false leaf", tree: leaf("safari"), want: False},

		// AND truth table.
		{name: "and of trues", tree: node(entities.OperatorAnd, leaf("chrome"), leaf("chrome")), want: True},
		{name: "and with false", tree: node(entities.OperatorAnd, leaf("chrome"), leaf("safari")), want: False},
		{name: "and false beats unknown", tree: node(entities.OperatorAnd, unknownLeaf(), leaf("safari")), want: False},
		{name: "and true with unknown", tree: node(entities.OperatorAnd, leaf("chrome"), unknownLeaf()), want: Unknown},
		{name: "and empty", tree: node(entities.OperatorAnd), want: Unknown},

		// OR truth table.
		{name: "or of falses", tree: node(entities.OperatorOr, leaf("safari"), leaf("edge")), want: False},
		{name: "or with true", tree: node(entities.OperatorOr, leaf("safari"), leaf("chrome")), want: True},
		{name: "or true beats unknown", tree: node(entities.OperatorOr, unknownLeaf(), leaf("chrome")), want: True},
		{name: "or false with unknown", tree: node(entities.OperatorOr, leaf("safari"), unknownLeaf()), want: Unknown},
		{name: "or empty", tree: node(entities.OperatorOr), want: Unknown},

		// NOT.
		{name: "not true", tree: node(entities.OperatorNot, leaf("chrome")), want: False},
		{name: "not false", tree: node(entities.OperatorNot, leaf("safari")), want: True},
		{name: "not unknown stays unknown", tree: node(entities.OperatorNot, unknownLeaf()), want: Unknown},
		{name: "not without child", tree: node(entities.OperatorNot), want: Unknown},

		// Nesting.
		{
			name: "nested and of or",
			tree: node(entities.OperatorAnd,
				node(entities.OperatorOr, leaf("safari"), leaf("chrome")),
				node(entities.OperatorNot, leaf("edge")),
			),
			want: True,
		},
		{name: "unknown operator", tree: node("xor", leaf("chrome")), want: Unknown},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			evaluator := NewTreeEvaluator(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
			assert.Equal(t, tt.want, evaluator.Evaluate(tt.tree, user))
		})
	}
}

// Short-circuiting is observable through the leaf debug logs: children after
// the deciding one must never be evaluated.
func TestTreeEvaluator_ShortCircuit(t *testing.T) {
	t.Parallel()

	user := entities.UserContext{ID: "u1", Attributes: map[string]any{"browser": "chrome"}}

	t.Run("or stops after first TRUE", func(t *testing.T) {
		t.Parallel()

		var logBuffer bytes.Buffer
		evaluator := NewTreeEvaluator(slog.New(slog.NewTextHandler(&logBuffer, &slog.HandlerOptions{Level: slog.LevelDebug})))

		// The second child would log "no value was passed" if visited.
		tree := node(entities.OperatorOr, leaf("chrome"), unknownLeaf())

		assert.Equal(t, True, evaluator.Evaluate(tree, user))
		assert.NotContains(t, logBuffer.String(), "no value was passed")
	})

	t.Run("and stops after first FALSE", func(t *testing.T) {
		t.Parallel()

		var logBuffer bytes.Buffer
		evaluator := NewTreeEvaluator(slog.New(slog.NewTextHandler(&logBuffer, &slog.HandlerOptions{Level: slog.LevelDebug})))

		tree := node(entities.OperatorAnd, leaf("safari"), unknownLeaf())

		assert.Equal(t, False, evaluator.Evaluate(tree, user))
		assert.NotContains(t, logBuffer.String(), "no value was passed")
	})
}

func TestExtractSegments(t *testing.T) {
	t.Parallel()

	qualified := func(segment string) *entities.TreeNode {
		return &entities.TreeNode{Item: &entities.Condition{
			Name:  "odp.audiences",
			Type:  entities.ConditionTypeThirdPartyDimension,
			Match: entities.MatchQualified,
			Value: segment,
		}}
	}

	t.Run("collects deduplicated segments in encounter order", func(t *testing.T) {
		t.Parallel()

		tree := node(entities.OperatorOr,
			qualified("beta_testers"),
			node(entities.OperatorAnd,
				qualified("power_users"),
				qualified("beta_testers"), // duplicate
				leaf("chrome"),            // not a qualified leaf
			),
		)

		assert.Equal(t, []string{"beta_testers", "power_users"}, ExtractSegments(tree))
	})

	t.Run("nil tree yields nothing", func(t *testing.T) {
		t.Parallel()
		assert.Empty(t, ExtractSegments(nil))
	})
}
