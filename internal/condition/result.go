// Package condition implements the audience targeting engine: leaf attribute
// matchers, the three-valued boolean condition tree, semantic version
// comparison, and qualified-segment extraction.
//
// Evaluation is tri-state. A condition that cannot be decided (missing
// attribute, type mismatch, malformed value, unknown matcher) yields Unknown
// rather than an error: bad targeting data must never crash a decision, it
// just fails to qualify the user. The log lines emitted alongside Unknown
// results are part of the observable contract and are asserted in tests.
package condition

// Result is the tri-state outcome of evaluating a condition.
//
// We model it as an explicit three-variant enum instead of *bool so the
// short-circuit and propagation rules in the tree evaluator stay exhaustively
// matchable.
type Result int8

const (
	// Unknown means the condition could not be decided (missing/invalid input).
	Unknown Result = iota
	// False means the user does not satisfy the condition.
	False
	// True means the user satisfies the condition.
	True
)

// Of converts a definite boolean into a Result.
func Of(b bool) Result {
	if b {
		return True
	}
	return False
}

// Not flips True and False; Unknown stays Unknown.
func (r Result) Not() Result {
	switch r {
	case True:
		return False
	case False:
		return True
	default:
		return Unknown
	}
}

// String implements fmt.Stringer for log and test output.
func (r Result) String() string {
	switch r {
	case True:
		return "TRUE"
	case False:
		return "FALSE"
	default:
		return "UNKNOWN"
	}
}
