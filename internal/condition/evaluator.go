package condition

import (
	"log/slog"

	"github.com/rafaeljc/verdandi/internal/entities"
)

// matcherFunc evaluates a single leaf condition against a user context.
// The attribute presence/null guard has already run by the time one of
// these is invoked (except for exists and qualified, which are special).
type matcherFunc func(e *Evaluator, cond *entities.Condition, value any) Result

// matchers is the strategy table mapping match types to their evaluation logic.
// Unknown match types are not an error at registration time; Evaluate degrades
// them to UNKNOWN with a warning.
var matchers = map[string]matcherFunc{
	entities.MatchExact:     (*Evaluator).matchExact,
	entities.MatchSubstring: (*Evaluator).matchSubstring,
	entities.MatchGt:        (*Evaluator).matchGt,
	entities.MatchGe:        (*Evaluator).matchGe,
	entities.MatchLt:        (*Evaluator).matchLt,
	entities.MatchLe:        (*Evaluator).matchLe,
	entities.MatchSemverEq:  (*Evaluator).matchSemverEq,
	entities.MatchSemverLt:  (*Evaluator).matchSemverLt,
	entities.MatchSemverGt:  (*Evaluator).matchSemverGt,
	entities.MatchSemverLe:  (*Evaluator).matchSemverLe,
	entities.MatchSemverGe:  (*Evaluator).matchSemverGe,
}

// Evaluator evaluates leaf audience conditions against a user context.
type Evaluator struct {
	logger *slog.Logger
}

// NewEvaluator creates a new Evaluator.
// If logger is nil, it defaults to slog.Default().
func NewEvaluator(logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{logger: logger}
}

// Evaluate checks a single leaf condition against the user's attributes
// (or segment memberships for the qualified match), returning a tri-state result.
func (e *Evaluator) Evaluate(cond *entities.Condition, user entities.UserContext) Result {
	if cond == nil {
		return Unknown
	}

	// 1. Condition type gate. Anything we don't recognize is skipped, not fatal:
	// newer datafiles may carry condition types this engine predates.
	switch cond.Type {
	case entities.ConditionTypeCustomAttribute, entities.ConditionTypeThirdPartyDimension:
	default:
		e.logger.Warn("audience condition has an unknown condition type",
			slog.String("condition", cond.Name),
			slog.String("type", cond.Type),
		)
		return Unknown
	}

	// 2. Resolve the matcher. An absent match type means "exact" (legacy
	// datafiles predate the match field).
	match := cond.Match
	if match == "" {
		match = entities.MatchExact
	}

	// Qualified and exists consult presence, not a typed attribute value,
	// so they bypass the shared attribute guard below.
	switch match {
	case entities.MatchQualified:
		return e.matchQualified(cond, user)
	case entities.MatchExists:
		value, ok := user.Attribute(cond.Name)
		return Of(ok && value != nil)
	}

	matcher, ok := matchers[match]
	if !ok {
		e.logger.Warn("audience condition has an unknown match type",
			slog.String("condition", cond.Name),
			slog.String("match", match),
		)
		return Unknown
	}

	// 3. Shared attribute guard: absent and null attributes cannot be matched.
	value, present := user.Attribute(cond.Name)
	if !present {
		e.logger.Debug("audience condition evaluated to UNKNOWN because no value was passed for user attribute",
			slog.String("condition", cond.Name),
			slog.String("attribute", cond.Name),
		)
		return Unknown
	}
	if value == nil {
		e.logger.Debug("audience condition evaluated to UNKNOWN because a null value was passed for user attribute",
			slog.String("condition", cond.Name),
			slog.String("attribute", cond.Name),
		)
		return Unknown
	}

	// 4. Dispatch to the matcher strategy.
	return matcher(e, cond, value)
}

// matchQualified checks third-party segment membership. The condition value
// is the segment name; a non-string value is a datafile authoring error.
func (e *Evaluator) matchQualified(cond *entities.Condition, user entities.UserContext) Result {
	segment, ok := cond.Value.(string)
	if !ok {
		e.logger.Warn("audience condition has a qualified match but invalid value",
			slog.String("condition", cond.Name),
		)
		return Unknown
	}
	return Of(user.IsQualifiedFor(segment))
}

// warnUnsupportedValue flags a condition whose static value cannot serve the
// chosen matcher (wrong type, array, null, non-finite number).
func (e *Evaluator) warnUnsupportedValue(cond *entities.Condition) Result {
	e.logger.Warn("audience condition has an unsupported condition value",
		slog.String("condition", cond.Name),
		slog.String("match", cond.Match),
	)
	return Unknown
}

// warnTypeMismatch flags a user attribute whose runtime type does not match
// what the condition value expects.
func (e *Evaluator) warnTypeMismatch(cond *entities.Condition, value any) Result {
	e.logger.Warn("audience condition evaluated to UNKNOWN because a value of an unexpected type was passed for user attribute",
		slog.String("condition", cond.Name),
		slog.String("attribute", cond.Name),
		slog.String("value_type", typeName(value)),
	)
	return Unknown
}

// warnOutOfRange flags a numeric attribute outside the IEEE-754 safe integer range.
func (e *Evaluator) warnOutOfRange(cond *entities.Condition) Result {
	e.logger.Warn("audience condition evaluated to UNKNOWN because the number value for user attribute is not in the range [-2^53, +2^53]",
		slog.String("condition", cond.Name),
		slog.String("attribute", cond.Name),
	)
	return Unknown
}
