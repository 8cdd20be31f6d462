package condition

import (
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/rafaeljc/verdandi/internal/entities"
)

// maxSafeValue is 2^53, the largest integer exactly representable in an
// IEEE-754 double. Numeric comparisons outside ±2^53 are unreliable across
// SDK runtimes, so they evaluate to UNKNOWN instead.
const maxSafeValue = float64(1 << 53)

// matchExact requires the attribute's runtime type to mirror the condition
// value's type, then compares for equality.
func (e *Evaluator) matchExact(cond *entities.Condition, value any) Result {
	switch expected := cond.Value.(type) {
	case string:
		actual, ok := value.(string)
		if !ok {
			return e.warnTypeMismatch(cond, value)
		}
		return Of(actual == expected)

	case bool:
		actual, ok := value.(bool)
		if !ok {
			return e.warnTypeMismatch(cond, value)
		}
		return Of(actual == expected)

	default:
		target, ok := numericValue(cond.Value)
		if !ok || !inSafeRange(target) {
			// Arrays, maps, null and non-finite numbers cannot serve exact.
			return e.warnUnsupportedValue(cond)
		}
		actual, ok := numericValue(value)
		if !ok {
			return e.warnTypeMismatch(cond, value)
		}
		if !inSafeRange(actual) {
			return e.warnOutOfRange(cond)
		}
		return Of(actual == target)
	}
}

// matchSubstring reports whether the condition value occurs within the
// attribute's string value.
func (e *Evaluator) matchSubstring(cond *entities.Condition, value any) Result {
	needle, ok := cond.Value.(string)
	if !ok {
		return e.warnUnsupportedValue(cond)
	}
	haystack, ok := value.(string)
	if !ok {
		return e.warnTypeMismatch(cond, value)
	}
	return Of(strings.Contains(haystack, needle))
}

func (e *Evaluator) matchGt(cond *entities.Condition, value any) Result {
	return e.compareNumeric(cond, value, func(c int) bool { return c > 0 })
}

func (e *Evaluator) matchGe(cond *entities.Condition, value any) Result {
	return e.compareNumeric(cond, value, func(c int) bool { return c >= 0 })
}

func (e *Evaluator) matchLt(cond *entities.Condition, value any) Result {
	return e.compareNumeric(cond, value, func(c int) bool { return c < 0 })
}

func (e *Evaluator) matchLe(cond *entities.Condition, value any) Result {
	return e.compareNumeric(cond, value, func(c int) bool { return c <= 0 })
}

// compareNumeric is the shared implementation for gt/ge/lt/le: both sides
// must be numeric and inside the safe integer range before ordering applies.
func (e *Evaluator) compareNumeric(cond *entities.Condition, value any, accept func(int) bool) Result {
	target, ok := numericValue(cond.Value)
	if !ok || !inSafeRange(target) {
		return e.warnUnsupportedValue(cond)
	}
	actual, ok := numericValue(value)
	if !ok {
		return e.warnTypeMismatch(cond, value)
	}
	if !inSafeRange(actual) {
		return e.warnOutOfRange(cond)
	}

	switch {
	case actual > target:
		return Of(accept(1))
	case actual < target:
		return Of(accept(-1))
	default:
		return Of(accept(0))
	}
}

func (e *Evaluator) matchSemverEq(cond *entities.Condition, value any) Result {
	return e.compareSemverMatch(cond, value, func(c int) bool { return c == 0 })
}

func (e *Evaluator) matchSemverLt(cond *entities.Condition, value any) Result {
	return e.compareSemverMatch(cond, value, func(c int) bool { return c < 0 })
}

func (e *Evaluator) matchSemverGt(cond *entities.Condition, value any) Result {
	return e.compareSemverMatch(cond, value, func(c int) bool { return c > 0 })
}

func (e *Evaluator) matchSemverLe(cond *entities.Condition, value any) Result {
	return e.compareSemverMatch(cond, value, func(c int) bool { return c <= 0 })
}

func (e *Evaluator) matchSemverGe(cond *entities.Condition, value any) Result {
	return e.compareSemverMatch(cond, value, func(c int) bool { return c >= 0 })
}

// compareSemverMatch parses both sides and applies semver precedence.
// The comparison is oriented user-against-target: semver_gt asks whether the
// user's version ranks above the targeted version.
func (e *Evaluator) compareSemverMatch(cond *entities.Condition, value any, accept func(int) bool) Result {
	targetRaw, ok := cond.Value.(string)
	if !ok {
		return e.warnUnsupportedValue(cond)
	}
	actualRaw, ok := value.(string)
	if !ok {
		return e.warnTypeMismatch(cond, value)
	}

	target, err := parseSemanticVersion(targetRaw)
	if err != nil {
		return e.warnUnsupportedValue(cond)
	}
	actual, err := parseSemanticVersion(actualRaw)
	if err != nil {
		e.logger.Warn("audience condition evaluated to UNKNOWN because an invalid semantic version was passed for user attribute",
			slog.String("condition", cond.Name),
			slog.String("attribute", cond.Name),
		)
		return Unknown
	}

	return Of(accept(compareSemver(actual, target)))
}

// numericValue widens any Go numeric type to float64. JSON decoding yields
// float64 directly, but programmatic callers may pass native ints.
func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// inSafeRange rejects NaN, infinities and magnitudes beyond 2^53.
func inSafeRange(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0) && math.Abs(f) <= maxSafeValue
}

// typeName names a dynamic value's type for log output.
func typeName(v any) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprintf("%T", v)
}
