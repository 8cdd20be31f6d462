package condition

import (
	"fmt"
	"strconv"
	"strings"
)

// semanticVersion is a parsed version string.
//
// The targeting dialect is looser than strict semver: a version may omit
// minor and/or patch components ("3" targets every 3.x.x), and build metadata
// (after "+") is ignored for every comparison including equality.
type semanticVersion struct {
	release    []uint64 // numeric release components, 1 to 3 of them
	prerelease []string // dot-separated identifiers after "-", empty if none
	hasPre     bool
}

// parseSemanticVersion parses a version string.
// Malformed input (whitespace, empty components, leading/trailing dots,
// non-numeric release parts such as "3.x") returns an error; the caller
// degrades it to an UNKNOWN evaluation result rather than failing the decision.
func parseSemanticVersion(raw string) (semanticVersion, error) {
	var v semanticVersion

	if raw == "" {
		return v, fmt.Errorf("version string is empty")
	}
	if strings.TrimSpace(raw) != raw || strings.ContainsAny(raw, " \t") {
		return v, fmt.Errorf("version %q contains whitespace", raw)
	}

	// Strip build metadata first. A "-" appearing before the "+" marks a
	// prerelease; anything after "+" never participates in comparisons.
	head := raw
	if plus := strings.Index(head, "+"); plus >= 0 {
		head = head[:plus]
	}

	if dash := strings.Index(head, "-"); dash >= 0 {
		pre := head[dash+1:]
		head = head[:dash]
		if pre == "" {
			return v, fmt.Errorf("version %q has an empty prerelease", raw)
		}
		for _, ident := range strings.Split(pre, ".") {
			if !isPrereleaseIdentifier(ident) {
				return v, fmt.Errorf("version %q has an invalid prerelease identifier %q", raw, ident)
			}
			v.prerelease = append(v.prerelease, ident)
		}
		v.hasPre = true
	}

	if head == "" {
		return v, fmt.Errorf("version %q has no release component", raw)
	}

	parts := strings.Split(head, ".")
	if len(parts) > 3 {
		return v, fmt.Errorf("version %q has more than three release components", raw)
	}
	for _, part := range parts {
		n, err := parseNumericIdentifier(part)
		if err != nil {
			return v, fmt.Errorf("version %q: %w", raw, err)
		}
		v.release = append(v.release, n)
	}

	return v, nil
}

// compareSemver orders the user's version against the targeted version,
// returning -1, 0 or +1.
//
// Comparison is truncated to the number of release components the target
// specifies: a target of "3" matches any 3.x.x. The dual also holds (a user
// version with fewer components is a prefix match when the leading components
// agree). A version without a prerelease ranks above the same release with
// one; two prereleases compare by standard semver precedence.
func compareSemver(user, target semanticVersion) int {
	n := len(user.release)
	if len(target.release) < n {
		n = len(target.release)
	}

	for i := 0; i < n; i++ {
		if user.release[i] != target.release[i] {
			if user.release[i] < target.release[i] {
				return -1
			}
			return 1
		}
	}

	// Releases are equal up to the shorter length: prefix match.
	// Tie-break on prerelease presence, then prerelease precedence.
	switch {
	case user.hasPre && !target.hasPre:
		return -1
	case !user.hasPre && target.hasPre:
		return 1
	case user.hasPre && target.hasPre:
		return comparePrerelease(user.prerelease, target.prerelease)
	default:
		return 0
	}
}

// comparePrerelease implements semver prerelease precedence: identifier by
// identifier, numeric identifiers compare numerically and always rank below
// alphanumeric ones; when equal up to the shorter list, fewer fields ranks lower.
func comparePrerelease(a, b []string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}

	for i := 0; i < n; i++ {
		av, aNum := parseNumeric(a[i])
		bv, bNum := parseNumeric(b[i])

		switch {
		case aNum && bNum:
			if av != bv {
				if av < bv {
					return -1
				}
				return 1
			}
		case aNum:
			return -1
		case bNum:
			return 1
		default:
			if a[i] != b[i] {
				if a[i] < b[i] {
					return -1
				}
				return 1
			}
		}
	}

	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// parseNumericIdentifier parses a release component, rejecting empty and
// non-digit input ("3.x" style versions are malformed, not wildcards).
func parseNumericIdentifier(s string) (uint64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty release component")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("release component %q is not numeric", s)
		}
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("release component %q overflows: %w", s, err)
	}
	return n, nil
}

// parseNumeric reports whether a prerelease identifier is purely numeric.
func parseNumeric(s string) (uint64, bool) {
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// isPrereleaseIdentifier accepts the semver identifier alphabet [0-9A-Za-z-].
func isPrereleaseIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r == '-':
		default:
			return false
		}
	}
	return true
}
