// Package decide defines the per-request option flags accepted by the
// decision API. They are consumed by the decision service and the CMAB
// service; unknown option names in API payloads are rejected up front.
package decide

import "fmt"

// Options is a bit set of per-decision flags.
type Options uint8

const (
	// IgnoreCmabCache fetches a fresh CMAB decision without reading or
	// writing the decision cache.
	IgnoreCmabCache Options = 1 << iota

	// ResetCmabCache clears the entire CMAB decision cache before lookup.
	ResetCmabCache

	// InvalidateUserCmabCache removes only the requesting user's entry for
	// the decided rule before lookup.
	InvalidateUserCmabCache

	// IgnoreUserProfileService skips sticky-bucketing lookups and saves.
	IgnoreUserProfileService

	// IncludeReasons returns the human-readable decision trail to the caller.
	IncludeReasons

	// DisableDecisionEvent suppresses the impression event for this decision.
	DisableDecisionEvent
)

// Has reports whether the flag is set.
func (o Options) Has(flag Options) bool {
	return o&flag != 0
}

// optionNames maps wire names to flags. The names are the public API contract.
var optionNames = map[string]Options{
	"IGNORE_CMAB_CACHE":           IgnoreCmabCache,
	"RESET_CMAB_CACHE":            ResetCmabCache,
	"INVALIDATE_USER_CMAB_CACHE":  InvalidateUserCmabCache,
	"IGNORE_USER_PROFILE_SERVICE": IgnoreUserProfileService,
	"INCLUDE_REASONS":             IncludeReasons,
	"DISABLE_DECISION_EVENT":      DisableDecisionEvent,
}

// Parse converts wire option names into an Options set.
// An unrecognized name is a client error, not something to silently drop.
func Parse(names []string) (Options, error) {
	var opts Options
	for _, name := range names {
		flag, ok := optionNames[name]
		if !ok {
			return 0, fmt.Errorf("unknown decide option %q", name)
		}
		opts |= flag
	}
	return opts, nil
}
