package entities

// UserContext represents the input data regarding the entity requesting a decision.
// It is supplied per evaluation call and must be treated as immutable for the
// duration of one decision.
type UserContext struct {
	// ID is the primary identifier for the user/entity.
	// It is required for deterministic bucketing.
	ID string `json:"user_id"`

	// Attributes is a flexible map for arbitrary targeting data.
	// Values arrive as string, float64, bool or nil (JSON dynamic typing);
	// each condition matcher validates the type it expects.
	Attributes map[string]any `json:"attributes"`

	// QualifiedSegments is the set of third-party segment identifiers the
	// user currently belongs to, consulted by qualified-match conditions.
	// Sourced externally (profile or prior audience fetch).
	QualifiedSegments []string `json:"qualified_segments"`
}

// Attribute looks up an attribute by name. The second return distinguishes
// "absent" from "present with a nil value"; the two cases log differently
// during condition evaluation.
func (u UserContext) Attribute(name string) (any, bool) {
	value, ok := u.Attributes[name]
	return value, ok
}

// IsQualifiedFor reports whether the user belongs to the given segment.
func (u UserContext) IsQualifiedFor(segment string) bool {
	for _, s := range u.QualifiedSegments {
		if s == segment {
			return true
		}
	}
	return false
}

// BucketingID returns the identifier used for hashing. Users may override the
// default (their user id) through the reserved "$bucketing_id" attribute; a
// non-string override is ignored.
func (u UserContext) BucketingID() string {
	if v, ok := u.Attributes[BucketingIDAttribute]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return u.ID
}

// BucketingIDAttribute is the reserved attribute name for bucketing-id overrides.
const BucketingIDAttribute = "$bucketing_id"

// ProjectConfig is the read side of the parsed datafile consumed by the
// decision engine. Implementations must be immutable per decision: a snapshot
// taken at config-load time that never changes underneath an in-flight request.
type ProjectConfig interface {
	// ExperimentIDMap returns all experiments keyed by id.
	ExperimentIDMap() map[string]Experiment

	// AttributeIDMap returns the attribute table keyed by attribute id.
	AttributeIDMap() map[string]Attribute

	// GetExperimentFromKey resolves an experiment by its key.
	// Returns an empty experiment plus an error when absent.
	GetExperimentFromKey(key string) (Experiment, error)

	// GetExperimentFromID resolves an experiment by its id.
	// Returns an empty experiment plus an error when absent.
	GetExperimentFromID(id string) (Experiment, error)

	// GetVariationFromID resolves a variation of the given experiment.
	// Returns an empty variation plus an error when absent.
	GetVariationFromID(experimentID, variationID string) (Variation, error)

	// GetGroup resolves a mutual-exclusion group by id.
	GetGroup(id string) (Group, bool)
}
