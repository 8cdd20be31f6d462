// Package entities defines the domain model for the Verdandi decision engine:
// the immutable project configuration snapshot (experiments, groups, audiences,
// attributes) and the per-request user context.
//
// Everything here is parsed once from the project datafile at config-load time
// and treated as read-only for the lifetime of a snapshot. Decision code never
// mutates these structs.
package entities

// ExperimentStatusRunning is the only experiment status eligible for bucketing.
const ExperimentStatusRunning = "Running"

// GroupPolicyRandom marks a mutually-exclusive experiment group: a user may be
// active in at most one member experiment, chosen by the group's own traffic ranges.
const GroupPolicyRandom = "random"

// TrafficAllocation maps a hash bucket range to an entity (variation or experiment).
// EndOfRange is a cumulative upper bound out of 10000; ranges are walked in order
// and the first range whose EndOfRange exceeds the computed bucket wins.
type TrafficAllocation struct {
	EntityID   string `json:"entityId"`
	EndOfRange int    `json:"endOfRange"`
}

// Variation is a single arm of an experiment.
type Variation struct {
	ID             string `json:"id"`
	Key            string `json:"key"`
	FeatureEnabled bool   `json:"featureEnabled"`
}

// Cmab marks an experiment as driven by the remote contextual multi-armed
// bandit service instead of fixed traffic ranges per variation.
type Cmab struct {
	// AttributeIDs selects which user attributes (by datafile attribute id)
	// are forwarded to the prediction service.
	AttributeIDs []string `json:"attributeIds"`

	// TrafficAllocation gates overall inclusion in the CMAB experiment.
	// Entity ids here are sentinels, not real variation ids.
	TrafficAllocation []TrafficAllocation `json:"trafficAllocation"`
}

// Experiment is a single A/B test parsed from the datafile.
type Experiment struct {
	ID      string `json:"id"`
	Key     string `json:"key"`
	Status  string `json:"status"`
	GroupID string `json:"groupId,omitempty"`

	// Variations keyed by id and by key for O(1) resolution.
	VariationsByID  map[string]Variation `json:"-"`
	VariationsByKey map[string]Variation `json:"-"`

	// TrafficAllocation is the cumulative-range table over variation ids.
	TrafficAllocation []TrafficAllocation `json:"trafficAllocation"`

	// AudienceConditionTree gates experiment eligibility. Nil means "everyone".
	AudienceConditionTree *TreeNode `json:"-"`

	// Whitelist maps user ids to forced variation keys, bypassing bucketing.
	Whitelist map[string]string `json:"forcedVariations"`

	// Cmab is non-nil for bandit-driven experiments.
	Cmab *Cmab `json:"cmab,omitempty"`
}

// IsRunning reports whether the experiment is eligible for decisions.
func (e Experiment) IsRunning() bool {
	return e.Status == ExperimentStatusRunning
}

// Group is a set of experiments with a shared traffic-allocation policy.
// Under the mutually-exclusive policy the group's own ranges pick which member
// experiment (if any) a user can be bucketed into.
type Group struct {
	ID                string              `json:"id"`
	Policy            string              `json:"policy"`
	TrafficAllocation []TrafficAllocation `json:"trafficAllocation"`
}

// Attribute maps a datafile attribute id to its user-facing key.
type Attribute struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

// Audience is a named, reusable targeting predicate.
type Audience struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	ConditionTree *TreeNode `json:"-"`
}
