// Package bucketer implements deterministic hash-based traffic allocation.
// It maps a (bucketing id, entity) pair to a bucket in [0, 10000) using
// consistent hashing (Murmur3) so the same user always lands in the same
// slot for a given experiment, with no clock or randomness involved.
package bucketer

import (
	"fmt"
	"log/slog"

	"github.com/spaolacci/murmur3"

	"github.com/rafaeljc/verdandi/internal/entities"
)

// maxTrafficValue is the total traffic space. EndOfRange values are cumulative
// upper bounds out of this.
const maxTrafficValue = 10000

// Bucketer assigns users to traffic-allocation ranges.
// It is stateless and safe for concurrent use.
type Bucketer struct {
	logger *slog.Logger
}

// New creates a new Bucketer.
// If logger is nil, it defaults to slog.Default().
func New(logger *slog.Logger) *Bucketer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bucketer{logger: logger}
}

// BucketToEntityID resolves the entity (variation id, or CMAB inclusion
// sentinel) the user falls into for the given experiment.
//
// If the experiment belongs to a mutually-exclusive group, the user is first
// bucketed across the group's own ranges (salted with the group id). Landing
// outside every group range, or inside a different member experiment's range,
// means "not included": the experiment's own allocation is never consulted.
//
// The second return is false when the user is not included in any range.
func (b *Bucketer) BucketToEntityID(
	cfg entities.ProjectConfig,
	experiment entities.Experiment,
	bucketingID string,
	userID string,
	allocations []entities.TrafficAllocation,
) (string, bool) {
	// 1. Mutual-exclusion group gate.
	if experiment.GroupID != "" {
		group, ok := cfg.GetGroup(experiment.GroupID)
		if ok && group.Policy == entities.GroupPolicyRandom {
			memberID, found := b.bucketToRange(bucketingID, group.ID, group.TrafficAllocation)
			if !found || memberID != experiment.ID {
				b.logger.Debug("user is not in experiment of mutually exclusive group",
					slog.String("user_id", userID),
					slog.String("experiment_key", experiment.Key),
					slog.String("group_id", group.ID),
				)
				return "", false
			}
			b.logger.Debug("user is in experiment of mutually exclusive group",
				slog.String("user_id", userID),
				slog.String("experiment_key", experiment.Key),
				slog.String("group_id", group.ID),
			)
		}
	}

	// 2. Experiment-level allocation.
	entityID, found := b.bucketToRange(bucketingID, experiment.ID, allocations)
	if !found {
		b.logger.Debug("user is in no traffic allocation range",
			slog.String("user_id", userID),
			slog.String("experiment_key", experiment.Key),
		)
		return "", false
	}
	return entityID, true
}

// bucketToRange hashes the bucketing id salted with saltID and walks the
// cumulative ranges in order; the first range whose upper bound exceeds the
// bucket value wins. A total allocation below 10000 leaves a dead zone where
// no entity is returned.
func (b *Bucketer) bucketToRange(bucketingID, saltID string, allocations []entities.TrafficAllocation) (string, bool) {
	bucket := b.bucketValue(bucketingID, saltID)
	for _, allocation := range allocations {
		if bucket < allocation.EndOfRange {
			return allocation.EntityID, true
		}
	}
	return "", false
}

// bucketValue computes the deterministic bucket in [0, 10000).
//
// The salt (experiment or group id) ensures a user who lands in the "lucky"
// slice of one experiment is not automatically lucky in every other one:
// allocations stay statistically independent across experiments.
func (b *Bucketer) bucketValue(bucketingID, saltID string) int {
	hashKey := fmt.Sprintf("%s:%s", bucketingID, saltID)
	return int(murmur3.Sum32([]byte(hashKey)) % maxTrafficValue)
}
