// Package profile provides the user-profile store used for sticky bucketing:
// remembering which variation a user was assigned so returning users keep it
// across datafile revisions.
package profile

import (
	"context"
	"sync"
)

// Decision is the stored assignment for one experiment.
type Decision struct {
	VariationID string `json:"variation_id"`
}

// Profile is the persisted sticky-bucketing record for one user.
type Profile struct {
	UserID string `json:"user_id"`

	// ExperimentBucketMap maps experiment id to the stored assignment.
	ExperimentBucketMap map[string]Decision `json:"experiment_bucket_map"`
}

// Variation returns the stored variation id for an experiment, if any.
func (p Profile) Variation(experimentID string) (string, bool) {
	decision, ok := p.ExperimentBucketMap[experimentID]
	if !ok || decision.VariationID == "" {
		return "", false
	}
	return decision.VariationID, true
}

// WithVariation returns a copy of the profile with the assignment recorded.
// The receiver is not mutated; stored profiles are treated as immutable values.
func (p Profile) WithVariation(experimentID, variationID string) Profile {
	bucketMap := make(map[string]Decision, len(p.ExperimentBucketMap)+1)
	for k, v := range p.ExperimentBucketMap {
		bucketMap[k] = v
	}
	bucketMap[experimentID] = Decision{VariationID: variationID}

	return Profile{UserID: p.UserID, ExperimentBucketMap: bucketMap}
}

// Store persists user profiles.
// Implementations must be safe for concurrent use.
type Store interface {
	// Lookup fetches the profile for userID. The boolean reports presence;
	// infrastructure failures are returned as errors and treated as
	// non-fatal by the decision service.
	Lookup(ctx context.Context, userID string) (Profile, bool, error)

	// Save persists the profile, replacing any previous record.
	Save(ctx context.Context, profile Profile) error
}

// InMemoryStore is a Store backed by a map, for tests and single-process use.
type InMemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{profiles: make(map[string]Profile)}
}

// Lookup implements Store.
func (s *InMemoryStore) Lookup(_ context.Context, userID string) (Profile, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	profile, ok := s.profiles[userID]
	return profile, ok, nil
}

// Save implements Store.
func (s *InMemoryStore) Save(_ context.Context, profile Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.profiles[profile.UserID] = profile
	return nil
}
