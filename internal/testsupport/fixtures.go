package testsupport

import (
	"fmt"

	"github.com/rafaeljc/verdandi/internal/entities"
)

// StaticConfig is an in-memory entities.ProjectConfig for unit tests.
// Build a fresh one per test; nothing is shared or synchronized.
type StaticConfig struct {
	Experiments map[string]entities.Experiment
	Attributes  map[string]entities.Attribute
	Groups      map[string]entities.Group
}

var _ entities.ProjectConfig = (*StaticConfig)(nil)

// NewStaticConfig creates an empty config fixture.
func NewStaticConfig() *StaticConfig {
	return &StaticConfig{
		Experiments: make(map[string]entities.Experiment),
		Attributes:  make(map[string]entities.Attribute),
		Groups:      make(map[string]entities.Group),
	}
}

// WithExperiment registers an experiment and returns the config for chaining.
func (c *StaticConfig) WithExperiment(experiment entities.Experiment) *StaticConfig {
	c.Experiments[experiment.ID] = experiment
	return c
}

// WithAttribute registers an attribute id/key pair.
func (c *StaticConfig) WithAttribute(id, key string) *StaticConfig {
	c.Attributes[id] = entities.Attribute{ID: id, Key: key}
	return c
}

// WithGroup registers a mutual-exclusion group.
func (c *StaticConfig) WithGroup(group entities.Group) *StaticConfig {
	c.Groups[group.ID] = group
	return c
}

func (c *StaticConfig) ExperimentIDMap() map[string]entities.Experiment { return c.Experiments }

func (c *StaticConfig) AttributeIDMap() map[string]entities.Attribute { return c.Attributes }

func (c *StaticConfig) GetExperimentFromKey(key string) (entities.Experiment, error) {
	for _, experiment := range c.Experiments {
		if experiment.Key == key {
			return experiment, nil
		}
	}
	return entities.Experiment{}, fmt.Errorf("experiment with key %q not found", key)
}

func (c *StaticConfig) GetExperimentFromID(id string) (entities.Experiment, error) {
	if experiment, ok := c.Experiments[id]; ok {
		return experiment, nil
	}
	return entities.Experiment{}, fmt.Errorf("experiment with id %q not found", id)
}

func (c *StaticConfig) GetVariationFromID(experimentID, variationID string) (entities.Variation, error) {
	experiment, ok := c.Experiments[experimentID]
	if !ok {
		return entities.Variation{}, fmt.Errorf("experiment with id %q not found", experimentID)
	}
	if variation, ok := experiment.VariationsByID[variationID]; ok {
		return variation, nil
	}
	return entities.Variation{}, fmt.Errorf("variation with id %q not found in experiment %q", variationID, experimentID)
}

func (c *StaticConfig) GetGroup(id string) (entities.Group, bool) {
	group, ok := c.Groups[id]
	return group, ok
}

// NewExperiment builds a running experiment with the given variations and a
// traffic allocation that splits the bucket space evenly between them.
func NewExperiment(id, key string, variations ...entities.Variation) entities.Experiment {
	experiment := entities.Experiment{
		ID:              id,
		Key:             key,
		Status:          "Running",
		VariationsByID:  make(map[string]entities.Variation, len(variations)),
		VariationsByKey: make(map[string]entities.Variation, len(variations)),
		Whitelist:       make(map[string]string),
	}

	if len(variations) > 0 {
		step := 10000 / len(variations)
		for i, variation := range variations {
			experiment.VariationsByID[variation.ID] = variation
			experiment.VariationsByKey[variation.Key] = variation

			end := (i + 1) * step
			if i == len(variations)-1 {
				end = 10000
			}
			experiment.TrafficAllocation = append(experiment.TrafficAllocation, entities.TrafficAllocation{
				EntityID:   variation.ID,
				EndOfRange: end,
			})
		}
	}

	return experiment
}

// NewVariation builds an enabled variation.
func NewVariation(id, key string) entities.Variation {
	return entities.Variation{ID: id, Key: key, FeatureEnabled: true}
}
