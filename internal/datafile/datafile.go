// Package datafile parses the declarative project configuration (the
// "datafile") into an immutable snapshot consumed by the decision engine.
//
// A snapshot is built once per datafile revision and never mutated afterward;
// concurrent decisions share it freely. Referential problems inside the
// datafile (an experiment naming an unknown audience id, a group without a
// policy) degrade to "nothing to target" rather than failing the parse.
package datafile

import (
	"encoding/json"
	"fmt"

	"github.com/rafaeljc/verdandi/internal/entities"
)

// wire structures mirroring the datafile JSON.

type datafileJSON struct {
	Version     string               `json:"version"`
	ProjectID   string               `json:"projectId"`
	Revision    string               `json:"revision"`
	Attributes  []entities.Attribute `json:"attributes"`
	Audiences   []audienceJSON       `json:"audiences"`
	Groups      []entities.Group     `json:"groups"`
	Experiments []experimentJSON     `json:"experiments"`
}

type audienceJSON struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Conditions json.RawMessage `json:"conditions"`
}

type experimentJSON struct {
	ID                string                       `json:"id"`
	Key               string                       `json:"key"`
	Status            string                       `json:"status"`
	GroupID           string                       `json:"groupId"`
	Variations        []entities.Variation         `json:"variations"`
	TrafficAllocation []entities.TrafficAllocation `json:"trafficAllocation"`
	AudienceIDs       []string                     `json:"audienceIds"`
	ForcedVariations  map[string]string            `json:"forcedVariations"`
	Cmab              *entities.Cmab               `json:"cmab"`
}

// Config is the parsed, immutable project snapshot.
// It implements entities.ProjectConfig.
type Config struct {
	projectID string
	revision  string

	experimentsByID  map[string]entities.Experiment
	experimentsByKey map[string]entities.Experiment
	attributesByID   map[string]entities.Attribute
	groupsByID       map[string]entities.Group
	audiencesByID    map[string]entities.Audience
}

// Compile-time check that Config satisfies the engine's read interface.
var _ entities.ProjectConfig = (*Config)(nil)

// Parse decodes raw datafile JSON into a Config snapshot.
func Parse(raw []byte) (*Config, error) {
	var df datafileJSON
	if err := json.Unmarshal(raw, &df); err != nil {
		return nil, fmt.Errorf("failed to decode datafile: %w", err)
	}

	cfg := &Config{
		projectID:        df.ProjectID,
		revision:         df.Revision,
		experimentsByID:  make(map[string]entities.Experiment, len(df.Experiments)),
		experimentsByKey: make(map[string]entities.Experiment, len(df.Experiments)),
		attributesByID:   make(map[string]entities.Attribute, len(df.Attributes)),
		groupsByID:       make(map[string]entities.Group, len(df.Groups)),
		audiencesByID:    make(map[string]entities.Audience, len(df.Audiences)),
	}

	for _, attribute := range df.Attributes {
		cfg.attributesByID[attribute.ID] = attribute
	}

	for _, group := range df.Groups {
		cfg.groupsByID[group.ID] = group
	}

	for _, aud := range df.Audiences {
		tree, err := ParseConditionTree(aud.Conditions)
		if err != nil {
			return nil, fmt.Errorf("audience %q has malformed conditions: %w", aud.ID, err)
		}
		cfg.audiencesByID[aud.ID] = entities.Audience{
			ID:            aud.ID,
			Name:          aud.Name,
			ConditionTree: tree,
		}
	}

	for _, exp := range df.Experiments {
		experiment := entities.Experiment{
			ID:                exp.ID,
			Key:               exp.Key,
			Status:            exp.Status,
			GroupID:           exp.GroupID,
			TrafficAllocation: exp.TrafficAllocation,
			Whitelist:         exp.ForcedVariations,
			Cmab:              exp.Cmab,
			VariationsByID:    make(map[string]entities.Variation, len(exp.Variations)),
			VariationsByKey:   make(map[string]entities.Variation, len(exp.Variations)),
		}
		for _, variation := range exp.Variations {
			experiment.VariationsByID[variation.ID] = variation
			experiment.VariationsByKey[variation.Key] = variation
		}
		experiment.AudienceConditionTree = cfg.audienceTree(exp.AudienceIDs)

		cfg.experimentsByID[experiment.ID] = experiment
		cfg.experimentsByKey[experiment.Key] = experiment
	}

	return cfg, nil
}

// audienceTree ORs the condition trees of the referenced audiences: a user
// qualifies when any audience matches. Unknown audience ids are skipped; an
// experiment referencing only unknown audiences ends up with no tree at all
// (targets everyone), matching the degrade-to-empty integrity policy.
func (c *Config) audienceTree(audienceIDs []string) *entities.TreeNode {
	var nodes []*entities.TreeNode
	for _, id := range audienceIDs {
		audience, ok := c.audiencesByID[id]
		if !ok || audience.ConditionTree == nil {
			continue
		}
		nodes = append(nodes, audience.ConditionTree)
	}

	switch len(nodes) {
	case 0:
		return nil
	case 1:
		return nodes[0]
	default:
		return &entities.TreeNode{Operator: entities.OperatorOr, Nodes: nodes}
	}
}

// ProjectID returns the datafile's project identifier.
func (c *Config) ProjectID() string { return c.projectID }

// Revision returns the datafile revision this snapshot was parsed from.
func (c *Config) Revision() string { return c.revision }

// ExperimentIDMap implements entities.ProjectConfig.
func (c *Config) ExperimentIDMap() map[string]entities.Experiment {
	return c.experimentsByID
}

// AttributeIDMap implements entities.ProjectConfig.
func (c *Config) AttributeIDMap() map[string]entities.Attribute {
	return c.attributesByID
}

// GetExperimentFromKey implements entities.ProjectConfig.
func (c *Config) GetExperimentFromKey(key string) (entities.Experiment, error) {
	if experiment, ok := c.experimentsByKey[key]; ok {
		return experiment, nil
	}
	return entities.Experiment{}, fmt.Errorf("experiment with key %q not found", key)
}

// GetExperimentFromID implements entities.ProjectConfig.
func (c *Config) GetExperimentFromID(id string) (entities.Experiment, error) {
	if experiment, ok := c.experimentsByID[id]; ok {
		return experiment, nil
	}
	return entities.Experiment{}, fmt.Errorf("experiment with id %q not found", id)
}

// GetVariationFromID implements entities.ProjectConfig.
func (c *Config) GetVariationFromID(experimentID, variationID string) (entities.Variation, error) {
	experiment, ok := c.experimentsByID[experimentID]
	if !ok {
		return entities.Variation{}, fmt.Errorf("experiment with id %q not found", experimentID)
	}
	if variation, ok := experiment.VariationsByID[variationID]; ok {
		return variation, nil
	}
	return entities.Variation{}, fmt.Errorf("variation with id %q not found in experiment %q", variationID, experimentID)
}

// GetGroup implements entities.ProjectConfig.
func (c *Config) GetGroup(id string) (entities.Group, bool) {
	group, ok := c.groupsByID[id]
	return group, ok
}
