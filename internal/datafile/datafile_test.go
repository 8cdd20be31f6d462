package datafile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/verdandi/internal/entities"
)

const sampleDatafile = `{
	"version": "4",
	"projectId": "proj-1",
	"revision": "42",
	"attributes": [
		{"id": "100", "key": "plan"},
		{"id": "101", "key": "country"}
	],
	"audiences": [
		{
			"id": "aud-1",
			"name": "premium users",
			"conditions": ["and", {"name": "plan", "type": "custom_attribute", "match": "exact", "value": "premium"}]
		},
		{
			"id": "aud-2",
			"name": "brazilians",
			"conditions": "[\"or\", {\"name\": \"country\", \"type\": \"custom_attribute\", \"match\": \"exact\", \"value\": \"BR\"}]"
		}
	],
	"groups": [
		{
			"id": "grp-1",
			"policy": "random",
			"trafficAllocation": [
				{"entityId": "exp-1", "endOfRange": 5000},
				{"entityId": "exp-2", "endOfRange": 10000}
			]
		}
	],
	"experiments": [
		{
			"id": "exp-1",
			"key": "dark_mode",
			"status": "Running",
			"groupId": "grp-1",
			"variations": [
				{"id": "v1", "key": "control", "featureEnabled": false},
				{"id": "v2", "key": "treatment", "featureEnabled": true}
			],
			"trafficAllocation": [
				{"entityId": "v1", "endOfRange": 5000},
				{"entityId": "v2", "endOfRange": 10000}
			],
			"audienceIds": ["aud-1", "aud-2"],
			"forcedVariations": {"qa-user": "treatment"}
		},
		{
			"id": "exp-2",
			"key": "checkout_bandit",
			"status": "Running",
			"groupId": "grp-1",
			"variations": [
				{"id": "v3", "key": "arm_a", "featureEnabled": true},
				{"id": "v4", "key": "arm_b", "featureEnabled": true}
			],
			"audienceIds": ["aud-1"],
			"cmab": {
				"attributeIds": ["100"],
				"trafficAllocation": [{"entityId": "cmab-dummy", "endOfRange": 10000}]
			}
		},
		{
			"id": "exp-3",
			"key": "untargeted",
			"status": "Paused",
			"variations": [{"id": "v5", "key": "on", "featureEnabled": true}],
			"audienceIds": ["missing-audience"]
		}
	]
}`

func TestParse(t *testing.T) {
	t.Parallel()

	cfg, err := Parse([]byte(sampleDatafile))
	require.NoError(t, err)

	t.Run("project metadata", func(t *testing.T) {
		t.Parallel()

		assert.Equal(t, "proj-1", cfg.ProjectID())
		assert.Equal(t, "42", cfg.Revision())
	})

	t.Run("attributes are indexed by id", func(t *testing.T) {
		t.Parallel()

		attrs := cfg.AttributeIDMap()
		require.Len(t, attrs, 2)
		assert.Equal(t, "plan", attrs["100"].Key)
		assert.Equal(t, "country", attrs["101"].Key)
	})

	t.Run("experiments resolve by id and key", func(t *testing.T) {
		t.Parallel()

		byID, err := cfg.GetExperimentFromID("exp-1")
		require.NoError(t, err)
		byKey, err := cfg.GetExperimentFromKey("dark_mode")
		require.NoError(t, err)
		assert.Equal(t, byID.ID, byKey.ID)
		assert.Equal(t, "grp-1", byID.GroupID)
		assert.True(t, byID.IsRunning())
	})

	t.Run("variations are indexed both ways", func(t *testing.T) {
		t.Parallel()

		experiment, err := cfg.GetExperimentFromID("exp-1")
		require.NoError(t, err)
		assert.Equal(t, "control", experiment.VariationsByID["v1"].Key)
		assert.Equal(t, "v2", experiment.VariationsByKey["treatment"].ID)
		assert.True(t, experiment.VariationsByKey["treatment"].FeatureEnabled)

		variation, err := cfg.GetVariationFromID("exp-1", "v2")
		require.NoError(t, err)
		assert.Equal(t, "treatment", variation.Key)
	})

	t.Run("forced variations become the whitelist", func(t *testing.T) {
		t.Parallel()

		experiment, err := cfg.GetExperimentFromID("exp-1")
		require.NoError(t, err)
		assert.Equal(t, "treatment", experiment.Whitelist["qa-user"])
	})

	t.Run("multiple audiences are ORed together", func(t *testing.T) {
		t.Parallel()

		experiment, err := cfg.GetExperimentFromID("exp-1")
		require.NoError(t, err)
		tree := experiment.AudienceConditionTree
		require.NotNil(t, tree)
		assert.Equal(t, entities.OperatorOr, tree.Operator)
		require.Len(t, tree.Nodes, 2)

		// First referenced audience: the "and" tree over plan.
		assert.Equal(t, entities.OperatorAnd, tree.Nodes[0].Operator)
		// Second: the double-encoded "or" tree over country.
		assert.Equal(t, entities.OperatorOr, tree.Nodes[1].Operator)
	})

	t.Run("single audience keeps its tree unwrapped", func(t *testing.T) {
		t.Parallel()

		experiment, err := cfg.GetExperimentFromID("exp-2")
		require.NoError(t, err)
		tree := experiment.AudienceConditionTree
		require.NotNil(t, tree)
		assert.Equal(t, entities.OperatorAnd, tree.Operator)
	})

	t.Run("unknown audience ids degrade to no tree", func(t *testing.T) {
		t.Parallel()

		experiment, err := cfg.GetExperimentFromID("exp-3")
		require.NoError(t, err)
		assert.Nil(t, experiment.AudienceConditionTree)
	})

	t.Run("cmab config is carried through", func(t *testing.T) {
		t.Parallel()

		experiment, err := cfg.GetExperimentFromID("exp-2")
		require.NoError(t, err)
		require.NotNil(t, experiment.Cmab)
		assert.Equal(t, []string{"100"}, experiment.Cmab.AttributeIDs)
		require.Len(t, experiment.Cmab.TrafficAllocation, 1)
		assert.Equal(t, 10000, experiment.Cmab.TrafficAllocation[0].EndOfRange)
	})

	t.Run("groups resolve by id", func(t *testing.T) {
		t.Parallel()

		group, ok := cfg.GetGroup("grp-1")
		require.True(t, ok)
		assert.Equal(t, entities.GroupPolicyRandom, group.Policy)
		assert.Len(t, group.TrafficAllocation, 2)

		_, ok = cfg.GetGroup("nope")
		assert.False(t, ok)
	})

	t.Run("lookups for absent entities return errors", func(t *testing.T) {
		t.Parallel()

		_, err := cfg.GetExperimentFromID("nope")
		assert.ErrorContains(t, err, `experiment with id "nope" not found`)

		_, err = cfg.GetExperimentFromKey("nope")
		assert.ErrorContains(t, err, `experiment with key "nope" not found`)

		_, err = cfg.GetVariationFromID("nope", "v1")
		assert.ErrorContains(t, err, `experiment with id "nope" not found`)

		_, err = cfg.GetVariationFromID("exp-1", "ghost")
		assert.ErrorContains(t, err, `variation with id "ghost" not found`)
	})
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()

	t.Run("malformed json", func(t *testing.T) {
		t.Parallel()

		_, err := Parse([]byte(`{"projectId":`))
		assert.ErrorContains(t, err, "failed to decode datafile")
	})

	t.Run("malformed audience conditions", func(t *testing.T) {
		t.Parallel()

		raw := `{"audiences": [{"id": "aud-1", "conditions": ["bogus_op", {"name": "a"}]}]}`
		_, err := Parse([]byte(raw))
		assert.ErrorContains(t, err, `audience "aud-1" has malformed conditions`)
	})
}
