package profile

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfile_Variation(t *testing.T) {
	t.Parallel()

	t.Run("empty profile has no assignments", func(t *testing.T) {
		t.Parallel()

		_, ok := Profile{}.Variation("exp-1")
		assert.False(t, ok)
	})

	t.Run("stored assignment is returned", func(t *testing.T) {
		t.Parallel()

		p := Profile{UserID: "user-1"}.WithVariation("exp-1", "v1")
		variationID, ok := p.Variation("exp-1")
		require.True(t, ok)
		assert.Equal(t, "v1", variationID)
	})

	t.Run("empty variation id reads as absent", func(t *testing.T) {
		t.Parallel()

		p := Profile{ExperimentBucketMap: map[string]Decision{"exp-1": {}}}
		_, ok := p.Variation("exp-1")
		assert.False(t, ok)
	})
}

func TestProfile_WithVariation(t *testing.T) {
	t.Parallel()

	t.Run("does not mutate the receiver", func(t *testing.T) {
		t.Parallel()

		original := Profile{UserID: "user-1"}.WithVariation("exp-1", "v1")
		updated := original.WithVariation("exp-1", "v2")

		originalID, _ := original.Variation("exp-1")
		updatedID, _ := updated.Variation("exp-1")
		assert.Equal(t, "v1", originalID)
		assert.Equal(t, "v2", updatedID)
	})

	t.Run("preserves other experiments", func(t *testing.T) {
		t.Parallel()

		p := Profile{UserID: "user-1"}.
			WithVariation("exp-1", "v1").
			WithVariation("exp-2", "v2")

		first, _ := p.Variation("exp-1")
		second, _ := p.Variation("exp-2")
		assert.Equal(t, "v1", first)
		assert.Equal(t, "v2", second)
	})
}

func TestInMemoryStore(t *testing.T) {
	t.Parallel()

	t.Run("lookup on empty store", func(t *testing.T) {
		t.Parallel()

		s := NewInMemoryStore()
		_, found, err := s.Lookup(context.Background(), "user-1")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("save then lookup", func(t *testing.T) {
		t.Parallel()

		s := NewInMemoryStore()
		p := Profile{UserID: "user-1"}.WithVariation("exp-1", "v1")
		require.NoError(t, s.Save(context.Background(), p))

		got, found, err := s.Lookup(context.Background(), "user-1")
		require.NoError(t, err)
		require.True(t, found)
		variationID, _ := got.Variation("exp-1")
		assert.Equal(t, "v1", variationID)
	})

	t.Run("save replaces the previous record", func(t *testing.T) {
		t.Parallel()

		s := NewInMemoryStore()
		require.NoError(t, s.Save(context.Background(), Profile{UserID: "user-1"}.WithVariation("exp-1", "v1")))
		require.NoError(t, s.Save(context.Background(), Profile{UserID: "user-1"}.WithVariation("exp-1", "v2")))

		got, found, err := s.Lookup(context.Background(), "user-1")
		require.NoError(t, err)
		require.True(t, found)
		variationID, _ := got.Variation("exp-1")
		assert.Equal(t, "v2", variationID)
	})

	t.Run("concurrent access", func(t *testing.T) {
		t.Parallel()

		s := NewInMemoryStore()
		var wg sync.WaitGroup
		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 200; i++ {
					_ = s.Save(context.Background(), Profile{UserID: "user-1"}.WithVariation("exp-1", "v1"))
					_, _, _ = s.Lookup(context.Background(), "user-1")
				}
			}()
		}
		wg.Wait()
	})
}
