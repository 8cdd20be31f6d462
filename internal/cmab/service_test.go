package cmab

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/verdandi/internal/decide"
	"github.com/rafaeljc/verdandi/internal/entities"
	"github.com/rafaeljc/verdandi/internal/testsupport"
)

// fakeClient records every fetch and returns a scripted result.
type fakeClient struct {
	mu    sync.Mutex
	calls []fetchCall

	variationID string
	err         error
}

type fetchCall struct {
	ruleID     string
	userID     string
	attributes map[string]any
	cmabUUID   string
}

func (f *fakeClient) FetchDecision(_ context.Context, ruleID, userID string, attributes map[string]any, cmabUUID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fetchCall{ruleID: ruleID, userID: userID, attributes: attributes, cmabUUID: cmabUUID})
	if f.err != nil {
		return "", f.err
	}
	return f.variationID, nil
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeClient) lastCall() fetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// cmabConfig builds a config with one CMAB experiment forwarding the given
// attribute ids, plus the id-to-key table for them.
func cmabConfig(attributeIDs ...string) *testsupport.StaticConfig {
	experiment := testsupport.NewExperiment("exp-1", "checkout_bandit",
		testsupport.NewVariation("var-a", "a"),
		testsupport.NewVariation("var-b", "b"),
	)
	experiment.Cmab = &entities.Cmab{AttributeIDs: attributeIDs}

	cfg := testsupport.NewStaticConfig().WithExperiment(experiment)
	for i, id := range attributeIDs {
		// attr ids "100", "101"... map to keys "k100", "k101"...
		_ = i
		cfg.WithAttribute(id, "k"+id)
	}
	return cfg
}

func userWithAttrs(id string, attrs map[string]any) entities.UserContext {
	return entities.UserContext{ID: id, Attributes: attrs}
}

func TestService_GetDecision_Caching(t *testing.T) {
	t.Parallel()

	t.Run("cache hit reuses the decision and uuid without a fetch", func(t *testing.T) {
		t.Parallel()

		client := &fakeClient{variationID: "var-a"}
		svc := NewService(NewLRU[string, CacheEntry](10, time.Minute), client, discardLogger())
		cfg := cmabConfig("100")
		user := userWithAttrs("user-1", map[string]any{"k100": "red"})

		first, err := svc.GetDecision(context.Background(), cfg, user, "exp-1", 0)
		require.NoError(t, err)
		require.Equal(t, 1, client.callCount())
		assert.NotEmpty(t, first.CmabUUID)

		second, err := svc.GetDecision(context.Background(), cfg, user, "exp-1", 0)
		require.NoError(t, err)
		assert.Equal(t, 1, client.callCount(), "cached decision must not hit the network")
		assert.Equal(t, first, second, "uuid is minted per fetch, not per call")
	})

	t.Run("changed attributes invalidate the cached entry", func(t *testing.T) {
		t.Parallel()

		client := &fakeClient{variationID: "var-a"}
		svc := NewService(NewLRU[string, CacheEntry](10, time.Minute), client, discardLogger())
		cfg := cmabConfig("100")

		first, err := svc.GetDecision(context.Background(), cfg,
			userWithAttrs("user-1", map[string]any{"k100": "red"}), "exp-1", 0)
		require.NoError(t, err)

		second, err := svc.GetDecision(context.Background(), cfg,
			userWithAttrs("user-1", map[string]any{"k100": "blue"}), "exp-1", 0)
		require.NoError(t, err)

		assert.Equal(t, 2, client.callCount(), "stale entry must trigger exactly one re-fetch")
		assert.NotEqual(t, first.CmabUUID, second.CmabUUID)

		// The replaced entry now serves the new attributes from cache.
		_, err = svc.GetDecision(context.Background(), cfg,
			userWithAttrs("user-1", map[string]any{"k100": "blue"}), "exp-1", 0)
		require.NoError(t, err)
		assert.Equal(t, 2, client.callCount())
	})

	t.Run("attributes outside the rule's set do not disturb the cache", func(t *testing.T) {
		t.Parallel()

		client := &fakeClient{variationID: "var-a"}
		svc := NewService(NewLRU[string, CacheEntry](10, time.Minute), client, discardLogger())
		cfg := cmabConfig("100")

		_, err := svc.GetDecision(context.Background(), cfg,
			userWithAttrs("user-1", map[string]any{"k100": "red", "irrelevant": 1.0}), "exp-1", 0)
		require.NoError(t, err)

		_, err = svc.GetDecision(context.Background(), cfg,
			userWithAttrs("user-1", map[string]any{"k100": "red", "irrelevant": 2.0}), "exp-1", 0)
		require.NoError(t, err)

		assert.Equal(t, 1, client.callCount(), "only filtered attributes participate in the hash")
	})

	t.Run("distinct users get distinct cache entries", func(t *testing.T) {
		t.Parallel()

		client := &fakeClient{variationID: "var-a"}
		svc := NewService(NewLRU[string, CacheEntry](10, time.Minute), client, discardLogger())
		cfg := cmabConfig("100")
		attrs := map[string]any{"k100": "red"}

		d1, err := svc.GetDecision(context.Background(), cfg, userWithAttrs("user-1", attrs), "exp-1", 0)
		require.NoError(t, err)
		d2, err := svc.GetDecision(context.Background(), cfg, userWithAttrs("user-2", attrs), "exp-1", 0)
		require.NoError(t, err)

		assert.Equal(t, 2, client.callCount())
		assert.NotEqual(t, d1.CmabUUID, d2.CmabUUID)
	})
}

func TestService_GetDecision_Options(t *testing.T) {
	t.Parallel()

	t.Run("IGNORE_CMAB_CACHE bypasses the cache in both directions", func(t *testing.T) {
		t.Parallel()

		client := &fakeClient{variationID: "var-a"}
		svc := NewService(NewLRU[string, CacheEntry](10, time.Minute), client, discardLogger())
		cfg := cmabConfig("100")
		user := userWithAttrs("user-1", map[string]any{"k100": "red"})

		// Prime the cache.
		cached, err := svc.GetDecision(context.Background(), cfg, user, "exp-1", 0)
		require.NoError(t, err)
		require.Equal(t, 1, client.callCount())

		// Ignoring the cache fetches fresh despite the valid entry.
		fresh, err := svc.GetDecision(context.Background(), cfg, user, "exp-1", decide.IgnoreCmabCache)
		require.NoError(t, err)
		assert.Equal(t, 2, client.callCount())
		assert.NotEqual(t, cached.CmabUUID, fresh.CmabUUID)

		// And it did not overwrite the entry: a normal call still hits the old one.
		again, err := svc.GetDecision(context.Background(), cfg, user, "exp-1", 0)
		require.NoError(t, err)
		assert.Equal(t, 2, client.callCount())
		assert.Equal(t, cached.CmabUUID, again.CmabUUID)
	})

	t.Run("RESET_CMAB_CACHE clears every entry", func(t *testing.T) {
		t.Parallel()

		client := &fakeClient{variationID: "var-a"}
		svc := NewService(NewLRU[string, CacheEntry](10, time.Minute), client, discardLogger())
		cfg := cmabConfig("100")
		attrs := map[string]any{"k100": "red"}

		_, err := svc.GetDecision(context.Background(), cfg, userWithAttrs("user-1", attrs), "exp-1", 0)
		require.NoError(t, err)
		_, err = svc.GetDecision(context.Background(), cfg, userWithAttrs("user-2", attrs), "exp-1", 0)
		require.NoError(t, err)
		require.Equal(t, 2, client.callCount())

		// The reset call re-fetches for user-1...
		_, err = svc.GetDecision(context.Background(), cfg, userWithAttrs("user-1", attrs), "exp-1", decide.ResetCmabCache)
		require.NoError(t, err)
		assert.Equal(t, 3, client.callCount())

		// ...and user-2's entry is gone too.
		_, err = svc.GetDecision(context.Background(), cfg, userWithAttrs("user-2", attrs), "exp-1", 0)
		require.NoError(t, err)
		assert.Equal(t, 4, client.callCount())
	})

	t.Run("INVALIDATE_USER_CMAB_CACHE removes only the caller's entry", func(t *testing.T) {
		t.Parallel()

		client := &fakeClient{variationID: "var-a"}
		svc := NewService(NewLRU[string, CacheEntry](10, time.Minute), client, discardLogger())
		cfg := cmabConfig("100")
		attrs := map[string]any{"k100": "red"}

		_, err := svc.GetDecision(context.Background(), cfg, userWithAttrs("user-1", attrs), "exp-1", 0)
		require.NoError(t, err)
		_, err = svc.GetDecision(context.Background(), cfg, userWithAttrs("user-2", attrs), "exp-1", 0)
		require.NoError(t, err)
		require.Equal(t, 2, client.callCount())

		_, err = svc.GetDecision(context.Background(), cfg, userWithAttrs("user-1", attrs), "exp-1", decide.InvalidateUserCmabCache)
		require.NoError(t, err)
		assert.Equal(t, 3, client.callCount(), "user-1's entry was dropped before lookup")

		_, err = svc.GetDecision(context.Background(), cfg, userWithAttrs("user-2", attrs), "exp-1", 0)
		require.NoError(t, err)
		assert.Equal(t, 3, client.callCount(), "user-2's entry must survive")
	})
}

func TestService_GetDecision_Errors(t *testing.T) {
	t.Parallel()

	t.Run("fetch errors propagate and nothing is cached", func(t *testing.T) {
		t.Parallel()

		client := &fakeClient{err: &FetchError{RuleID: "exp-1", Err: errors.New("boom")}}
		svc := NewService(NewLRU[string, CacheEntry](10, time.Minute), client, discardLogger())
		cfg := cmabConfig("100")
		user := userWithAttrs("user-1", map[string]any{"k100": "red"})

		_, err := svc.GetDecision(context.Background(), cfg, user, "exp-1", 0)
		var fetchErr *FetchError
		require.ErrorAs(t, err, &fetchErr)

		// A later successful fetch proves no poisoned entry was stored.
		client.err = nil
		client.variationID = "var-b"
		decision, err := svc.GetDecision(context.Background(), cfg, user, "exp-1", 0)
		require.NoError(t, err)
		assert.Equal(t, "var-b", decision.VariationID)
		assert.Equal(t, 2, client.callCount())
	})
}

func TestService_FilterAttributes(t *testing.T) {
	t.Parallel()

	svc := NewService(nil, &fakeClient{variationID: "var-a"}, discardLogger())

	t.Run("keeps only configured attributes the user supplied", func(t *testing.T) {
		t.Parallel()

		cfg := cmabConfig("100", "101", "102")
		user := userWithAttrs("user-1", map[string]any{
			"k100":  "red",
			"k102":  42.0,
			"extra": true,
		})

		got := svc.filterAttributes(cfg, user, "exp-1")
		assert.Equal(t, map[string]any{"k100": "red", "k102": 42.0}, got)
	})

	t.Run("unknown rule id degrades to empty", func(t *testing.T) {
		t.Parallel()

		cfg := cmabConfig("100")
		got := svc.filterAttributes(cfg, userWithAttrs("user-1", map[string]any{"k100": "red"}), "nope")
		assert.Empty(t, got)
	})

	t.Run("experiment without cmab config degrades to empty", func(t *testing.T) {
		t.Parallel()

		cfg := testsupport.NewStaticConfig().
			WithExperiment(testsupport.NewExperiment("exp-2", "plain", testsupport.NewVariation("v1", "on")))
		got := svc.filterAttributes(cfg, userWithAttrs("user-1", map[string]any{"k100": "red"}), "exp-2")
		assert.Empty(t, got)
	})

	t.Run("unknown attribute ids are skipped", func(t *testing.T) {
		t.Parallel()

		experiment := testsupport.NewExperiment("exp-3", "bandit", testsupport.NewVariation("v1", "on"))
		experiment.Cmab = &entities.Cmab{AttributeIDs: []string{"100", "999"}}
		cfg := testsupport.NewStaticConfig().WithExperiment(experiment).WithAttribute("100", "k100")

		got := svc.filterAttributes(cfg, userWithAttrs("user-1", map[string]any{"k100": "red"}), "exp-3")
		assert.Equal(t, map[string]any{"k100": "red"}, got)
	})
}

func TestHashAttributes(t *testing.T) {
	t.Parallel()

	t.Run("independent of map construction order", func(t *testing.T) {
		t.Parallel()

		a := map[string]any{"x": 1.0, "y": "two", "z": true}
		b := map[string]any{"z": true, "x": 1.0, "y": "two"}
		assert.Equal(t, hashAttributes(a), hashAttributes(b))
	})

	t.Run("sensitive to values", func(t *testing.T) {
		t.Parallel()

		a := map[string]any{"x": 1.0}
		b := map[string]any{"x": 2.0}
		assert.NotEqual(t, hashAttributes(a), hashAttributes(b))
	})

	t.Run("sensitive to keys", func(t *testing.T) {
		t.Parallel()

		a := map[string]any{"x": 1.0}
		b := map[string]any{"y": 1.0}
		assert.NotEqual(t, hashAttributes(a), hashAttributes(b))
	})

	t.Run("empty set hashes consistently", func(t *testing.T) {
		t.Parallel()

		assert.Equal(t, hashAttributes(nil), hashAttributes(map[string]any{}))
	})
}

func TestNewService(t *testing.T) {
	t.Parallel()

	t.Run("panics without a client", func(t *testing.T) {
		t.Parallel()

		assert.Panics(t, func() { NewService(nil, nil, nil) })
	})

	t.Run("nil cache gets defaults", func(t *testing.T) {
		t.Parallel()

		svc := NewService(nil, &fakeClient{variationID: "var-a"}, nil)
		require.NotNil(t, svc.cache)
	})
}
