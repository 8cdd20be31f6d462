//go:build integration

// Package store_test contains integration tests for the Data Access Layer.
// We use the '_test' suffix to enforce black-box testing, ensuring we only
// access the exported API of the store package.
package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/verdandi/internal/store"
	"github.com/rafaeljc/verdandi/internal/testsupport"
)

const seededDatafile = `{
	"projectId": "proj-int",
	"revision": "3",
	"experiments": [
		{
			"id": "exp-1",
			"key": "dark_mode",
			"status": "Running",
			"variations": [{"id": "v1", "key": "on", "featureEnabled": true}],
			"trafficAllocation": [{"entityId": "v1", "endOfRange": 10000}]
		}
	]
}`

// TestPostgresStore_Integration spins up a real PostgreSQL container once and
// runs the repository scenarios against it.
func TestPostgresStore_Integration(t *testing.T) {
	// 1. Infrastructure Setup
	ctx := context.Background()

	// Relative path from 'internal/store' to the 'migrations' folder in root.
	migrationsPath := "../../migrations"

	pgContainer, err := testsupport.StartPostgresContainer(ctx, migrationsPath)
	require.NoError(t, err, "failed to start postgres container")

	// Ensure resource cleanup even if tests fail
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}()

	repo := store.NewPostgresStore(pgContainer.DB)

	// Seed one datafile row directly.
	_, err = pgContainer.DB.Exec(ctx,
		`INSERT INTO datafiles (sdk_key, revision, content) VALUES ($1, $2, $3)`,
		"int-sdk-key", "3", []byte(seededDatafile),
	)
	require.NoError(t, err, "failed to seed datafile")

	// 2. Scenarios
	// We run these sequentially as they share the same container state.

	t.Run("GetDatafile_Success", func(t *testing.T) {
		df, err := repo.GetDatafile(ctx, "int-sdk-key")
		require.NoError(t, err)

		assert.Equal(t, "int-sdk-key", df.SDKKey)
		assert.Equal(t, "3", df.Revision)
		assert.JSONEq(t, seededDatafile, string(df.Content))
		assert.False(t, df.UpdatedAt.IsZero(), "expected DB to assign UpdatedAt")
	})

	t.Run("GetDatafile_UnknownKey", func(t *testing.T) {
		_, err := repo.GetDatafile(ctx, "no-such-key")
		assert.ErrorIs(t, err, store.ErrDatafileNotFound)
	})

	t.Run("ConfigProvider_ParsesAndCaches", func(t *testing.T) {
		provider, err := store.NewConfigProvider(repo, 16, time.Minute)
		require.NoError(t, err)
		defer provider.Close()

		cfg, err := provider.GetConfig(ctx, "int-sdk-key")
		require.NoError(t, err)
		assert.Equal(t, "proj-int", cfg.ProjectID())
		assert.Equal(t, "3", cfg.Revision())

		// A second call must serve the identical snapshot from cache.
		again, err := provider.GetConfig(ctx, "int-sdk-key")
		require.NoError(t, err)
		assert.Same(t, cfg, again, "expected the cached snapshot pointer")
	})

	t.Run("ConfigProvider_InvalidateReloads", func(t *testing.T) {
		provider, err := store.NewConfigProvider(repo, 16, time.Minute)
		require.NoError(t, err)
		defer provider.Close()

		before, err := provider.GetConfig(ctx, "int-sdk-key")
		require.NoError(t, err)

		// Bump the stored revision, then invalidate.
		_, err = pgContainer.DB.Exec(ctx,
			`UPDATE datafiles
			 SET revision = '4',
			     content = jsonb_set(content, '{revision}', '"4"'),
			     updated_at = now()
			 WHERE sdk_key = $1`,
			"int-sdk-key",
		)
		require.NoError(t, err)

		// Still cached: the old revision is served until invalidation.
		stale, err := provider.GetConfig(ctx, "int-sdk-key")
		require.NoError(t, err)
		assert.Same(t, before, stale)

		provider.Invalidate("int-sdk-key")

		fresh, err := provider.GetConfig(ctx, "int-sdk-key")
		require.NoError(t, err)
		assert.Equal(t, "4", fresh.Revision())
	})

	t.Run("ConfigProvider_UnknownKey", func(t *testing.T) {
		provider, err := store.NewConfigProvider(repo, 16, time.Minute)
		require.NoError(t, err)
		defer provider.Close()

		_, err = provider.GetConfig(ctx, "no-such-key")
		assert.ErrorIs(t, err, store.ErrDatafileNotFound)
	})
}
