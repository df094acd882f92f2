package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qaforge/botshield/internal/domain"
)

func newTestSQLiteCache(t *testing.T) (*SQLiteCache, *time.Time) {
	t.Helper()
	sc, err := NewSQLiteCache(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sc.Close() })

	clock := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	sc.now = func() time.Time { return clock }
	return sc, &clock
}

func TestSQLiteCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	sc, _ := newTestSQLiteCache(t)

	verdict := sampleVerdict("v1")
	verdict.LayerVerdicts = map[string]domain.LayerVerdict{
		domain.LayerSignature: {
			LayerID:    domain.LayerSignature,
			IsFlagged:  true,
			Confidence: 0.95,
			Indicators: []string{"known bot username: AutoModerator"},
		},
	}
	require.NoError(t, sc.Set(ctx, "k1", verdict, time.Hour))

	got, hit, err := sc.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, "v1", got.ID)
	assert.True(t, got.IsBot)
	assert.InDelta(t, 0.92, got.Confidence, 1e-9)
	require.Contains(t, got.LayerVerdicts, domain.LayerSignature)
	assert.InDelta(t, 0.95, got.LayerVerdicts[domain.LayerSignature].Confidence, 1e-9)
}

func TestSQLiteCacheExpiry(t *testing.T) {
	ctx := context.Background()
	sc, clock := newTestSQLiteCache(t)

	require.NoError(t, sc.Set(ctx, "k1", sampleVerdict("v1"), time.Hour))

	*clock = clock.Add(2 * time.Hour)
	_, hit, err := sc.Get(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestSQLiteCacheOverwrite(t *testing.T) {
	ctx := context.Background()
	sc, _ := newTestSQLiteCache(t)

	require.NoError(t, sc.Set(ctx, "k1", sampleVerdict("old"), time.Hour))
	require.NoError(t, sc.Set(ctx, "k1", sampleVerdict("new"), time.Hour))

	got, hit, err := sc.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, "new", got.ID)
}

func TestSQLiteCacheDeleteAndClear(t *testing.T) {
	ctx := context.Background()
	sc, _ := newTestSQLiteCache(t)

	require.NoError(t, sc.Set(ctx, "k1", sampleVerdict("v1"), time.Hour))
	require.NoError(t, sc.Set(ctx, "k2", sampleVerdict("v2"), time.Hour))

	require.NoError(t, sc.Delete(ctx, "k1"))
	_, hit, err := sc.Get(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, sc.Clear(ctx))
	_, hit, err = sc.Get(ctx, "k2")
	require.NoError(t, err)
	assert.False(t, hit)
}
