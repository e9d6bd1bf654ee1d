package catalog

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"mypictures/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSearchSQL_NoFilters(t *testing.T) {
	sql, args := buildSearchSQL(Query{Vector: []float32{1, 0}, Limit: 5})
	assert.NotContains(t, sql, "WHERE")
	assert.Contains(t, sql, "ORDER BY embedding <=> $1")
	assert.Contains(t, sql, "LIMIT $2")
	require.Len(t, args, 2)
	assert.Equal(t, 5, args[1])
}

func TestBuildSearchSQL_DateBounds(t *testing.T) {
	after := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	before := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

	sql, args := buildSearchSQL(Query{Vector: []float32{1}, Limit: 3, After: &after, Before: &before})
	assert.Contains(t, sql, "WHERE date_taken >= $2 AND date_taken <= $3")
	assert.Contains(t, sql, "LIMIT $4")
	assert.Equal(t, []any{pgvector.NewVector([]float32{1}), after, before, 3}, args)

	sql, args = buildSearchSQL(Query{Vector: []float32{1}, Limit: 3, Before: &before})
	assert.Contains(t, sql, "WHERE date_taken <= $2")
	assert.Len(t, args, 3)
}

func TestEntry_SameStat(t *testing.T) {
	now := time.Now().UTC()
	e := Entry{Size: 3, Mtime: now}
	assert.True(t, e.SameStat(models.FileStat{Size: 3, Mtime: now.In(time.Local)}))
	assert.False(t, e.SameStat(models.FileStat{Size: 3, Mtime: now.Add(time.Second)}))
}

// newTestStore connects to MYPICTURES_TEST_DATABASE_URL inside a
// throwaway schema.
func newTestStore(t *testing.T, dim int) *Store {
	t.Helper()
	url := os.Getenv("MYPICTURES_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("MYPICTURES_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	schema := "test_" + uuid.NewString()[:8]
	admin, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	_, err = admin.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector; CREATE SCHEMA "+schema)
	require.NoError(t, err)
	t.Cleanup(func() {
		admin.Exec(context.Background(), "DROP SCHEMA "+schema+" CASCADE")
		admin.Close()
	})

	cfg, err := pgxpool.ParseConfig(url)
	require.NoError(t, err)
	cfg.ConnConfig.RuntimeParams["search_path"] = schema + ",public"
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	s := New(pool, dim, 40)
	require.NoError(t, s.Setup(ctx))
	return s
}

func photo(path string, vec []float32, taken *time.Time) *models.Photo {
	return &models.Photo{
		FilePath:  path,
		FileName:  path[1:],
		FileSize:  10,
		FileHash:  "h-" + path,
		FileMtime: time.Date(2024, 5, 1, 12, 0, 0, 123000, time.UTC),
		DateTaken: taken,
		Embedding: pgvector.NewVector(vec),
	}
}

func TestStore_Integration(t *testing.T) {
	s := newTestStore(t, 3)
	ctx := context.Background()

	d2021 := time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Upsert(ctx, photo("/a", []float32{1, 0, 0}, &d2021)))
	require.NoError(t, s.Upsert(ctx, photo("/b", []float32{0.8, 0.6, 0}, nil)))
	require.NoError(t, s.Upsert(ctx, photo("/c", []float32{0, 0, 1}, nil)))

	base, err := s.Baseline(ctx)
	require.NoError(t, err)
	require.Len(t, base, 3)
	assert.Equal(t, "h-/a", base["/a"].Hash)
	assert.True(t, base["/a"].Mtime.Equal(time.Date(2024, 5, 1, 12, 0, 0, 123000, time.UTC)))

	// upsert by key replaces
	p := photo("/a", []float32{1, 0, 0}, &d2021)
	p.FileHash = "h2"
	require.NoError(t, s.Upsert(ctx, p))
	base, err = s.Baseline(ctx)
	require.NoError(t, err)
	assert.Len(t, base, 3)
	assert.Equal(t, "h2", base["/a"].Hash)

	hits, err := s.Search(ctx, Query{Vector: []float32{1, 0, 0}, Limit: 10})
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "/a", hits[0].FilePath)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-5)
	assert.Equal(t, "/b", hits[1].FilePath)
	assert.InDelta(t, 0.8, hits[1].Similarity, 1e-5)

	after := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	hits, err = s.Search(ctx, Query{Vector: []float32{1, 0, 0}, Limit: 10, After: &after})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "/a", hits[0].FilePath)

	st := models.FileStat{Size: 99, Mtime: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	require.NoError(t, s.TouchMtime(ctx, "/b", st))
	assert.ErrorIs(t, s.TouchMtime(ctx, "/missing", st), ErrNotFound)

	n, err := s.Delete(ctx, []string{"/b", "/c", "/missing"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Photos)
	assert.Equal(t, int64(1), stats.WithDateTaken)

	// a dated row far from the query must still be found behind many
	// closer undated rows when the index only explores a few candidates
	s.efSearch = 1
	for i := 0; i < 200; i++ {
		vec := []float32{1, float32(i) / 1000, 0}
		require.NoError(t, s.Upsert(ctx, photo(fmt.Sprintf("/near/%03d", i), vec, nil)))
	}
	_, err = s.db.Exec(ctx, "ANALYZE photos")
	require.NoError(t, err)
	hits, err = s.Search(ctx, Query{Vector: []float32{0, 1, 0}, Limit: 1, After: &after})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "/a", hits[0].FilePath)
}

func TestFilterSettings(t *testing.T) {
	iterative := []string{"SET LOCAL hnsw.iterative_scan = strict_order"}
	exact := []string{"SET LOCAL enable_indexscan = off"}

	assert.Equal(t, iterative, filterSettings("0.8.0"))
	assert.Equal(t, iterative, filterSettings("0.10.1"))
	assert.Equal(t, exact, filterSettings("0.7.4"))
	assert.Equal(t, exact, filterSettings("0.5.1"))
	assert.Equal(t, exact, filterSettings(""))
}

func TestStore_DimensionMismatch(t *testing.T) {
	s := newTestStore(t, 3)
	ctx := context.Background()

	err := s.Upsert(ctx, photo("/x", []float32{1, 0}, nil))
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	wider := New(s.db, 4, 40)
	assert.ErrorIs(t, wider.CheckDimension(ctx), ErrDimensionMismatch)

	require.NoError(t, s.Upsert(ctx, photo("/y", []float32{1, 0, 0}, nil)))
	deleted, err := wider.Migrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	require.NoError(t, wider.CheckDimension(ctx))
	assert.ErrorIs(t, s.CheckDimension(ctx), ErrDimensionMismatch)
}
