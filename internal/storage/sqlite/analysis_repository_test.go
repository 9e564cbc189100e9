package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/xray-api/internal/analysis"
	"github.com/Brownie44l1/xray-api/internal/diagnosis"
)

func testRepo(t *testing.T) *AnalysisRepository {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "nested", "analyses.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewAnalysisRepository(db)
}

var base = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

func newReport(t *testing.T, p float64, offset time.Duration) *analysis.Report {
	t.Helper()
	d, err := diagnosis.Decide(p)
	require.NoError(t, err)

	return &analysis.Report{
		ID:        uuid.New(),
		Filename:  "scan.png",
		Format:    "png",
		Width:     1024,
		Height:    768,
		Diagnosis: d,
		Duration:  200 * time.Millisecond,
		CreatedAt: base.Add(offset),
	}
}

func TestOpen_MigratesIdempotently(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analyses.db")

	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()
	assert.Equal(t, path, db.Path())
}

func TestInsertAndGetByID(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	want := newReport(t, 0.87, 0)
	require.NoError(t, repo.Insert(ctx, want))

	got, err := repo.GetByID(ctx, want.ID)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Filename, got.Filename)
	assert.Equal(t, want.Format, got.Format)
	assert.Equal(t, want.Width, got.Width)
	assert.Equal(t, want.Height, got.Height)
	assert.Equal(t, want.Diagnosis, got.Diagnosis)
	assert.Equal(t, want.Duration, got.Duration)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))

	missing, err := repo.GetByID(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestInsert_DuplicateID(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	r := newReport(t, 0.3, 0)
	require.NoError(t, repo.Insert(ctx, r))
	assert.Error(t, repo.Insert(ctx, r))
}

func TestList(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	probabilities := []float64{0.9, 0.2, 0.7, 0.1, 0.6}
	ids := make([]uuid.UUID, len(probabilities))
	for i, p := range probabilities {
		r := newReport(t, p, time.Duration(i)*time.Minute)
		ids[i] = r.ID
		require.NoError(t, repo.Insert(ctx, r))
	}

	all, err := repo.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, ids[4], all[0].ID, "newest first")
	assert.Equal(t, ids[0], all[4].ID)

	page, err := repo.List(ctx, Filter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[3], page[0].ID)
	assert.Equal(t, ids[2], page[1].ID)

	positives, err := repo.List(ctx, Filter{Label: diagnosis.LabelPneumonia})
	require.NoError(t, err)
	assert.Len(t, positives, 3)
	for _, r := range positives {
		assert.True(t, r.Diagnosis.Positive)
	}

	count, err := repo.Count(ctx, Filter{Label: diagnosis.LabelNormal})
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = repo.Count(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}

func TestList_Empty(t *testing.T) {
	repo := testRepo(t)

	reports, err := repo.List(context.Background(), Filter{})
	require.NoError(t, err)
	assert.NotNil(t, reports)
	assert.Empty(t, reports)
}

func TestStats(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	empty, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, empty.Total)
	assert.Nil(t, empty.LastAnalyzedAt)

	first := newReport(t, 0.95, 0)
	first.Duration = 100 * time.Millisecond
	second := newReport(t, 0.05, time.Hour)
	second.Duration = 300 * time.Millisecond
	third := newReport(t, 0.4, 30*time.Minute)
	third.Duration = 200 * time.Millisecond
	for _, r := range []*analysis.Report{first, second, third} {
		require.NoError(t, repo.Insert(ctx, r))
	}

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.Pneumonia)
	assert.Equal(t, 2, stats.Normal)
	assert.Equal(t, 200*time.Millisecond, stats.AverageDuration)
	require.NotNil(t, stats.LastAnalyzedAt)
	assert.True(t, second.CreatedAt.Equal(*stats.LastAnalyzedAt))
}

func TestDelete(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	keep := newReport(t, 0.8, 0)
	drop := newReport(t, 0.2, time.Second)
	require.NoError(t, repo.Insert(ctx, keep))
	require.NoError(t, repo.Insert(ctx, drop))

	removed, err := repo.Delete(ctx, drop.ID)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = repo.Delete(ctx, drop.ID)
	require.NoError(t, err)
	assert.False(t, removed)

	got, err := repo.GetByID(ctx, keep.ID)
	require.NoError(t, err)
	assert.NotNil(t, got)

	n, err := repo.DeleteAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	count, err := repo.Count(ctx, Filter{})
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestMigrateDown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analyses.db")
	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	require.NoError(t, MigrateDown(path))
	require.NoError(t, Migrate(path))
}
