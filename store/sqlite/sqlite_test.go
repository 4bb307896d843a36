package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kmtrack/mileage-engine/mileage"
	"github.com/kmtrack/mileage-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func d(y int, m time.Month, day int) mileage.Date {
	return mileage.NewDate(y, m, day)
}

// =============================================================================
// CRUD TESTS
// =============================================================================

func TestSQLiteStore_CreateAndList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, d(2025, time.July, 11), 100, mileage.SourceManual)
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.False(t, created.CreatedAt.IsZero())
	assert.Equal(t, 100, created.TotalKm)

	records, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, created.ID, records[0].ID)
	assert.True(t, records[0].Date.Equal(d(2025, time.July, 11)))
	assert.Equal(t, mileage.SourceManual, records[0].Source)
}

func TestSQLiteStore_CreateAssignsUniqueIDs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a, err := store.Create(ctx, d(2025, time.July, 11), 100, mileage.SourceManual)
	require.NoError(t, err)
	b, err := store.Create(ctx, d(2025, time.July, 12), 150, mileage.SourceAPI)
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.Greater(t, b.ID, a.ID)
}

func TestSQLiteStore_Update(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, d(2025, time.July, 11), 100, mileage.SourceManual)
	require.NoError(t, err)

	updated, err := store.Update(ctx, created.ID, d(2025, time.July, 12), 120, mileage.SourceManual)
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, 120, updated.TotalKm)
	assert.True(t, updated.Date.Equal(d(2025, time.July, 12)))
}

func TestSQLiteStore_UpdateKeepsSourceWhenOmitted(t *testing.T) {
	// An empty source on update preserves the stored provenance tag.
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, d(2025, time.July, 11), 100, mileage.SourceAPI)
	require.NoError(t, err)

	updated, err := store.Update(ctx, created.ID, d(2025, time.July, 11), 110, "")
	require.NoError(t, err)
	assert.Equal(t, mileage.SourceAPI, updated.Source)
}

func TestSQLiteStore_UpdateUnknownID(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Update(context.Background(), 424242, d(2025, time.July, 11), 100, mileage.SourceManual)
	assert.ErrorIs(t, err, mileage.ErrRecordNotFound)
}

func TestSQLiteStore_Delete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, d(2025, time.July, 11), 100, mileage.SourceManual)
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, created.ID))

	records, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)

	assert.ErrorIs(t, store.Delete(ctx, created.ID), mileage.ErrRecordNotFound)
}

func TestSQLiteStore_EmptySourceReadsBackAsManual(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, d(2025, time.July, 11), 100, "")
	require.NoError(t, err)

	records, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, mileage.SourceManual, records[0].Source)
	assert.Equal(t, created.ID, records[0].ID)
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	path := t.TempDir() + "/mileage.db"

	store, err := sqlite.New(path)
	require.NoError(t, err)
	created, err := store.Create(context.Background(), d(2025, time.July, 11), 100, mileage.SourceManual)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := sqlite.New(path)
	require.NoError(t, err)
	defer reopened.Close()

	records, err := reopened.List(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, created.ID, records[0].ID)
}
