package api_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kmtrack/mileage-engine/api"
	"github.com/kmtrack/mileage-engine/mileage"
	"github.com/kmtrack/mileage-engine/mileage/store"
	"github.com/kmtrack/mileage-engine/telemetry"
)

// fakeFetcher returns a fixed reading or error.
type fakeFetcher struct {
	reading telemetry.Reading
	err     error
}

func (f *fakeFetcher) FetchOdometer(context.Context) (telemetry.Reading, error) {
	return f.reading, f.err
}

func newIngestor(st mileage.RecordStore, km int) *api.Ingestor {
	in := api.NewIngestor(st, &fakeFetcher{reading: telemetry.Reading{ValueKm: km, Vehicle: "Yaris Cross"}})
	in.Now = func() mileage.Date { return mileage.NewDate(2025, time.August, 15) }
	return in
}

func TestIngest_NoRecordToday_Created(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()

	_, err := st.Create(ctx, mileage.NewDate(2025, time.July, 31), 300, mileage.SourceManual)
	require.NoError(t, err)

	result, err := newIngestor(st, 750).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, api.IngestCreated, result.Status)
	assert.Equal(t, 750, result.Km)
	assert.Equal(t, "Yaris Cross", result.Vehicle)

	records, err := st.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, mileage.SourceAPI, records[1].Source)
}

func TestIngest_SameDaySameValue_Skipped(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()

	_, err := st.Create(ctx, mileage.NewDate(2025, time.August, 15), 750, mileage.SourceAPI)
	require.NoError(t, err)

	result, err := newIngestor(st, 750).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, api.IngestSkipped, result.Status)

	records, err := st.List(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestIngest_SameDayNewValue_Appended(t *testing.T) {
	// The morning reading stays untouched; the new value becomes a second
	// record for the same date.
	st := store.NewMemory()
	ctx := context.Background()

	_, err := st.Create(ctx, mileage.NewDate(2025, time.August, 15), 750, mileage.SourceAPI)
	require.NoError(t, err)

	result, err := newIngestor(st, 762).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, api.IngestAppended, result.Status)

	records, err := st.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 750, records[0].TotalKm)
	assert.Equal(t, 762, records[1].TotalKm)
}

func TestIngest_FetchFailure_WritesNothing(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()

	in := api.NewIngestor(st, &fakeFetcher{err: errors.New("vendor down")})
	_, err := in.Run(ctx)
	require.Error(t, err)

	records, err := st.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestIngest_RegressedReading_Rejected(t *testing.T) {
	// A vendor glitch reporting fewer kilometers than an earlier reading
	// must not enter the store.
	st := store.NewMemory()
	ctx := context.Background()

	_, err := st.Create(ctx, mileage.NewDate(2025, time.July, 31), 300, mileage.SourceManual)
	require.NoError(t, err)

	_, err = newIngestor(st, 200).Run(ctx)
	assert.ErrorIs(t, err, mileage.ErrValidation)

	records, err := st.List(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}
