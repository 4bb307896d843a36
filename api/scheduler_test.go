package api_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kmtrack/mileage-engine/api"
	"github.com/kmtrack/mileage-engine/mileage/store"
)

func TestFetchScheduler_NextRunAtConfiguredSlot(t *testing.T) {
	sched := api.NewFetchScheduler(newIngestor(store.NewMemory(), 100))

	next := sched.NextRunTime()
	now := time.Now().UTC()

	assert.Equal(t, 10, next.Hour())
	assert.Equal(t, 20, next.Minute())
	assert.True(t, next.After(now))
	assert.LessOrEqual(t, next.Sub(now), 24*time.Hour)
}

func TestFetchScheduler_RunNowIngestsImmediately(t *testing.T) {
	st := store.NewMemory()
	sched := api.NewFetchScheduler(newIngestor(st, 100))

	sched.RunNow()

	records, err := st.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestFetchScheduler_StartStop(t *testing.T) {
	sched := api.NewFetchScheduler(newIngestor(store.NewMemory(), 100))

	sched.Start()
	sched.Stop()
}

func TestFetchScheduler_RestartAfterStop(t *testing.T) {
	// A second Start/Stop cycle gets its own stop channel; stopping twice
	// must not panic and the restarted goroutine must actually run.

	sched := api.NewFetchScheduler(newIngestor(store.NewMemory(), 100))

	sched.Start()
	sched.Stop()
	sched.Start()
	sched.Stop()

	// Stop on an already-stopped scheduler is a no-op.
	sched.Stop()
}
