// Package store provides RecordStore implementations that need no external
// backend: an in-memory store for tests and the explicit demo mode.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/kmtrack/mileage-engine/mileage"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (tests, demo mode)
// =============================================================================

type Memory struct {
	mu      sync.RWMutex
	records []mileage.Record
	lastID  int64
}

func NewMemory() *Memory {
	return &Memory{}
}

// NewDemo returns a memory store preloaded with a fixed read-only style
// dataset for offline exploration. Selecting it is an explicit startup
// decision; no adapter falls back to this data on failure.
func NewDemo() *Memory {
	m := NewMemory()
	for _, r := range demoRecords {
		m.records = append(m.records, r)
		if r.ID > m.lastID {
			m.lastID = r.ID
		}
	}
	return m
}

var demoRecords = []mileage.Record{
	{ID: 1, Date: mileage.NewDate(2025, time.July, 11), TotalKm: 100, CreatedAt: time.Date(2025, time.July, 11, 10, 0, 0, 0, time.UTC), Source: mileage.SourceManual},
	{ID: 2, Date: mileage.NewDate(2025, time.July, 31), TotalKm: 300, CreatedAt: time.Date(2025, time.July, 31, 10, 0, 0, 0, time.UTC), Source: mileage.SourceManual},
	{ID: 3, Date: mileage.NewDate(2025, time.August, 15), TotalKm: 750, CreatedAt: time.Date(2025, time.August, 15, 10, 0, 0, 0, time.UTC), Source: mileage.SourceManual},
	{ID: 4, Date: mileage.NewDate(2025, time.September, 30), TotalKm: 2200, CreatedAt: time.Date(2025, time.September, 30, 10, 0, 0, 0, time.UTC), Source: mileage.SourceManual},
	{ID: 5, Date: mileage.NewDate(2025, time.October, 31), TotalKm: 4200, CreatedAt: time.Date(2025, time.October, 31, 10, 0, 0, 0, time.UTC), Source: mileage.SourceManual},
}

func (m *Memory) List(_ context.Context) ([]mileage.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]mileage.Record, len(m.records))
	copy(result, m.records)
	for i := range result {
		result[i].Source = result[i].Source.Normalize()
	}
	return result, nil
}

func (m *Memory) Create(_ context.Context, date mileage.Date, totalKm int, source mileage.Source) (mileage.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := mileage.Record{
		ID:        m.nextID(),
		Date:      date,
		TotalKm:   totalKm,
		CreatedAt: time.Now().UTC(),
		Source:    source.Normalize(),
	}
	m.records = append(m.records, rec)
	return rec, nil
}

func (m *Memory) Update(_ context.Context, id int64, date mileage.Date, totalKm int, source mileage.Source) (mileage.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.records {
		if m.records[i].ID != id {
			continue
		}
		if source == "" {
			source = m.records[i].Source
		}
		m.records[i].Date = date
		m.records[i].TotalKm = totalKm
		m.records[i].Source = source.Normalize()
		return m.records[i], nil
	}
	return mileage.Record{}, mileage.ErrRecordNotFound
}

func (m *Memory) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.records {
		if m.records[i].ID == id {
			m.records = append(m.records[:i], m.records[i+1:]...)
			return nil
		}
	}
	return mileage.ErrRecordNotFound
}

// nextID derives ids from the creation timestamp, bumped past the previous
// id so same-millisecond creates stay unique.
func (m *Memory) nextID() int64 {
	id := time.Now().UnixMilli()
	if id <= m.lastID {
		id = m.lastID + 1
	}
	m.lastID = id
	return id
}
