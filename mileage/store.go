/*
store.go - Persistence interface for mileage records

PURPOSE:
  Defines the contract between the domain and whatever durable store holds
  the odometer readings. The engine only ever sees the []Record a store
  returns; it has no idea whether the backend is SQLite, a spreadsheet over
  HTTP, or an in-memory map.

CONTRACT:
  - List returns every record with Source normalized (empty -> manual).
  - Create assigns a fresh unique ID and CreatedAt.
  - Update/Delete fail with ErrRecordNotFound for unknown ids, which must
    stay distinguishable from ErrStoreUnavailable.
  - All operations are potentially-blocking remote calls and take a context.
  - Adapters apply their own bounded retry for transient failures but must
    surface permanent errors without retrying.

OFFLINE/DEMO MODE:
  A store preloaded with canned data is a legitimate implementation, but
  selecting it is an explicit startup decision. No adapter may silently
  substitute canned data when the real backend fails.

IMPLEMENTATIONS:
  - mileage/store/memory.go: In-memory (tests, demo mode)
  - store/sqlite/sqlite.go:  Local SQLite file
  - store/sheets/sheets.go:  Spreadsheet over authenticated HTTP

SEE ALSO:
  - errors.go: ErrRecordNotFound, ErrStoreUnavailable, ValidationError
*/
package mileage

import "context"

// =============================================================================
// RECORD STORE - Interface for record persistence
// =============================================================================

// RecordStore handles persistence of odometer records.
type RecordStore interface {
	// List returns all records in storage order, Source normalized.
	List(ctx context.Context) ([]Record, error)

	// Create persists a new record, assigning ID and CreatedAt.
	Create(ctx context.Context, date Date, totalKm int, source Source) (Record, error)

	// Update rewrites the record with the given id. An empty source keeps
	// the stored provenance tag. Returns ErrRecordNotFound for unknown ids.
	Update(ctx context.Context, id int64, date Date, totalKm int, source Source) (Record, error)

	// Delete removes the record with the given id.
	// Returns ErrRecordNotFound for unknown ids.
	Delete(ctx context.Context, id int64) error
}

// =============================================================================
// WRITE-BOUNDARY VALIDATION
// =============================================================================

// ValidateWrite checks a prospective create/update against the existing
// records. The odometer is cumulative, so a reading may never be lower than
// any earlier-dated reading nor higher than any later-dated one. excludeID
// skips the record being updated (0 for creates).
//
// The engine deliberately does not enforce this on read; every write path
// (HTTP handlers and the scheduled ingestion job) calls this instead, so bad
// data cannot enter through any client of this module.
func ValidateWrite(existing []Record, date Date, totalKm int, excludeID int64) error {
	if date.IsZero() {
		return &ValidationError{Field: "date", Message: "date is required"}
	}
	if totalKm < 0 {
		return &ValidationError{Field: "totalKm", Message: "totalKm must be non-negative"}
	}
	for i := range existing {
		r := &existing[i]
		if r.ID == excludeID {
			continue
		}
		if r.Date.Before(date) && r.TotalKm > totalKm {
			return &ValidationError{
				Field:   "totalKm",
				Message: "odometer value is lower than an earlier reading",
			}
		}
		if r.Date.After(date) && r.TotalKm < totalKm {
			return &ValidationError{
				Field:   "totalKm",
				Message: "odometer value is higher than a later reading",
			}
		}
	}
	return nil
}
