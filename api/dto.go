/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON structures for API communication, decoupling the domain model from
  the wire contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/kmtrack/mileage-engine/mileage"
)

// =============================================================================
// RECORD TYPES
// =============================================================================

// RecordDTO represents one odometer record in API responses.
type RecordDTO struct {
	ID        int64  `json:"id"`
	Date      string `json:"date"`
	TotalKm   int    `json:"totalKm"`
	CreatedAt string `json:"createdAt"`
	Source    string `json:"source"`
}

func toRecordDTO(r mileage.Record) RecordDTO {
	return RecordDTO{
		ID:        r.ID,
		Date:      r.Date.String(),
		TotalKm:   r.TotalKm,
		CreatedAt: r.CreatedAt.Format(time.RFC3339),
		Source:    string(r.Source.Normalize()),
	}
}

// CreateRecordRequest is the body for POST /api/records. TotalKm is a
// json.Number so clients sending "750" as a string still coerce cleanly.
type CreateRecordRequest struct {
	Date    string `json:"date"`
	TotalKm any    `json:"totalKm"`
	Source  string `json:"source,omitempty"`
}

// UpdateRecordRequest is the body for PUT /api/records/{id}.
type UpdateRecordRequest struct {
	Date    string `json:"date"`
	TotalKm any    `json:"totalKm"`
	Source  string `json:"source,omitempty"`
}

// =============================================================================
// STATS TYPES
// =============================================================================

// MonthBucketDTO is one reconciled month in the stats response.
type MonthBucketDTO struct {
	Month       string     `json:"month"`
	Start       string     `json:"start"`
	End         string     `json:"end"`
	AllowanceKm int        `json:"allowanceKm"`
	ActualKm    int        `json:"actualKm"`
	DiffKm      int        `json:"diffKm"`
	Over        bool       `json:"over"`
	First       *RecordDTO `json:"firstRecord,omitempty"`
	Last        *RecordDTO `json:"lastRecord,omitempty"`
}

// StatsDTO is the whole-lease summary in the stats response.
type StatsDTO struct {
	AsOf               string  `json:"asOf"`
	CurrentKm          int     `json:"currentKm"`
	ExpectedKm         int     `json:"expectedKm"`
	DifferenceKm       int     `json:"differenceKm"`
	AvgKmPerDay        float64 `json:"avgKmPerDay"`
	DaysSinceStart     int     `json:"daysSinceStart"`
	IsUnderLimit       bool    `json:"isUnderLimit"`
	TotalProjectionKm  int     `json:"totalProjectionKm"`
	ProjectionCritical bool    `json:"projectionCritical"`
	LeaseProgressPct   int     `json:"leaseProgressPct"`
	Zone               string  `json:"zone"`
}

// StatsResponse wraps the engine output. HasData distinguishes "no lease
// activity yet" from zero usage; Stats and Months are absent in that case.
type StatsResponse struct {
	HasData bool             `json:"hasData"`
	Stats   *StatsDTO        `json:"stats,omitempty"`
	Months  []MonthBucketDTO `json:"months,omitempty"`
}

// =============================================================================
// INGESTION AND SESSION TYPES
// =============================================================================

// FetchResultDTO reports the outcome of one ingestion run.
type FetchResultDTO struct {
	Status  string `json:"status"` // "created", "appended", "skipped"
	Km      int    `json:"km"`
	Vehicle string `json:"vehicle,omitempty"`
}

// LoginRequest is the body for POST /api/login.
type LoginRequest struct {
	Password string `json:"password"`
}

// SessionDTO is the issued session token.
type SessionDTO struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expiresAt"`
}

// HealthDTO is the health check response.
type HealthDTO struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ErrorDTO is the uniform error payload.
type ErrorDTO struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
