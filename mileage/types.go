/*
Package mileage provides the core lease-mileage reconciliation engine.

PURPOSE:
  This package contains the domain types and the pure computation that turns
  an odometer reading history plus a lease configuration into per-month
  allowance/usage buckets and whole-lease statistics. It performs no I/O:
  persistence lives behind the RecordStore interface, telemetry ingestion in
  the telemetry package.

KEY CONCEPTS IN THIS FILE (types.go):
  - Record: One odometer observation (cumulative km at a calendar date)
  - Source: Provenance tag (manual entry vs automated telemetry fetch)
  - LeaseConfig: The fixed lease window and its kilometer budget
  - MonthBucket: Derived allowance-vs-usage view of one calendar month
  - Stats: Derived whole-lease view as of a given date

DESIGN PRINCIPLES:
  1. Purity: Reconcile is a function of its inputs, recomputed on every read.
     MonthBucket and Stats are never persisted.
  2. Precision: Allowance math uses decimal.Decimal; the daily rate
     (annual/365) is never rounded before the final per-figure rounding.
  3. Day granularity: dates carry no time-of-day; calendar arithmetic uses
     day-of-month components, never millisecond subtraction.

SEE ALSO:
  - engine.go: The reconciliation algorithm
  - store.go: RecordStore interface and write-boundary validation
  - errors.go: Sentinel and structured error types
*/
package mileage

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RECORD - One odometer observation
// =============================================================================

// Source tags where a record came from.
type Source string

const (
	SourceManual Source = "manual"
	SourceAPI    Source = "API"
)

// Normalize maps the empty tag (records created before the field existed)
// to manual.
func (s Source) Normalize() Source {
	if s == "" {
		return SourceManual
	}
	return s
}

// Record is a single odometer observation: the cumulative kilometer count on
// a calendar date. IDs derive from creation time, so they are unique and in
// practice non-decreasing with entry order, but storage order is not sorted.
type Record struct {
	ID        int64     `json:"id"`
	Date      Date      `json:"date"`
	TotalKm   int       `json:"totalKm"`
	CreatedAt time.Time `json:"createdAt"`
	Source    Source    `json:"source"`
}

// =============================================================================
// LEASE CONFIG - Static operator-supplied budget
// =============================================================================

// LeaseConfig is the fixed lease window and its kilometer budget.
type LeaseConfig struct {
	Start             Date
	End               Date
	AnnualAllowanceKm int
	TotalAllowedKm    int
	ToleranceKm       int
}

// DailyAllowanceKm returns the unrounded daily rate (annual / 365).
func (c LeaseConfig) DailyAllowanceKm() decimal.Decimal {
	return decimal.NewFromInt(int64(c.AnnualAllowanceKm)).Div(decimal.NewFromInt(365))
}

// TotalDays returns the lease term length in whole days.
func (c LeaseConfig) TotalDays() int { return DaysBetween(c.Start, c.End) }

// TotalWithToleranceKm is the hard ceiling before the contract penalty zone.
func (c LeaseConfig) TotalWithToleranceKm() int { return c.TotalAllowedKm + c.ToleranceKm }

// Validate checks the configuration is usable.
func (c LeaseConfig) Validate() error {
	switch {
	case c.Start.IsZero() || c.End.IsZero():
		return ErrInvalidLease
	case !c.Start.Before(c.End):
		return ErrInvalidLease
	case c.AnnualAllowanceKm <= 0 || c.TotalAllowedKm <= 0:
		return ErrInvalidLease
	case c.ToleranceKm < 0:
		return ErrInvalidLease
	}
	return nil
}

// =============================================================================
// MONTH BUCKET - Derived allowance vs usage for one calendar month
// =============================================================================

// MonthBucket is the reconciled view of one calendar month touched by the
// lease. Recomputed from scratch on every engine invocation, never stored.
type MonthBucket struct {
	Key   MonthKey
	Start Date // clipped to the lease start in the first month
	End   Date

	AllowanceKm int
	ActualKm    int
	DiffKm      int // ActualKm - AllowanceKm
	Over        bool

	// First and last record observed within the month; nil when the month
	// has no records.
	First *Record
	Last  *Record
}

// =============================================================================
// STATS - Derived whole-lease view
// =============================================================================

// UsageZone classifies the current odometer value against the lease budget.
type UsageZone string

const (
	ZoneWithinAllowance UsageZone = "within_allowance"
	ZoneWithinTolerance UsageZone = "within_tolerance"
	ZoneOverTolerance   UsageZone = "over_tolerance"
)

// Stats summarizes the whole lease as of a given date. Like MonthBucket it
// is a pure derived view with no lifecycle of its own.
type Stats struct {
	AsOf           Date
	CurrentKm      int
	ExpectedKm     int
	DifferenceKm   int // ExpectedKm - CurrentKm; positive = under budget
	AvgKmPerDay    float64
	DaysSinceStart int
	IsUnderLimit   bool

	// Linear extrapolation of the current odometer over the full term.
	TotalProjectionKm  int
	ProjectionCritical bool

	LeaseProgressPct int
	Zone             UsageZone
}
