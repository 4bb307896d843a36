/*
engine.go - The allowance reconciliation algorithm

PURPOSE:
  Pure function of (records, lease, asOf) -> (Stats, []MonthBucket). Given
  the full reading history and the lease window it produces, for every
  calendar month from the lease start through the latest reading, the
  prorated allowance, the actual kilometers driven, and the surplus/deficit,
  plus whole-lease statistics and a linear end-of-term projection.

ALGORITHM:
  1. Daily rate = annual allowance / 365, kept unrounded.
  2. Enumerate months from the lease-start month through the month of the
     latest record, chronological.
  3. Allowance per month = round(effective days in month * daily rate); the
     lease-start month is prorated from the lease start date. Day counts use
     day-of-month components, never duration subtraction, so DST shifts
     cannot skew them.
  4. Usage per month is a running-total difference: the month's last reading
     minus the last reading of the most recent PRIOR month that had one.
     Empty months contribute zero and do not advance that baseline, so the
     sum of monthly usage always equals the latest odometer value.
  5. Whole-lease stats compare the latest reading against the prorated
     expectation as of asOf, and independently extrapolate it linearly over
     the full term.

DETERMINISM:
  No I/O, no clock access, no mutation of inputs. Two records on the same
  date are ordered by ID, so repeated runs over unchanged input are
  bit-identical and "latest reading" ties resolve to the highest ID.

FAILURE MODES:
  Only malformed input: an empty sequence yields ErrNoRecords (callers must
  distinguish "no activity yet" from zero usage), a structurally broken
  record yields InvalidRecordError. Decreasing mileage or out-of-order entry
  is a write-boundary concern (store.go), never an engine failure.

SEE ALSO:
  - types.go: Record, LeaseConfig, MonthBucket, Stats
  - store.go: ValidateWrite (the write-time monotonicity gate)
*/
package mileage

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"
)

// Reconcile computes whole-lease statistics and the month-by-month
// allowance/usage breakdown for the given reading history.
func Reconcile(records []Record, lease LeaseConfig, asOf Date) (*Stats, []MonthBucket, error) {
	if err := lease.Validate(); err != nil {
		return nil, nil, err
	}
	for i := range records {
		if records[i].Date.IsZero() {
			return nil, nil, &InvalidRecordError{ID: records[i].ID, Reason: "missing date"}
		}
		if records[i].TotalKm < 0 {
			return nil, nil, &InvalidRecordError{ID: records[i].ID, Reason: "negative totalKm"}
		}
	}
	if len(records) == 0 {
		return nil, nil, ErrNoRecords
	}

	sorted := sortRecords(records)
	latest := sorted[len(sorted)-1]
	daily := lease.DailyAllowanceKm()

	buckets := buildMonthBuckets(sorted, lease, daily, latest.Date)
	stats := buildStats(latest, lease, daily, asOf)

	return stats, buckets, nil
}

// sortRecords returns a copy ordered by date, ties by ID. The highest ID on
// the latest date therefore counts as the current reading.
func sortRecords(records []Record) []Record {
	sorted := make([]Record, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Date.Equal(sorted[j].Date) {
			return sorted[i].Date.Before(sorted[j].Date)
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted
}

// =============================================================================
// MONTH BUCKETS
// =============================================================================

func buildMonthBuckets(sorted []Record, lease LeaseConfig, daily decimal.Decimal, lastDate Date) []MonthBucket {
	startKey := KeyOf(lease.Start)
	endKey := KeyOf(lastDate)

	var buckets []MonthBucket
	baselineKm := 0 // last reading of the most recent month that had one

	for key := startKey; !endKey.Before(key); key = key.Next() {
		monthStart := StartOfMonth(key.Year, key.Month)
		monthEnd := EndOfMonth(key.Year, key.Month)

		effectiveStart := monthStart
		if key == startKey && lease.Start.After(monthStart) {
			effectiveStart = lease.Start
		}

		first, last := monthBounds(sorted, key)

		usage := 0
		if last != nil {
			usage = last.TotalKm - baselineKm
			baselineKm = last.TotalKm
		}

		allowance := monthAllowance(effectiveStart, monthEnd, daily)
		diff := usage - allowance

		buckets = append(buckets, MonthBucket{
			Key:         key,
			Start:       effectiveStart,
			End:         monthEnd,
			AllowanceKm: allowance,
			ActualKm:    usage,
			DiffKm:      diff,
			Over:        diff > 0,
			First:       first,
			Last:        last,
		})
	}
	return buckets
}

// monthBounds returns the chronologically first and last record within the
// month, nil when the month has none. Records are already sorted.
func monthBounds(sorted []Record, key MonthKey) (first, last *Record) {
	for i := range sorted {
		if KeyOf(sorted[i].Date) != key {
			continue
		}
		if first == nil {
			first = &sorted[i]
		}
		last = &sorted[i]
	}
	return first, last
}

// monthAllowance prorates the annual rate over the effective days of the
// month. Day counts come from day-of-month components: the calendar month
// end always shares the month with the effective start.
func monthAllowance(effectiveStart, monthEnd Date, daily decimal.Decimal) int {
	days := monthEnd.Day() - effectiveStart.Day() + 1
	return int(daily.Mul(decimal.NewFromInt(int64(days))).Round(0).IntPart())
}

// =============================================================================
// WHOLE-LEASE STATS
// =============================================================================

func buildStats(latest Record, lease LeaseConfig, daily decimal.Decimal, asOf Date) *Stats {
	// The day in progress counts as elapsed, so the expectation is never
	// understated and the figure is defined on the lease start day itself.
	daysSinceStart := DaysBetween(lease.Start, asOf)
	if daysSinceStart < 1 {
		daysSinceStart = 1
	}
	daysIncludingToday := daysSinceStart + 1
	totalDays := lease.TotalDays()

	currentKm := latest.TotalKm
	expectedKm := int(daily.Mul(decimal.NewFromInt(int64(daysSinceStart))).Round(0).IntPart())
	differenceKm := expectedKm - currentKm
	avg := math.Round(float64(currentKm)/float64(daysSinceStart)*10) / 10

	projection := int(decimal.NewFromInt(int64(currentKm)).
		Div(decimal.NewFromInt(int64(daysIncludingToday))).
		Mul(decimal.NewFromInt(int64(totalDays))).
		Round(0).IntPart())

	progress := int(math.Round(100 * float64(daysIncludingToday) / float64(totalDays)))
	if progress > 100 {
		progress = 100
	}

	return &Stats{
		AsOf:               asOf,
		CurrentKm:          currentKm,
		ExpectedKm:         expectedKm,
		DifferenceKm:       differenceKm,
		AvgKmPerDay:        avg,
		DaysSinceStart:     daysSinceStart,
		IsUnderLimit:       differenceKm > 0,
		TotalProjectionKm:  projection,
		ProjectionCritical: projection > lease.TotalAllowedKm,
		LeaseProgressPct:   progress,
		Zone:               zone(currentKm, lease),
	}
}

func zone(currentKm int, lease LeaseConfig) UsageZone {
	switch {
	case currentKm <= lease.TotalAllowedKm:
		return ZoneWithinAllowance
	case currentKm <= lease.TotalWithToleranceKm():
		return ZoneWithinTolerance
	default:
		return ZoneOverTolerance
	}
}
