package mileage_test

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/kmtrack/mileage-engine/mileage"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func testLease() mileage.LeaseConfig {
	return mileage.LeaseConfig{
		Start:             day(2025, time.July, 8),
		End:               day(2027, time.July, 8),
		AnnualAllowanceKm: 20000,
		TotalAllowedKm:    40000,
		ToleranceKm:       3000,
	}
}

func day(y int, m time.Month, d int) mileage.Date {
	return mileage.NewDate(y, m, d)
}

func rec(id int64, date mileage.Date, km int) mileage.Record {
	return mileage.Record{ID: id, Date: date, TotalKm: km, Source: mileage.SourceManual}
}

func bucketFor(t *testing.T, buckets []mileage.MonthBucket, y int, m time.Month) mileage.MonthBucket {
	t.Helper()
	for _, b := range buckets {
		if b.Key.Year == y && b.Key.Month == m {
			return b
		}
	}
	t.Fatalf("no bucket for %d-%02d", y, m)
	return mileage.MonthBucket{}
}

// =============================================================================
// MONTH BUCKET TESTS
// =============================================================================

func TestReconcile_FirstMonth_ProratedFromLeaseStart(t *testing.T) {
	// GIVEN: Lease starting 2025-07-08, 20000 km/year, readings in July
	// WHEN: Reconciling
	// THEN: July allowance covers Jul 8-31 (24 days), usage is the month's
	//       last reading itself (odometer starts at zero)

	records := []mileage.Record{
		rec(1, day(2025, time.July, 11), 100),
		rec(2, day(2025, time.July, 31), 300),
	}

	_, buckets, err := mileage.Reconcile(records, testLease(), day(2025, time.July, 31))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	july := bucketFor(t, buckets, 2025, time.July)
	if july.AllowanceKm != 1315 { // round(24 * 20000/365)
		t.Errorf("expected July allowance 1315, got %d", july.AllowanceKm)
	}
	if july.ActualKm != 300 {
		t.Errorf("expected July usage 300, got %d", july.ActualKm)
	}
	if !july.Start.Equal(day(2025, time.July, 8)) {
		t.Errorf("expected July bucket clipped to lease start, got %v", july.Start)
	}
	if july.Over {
		t.Error("300 km against 1315 allowance must not be over")
	}
}

func TestReconcile_FullMonth_UsageIsDeltaFromPriorMonth(t *testing.T) {
	// GIVEN: July last reading 300, August last reading 750
	// WHEN: Reconciling
	// THEN: August allowance covers all 31 days, usage = 750 - 300

	records := []mileage.Record{
		rec(1, day(2025, time.July, 11), 100),
		rec(2, day(2025, time.July, 31), 300),
		rec(3, day(2025, time.August, 15), 750),
	}

	_, buckets, err := mileage.Reconcile(records, testLease(), day(2025, time.August, 15))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	august := bucketFor(t, buckets, 2025, time.August)
	if august.AllowanceKm != 1699 { // round(31 * 20000/365) = round(1698.63)
		t.Errorf("expected August allowance 1699, got %d", august.AllowanceKm)
	}
	if august.ActualKm != 450 {
		t.Errorf("expected August usage 450, got %d", august.ActualKm)
	}
	if august.First == nil || august.First.ID != 3 {
		t.Errorf("expected August first record id 3, got %+v", august.First)
	}
}

func TestReconcile_EmptyMonth_DoesNotAdvanceBaseline(t *testing.T) {
	// GIVEN: A reading in July (300) and one in September (750), none in August
	// WHEN: Reconciling
	// THEN: August contributes zero usage, and September compares against
	//       July's reading, not against an empty August

	records := []mileage.Record{
		rec(1, day(2025, time.July, 31), 300),
		rec(2, day(2025, time.September, 30), 750),
	}

	_, buckets, err := mileage.Reconcile(records, testLease(), day(2025, time.September, 30))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	august := bucketFor(t, buckets, 2025, time.August)
	if august.ActualKm != 0 {
		t.Errorf("expected empty August usage 0, got %d", august.ActualKm)
	}
	if august.First != nil || august.Last != nil {
		t.Error("empty August must carry no first/last record")
	}

	september := bucketFor(t, buckets, 2025, time.September)
	if september.ActualKm != 450 {
		t.Errorf("expected September usage 450 (750-300), got %d", september.ActualKm)
	}
}

func TestReconcile_MonthlyUsageSumsToLatestReading(t *testing.T) {
	// GIVEN: Readings spread over several months with gaps
	// WHEN: Reconciling
	// THEN: The month usages sum exactly to the latest odometer value

	records := []mileage.Record{
		rec(1, day(2025, time.July, 11), 100),
		rec(2, day(2025, time.July, 31), 300),
		rec(3, day(2025, time.August, 15), 750),
		rec(4, day(2025, time.September, 30), 2200),
		rec(5, day(2025, time.December, 31), 4200),
	}

	_, buckets, err := mileage.Reconcile(records, testLease(), day(2025, time.December, 31))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sum := 0
	for _, b := range buckets {
		sum += b.ActualKm
	}
	if sum != 4200 {
		t.Errorf("expected month usage to sum to 4200, got %d", sum)
	}
}

func TestReconcile_CoversEveryMonthThroughLatestRecord(t *testing.T) {
	// GIVEN: Readings in July and December
	// WHEN: Reconciling
	// THEN: One bucket per month July..December, chronological

	records := []mileage.Record{
		rec(1, day(2025, time.July, 31), 300),
		rec(2, day(2025, time.December, 1), 4200),
	}

	_, buckets, err := mileage.Reconcile(records, testLease(), day(2025, time.December, 1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(buckets) != 6 {
		t.Fatalf("expected 6 buckets (Jul-Dec), got %d", len(buckets))
	}
	for i := 1; i < len(buckets); i++ {
		if !buckets[i-1].Key.Before(buckets[i].Key) {
			t.Errorf("buckets out of order at index %d", i)
		}
	}
}

func TestReconcile_SameDate_TieResolvesToHighestID(t *testing.T) {
	// GIVEN: Two readings on the same date (a correction entered later)
	// WHEN: Reconciling
	// THEN: The higher-ID record wins as the month's last reading

	records := []mileage.Record{
		rec(2, day(2025, time.July, 31), 320),
		rec(1, day(2025, time.July, 31), 300),
	}

	stats, buckets, err := mileage.Reconcile(records, testLease(), day(2025, time.July, 31))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if stats.CurrentKm != 320 {
		t.Errorf("expected current km 320 (highest id), got %d", stats.CurrentKm)
	}
	july := bucketFor(t, buckets, 2025, time.July)
	if july.Last == nil || july.Last.ID != 2 {
		t.Errorf("expected July last record id 2, got %+v", july.Last)
	}
}

func TestReconcile_Deterministic_RepeatedRunsIdentical(t *testing.T) {
	// GIVEN: An unchanged reading history
	// WHEN: Reconciling twice
	// THEN: Both outputs are identical and inputs are not mutated

	records := []mileage.Record{
		rec(3, day(2025, time.August, 15), 750),
		rec(1, day(2025, time.July, 11), 100),
		rec(2, day(2025, time.July, 31), 300),
	}
	originalFirst := records[0]

	stats1, buckets1, err := mileage.Reconcile(records, testLease(), day(2025, time.August, 15))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stats2, buckets2, err := mileage.Reconcile(records, testLease(), day(2025, time.August, 15))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !reflect.DeepEqual(stats1, stats2) {
		t.Error("stats differ between identical runs")
	}
	if !reflect.DeepEqual(buckets1, buckets2) {
		t.Error("buckets differ between identical runs")
	}
	if !reflect.DeepEqual(records[0], originalFirst) {
		t.Error("input slice was mutated")
	}
}

// =============================================================================
// WHOLE-LEASE STATS TESTS
// =============================================================================

func TestReconcile_Stats_ExpectedVsActual(t *testing.T) {
	// GIVEN: 750 km on the odometer 38 days into the lease
	// WHEN: Reconciling as of 2025-08-15
	// THEN: Expectation, difference, average and projection follow the
	//       prorated daily rate

	records := []mileage.Record{
		rec(1, day(2025, time.July, 11), 100),
		rec(2, day(2025, time.July, 31), 300),
		rec(3, day(2025, time.August, 15), 750),
	}

	stats, _, err := mileage.Reconcile(records, testLease(), day(2025, time.August, 15))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if stats.DaysSinceStart != 38 {
		t.Errorf("expected 38 days since start, got %d", stats.DaysSinceStart)
	}
	if stats.ExpectedKm != 2082 { // round(38 * 20000/365)
		t.Errorf("expected 2082 expected km, got %d", stats.ExpectedKm)
	}
	if stats.DifferenceKm != 1332 {
		t.Errorf("expected difference 1332, got %d", stats.DifferenceKm)
	}
	if !stats.IsUnderLimit {
		t.Error("750 actual vs 2082 expected must be under limit")
	}
	if stats.AvgKmPerDay != 19.7 { // round(750/38 * 10) / 10
		t.Errorf("expected avg 19.7 km/day, got %v", stats.AvgKmPerDay)
	}
	if stats.TotalProjectionKm != 14038 { // round(750/39 * 730)
		t.Errorf("expected projection 14038, got %d", stats.TotalProjectionKm)
	}
	if stats.ProjectionCritical {
		t.Error("14038 projected vs 40000 allowed must not be critical")
	}
	if stats.LeaseProgressPct != 5 { // round(100 * 39/730)
		t.Errorf("expected lease progress 5%%, got %d", stats.LeaseProgressPct)
	}
}

func TestReconcile_Stats_AsOfBeforeStartClampsToOneDay(t *testing.T) {
	// GIVEN: A reading dated before the lease window opens
	// WHEN: Reconciling as of the lease start day
	// THEN: Elapsed days clamp to 1, no division by zero

	records := []mileage.Record{rec(1, day(2025, time.July, 8), 10)}

	stats, _, err := mileage.Reconcile(records, testLease(), day(2025, time.July, 8))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.DaysSinceStart != 1 {
		t.Errorf("expected days since start clamped to 1, got %d", stats.DaysSinceStart)
	}
}

func TestReconcile_Stats_ZoneBoundaries(t *testing.T) {
	cases := []struct {
		km   int
		zone mileage.UsageZone
	}{
		{39999, mileage.ZoneWithinAllowance},
		{40000, mileage.ZoneWithinAllowance},
		{40001, mileage.ZoneWithinTolerance},
		{43000, mileage.ZoneWithinTolerance},
		{43001, mileage.ZoneOverTolerance},
	}

	for _, tc := range cases {
		records := []mileage.Record{rec(1, day(2027, time.June, 30), tc.km)}
		stats, _, err := mileage.Reconcile(records, testLease(), day(2027, time.June, 30))
		if err != nil {
			t.Fatalf("unexpected error for %d km: %v", tc.km, err)
		}
		if stats.Zone != tc.zone {
			t.Errorf("%d km: expected zone %s, got %s", tc.km, tc.zone, stats.Zone)
		}
	}
}

func TestReconcile_Stats_LeaseProgressCappedAt100(t *testing.T) {
	// GIVEN: An asOf date past the lease end
	// WHEN: Reconciling
	// THEN: Progress reads 100, never more

	records := []mileage.Record{rec(1, day(2027, time.July, 8), 38000)}

	stats, _, err := mileage.Reconcile(records, testLease(), day(2027, time.December, 31))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.LeaseProgressPct != 100 {
		t.Errorf("expected progress capped at 100, got %d", stats.LeaseProgressPct)
	}
}

// =============================================================================
// FAILURE MODES
// =============================================================================

func TestReconcile_NoRecords_ReturnsSentinel(t *testing.T) {
	_, _, err := mileage.Reconcile(nil, testLease(), day(2025, time.August, 1))
	if !errors.Is(err, mileage.ErrNoRecords) {
		t.Fatalf("expected ErrNoRecords, got %v", err)
	}
}

func TestReconcile_InvalidRecord_Rejected(t *testing.T) {
	cases := []struct {
		name   string
		record mileage.Record
	}{
		{"missing date", mileage.Record{ID: 7, TotalKm: 100}},
		{"negative km", rec(8, day(2025, time.July, 10), -5)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := mileage.Reconcile([]mileage.Record{tc.record}, testLease(), day(2025, time.August, 1))
			if !errors.Is(err, mileage.ErrInvalidRecord) {
				t.Fatalf("expected ErrInvalidRecord, got %v", err)
			}
			var invalid *mileage.InvalidRecordError
			if !errors.As(err, &invalid) {
				t.Fatalf("expected InvalidRecordError, got %T", err)
			}
			if invalid.ID != tc.record.ID {
				t.Errorf("expected offending id %d, got %d", tc.record.ID, invalid.ID)
			}
		})
	}
}

func TestReconcile_InvalidLease_Rejected(t *testing.T) {
	lease := testLease()
	lease.End = lease.Start // degenerate window

	_, _, err := mileage.Reconcile([]mileage.Record{rec(1, day(2025, time.July, 10), 10)}, lease, day(2025, time.August, 1))
	if !errors.Is(err, mileage.ErrInvalidLease) {
		t.Fatalf("expected ErrInvalidLease, got %v", err)
	}
}
