/*
ingest.go - The fetch-and-append ingestion flow

PURPOSE:
  One ingestion run: fetch the current odometer from telemetry, then decide
  what to write for today's date. Shared by the daily scheduler and the
  manual POST /api/fetch-mileage trigger.

SEMANTICS (history is never overwritten):
  - A record for today with the SAME km already exists -> do nothing,
    report "skipped".
  - A record for today with a DIFFERENT km exists -> append a NEW record
    dated today, source API; the earlier record stays untouched.
  - No record for today -> append one, source API.

  A failed fetch aborts before anything touches the store.
*/
package api

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/kmtrack/mileage-engine/mileage"
	"github.com/kmtrack/mileage-engine/telemetry"
)

// Ingestion outcome statuses.
const (
	IngestCreated  = "created"
	IngestAppended = "appended"
	IngestSkipped  = "skipped"
)

// Ingestor runs the fetch-and-append flow against a store.
type Ingestor struct {
	Store   mileage.RecordStore
	Fetcher telemetry.Fetcher

	// Now returns "today"; overridable in tests. Nil means mileage.Today.
	Now func() mileage.Date

	log *logrus.Entry
}

func NewIngestor(store mileage.RecordStore, fetcher telemetry.Fetcher) *Ingestor {
	return &Ingestor{
		Store:   store,
		Fetcher: fetcher,
		log:     logrus.WithField("component", "ingest"),
	}
}

// Run performs one ingestion. The returned result is meaningful only when
// err is nil.
func (in *Ingestor) Run(ctx context.Context) (FetchResultDTO, error) {
	today := mileage.Today()
	if in.Now != nil {
		today = in.Now()
	}

	reading, err := in.Fetcher.FetchOdometer(ctx)
	if err != nil {
		return FetchResultDTO{}, err
	}

	records, err := in.Store.List(ctx)
	if err != nil {
		return FetchResultDTO{}, err
	}

	for i := range records {
		if records[i].Date.Equal(today) && records[i].TotalKm == reading.ValueKm {
			in.log.WithField("km", reading.ValueKm).Info("today's reading unchanged, skipping")
			return FetchResultDTO{Status: IngestSkipped, Km: reading.ValueKm, Vehicle: reading.Vehicle}, nil
		}
	}

	status := IngestCreated
	for i := range records {
		if records[i].Date.Equal(today) {
			status = IngestAppended
			break
		}
	}

	if err := mileage.ValidateWrite(records, today, reading.ValueKm, 0); err != nil {
		return FetchResultDTO{}, err
	}
	if _, err := in.Store.Create(ctx, today, reading.ValueKm, mileage.SourceAPI); err != nil {
		return FetchResultDTO{}, err
	}

	in.log.WithFields(logrus.Fields{"km": reading.ValueKm, "status": status}).Info("odometer record written")
	return FetchResultDTO{Status: status, Km: reading.ValueKm, Vehicle: reading.Vehicle}, nil
}
