/*
handlers.go - HTTP API handlers for the mileage tracker

PURPOSE:
  Exposes the record store and the reconciliation engine over REST. Handles
  HTTP request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  GET    /api/health         Health check
  POST   /api/login          Operator login -> session token
  GET    /api/records        List all records
  POST   /api/records        Create record (date + totalKm mandatory)
  PUT    /api/records/{id}   Update record (preserves source when omitted)
  DELETE /api/records/{id}   Delete record
  GET    /api/stats          Whole-lease stats + month-by-month breakdown
  POST   /api/fetch-mileage  Manual trigger of the telemetry ingestion

ERROR HANDLING:
  Errors map to JSON with appropriate HTTP status:
  - 400: Validation errors (rejected before any write)
  - 401: Missing/expired session
  - 404: Record not found
  - 502: Telemetry vendor failure (failing step identified)
  - 503: Record store unreachable
  - 500: Everything else

SEE ALSO:
  - dto.go: Request/response data structures
  - ingest.go: The fetch-and-append flow
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/kmtrack/mileage-engine/auth"
	"github.com/kmtrack/mileage-engine/mileage"
	"github.com/kmtrack/mileage-engine/telemetry"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    mileage.RecordStore
	Lease    mileage.LeaseConfig
	Fetcher  telemetry.Fetcher
	Sessions *auth.Service
	Ingestor *Ingestor

	log *logrus.Entry
}

// NewHandler wires the handler. Fetcher may be nil when no telemetry is
// configured; the fetch endpoints then report an explicit error.
func NewHandler(store mileage.RecordStore, lease mileage.LeaseConfig, fetcher telemetry.Fetcher, sessions *auth.Service) *Handler {
	h := &Handler{
		Store:    store,
		Lease:    lease,
		Fetcher:  fetcher,
		Sessions: sessions,
		log:      logrus.WithField("component", "api"),
	}
	if fetcher != nil {
		h.Ingestor = NewIngestor(store, fetcher)
	}
	return h
}

// =============================================================================
// HEALTH AND SESSION HANDLERS
// =============================================================================

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthDTO{
		Status:    "OK",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if h.Sessions == nil || !h.Sessions.Enabled() {
		writeError(w, http.StatusNotFound, "Sessions are not configured", nil)
		return
	}

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	token, expiresAt, err := h.Sessions.Login(req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid credentials", nil)
		return
	}
	writeJSON(w, http.StatusOK, SessionDTO{
		Token:     token,
		ExpiresAt: expiresAt.UTC().Format(time.RFC3339),
	})
}

// =============================================================================
// RECORD CRUD HANDLERS
// =============================================================================

func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	records, err := h.Store.List(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}

	dtos := make([]RecordDTO, len(records))
	for i, rec := range records {
		dtos[i] = toRecordDTO(rec)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateRecord(w http.ResponseWriter, r *http.Request) {
	var req CreateRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	date, totalKm, source, err := parseWriteInput(req.Date, req.TotalKm, req.Source)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	existing, err := h.Store.List(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if err := mileage.ValidateWrite(existing, date, totalKm, 0); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	rec, err := h.Store.Create(r.Context(), date, totalKm, source)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRecordDTO(rec))
}

func (h *Handler) UpdateRecord(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid record id", err)
		return
	}

	var req UpdateRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	date, totalKm, source, err := parseWriteInput(req.Date, req.TotalKm, req.Source)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	existing, err := h.Store.List(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if err := mileage.ValidateWrite(existing, date, totalKm, id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	rec, err := h.Store.Update(r.Context(), id, date, totalKm, source)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTO(rec))
}

func (h *Handler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid record id", err)
		return
	}

	if err := h.Store.Delete(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// STATS HANDLER
// =============================================================================

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	records, err := h.Store.List(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}

	stats, months, err := mileage.Reconcile(records, h.Lease, mileage.Today())
	if errors.Is(err, mileage.ErrNoRecords) {
		writeJSON(w, http.StatusOK, StatsResponse{HasData: false})
		return
	}
	if err != nil {
		h.log.WithError(err).Error("reconciliation failed on stored data")
		writeError(w, http.StatusInternalServerError, "Failed to compute statistics", err)
		return
	}

	monthDTOs := make([]MonthBucketDTO, len(months))
	for i, m := range months {
		monthDTOs[i] = toMonthBucketDTO(m)
	}
	writeJSON(w, http.StatusOK, StatsResponse{
		HasData: true,
		Stats:   toStatsDTO(stats),
		Months:  monthDTOs,
	})
}

func toStatsDTO(s *mileage.Stats) *StatsDTO {
	return &StatsDTO{
		AsOf:               s.AsOf.String(),
		CurrentKm:          s.CurrentKm,
		ExpectedKm:         s.ExpectedKm,
		DifferenceKm:       s.DifferenceKm,
		AvgKmPerDay:        s.AvgKmPerDay,
		DaysSinceStart:     s.DaysSinceStart,
		IsUnderLimit:       s.IsUnderLimit,
		TotalProjectionKm:  s.TotalProjectionKm,
		ProjectionCritical: s.ProjectionCritical,
		LeaseProgressPct:   s.LeaseProgressPct,
		Zone:               string(s.Zone),
	}
}

func toMonthBucketDTO(m mileage.MonthBucket) MonthBucketDTO {
	dto := MonthBucketDTO{
		Month:       m.Key.String(),
		Start:       m.Start.String(),
		End:         m.End.String(),
		AllowanceKm: m.AllowanceKm,
		ActualKm:    m.ActualKm,
		DiffKm:      m.DiffKm,
		Over:        m.Over,
	}
	if m.First != nil {
		d := toRecordDTO(*m.First)
		dto.First = &d
	}
	if m.Last != nil {
		d := toRecordDTO(*m.Last)
		dto.Last = &d
	}
	return dto
}

// =============================================================================
// TELEMETRY TRIGGER
// =============================================================================

func (h *Handler) FetchMileage(w http.ResponseWriter, r *http.Request) {
	if h.Ingestor == nil {
		writeError(w, http.StatusServiceUnavailable, "Telemetry is not configured", nil)
		return
	}

	result, err := h.Ingestor.Run(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// =============================================================================
// HELPERS
// =============================================================================

// parseWriteInput validates the mandatory write fields. totalKm arrives as
// arbitrary JSON and is coerced to a non-negative integer.
func parseWriteInput(dateStr string, totalKmRaw any, sourceStr string) (mileage.Date, int, mileage.Source, error) {
	if dateStr == "" {
		return mileage.Date{}, 0, "", fmt.Errorf("date and totalKm are required")
	}
	date, err := mileage.ParseDate(dateStr)
	if err != nil {
		return mileage.Date{}, 0, "", err
	}

	totalKm, err := coerceKm(totalKmRaw)
	if err != nil {
		return mileage.Date{}, 0, "", err
	}

	source := mileage.Source(sourceStr)
	if source != "" && source != mileage.SourceManual && source != mileage.SourceAPI {
		return mileage.Date{}, 0, "", fmt.Errorf("unknown source %q", sourceStr)
	}
	return date, totalKm, source, nil
}

func coerceKm(v any) (int, error) {
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("totalKm must be a whole number")
		}
		return int(n), nil
	case string:
		parsed, err := strconv.Atoi(n)
		if err != nil {
			return 0, fmt.Errorf("totalKm must be a number")
		}
		return parsed, nil
	case json.Number:
		parsed, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("totalKm must be a number")
		}
		return int(parsed), nil
	case nil:
		return 0, fmt.Errorf("date and totalKm are required")
	default:
		return 0, fmt.Errorf("totalKm must be a number")
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	dto := ErrorDTO{Error: message}
	if err != nil {
		dto.Details = err.Error()
	}
	writeJSON(w, status, dto)
}

// writeStoreError maps the domain error taxonomy onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	var stepErr *telemetry.StepError

	switch {
	case errors.Is(err, mileage.ErrRecordNotFound):
		writeError(w, http.StatusNotFound, "Record not found", nil)
	case errors.Is(err, mileage.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error(), nil)
	case errors.As(err, &stepErr):
		writeError(w, http.StatusBadGateway,
			fmt.Sprintf("Telemetry fetch failed at step %q", stepErr.Step), stepErr.Cause)
	case errors.Is(err, mileage.ErrUpstreamAuth), errors.Is(err, mileage.ErrUpstreamProtocol):
		writeError(w, http.StatusBadGateway, "Telemetry fetch failed", err)
	case errors.Is(err, mileage.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "Record store unavailable", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
