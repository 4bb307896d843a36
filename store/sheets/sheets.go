/*
Package sheets provides a spreadsheet-backed implementation of
mileage.RecordStore over an authenticated HTTP API.

PURPOSE:
  The production record store: one spreadsheet row per record,
  [id, date, totalKm, createdAt, source?]. Rows created before the source
  column existed have four cells and read back as manual.

AUTHENTICATION:
  Service-account flow: an RS256-signed JWT assertion is exchanged at the
  token endpoint for a bearer token, cached until shortly before expiry.
  Credential errors are permanent and never retried.

POSITIONAL WRITES:
  The row API is positional, so update and delete re-resolve id -> row
  position against a fresh List immediately before acting. A stale position
  captured earlier would delete the wrong row once another writer inserts.

FAILURE POLICY:
  Transient failures (network, 5xx) get a bounded retry with backoff; all
  remote failures surface as mileage.ErrStoreUnavailable with the cause
  wrapped. A circuit breaker trips after repeated failures so a dead store
  fails fast instead of stalling every request. There is NO fallback to
  canned data here; demo mode is a separate, explicitly selected store.

SEE ALSO:
  - mileage/store.go: Interface definition and offline/demo contract
  - store/sqlite/sqlite.go: Local alternative backend
*/
package sheets

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/kmtrack/mileage-engine/mileage"
)

const (
	defaultTokenURL = "https://oauth2.googleapis.com/token"
	defaultAPIBase  = "https://sheets.googleapis.com/v4/spreadsheets"
	sheetsScope     = "https://www.googleapis.com/auth/spreadsheets"

	maxAttempts = 3
	retryDelay  = 500 * time.Millisecond
)

// Config holds the spreadsheet coordinates and service-account credentials.
type Config struct {
	SpreadsheetID string
	SheetName     string
	ClientEmail   string
	PrivateKeyPEM string

	// Overridable for tests; defaults applied in New.
	TokenURL string
	APIBase  string
}

// Store implements mileage.RecordStore against the spreadsheet API.
type Store struct {
	cfg     Config
	key     *rsa.PrivateKey
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	log     *logrus.Entry

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
	lastID      int64
}

// New validates the credentials and returns a ready store. The private key
// is parsed eagerly so malformed credentials fail at startup, not on the
// first request.
func New(cfg Config) (*Store, error) {
	if cfg.SpreadsheetID == "" || cfg.ClientEmail == "" || cfg.PrivateKeyPEM == "" {
		return nil, fmt.Errorf("sheets: spreadsheet id, client email and private key are required")
	}
	if cfg.SheetName == "" {
		cfg.SheetName = "Sheet1"
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}

	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(cfg.PrivateKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("sheets: parse service account key: %w", err)
	}

	return &Store{
		cfg:    cfg,
		key:    key,
		client: &http.Client{Timeout: 15 * time.Second},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "sheets",
			Timeout: 30 * time.Second,
		}),
		log: logrus.WithField("component", "sheets-store"),
	}, nil
}

// =============================================================================
// RECORD STORE IMPLEMENTATION
// =============================================================================

func (s *Store) List(ctx context.Context) ([]mileage.Record, error) {
	records, _, err := s.listRows(ctx)
	return records, err
}

func (s *Store) Create(ctx context.Context, date mileage.Date, totalKm int, source mileage.Source) (mileage.Record, error) {
	rec := mileage.Record{
		ID:        s.nextID(),
		Date:      date,
		TotalKm:   totalKm,
		CreatedAt: time.Now().UTC(),
		Source:    source.Normalize(),
	}

	body := map[string]any{
		"valueInputOption": "RAW",
		"insertDataOption": "INSERT_ROWS",
		"data": []map[string]any{{
			"range":  s.cfg.SheetName + "!A:E",
			"values": [][]any{rowCells(rec)},
		}},
	}
	endpoint := fmt.Sprintf("/values/%s!A:E:append", url.PathEscape(s.cfg.SheetName))
	if _, err := s.call(ctx, http.MethodPost, endpoint, body); err != nil {
		return mileage.Record{}, err
	}
	return rec, nil
}

func (s *Store) Update(ctx context.Context, id int64, date mileage.Date, totalKm int, source mileage.Source) (mileage.Record, error) {
	// Re-resolve id -> position right before writing.
	records, positions, err := s.listRows(ctx)
	if err != nil {
		return mileage.Record{}, err
	}
	idx := indexOf(records, id)
	if idx < 0 {
		return mileage.Record{}, mileage.ErrRecordNotFound
	}

	prev := records[idx]
	if source == "" {
		source = prev.Source
	}
	rec := mileage.Record{
		ID:        id,
		Date:      date,
		TotalKm:   totalKm,
		CreatedAt: prev.CreatedAt,
		Source:    source.Normalize(),
	}

	rowNumber := positions[idx]
	cellRange := fmt.Sprintf("%s!A%d:E%d", s.cfg.SheetName, rowNumber, rowNumber)
	body := map[string]any{
		"valueInputOption": "RAW",
		"data": []map[string]any{{
			"range":  cellRange,
			"values": [][]any{rowCells(rec)},
		}},
	}
	endpoint := fmt.Sprintf("/values/%s", url.PathEscape(cellRange))
	if _, err := s.call(ctx, http.MethodPut, endpoint, body); err != nil {
		return mileage.Record{}, err
	}
	return rec, nil
}

func (s *Store) Delete(ctx context.Context, id int64) error {
	// Positional delete: the position must come from a fresh list.
	records, positions, err := s.listRows(ctx)
	if err != nil {
		return err
	}
	idx := indexOf(records, id)
	if idx < 0 {
		return mileage.ErrRecordNotFound
	}

	rowNumber := positions[idx]
	body := map[string]any{
		"requests": []map[string]any{{
			"deleteDimension": map[string]any{
				"range": map[string]any{
					"sheetId":    0,
					"dimension":  "ROWS",
					"startIndex": rowNumber - 1,
					"endIndex":   rowNumber,
				},
			},
		}},
	}
	_, err = s.call(ctx, http.MethodPost, ":batchUpdate", body)
	return err
}

// =============================================================================
// ROW MAPPING
// =============================================================================

// listRows returns the parsed records plus, for each, its 1-based sheet row
// number (data starts at row 2 below the header).
func (s *Store) listRows(ctx context.Context) ([]mileage.Record, []int, error) {
	endpoint := fmt.Sprintf("/values/%s", url.PathEscape(s.cfg.SheetName+"!A2:E"))
	raw, err := s.call(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, nil, err
	}

	var payload struct {
		Values [][]string `json:"values"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, nil, fmt.Errorf("%w: decode rows: %w", mileage.ErrStoreUnavailable, err)
	}

	var (
		records   []mileage.Record
		positions []int
	)
	for i, cells := range payload.Values {
		rec, err := parseRow(cells)
		if err != nil {
			s.log.WithError(err).WithField("row", i+2).Warn("skipping unparseable row")
			continue
		}
		records = append(records, rec)
		positions = append(positions, i+2)
	}
	return records, positions, nil
}

func rowCells(r mileage.Record) []any {
	return []any{
		strconv.FormatInt(r.ID, 10),
		r.Date.String(),
		strconv.Itoa(r.TotalKm),
		r.CreatedAt.Format(time.RFC3339),
		string(r.Source.Normalize()),
	}
}

func parseRow(cells []string) (mileage.Record, error) {
	if len(cells) < 3 {
		return mileage.Record{}, fmt.Errorf("row has %d cells, need at least 3", len(cells))
	}
	id, err := strconv.ParseInt(cells[0], 10, 64)
	if err != nil {
		return mileage.Record{}, fmt.Errorf("bad id %q: %w", cells[0], err)
	}
	date, err := mileage.ParseDate(cells[1])
	if err != nil {
		return mileage.Record{}, err
	}
	totalKm, err := strconv.Atoi(cells[2])
	if err != nil {
		return mileage.Record{}, fmt.Errorf("bad totalKm %q: %w", cells[2], err)
	}

	rec := mileage.Record{ID: id, Date: date, TotalKm: totalKm}
	if len(cells) > 3 {
		if t, err := time.Parse(time.RFC3339, cells[3]); err == nil {
			rec.CreatedAt = t
		}
	}
	if len(cells) > 4 {
		rec.Source = mileage.Source(cells[4])
	}
	rec.Source = rec.Source.Normalize()
	return rec, nil
}

func indexOf(records []mileage.Record, id int64) int {
	for i := range records {
		if records[i].ID == id {
			return i
		}
	}
	return -1
}

// =============================================================================
// HTTP PLUMBING - Token exchange, retry, circuit breaker
// =============================================================================

// call performs one API request through the circuit breaker, retrying
// transient failures a bounded number of times.
func (s *Store) call(ctx context.Context, method, endpoint string, body any) ([]byte, error) {
	result, err := s.breaker.Execute(func() (any, error) {
		var lastErr error
		for attempt := 1; attempt <= maxAttempts; attempt++ {
			raw, retryable, err := s.doRequest(ctx, method, endpoint, body)
			if err == nil {
				return raw, nil
			}
			lastErr = err
			if !retryable {
				break
			}
			if attempt < maxAttempts {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(retryDelay * time.Duration(attempt)):
				}
			}
		}
		return nil, lastErr
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

func (s *Store) doRequest(ctx context.Context, method, endpoint string, body any) (raw []byte, retryable bool, err error) {
	token, err := s.accessToken(ctx)
	if err != nil {
		return nil, false, err
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, false, err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.cfg.APIBase+"/"+s.cfg.SpreadsheetID+endpoint, reqBody)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("%w: %w", mileage.ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("%w: read response: %w", mileage.ErrStoreUnavailable, err)
	}
	if resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("%w: remote status %d", mileage.ErrStoreUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, false, fmt.Errorf("%w: remote status %d: %s",
			mileage.ErrStoreUnavailable, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, false, nil
}

// accessToken returns a cached bearer token, exchanging a fresh signed
// assertion when the cache is empty or close to expiry.
func (s *Store) accessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && time.Now().Before(s.tokenExpiry.Add(-1*time.Minute)) {
		return s.token, nil
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iss":   s.cfg.ClientEmail,
		"scope": sheetsScope,
		"aud":   s.cfg.TokenURL,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
	assertion, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("%w: sign assertion: %w", mileage.ErrStoreUnavailable, err)
	}

	form := url.Values{
		"grant_type": {"urn:ietf:params:oauth:grant-type:jwt-bearer"},
		"assertion":  {assertion},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.TokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: token exchange: %w", mileage.ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: token exchange status %d", mileage.ErrStoreUnavailable, resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("%w: decode token: %w", mileage.ErrStoreUnavailable, err)
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", mileage.ErrStoreUnavailable)
	}

	s.token = payload.AccessToken
	s.tokenExpiry = now.Add(time.Duration(payload.ExpiresIn) * time.Second)
	return s.token, nil
}

// nextID derives ids from the creation timestamp, bumped past the previous
// id so same-millisecond creates stay unique.
func (s *Store) nextID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := time.Now().UnixMilli()
	if id <= s.lastID {
		id = s.lastID + 1
	}
	s.lastID = id
	return id
}
