/*
toyota.go - Toyota connected-services odometer client

PURPOSE:
  Implements Fetcher against the Toyota Europe consumer API. The flow is
  fixed by the vendor:

    1. authenticate  Callback-driven login loop until a tokenId appears
    2. authorize     OAuth authorize redirect yielding a one-shot code
    3. token         Code -> access token; user GUID sits in the JWT claims
    4. vehicle       List vehicles, take the first one's VIN
    5. telemetry     Read the odometer for that VIN

  This is integration glue, not designed protocol: every request shape and
  header below mirrors what the vendor's own mobile app sends.

TESTABILITY:
  Both base URLs are injectable, so the whole handshake can run against an
  httptest server.
*/
package telemetry

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	defaultAuthBase = "https://b2c-login.toyota-europe.com"
	defaultAPIBase  = "https://ctpa-oneapi.tceu-ctp-prd.toyotaconnectedeurope.io"

	clientVersion = "2.14.0"
	apiKey        = "tTZipv6liF74PwMfk9Ed68AQ0bISswwf3iHQdqcF"
	basicAuth     = "Basic b25lYXBwOm9uZWFwcA=="
	redirectURI   = "com.toyota.oneapp:/oauth2Callback"

	maxAuthAttempts = 10
)

// ClientConfig carries the account credentials and optional URL overrides.
type ClientConfig struct {
	Username string
	Password string
	AuthBase string
	APIBase  string
}

// Client fetches the odometer through the vendor's login handshake.
type Client struct {
	cfg    ClientConfig
	client *http.Client
	log    *logrus.Entry
}

// NewClient returns a client; credentials are required.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Username == "" || cfg.Password == "" {
		return nil, fmt.Errorf("telemetry: username and password are required")
	}
	if cfg.AuthBase == "" {
		cfg.AuthBase = defaultAuthBase
	}
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	return &Client{
		cfg: cfg,
		client: &http.Client{
			Timeout: 30 * time.Second,
			// The authorize step answers with a 302 we must read ourselves.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		log: logrus.WithField("component", "telemetry"),
	}, nil
}

// FetchOdometer runs the full vendor sequence and returns the current
// odometer reading in kilometers.
func (c *Client) FetchOdometer(ctx context.Context) (Reading, error) {
	tokenID, err := c.authenticate(ctx)
	if err != nil {
		return Reading{}, err
	}

	code, err := c.authorize(ctx, tokenID)
	if err != nil {
		return Reading{}, err
	}

	accessToken, userGUID, err := c.exchangeToken(ctx, code)
	if err != nil {
		return Reading{}, err
	}

	vin, vehicle, err := c.vehicleVIN(ctx, accessToken, userGUID)
	if err != nil {
		return Reading{}, err
	}

	valueKm, err := c.odometer(ctx, accessToken, userGUID, vin)
	if err != nil {
		return Reading{}, err
	}

	c.log.WithFields(logrus.Fields{"vin": vin, "km": valueKm}).Info("odometer fetched")
	return Reading{ValueKm: valueKm, VIN: vin, Vehicle: vehicle}, nil
}

// =============================================================================
// STEP 1 - CALLBACK-DRIVEN AUTHENTICATION
// =============================================================================

type authCallback struct {
	Type   string `json:"type"`
	Output []struct {
		Name  string `json:"name"`
		Value any    `json:"value"`
	} `json:"output"`
	Input []map[string]any `json:"input"`
}

type authResponse struct {
	AuthID    string         `json:"authId,omitempty"`
	TokenID   string         `json:"tokenId,omitempty"`
	Callbacks []authCallback `json:"callbacks,omitempty"`
}

// authenticate drives the vendor's callback protocol: each round returns a
// set of callbacks to fill in (username, password, choice prompts) until a
// tokenId appears or the attempt budget runs out.
func (c *Client) authenticate(ctx context.Context) (string, error) {
	authURL := c.cfg.AuthBase + "/json/realms/root/realms/tme/authenticate?authIndexType=service&authIndexValue=oneapp"

	var state authResponse
	for attempt := 0; attempt < maxAuthAttempts; attempt++ {
		c.fillCallbacks(&state)

		payload, err := json.Marshal(state)
		if err != nil {
			return "", authErr(StepAuthenticate, err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, authURL, bytes.NewReader(payload))
		if err != nil {
			return "", authErr(StepAuthenticate, err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return "", authErr(StepAuthenticate, err)
		}
		func() {
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				err = fmt.Errorf("status %d", resp.StatusCode)
				return
			}
			state = authResponse{}
			err = json.NewDecoder(resp.Body).Decode(&state)
		}()
		if err != nil {
			return "", authErr(StepAuthenticate, err)
		}

		if state.TokenID != "" {
			return state.TokenID, nil
		}
		if userNotFound(state.Callbacks) {
			return "", authErr(StepAuthenticate, fmt.Errorf("user not found"))
		}
	}
	return "", authErr(StepAuthenticate,
		fmt.Errorf("no token after %d attempts", maxAuthAttempts))
}

func (c *Client) fillCallbacks(state *authResponse) {
	for i := range state.Callbacks {
		cb := &state.Callbacks[i]
		if len(cb.Input) == 0 {
			continue
		}
		switch {
		case cb.Type == "NameCallback" && outputValue(cb) == "User Name":
			cb.Input[0]["value"] = c.cfg.Username
		case cb.Type == "PasswordCallback":
			cb.Input[0]["value"] = c.cfg.Password
		case cb.Type == "ChoiceCallback" && outputValue(cb) == "Prompt":
			cb.Input[0]["value"] = 0
		}
	}
}

func outputValue(cb *authCallback) string {
	if len(cb.Output) == 0 {
		return ""
	}
	s, _ := cb.Output[0].Value.(string)
	return s
}

func userNotFound(callbacks []authCallback) bool {
	for i := range callbacks {
		if callbacks[i].Type == "TextOutputCallback" && outputValue(&callbacks[i]) == "User Not Found" {
			return true
		}
	}
	return false
}

// =============================================================================
// STEPS 2+3 - AUTHORIZATION CODE AND ACCESS TOKEN
// =============================================================================

func (c *Client) authorize(ctx context.Context, tokenID string) (string, error) {
	authorizeURL := c.cfg.AuthBase + "/oauth2/realms/root/realms/tme/authorize" +
		"?client_id=oneapp&scope=openid+profile+write&response_type=code" +
		"&redirect_uri=" + url.QueryEscape(redirectURI) +
		"&code_challenge=plain&code_challenge_method=plain"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, authorizeURL, nil)
	if err != nil {
		return "", authErr(StepAuthorize, err)
	}
	req.Header.Set("Cookie", "iPlanetDirectoryPro="+tokenID)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", authErr(StepAuthorize, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		return "", authErr(StepAuthorize, fmt.Errorf("status %d, want 302", resp.StatusCode))
	}
	location := resp.Header.Get("Location")
	if location == "" {
		return "", authErr(StepAuthorize, fmt.Errorf("no redirect location"))
	}
	parsed, err := url.Parse(location)
	if err != nil {
		return "", authErr(StepAuthorize, err)
	}
	code := parsed.Query().Get("code")
	if code == "" {
		return "", authErr(StepAuthorize, fmt.Errorf("no authorization code in redirect"))
	}
	return code, nil
}

func (c *Client) exchangeToken(ctx context.Context, code string) (accessToken, userGUID string, err error) {
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"code_verifier": {"plain"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.AuthBase+"/oauth2/realms/root/realms/tme/access_token",
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", "", authErr(StepToken, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", basicAuth)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", "", authErr(StepToken, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", authErr(StepToken, fmt.Errorf("status %d", resp.StatusCode))
	}
	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", "", authErr(StepToken, err)
	}
	if payload.AccessToken == "" {
		return "", "", authErr(StepToken, fmt.Errorf("no access token in response"))
	}

	guid, err := guidFromToken(payload.AccessToken)
	if err != nil {
		return "", "", authErr(StepToken, err)
	}
	return payload.AccessToken, guid, nil
}

// guidFromToken pulls the user GUID out of the access token's claims. The
// signature is the vendor's concern; we only read the payload.
func guidFromToken(accessToken string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return "", fmt.Errorf("decode access token: %w", err)
	}
	if v, ok := claims["uuid"].(string); ok && v != "" {
		return v, nil
	}
	if v, ok := claims["sub"].(string); ok && v != "" {
		return v, nil
	}
	return "", fmt.Errorf("no user guid in access token claims")
}

// =============================================================================
// STEPS 4+5 - VEHICLE LOOKUP AND ODOMETER
// =============================================================================

func (c *Client) vehicleVIN(ctx context.Context, accessToken, userGUID string) (vin, model string, err error) {
	raw, err := c.apiGet(ctx, "/v2/vehicle/guid", accessToken, userGUID, "")
	if err != nil {
		return "", "", protocolErr(StepVehicle, err)
	}

	var payload struct {
		Payload []struct {
			VIN       string `json:"vin"`
			ModelName string `json:"modelName"`
			Nickname  string `json:"nickName"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", "", protocolErr(StepVehicle, err)
	}
	if len(payload.Payload) == 0 {
		return "", "", protocolErr(StepVehicle, fmt.Errorf("no vehicles in account"))
	}

	v := payload.Payload[0]
	name := v.ModelName
	if v.Nickname != "" {
		name = v.ModelName + " - " + v.Nickname
	}
	return v.VIN, name, nil
}

func (c *Client) odometer(ctx context.Context, accessToken, userGUID, vin string) (int, error) {
	raw, err := c.apiGet(ctx, "/v3/telemetry", accessToken, userGUID, vin)
	if err != nil {
		return 0, protocolErr(StepTelemetry, err)
	}

	var payload struct {
		Payload struct {
			Odometer *struct {
				Value float64 `json:"value"`
				Unit  string  `json:"unit"`
			} `json:"odometer"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return 0, protocolErr(StepTelemetry, err)
	}
	if payload.Payload.Odometer == nil {
		return 0, protocolErr(StepTelemetry, fmt.Errorf("odometer data not available"))
	}
	return ToKilometers(payload.Payload.Odometer.Value, payload.Payload.Odometer.Unit), nil
}

// apiGet performs an authenticated consumer-API request with the header set
// the vendor expects. Each call carries a fresh correlation id.
func (c *Client) apiGet(ctx context.Context, path, accessToken, userGUID, vin string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.APIBase+path, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("x-guid", userGUID)
	req.Header.Set("guid", userGUID)
	req.Header.Set("x-client-ref", clientRef(userGUID))
	req.Header.Set("x-correlationid", uuid.NewString())
	req.Header.Set("x-channel", "ONEAPP")
	req.Header.Set("x-brand", "T")
	req.Header.Set("x-region", "EU")
	req.Header.Set("x-appversion", clientVersion)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("User-Agent", "okhttp/4.10.0")
	if vin != "" {
		req.Header.Set("vin", vin)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func clientRef(userGUID string) string {
	mac := hmac.New(sha256.New, []byte(clientVersion))
	mac.Write([]byte(userGUID))
	return hex.EncodeToString(mac.Sum(nil))
}

var _ Fetcher = (*Client)(nil)
