package auroravision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	telemetry "solarwatch/internal/telemetry/domain"
)

const (
	headerAPIKey = "X-AuroraVision-ApiKey"
	headerToken  = "X-AuroraVision-Token"

	dateLayout = "20060102"
)

var errUnauthorized = errors.New("auroravision: unauthorized")

// Client is a minimal AuroraVision REST client. Authentication tokens are
// cached and refreshed once on a 401 before the request is retried.
type Client struct {
	baseURL  string
	apiKey   string
	username string
	password string
	client   *http.Client

	mu    sync.Mutex
	token string
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		if client != nil {
			c.client = client
		}
	}
}

// NewClient constructs an AuroraVision client.
func NewClient(baseURL, apiKey, username, password string, opts ...ClientOption) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("auroravision: empty base url")
	}
	if apiKey == "" {
		return nil, errors.New("auroravision: empty api key")
	}
	if username == "" || password == "" {
		return nil, errors.New("auroravision: empty credentials")
	}
	client := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		username: username,
		password: password,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

type authResponse struct {
	Result string `json:"result"`
}

// Authenticate obtains a session token and caches it for later fetches.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/authenticate", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set(headerAPIKey, c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("auroravision: authenticate http %d", resp.StatusCode)
	}
	var auth authResponse
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		return "", err
	}
	if auth.Result == "" {
		return "", errors.New("auroravision: token missing from authenticate response")
	}
	c.mu.Lock()
	c.token = auth.Result
	c.mu.Unlock()
	return auth.Result, nil
}

type timeseriesEntry struct {
	Start int64           `json:"start"`
	Value json.RawMessage `json:"value"`
	Units string          `json:"units"`
}

type timeseriesResponse struct {
	Result []timeseriesEntry `json:"result"`
}

// FetchGenerationPower fetches 15-minute average generation power samples
// for one entity over [from, to) in the vendor's local day notation. The
// returned entries are raw: decoding into a well-formed series is the
// telemetry domain's job.
func (c *Client) FetchGenerationPower(ctx context.Context, entityID string, from, to time.Time) ([]telemetry.RawEntry, error) {
	if entityID == "" {
		return nil, errors.New("auroravision: empty entity id")
	}
	zone := telemetry.VendorZone()
	path := fmt.Sprintf(
		"/v1/stats/power/timeseries/%s/GenerationPower/average?sampleSize=Min15&startDate=%s&endDate=%s&timeZone=Asia/Bangkok",
		entityID,
		from.In(zone).Format(dateLayout),
		to.In(zone).Format(dateLayout),
	)

	entries, err := c.fetchTimeseries(ctx, path)
	if errors.Is(err, errUnauthorized) {
		if _, err := c.Authenticate(ctx); err != nil {
			return nil, err
		}
		entries, err = c.fetchTimeseries(ctx, path)
		if err != nil {
			return nil, err
		}
		return entries, nil
	}
	return entries, err
}

func (c *Client) fetchTimeseries(ctx context.Context, path string) ([]telemetry.RawEntry, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token == "" {
		return nil, errUnauthorized
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(headerToken, token)
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, errUnauthorized
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("auroravision: http %d", resp.StatusCode)
	}

	var body timeseriesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	raw := make([]telemetry.RawEntry, 0, len(body.Result))
	for _, entry := range body.Result {
		raw = append(raw, telemetry.RawEntry{
			Start: entry.Start,
			Value: decodeValue(entry.Value),
			Units: entry.Units,
		})
	}
	return raw, nil
}

// decodeValue keeps the vendor's loose typing: numbers stay numbers,
// strings stay strings, and absent or null values become nil so the series
// builder can treat them as gaps.
func decodeValue(raw json.RawMessage) any {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var asFloat float64
	if err := json.Unmarshal(raw, &asFloat); err == nil {
		return asFloat
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}
	return nil
}
