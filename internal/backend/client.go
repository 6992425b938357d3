// ABOUTME: HTTP client for the garage data API used by the booking flow and credential checks
// ABOUTME: Adds bearer auth, request ids, per-call timeouts, rate limiting, and status metrics

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/2389/garage-assistant/internal/metrics"
)

// maxErrorBody bounds how much of an error response is kept in APIError.Message.
const maxErrorBody = 512

// Options configures a Client
type Options struct {
	BaseURL       string
	Timeout       time.Duration // per call; zero disables the extra deadline
	RatePerSecond float64       // zero disables limiting
	Burst         int
	HTTPClient    *http.Client
	Logger        *slog.Logger
}

// Client communicates with the garage data API.
type Client struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates a backend client.
func New(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *rate.Limiter
	if opts.RatePerSecond > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}

	return &Client{
		baseURL: strings.TrimSuffix(opts.BaseURL, "/"),
		client:  httpClient,
		timeout: opts.Timeout,
		limiter: limiter,
		logger:  logger.With("component", "backend"),
	}
}

// BaseURL is the API root requests are sent to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ListVehicles returns the vehicles registered to an account.
func (c *Client) ListVehicles(ctx context.Context, token, accountID string) ([]Vehicle, error) {
	var out []Vehicle
	path := "/vehicles?owner=" + url.QueryEscape(accountID)
	if err := c.getList(ctx, "vehicles", path, token, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListServices returns the service catalog.
func (c *Client) ListServices(ctx context.Context, token string) ([]Service, error) {
	var out []Service
	if err := c.getList(ctx, "services", "/services", token, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListStations returns all service stations.
func (c *Client) ListStations(ctx context.Context, token string) ([]Station, error) {
	var out []Station
	if err := c.getList(ctx, "stations", "/stations", token, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListStaff returns the full staff roster. Callers filter by station with
// FilterStaffByStation.
func (c *Client) ListStaff(ctx context.Context, token string) ([]Staff, error) {
	var out []Staff
	if err := c.getList(ctx, "staff", "/staff", token, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// WhoAmI asks the backend who owns the token. A 401/403 means the token is no
// longer accepted; see IsAuthRejection.
func (c *Client) WhoAmI(ctx context.Context, token string) (*Identity, error) {
	var out Identity
	if err := c.do(ctx, "me", http.MethodGet, "/auth/me", token, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Login exchanges email and password for backend credentials.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	var out LoginResponse
	req := LoginRequest{Email: email, Password: password}
	if err := c.do(ctx, "login", http.MethodPost, "/auth/login", "", nil, req, &out); err != nil {
		return nil, err
	}
	if out.UserID == "" || out.Token == "" {
		return nil, fmt.Errorf("login response missing user_id or token")
	}
	return &out, nil
}

// CreateAppointment submits a new appointment. The request is sent exactly
// once; the idempotency key lets the backend discard transport-level replays.
func (c *Client) CreateAppointment(ctx context.Context, token string, req AppointmentRequest) (*Appointment, error) {
	var out Appointment
	headers := map[string]string{"Idempotency-Key": uuid.NewString()}
	if err := c.do(ctx, "appointments", http.MethodPost, "/appointments", token, headers, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// getList fetches a list endpoint, accepting a bare array or a wrapped one.
func (c *Client) getList(ctx context.Context, endpoint, path, token string, out any) error {
	var raw json.RawMessage
	if err := c.do(ctx, endpoint, http.MethodGet, path, token, nil, nil, &raw); err != nil {
		return err
	}
	if err := decodeList(raw, out); err != nil {
		return fmt.Errorf("decoding %s: %w", endpoint, err)
	}
	return nil
}

// decodeList unmarshals a JSON array, or the array found under items/data/results.
func decodeList(raw json.RawMessage, out any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] == '[' {
		return json.Unmarshal(trimmed, out)
	}

	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &wrapper); err != nil {
		return err
	}
	for _, key := range []string{"items", "data", "results"} {
		if inner, ok := wrapper[key]; ok {
			return decodeList(inner, out)
		}
	}
	return fmt.Errorf("response is neither a list nor a wrapped list")
}

// do performs one request and decodes a JSON response into out.
func (c *Client) do(ctx context.Context, endpoint, method, path, token string, headers map[string]string, body, out any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s: waiting for rate limiter: %w", endpoint, err)
		}
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling %s request: %w", endpoint, err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("creating %s request: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		metrics.RecordGatewayRequest(endpoint, 0, time.Since(start))
		return fmt.Errorf("%s request failed: %w", endpoint, err)
	}
	defer resp.Body.Close()
	metrics.RecordGatewayRequest(endpoint, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.handleErrorResponse(endpoint, resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decoding %s response: %w", endpoint, err)
	}
	return nil
}

// handleErrorResponse extracts an error message from non-2xx responses.
func (c *Client) handleErrorResponse(endpoint string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	msg := strings.TrimSpace(string(body))
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var errResp struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &errResp) == nil {
			switch {
			case errResp.Error != "":
				msg = errResp.Error
			case errResp.Message != "":
				msg = errResp.Message
			}
		}
	}

	c.logger.Debug("backend error response", "endpoint", endpoint, "status", resp.StatusCode)
	return &APIError{Endpoint: endpoint, StatusCode: resp.StatusCode, Message: msg}
}
