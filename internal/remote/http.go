package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sproutlabs/sproutsync/internal/op"
)

// HTTPConfig configures an HTTPClient.
type HTTPConfig struct {
	// BaseURL is the remote store's API root, e.g. "https://api.example.com".
	BaseURL string

	// Credentials supplies the bearer token for every call. Optional.
	Credentials CredentialSource

	// Timeout bounds each request (default: 10s). A timeout is reported
	// as a transport error.
	Timeout time.Duration
}

// HTTPClient is the HTTP implementation of Deliverer and Fetcher.
//
// Wire protocol:
//
//	POST   {base}/v1/models/{model}/records/{id}   CREATE
//	PUT    {base}/v1/models/{model}/records/{id}   UPDATE
//	DELETE {base}/v1/models/{model}/records/{id}   DELETE
//	GET    {base}/v1/resources/{key}               Fetch
//
// A 409 response carries {"remote_version": <RFC3339 timestamp>} and maps
// to *ConflictError. Any 5xx, transport failure, or timeout maps to
// op.ErrTransport.
type HTTPClient struct {
	baseURL string
	creds   CredentialSource
	client  *http.Client
}

// NewHTTPClient creates a client for the remote store API.
func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL: cfg.BaseURL,
		creds:   cfg.Credentials,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

// HealthURL returns the endpoint the network monitor probes.
func (c *HTTPClient) HealthURL() string {
	return c.baseURL + "/v1/health"
}

// Deliver implements Deliverer.
func (c *HTTPClient) Deliver(ctx context.Context, rec op.Record, force bool) error {
	var method string
	switch rec.Type {
	case op.TypeCreate:
		method = http.MethodPost
	case op.TypeUpdate:
		method = http.MethodPut
	case op.TypeDelete:
		method = http.MethodDelete
	default:
		return fmt.Errorf("invalid operation type %q", rec.Type)
	}

	u := fmt.Sprintf("%s/v1/models/%s/records/%s", c.baseURL,
		url.PathEscape(rec.ModelName), url.PathEscape(rec.RecordID))

	var body io.Reader
	if rec.Type != op.TypeDelete {
		body = bytes.NewReader(rec.Payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("failed to build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Client-Timestamp", rec.EnqueuedAt.UTC().Format(time.RFC3339Nano))
	if force {
		req.Header.Set("X-Force-Write", "true")
	}
	if err := c.authorize(ctx, req); err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// Timeouts and network failures are one taxonomy entry.
		return fmt.Errorf("%w: %v", op.ErrTransport, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil

	case resp.StatusCode == http.StatusConflict:
		return parseConflict(resp.Body)

	default:
		return fmt.Errorf("%w: remote returned %s", op.ErrTransport, resp.Status)
	}
}

// Fetch implements Fetcher.
func (c *HTTPClient) Fetch(ctx context.Context, resourceKey string) ([]byte, error) {
	u := c.baseURL + "/v1/resources/" + url.PathEscape(resourceKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build fetch request: %w", err)
	}
	if err := c.authorize(ctx, req); err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", op.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: remote returned %s", op.ErrTransport, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", op.ErrTransport, err)
	}
	return data, nil
}

func (c *HTTPClient) authorize(ctx context.Context, req *http.Request) error {
	if c.creds == nil {
		return nil
	}
	token, err := c.creds.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to obtain credential: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return nil
}

// parseConflict extracts the remote version from a 409 body.
func parseConflict(body io.Reader) error {
	var payload struct {
		RemoteVersion time.Time `json:"remote_version"`
	}
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		// A 409 without a parseable version still resolves; the zero
		// remote timestamp loses every last-write-wins comparison.
		return &ConflictError{}
	}
	return &ConflictError{RemoteVersion: payload.RemoteVersion}
}
