package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ruteri/keybox-sentinel/api"
)

// Client talks to the keybox monitor control API.
type Client struct {
	// ServerAddr is the base URL of the daemon, e.g. http://127.0.0.1:8080
	ServerAddr string

	// HTTPClient is used for requests; http.DefaultClient if nil.
	HTTPClient *http.Client
}

// NewClient creates a client for the daemon at serverAddr.
func NewClient(serverAddr string, timeout time.Duration) *Client {
	return &Client{
		ServerAddr: serverAddr,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) Status(ctx context.Context) (*api.StatusResponse, error) {
	var resp api.StatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Check runs a manual check. With wait false the daemon refuses instead of
// queueing behind a running cycle.
func (c *Client) Check(ctx context.Context, wait bool) (*api.CheckResponse, error) {
	path := "/api/check"
	if !wait {
		path += "?wait=false"
	}

	var resp api.CheckResponse
	if err := c.do(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Settings(ctx context.Context) (*api.SettingsResponse, error) {
	var resp api.SettingsResponse
	if err := c.do(ctx, http.MethodGet, "/api/settings", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) UpdateSchedule(ctx context.Context, schedule api.Schedule) (*api.SettingsResponse, error) {
	body, err := json.Marshal(schedule)
	if err != nil {
		return nil, err
	}

	var resp api.SettingsResponse
	if err := c.do(ctx, http.MethodPut, "/api/settings", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) SetEnabled(ctx context.Context, enabled bool) (*api.SettingsResponse, error) {
	path := "/api/monitoring/disable"
	if enabled {
		path = "/api/monitoring/enable"
	}

	var resp api.SettingsResponse
	if err := c.do(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.ServerAddr+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("could not request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, err := io.ReadAll(resp.Body)
		if err != nil {
			return &StatusError{StatusCode: resp.StatusCode}
		}
		return &StatusError{StatusCode: resp.StatusCode, Message: string(bytes.TrimSpace(bodyBytes))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("could not parse %s response: %w", path, err)
	}
	return nil
}

// StatusError is returned when the daemon answers with a non-200 status.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned non-200 response: %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned error %d: %s", e.StatusCode, e.Message)
}
