// Package client is the HTTP client for the vpanel management API, used by
// the vpanelctl command.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	pkgapi "github.com/vpanel/core/pkg/api"
	applogger "github.com/vpanel/core/pkg/logger"
)

// Client talks to the vpanel management API
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *applogger.Logger
}

// NewClient creates an API client for the given base URL
func NewClient(baseURL string, logger *applogger.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.WithComponent("client"),
	}
}

// APIError is a non-2xx response from the server
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// IsNotFound reports whether the error is a 404 from the API
func IsNotFound(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.StatusCode == http.StatusNotFound
}

// DeployServer submits a deployment request
func (c *Client) DeployServer(ctx context.Context, req pkgapi.DeployServerRequest) (pkgapi.DeployServerResponse, error) {
	var resp pkgapi.DeployServerResponse
	err := c.do(ctx, http.MethodPost, "/api/servers/deploy", req, &resp)
	return resp, err
}

// DeploymentStatus fetches the current snapshot of a deployment job
func (c *Client) DeploymentStatus(ctx context.Context, deploymentID string) (pkgapi.DeploymentStatusResponse, error) {
	var resp pkgapi.DeploymentStatusResponse
	err := c.do(ctx, http.MethodGet, "/api/servers/deploy/"+deploymentID+"/status", nil, &resp)
	return resp, err
}

// ListServers fetches all registered nodes
func (c *Client) ListServers(ctx context.Context) (pkgapi.ServersListResponse, error) {
	var resp pkgapi.ServersListResponse
	err := c.do(ctx, http.MethodGet, "/api/servers", nil, &resp)
	return resp, err
}

// Health checks the server's health endpoint
func (c *Client) Health(ctx context.Context) (pkgapi.HealthResponse, error) {
	var resp pkgapi.HealthResponse
	err := c.do(ctx, http.MethodGet, "/health", nil, &resp)
	return resp, err
}

// WaitResult is the outcome of waiting for a deployment
type WaitResult struct {
	Status pkgapi.DeploymentStatusResponse
	// Expired is set when the job disappeared server-side before a
	// terminal status was observed. Not an error: the server purges
	// finished jobs after a retention window.
	Expired bool
}

// WaitForDeployment polls the status endpoint until the job reaches a
// terminal status or the context expires. The server's watchdog owns the
// deployment timeout; the context here only bounds how long the caller is
// willing to watch. A 404 means the job is gone (purged or never existed)
// and ends the wait without error.
func (c *Client) WaitForDeployment(ctx context.Context, deploymentID string, pollInterval time.Duration) (WaitResult, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		status, err := c.DeploymentStatus(ctx, deploymentID)
		if err != nil {
			if IsNotFound(err) {
				return WaitResult{Expired: true}, nil
			}
			return WaitResult{}, err
		}
		if status.Status == "completed" || status.Status == "failed" {
			return WaitResult{Status: status}, nil
		}

		select {
		case <-ctx.Done():
			return WaitResult{Status: status}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if out == nil {
		out = &struct{}{}
	}
	var envelope struct {
		Success bool              `json:"success"`
		Data    json.RawMessage   `json:"data"`
		Error   *pkgapi.ErrorInfo `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("failed to decode response (status %d): %w", resp.StatusCode, err)
	}

	if !envelope.Success {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if envelope.Error != nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}

	if len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("failed to decode response data: %w", err)
		}
	}
	return nil
}
