// Package backend is the HTTP transport shared by the recognition and synthesis
// inference servers. Both expose the same model-loading and error contract.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// API endpoints and paths.
const (
	apiLoadModel = "/v1/models/load"
	apiHealth    = "/health"
)

// HTTP headers.
const (
	HeaderContentType = "Content-Type"
	HeaderAccept      = "Accept"
	ContentTypeJSON   = "application/json"
)

// Error messages.
const (
	errFmtServiceErrorWithCode = "%w: %s: %s (code: %s)"
	errFmtServiceNonOKStatus   = "%w: %s, body: %s"
	errFmtSendRequest          = "failed to send request to %s: %w"
)

// Static errors.
var (
	ErrBackendStatus = errors.New("backend returned non-OK status")
	ErrEmptyModelID  = errors.New("backend returned an empty model id")
	ErrEmptyBaseURL  = errors.New("backend base URL cannot be empty")
)

// ErrorResponse is the structured error body of an inference server.
type ErrorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

type loadResponse struct {
	ModelID string `json:"model_id"`
}

// Client talks to one inference server.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a client for the server at baseURL (e.g. "http://localhost:8001").
// The timeout applies to every request, including model loads.
func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, ErrEmptyBaseURL
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// BaseURL returns the server address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// LoadModel asks the server to load a model and returns the id it is served under.
func (c *Client) LoadModel(ctx context.Context, request any) (string, error) {
	resp, err := c.PostJSON(ctx, apiLoadModel, request, ContentTypeJSON)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var loaded loadResponse

	decodeErr := json.NewDecoder(resp.Body).Decode(&loaded)
	if decodeErr != nil {
		return "", fmt.Errorf("failed to decode load response: %w", decodeErr)
	}

	if loaded.ModelID == "" {
		return "", ErrEmptyModelID
	}

	return loaded.ModelID, nil
}

// PostJSON sends payload as JSON to path. Non-OK responses are turned into errors;
// on success the caller owns the response body.
func (c *Client) PostJSON(ctx context.Context, path string, payload any, accept string) (*http.Response, error) {
	requestBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(HeaderContentType, ContentTypeJSON)
	httpReq.Header.Set(HeaderAccept, accept)

	return c.Do(httpReq)
}

// Post sends an already encoded body to path.
func (c *Client) Post(ctx context.Context, path, contentType string, body io.Reader) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(HeaderContentType, contentType)
	httpReq.Header.Set(HeaderAccept, ContentTypeJSON)

	return c.Do(httpReq)
}

// Do executes req and converts non-OK statuses into errors.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf(errFmtSendRequest, c.baseURL, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()

		return nil, parseErrorResponse(resp)
	}

	return resp, nil
}

// HealthCheck verifies that the server is running.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for %s: %w", c.baseURL, err)
	}

	return resp.Body.Close()
}

// parseErrorResponse decodes a structured JSON error, falling back to the raw body.
func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errorResp ErrorResponse

	err := json.Unmarshal(body, &errorResp)
	if err == nil && errorResp.Detail != "" {
		return fmt.Errorf(errFmtServiceErrorWithCode, ErrBackendStatus, resp.Status, errorResp.Detail, errorResp.ErrorCode)
	}

	return fmt.Errorf(errFmtServiceNonOKStatus, ErrBackendStatus, resp.Status, string(body))
}
