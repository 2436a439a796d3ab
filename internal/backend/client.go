// Package backend delivers recorded batches to the classroom ingestion API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/pbit/internal/recorder"
)

const (
	DefaultBaseURL = "http://127.0.0.1:5000/"
	BatchPath      = "classroom-device/record-ble-batch"

	HeaderDeviceName  = "X-Device-Name"
	HeaderClassroomID = "X-Classroom-ID"

	// maxErrorBody caps how much of a failed response is kept for the error message
	maxErrorBody = 512
)

// DeliveryError is returned when the backend answers with a non-2xx status
type DeliveryError struct {
	StatusCode int
	Body       string
}

func (e *DeliveryError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend rejected batch (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("backend rejected batch (status %d): %s", e.StatusCode, e.Body)
}

// Client posts batches to the ingestion endpoint. It implements recorder.Sender.
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     *logrus.Logger
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithTimeout sets the per-request timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets the logger
func WithLogger(logger *logrus.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a client for the API rooted at baseURL. Empty baseURL uses DefaultBaseURL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API base URL %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid API base URL %q: scheme must be http or https", baseURL)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}

	c := &Client{
		endpoint:   u.String() + BatchPath,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logrus.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Endpoint returns the full batch ingestion URL
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Send posts batch as a single request. Any non-2xx status is a *DeliveryError.
func (c *Client) Send(ctx context.Context, batch recorder.Batch) error {
	body, err := json.Marshal(newWireBatch(batch.Readings))
	if err != nil {
		return fmt.Errorf("failed to marshal batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	deviceName := batch.DeviceName
	if deviceName == "" {
		deviceName = recorder.DefaultDeviceName
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+batch.Token)
	req.Header.Set(HeaderDeviceName, deviceName)
	req.Header.Set(HeaderClassroomID, batch.ClassroomID)

	c.logger.WithFields(logrus.Fields{
		"endpoint": c.endpoint,
		"readings": len(batch.Readings),
		"device":   deviceName,
	}).Debug("Posting reading batch")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &DeliveryError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
