package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultFieldName = "file"
	defaultUserAgent = "voicecap/1.0"
	maxErrorBody     = 4096
)

// Client uploads WAV recordings to the transcription endpoint. It performs
// exactly one attempt per call and never retries.
type Client struct {
	config     Config
	httpClient *http.Client

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	activeRequests  int
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// Config contains transcription client configuration
type Config struct {
	Endpoint  string
	Token     string        // Optional bearer token
	Timeout   time.Duration // Zero means no client-side timeout
	FieldName string        // Multipart file field, "file" by default
	UserAgent string
}

// Response represents the JSON body returned by the transcription API
type Response struct {
	Results []Result `json:"results"`
}

// Result is one transcription alternative
type Result struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Transcript returns the text of the first result. ok is false when the
// service returned no results, which is not an error.
func (r *Response) Transcript() (text string, ok bool) {
	if r == nil || len(r.Results) == 0 {
		return "", false
	}
	return r.Results[0].Transcript, true
}

// FailedError reports an upload that did not produce a usable response.
// StatusCode is zero when the request never got an HTTP response.
type FailedError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *FailedError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("transcription failed: HTTP %d: %v", e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("transcription failed: HTTP %d: %s", e.StatusCode, e.Body)
	default:
		return fmt.Sprintf("transcription failed: %v", e.Err)
	}
}

func (e *FailedError) Unwrap() error { return e.Err }

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
}

// NewClient creates a new transcription HTTP client
func NewClient(config Config) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Timeout < 0 {
		return nil, fmt.Errorf("timeout cannot be negative, got %v", config.Timeout)
	}

	if config.FieldName == "" {
		config.FieldName = defaultFieldName
	}

	if config.UserAgent == "" {
		config.UserAgent = defaultUserAgent
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
	}, nil
}

// Transcribe uploads one WAV container and decodes the response. Any
// transport, HTTP or decoding failure is returned as *FailedError.
func (c *Client) Transcribe(ctx context.Context, wavData []byte) (*Response, error) {
	startTime := time.Now()
	c.beginRequest()

	resp, err := c.doRequest(ctx, wavData)
	c.endRequest(err == nil, time.Since(startTime))

	return resp, err
}

// doRequest performs a single HTTP request to the transcription API
func (c *Client) doRequest(ctx context.Context, wavData []byte) (*Response, error) {
	requestID := uuid.NewString()

	body, contentType, err := c.createMultipartRequest(requestID, wavData)
	if err != nil {
		return nil, &FailedError{Err: fmt.Errorf("failed to create multipart request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, body)
	if err != nil {
		return nil, &FailedError{Err: fmt.Errorf("failed to create HTTP request: %w", err)}
	}

	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.config.UserAgent)
	httpReq.Header.Set("X-Request-ID", requestID)
	if c.config.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &FailedError{Err: fmt.Errorf("HTTP request failed: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FailedError{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FailedError{StatusCode: resp.StatusCode, Body: truncate(respBody)}
	}

	var transcriptionResp Response
	if err := json.Unmarshal(respBody, &transcriptionResp); err != nil {
		return nil, &FailedError{
			StatusCode: resp.StatusCode,
			Body:       truncate(respBody),
			Err:        fmt.Errorf("failed to parse response JSON: %w", err),
		}
	}

	return &transcriptionResp, nil
}

// createMultipartRequest creates a multipart/form-data body with a single file field
func (c *Client) createMultipartRequest(requestID string, wavData []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile(c.config.FieldName, requestID+".wav")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := fileWriter.Write(wavData); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

func truncate(body []byte) string {
	if len(body) > maxErrorBody {
		return string(body[:maxErrorBody])
	}
	return string(body)
}

// Statistics methods
func (c *Client) beginRequest() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
	c.activeRequests++
}

func (c *Client) endRequest(success bool, responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.activeRequests--
	if !success {
		c.failedRequests++
		return
	}

	c.successRequests++

	// Simple moving average
	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		AvgResponseTime: c.avgResponseTime,
		ActiveRequests:  c.activeRequests,
	}
}

// Endpoint returns the configured upload URL
func (c *Client) Endpoint() string {
	return c.config.Endpoint
}

// Close releases idle connections held by the client
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
