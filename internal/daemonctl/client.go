package daemonctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"

	"folio/internal/api"
	"folio/internal/batch"
	"folio/internal/sweeper"
)

// ErrDaemonNotRunning indicates the daemon API is unreachable.
var ErrDaemonNotRunning = errors.New("daemon not running")

// Client calls the daemon's HTTP API with typed requests and responses.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// NewClient builds a client for the daemon listening on addr, for example
// "127.0.0.1:7787". The token may be empty when the API is unauthenticated.
func NewClient(addr, token string) *Client {
	base := strings.TrimSpace(addr)
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http:  &http.Client{Timeout: 60 * time.Second},
	}
}

// Status retrieves the daemon status snapshot.
func (c *Client) Status(ctx context.Context) (*api.DaemonStatus, error) {
	var resp api.DaemonStatus
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateJob enqueues a new job.
func (c *Client) CreateJob(ctx context.Context, req api.CreateJobRequest) (*api.CreateJobResponse, error) {
	var resp api.CreateJobResponse
	if err := c.do(ctx, http.MethodPost, "/api/jobs", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListJobs returns jobs, optionally filtered by statuses and book.
func (c *Client) ListJobs(ctx context.Context, statuses []string, bookID int64) (*api.JobListResponse, error) {
	values := url.Values{}
	for _, status := range statuses {
		if trimmed := strings.TrimSpace(status); trimmed != "" {
			values.Add("status", trimmed)
		}
	}
	if bookID > 0 {
		values.Set("book", strconv.FormatInt(bookID, 10))
	}
	path := "/api/jobs"
	if encoded := values.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var resp api.JobListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetJob returns one job with its batch submission details when present.
func (c *Client) GetJob(ctx context.Context, id int64) (*api.JobResponse, error) {
	var resp api.JobResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/jobs/%d", id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CancelJob cancels a job.
func (c *Client) CancelJob(ctx context.Context, id int64) (*api.JobActionResponse, error) {
	return c.jobAction(ctx, id, "cancel")
}

// PauseJob pauses a processing job.
func (c *Client) PauseJob(ctx context.Context, id int64) (*api.JobActionResponse, error) {
	return c.jobAction(ctx, id, "pause")
}

// ResumeJob requeues a paused job.
func (c *Client) ResumeJob(ctx context.Context, id int64) (*api.JobActionResponse, error) {
	return c.jobAction(ctx, id, "resume")
}

// RetryJob requeues a failed job.
func (c *Client) RetryJob(ctx context.Context, id int64) (*api.JobActionResponse, error) {
	return c.jobAction(ctx, id, "retry")
}

func (c *Client) jobAction(ctx context.Context, id int64, action string) (*api.JobActionResponse, error) {
	var resp api.JobActionResponse
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/jobs/%d/%s", id, action), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CompleteJob saves a completed batch job's results to the library.
func (c *Client) CompleteJob(ctx context.Context, id int64) (*batch.CompletionReport, error) {
	var resp batch.CompletionReport
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/jobs/%d/complete", id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RefreshJob forces a provider poll for a batch job and returns the result.
func (c *Client) RefreshJob(ctx context.Context, id int64) (*api.JobResponse, error) {
	var resp api.JobResponse
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/jobs/%d/refresh", id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Books lists all books.
func (c *Client) Books(ctx context.Context) (*api.BookListResponse, error) {
	var resp api.BookListResponse
	if err := c.do(ctx, http.MethodGet, "/api/books", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Pages lists a book's pages in reading order.
func (c *Client) Pages(ctx context.Context, bookID int64) (*api.PageListResponse, error) {
	var resp api.PageListResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/books/%d/pages", bookID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Gutter previews gutter detection for one page without modifying it.
func (c *Client) Gutter(ctx context.Context, pageID int64) (*api.GutterPreview, error) {
	var resp api.GutterPreview
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/pages/%d/gutter", pageID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ApplySplits splits the requested spread pages.
func (c *Client) ApplySplits(ctx context.Context, req api.SplitRequest) (*api.SplitResponse, error) {
	var resp api.SplitResponse
	if err := c.do(ctx, http.MethodPost, "/api/pages/split", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RevertSplits undoes earlier splits.
func (c *Client) RevertSplits(ctx context.Context, req api.RevertRequest) (*api.RevertResponse, error) {
	var resp api.RevertResponse
	if err := c.do(ctx, http.MethodPost, "/api/pages/split/revert", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Sweep runs a retention sweep pass now.
func (c *Client) Sweep(ctx context.Context) (*sweeper.Report, error) {
	var resp sweeper.Report
	if err := c.do(ctx, http.MethodPost, "/api/sweep", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SweepReport previews the next sweep without archiving anything.
func (c *Client) SweepReport(ctx context.Context) (*sweeper.Report, error) {
	var resp sweeper.Report
	if err := c.do(ctx, http.MethodGet, "/api/sweep/report", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if isConnectionRefused(err) {
			return fmt.Errorf("%w: no listener at %s", ErrDaemonNotRunning, c.base)
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// APIError is a non-2xx response from the daemon.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("daemon returned status %d", e.StatusCode)
}

func decodeAPIError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err == nil {
		_ = json.Unmarshal(data, &payload)
	}
	message := strings.TrimSpace(payload.Error)
	if message == "" {
		message = strings.TrimSpace(string(data))
	}
	return &APIError{StatusCode: resp.StatusCode, Message: message}
}

func isConnectionRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ENOENT)
}
