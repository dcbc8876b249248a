// Package comfy implements the HTTP job protocol of the remote generative-media
// service: submit a graph, poll its history, download stored outputs.
package comfy

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

	"github.com/google/uuid"

	"comfyrun/internal/artifacts"
	"comfyrun/pkg/models"
)

const (
	DefaultBaseURL      = "http://127.0.0.1:8188"
	DefaultTimeout      = 60 * time.Second
	DefaultPollInterval = 500 * time.Millisecond
	DefaultMaxWait      = 600 * time.Second

	// maxErrorBody bounds how much of an error response is kept for diagnostics.
	maxErrorBody = 512
)

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options configures a Client. Zero values fall back to the defaults above.
type Options struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration

	// HTTPClient overrides the transport; Timeout is ignored when set.
	HTTPClient *http.Client
	Logger     Logger

	// DownloadConcurrency bounds parallel history downloads during extraction.
	DownloadConcurrency int
}

// Client talks to one remote service instance. It holds no per-job state; one
// job in flight per client is the expected usage.
type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client
	logger   Logger
	extract  *artifacts.Extractor
}

// Job is the transient state of one submission.
type Job struct {
	PromptID  string
	ClientID  string
	StartedAt time.Time
}

// HistoryEntry is the completed section of a job's history.
type HistoryEntry struct {
	Outputs map[string]interface{} `json:"outputs"`
	UI      map[string]interface{} `json:"ui"`
}

// Result is what Run hands back to callers.
type Result struct {
	PromptID  string                 `json:"prompt_id"`
	Outputs   map[string]interface{} `json:"outputs"`
	Artifacts []models.Artifact      `json:"artifacts"`
}

// NewClient creates a new Client.
func NewClient(opts Options) *Client {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = nopLogger{}
	}

	c := &Client{
		baseURL:  base,
		username: opts.Username,
		password: opts.Password,
		http:     hc,
		logger:   logger,
	}
	c.extract = artifacts.NewExtractor(c,
		artifacts.WithLogger(logger),
		artifacts.WithConcurrency(opts.DownloadConcurrency),
	)
	return c
}

// BaseURL returns the normalized service address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Submit posts the graph with a fresh client correlation id.
func (c *Client) Submit(ctx context.Context, g models.Graph) (*Job, error) {
	job := &Job{ClientID: uuid.New().String()}

	requestBody, err := json.Marshal(map[string]interface{}{
		"prompt":    g,
		"client_id": job.ClientID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/prompt", nil, bytes.NewReader(requestBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "submit", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: "submit", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{Op: "submit", Err: &StatusError{StatusCode: resp.StatusCode, Body: truncate(body)}}
	}

	var data struct {
		PromptID string `json:"prompt_id"`
	}
	if err := json.Unmarshal(body, &data); err != nil || data.PromptID == "" {
		return nil, &SubmissionError{Body: truncate(body)}
	}

	job.PromptID = data.PromptID
	job.StartedAt = time.Now()
	c.logger.Info("job submitted", "prompt_id", job.PromptID, "client_id", job.ClientID)
	return job, nil
}

// AwaitCompletion polls the job history every pollInterval until the entry
// carries an outputs section. Non-200 responses and incomplete bodies count
// as not ready; only transport failures end the loop early. A non-positive
// maxWait polls without limit.
func (c *Client) AwaitCompletion(ctx context.Context, promptID string, pollInterval, maxWait time.Duration) (*HistoryEntry, error) {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	start := time.Now()
	attempt := 0

	for {
		attempt++
		entry, err := c.pollOnce(ctx, promptID)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			c.logger.Debug("job completed", "prompt_id", promptID, "attempts", attempt, "elapsed", time.Since(start))
			return entry, nil
		}

		if waited := time.Since(start); maxWait > 0 && waited > maxWait {
			return nil, &TimeoutError{PromptID: promptID, Waited: waited}
		}

		timer := time.NewTimer(pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Client) pollOnce(ctx context.Context, promptID string) (*HistoryEntry, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/history/"+url.PathEscape(promptID), nil, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "poll", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		c.logger.Debug("history not ready", "prompt_id", promptID, "status", resp.StatusCode)
		return nil, nil
	}

	var history map[string]*struct {
		Outputs map[string]interface{} `json:"outputs"`
		UI      map[string]interface{} `json:"ui"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		c.logger.Debug("history body not decodable", "prompt_id", promptID, "error", err)
		return nil, nil
	}

	entry, ok := history[promptID]
	if !ok || entry == nil || entry.Outputs == nil {
		return nil, nil
	}
	return &HistoryEntry{Outputs: entry.Outputs, UI: entry.UI}, nil
}

// Download fetches the raw bytes of a stored output file.
func (c *Client) Download(ctx context.Context, filename, subfolder, fileType string) ([]byte, error) {
	if fileType == "" {
		fileType = "output"
	}
	query := url.Values{}
	query.Set("filename", filename)
	query.Set("subfolder", subfolder)
	query.Set("type", fileType)

	req, err := c.newRequest(ctx, http.MethodGet, "/view", query, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "download", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &TransportError{Op: "download", Err: &StatusError{StatusCode: resp.StatusCode, Body: string(body)}}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: "download", Err: err}
	}
	return raw, nil
}

// Run submits the graph, waits for completion and extracts artifacts. It
// blocks for the whole job and is meant to run off the presentation loop.
// When a failure happens after submission the returned Result still carries
// the prompt id.
func (c *Client) Run(ctx context.Context, g models.Graph, pollInterval, maxWait time.Duration) (*Result, error) {
	job, err := c.Submit(ctx, g)
	if err != nil {
		return nil, err
	}

	entry, err := c.AwaitCompletion(ctx, job.PromptID, pollInterval, maxWait)
	if err != nil {
		return &Result{PromptID: job.PromptID}, err
	}

	arts, err := c.extract.Extract(ctx, entry.Outputs, entry.UI, g)
	if err != nil {
		return &Result{PromptID: job.PromptID, Outputs: entry.Outputs}, err
	}

	c.logger.Info("job finished", "prompt_id", job.PromptID, "artifacts", len(arts), "elapsed", time.Since(job.StartedAt))
	return &Result{PromptID: job.PromptID, Outputs: entry.Outputs, Artifacts: arts}, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.username != "" || c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	return req, nil
}

func truncate(body []byte) string {
	if len(body) > maxErrorBody {
		return string(body[:maxErrorBody]) + "..."
	}
	return string(body)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
