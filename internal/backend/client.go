// Package backend is the REST client for the analysis backend: it submits
// jobs and hands back the job id used to open the event subscription. The
// core never performs the analysis itself.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/partlab/partscope/internal/session"
)

const defaultTimeout = 15 * time.Second

// Config captures connection parameters for the analysis backend.
type Config struct {
	// BaseURL is the backend root, e.g. "https://api.partlab.example".
	BaseURL string
	// APIKey, when set, is sent as the X-API-Key header.
	APIKey string
	// Timeout bounds each submission call (default 15s).
	Timeout time.Duration
}

// Client submits analysis jobs. It implements session.Submitter.
type Client struct {
	cfg  Config
	http *http.Client
}

// New constructs a Client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("backend base url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type submitResponse struct {
	JobID string `json:"job_id"`
	Error string `json:"error"`
}

// Submit posts the job input and returns the backend-assigned job id.
// Client-side validation runs first so obviously bad input never leaves the
// process.
func (c *Client) Submit(ctx context.Context, input session.JobInput) (string, error) {
	if err := input.Validate(); err != nil {
		return "", err
	}
	body, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("encode job input: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/analyses", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("submit analysis: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read submit response: %w", err)
	}
	var decoded submitResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return "", fmt.Errorf("decode submit response (status %d): %w", resp.StatusCode, err)
	}

	switch {
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return "", fmt.Errorf("%w: %s", session.ErrInvalidInput, decoded.Error)
	case resp.StatusCode >= 300:
		return "", fmt.Errorf("submit analysis: backend returned %d: %s", resp.StatusCode, decoded.Error)
	case decoded.JobID == "":
		return "", fmt.Errorf("submit analysis: backend returned no job id")
	}
	return decoded.JobID, nil
}
