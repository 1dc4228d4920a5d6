package tui

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/zsiec/camview/internal/errors"
	"github.com/zsiec/camview/internal/player"
)

// Client talks to a camview control API.
type Client struct {
	base string
	http *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

func (c *Client) Status(ctx context.Context) (player.Stats, error) {
	var st player.Stats
	err := c.do(ctx, http.MethodGet, "/api/v1/player/status", nil, &st)
	return st, err
}

// Health returns the overall status string from /health. A down service
// answers 503 with the same body, so the status code is not checked.
func (c *Client) Health(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/health", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode health: %w", err)
	}
	return body.Status, nil
}

func (c *Client) Start(ctx context.Context, url string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/player/start", map[string]string{"url": url}, nil)
}

func (c *Client) Pause(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/v1/player/pause", nil, nil)
}

func (c *Client) Restart(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/v1/player/restart", nil, nil)
}

func (c *Client) Stop(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/v1/player/stop", nil, nil)
}

// ArtifactRef names an artifact produced by a snapshot or capture.
type ArtifactRef struct {
	Name string `json:"name"`
	Size int    `json:"size"`
	URL  string `json:"url"`
}

func (c *Client) Snapshot(ctx context.Context) (ArtifactRef, error) {
	var ref ArtifactRef
	err := c.do(ctx, http.MethodPost, "/api/v1/player/snapshot", nil, &ref)
	return ref, err
}

func (c *Client) StartCapture(ctx context.Context, d time.Duration) error {
	return c.do(ctx, http.MethodPost, "/api/v1/player/capture", map[string]float64{"duration_seconds": d.Seconds()}, nil)
}

func (c *Client) StopCapture(ctx context.Context) (ArtifactRef, error) {
	var ref ArtifactRef
	err := c.do(ctx, http.MethodDelete, "/api/v1/player/capture", nil, &ref)
	return ref, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr errors.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("%s: %s", apiErr.Error.Type, apiErr.Error.Message)
		}
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
