// Package backend is the HTTP client for the remote sync surface: named
// mutation and action endpoints, a reachability ping, and the prioritize
// action used by the classifier. Calls are single-attempt; retrying across
// passes is the coordinator's job.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/strideworks/solesync/internal/classify"
	"github.com/strideworks/solesync/internal/queue"
)

// PrioritizeAction is the backend action the classifier calls.
const PrioritizeAction = "sync:prioritize"

// Config describes the remote deployment.
type Config struct {
	BaseURL       string
	DeploymentKey string // empty disables auth (dev mode)
	DeviceID      string
	CallTimeout   time.Duration
	TokenTTL      time.Duration
}

// Client talks to the sync backend.
type Client struct {
	baseURL    string
	deviceID   string
	tokens     *tokenSource
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a backend client.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}

	var tokens *tokenSource
	if cfg.DeploymentKey != "" {
		tokens = newTokenSource([]byte(cfg.DeploymentKey), cfg.DeviceID, cfg.TokenTTL)
	}

	return &Client{
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
		deviceID: cfg.DeviceID,
		tokens:   tokens,
		httpClient: &http.Client{
			Timeout: cfg.CallTimeout,
		},
		logger: logger.With("component", "backend"),
	}
}

// Call executes one queued operation against its endpoint. The response
// payload is returned raw; callers that only care about success ignore it.
func (c *Client) Call(ctx context.Context, op *queue.Operation) (json.RawMessage, error) {
	url := fmt.Sprintf("%s/api/%s/%s", c.baseURL, op.Kind, op.Name)

	args := op.Args
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}

	body, err := c.post(ctx, url, args, op.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	return body, nil
}

// Check performs the lightweight reachability round-trip.
func (c *Client) Check(ctx context.Context) error {
	url := c.baseURL + "/api/ping"

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if err := c.authorize(req); err != nil {
		return err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("ping: http %d", resp.StatusCode)
	}

	c.logger.Debug("ping ok", "latency", time.Since(start))
	return nil
}

// Prioritize invokes the ranking action with operation metadata and client
// context. The classifier treats any error as a cue to partition locally.
func (c *Client) Prioritize(ctx context.Context, ops []classify.OpSummary, uctx classify.UserContext) (*classify.RankedIDs, error) {
	payload, err := json.Marshal(struct {
		Operations []classify.OpSummary `json:"operations"`
		Context    classify.UserContext `json:"context"`
	}{Operations: ops, Context: uctx})
	if err != nil {
		return nil, fmt.Errorf("marshal prioritize request: %w", err)
	}

	url := fmt.Sprintf("%s/api/action/%s", c.baseURL, PrioritizeAction)
	body, err := c.post(ctx, url, payload, "")
	if err != nil {
		return nil, err
	}

	var ranked classify.RankedIDs
	if err := json.Unmarshal(body, &ranked); err != nil {
		return nil, fmt.Errorf("parse prioritize response: %w", err)
	}
	return &ranked, nil
}

// post performs one JSON POST and returns the response body on 2xx.
func (c *Client) post(ctx context.Context, url string, payload []byte, idempotencyKey string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("X-Idempotency-Key", idempotencyKey)
	}
	if c.deviceID != "" {
		req.Header.Set("X-Device-Id", c.deviceID)
	}
	if err := c.authorize(req); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, trimBody(respBody))
	}
	return respBody, nil
}

// authorize attaches a device session token when auth is configured.
func (c *Client) authorize(req *http.Request) error {
	if c.tokens == nil {
		return nil
	}
	token, err := c.tokens.token()
	if err != nil {
		return fmt.Errorf("mint token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// trimBody keeps error messages readable when the backend returns a page.
func trimBody(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
