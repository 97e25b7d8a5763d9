package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"
)

var (
	errBackendNotReady = errors.New("diagnostics backend not ready")
	errBackendStatus   = errors.New("diagnostics backend returned error status")
)

// Client talks JSON-over-HTTP to the diagnostics backend that provides
// retrieval, entity extraction and topology lookup.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// ClientConfig holds configuration for the diagnostics backend client.
type ClientConfig struct {
	Address        string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

// DefaultClientConfig returns default configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Address:        getEnv("DIAGNOSTICS_ADDR", "http://localhost:8600"),
		ConnectTimeout: 5 * time.Second,
		RequestTimeout: 30 * time.Second,
	}
}

// NewClient creates a client and verifies the backend is reachable so bad
// endpoints fail at startup rather than mid-run.
func NewClient(addr string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg := DefaultClientConfig()
	if addr != "" {
		cfg.Address = addr
	}

	c := &Client{
		baseURL: cfg.Address,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		logger:  logger,
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := c.ping(connectCtx); err != nil {
		return nil, fmt.Errorf("diagnostics backend at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to diagnostics backend", "address", cfg.Address)
	return c, nil
}

func (c *Client) ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer drainAndClose(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", errBackendNotReady, resp.StatusCode)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned %d", errBackendStatus, path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// Search implements Retrieval.
func (c *Client) Search(ctx context.Context, query string, filters SearchFilters, limit int) (*SearchResult, error) {
	req := struct {
		Query   string        `json:"query"`
		Filters SearchFilters `json:"filters"`
		Limit   int           `json:"limit"`
	}{query, filters, limit}

	var out SearchResult
	if err := c.post(ctx, "/v1/search", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Extract implements EntityExtractor.
func (c *Client) Extract(ctx context.Context, text string) ([]Entity, error) {
	req := struct {
		Text string `json:"text"`
	}{text}

	var out struct {
		Entities []Entity `json:"entities"`
	}
	if err := c.post(ctx, "/v1/extract", req, &out); err != nil {
		return nil, err
	}
	return out.Entities, nil
}

// Lookup implements Topology.
func (c *Client) Lookup(ctx context.Context, serviceNames []string) (*TopologyResult, error) {
	req := struct {
		Services []string `json:"services"`
	}{serviceNames}

	var out TopologyResult
	if err := c.post(ctx, "/v1/topology", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

var (
	_ Retrieval       = (*Client)(nil)
	_ EntityExtractor = (*Client)(nil)
	_ Topology        = (*Client)(nil)
)

// GenerationClient is an HTTP client for the optional completion backend.
type GenerationClient struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewGenerationClient creates a completion backend client. No readiness
// probe is made: the backend is optional and agents tolerate its absence.
func NewGenerationClient(addr string, logger *slog.Logger) *GenerationClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &GenerationClient{
		baseURL: addr,
		http:    &http.Client{Timeout: 60 * time.Second},
		logger:  logger,
	}
}

// Complete implements Generation.
func (g *GenerationClient) Complete(ctx context.Context, prompt string, params GenParams) (string, error) {
	req := struct {
		Prompt string    `json:"prompt"`
		Params GenParams `json:"params"`
	}{prompt, params}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode completion request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/complete", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: completion returned %d", errBackendStatus, resp.StatusCode)
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	return out.Text, nil
}

var _ Generation = (*GenerationClient)(nil)

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	if err := body.Close(); err != nil {
		slog.Debug("failed to close response body", "error", err)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
