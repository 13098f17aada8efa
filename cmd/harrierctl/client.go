package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/opensource-finance/harrier/internal/api"
	"github.com/opensource-finance/harrier/internal/domain"
)

// rulesListing mirrors the GET /rules response.
type rulesListing struct {
	Active      []string             `json:"active"`
	Expressions []*domain.RuleConfig `json:"expressions"`
	Count       int                  `json:"count"`
}

// client talks to a running harrier server.
type client struct {
	baseURL string
	http    *http.Client
}

func newClient(baseURL string, timeout time.Duration) *client {
	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *client) health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *client) submitBatch(ctx context.Context, req api.BatchRequest) (*api.BatchResponse, error) {
	var resp api.BatchResponse
	if err := c.do(ctx, http.MethodPost, "/batches", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *client) listRules(ctx context.Context) (*rulesListing, error) {
	var resp rulesListing
	if err := c.do(ctx, http.MethodGet, "/rules", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *client) createRule(ctx context.Context, req api.CreateRuleRequest) (*domain.RuleConfig, error) {
	var resp domain.RuleConfig
	if err := c.do(ctx, http.MethodPost, "/rules", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *client) reloadRules(ctx context.Context) (map[string]any, error) {
	var resp map[string]any
	if err := c.do(ctx, http.MethodPost, "/rules/reload", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, e.Error)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}
