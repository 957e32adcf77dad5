package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// RequestIDHeader carries the per-request id the server echoes and logs.
const RequestIDHeader = "X-Request-Id"

const maxBody = 1 << 20

// client issues probe requests against one server.
type client struct {
	http   *http.Client
	base   string
	header string
	tenant string
	runID  string
}

func newClient(cfg *Config, tenant, runID string) *client {
	return &client{
		http:   &http.Client{Timeout: cfg.Timeout},
		base:   cfg.BaseURL,
		header: cfg.TenantHeader,
		tenant: tenant,
		runID:  runID,
	}
}

// answer is one decoded server response.
type answer struct {
	status    int
	requestID string
	body      map[string]json.RawMessage
	latency   time.Duration
}

func (c *client) do(ctx context.Context, method, path string, body any) (answer, error) {
	var rd io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return answer{}, fmt.Errorf("failed to marshal request body: %w", err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return answer{}, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	id := c.runID + "-" + uuid.NewString()[:8]
	req.Header.Set(RequestIDHeader, id)
	if c.tenant != "" && c.header != "" {
		req.Header.Set(c.header, c.tenant)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return answer{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return answer{}, fmt.Errorf("failed to read response: %w", err)
	}
	a := answer{status: resp.StatusCode, requestID: id, latency: time.Since(start)}
	if echoed := resp.Header.Get(RequestIDHeader); echoed != "" {
		a.requestID = echoed
	}
	if err := json.Unmarshal(raw, &a.body); err != nil {
		return a, fmt.Errorf("failed to decode response: %w", err)
	}
	return a, nil
}

func (c *client) point(ctx context.Context, p PointCase) (answer, error) {
	v := url.Values{"pos": {p.Pos}}
	if p.CRS != "" {
		v.Set("crs", p.CRS)
	}
	return c.do(ctx, http.MethodGet, "/getelevation?"+v.Encode(), nil)
}

func (c *client) profile(ctx context.Context, p ProfileCase) (answer, error) {
	return c.do(ctx, http.MethodPost, "/getheightprofile", map[string]any{
		"coordinates": p.Coordinates,
		"distances":   p.Distances,
		"projection":  p.Projection,
		"samples":     p.Samples,
	})
}

func (c *client) health(ctx context.Context) error {
	a, err := c.do(ctx, http.MethodGet, "/healthz", nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnhealthy, err)
	}
	if a.status != http.StatusOK {
		var cause string
		_ = json.Unmarshal(a.body["cause"], &cause)
		return fmt.Errorf("%w: status %d: %s", ErrUnhealthy, a.status, cause)
	}
	return nil
}

// within reports whether got is expect give or take tol.
func within(got, expect, tol float64) bool {
	return math.Abs(got-expect) <= tol
}
