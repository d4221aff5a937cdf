package tech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/techbridge/techbridge/pkg/log"
	"github.com/techbridge/techbridge/pkg/metrics"
)

const maxResponseLength = 4 << 20

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body any) (*http.Request, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, err
	}
	u.Path, err = url.JoinPath(u.Path, endpoint)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if endpoint != loginPath {
		c.mu.RLock()
		if c.authenticated {
			req.Header.Set("Authorization", "Bearer "+c.session.Token)
		}
		c.mu.RUnlock()
	}
	return req, nil
}

// doRequest sends req and decodes the JSON body into dest. Any status other
// than 200 is returned as an *APIError carrying the raw body.
func (c *Client) doRequest(req *http.Request, dest any) error {
	ctx := req.Context()
	log.Ctx(ctx).DebugContext(ctx, "sending tech request", slog.String("method", req.Method), slog.String("path", req.URL.Path))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveUpstream(req.Method, 0)
		return fmt.Errorf("tech %s %s failed: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	metrics.ObserveUpstream(req.Method, resp.StatusCode)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseLength))
	if err != nil {
		return fmt.Errorf("failed to read tech response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		log.Ctx(ctx).WarnContext(ctx, "invalid response from tech api", slog.Int("status", resp.StatusCode), slog.String("path", req.URL.Path))
		return &APIError{
			StatusCode: resp.StatusCode,
			Status:     string(body),
			token:      strings.TrimPrefix(req.Header.Get("Authorization"), "Bearer "),
		}
	}

	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(body, dest); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to decode tech response", slog.Any("error", err), slog.String("body", string(body)))
		return fmt.Errorf("failed to decode tech response: %w", err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, endpoint string, dest any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.doRequest(req, dest)
}

func (c *Client) post(ctx context.Context, endpoint string, body, dest any) error {
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return err
	}
	return c.doRequest(req, dest)
}
