package remote

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

	"transfit/internal/config"
	"transfit/internal/domain"
	"transfit/internal/logging"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Error is a non-2xx answer from the remote store.
type Error struct {
	Table   string
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Code != "" {
		return fmt.Sprintf("remote %s: %d %s: %s", e.Table, e.Status, e.Code, msg)
	}
	return fmt.Sprintf("remote %s: %d: %s", e.Table, e.Status, msg)
}

// Temporary reports whether a later attempt may succeed.
func (e *Error) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status == http.StatusRequestTimeout || e.Status >= 500
}

// Client writes rows to a PostgREST endpoint.
type Client struct {
	baseURL string
	apiKey  string
	auth    domain.AuthProvider
	http    *http.Client
	limiter *rate.Limiter
	logger  *zerolog.Logger
}

func NewClient(cfg config.RemoteConfig, auth domain.AuthProvider, logger *zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RateLimit.RPS > 0 {
		burst := cfg.RateLimit.Burst
		if burst <= 0 {
			burst = 5
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.RPS), burst)
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		apiKey:  cfg.AnonKey,
		auth:    auth,
		http:    &http.Client{Timeout: timeout},
		limiter: limiter,
		logger:  logging.Component(logger, "remote"),
	}
}

// Upsert inserts or merges one row keyed by its id column.
func (c *Client) Upsert(ctx context.Context, table string, row map[string]any) error {
	if table == "" {
		return fmt.Errorf("table is required")
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	body, err := json.Marshal([]map[string]any{row})
	if err != nil {
		return fmt.Errorf("encode %s row: %w", table, err)
	}

	endpoint := fmt.Sprintf("%s/rest/v1/%s?%s", c.baseURL, url.PathEscape(table), url.Values{"on_conflict": {"id"}}.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "resolution=merge-duplicates,return=minimal")
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}
	token, err := c.bearer(ctx)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", table, err)
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("table", table).
		Int("status", resp.StatusCode).
		Dur("dur", time.Since(start)).
		Msg("upsert")

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return decodeError(table, resp)
}

func (c *Client) bearer(ctx context.Context) (string, error) {
	if c.auth != nil {
		session, err := c.auth.Session(ctx)
		if err != nil {
			return "", fmt.Errorf("resolve auth session: %w", err)
		}
		if session != nil && session.AccessToken != "" {
			return session.AccessToken, nil
		}
	}
	return c.apiKey, nil
}

func decodeError(table string, resp *http.Response) error {
	apiErr := &Error{Table: table, Status: resp.StatusCode}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil || len(data) == 0 {
		return apiErr
	}
	if json.Unmarshal(data, apiErr) != nil {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	apiErr.Table = table
	apiErr.Status = resp.StatusCode
	return apiErr
}
