// Package metaapi looks up match metadata and seated players over HTTP.
package metaapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/park285/Cheese-LiveMatch/pkg/matchdto"
	"github.com/valyala/fasthttp"
)

var (
	ErrNotFound  = errors.New("match not found")
	ErrNotSeated = errors.New("local player is not seated in this match")
)

// HeaderProvider allows injecting per-request headers
type HeaderProvider func() map[string]string

// StatusError is a non-2xx response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("match api error: status=%d body=%s", e.Status, e.Body)
}

type Client struct {
	baseURL string
	http    *fasthttp.Client
	headers HeaderProvider

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithMaxConnsPerHost(n int) Option {
	return func(c *Client) { c.http.MaxConnsPerHost = n }
}

func WithHeaderProvider(h HeaderProvider) Option {
	return func(c *Client) { c.headers = h }
}

// WithBearer sends a fixed bearer token on every request.
func WithBearer(token string) Option {
	token = strings.TrimSpace(token)
	return func(c *Client) {
		if token == "" {
			return
		}
		c.headers = func() map[string]string { return map[string]string{"Authorization": "Bearer " + token} }
	}
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) GetMatch(ctx context.Context, matchID string) (*matchdto.MatchInfo, error) {
	var info matchdto.MatchInfo
	if err := c.getJSON(ctx, "/games/"+url.PathEscape(matchID), &info); err != nil {
		return nil, err
	}
	if info.ID == "" {
		info.ID = matchID
	}
	return &info, nil
}

func (c *Client) GetPlayers(ctx context.Context, matchID string) (*matchdto.Players, error) {
	var players matchdto.Players
	if err := c.getJSON(ctx, "/games/"+url.PathEscape(matchID)+"/players", &players); err != nil {
		return nil, err
	}
	return &players, nil
}

// Ping checks that the API answers at all.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, fasthttp.MethodGet, "/health", nil, false)
}

// ResolveAssignment binds localPlayerID to its seat once both identities are known.
func ResolveAssignment(players *matchdto.Players, localPlayerID string) (matchdto.PlayerAssignment, error) {
	localPlayerID = strings.TrimSpace(localPlayerID)
	if players == nil || localPlayerID == "" {
		return matchdto.PlayerAssignment{}, ErrNotSeated
	}
	w, b := players.WhitePlayer, players.BlackPlayer
	switch {
	case w != nil && w.ID == localPlayerID:
		a := matchdto.PlayerAssignment{LocalPlayerID: localPlayerID, LocalSide: matchdto.White, LocalUsername: w.Username}
		if b != nil {
			a.OpponentID, a.OpponentUsername = b.ID, b.Username
		}
		return a, nil
	case b != nil && b.ID == localPlayerID:
		a := matchdto.PlayerAssignment{LocalPlayerID: localPlayerID, LocalSide: matchdto.Black, LocalUsername: b.Username}
		if w != nil {
			a.OpponentID, a.OpponentUsername = w.ID, w.Username
		}
		return a, nil
	}
	return matchdto.PlayerAssignment{}, ErrNotSeated
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	err := c.do(ctx, fasthttp.MethodGet, path, out, true)
	var se *StatusError
	if errors.As(err, &se) && se.Status == fasthttp.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path string, out any, retry bool) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	req.Header.Set("Accept", "application/json")

	if c.headers != nil {
		for k, v := range c.headers() {
			if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
				req.Header.Set(k, v)
			}
		}
	}

	attempts := 1
	if retry && c.retryMax > 0 {
		attempts = c.retryMax
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			if attempt == attempts {
				return lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		status := resp.StatusCode()
		if status < 200 || status >= 300 {
			lastErr = &StatusError{Status: status, Body: truncate(string(resp.Body()), 512)}
			if attempt == attempts || !shouldRetryStatus(status) {
				return lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		if out != nil {
			if err := json.Unmarshal(resp.Body(), out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	}

	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return lastErr
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond // 100ms, 200ms ...
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
