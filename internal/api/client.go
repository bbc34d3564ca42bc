package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/servalsync/internal/feed"
)

// Client is the daemon's list API. Interface for testability.
type Client interface {
	ListMessages(ctx context.Context, id, after string) (*MessageList, error)
	ListMessagesSince(ctx context.Context, id, token string) (*MessageList, error)
	ListBundles(ctx context.Context, after string) (*BundleList, error)
	ListBundlesSince(ctx context.Context, token string) (*BundleList, error)
}

type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	username   string
	password   string
	limiter    *rate.Limiter
	retryCount int
	retryDelay time.Duration
	logger     *zap.Logger
}

// Compile-time interface verification
var _ Client = (*HTTPClient)(nil)

func NewClient(baseURL, username, password string, ratePerSec int, retryDelay time.Duration, retryCount int, logger *zap.Logger) *HTTPClient {
	transport := &http.Transport{
		MaxIdleConns:       100,
		MaxConnsPerHost:    10,
		IdleConnTimeout:    90 * time.Second,
		DisableCompression: false,
	}

	if ratePerSec < 1 {
		ratePerSec = 1
	}

	// Request deadlines come from the caller's context; future queries long-poll.
	return &HTTPClient{
		httpClient: &http.Client{Transport: transport},
		baseURL:    baseURL,
		username:   username,
		password:   password,
		limiter:    rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec*2),
		retryCount: retryCount,
		retryDelay: retryDelay,
		logger:     logger,
	}
}

func (c *HTTPClient) ListMessages(ctx context.Context, id, after string) (*MessageList, error) {
	path := fmt.Sprintf("/restful/meshmb/%s/messagelist.json", url.PathEscape(id))
	return c.messages(ctx, withAfter(path, after), false)
}

func (c *HTTPClient) ListMessagesSince(ctx context.Context, id, token string) (*MessageList, error) {
	path := fmt.Sprintf("/restful/meshmb/%s/messagelist.json", url.PathEscape(id))
	if token != "" {
		path = fmt.Sprintf("/restful/meshmb/%s/newsince/%s/messagelist.json", url.PathEscape(id), url.PathEscape(token))
	}
	return c.messages(ctx, path, token != "")
}

func (c *HTTPClient) ListBundles(ctx context.Context, after string) (*BundleList, error) {
	return c.bundles(ctx, withAfter("/restful/rhizome/bundlelist.json", after), false)
}

func (c *HTTPClient) ListBundlesSince(ctx context.Context, token string) (*BundleList, error) {
	path := "/restful/rhizome/bundlelist.json"
	if token != "" {
		path = fmt.Sprintf("/restful/rhizome/newsince/%s/bundlelist.json", url.PathEscape(token))
	}
	return c.bundles(ctx, path, token != "")
}

func withAfter(path, after string) string {
	if after == "" {
		return path
	}
	return path + "?after=" + url.QueryEscape(after)
}

func (c *HTTPClient) messages(ctx context.Context, path string, since bool) (*MessageList, error) {
	t, err := c.getTable(ctx, path, since)
	if err != nil {
		return nil, err
	}
	if err := t.require("token", "offset"); err != nil {
		return nil, err
	}

	list := &MessageList{
		Name:     t.name(),
		HasMore:  t.HasMore,
		Messages: make([]Message, 0, len(t.Rows)),
	}
	for _, row := range t.Rows {
		var m Message
		var errs []error
		m.Token, err = t.str(row, "token")
		errs = append(errs, err)
		m.Offset, err = t.int64(row, "offset")
		errs = append(errs, err)
		m.Author, err = t.str(row, "author")
		errs = append(errs, err)
		m.Text, err = t.str(row, "text")
		errs = append(errs, err)
		m.Timestamp, err = t.int64(row, "timestamp")
		errs = append(errs, err)
		if err := errors.Join(errs...); err != nil {
			return nil, err
		}
		list.Messages = append(list.Messages, m)
	}
	return list, nil
}

func (c *HTTPClient) bundles(ctx context.Context, path string, since bool) (*BundleList, error) {
	t, err := c.getTable(ctx, path, since)
	if err != nil {
		return nil, err
	}
	if err := t.require("token", "id", "version"); err != nil {
		return nil, err
	}

	list := &BundleList{
		HasMore: t.HasMore,
		Bundles: make([]Bundle, 0, len(t.Rows)),
	}
	for _, row := range t.Rows {
		var b Bundle
		var errs []error
		b.Token, err = t.str(row, "token")
		errs = append(errs, err)
		b.ID, err = t.str(row, "id")
		errs = append(errs, err)
		b.Version, err = t.int64(row, "version")
		errs = append(errs, err)
		b.Service, err = t.str(row, "service")
		errs = append(errs, err)
		b.Name, err = t.str(row, "name")
		errs = append(errs, err)
		b.Sender, err = t.str(row, "sender")
		errs = append(errs, err)
		b.Author, err = t.str(row, "author")
		errs = append(errs, err)
		b.Date, err = t.int64(row, "date")
		errs = append(errs, err)
		b.FileSize, err = t.int64(row, "filesize")
		errs = append(errs, err)
		b.Deleted, err = t.bool(row, "deleted")
		errs = append(errs, err)
		if err := errors.Join(errs...); err != nil {
			return nil, err
		}
		list.Bundles = append(list.Bundles, b)
	}
	return list, nil
}

// getTable performs a GET with rate limiting and retries. since marks
// newsince queries, where 404 and 410 mean the token is no longer known.
func (c *HTTPClient) getTable(ctx context.Context, path string, since bool) (*table, error) {
	// Wait for rate limiter
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limiter: %w", feed.ErrTransport, err)
	}

	reqURL := c.baseURL + path
	c.logger.Debug("requesting", zap.String("url", reqURL))

	var lastErr error
	for attempt := 0; attempt <= c.retryCount; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay * time.Duration(1<<(attempt-1)) // Exponential backoff
			c.logger.Debug("retrying request", zap.Int("attempt", attempt), zap.Duration("delay", delay))

			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %w", feed.ErrTransport, ctx.Err())
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: creating request: %v", feed.ErrProtocol, err)
		}

		req.SetBasicAuth(c.username, c.password)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("%w: %w", feed.ErrTransport, err)
			if ctx.Err() != nil {
				return nil, lastErr
			}
			continue
		}

		// Read body before closing for error messages
		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		if readErr != nil {
			lastErr = fmt.Errorf("%w: reading body: %w", feed.ErrTransport, readErr)
			if ctx.Err() != nil {
				return nil, lastErr
			}
			continue
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return nil, ErrAuthFailed
		case since && (resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone):
			return nil, feed.ErrStaleToken
		case resp.StatusCode == http.StatusNotFound:
			return nil, ErrNotFound
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = ErrRateLimited
			continue
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("%w: server error: %d", feed.ErrTransport, resp.StatusCode)
			continue
		case resp.StatusCode != http.StatusOK:
			return nil, fmt.Errorf("%w: unexpected status %d: %s", feed.ErrProtocol, resp.StatusCode, string(body))
		}

		return decodeTable(body)
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
