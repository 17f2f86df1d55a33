// Package fetch retrieves listing and detail documents. Transient failures
// are retried with exponential backoff below the pipeline; only exhausted
// retries surface to the caller.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ErrTransient wraps network errors, timeouts and retryable status codes.
// Callers see it only after every retry attempt has been used up.
var ErrTransient = errors.New("transient fetch failure")

const defaultUserAgent = "pricewatch/1.0 (+https://github.com/pricewatch/pricewatch)"

// maxBodyBytes caps document reads; listing pages past this size are
// truncated rather than ballooning memory.
const maxBodyBytes = 8 << 20

type Options struct {
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	UserAgent      string
}

// Fetcher is a retrying document client. Several monitored sites key their
// markup and language off request headers, so every request carries the
// identifying User-Agent and a per-site Accept-Language.
type Fetcher struct {
	client         *http.Client
	maxAttempts    int
	initialBackoff time.Duration
	userAgent      string
}

func New(opts Options) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 500 * time.Millisecond
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	return &Fetcher{
		client:         &http.Client{Timeout: opts.Timeout},
		maxAttempts:    opts.MaxAttempts,
		initialBackoff: opts.InitialBackoff,
		userAgent:      opts.UserAgent,
	}
}

// Fetch retrieves one document. acceptLanguage may be empty. Non-HTML
// responses and client errors fail without retry; network errors and
// 429/5xx responses retry with doubling backoff.
func (f *Fetcher) Fetch(ctx context.Context, url, acceptLanguage string) (string, error) {
	backoff := f.initialBackoff
	var lastErr error

	for attempt := 1; attempt <= f.maxAttempts; attempt++ {
		if attempt > 1 {
			slog.Debug("Retrying fetch", "url", url, "attempt", attempt, "backoff", backoff)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		body, retryable, err := f.fetchOnce(ctx, url, acceptLanguage)
		if err == nil {
			return body, nil
		}
		if !retryable {
			return "", err
		}
		lastErr = err
	}

	return "", fmt.Errorf("%w: %s after %d attempts: %v", ErrTransient, url, f.maxAttempts, lastErr)
}

func (f *Fetcher) fetchOnce(ctx context.Context, url, acceptLanguage string) (body string, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", false, fmt.Errorf("build request for %s: %w", url, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	if acceptLanguage != "" {
		req.Header.Set("Accept-Language", acceptLanguage)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", true, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// fall through to the body read
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", true, fmt.Errorf("status %d for %s", resp.StatusCode, url)
	default:
		return "", false, fmt.Errorf("status %d for %s", resp.StatusCode, url)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !strings.Contains(strings.ToLower(contentType), "html") {
		return "", false, fmt.Errorf("unexpected content type %q for %s", contentType, url)
	}

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", true, fmt.Errorf("read body of %s: %w", url, err)
	}
	return string(bodyBytes), false, nil
}
