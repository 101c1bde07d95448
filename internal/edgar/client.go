// Package edgar talks to SEC EDGAR: the browse-edgar company search,
// the submissions API, and the filing archives.
//
// No API key required. SEC fair-access policy requires a User-Agent of
// the form "Company (email)" and caps traffic at 10 requests/second
// per user-agent; every request in this package goes through one
// shared rate limiter kept below that ceiling.
// Docs: https://www.sec.gov/os/accessing-edgar-data
package edgar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/seenimoa/openedgar/internal/infra"
)

const (
	// EDGAR endpoints.
	defaultArchivesURL    = "https://www.sec.gov/Archives/edgar/data"
	defaultSubmissionsURL = "https://data.sec.gov/submissions"
	defaultTickersURL     = "https://www.sec.gov/files/company_tickers.json"
	defaultBrowseURL      = "https://www.sec.gov/cgi-bin/browse-edgar"

	// maxBackoff caps the exponential retry delay.
	maxBackoff = 30 * time.Second
)

// Client wraps the EDGAR endpoints used by the pipeline. All requests
// drain the one rate limiter handed in at construction, so the client
// is the sole path to upstream regardless of how many workers call it.
type Client struct {
	userAgent    string
	cache        *infra.Cache
	limiter      *infra.RateLimiter
	maxRetries   int
	retryBackoff time.Duration
	parser       *gofeed.Parser
	log          *slog.Logger

	// Endpoint bases, overridden in tests.
	archivesURL    string
	submissionsURL string
	tickersURL     string
	browseURL      string
}

// Options configures a Client. Zero values fall back to conservative
// defaults well inside the fair-access ceiling.
type Options struct {
	UserAgent    string
	Cache        *infra.Cache
	Limiter      *infra.RateLimiter
	MaxRetries   int
	RetryBackoff time.Duration
	Logger       *slog.Logger
}

// NewClient creates an EDGAR client.
func NewClient(opts Options) *Client {
	c := &Client{
		userAgent:    opts.UserAgent,
		cache:        opts.Cache,
		limiter:      opts.Limiter,
		maxRetries:   opts.MaxRetries,
		retryBackoff: opts.RetryBackoff,
		parser:       gofeed.NewParser(),
		log:          opts.Logger,

		archivesURL:    defaultArchivesURL,
		submissionsURL: defaultSubmissionsURL,
		tickersURL:     defaultTickersURL,
		browseURL:      defaultBrowseURL,
	}
	if c.cache == nil {
		c.cache = infra.NewCache(15 * time.Minute)
	}
	if c.limiter == nil {
		c.limiter = infra.NewWindowLimiter(8, time.Second)
	}
	if c.maxRetries <= 0 {
		c.maxRetries = 3
	}
	if c.retryBackoff <= 0 {
		c.retryBackoff = time.Second
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	return c
}

func (c *Client) headers(accept string) map[string]string {
	// No explicit Accept-Encoding: the transport negotiates gzip itself
	// and setting the header manually disables automatic decompression.
	return map[string]string{
		"User-Agent": c.userAgent,
		"Accept":     accept,
	}
}

// get fetches a URL through the shared rate limiter, retrying
// transient failures with exponential backoff. 404 maps to ErrNotFound
// without retries; other non-2xx statuses fail permanently.
func (c *Client) get(ctx context.Context, url, accept string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt, c.retryBackoff)
			c.log.Debug("retrying request", "url", url, "attempt", attempt, "delay", delay)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		body, status, err := infra.DoGet(ctx, url, c.headers(accept))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = &TransientError{URL: url, Err: err}
			continue
		}
		data, readErr := io.ReadAll(body)
		body.Close()

		switch {
		case status == http.StatusOK:
			if readErr != nil {
				lastErr = &TransientError{URL: url, Err: readErr}
				continue
			}
			return data, nil
		case status == http.StatusNotFound:
			return nil, fmt.Errorf("GET %s: %w", url, ErrNotFound)
		case status == http.StatusTooManyRequests || status >= 500:
			lastErr = &TransientError{URL: url, StatusCode: status}
			continue
		default:
			return nil, fmt.Errorf("GET %s: unexpected status %d", url, status)
		}
	}
	return nil, fmt.Errorf("GET %s: retries exhausted: %w", url, lastErr)
}

// getJSON performs a rate-limited GET and decodes the JSON response.
func (c *Client) getJSON(ctx context.Context, url string, dest any) error {
	data, err := c.get(ctx, url, "application/json")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("parse EDGAR JSON from %s: %w", url, err)
	}
	return nil
}

// backoffDelay returns the delay before retry attempt n (1-indexed)
// with jitter, capped at maxBackoff.
func backoffDelay(attempt int, base time.Duration) time.Duration {
	d := base << uint(attempt-1)
	if d > maxBackoff || d <= 0 {
		d = maxBackoff
	}
	if half := int64(d) / 2; half > 0 {
		d += time.Duration(rand.Int63n(half))
	}
	return d
}

// padCIK pads a CIK number to 10 digits with leading zeros.
func padCIK(cik string) string {
	for len(cik) < 10 {
		cik = "0" + cik
	}
	return cik
}

// unpadCIK strips the leading zeros EDGAR pads CIKs with. Archive URLs
// use the bare number.
func unpadCIK(cik string) string {
	i := 0
	for i < len(cik)-1 && cik[i] == '0' {
		i++
	}
	return cik[i:]
}
