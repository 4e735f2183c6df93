// Package simple provides a minimal HTTP fetcher. The real scrape pipeline
// lives outside this service; this implementation exists so the lifecycle
// machinery can run end to end against live URLs.
package simple

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/jmagar/pulse-sub012/internal/scrape"
)

// CategoryTransient classifies transport-level failures this fetcher deems
// worth retrying. The category set is open; budget caps for it come from
// configuration like any other.
const CategoryTransient = scrape.RetryCategory("transient_http")

const maxBodyBytes = 4 << 20

// Fetcher performs plain GET requests with a bounded body read.
type Fetcher struct {
	client *http.Client
}

// New builds a Fetcher with the given per-request timeout.
func New(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{client: &http.Client{Timeout: timeout}}
}

// Fetch issues a GET for the request URL. Timeouts, temporary network errors,
// HTTP 429 and 5xx responses come back as retryable; everything else fails
// the attempt outright.
func (f *Fetcher) Fetch(ctx context.Context, request scrape.FetchRequest) (scrape.FetchResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, request.URL, nil)
	if err != nil {
		return scrape.FetchResponse{}, fmt.Errorf("build request: %w", err)
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		if retryableTransport(err) {
			return scrape.FetchResponse{}, scrape.Retryable(CategoryTransient, err)
		}
		return scrape.FetchResponse{}, fmt.Errorf("fetch %s: %w", request.URL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return scrape.FetchResponse{}, scrape.Retryable(CategoryTransient, err)
	}

	result := scrape.FetchResponse{
		URL:        request.URL,
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       body,
		Duration:   time.Since(start),
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return result, scrape.Retryable(CategoryTransient,
			fmt.Errorf("server returned %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return result, fmt.Errorf("fetch %s: status %d", request.URL, resp.StatusCode)
	}
	return result, nil
}

func retryableTransport(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
