package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// FetchTimeout bounds the URL fetch so a stuck remote host cannot
	// exhaust a worker's turnaround budget.
	FetchTimeout = 15 * time.Second

	userAgent = "Citestack/1.0 (research library)"

	// maxFetchBytes caps the response body read from a remote page
	maxFetchBytes = 10 << 20
)

// Fetcher downloads pages for extract_url jobs
type Fetcher struct {
	httpClient *http.Client
}

func NewFetcher() *Fetcher {
	return &Fetcher{
		httpClient: &http.Client{
			Timeout: FetchTimeout,
		},
	}
}

// FetchPage downloads a page body with a bounded timeout and a
// descriptive user agent. Non-2xx responses are errors.
func (f *Fetcher) FetchPage(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}
