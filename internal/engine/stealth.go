package engine

import (
	"context"
	"net/http"

	stealth "github.com/anatolykoptev/go-stealth"
)

// Browser-like request helpers for scraping YouTube pages.

func ChromeHeaders() map[string]string { return stealth.ChromeHeaders() }
func RandomUserAgent() string          { return stealth.RandomUserAgent() }

// FetchHTTP sends the request built by fn, retrying transient statuses (429, 5xx)
// and network errors with go-stealth's default schedule.
func FetchHTTP(ctx context.Context, fn func() (*http.Response, error)) (*http.Response, error) {
	return stealth.RetryHTTP(ctx, stealth.DefaultRetryConfig, fn)
}
