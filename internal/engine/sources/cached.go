package sources

import (
	"context"
	"log/slog"

	"github.com/anatolykoptev/go_videochat/internal/engine"
)

// Fetcher returns the transcript text of a video.
type Fetcher interface {
	FetchTranscript(ctx context.Context, videoID string) (string, error)
}

// CachedFetcher serves transcripts from the engine's tiered cache (memory, then
// Redis) and fills it from next on a miss. Empty transcripts are not cached, so
// captions added later are picked up.
type CachedFetcher struct {
	next  Fetcher
	scope string
}

// NewCachedFetcher wraps next. scope separates cache entries of fetchers with
// different settings, e.g. preferred languages.
func NewCachedFetcher(next Fetcher, scope string) *CachedFetcher {
	return &CachedFetcher{next: next, scope: scope}
}

// FetchTranscript implements Fetcher.
func (c *CachedFetcher) FetchTranscript(ctx context.Context, videoID string) (string, error) {
	key := engine.CacheKey("transcript", videoID, c.scope)
	if data, ok := engine.CacheGet(ctx, key); ok {
		slog.Debug("transcript: cache hit", slog.String("id", videoID))
		return string(data), nil
	}

	text, err := c.next.FetchTranscript(ctx, videoID)
	if err != nil {
		return "", err
	}
	if text != "" {
		engine.CacheSet(ctx, key, []byte(text))
	}
	return text, nil
}
