package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// Metrics tracks operational counters across the engine.
var metrics struct {
	VideoChatRequests  atomic.Int64
	VideoChatErrors    atomic.Int64
	TranscriptRequests atomic.Int64
	TranscriptErrors   atomic.Int64
	NoCaptions         atomic.Int64
	EmbedCalls         atomic.Int64
	EmbedErrors        atomic.Int64
	LLMCalls           atomic.Int64
	LLMErrors          atomic.Int64
	IndexBuilds        atomic.Int64
	IndexBuildErrors   atomic.Int64
	IndexEvictions     atomic.Int64
}

var metricKeys = []string{
	"videochat_requests", "videochat_errors",
	"transcript_requests", "transcript_errors", "transcript_no_captions",
	"embed_calls", "embed_errors",
	"llm_calls", "llm_errors",
	"index_builds", "index_build_errors", "index_evictions",
	"cache_hits", "cache_misses",
}

// GetMetrics returns a snapshot of all metrics including cache stats.
func GetMetrics() map[string]int64 {
	hits, misses := CacheStats()
	return map[string]int64{
		"videochat_requests":     metrics.VideoChatRequests.Load(),
		"videochat_errors":       metrics.VideoChatErrors.Load(),
		"transcript_requests":    metrics.TranscriptRequests.Load(),
		"transcript_errors":      metrics.TranscriptErrors.Load(),
		"transcript_no_captions": metrics.NoCaptions.Load(),
		"embed_calls":            metrics.EmbedCalls.Load(),
		"embed_errors":           metrics.EmbedErrors.Load(),
		"llm_calls":              metrics.LLMCalls.Load(),
		"llm_errors":             metrics.LLMErrors.Load(),
		"index_builds":           metrics.IndexBuilds.Load(),
		"index_build_errors":     metrics.IndexBuildErrors.Load(),
		"index_evictions":        metrics.IndexEvictions.Load(),
		"cache_hits":             hits,
		"cache_misses":           misses,
	}
}

// FormatMetrics returns metrics as a simple text format for HTTP endpoint.
func FormatMetrics() string {
	m := GetMetrics()
	var sb strings.Builder
	for _, k := range metricKeys {
		fmt.Fprintf(&sb, "%s %d\n", k, m[k])
	}
	return sb.String()
}

// Incrementors for the transport, rag and sources packages.
func IncrVideoChatRequests()  { metrics.VideoChatRequests.Add(1) }
func IncrVideoChatErrors()    { metrics.VideoChatErrors.Add(1) }
func IncrTranscriptRequests() { metrics.TranscriptRequests.Add(1) }
func IncrTranscriptErrors()   { metrics.TranscriptErrors.Add(1) }
func IncrNoCaptions()         { metrics.NoCaptions.Add(1) }
func IncrEmbedCalls()         { metrics.EmbedCalls.Add(1) }
func IncrEmbedErrors()        { metrics.EmbedErrors.Add(1) }
func IncrIndexBuilds()        { metrics.IndexBuilds.Add(1) }
func IncrIndexBuildErrors()   { metrics.IndexBuildErrors.Add(1) }
func IncrIndexEvictions()     { metrics.IndexEvictions.Add(1) }

// TrackOperation logs a warning if an operation takes longer than threshold.
func TrackOperation(ctx context.Context, name string, fn func(context.Context) error) error {
	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)
	if elapsed > 5*time.Second {
		slog.Warn("slow operation", slog.String("op", name), slog.Duration("elapsed", elapsed))
	}
	return err
}
