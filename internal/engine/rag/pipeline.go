package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/anatolykoptev/go_videochat/internal/engine"
	"github.com/anatolykoptev/go_videochat/internal/engine/sources"
)

// TranscriptFetcher returns the transcript text of a video; "" when it has none.
type TranscriptFetcher interface {
	FetchTranscript(ctx context.Context, videoID string) (string, error)
}

// Generator answers a fully assembled prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// NewIndexBuilder returns the BuildFunc of the pipeline: fetch, split, embed, index.
func NewIndexBuilder(fetcher TranscriptFetcher, splitter *Splitter, emb Embedder, kind string) BuildFunc {
	return func(ctx context.Context, videoID string) (*Index, error) {
		text, err := fetcher.FetchTranscript(ctx, videoID)
		if err != nil {
			return nil, err
		}
		chunks := splitter.Split(text)
		slog.Debug("transcript split",
			slog.String("id", videoID), slog.Int("chars", utf8.RuneCountInString(text)), slog.Int("chunks", len(chunks)))
		return BuildIndex(ctx, emb, chunks, kind)
	}
}

// PipelineConfig holds per-request limits.
type PipelineConfig struct {
	TopK          int
	MaxQueryChars int // 0 = unlimited
}

// Pipeline answers questions about videos. Safe for concurrent use.
type Pipeline struct {
	embedder Embedder
	indexes  *IndexCache
	gen      Generator
	topK     int
	maxQuery int
}

// NewPipeline wires the query-time half of the pipeline. The embedder must be
// the one the indexes were built with.
func NewPipeline(emb Embedder, indexes *IndexCache, gen Generator, pc PipelineConfig) *Pipeline {
	if pc.TopK <= 0 {
		pc.TopK = 4
	}
	return &Pipeline{embedder: emb, indexes: indexes, gen: gen, topK: pc.TopK, maxQuery: pc.MaxQueryChars}
}

// Answer answers query about the video named by vidDetails (id or URL).
// Caller mistakes come back as *engine.ValidationError.
func (p *Pipeline) Answer(ctx context.Context, query, vidDetails string) (string, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return "", engine.Invalidf("query must not be empty")
	}
	if p.maxQuery > 0 && utf8.RuneCountInString(q) > p.maxQuery {
		return "", engine.Invalidf("query is too long (max %d characters)", p.maxQuery)
	}

	videoID, err := sources.ParseVideoID(vidDetails)
	if err != nil {
		return "", err
	}

	idx, release, err := p.indexes.Acquire(ctx, videoID)
	if err != nil {
		return "", fmt.Errorf("index %s: %w", videoID, err)
	}
	defer release()

	if idx.Len() == 0 {
		slog.Info("videochat: no transcript context", slog.String("id", videoID))
		return engine.NoContextAnswer, nil
	}

	results, err := Retrieve(ctx, p.embedder, idx, q, p.topK)
	if err != nil {
		return "", fmt.Errorf("retrieve %s: %w", videoID, err)
	}

	answer, err := p.gen.Generate(ctx, engine.BuildPrompt(Texts(results), q))
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	return answer, nil
}
