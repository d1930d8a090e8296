// go_videochat answers questions about YouTube videos from their transcripts.
//
// Serves POST /videochat over HTTP and, when MCP_PORT is set, the same
// pipeline as the MCP tool video_chat.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/anatolykoptev/go-kit/env"
	"github.com/anatolykoptev/go-mcpserver"
	"github.com/anatolykoptev/go_videochat/internal/engine"
	"github.com/anatolykoptev/go_videochat/internal/engine/rag"
	"github.com/anatolykoptev/go_videochat/internal/engine/sources"
	"github.com/anatolykoptev/go_videochat/internal/vidserver"
	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

var version = "dev"

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("could not read .env", slog.Any("error", err))
	}

	c, err := engine.LoadConfig(env.Str("CONFIG_FILE", ""))
	if err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}
	slog.SetDefault(engine.NewLogger(os.Stderr, c.LogLevel, c.LogFormat))

	c.HTTPClient = &http.Client{
		Timeout: 15 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     60 * time.Second,
		},
	}
	engine.Init(c)
	engine.InitCache(c.RedisURL, c.CacheTTL, c.CacheMaxEntries, c.CacheCleanupInterval)
	defer engine.CloseCache()

	pipeline, indexes := buildPipeline(c)
	defer indexes.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if c.MCPPort != "" {
		go serveMCP(c.MCPPort, pipeline)
	}

	srv := &http.Server{
		Addr:              ":" + c.Port,
		Handler:           vidserver.NewHandler(pipeline),
		ReadHeaderTimeout: 10 * time.Second,
		// A cold request fetches, embeds and generates; leave room for the build.
		WriteTimeout: c.BuildTimeout + c.LLMTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting go_videochat",
			slog.String("version", version),
			slog.String("port", c.Port),
			slog.String("model", c.LLMModel),
			slog.String("index", c.IndexKind))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", slog.Any("error", err))
		}
	case <-ctx.Done():
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("shutdown incomplete", slog.Any("error", err))
		}
	}
}

func buildPipeline(c engine.Config) (*rag.Pipeline, *rag.IndexCache) {
	yt := sources.NewYouTube(c.HTTPClient, c.TranscriptLangs,
		sources.WithTimeout(c.TranscriptTimeout),
		sources.WithStrictCaptions(c.StrictCaptions),
	)
	fetcher := sources.NewCachedFetcher(yt, strings.Join(c.TranscriptLangs, ","))

	splitter, err := rag.NewSplitter(c.ChunkSize, c.ChunkOverlap)
	if err != nil {
		// Validate already checked the chunk settings.
		panic(err)
	}

	emb := rag.NewEmbeddingClient(rag.EmbeddingConfig{
		BaseURL:   c.EmbedAPIBase,
		APIKey:    c.LLMAPIKey,
		Model:     c.EmbedModel,
		BatchSize: c.EmbedBatchSize,
		RPS:       c.EmbedRPS,
		Timeout:   c.EmbedTimeout,
	})

	indexes := rag.NewIndexCache(
		rag.NewIndexBuilder(fetcher, splitter, emb, c.IndexKind),
		c.IndexCacheTTL, c.IndexCacheMaxEntries, c.BuildTimeout,
	)

	gen := engine.NewGenerator(engine.NewLLMCompleter(c), engine.DefaultGeneratorConfig(c.LLMTimeout))

	return rag.NewPipeline(emb, indexes, gen, rag.PipelineConfig{
		TopK:          c.TopK,
		MaxQueryChars: c.MaxQueryChars,
	}), indexes
}

func serveMCP(port string, a vidserver.Answerer) {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "go_videochat",
		Version: version,
	}, nil)
	vidserver.RegisterTools(server, a)

	if err := mcpserver.Run(server, mcpserver.Config{
		Name:         "go_videochat",
		Version:      version,
		Port:         port,
		WriteTimeout: 600 * time.Second,
		Metrics:      engine.FormatMetrics,
	}); err != nil {
		slog.Error("mcp server failed", slog.Any("error", err))
	}
}
