package sources

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/anatolykoptev/go_videochat/internal/engine"
)

type countingFetcher struct {
	calls int
	text  string
	err   error
}

func (c *countingFetcher) FetchTranscript(context.Context, string) (string, error) {
	c.calls++
	return c.text, c.err
}

func TestCachedFetcher(t *testing.T) {
	engine.InitCache("", time.Minute, 100, time.Minute)
	t.Cleanup(engine.CloseCache)
	ctx := context.Background()

	t.Run("second call served from cache", func(t *testing.T) {
		next := &countingFetcher{text: "some transcript"}
		cf := NewCachedFetcher(next, "en")

		for i := 0; i < 3; i++ {
			got, err := cf.FetchTranscript(ctx, "aaaaaaaaaaa")
			if err != nil || got != "some transcript" {
				t.Fatalf("call %d: got %q, %v", i, got, err)
			}
		}
		if next.calls != 1 {
			t.Errorf("upstream calls = %d, want 1", next.calls)
		}
	})

	t.Run("empty transcript not cached", func(t *testing.T) {
		next := &countingFetcher{}
		cf := NewCachedFetcher(next, "en")

		cf.FetchTranscript(ctx, "bbbbbbbbbbb")
		cf.FetchTranscript(ctx, "bbbbbbbbbbb")
		if next.calls != 2 {
			t.Errorf("upstream calls = %d, want 2", next.calls)
		}
	})

	t.Run("errors not cached", func(t *testing.T) {
		next := &countingFetcher{err: errors.New("boom")}
		cf := NewCachedFetcher(next, "en")

		if _, err := cf.FetchTranscript(ctx, "ccccccccccc"); err == nil {
			t.Fatal("expected error")
		}
		next.err, next.text = nil, "recovered"
		got, err := cf.FetchTranscript(ctx, "ccccccccccc")
		if err != nil || got != "recovered" {
			t.Errorf("got %q, %v", got, err)
		}
	})

	t.Run("scope separates entries", func(t *testing.T) {
		en := &countingFetcher{text: "hello"}
		de := &countingFetcher{text: "hallo"}

		NewCachedFetcher(en, "en").FetchTranscript(ctx, "ddddddddddd")
		got, _ := NewCachedFetcher(de, "de").FetchTranscript(ctx, "ddddddddddd")
		if got != "hallo" {
			t.Errorf("got %q, want hallo", got)
		}
	})
}
