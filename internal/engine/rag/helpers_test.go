package rag

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"
)

const fakeDim = 256

// bagOfWords embeds texts as hashed word counts, so texts sharing words score high.
type bagOfWords struct {
	calls atomic.Int32
	fail  atomic.Bool
}

var errFakeEmbed = errors.New("embedding service unavailable")

func (b *bagOfWords) Embed(_ context.Context, texts []string) ([][]float32, error) {
	b.calls.Add(1)
	if b.fail.Load() {
		return nil, errFakeEmbed
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = hashVector(t)
	}
	return out, nil
}

func hashVector(text string) []float32 {
	v := make([]float32, fakeDim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		if len(w) < 3 {
			continue
		}
		h := fnv.New32a()
		h.Write([]byte(w))
		v[h.Sum32()%fakeDim]++
	}
	return v
}

// staticFetcher returns fixed transcripts per video id.
type staticFetcher struct {
	mu          sync.Mutex
	transcripts map[string]string
	calls       map[string]int
	err         error
}

func newStaticFetcher(transcripts map[string]string) *staticFetcher {
	return &staticFetcher{transcripts: transcripts, calls: map[string]int{}}
}

func (s *staticFetcher) FetchTranscript(_ context.Context, videoID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[videoID]++
	if s.err != nil {
		return "", s.err
	}
	return s.transcripts[videoID], nil
}

// recordingGenerator captures prompts and answers with a fixed string.
type recordingGenerator struct {
	mu      sync.Mutex
	prompts []string
	answer  string
	err     error
}

func (g *recordingGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	if g.err != nil {
		return "", g.err
	}
	return g.answer, nil
}

func (g *recordingGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}
