package rag

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/viant/sqlite-vec/index"
	"github.com/viant/sqlite-vec/index/bruteforce"
	"github.com/viant/sqlite-vec/index/cover"
)

// ErrIndexClosed is returned by searches on a released index.
var ErrIndexClosed = errors.New("index closed")

// Index kinds accepted by BuildIndex.
const (
	KindBruteForce = "bruteforce"
	KindCover      = "cover"
)

// Result is one retrieved chunk with its cosine similarity to the query.
type Result struct {
	Chunk Chunk
	Score float64
}

// Index is an immutable set of embedded chunks for one transcript.
// Searches are safe for concurrent use; Close releases the vectors.
type Index struct {
	mu     sync.RWMutex
	vec    index.Index
	chunks []Chunk
	closed bool
}

func newVectorIndex(kind string) index.Index {
	if kind == KindCover {
		return &cover.Index{}
	}
	return &bruteforce.Index{}
}

// BuildIndex embeds every chunk and loads the vectors into an index of the
// given kind. An embedding failure fails the build; no partial index is returned.
func BuildIndex(ctx context.Context, emb Embedder, chunks []Chunk, kind string) (*Index, error) {
	idx := &Index{vec: newVectorIndex(kind), chunks: chunks}
	if len(chunks) == 0 {
		return idx, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, err := emb.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vecs) != len(chunks) {
		return nil, fmt.Errorf("embed chunks: got %d vectors for %d chunks", len(vecs), len(chunks))
	}

	ids := make([]string, len(chunks))
	for i := range chunks {
		ids[i] = strconv.Itoa(i)
	}
	if err := idx.vec.Build(ids, vecs); err != nil {
		return nil, fmt.Errorf("build %s index: %w", kind, err)
	}
	return idx, nil
}

// Len returns the number of indexed chunks; 0 once closed.
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.chunks)
}

// Search returns the min(k, Len()) chunks most similar to query, by descending
// score with ties in transcript order. k <= 0 means all chunks.
func (i *Index) Search(query []float32, k int) ([]Result, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.closed {
		return nil, ErrIndexClosed
	}

	n := len(i.chunks)
	if n == 0 {
		return nil, nil
	}
	if k <= 0 || k > n {
		k = n
	}

	ids, scores, err := i.vec.Query(query, k)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}

	results := make([]Result, 0, k)
	seen := make(map[int]bool, k)
	for j, id := range ids {
		pos, err := strconv.Atoi(id)
		if err != nil || pos < 0 || pos >= n || seen[pos] {
			continue
		}
		seen[pos] = true
		results = append(results, Result{Chunk: i.chunks[pos], Score: scores[j]})
	}

	// Zero-magnitude vectors are skipped by the index; pad so callers always
	// get min(k, n) distinct chunks.
	for pos := 0; len(results) < k && pos < n; pos++ {
		if !seen[pos] {
			seen[pos] = true
			results = append(results, Result{Chunk: i.chunks[pos]})
		}
	}

	sort.SliceStable(results, func(a, b int) bool {
		if results[a].Score != results[b].Score {
			return results[a].Score > results[b].Score
		}
		return results[a].Chunk.Index < results[b].Chunk.Index
	})
	return results[:k], nil
}

// Close drops the vectors and chunk text. Safe to call more than once.
func (i *Index) Close() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.closed = true
	i.vec = nil
	i.chunks = nil
}
