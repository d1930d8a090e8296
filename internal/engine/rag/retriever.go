package rag

import (
	"context"
	"fmt"
)

// Retrieve embeds query and returns the k most similar chunks of idx.
// An empty index returns no results without calling the embedder.
func Retrieve(ctx context.Context, emb Embedder, idx *Index, query string, k int) ([]Result, error) {
	if idx.Len() == 0 {
		return nil, nil
	}
	vecs, err := emb.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors", len(vecs))
	}
	return idx.Search(vecs[0], k)
}

// Texts returns the chunk texts of results in rank order.
func Texts(results []Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Chunk.Text
	}
	return out
}
