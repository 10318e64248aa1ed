package similarity

import (
	"sort"

	"github.com/standardbeagle/semidx/internal/types"
)

// RankByVector scores every embedded chunk against query, keeps scores of at
// least minSimilarity and returns the best topK. Equal scores keep chunk
// order. topK <= 0 returns every hit.
func RankByVector(query []float32, chunks []types.SemanticChunk, topK int, minSimilarity float32) []types.SimilarChunkResult {
	type scored struct {
		idx int
		sim float32
	}
	var hits []scored
	for i := range chunks {
		if !chunks[i].HasEmbedding() {
			continue
		}
		if sim := CosineSimilarity(query, chunks[i].Embedding); sim >= minSimilarity {
			hits = append(hits, scored{idx: i, sim: sim})
		}
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].sim > hits[b].sim })
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}

	results := make([]types.SimilarChunkResult, len(hits))
	for i, h := range hits {
		results[i] = types.SimilarChunkResult{Chunk: chunks[h.idx].Ref(), Similarity: h.sim}
	}
	return results
}
