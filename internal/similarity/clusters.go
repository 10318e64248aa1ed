package similarity

import (
	"container/heap"
	"sort"

	"github.com/standardbeagle/semidx/internal/types"
)

// MaxFileResults caps FindSimilarToFile regardless of the requested count.
const MaxFileResults = 100

// MaxCandidatesPerChunk bounds how many union candidates each chunk keeps,
// so the candidate list grows linearly with chunk count at any threshold.
const MaxCandidatesPerChunk = 64

type pair struct {
	i, j int
	sim  float32
}

type partner struct {
	other int
	sim   float32
}

func weaker(a, b partner) bool {
	if a.sim != b.sim {
		return a.sim < b.sim
	}
	return a.other > b.other
}

// partnerHeap keeps the weakest partner on top.
type partnerHeap []partner

func (h partnerHeap) Len() int           { return len(h) }
func (h partnerHeap) Less(a, b int) bool { return weaker(h[a], h[b]) }
func (h partnerHeap) Swap(a, b int)      { h[a], h[b] = h[b], h[a] }
func (h *partnerHeap) Push(x any)        { *h = append(*h, x.(partner)) }

func (h *partnerHeap) Pop() any {
	old := *h
	p := old[len(old)-1]
	*h = old[:len(old)-1]
	return p
}

func (h *partnerHeap) offer(p partner, limit int) {
	if h.Len() < limit {
		heap.Push(h, p)
		return
	}
	if weaker((*h)[0], p) {
		(*h)[0] = p
		heap.Fix(h, 0)
	}
}

// candidatePairs returns the qualifying cross-file pairs that are among the
// limit strongest partners of at least one of their chunks, strongest first
// with ties in index order.
func candidatePairs(chunks []types.SemanticChunk, minSimilarity float32, limit int) []pair {
	n := len(chunks)
	tops := make([]partnerHeap, n)
	for i := 0; i < n; i++ {
		if !chunks[i].HasEmbedding() {
			continue
		}
		for j := i + 1; j < n; j++ {
			if !chunks[j].HasEmbedding() || chunks[i].FilePath == chunks[j].FilePath {
				continue
			}
			if sim := CosineSimilarity(chunks[i].Embedding, chunks[j].Embedding); sim >= minSimilarity {
				tops[i].offer(partner{other: j, sim: sim}, limit)
				tops[j].offer(partner{other: i, sim: sim}, limit)
			}
		}
	}

	var pairs []pair
	for i, h := range tops {
		for _, p := range h {
			// Pairs kept by both chunks are emitted once, from the lower index.
			if p.other < i && keeps(tops[p.other], i) {
				continue
			}
			a, b := min(i, p.other), max(i, p.other)
			pairs = append(pairs, pair{i: a, j: b, sim: p.sim})
		}
	}
	sort.Slice(pairs, func(a, b int) bool {
		if pairs[a].sim != pairs[b].sim {
			return pairs[a].sim > pairs[b].sim
		}
		if pairs[a].i != pairs[b].i {
			return pairs[a].i < pairs[b].i
		}
		return pairs[a].j < pairs[b].j
	})
	return pairs
}

func keeps(h partnerHeap, other int) bool {
	for _, p := range h {
		if p.other == other {
			return true
		}
	}
	return false
}

// ClusterDuplicates groups chunks whose embeddings are at least
// minSimilarity apart, never pairing two chunks of the same file.
//
// A qualifying cross-file pair is a union candidate when it is among the
// MaxCandidatesPerChunk strongest partners of either chunk. Candidates are
// applied strongest first, and a union that would put two chunks of one file
// into the same cluster is skipped, so no returned cluster repeats a file
// even through transitive links. The pair scan is O(n²) in chunk count; the
// candidate list is O(n).
//
// The result holds every group, singletons included, ordered by smallest
// member index. Callers decide whether to surface singletons.
func ClusterDuplicates(chunks []types.SemanticChunk, minSimilarity float32) []types.DuplicateCluster {
	n := len(chunks)
	if n == 0 {
		return nil
	}

	candidates := candidatePairs(chunks, minSimilarity, MaxCandidatesPerChunk)

	uf := NewUnionFind(n)
	// Every merged set is recorded under its root, so a root without an
	// entry is still a singleton.
	files := make(map[int]map[string]struct{})
	filesOf := func(root int) map[string]struct{} {
		set, ok := files[root]
		if !ok {
			set = map[string]struct{}{chunks[root].FilePath: {}}
			files[root] = set
		}
		return set
	}

	for _, c := range candidates {
		ra, rb := uf.Find(c.i), uf.Find(c.j)
		if ra == rb {
			continue
		}
		fa, fb := filesOf(ra), filesOf(rb)
		if overlaps(fa, fb) {
			continue
		}
		uf.Union(ra, rb)
		root := uf.Find(ra)
		merged := fa
		if len(fb) > len(fa) {
			merged, fb = fb, fa
		}
		for f := range fb {
			merged[f] = struct{}{}
		}
		delete(files, ra)
		delete(files, rb)
		files[root] = merged
	}

	groups := uf.Groups()
	clusters := make([]types.DuplicateCluster, 0, len(groups))
	for _, members := range groups {
		refs := make([]types.ChunkRef, len(members))
		for k, idx := range members {
			refs[k] = chunks[idx].Ref()
		}
		clusters = append(clusters, types.DuplicateCluster{
			Chunks:            refs,
			AverageSimilarity: averagePairwise(chunks, members),
		})
	}
	return clusters
}

func overlaps(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for f := range a {
		if _, ok := b[f]; ok {
			return true
		}
	}
	return false
}

// averagePairwise is 1.0 for a singleton and 0.0 when no member pair has
// both embeddings.
func averagePairwise(chunks []types.SemanticChunk, members []int) float32 {
	if len(members) == 1 {
		return 1.0
	}
	var (
		sum   float64
		count int
	)
	for a := 0; a < len(members); a++ {
		ca := &chunks[members[a]]
		if !ca.HasEmbedding() {
			continue
		}
		for b := a + 1; b < len(members); b++ {
			cb := &chunks[members[b]]
			if !cb.HasEmbedding() {
				continue
			}
			sum += float64(CosineSimilarity(ca.Embedding, cb.Embedding))
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return float32(sum / float64(count))
}

// SortClusters orders clusters by size, then average similarity, both
// descending, keeping the incoming order for ties.
func SortClusters(clusters []types.DuplicateCluster) {
	sort.SliceStable(clusters, func(i, j int) bool {
		if len(clusters[i].Chunks) != len(clusters[j].Chunks) {
			return len(clusters[i].Chunks) > len(clusters[j].Chunks)
		}
		return clusters[i].AverageSimilarity > clusters[j].AverageSimilarity
	})
}

// FindSimilarToFile ranks chunks of other files against the chunks of file.
// Each other chunk appears once with its best score and the target chunk
// that produced it. Results are sorted by similarity descending, ties broken
// by target chunk order then candidate order, and cut to
// min(topK, MaxFileResults); topK <= 0 means MaxFileResults.
func FindSimilarToFile(chunks []types.SemanticChunk, file string, minSimilarity float32, topK int) []types.SimilarChunkResult {
	if topK <= 0 || topK > MaxFileResults {
		topK = MaxFileResults
	}

	type hit struct {
		source, candidate int
		sim               float32
	}
	best := make(map[int]hit)
	for s := range chunks {
		src := &chunks[s]
		if src.FilePath != file || !src.HasEmbedding() {
			continue
		}
		for c := range chunks {
			cand := &chunks[c]
			if cand.FilePath == file || !cand.HasEmbedding() {
				continue
			}
			sim := CosineSimilarity(src.Embedding, cand.Embedding)
			if sim < minSimilarity {
				continue
			}
			if prev, ok := best[c]; !ok || sim > prev.sim {
				best[c] = hit{source: s, candidate: c, sim: sim}
			}
		}
	}

	hits := make([]hit, 0, len(best))
	for _, h := range best {
		hits = append(hits, h)
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].sim != hits[j].sim {
			return hits[i].sim > hits[j].sim
		}
		if hits[i].source != hits[j].source {
			return hits[i].source < hits[j].source
		}
		return hits[i].candidate < hits[j].candidate
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}

	results := make([]types.SimilarChunkResult, len(hits))
	for i, h := range hits {
		source := chunks[h.source].Ref()
		results[i] = types.SimilarChunkResult{
			Chunk:      chunks[h.candidate].Ref(),
			Similarity: h.sim,
			Source:     &source,
		}
	}
	return results
}
