package search

import "sort"

// pathHit is one ranked hit from a single recall path, best first.
type pathHit struct {
	docTitle string
	chunkID  int64
}

type fusionAcc struct {
	docTitle   string
	chunkID    int64
	rrf        float64
	exactRank  int
	bm25Rank   int
	vectorRank int
}

// fuse combines the three recall paths' ranked hits into Candidates via
// Reciprocal Rank Fusion, generalizing the teacher's two-path RRFFusion
// (fusion.go) to three weighted paths. A candidate absent from a path
// contributes 0 to the sum, no missing-rank substitution — unlike the
// teacher's two-path fusion, which only ever has one missing side to
// account for, a three-path fusion would need a separate missing-rank
// per absent path combination; §4.7 opts for the simpler zero-contribution
// rule instead.
func fuse(exact, bm25, vector []pathHit, w Weights, kRRF int) []Candidate {
	byTitle := make(map[string]*fusionAcc)
	order := make([]string, 0, len(exact)+len(bm25)+len(vector))

	get := func(h pathHit) *fusionAcc {
		a, ok := byTitle[h.docTitle]
		if !ok {
			a = &fusionAcc{docTitle: h.docTitle, chunkID: h.chunkID}
			byTitle[h.docTitle] = a
			order = append(order, h.docTitle)
		}
		return a
	}

	for i, h := range exact {
		a := get(h)
		a.exactRank = i + 1
		a.rrf += w.Exact / float64(kRRF+i+1)
	}
	for i, h := range bm25 {
		a := get(h)
		a.bm25Rank = i + 1
		a.rrf += w.BM25 / float64(kRRF+i+1)
	}
	for i, h := range vector {
		a := get(h)
		a.vectorRank = i + 1
		a.rrf += w.Vector / float64(kRRF+i+1)
	}

	out := make([]Candidate, len(order))
	for i, title := range order {
		a := byTitle[title]
		out[i] = Candidate{
			DocTitle:   a.docTitle,
			ChunkID:    a.chunkID,
			Confidence: a.rrf,
			ExactRank:  a.exactRank,
			BM25Rank:   a.bm25Rank,
			VectorRank: a.vectorRank,
		}
	}

	// Sort by raw RRF score desc; ties broken by chunk ID ascending for
	// determinism, generalizing the teacher's lexicographic ChunkID
	// tie-break in fusion.go's compare. Chunk IDs are assigned monotonically
	// at insert time, so this ascending break is equivalent to insertion
	// order; if chunk IDs ever stop being monotonic, this would need to
	// track insertion order explicitly instead.
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].ChunkID < out[j].ChunkID
	})

	normalizeConfidence(out, kRRF)
	return out
}

// normalizeConfidence rescales each candidate's raw RRF sum against
// 1/(kRRF+1) — the per-path score a rank-1 hit contributes — so a
// candidate ranked first in every path with full weight lands at exactly
// 1.0. This is an absolute normalization, deliberately different from the
// teacher's relative divide-by-this-result-set's-max normalize (fusion.go):
// every confidence here is comparable in [0,1] across independent queries,
// not just within one result set (§4.7).
func normalizeConfidence(candidates []Candidate, kRRF int) {
	factor := float64(kRRF + 1)
	for i := range candidates {
		candidates[i].Confidence = round4(candidates[i].Confidence * factor)
	}
}

func round4(f float64) float64 {
	return float64(int64(f*10000+0.5)) / 10000
}
