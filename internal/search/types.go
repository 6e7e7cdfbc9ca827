// Package search implements C7: a hybrid retriever that fuses title,
// BM25 body, and vector recall paths with Reciprocal Rank Fusion, in the
// style of the teacher's two-path engine.go/fusion.go pair generalized to
// three weighted paths with an absolute confidence normalization.
package search

// Weights configures the relative importance of each recall path in RRF
// fusion. Defaults sum to 1 so the absolute confidence normalization in
// fuse's normalize step lands a perfect rank-1-in-every-path hit at 1.0.
type Weights struct {
	Exact  float64
	BM25   float64
	Vector float64
}

// DefaultWeights returns the default path weights.
func DefaultWeights() Weights {
	return Weights{Exact: 0.4, BM25: 0.3, Vector: 0.3}
}

// DefaultRRFConstant is the RRF smoothing parameter k.
const DefaultRRFConstant = 60

// Candidate is one fused retrieval result: a doc_title ranked across the
// three recall paths, carrying the chunk ID it resolved to and each
// path's 1-based rank (0 if the candidate was absent from that path).
type Candidate struct {
	DocTitle   string
	ChunkID    int64
	Confidence float64
	ExactRank  int
	BM25Rank   int
	VectorRank int
}

// Result is the output of Retriever.Resolve.
type Result struct {
	Candidates []Candidate
	// TitleHits holds the titles matched by the title/exact recall path,
	// independent of whether they survived into Candidates.
	TitleHits []string
}
