package search

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/pieceproject/kbd/internal/embed"
	kberrors "github.com/pieceproject/kbd/internal/errors"
	"github.com/pieceproject/kbd/internal/store"
)

const (
	defaultMaxResults = 20
	maxResultsCap     = 50
	defaultPathLimit  = 10
)

// Retriever answers hybrid queries by running three independent recall
// paths (title, BM25 body, vector) and fusing their ranked hits, grounded
// on the teacher's parallelSearch/RRFFusion split (engine.go, fusion.go)
// generalized from two paths to three. It never mutates the store.
type Retriever struct {
	files    *store.FileRepo
	chunks   *store.ChunkRepo
	embedder embed.Embedder
	logger   *slog.Logger
	weights  Weights
	rrfK     int
	pathK    int
}

// NewRetriever builds a Retriever. embedder may be nil; the vector path
// then returns no results, without an error or a log line, and the other
// two paths still run.
func NewRetriever(files *store.FileRepo, chunks *store.ChunkRepo, embedder embed.Embedder, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		files:    files,
		chunks:   chunks,
		embedder: embedder,
		logger:   logger,
		weights:  DefaultWeights(),
		rrfK:     DefaultRRFConstant,
		pathK:    defaultPathLimit,
	}
}

// WithWeights overrides the default per-path fusion weights.
func (r *Retriever) WithWeights(w Weights) *Retriever {
	r.weights = w
	return r
}

// WithRRFConstant overrides the default RRF smoothing constant k.
func (r *Retriever) WithRRFConstant(k int) *Retriever {
	if k > 0 {
		r.rrfK = k
	}
	return r
}

// WithPathLimit overrides the default per-path recall limit.
func (r *Retriever) WithPathLimit(k int) *Retriever {
	if k > 0 {
		r.pathK = k
	}
	return r
}

// Resolve runs the full pipeline: tokenize, resolve scope, recall in
// parallel, fuse. It tolerates an empty corpus (empty Result, no error)
// and degrades individual recall-path failures to the remaining paths.
func (r *Retriever) Resolve(ctx context.Context, query string, filenames []string, maxResults int) (Result, error) {
	tokens := Tokenize(query)
	if len(tokens) == 0 {
		return Result{}, kberrors.Validation("no valid keywords")
	}

	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	if maxResults > maxResultsCap {
		maxResults = maxResultsCap
	}

	fileIDs, err := r.resolveScope(ctx, filenames)
	if err != nil {
		return Result{}, err
	}

	exact, bm25, vector := r.recall(ctx, query, tokens, fileIDs)

	candidates := fuse(exact, bm25, vector, r.weights, r.rrfK)
	if len(candidates) > maxResults {
		candidates = candidates[:maxResults]
	}

	return Result{
		Candidates: candidates,
		TitleHits:  titlesOf(exact),
	}, nil
}

// resolveScope unions indexed file IDs whose working_filename contains any of the
// given substrings. An empty filenames list, or one where nothing
// matches, means "no scope": every recall path then runs unfiltered.
func (r *Retriever) resolveScope(ctx context.Context, filenames []string) ([]int64, error) {
	if len(filenames) == 0 {
		return nil, nil
	}
	seen := make(map[int64]struct{})
	var ids []int64
	for _, name := range filenames {
		matches, err := r.files.FindIDsByFilenameContains(ctx, name)
		if err != nil {
			return nil, err
		}
		for _, id := range matches {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

// recall runs the three retrieval paths concurrently via errgroup. A
// single path's error degrades to the remaining paths' results rather
// than failing the whole query, logged at Warn — the teacher's
// parallelSearch graceful-degradation convention, generalized from two
// branches to three.
func (r *Retriever) recall(ctx context.Context, query string, tokens []string, fileIDs []int64) (exact, bm25, vector []pathHit) {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hits, err := r.titlePath(gctx, tokens, fileIDs)
		if err != nil {
			r.logger.Warn("title recall path failed", "error", err)
			return nil
		}
		exact = hits
		return nil
	})

	g.Go(func() error {
		hits, err := r.bodyBM25Path(gctx, tokens, fileIDs)
		if err != nil {
			r.logger.Warn("bm25 recall path failed", "error", err)
			return nil
		}
		bm25 = hits
		return nil
	})

	g.Go(func() error {
		hits, err := r.vectorPath(gctx, query, fileIDs)
		if err != nil {
			r.logger.Warn("vector recall path failed", "error", err)
			return nil
		}
		vector = hits
		return nil
	})

	_ = g.Wait() // every branch already swallows its own error
	return exact, bm25, vector
}

// titlePath AND-matches every token against doc_title via LIKE, scored as
// an exact hit; if that yields fewer than pathK results, tops up with an
// AND-of-tokens BM25 query restricted to doc_title, skipping titles
// already found.
func (r *Retriever) titlePath(ctx context.Context, tokens []string, fileIDs []int64) ([]pathHit, error) {
	likeHits, err := r.chunks.SearchTitleLike(ctx, tokens, fileIDs, r.pathK)
	if err != nil {
		return nil, err
	}
	hits := toPathHits(likeHits)
	if len(hits) >= r.pathK {
		return hits, nil
	}

	bm25Hits, err := r.chunks.SearchTitleBM25(ctx, tokens, fileIDs, r.pathK)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(hits))
	for _, h := range hits {
		seen[h.docTitle] = struct{}{}
	}
	for _, tc := range bm25Hits {
		if _, ok := seen[tc.DocTitle]; ok {
			continue
		}
		hits = append(hits, pathHit{docTitle: tc.DocTitle, chunkID: tc.ChunkID})
		seen[tc.DocTitle] = struct{}{}
		if len(hits) >= r.pathK {
			break
		}
	}
	return hits, nil
}

// bodyBM25Path OR-joins all tokens against the chunk_text BM25 index.
func (r *Retriever) bodyBM25Path(ctx context.Context, tokens []string, fileIDs []int64) ([]pathHit, error) {
	hits, err := r.chunks.SearchBodyBM25(ctx, tokens, fileIDs, r.pathK)
	if err != nil {
		return nil, err
	}
	return toPathHits(hits), nil
}

// vectorPath embeds the original query text (not the token set — the
// embedding model handles semantic similarity on its own) and ranks by
// cosine distance.
func (r *Retriever) vectorPath(ctx context.Context, query string, fileIDs []int64) ([]pathHit, error) {
	if r.embedder == nil {
		return nil, nil
	}
	vec, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	hits, err := r.chunks.SearchVectorScoped(ctx, store.EncodeEmbedding(vec), fileIDs, r.pathK)
	if err != nil {
		return nil, err
	}
	return toPathHits(hits), nil
}

// toPathHits converts repository rows into ranked path hits, deduping by
// doc_title so a path never contributes the same title at two ranks.
func toPathHits(list []store.TitledChunk) []pathHit {
	seen := make(map[string]struct{}, len(list))
	out := make([]pathHit, 0, len(list))
	for _, tc := range list {
		if _, ok := seen[tc.DocTitle]; ok {
			continue
		}
		seen[tc.DocTitle] = struct{}{}
		out = append(out, pathHit{docTitle: tc.DocTitle, chunkID: tc.ChunkID})
	}
	return out
}

func titlesOf(hits []pathHit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.docTitle
	}
	return out
}
