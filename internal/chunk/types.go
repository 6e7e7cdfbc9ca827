// Package chunk implements C3: splitting a Markdown document into
// retrieval-sized chunks using the strategy selected by the source file's
// original extension (heading, slide, page, or sheet), each falling back
// to a shared recursive splitter that respects table and LaTeX boundaries.
package chunk

// Unit is one chunk produced by a Strategy: a title and its text. The
// store layer assigns IDs and timestamps; this package only decides how
// to carve content up and what to call the pieces.
type Unit struct {
	DocTitle  string
	ChunkText string
}

// Input is what a Strategy needs to chunk one document.
type Input struct {
	Content   string // UTF-8 Markdown
	BaseName  string // filename stem, used to build doc_title
	SourceExt string // original extension, e.g. "pdf", "md" — selects the Strategy
}

// Options tunes chunk sizing. A zero MaxTokens is replaced with
// defaultMaxTokens by maxChunkSize.
type Options struct {
	MaxTokens int // the embedding model's max input tokens
}

const (
	defaultMaxTokens    = 8192
	charsPerTokenBudget = 1.5 // conservative chars-per-token estimate
	maxChunkSizeSafety  = 0.8 // fraction of MaxTokens actually usable

	recursiveTargetSize = 800
	recursiveOverlap    = 150
	sectionSplitSize    = 2000 // §4.3: sections over this many chars split on ###
	subsectionFallback  = 800  // sub-sections over this many chars fall to recursive split
	titleRuneCount      = 10   // runes of chunk text used to name a recursive-split title

	sheetOverlapFraction = 0.10
)

// maxChunkSize derives the character budget for one chunk from the
// embedding model's token budget, per §4.3: floor(maxTokens * 0.8 / 1.5).
func maxChunkSize(opts Options) int {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return int(float64(maxTokens) * maxChunkSizeSafety / charsPerTokenBudget)
}

// Strategy splits one document's content into Units.
type Strategy interface {
	Chunk(in Input, opts Options) ([]Unit, error)
}

// Select returns the Strategy for a source extension, per the §4.3
// selection table. Unlisted extensions fall back to Heading, since the
// Converter black box is expected to have already turned them into plain
// Markdown with no structural markers to key off of.
func Select(sourceExt string, content string) Strategy {
	switch sourceExt {
	case "pdf":
		if hasPageMarkers(content) {
			return pageStrategy{}
		}
		return headingStrategy{}
	case "pptx":
		return slideStrategy{}
	case "xlsx":
		return sheetStrategy{}
	default: // md, docx, txt, and anything else the converter normalized
		return headingStrategy{}
	}
}
