package chunk

// Document splits content into Units using the strategy selected for
// sourceExt, per the §4.3 selection table. This is the single entry point
// the ingest pipeline (C5) calls after conversion.
func Document(in Input, opts Options) ([]Unit, error) {
	strategy := Select(in.SourceExt, in.Content)
	return strategy.Chunk(in, opts)
}
