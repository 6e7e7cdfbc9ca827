// Package reconcile implements C6: regenerating a file's working-copy
// Markdown from its current chunk set after any chunk mutation, so the
// on-disk file always reflects what the indices know about it.
package reconcile

import (
	"context"
	"os"
	"strings"

	kberrors "github.com/pieceproject/kbd/internal/errors"
	"github.com/pieceproject/kbd/internal/store"
)

// Rebuild regenerates the working file at workingPath from chunks, in id
// order, per §4.6's heading-emission rules. Idempotent: calling it twice
// in a row with the same chunk set produces the same bytes.
//
// Grounded on the teacher's idempotent working-copy rebuild conventions in
// internal/chunk (reassembling chunked content back into one file) and
// original_source's converter/export-service round-trip shape.
func Rebuild(ctx context.Context, chunks *store.ChunkRepo, fileID int64, workingPath string) error {
	list, err := chunks.ListByFileID(ctx, fileID)
	if err != nil {
		return err
	}

	if len(list) == 0 {
		if err := os.WriteFile(workingPath, nil, 0o644); err != nil {
			return kberrors.Storage("truncate working file", err)
		}
		return nil
	}

	var b strings.Builder
	for _, c := range list {
		b.WriteString(renderChunk(c))
	}

	if err := os.WriteFile(workingPath, []byte(b.String()), 0o644); err != nil {
		return kberrors.Storage("write working file", err)
	}
	return nil
}

// renderChunk formats one chunk's heading (derived from its text or
// doc_title, per §4.6) followed by its text and a trailing blank line.
func renderChunk(c *store.Chunk) string {
	text := strings.TrimRight(c.ChunkText, "\n")
	if strings.HasPrefix(strings.TrimSpace(text), "#") {
		return text + "\n\n"
	}
	return headingFor(c.DocTitle) + "\n" + text + "\n\n"
}

// headingFor derives a Markdown heading from a doc_title, per §4.6: two
// underscore-separated parts get "## <last part>", three or more get
// "### <last part>", otherwise "## <full title>".
func headingFor(docTitle string) string {
	parts := strings.Split(docTitle, "_")
	switch {
	case len(parts) == 2:
		return "## " + parts[len(parts)-1]
	case len(parts) >= 3:
		return "### " + parts[len(parts)-1]
	default:
		return "## " + docTitle
	}
}
