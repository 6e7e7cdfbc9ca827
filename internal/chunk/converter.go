package chunk

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	kberrors "github.com/pieceproject/kbd/internal/errors"
)

// Converter turns a source file into Markdown content that a Strategy can
// chunk. Office-format conversion (.pdf/.pptx/.xlsx) is out of scope for
// this module (§4.3 Non-goals); PassthroughConverter returns a clear fatal
// error for those extensions instead of silently mis-chunking binary data.
type Converter interface {
	Convert(ctx context.Context, path, ext string) (markdown string, err error)
}

// PassthroughConverter handles .md/.txt by reading bytes directly and
// .docx with a minimal paragraph extractor, sufficient to exercise the
// Heading chunker end to end without a real office-document parser.
type PassthroughConverter struct{}

func (PassthroughConverter) Convert(_ context.Context, path, ext string) (string, error) {
	switch ext {
	case "md", "txt":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", kberrors.Fatal("read "+ext+" file", err)
		}
		if !utf8.Valid(data) {
			return "", kberrors.Fatal(fmt.Sprintf("%s file is not valid UTF-8", path), nil)
		}
		return string(data), nil
	case "docx":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", kberrors.Fatal("read docx file", err)
		}
		return extractDocxParagraphs(data), nil
	case "pdf", "pptx", "xlsx":
		return "", kberrors.Fatal(fmt.Sprintf("conversion unavailable for %s", ext), nil)
	default:
		return "", kberrors.Fatal(fmt.Sprintf("conversion unavailable for %s", ext), nil)
	}
}

var docxTagPattern = regexp.MustCompile(`<[^>]+>`)

// extractDocxParagraphs strips a minimal subset of OOXML-like markup down
// to its text content. It is not a real DOCX parser: it exists to give the
// Heading chunker something structurally plausible to run against in
// tests, per §4.3's "minimal paragraph extractor sufficient to exercise
// the Heading chunker" scope.
func extractDocxParagraphs(data []byte) string {
	text := docxTagPattern.ReplaceAllString(string(data), "\n")
	lines := strings.Split(text, "\n")
	var out []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return strings.Join(out, "\n\n")
}
