package chunk

import (
	"fmt"
	"strings"
)

// sheetStrategy splits a converted XLSX into one chunk per "## <sheet
// name>" section, splitting any sheet over 2x maxChunkSize with a 10%
// overlap window. Content with no "## " sheet heading falls back to the
// heading strategy.
type sheetStrategy struct{}

func (sheetStrategy) Chunk(in Input, opts Options) ([]Unit, error) {
	size := maxChunkSize(opts)
	titles := newTitleDisambiguator()

	sections := splitOnHeading(in.Content, h2Pattern)
	hasSheet := false
	for _, sec := range sections {
		if sec.heading != "" {
			hasSheet = true
			break
		}
	}
	if !hasSheet {
		return headingStrategy{}.Chunk(in, opts)
	}

	var units []Unit
	for _, sec := range sections {
		if sec.heading == "" {
			continue // sheet exports have no meaningful preamble
		}
		body := strings.TrimSpace(sec.body)
		if body == "" {
			continue
		}
		sheetName := cleanHeading(sec.heading)
		title := fmt.Sprintf("%s_%s", in.BaseName, sheetName)

		if len(body) <= 2*size {
			units = append(units, Unit{DocTitle: titles.take(title), ChunkText: body})
			continue
		}

		overlap := int(float64(size) * sheetOverlapFraction)
		for k, p := range recursiveSplit(body, size, overlap) {
			partTitle := fmt.Sprintf("%s_第%d部分", title, k+1)
			units = append(units, Unit{DocTitle: titles.take(partTitle), ChunkText: p})
		}
	}
	return units, nil
}
