package chunk

import (
	"fmt"
	"regexp"
	"strings"
)

var pageMarkerPattern = regexp.MustCompile(`(?m)^<!--\s*Page\s+(\d+)\s*-->\s*$`)

func hasPageMarkers(content string) bool {
	return pageMarkerPattern.MatchString(content)
}

// pageStrategy splits a converted PDF into one chunk per "<!-- Page N -->"
// marker, recursively splitting any page that exceeds maxChunkSize.
type pageStrategy struct{}

func (pageStrategy) Chunk(in Input, opts Options) ([]Unit, error) {
	return markerStrategyChunk(in, opts, pageMarkerPattern, "第%s页", "第%d部分")
}

var slideMarkerPattern = regexp.MustCompile(`(?m)^<!--\s*Slide number:\s*(\d+)\s*-->\s*$`)
var slideNotesPattern = regexp.MustCompile(`(?s)###\s*Notes:.*$`)

// slideStrategy splits a converted PPTX into one chunk per slide marker,
// dropping any trailing "### Notes:" section from each slide's text.
type slideStrategy struct{}

func (slideStrategy) Chunk(in Input, opts Options) ([]Unit, error) {
	stripped := in
	stripped.Content = stripSlideNotesPerSlide(in.Content)
	return markerStrategyChunk(stripped, opts, slideMarkerPattern, "第%s页", "第%d部分")
}

func stripSlideNotesPerSlide(content string) string {
	matches := slideMarkerPattern.FindAllStringIndex(content, -1)
	if len(matches) == 0 {
		return slideNotesPattern.ReplaceAllString(content, "")
	}
	var b strings.Builder
	for i, m := range matches {
		end := len(content)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		section := content[m[0]:end]
		b.WriteString(slideNotesPattern.ReplaceAllString(section, ""))
	}
	if matches[0][0] > 0 {
		return content[:matches[0][0]] + b.String()
	}
	return b.String()
}

// markerStrategyChunk implements the shared "split on regex marker, one
// chunk per match, recursively split oversized matches" shape used by both
// the page and slide strategies.
func markerStrategyChunk(in Input, opts Options, marker *regexp.Regexp, titleFmt, partFmt string) ([]Unit, error) {
	size := maxChunkSize(opts)
	titles := newTitleDisambiguator()

	matches := marker.FindAllStringSubmatchIndex(in.Content, -1)
	if len(matches) == 0 {
		return headingStrategy{}.Chunk(in, opts)
	}

	var units []Unit
	for i, m := range matches {
		label := in.Content[m[2]:m[3]]
		bodyStart := m[1]
		bodyEnd := len(in.Content)
		if i+1 < len(matches) {
			bodyEnd = matches[i+1][0]
		}
		body := strings.TrimSpace(in.Content[bodyStart:bodyEnd])
		if body == "" {
			continue
		}
		title := fmt.Sprintf("%s_%s", in.BaseName, fmt.Sprintf(titleFmt, label))

		if len(body) <= size {
			units = append(units, Unit{DocTitle: titles.take(title), ChunkText: body})
			continue
		}

		parts := recursiveSplit(body, size, recursiveOverlap)
		for k, p := range parts {
			partTitle := fmt.Sprintf("%s_%s", title, fmt.Sprintf(partFmt, k+1))
			units = append(units, Unit{DocTitle: titles.take(partTitle), ChunkText: p})
		}
	}
	return units, nil
}
