package chunk

import (
	"fmt"
	"regexp"
	"strings"
)

// headingStrategy splits on top-level "##" headings, falling through to
// "###" then to recursiveSplit for oversized sections. Used for
// .md/.docx/.txt sources and as the fallback for .pdf without page markers.
type headingStrategy struct{}

var (
	h2Pattern = regexp.MustCompile(`(?m)^##\s+(.+)$`)
	h3Pattern = regexp.MustCompile(`(?m)^###\s+(.+)$`)
)

func (headingStrategy) Chunk(in Input, opts Options) ([]Unit, error) {
	size := maxChunkSize(opts)
	titles := newTitleDisambiguator()

	sections := splitOnHeading(in.Content, h2Pattern)

	var units []Unit
	if sections[0].heading == "" && strings.TrimSpace(sections[0].body) != "" {
		units = append(units, Unit{
			DocTitle:  titles.take(fmt.Sprintf("%s_概述", in.BaseName)),
			ChunkText: strings.TrimSpace(sections[0].body),
		})
		sections = sections[1:]
	} else if sections[0].heading == "" {
		sections = sections[1:]
	}

	for _, sec := range sections {
		heading := cleanHeading(sec.heading)
		body := strings.TrimSpace(sec.body)
		if body == "" {
			continue
		}
		title := fmt.Sprintf("%s_%s", in.BaseName, heading)

		if len(body) <= sectionSplitSize {
			units = append(units, Unit{DocTitle: titles.take(title), ChunkText: body})
			continue
		}

		for _, subUnit := range splitOversizedSection(body, title, size, titles) {
			units = append(units, subUnit)
		}
	}

	return units, nil
}

// splitOversizedSection applies the ###-then-recursive fallback chain
// described in §4.3 for a heading section over sectionSplitSize chars.
func splitOversizedSection(body, title string, size int, titles *titleDisambiguator) []Unit {
	subsections := splitOnHeading(body, h3Pattern)
	if len(subsections) == 1 && subsections[0].heading == "" {
		return recursiveUnits(body, title, size, titles)
	}

	var out []Unit
	for _, sub := range subsections {
		subBody := strings.TrimSpace(sub.body)
		if subBody == "" {
			continue
		}
		subTitle := title
		if sub.heading != "" {
			subTitle = fmt.Sprintf("%s_%s", title, cleanHeading(sub.heading))
		}
		if len(subBody) <= subsectionFallback {
			out = append(out, Unit{DocTitle: titles.take(subTitle), ChunkText: subBody})
			continue
		}
		out = append(out, recursiveUnits(subBody, subTitle, size, titles)...)
	}
	return out
}

// recursiveUnits runs the shared recursive splitter and names each piece
// by appending a rune-safe prefix of its text, disambiguating collisions.
func recursiveUnits(body, baseTitle string, size int, titles *titleDisambiguator) []Unit {
	pieces := recursiveSplit(body, size, recursiveOverlap)
	out := make([]Unit, 0, len(pieces))
	for _, p := range pieces {
		suffix := cleanHeading(runePrefix(strings.TrimSpace(p), titleRuneCount))
		title := fmt.Sprintf("%s_%s", baseTitle, suffix)
		out = append(out, Unit{DocTitle: titles.take(title), ChunkText: p})
	}
	return out
}

type headingSection struct {
	heading string
	body    string
}

// splitOnHeading splits content on lines matching pattern, returning the
// preamble (heading == "") as the first element when non-empty content
// precedes the first match.
func splitOnHeading(content string, pattern *regexp.Regexp) []headingSection {
	matches := pattern.FindAllStringSubmatchIndex(content, -1)
	if len(matches) == 0 {
		return []headingSection{{heading: "", body: content}}
	}

	var sections []headingSection
	if matches[0][0] > 0 {
		sections = append(sections, headingSection{heading: "", body: content[:matches[0][0]]})
	}

	for i, m := range matches {
		heading := content[m[2]:m[3]]
		bodyStart := m[1]
		bodyEnd := len(content)
		if i+1 < len(matches) {
			bodyEnd = matches[i+1][0]
		}
		sections = append(sections, headingSection{heading: heading, body: content[bodyStart:bodyEnd]})
	}
	return sections
}

// cleanHeading strips leading "#" and any character not in
// {CJK, ASCII letter/digit, parentheses, whitespace}, per §4.3.
func cleanHeading(s string) string {
	s = strings.TrimLeft(s, "# \t")
	var b strings.Builder
	for _, r := range s {
		if isCJK(r) || isAlnum(r) || r == '(' || r == ')' || r == ' ' || r == '\t' {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) || // CJK Unified Ideographs
		(r >= 0x3000 && r <= 0x303F) || // CJK punctuation
		(r >= 0xFF00 && r <= 0xFFEF) // fullwidth forms
}

func isAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// titleDisambiguator appends a numeric suffix (_2, _3, ...) to any
// doc_title already taken within the same file, per §4.3/§9.
type titleDisambiguator struct {
	seen map[string]int
}

func newTitleDisambiguator() *titleDisambiguator {
	return &titleDisambiguator{seen: make(map[string]int)}
}

func (d *titleDisambiguator) take(title string) string {
	n, exists := d.seen[title]
	if !exists {
		d.seen[title] = 1
		return title
	}
	n++
	d.seen[title] = n
	return fmt.Sprintf("%s_%d", title, n)
}
