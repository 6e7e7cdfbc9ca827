package chunk

import (
	"strings"
	"unicode/utf8"
)

// separators is the cut-point priority order, highest first, per §4.3.
var separators = []string{"\n\n", "\n", "。", "！", "？", ".", "!", "?", "；", ";", "，", ",", " "}

// protectedRegion is a [start, end) byte range of content that must not be
// split: a Markdown table block or a LaTeX span.
type protectedRegion struct {
	start, end int
}

// recursiveSplit splits text into chunks of roughly targetSize chars (0
// means use the package default), overlapping by overlap chars, never
// cutting inside a Markdown table or a LaTeX span.
func recursiveSplit(text string, targetSize, overlap int) []string {
	if targetSize <= 0 {
		targetSize = recursiveTargetSize
	}
	if overlap <= 0 {
		overlap = recursiveOverlap
	}
	if text == "" {
		return nil
	}

	protected := findProtectedRegions(text)

	var out []string
	pos := 0
	for pos < len(text) {
		remaining := text[pos:]
		if len(remaining) <= targetSize {
			out = append(out, remaining)
			break
		}

		cut := findCutPoint(text, pos, targetSize, protected)
		piece := text[pos:cut]
		if strings.TrimSpace(piece) != "" {
			out = append(out, piece)
		}

		next := cut - overlap
		if next <= pos {
			next = cut
		}
		pos = clampOverlapStart(next, protected)
	}
	return nonEmpty(out)
}

// findCutPoint returns the absolute byte offset to cut text at, searching
// backwards from pos+targetSize for the highest-priority separator whose
// position does not fall inside a protected region. If no safe separator
// is found within the 200-char search window, it scans backwards in
// 10-char steps for any position outside a protected region; failing
// that, it cuts at the raw target.
func findCutPoint(text string, pos, targetSize int, protected []protectedRegion) int {
	target := pos + targetSize
	if target > len(text) {
		target = len(text)
	}
	windowStart := target - 200
	if windowStart < pos {
		windowStart = pos
	}

	for _, sep := range separators {
		if idx := lastSafeIndex(text, windowStart, target, sep, protected); idx >= 0 {
			return idx
		}
	}

	for cand := target; cand > windowStart; cand -= 10 {
		if cand <= pos {
			break
		}
		if !inProtectedRegion(cand, protected) {
			return cand
		}
	}

	return target
}

// lastSafeIndex returns the highest byte offset in [from, to) where sep
// occurs (cut point is just after sep) and that offset is not inside a
// protected region, or -1 if none exists.
func lastSafeIndex(text string, from, to int, sep string, protected []protectedRegion) int {
	search := text[from:to]
	last := strings.LastIndex(search, sep)
	for last >= 0 {
		cutAt := from + last + len(sep)
		if !inProtectedRegion(cutAt, protected) {
			return cutAt
		}
		last = strings.LastIndex(search[:last], sep)
	}
	return -1
}

// clampOverlapStart pushes an overlap backstep forward past the end of any
// protected region it would otherwise land inside, so the next chunk never
// starts mid-table or mid-LaTeX-span.
func clampOverlapStart(next int, regions []protectedRegion) int {
	for _, r := range regions {
		if next > r.start && next < r.end {
			return r.end
		}
	}
	return next
}

func inProtectedRegion(pos int, regions []protectedRegion) bool {
	for _, r := range regions {
		if pos > r.start && pos < r.end {
			return true
		}
	}
	return false
}

// findProtectedRegions locates Markdown table blocks and LaTeX spans that
// must not be split mid-way.
func findProtectedRegions(text string) []protectedRegion {
	var regions []protectedRegion
	regions = append(regions, findTableRegions(text)...)
	regions = append(regions, findLatexRegions(text)...)
	return regions
}

func findTableRegions(text string) []protectedRegion {
	var regions []protectedRegion
	lines := strings.Split(text, "\n")
	offset := 0
	blockStart := -1
	for _, line := range lines {
		lineLen := len(line) + 1 // account for the stripped \n
		if isTableLine(line) {
			if blockStart == -1 {
				blockStart = offset
			}
		} else if blockStart != -1 {
			regions = append(regions, protectedRegion{start: blockStart, end: offset})
			blockStart = -1
		}
		offset += lineLen
	}
	if blockStart != -1 {
		regions = append(regions, protectedRegion{start: blockStart, end: offset})
	}
	return regions
}

func isTableLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "|") || !strings.HasSuffix(trimmed, "|") {
		return false
	}
	return strings.Count(trimmed, "|") >= 2
}

func findLatexRegions(text string) []protectedRegion {
	var regions []protectedRegion
	regions = append(regions, findDelimited(text, "$$", "$$")...)
	// Inline $...$ spans, excluding any already covered by a $$ block.
	inline := findDelimited(text, "$", "$")
	for _, r := range inline {
		if !overlapsAny(r, regions) {
			regions = append(regions, r)
		}
	}
	return regions
}

func overlapsAny(r protectedRegion, regions []protectedRegion) bool {
	for _, other := range regions {
		if r.start < other.end && r.end > other.start {
			return true
		}
	}
	return false
}

// findDelimited finds non-overlapping [open...closeTag] spans.
func findDelimited(text, open, closeTag string) []protectedRegion {
	var regions []protectedRegion
	pos := 0
	for {
		start := strings.Index(text[pos:], open)
		if start < 0 {
			break
		}
		start += pos
		searchFrom := start + len(open)
		end := strings.Index(text[searchFrom:], closeTag)
		if end < 0 {
			break
		}
		end = searchFrom + end + len(closeTag)
		regions = append(regions, protectedRegion{start: start, end: end})
		pos = end
	}
	return regions
}

func nonEmpty(pieces []string) []string {
	var out []string
	for _, p := range pieces {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

// runePrefix returns the first n runes of s, CJK-safe.
func runePrefix(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	var b strings.Builder
	count := 0
	for _, r := range s {
		if count >= n {
			break
		}
		b.WriteRune(r)
		count++
	}
	return b.String()
}
