package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeadingStrategySplitsOnH2(t *testing.T) {
	content := "intro text\n\n## First\nfirst body\n\n## Second\nsecond body\n"
	units, err := Document(Input{Content: content, BaseName: "doc", SourceExt: "md"}, Options{})
	require.NoError(t, err)
	require.Len(t, units, 3)

	assert.Equal(t, "doc_概述", units[0].DocTitle)
	assert.Contains(t, units[0].ChunkText, "intro text")
	assert.Equal(t, "doc_First", units[1].DocTitle)
	assert.Contains(t, units[1].ChunkText, "first body")
	assert.Equal(t, "doc_Second", units[2].DocTitle)
}

func TestHeadingStrategyNoPreamble(t *testing.T) {
	content := "## Only\nbody text\n"
	units, err := Document(Input{Content: content, BaseName: "doc", SourceExt: "md"}, Options{})
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, "doc_Only", units[0].DocTitle)
}

func TestHeadingStrategyDisambiguatesDuplicateTitles(t *testing.T) {
	content := "## Overview\nfirst\n\n## Overview\nsecond\n"
	units, err := Document(Input{Content: content, BaseName: "doc", SourceExt: "md"}, Options{})
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, "doc_Overview", units[0].DocTitle)
	assert.Equal(t, "doc_Overview_2", units[1].DocTitle)
}

func TestHeadingStrategySplitsOversizedSectionOnH3(t *testing.T) {
	big := strings.Repeat("x", sectionSplitSize+100)
	content := "## Big\n### Sub1\n" + big + "\n### Sub2\nsmall\n"
	units, err := Document(Input{Content: content, BaseName: "doc", SourceExt: "md"}, Options{MaxTokens: 8192})
	require.NoError(t, err)

	var titles []string
	for _, u := range units {
		titles = append(titles, u.DocTitle)
	}
	assert.Contains(t, titles, "doc_Big_Sub2")
	found := false
	for _, title := range titles {
		if strings.HasPrefix(title, "doc_Big_Sub1") {
			found = true
		}
	}
	assert.True(t, found, "expected a recursively-split piece of the oversized Sub1 section")
}

func TestHeadingStrategyNeverProducesEmptyChunk(t *testing.T) {
	content := "## A\n\n## B\nbody\n"
	units, err := Document(Input{Content: content, BaseName: "doc", SourceExt: "md"}, Options{})
	require.NoError(t, err)
	for _, u := range units {
		assert.NotEmpty(t, strings.TrimSpace(u.ChunkText))
	}
}

func TestCleanHeadingStripsMarkupButKeepsCJK(t *testing.T) {
	assert.Equal(t, "标题 Title (v2)", cleanHeading("## 标题 Title! (v2)*"))
}
