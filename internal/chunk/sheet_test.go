package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSheetStrategySplitsOnSheetHeading(t *testing.T) {
	content := "## Sheet1\nrow a, row b\n\n## Sheet2\nrow c, row d\n"
	units, err := Document(Input{Content: content, BaseName: "workbook", SourceExt: "xlsx"}, Options{})
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, "workbook_Sheet1", units[0].DocTitle)
	assert.Equal(t, "workbook_Sheet2", units[1].DocTitle)
}

func TestSheetStrategySplitsOversizedSheetWithOverlap(t *testing.T) {
	big := strings.Repeat("cell,", 2000)
	content := "## BigSheet\n" + big
	units, err := Document(Input{Content: content, BaseName: "workbook", SourceExt: "xlsx"}, Options{MaxTokens: 512})
	require.NoError(t, err)
	require.Greater(t, len(units), 1)
	assert.Contains(t, units[0].DocTitle, "workbook_BigSheet_第1部分")
}
