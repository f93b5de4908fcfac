package presets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExample(t *testing.T) {
	got, warnings := Parse("Launch day|2020-01-01\nBad Line\nAnniversary|2021-01-01")

	require.Len(t, got, 2)
	assert.Equal(t, Preset{Label: "Launch day", Value: "2020-01-01"}, got[0])
	assert.Equal(t, Preset{Label: "Anniversary", Value: "2021-01-01"}, got[1])

	require.Len(t, warnings, 1)
	assert.Equal(t, 2, warnings[0].Line)
	assert.Equal(t, "Bad Line", warnings[0].Text)
}

func TestParseSplitsOnLastPipe(t *testing.T) {
	got, warnings := Parse("Before | after the war|1946-05-01\r\n")
	assert.Empty(t, warnings)
	require.Len(t, got, 1)
	assert.Equal(t, "Before | after the war", got[0].Label)
	assert.Equal(t, "1946-05-01", got[0].Value)
}

func TestParseSkipsBlankAndBadDates(t *testing.T) {
	got, warnings := Parse("\n   \nSoon|next week\n|2001-09-09\n")
	require.Len(t, got, 1)
	assert.Equal(t, "2001-09-09", got[0].Label)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].String(), "line 3")
}

func TestParseEmpty(t *testing.T) {
	got, warnings := Parse("")
	assert.Empty(t, got)
	assert.Empty(t, warnings)
}
