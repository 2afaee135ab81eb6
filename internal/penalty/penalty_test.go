package penalty

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"Tab-Switch":        "tab_switch",
		"  COPY-paste ":     "copy_paste",
		"multiple faces":    "multiple_faces",
		"already_canonical": "already_canonical",
	}
	for in, want := range cases {
		assert.Equal(t, want, Normalize(in), in)
	}
}

func TestLookupKnownType(t *testing.T) {
	table := Standard()
	e := table.Lookup("Multiple-Faces")
	assert.True(t, e.Known)
	assert.Equal(t, "multiple_faces", e.Type)
	assert.Equal(t, SeverityHigh, e.Severity)
	assert.Equal(t, 10, e.Points)
}

func TestLookupUnknownTypeGetsDefault(t *testing.T) {
	e := Standard().Lookup("Brand-New Signal")
	assert.False(t, e.Known)
	assert.Equal(t, "brand_new_signal", e.Type)
	assert.Equal(t, Default.Points, e.Points)
	assert.Equal(t, Default.Severity, e.Severity)
}

func TestParseSeverity(t *testing.T) {
	s, err := ParseSeverity(" HIGH ")
	require.NoError(t, err)
	assert.Equal(t, SeverityHigh, s)

	_, err = ParseSeverity("critical")
	assert.Error(t, err)

	assert.Less(t, SeverityLow.Rank(), SeverityMedium.Rank())
	assert.Less(t, SeverityMedium.Rank(), SeverityHigh.Rank())
	assert.Zero(t, Severity("bogus").Rank())
}

func TestEntriesAreCopies(t *testing.T) {
	table := NewTable(map[string]Entry{"X-Y": {Severity: SeverityLow, Points: 1}})
	entries := table.Entries()
	require.Len(t, entries, 1)
	entries[0].Points = 99
	assert.Equal(t, 1, table.Lookup("x_y").Points)
}
