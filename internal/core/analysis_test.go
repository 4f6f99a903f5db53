package core

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRosterActiveExcludesSentinel(t *testing.T) {
	roster := Roster{
		{Actor: "technical", Model: "model-a"},
		{Actor: ConclusionModelSentinel, Model: "model-c"},
		{Actor: "fundamental", Model: "model-b"},
	}

	active := roster.Active()
	require.Len(t, active, 2)
	assert.Equal(t, "technical", active[0].Actor)
	assert.Equal(t, "fundamental", active[1].Actor)
}

func TestRosterConclusionModel(t *testing.T) {
	tests := []struct {
		name   string
		roster Roster
		want   string
	}{
		{
			name: "sentinel wins",
			roster: Roster{
				{Actor: "technical", Model: "model-a"},
				{Actor: ConclusionModelSentinel, Model: "model-c"},
			},
			want: "model-c",
		},
		{
			name: "falls back to first active",
			roster: Roster{
				{Actor: "technical", Model: "model-a"},
				{Actor: "fundamental", Model: "model-b"},
			},
			want: "model-a",
		},
		{
			name: "sentinel with empty model ignored",
			roster: Roster{
				{Actor: ConclusionModelSentinel, Model: ""},
				{Actor: "technical", Model: "model-a"},
			},
			want: "model-a",
		},
		{
			name:   "empty roster",
			roster: Roster{},
			want:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.roster.ConclusionModel())
		})
	}
}

func TestRosterValidate(t *testing.T) {
	assert.NoError(t, Roster{{Actor: "technical", Model: "m"}}.Validate())

	err := Roster{}.Validate()
	require.Error(t, err)
	assert.True(t, IsCategory(err, ErrCatValidation))

	// A sentinel-only roster has no analysts to run.
	err = Roster{{Actor: ConclusionModelSentinel, Model: "m"}}.Validate()
	require.Error(t, err)
	assert.True(t, IsCategory(err, ErrCatValidation))
}

func TestTranscriptAppendOnly(t *testing.T) {
	tr := &Transcript{}
	assert.Equal(t, 0, tr.Len())
	assert.Empty(t, tr.Text())

	tr.Append(RoundResult{Actor: "technical", Content: "bullish", Round: 1})
	tr.Append(RoundResult{Actor: "fundamental", Content: "overvalued", Round: 1})
	tr.Append(RoundResult{Actor: "technical", Content: "still bullish", Round: 2})

	require.Equal(t, 3, tr.Len())

	// Results returns a copy; mutating it must not affect the transcript.
	results := tr.Results()
	results[0].Content = "mutated"
	assert.Equal(t, "bullish", tr.Results()[0].Content)

	text := tr.Text()
	assert.Contains(t, text, "=== Round 1 ===")
	assert.Contains(t, text, "=== Round 2 ===")
	assert.Contains(t, text, "[technical]")
	assert.Contains(t, text, "overvalued")

	// Round headers appear once per round, in order.
	assert.Less(t,
		strings.Index(text, "=== Round 1 ==="),
		strings.Index(text, "=== Round 2 ==="))
}

func TestNewCallStats(t *testing.T) {
	stats := NewCallStats("hello analysis world", "model-a", 1.5)
	assert.Equal(t, 20, stats.CharCount)
	assert.Equal(t, 3, stats.WordCount)
	assert.Equal(t, 1.5, stats.Elapsed)
	assert.Equal(t, "model-a", stats.Model)
}
