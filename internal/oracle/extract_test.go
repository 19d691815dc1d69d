package oracle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractJSONFencedObject(t *testing.T) {
	got, ok := ExtractJSON("prefix ```json\n{\"a\":1}\n``` suffix")
	assert.True(t, ok)
	assert.Equal(t, `{"a":1}`, got)
}

func TestExtractJSONArray(t *testing.T) {
	got, ok := ExtractJSON("Here are the conditions:\n[\"a\", \"b\"]\nDone.")
	assert.True(t, ok)
	assert.Equal(t, `["a", "b"]`, got)
}

func TestExtractJSONNoBrackets(t *testing.T) {
	_, ok := ExtractJSON("no structured payload here")
	assert.False(t, ok)
}

func TestExtractJSONFirstBracketKindWins(t *testing.T) {
	// Leading array bracket selects array extraction even with a later object.
	got, ok := ExtractJSON(`[{"a":1},{"b":2}] trailing`)
	assert.True(t, ok)
	assert.Equal(t, `[{"a":1},{"b":2}]`, got)
}

func TestExtractJSONUnclosed(t *testing.T) {
	_, ok := ExtractJSON("{ never closed")
	assert.False(t, ok)
}
