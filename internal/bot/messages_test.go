package bot

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/lexiqai/voice-reader/internal/access"
)

func TestFormatVoices(t *testing.T) {
	got := formatVoices([]access.Voice{
		{ID: "2", Label: `"Metan" normal`},
		{ID: "13", Label: "Zundamon sweet"},
	})
	assert.Equal(t, "・02 Metan normal\n・13 Zundamon sweet\n", got)
}

func TestRangeMessage(t *testing.T) {
	assert.Equal(t, "Accepted voice ids: 0 ~ 1", rangeMessage(&access.RangeError{Candidate: 5, Length: 2}))
	assert.Equal(t, msgCatalogEmpty, rangeMessage(&access.RangeError{Candidate: 0}))
}

func TestSplitMessage(t *testing.T) {
	assert.Nil(t, splitMessage("", 10))
	assert.Equal(t, []string{"short\n"}, splitMessage("short\n", 10))

	// Lines are kept whole when they fit.
	assert.Equal(t, []string{"aaaa\nbbbb\n", "cccc\n"}, splitMessage("aaaa\nbbbb\ncccc\n", 10))

	long := strings.Repeat("あ", 25)
	chunks := splitMessage(long, 10)
	assert.Len(t, chunks, 3)
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 10)
	}
	assert.Equal(t, long, strings.Join(chunks, ""))
}

func TestSplitMessage_LargeCatalog(t *testing.T) {
	voices := make([]access.Voice, 200)
	for i := range voices {
		voices[i] = access.Voice{ID: "10", Label: strings.Repeat("x", 30)}
	}
	text := formatVoices(voices)
	chunks := splitMessage(text, MaxMessageLength)
	assert.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), MaxMessageLength)
		assert.True(t, strings.HasSuffix(c, "\n"))
	}
	assert.Equal(t, text, strings.Join(chunks, ""))
}
