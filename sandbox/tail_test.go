package sandbox

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncateTail(t *testing.T) {
	assert.Equal(t, "abc", truncateTail("abc", 4000))
	assert.Equal(t, "", truncateTail("", 4000))

	long := strings.Repeat("x", 3999) + "END"
	got := truncateTail(long, 4000)
	assert.Len(t, got, 4000)
	assert.True(t, strings.HasSuffix(got, "END"), "truncation keeps the trailing characters")
}

func TestTailDiff(t *testing.T) {
	tests := []struct {
		name     string
		prevLast string
		cur      string
		want     string
	}{
		{"first read returns everything", "", "line1\nline2\n", "line1\nline2\n"},
		{"only new lines after anchor", "line2", "line1\nline2\nline3\n", "line3\n"},
		{"no new output", "line2", "line1\nline2", ""},
		{"anchor gone returns full tail", "old", "fresh1\nfresh2\n", "fresh1\nfresh2\n"},
		{"empty current", "line1", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tailDiff(tt.prevLast, tt.cur))
		})
	}
}

func TestLastLine(t *testing.T) {
	assert.Equal(t, "line2", lastLine("line1\nline2\n"))
	assert.Equal(t, "only", lastLine("only"))
	assert.Equal(t, "", lastLine("\n\n"))
	assert.Equal(t, "", lastLine(""))
}
