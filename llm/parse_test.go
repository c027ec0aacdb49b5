package llm_test

import (
	"strings"
	"testing"

	"github.com/c360studio/nimbus/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFiles_BareJSON(t *testing.T) {
	files, err := llm.ParseFiles(`{"files":[{"path":"index.html","content":"<h1>hi</h1>"}]}`)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "index.html", files[0].Path)
	assert.Equal(t, "<h1>hi</h1>", files[0].Content)
}

func TestParseFiles_FencedJSON(t *testing.T) {
	fenced := "```json\n{\"files\":[{\"path\":\"a.js\",\"content\":\"x\"}]}\n```"
	bare := `{"files":[{"path":"a.js","content":"x"}]}`

	fromFenced, err := llm.ParseFiles(fenced)
	require.NoError(t, err)
	fromBare, err := llm.ParseFiles(bare)
	require.NoError(t, err)
	assert.Equal(t, fromBare, fromFenced)
}

func TestParseFiles_FencedWithoutLanguageTag(t *testing.T) {
	fenced := "```\n{\"files\":[{\"path\":\"a.js\",\"content\":\"x\"}]}\n```"
	files, err := llm.ParseFiles(fenced)
	require.NoError(t, err)
	require.Len(t, files, 1)
}

func TestParseFiles_SurroundingWhitespace(t *testing.T) {
	files, err := llm.ParseFiles("  \n{\"files\":[{\"path\":\"a\",\"content\":\"b\"}]}\n  ")
	require.NoError(t, err)
	require.Len(t, files, 1)
}

func TestParseFiles_InvalidJSONCarriesDiagnostic(t *testing.T) {
	long := "this is not json " + strings.Repeat("x", 1000)
	_, err := llm.ParseFiles(long)
	require.Error(t, err)
	assert.True(t, llm.IsFatal(err))
	// Only the first 500 characters of the raw content are attached.
	assert.Contains(t, err.Error(), "this is not json")
	assert.Less(t, len(err.Error()), 700)
}

func TestParseFiles_MissingFilesArray(t *testing.T) {
	_, err := llm.ParseFiles(`{"other":true}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no files array")
}

func TestParseFiles_EmptyFiles(t *testing.T) {
	_, err := llm.ParseFiles(`{"files":[]}`)
	require.Error(t, err)
}

func TestParseFiles_RejectsBadPaths(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"absolute", "/etc/passwd"},
		{"traversal", "../outside.txt"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := llm.ParseFiles(`{"files":[{"path":"` + tt.path + `","content":"x"}]}`)
			assert.Error(t, err)
		})
	}
}
