package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/c360studio/nimbus/job"
)

// fencePattern matches a response wrapped in markdown code fences,
// optionally tagged as json.
var fencePattern = regexp.MustCompile("(?s)^```(?:json)?\\s*\\n?(.*?)\\s*```$")

// filesEnvelope is the expected shape of the model output.
type filesEnvelope struct {
	Files []job.GeneratedFile `json:"files"`
}

// ParseFiles extracts the generated file list from raw model output.
// Fenced JSON (```json ... ```) parses the same as bare JSON. On failure
// the error carries the first 500 characters of the content for diagnosis.
func ParseFiles(content string) ([]job.GeneratedFile, error) {
	trimmed := strings.TrimSpace(content)
	if m := fencePattern.FindStringSubmatch(trimmed); len(m) > 1 {
		trimmed = m[1]
	}

	var envelope filesEnvelope
	if err := json.Unmarshal([]byte(trimmed), &envelope); err != nil {
		return nil, NewFatalError(fmt.Errorf("parse generated files: %w (content: %s)", err, truncate(content, 500)))
	}

	if envelope.Files == nil {
		return nil, NewFatalError(fmt.Errorf("generated output has no files array (content: %s)", truncate(content, 500)))
	}
	if len(envelope.Files) == 0 {
		return nil, NewFatalError(fmt.Errorf("generated output has an empty files array"))
	}

	for i, f := range envelope.Files {
		if f.Path == "" {
			return nil, NewFatalError(fmt.Errorf("generated file %d has an empty path", i))
		}
		if strings.HasPrefix(f.Path, "/") {
			return nil, NewFatalError(fmt.Errorf("generated file path %q is absolute", f.Path))
		}
		if strings.Contains(f.Path, "..") {
			return nil, NewFatalError(fmt.Errorf("generated file path %q escapes the project root", f.Path))
		}
	}

	return envelope.Files, nil
}
