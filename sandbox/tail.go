package sandbox

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	// maxTailLines bounds the in-sandbox tail command.
	maxTailLines = 200
	// maxTailChars bounds what is streamed or attached to errors.
	maxTailChars = 4000
	// tailExecTimeout bounds the tail command itself.
	tailExecTimeout = 10 * time.Second
)

// readLogTail reads the last maxTailLines lines of a log file inside the
// sandbox, truncated to the trailing maxTailChars characters. Missing files
// read as empty.
func readLogTail(ctx context.Context, rt Runtime, path string) string {
	result, err := rt.Exec(ctx, fmt.Sprintf("tail -n %d %s 2>/dev/null || true", maxTailLines, path), tailExecTimeout)
	if err != nil {
		return ""
	}
	return truncateTail(result.Stdout, maxTailChars)
}

// truncateTail keeps the trailing limit characters of s.
func truncateTail(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[len(s)-limit:]
}

// tailDiff returns the content of cur that follows the previous read. The
// streamer diffs against the last known trailing line so only new lines are
// emitted; when the anchor line is gone (rotation, very fast output) the
// whole current tail is new.
func tailDiff(prevLastLine, cur string) string {
	if cur == "" {
		return ""
	}
	if prevLastLine == "" {
		return cur
	}
	idx := strings.LastIndex(cur, prevLastLine)
	if idx < 0 {
		return cur
	}
	rest := cur[idx+len(prevLastLine):]
	return strings.TrimPrefix(rest, "\n")
}

// lastLine returns the final non-empty line of s.
func lastLine(s string) string {
	trimmed := strings.TrimRight(s, "\n")
	if trimmed == "" {
		return ""
	}
	if idx := strings.LastIndex(trimmed, "\n"); idx >= 0 {
		return trimmed[idx+1:]
	}
	return trimmed
}
