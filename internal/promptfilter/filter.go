// Package promptfilter strips fenced content blocks whose header names an
// excluded file before the prompt reaches the upstream model. This is a
// context-size control on the request path, not a correctness mechanism:
// well-formed fences that do not match pass through byte-for-byte.
package promptfilter

import (
	"path"
	"strings"

	"github.com/theblixguy/xcode-copilot-server-sub001/internal/logging"
	"github.com/theblixguy/xcode-copilot-server-sub001/internal/openai"
)

// Filter removes fenced blocks headed by an excluded filename.
type Filter struct {
	patterns []string
	logger   *logging.Leveled
}

// New creates a filter from exclusion patterns. Matching is a
// case-insensitive substring test against the filename portion of the fence
// header. Empty patterns are ignored; a filter with no patterns passes
// everything through.
func New(patterns []string, logger *logging.Leveled) *Filter {
	cleaned := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return &Filter{patterns: cleaned, logger: logger}
}

// Apply returns text with matching fenced blocks removed in full, including
// their surrounding fence markers. An unterminated fence is left untouched.
func (f *Filter) Apply(text string) string {
	if len(f.patterns) == 0 || !strings.Contains(text, "```") {
		return text
	}

	lines := strings.Split(text, "\n")
	var out []string
	removed := 0

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		header, isFence := fenceHeader(line)
		if !isFence {
			out = append(out, line)
			continue
		}
		end := findClosingFence(lines, i+1)
		if end < 0 {
			// No closing fence: pass the remainder through untouched.
			out = append(out, lines[i:]...)
			break
		}
		if name := headerFilename(header); name != "" && f.matches(name) {
			f.logger.Debugf("prompt filter removed fenced block for %q (%d lines)", name, end-i+1)
			removed++
			i = end
			continue
		}
		out = append(out, lines[i:end+1]...)
		i = end
	}

	if removed == 0 {
		return text
	}
	return strings.Join(out, "\n")
}

// ApplyToMessages filters the text content of every message in place-safe
// copy fashion.
func (f *Filter) ApplyToMessages(messages []openai.ChatMessage) []openai.ChatMessage {
	if len(f.patterns) == 0 {
		return messages
	}
	out := make([]openai.ChatMessage, len(messages))
	copy(out, messages)
	for i := range out {
		if out[i].Content != "" {
			out[i].Content = f.Apply(out[i].Content)
		}
	}
	return out
}

func (f *Filter) matches(filename string) bool {
	base := strings.ToLower(path.Base(strings.ReplaceAll(filename, "\\", "/")))
	for _, p := range f.patterns {
		if strings.Contains(base, p) {
			return true
		}
	}
	return false
}

// fenceHeader reports whether line opens a fenced block and returns the
// header text after the fence marker.
func fenceHeader(line string) (string, bool) {
	trimmed := strings.TrimLeft(line, " \t")
	if !strings.HasPrefix(trimmed, "```") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimLeft(trimmed, "`")), true
}

// findClosingFence returns the index of the closing fence line at or after
// from, or -1 when the block never closes.
func findClosingFence(lines []string, from int) int {
	for i := from; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if len(trimmed) >= 3 && strings.Trim(trimmed, "`") == "" {
			return i
		}
	}
	return -1
}

// headerFilename extracts the filename portion of a fence header. Headers
// look like "swift Sources/App/ContentView.swift" or just "Package.swift";
// the filename is the last whitespace-separated field that names a file.
func headerFilename(header string) string {
	fields := strings.Fields(header)
	if len(fields) == 0 {
		return ""
	}
	last := fields[len(fields)-1]
	if !looksLikeFilename(last) {
		// A bare language tag ("swift", "json") or trailing prose is not a
		// filename.
		return ""
	}
	return last
}

func looksLikeFilename(s string) bool {
	return strings.ContainsAny(s, "./\\")
}
