package history

import (
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Heuristics for turning raw rollout text into list-friendly strings:
// spotting scaffold prompts that should never become a session's snippet,
// collapsing whitespace, and shortening paths for narrow panes.

// boilerplatePrefixes mark user messages injected by tooling rather than
// typed by a person. They are excluded from snippets and previews.
var boilerplatePrefixes = []string{
	"<environment_context>",
	"<user_instructions>",
	"<permissions",
	"# AGENTS.md",
}

// titlePromptPrefixes mark auto-generated "name this session" prompts.
// Matched case-insensitively.
var titlePromptPrefixes = []string{
	"generate a short title",
	"generate a concise title",
	"please generate a title",
}

// requestExcerptMarker wraps the user's actual request inside composite
// prompts assembled by the CLI. Text after the marker is the real message.
const requestExcerptMarker = "## My request for Codex:"

// normalizeText converts CRLF to LF, drops stray carriage returns, and trims
// trailing whitespace. Leading whitespace is kept so prefix checks see the
// text as written.
func normalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.TrimRight(s, " \t\n")
}

// collapseWhitespace reduces every whitespace run to a single space and trims
// the ends, producing a single display line.
func collapseWhitespace(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	inSpace := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			inSpace = true
			continue
		}
		if inSpace && sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		inSpace = false
		sb.WriteRune(r)
	}
	return sb.String()
}

// isBoilerplate reports whether a user message is tooling scaffold rather
// than something a person typed.
func isBoilerplate(text string) bool {
	trimmed := strings.TrimLeft(text, " \t\n")
	for _, prefix := range boilerplatePrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return false
}

// isTitlePrompt reports whether a user message is an auto-generated title
// request. These yield the snippet slot to the assistant's reply.
func isTitlePrompt(text string) bool {
	trimmed := strings.ToLower(strings.TrimLeft(text, " \t\n"))
	for _, prefix := range titlePromptPrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return false
}

// requestExcerpt extracts the text after the request marker when present.
func requestExcerpt(text string) (string, bool) {
	idx := strings.Index(text, requestExcerptMarker)
	if idx < 0 {
		return "", false
	}
	return strings.TrimSpace(text[idx+len(requestExcerptMarker):]), true
}

// truncateText caps s at max runes, appending "..." when cut.
func truncateText(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + "..."
}

// shortenCWD makes a working directory presentable in a list row: the home
// prefix becomes ~ and long paths keep only their tail components.
func shortenCWD(path string) string {
	if path == "" {
		return ""
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		if path == home {
			return "~"
		}
		if strings.HasPrefix(path, home+string(filepath.Separator)) {
			path = "~" + path[len(home):]
		}
	}
	if utf8.RuneCountInString(path) <= 40 {
		return path
	}
	parts := strings.Split(path, string(filepath.Separator))
	if len(parts) <= 2 {
		return path
	}
	return "..." + string(filepath.Separator) + filepath.Join(parts[len(parts)-2:]...)
}

// byteIndexToRuneIndex converts a byte offset in s to a rune offset.
func byteIndexToRuneIndex(s string, byteIdx int) int {
	if byteIdx <= 0 {
		return 0
	}
	if byteIdx > len(s) {
		byteIdx = len(s)
	}
	return utf8.RuneCountInString(s[:byteIdx])
}
