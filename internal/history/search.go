package history

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/asheshgoplani/history-deck/internal/logging"
)

var searchLog = logging.ForComponent(logging.CompSearch)

// DefaultMaxResults caps total hits when no limit is configured.
const DefaultMaxResults = 50

const (
	snippetBefore = 40
	snippetAfter  = 80
	snippetMaxLen = 160
)

// SearchOptions tune one search call.
type SearchOptions struct {
	// MaxResults caps total hits across all sessions; <= 0 uses
	// DefaultMaxResults.
	MaxResults int

	// CaseSensitive disables the default case folding.
	CaseSensitive bool
}

// ProgressFunc is called after each candidate file is processed.
type ProgressFunc func(scanned, total int)

// SearchHit is one matching message inside a session.
type SearchHit struct {
	// DisplayIndex is the 1-based position of the message among all user and
	// assistant messages in the file, so it stays meaningful when the full
	// conversation is opened.
	DisplayIndex int    `json:"displayIndex"`
	Role         string `json:"role"`
	Snippet      string `json:"snippet"`
}

// SessionHits groups a session's hits, ordered by display index.
type SessionHits struct {
	Summary *SessionSummary `json:"summary"`
	Hits    []SearchHit     `json:"hits"`
}

// SearchResultSet is the outcome of one completed search. PerSession follows
// candidate order, which is newest-first when candidates come from an index.
type SearchResultSet struct {
	Query      string         `json:"query"`
	Scope      DateScope      `json:"scope"`
	Scanned    int            `json:"scanned"`
	TotalHits  int            `json:"totalHits"`
	PerSession []*SessionHits `json:"perSession"`
}

// FilterCandidates narrows index sessions to a date scope and, when
// projectDir is non-empty, to sessions whose recorded working directory
// equals it. Order is preserved.
func FilterCandidates(sessions []*SessionSummary, scope DateScope, projectDir string) []*SessionSummary {
	out := make([]*SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		if !scope.Matches(s.LocalDate) {
			continue
		}
		if projectDir != "" && s.Meta.CWD != projectDir {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Search scans candidate rollout files sequentially for a substring match.
// Cancellation is checked before each file and before matching each line;
// once the context is done the partial results are discarded and ctx.Err is
// returned. Unreadable files are skipped. The scan stops as soon as the hit
// cap is reached, even mid-file.
func Search(ctx context.Context, candidates []*SessionSummary, query string, scope DateScope, opts SearchOptions, progress ProgressFunc) (*SearchResultSet, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("search query is empty")
	}
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	needle := query
	if !opts.CaseSensitive {
		needle = strings.ToLower(query)
	}

	result := &SearchResultSet{Query: query, Scope: scope}
	total := len(candidates)
	for i, cand := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hits, err := scanFileForHits(ctx, cand.Path, needle, opts.CaseSensitive, maxResults-result.TotalHits)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			logging.Aggregate(logging.CompSearch, "candidate_unreadable")
		}
		if len(hits) > 0 {
			result.PerSession = append(result.PerSession, &SessionHits{Summary: cand, Hits: hits})
			result.TotalHits += len(hits)
		}
		result.Scanned = i + 1
		if progress != nil {
			progress(i+1, total)
		}
		if result.TotalHits >= maxResults {
			break
		}
	}

	searchLog.Debug("search_complete",
		slog.String("query", query),
		slog.Int("candidates", total),
		slog.Int("scanned", result.Scanned),
		slog.Int("hits", result.TotalHits))
	return result, nil
}

// scanFileForHits streams one rollout file, producing at most remaining hits.
// Display indexes count every user and assistant message whether or not it
// matches.
func scanFileForHits(ctx context.Context, path, needle string, caseSensitive bool, remaining int) ([]SearchHit, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, scanInitialBuf), scanMaxBuf)

	var hits []SearchHit
	displayIndex := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, ok := parseLogLine(scanner.Bytes())
		if !ok || rec.Kind != RecordMessage {
			continue
		}
		role := rec.Message.Role
		if role != RoleUser && role != RoleAssistant {
			continue
		}
		displayIndex++
		if len(hits) >= remaining {
			continue
		}

		norm := normalizeText(rec.Message.Text)
		haystack := norm
		if !caseSensitive {
			haystack = strings.ToLower(norm)
		}
		byteIdx := strings.Index(haystack, needle)
		if byteIdx < 0 {
			continue
		}
		start := byteIndexToRuneIndex(haystack, byteIdx)
		matchRunes := utf8.RuneCountInString(needle)
		hits = append(hits, SearchHit{
			DisplayIndex: displayIndex,
			Role:         role,
			Snippet:      buildMatchSnippet(norm, start, matchRunes),
		})
	}
	if err := scanner.Err(); err != nil {
		// Keep what was found; the rest of the file is unreadable.
		logging.Aggregate(logging.CompSearch, "scan_interrupted")
	}
	return hits, nil
}

// buildMatchSnippet centers a single-line excerpt on the match: up to
// snippetBefore runes of left context and snippetAfter of right, ellipsized
// at clipped ends and hard-capped at snippetMaxLen runes.
func buildMatchSnippet(text string, matchStart, matchRunes int) string {
	runes := []rune(text)
	if matchStart > len(runes) {
		matchStart = len(runes)
	}
	from := matchStart - snippetBefore
	if from < 0 {
		from = 0
	}
	to := matchStart + matchRunes + snippetAfter
	if to > len(runes) {
		to = len(runes)
	}

	snippet := collapseWhitespace(string(runes[from:to]))
	if from > 0 {
		snippet = "..." + snippet
	}
	if to < len(runes) {
		snippet += "..."
	}
	if utf8.RuneCountInString(snippet) > snippetMaxLen {
		capped := []rune(snippet)
		snippet = string(capped[:snippetMaxLen-3]) + "..."
	}
	return snippet
}
