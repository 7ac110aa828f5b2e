package history

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sessionFixture writes a rollout file and returns a summary pointing at it,
// the way an index would hand candidates to Search.
func sessionFixture(t *testing.T, dir, id, date string, lines ...string) *SessionSummary {
	t.Helper()
	path := filepath.Join(dir, "rollout-"+id+".jsonl")
	all := append([]string{metaLine(id, date+"T10:00:00Z", "/home/dev/proj")}, lines...)
	writeRollout(t, path, all...)
	return &SessionSummary{
		Path:      path,
		CacheKey:  path,
		Meta:      SessionMeta{ID: id, CWD: "/home/dev/proj"},
		LocalDate: date,
		TimeLabel: "10:00",
	}
}

func scopeAll() DateScope { return DateScope{Kind: ScopeAll} }

func TestSearchSingleHit(t *testing.T) {
	dir := t.TempDir()
	cand := sessionFixture(t, dir, "A", "2024-05-01", messageLine("user", "hello world"))

	res, err := Search(context.Background(), []*SessionSummary{cand}, "world", scopeAll(), SearchOptions{}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, res.TotalHits)
	require.Len(t, res.PerSession, 1)
	require.Len(t, res.PerSession[0].Hits, 1)
	hit := res.PerSession[0].Hits[0]
	assert.Equal(t, 1, hit.DisplayIndex)
	assert.Equal(t, RoleUser, hit.Role)
	assert.Equal(t, "hello world", hit.Snippet)
}

func TestSearchDisplayIndexCountsAllMessages(t *testing.T) {
	dir := t.TempDir()
	cand := sessionFixture(t, dir, "A", "2024-05-01",
		messageLine("assistant", "alpha beta"),
		messageLine("user", "<environment_context>beta inside</environment_context>"),
		toolCallLine("shell"),
		messageLine("user", "find beta here"),
		messageLine("assistant", "nothing relevant"),
	)

	res, err := Search(context.Background(), []*SessionSummary{cand}, "beta", scopeAll(), SearchOptions{}, nil)
	require.NoError(t, err)

	require.Len(t, res.PerSession, 1)
	hits := res.PerSession[0].Hits
	require.Len(t, hits, 3)
	// Tool calls do not advance the display index; every user/assistant
	// message does, matching or not
	assert.Equal(t, 1, hits[0].DisplayIndex)
	assert.Equal(t, RoleAssistant, hits[0].Role)
	assert.Equal(t, 2, hits[1].DisplayIndex)
	assert.Equal(t, 3, hits[2].DisplayIndex)
}

func TestSearchCapStopsMidFile(t *testing.T) {
	dir := t.TempDir()
	a := sessionFixture(t, dir, "A", "2024-05-02",
		messageLine("user", "needle one"),
		messageLine("user", "needle two"),
		messageLine("user", "needle three"),
	)
	b := sessionFixture(t, dir, "B", "2024-05-01",
		messageLine("user", "needle four"),
	)

	progressCalls := 0
	res, err := Search(context.Background(), []*SessionSummary{a, b}, "needle", scopeAll(),
		SearchOptions{MaxResults: 2}, func(scanned, total int) { progressCalls++ })
	require.NoError(t, err)

	assert.Equal(t, 2, res.TotalHits, "cap must be exact")
	require.Len(t, res.PerSession, 1)
	require.Len(t, res.PerSession[0].Hits, 2)
	assert.Equal(t, 1, res.PerSession[0].Hits[0].DisplayIndex)
	assert.Equal(t, 2, res.PerSession[0].Hits[1].DisplayIndex)
	assert.Equal(t, 1, res.Scanned, "second file must not be scanned")
	assert.Equal(t, 1, progressCalls)
}

func TestSearchCancelledBeforeScan(t *testing.T) {
	dir := t.TempDir()
	cand := sessionFixture(t, dir, "A", "2024-05-01", messageLine("user", "hello world"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	progressCalls := 0
	res, err := Search(ctx, []*SessionSummary{cand}, "world", scopeAll(), SearchOptions{},
		func(scanned, total int) { progressCalls++ })

	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res, "cancelled search must discard partial results")
	assert.Equal(t, 0, progressCalls, "no file may be processed after cancellation")
}

func TestSearchCaseSensitivity(t *testing.T) {
	dir := t.TempDir()
	cand := sessionFixture(t, dir, "A", "2024-05-01", messageLine("user", "Hello World"))

	res, err := Search(context.Background(), []*SessionSummary{cand}, "world", scopeAll(), SearchOptions{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalHits, "default matching is case-insensitive")

	res, err = Search(context.Background(), []*SessionSummary{cand}, "world", scopeAll(),
		SearchOptions{CaseSensitive: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.TotalHits)

	res, err = Search(context.Background(), []*SessionSummary{cand}, "World", scopeAll(),
		SearchOptions{CaseSensitive: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalHits)
}

func TestSearchSnippetWindow(t *testing.T) {
	dir := t.TempDir()
	text := strings.Repeat("a", 100) + "NEEDLE" + strings.Repeat("b", 200)
	cand := sessionFixture(t, dir, "A", "2024-05-01", messageLine("user", text))

	res, err := Search(context.Background(), []*SessionSummary{cand}, "NEEDLE", scopeAll(), SearchOptions{}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, res.TotalHits)

	snippet := res.PerSession[0].Hits[0].Snippet
	assert.True(t, strings.HasPrefix(snippet, "..."), "left context was clipped")
	assert.True(t, strings.HasSuffix(snippet, "..."), "right context was clipped")
	assert.Contains(t, snippet, strings.Repeat("a", 40)+"NEEDLE"+strings.Repeat("b", 80))
	assert.NotContains(t, snippet, strings.Repeat("a", 41))
}

func TestSearchSnippetHardCap(t *testing.T) {
	dir := t.TempDir()
	needle := strings.Repeat("x", 100)
	text := strings.Repeat("a", 50) + needle + strings.Repeat("b", 50)
	cand := sessionFixture(t, dir, "A", "2024-05-01", messageLine("user", text))

	res, err := Search(context.Background(), []*SessionSummary{cand}, needle, scopeAll(), SearchOptions{}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, res.TotalHits)

	snippet := res.PerSession[0].Hits[0].Snippet
	assert.LessOrEqual(t, utf8.RuneCountInString(snippet), 160)
	assert.True(t, strings.HasSuffix(snippet, "..."))
}

func TestSearchSnippetSingleLine(t *testing.T) {
	dir := t.TempDir()
	cand := sessionFixture(t, dir, "A", "2024-05-01",
		messageLine("user", "before\n\nthe needle line\n\tafter"))

	res, err := Search(context.Background(), []*SessionSummary{cand}, "needle", scopeAll(), SearchOptions{}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, res.TotalHits)

	snippet := res.PerSession[0].Hits[0].Snippet
	assert.NotContains(t, snippet, "\n")
	assert.Contains(t, snippet, "before the needle line after")
}

func TestSearchSessionsNewestFirst(t *testing.T) {
	dir := t.TempDir()
	newer := sessionFixture(t, dir, "new", "2024-05-02", messageLine("user", "shared term"))
	older := sessionFixture(t, dir, "old", "2024-05-01", messageLine("user", "shared term"))

	res, err := Search(context.Background(), []*SessionSummary{newer, older}, "shared", scopeAll(), SearchOptions{}, nil)
	require.NoError(t, err)

	require.Len(t, res.PerSession, 2)
	assert.Equal(t, "new", res.PerSession[0].Summary.Meta.ID)
	assert.Equal(t, "old", res.PerSession[1].Summary.Meta.ID)
}

func TestSearchSkipsUnreadableFiles(t *testing.T) {
	dir := t.TempDir()
	good := sessionFixture(t, dir, "good", "2024-05-02", messageLine("user", "hello world"))
	missing := &SessionSummary{
		Path:      filepath.Join(dir, "rollout-vanished.jsonl"),
		LocalDate: "2024-05-01",
	}

	progressCalls := 0
	res, err := Search(context.Background(), []*SessionSummary{missing, good}, "world", scopeAll(),
		SearchOptions{}, func(scanned, total int) { progressCalls++ })
	require.NoError(t, err)

	assert.Equal(t, 1, res.TotalHits)
	assert.Equal(t, 2, progressCalls, "progress still reports skipped files")
}

func TestSearchProgressAfterEachFile(t *testing.T) {
	dir := t.TempDir()
	var cands []*SessionSummary
	for _, id := range []string{"a", "b", "c"} {
		cands = append(cands, sessionFixture(t, dir, id, "2024-05-01", messageLine("user", "nothing here")))
	}

	var seen [][2]int
	res, err := Search(context.Background(), cands, "absent-term", scopeAll(), SearchOptions{},
		func(scanned, total int) { seen = append(seen, [2]int{scanned, total}) })
	require.NoError(t, err)

	assert.Equal(t, 0, res.TotalHits)
	assert.Equal(t, [][2]int{{1, 3}, {2, 3}, {3, 3}}, seen)
}

func TestSearchEmptyQuery(t *testing.T) {
	_, err := Search(context.Background(), nil, "   ", scopeAll(), SearchOptions{}, nil)
	require.Error(t, err)
}

func TestFilterCandidates(t *testing.T) {
	sessions := []*SessionSummary{
		{LocalDate: "2024-05-02", Meta: SessionMeta{ID: "a", CWD: "/home/dev/proj"}},
		{LocalDate: "2024-05-01", Meta: SessionMeta{ID: "b", CWD: "/home/dev/other"}},
		{LocalDate: "2024-04-01", Meta: SessionMeta{ID: "c", CWD: "/home/dev/proj"}},
	}

	month, _ := ParseScope("2024-05")
	got := FilterCandidates(sessions, month, "")
	if len(got) != 2 {
		t.Fatalf("scope filter: got %d, want 2", len(got))
	}

	got = FilterCandidates(sessions, scopeAll(), "/home/dev/proj")
	if len(got) != 2 || got[0].Meta.ID != "a" || got[1].Meta.ID != "c" {
		t.Fatalf("cwd filter: got %v", got)
	}

	got = FilterCandidates(sessions, month, "/home/dev/proj")
	if len(got) != 1 || got[0].Meta.ID != "a" {
		t.Fatalf("combined filter: got %v", got)
	}
}
