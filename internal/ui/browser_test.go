package ui

import (
	"os"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/asheshgoplani/history-deck/internal/history"
)

// TestMain points HOME at a scratch dir so tests never read or create a real
// ~/.history-deck profile.
func TestMain(m *testing.M) {
	tmp, err := os.MkdirTemp("", "history-deck-ui-test")
	if err != nil {
		os.Exit(1)
	}
	os.Setenv("HOME", tmp)
	history.ClearUserConfigCache()

	code := m.Run()

	os.RemoveAll(tmp)
	os.Exit(code)
}

func summaryFixture(id, date, timeLabel, snippet string) *history.SessionSummary {
	return &history.SessionSummary{
		Path:      "/tmp/" + id + ".jsonl",
		CacheKey:  "/tmp/" + id + ".jsonl",
		Meta:      history.SessionMeta{ID: id},
		LocalDate: date,
		TimeLabel: timeLabel,
		Snippet:   snippet,
		CWDShort:  "~/work",
	}
}

func browserFixture() *Browser {
	cfg := &history.UserConfig{}
	b := NewBrowser(cfg, nil)
	b.width = 120
	b.height = 40
	b.index = history.BuildIndex("/tmp", []*history.SessionSummary{
		summaryFixture("a", "2024-05-02", "10:00", "fix the parser"),
		summaryFixture("b", "2024-05-02", "09:00", "alpha feature work"),
		summaryFixture("c", "2024-05-01", "18:00", "deploy question"),
	})
	b.rebuildRows()
	return b
}

func TestBrowserRowsGroupByDate(t *testing.T) {
	b := browserFixture()

	var headings []string
	sessions := 0
	for _, r := range b.rows {
		if r.kind == rowHeading {
			headings = append(headings, r.heading)
		} else {
			sessions++
		}
	}
	if len(headings) != 2 {
		t.Fatalf("expected 2 date headings, got %v", headings)
	}
	if headings[0] != "2024-05-02" || headings[1] != "2024-05-01" {
		t.Errorf("headings out of order: %v", headings)
	}
	if sessions != 3 {
		t.Errorf("expected 3 session rows, got %d", sessions)
	}
}

func TestBrowserCursorSkipsHeadings(t *testing.T) {
	b := browserFixture()

	// rows: [heading, a, b, heading, c]
	b.cursor = b.firstSessionRow()
	if b.rows[b.cursor].session.Meta.ID != "a" {
		t.Fatalf("expected cursor on a, got %s", b.rows[b.cursor].session.Meta.ID)
	}

	b.moveCursor(1)
	if b.rows[b.cursor].session.Meta.ID != "b" {
		t.Errorf("expected b, got %s", b.rows[b.cursor].session.Meta.ID)
	}

	// Next move has to hop over the second heading
	b.moveCursor(1)
	if b.rows[b.cursor].session.Meta.ID != "c" {
		t.Errorf("expected c, got %s", b.rows[b.cursor].session.Meta.ID)
	}

	// Moving past the end stays put
	b.moveCursor(1)
	if b.rows[b.cursor].session.Meta.ID != "c" {
		t.Errorf("cursor should not move past last row")
	}

	b.moveCursor(-1)
	if b.rows[b.cursor].session.Meta.ID != "b" {
		t.Errorf("expected b after moving back, got %s", b.rows[b.cursor].session.Meta.ID)
	}
}

func TestBrowserModeSwitching(t *testing.T) {
	b := browserFixture()

	b.handleKey(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'/'}})
	if b.mode != modeFilter {
		t.Error("/ should enter filter mode")
	}

	b.handleKey(tea.KeyMsg{Type: tea.KeyEsc})
	if b.mode != modeBrowse {
		t.Error("esc should leave filter mode")
	}

	b.handleKey(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'s'}})
	if b.mode != modeSearch {
		t.Error("s should enter search mode")
	}

	b.handleKey(tea.KeyMsg{Type: tea.KeyEsc})
	if b.mode != modeBrowse {
		t.Error("esc should leave search mode")
	}
}

func TestBrowserFuzzyFilter(t *testing.T) {
	b := browserFixture()

	b.mode = modeFilter
	b.filterInput.SetValue("alpha")
	b.rebuildRows()

	if len(b.rows) != 1 {
		t.Fatalf("expected 1 filtered row, got %d", len(b.rows))
	}
	if b.rows[0].session.Meta.ID != "b" {
		t.Errorf("expected session b, got %s", b.rows[0].session.Meta.ID)
	}
}

func TestBrowserScopeCycling(t *testing.T) {
	b := browserFixture()

	countSessions := func() int {
		n := 0
		for _, r := range b.rows {
			if r.kind == rowSession {
				n++
			}
		}
		return n
	}

	// all -> year -> month keep everything (all fixtures are 2024-05)
	b.cycleScope()
	if b.scope.Kind != history.ScopeYear || countSessions() != 3 {
		t.Fatalf("year scope: kind=%v sessions=%d", b.scope.Kind, countSessions())
	}
	b.cycleScope()
	if b.scope.Kind != history.ScopeMonth || countSessions() != 3 {
		t.Fatalf("month scope: kind=%v sessions=%d", b.scope.Kind, countSessions())
	}

	// day scope anchors on the newest session's date
	b.cycleScope()
	if b.scope.Kind != history.ScopeDay {
		t.Fatalf("expected day scope, got %v", b.scope.Kind)
	}
	if countSessions() != 2 {
		t.Errorf("expected 2 sessions on 2024-05-02, got %d", countSessions())
	}

	// one more cycle returns to all
	b.cycleScope()
	if b.scope.Kind != history.ScopeAll || countSessions() != 3 {
		t.Errorf("all scope: kind=%v sessions=%d", b.scope.Kind, countSessions())
	}
}

func TestBrowserStaleSearchResultsDropped(t *testing.T) {
	b := browserFixture()
	b.mode = modeSearch
	b.searchInput.SetValue("current")

	res := &history.SearchResultSet{
		Query:     "old",
		TotalHits: 1,
		PerSession: []*history.SessionHits{
			{Summary: summaryFixture("x", "2024-01-01", "08:00", "old hit")},
		},
	}
	b.Update(searchResultsMsg{query: "old", res: res})

	if b.results != nil {
		t.Error("results from a stale query should be discarded")
	}
}

func TestBrowserSearchResultsApplied(t *testing.T) {
	b := browserFixture()
	b.mode = modeSearch
	b.searchInput.SetValue("deploy")

	res := &history.SearchResultSet{
		Query:     "deploy",
		TotalHits: 2,
		PerSession: []*history.SessionHits{
			{
				Summary: summaryFixture("c", "2024-05-01", "18:00", "deploy question"),
				Hits: []history.SearchHit{
					{DisplayIndex: 1, Role: "user", Snippet: "how do I deploy"},
					{DisplayIndex: 4, Role: "assistant", Snippet: "deploy with make"},
				},
			},
		},
	}
	b.Update(searchResultsMsg{query: "deploy", res: res})

	if b.results == nil {
		t.Fatal("matching query results should be kept")
	}
	if len(b.rows) != 1 {
		t.Fatalf("expected 1 result row, got %d", len(b.rows))
	}
	if len(b.rows[0].hits) != 2 {
		t.Errorf("expected 2 hits on result row, got %d", len(b.rows[0].hits))
	}
}

func TestBrowserCloseSearchRestoresList(t *testing.T) {
	b := browserFixture()
	b.mode = modeSearch
	b.searchInput.SetValue("deploy")
	b.results = &history.SearchResultSet{Query: "deploy"}
	b.rebuildRows()

	b.closeSearch()

	if b.mode != modeBrowse {
		t.Error("closeSearch should return to browse mode")
	}
	if b.results != nil {
		t.Error("closeSearch should clear results")
	}
	var sessions int
	for _, r := range b.rows {
		if r.kind == rowSession {
			sessions++
		}
	}
	if sessions != 3 {
		t.Errorf("expected full list restored, got %d sessions", sessions)
	}
}

func TestBrowserRefreshDoneRebuildsRows(t *testing.T) {
	b := browserFixture()

	idx := history.BuildIndex("/tmp", []*history.SessionSummary{
		summaryFixture("z", "2024-06-01", "12:00", "fresh session"),
	})
	b.Update(refreshDoneMsg{res: &history.RefreshResult{Index: idx}})

	if b.refreshing {
		t.Error("refreshing flag should clear")
	}
	if len(b.rows) != 2 {
		t.Fatalf("expected heading + session, got %d rows", len(b.rows))
	}
	if b.rows[1].session.Meta.ID != "z" {
		t.Errorf("expected session z, got %s", b.rows[1].session.Meta.ID)
	}
}

func TestBrowserViewRenders(t *testing.T) {
	b := browserFixture()
	b.cursor = b.firstSessionRow()

	out := b.View()
	if out == "" {
		t.Fatal("View returned empty string")
	}
	if !strings.Contains(out, "2024-05-02") {
		t.Error("View should contain the newest date heading")
	}
}

func TestHighlightMatches(t *testing.T) {
	out := highlightMatches("the quick brown fox", "quick", 80)
	if !strings.Contains(out, "quick") {
		t.Error("highlighted text should still contain the match")
	}

	// Case-insensitive match keeps original casing
	out = highlightMatches("The QUICK brown fox", "quick", 80)
	if !strings.Contains(out, "QUICK") {
		t.Error("original casing should survive highlighting")
	}

	// No match passes through
	out = highlightMatches("nothing here", "zzz", 80)
	if !strings.Contains(out, "nothing here") {
		t.Error("text without matches should pass through")
	}
}

func TestWrapText(t *testing.T) {
	out := wrapText("one two three four five", 9)
	lines := strings.Split(out, "\n")
	if len(lines) < 2 {
		t.Fatalf("expected wrapping, got %q", out)
	}
	for _, line := range lines {
		if len(line) > 9 {
			t.Errorf("line %q exceeds width", line)
		}
	}

	if wrapText("short", 40) != "short" {
		t.Error("short text should be unchanged")
	}
}
