package ui

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"github.com/sahilm/fuzzy"

	"github.com/asheshgoplani/history-deck/internal/clipboard"
	"github.com/asheshgoplani/history-deck/internal/history"
	"github.com/asheshgoplani/history-deck/internal/logging"
)

var uiLog = logging.ForComponent(logging.CompUI)

const searchDebounce = 250 * time.Millisecond

type viewMode int

const (
	modeBrowse viewMode = iota
	modeFilter
	modeSearch
)

type rowKind int

const (
	rowHeading rowKind = iota
	rowSession
)

// listRow is one rendered line of the left pane: either a date heading or a
// session, optionally annotated with search hits.
type listRow struct {
	kind    rowKind
	heading string
	session *history.SessionSummary
	hits    []history.SearchHit
}

// Messages

type refreshDoneMsg struct {
	res *history.RefreshResult
	err error
}

type searchDebounceMsg struct {
	query string
}

type searchResultsMsg struct {
	query string
	res   *history.SearchResultSet
	err   error
}

type searchProgressMsg struct {
	scanned int
	total   int
}

type themeChangedMsg struct {
	isDark bool
}

// WatchRefreshMsg asks the browser to reload the index. The watch daemon
// sends it through tea.Program.Send when rollout files change.
type WatchRefreshMsg struct{}

// Browser is the interactive session browser: a date-grouped list with a
// preview pane, a fuzzy quick-filter, and a debounced full-text search
// overlay.
type Browser struct {
	cfg       *history.UserConfig
	refresher *history.Refresher

	index *history.HistoryIndex
	rows  []listRow
	scope history.DateScope

	cursor int
	width  int
	height int

	mode        viewMode
	filterInput textinput.Model
	searchInput textinput.Model

	lastQuery    string
	searching    bool
	searchCancel context.CancelFunc
	results      *history.SearchResultSet
	progressCh   chan searchProgressMsg
	scanned      int
	total        int

	refreshing bool
	status     string
	errMsg     string

	themeWatcher *ThemeWatcher
}

// NewBrowser builds the model. The first index load happens in Init.
func NewBrowser(cfg *history.UserConfig, refresher *history.Refresher) *Browser {
	filter := textinput.New()
	filter.Placeholder = "filter sessions"
	filter.Prompt = "/"
	filter.CharLimit = 120

	search := textinput.New()
	search.Placeholder = "search conversations"
	search.Prompt = "> "
	search.CharLimit = 200

	b := &Browser{
		cfg:         cfg,
		refresher:   refresher,
		filterInput: filter,
		searchInput: search,
		progressCh:  make(chan searchProgressMsg, 16),
	}
	if history.GetTheme() == "system" {
		b.themeWatcher = NewThemeWatcher(context.Background())
	}
	return b
}

func (b *Browser) Init() tea.Cmd {
	cmds := []tea.Cmd{b.refreshCmd(false)}
	if b.themeWatcher != nil {
		cmds = append(cmds, b.waitForThemeChange())
	}
	return tea.Batch(cmds...)
}

// Close releases background resources. Call after the program exits.
func (b *Browser) Close() {
	if b.searchCancel != nil {
		b.searchCancel()
	}
	if b.themeWatcher != nil {
		b.themeWatcher.Close()
	}
}

func (b *Browser) refreshCmd(force bool) tea.Cmd {
	b.refreshing = true
	return func() tea.Msg {
		res, err := b.refresher.RefreshDetailed(context.Background(), force)
		return refreshDoneMsg{res: res, err: err}
	}
}

func (b *Browser) waitForThemeChange() tea.Cmd {
	return func() tea.Msg {
		isDark, ok := <-b.themeWatcher.ChangeChannel()
		if !ok {
			return nil
		}
		return themeChangedMsg{isDark: isDark}
	}
}

func (b *Browser) waitForProgress() tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-b.progressCh
		if !ok {
			return nil
		}
		return msg
	}
}

func (b *Browser) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		b.width = msg.Width
		b.height = msg.Height
		return b, nil

	case refreshDoneMsg:
		b.refreshing = false
		if msg.err != nil {
			b.errMsg = msg.err.Error()
			return b, nil
		}
		b.errMsg = ""
		b.index = msg.res.Index
		b.status = fmt.Sprintf("%d sessions (%d reused, %d extracted)",
			len(b.index.Sessions), msg.res.Stats.Reused, msg.res.Stats.Extracted)
		b.rebuildRows()
		return b, nil

	case searchDebounceMsg:
		// Only fire if the input settled on this query
		if b.mode == modeSearch && msg.query == b.currentQuery() && msg.query != b.lastQuery {
			return b, b.startSearch(msg.query)
		}
		return b, nil

	case searchResultsMsg:
		// Stale results from an earlier query are dropped
		if msg.query != b.currentQuery() {
			return b, nil
		}
		b.searching = false
		if msg.err != nil {
			if msg.err != context.Canceled {
				b.errMsg = msg.err.Error()
			}
			return b, nil
		}
		b.errMsg = ""
		b.results = msg.res
		b.rebuildRows()
		return b, nil

	case searchProgressMsg:
		b.scanned = msg.scanned
		b.total = msg.total
		if b.searching {
			return b, b.waitForProgress()
		}
		return b, nil

	case themeChangedMsg:
		theme := "light"
		if msg.isDark {
			theme = "dark"
		}
		InitTheme(theme)
		uiLog.Debug("theme_switched", slog.String("theme", theme))
		return b, b.waitForThemeChange()

	case WatchRefreshMsg:
		if b.refreshing {
			return b, nil
		}
		return b, b.refreshCmd(false)

	case tea.KeyMsg:
		return b.handleKey(msg)
	}

	return b, nil
}

func (b *Browser) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch b.mode {
	case modeFilter:
		switch msg.String() {
		case "esc":
			b.mode = modeBrowse
			b.filterInput.SetValue("")
			b.filterInput.Blur()
			b.rebuildRows()
			return b, nil
		case "enter":
			b.mode = modeBrowse
			b.filterInput.Blur()
			return b, nil
		default:
			var cmd tea.Cmd
			b.filterInput, cmd = b.filterInput.Update(msg)
			b.rebuildRows()
			return b, cmd
		}

	case modeSearch:
		switch msg.String() {
		case "esc":
			b.closeSearch()
			return b, nil
		case "up", "ctrl+p":
			b.moveCursor(-1)
			return b, nil
		case "down", "ctrl+n":
			b.moveCursor(1)
			return b, nil
		default:
			var cmd tea.Cmd
			b.searchInput, cmd = b.searchInput.Update(msg)
			query := b.currentQuery()
			if query == "" {
				b.results = nil
				b.lastQuery = ""
				b.rebuildRows()
				return b, cmd
			}
			debounce := tea.Tick(searchDebounce, func(time.Time) tea.Msg {
				return searchDebounceMsg{query: query}
			})
			return b, tea.Batch(cmd, debounce)
		}
	}

	// modeBrowse
	switch msg.String() {
	case "q", "ctrl+c":
		b.Close()
		return b, tea.Quit
	case "up", "k":
		b.moveCursor(-1)
	case "down", "j":
		b.moveCursor(1)
	case "g":
		b.cursor = b.firstSessionRow()
	case "G":
		b.cursor = b.lastSessionRow()
	case "/":
		b.mode = modeFilter
		b.filterInput.Focus()
	case "s":
		b.mode = modeSearch
		b.searchInput.Focus()
	case "y":
		b.yankSelectedPath()
	case "d":
		b.cycleScope()
	case "r":
		return b, b.refreshCmd(false)
	case "R":
		return b, b.refreshCmd(true)
	}
	return b, nil
}

// cycleScope narrows the list from all sessions down to the newest session's
// year, month, and day, then back to all. Anchoring on the newest session
// keeps every step non-empty.
func (b *Browser) cycleScope() {
	if b.index == nil || len(b.index.Sessions) == 0 {
		return
	}
	newest, err := history.ParseScope(b.index.Sessions[0].LocalDate)
	if err != nil {
		return
	}
	switch b.scope.Kind {
	case history.ScopeAll:
		b.scope = history.DateScope{Kind: history.ScopeYear, Year: newest.Year}
	case history.ScopeYear:
		b.scope = history.DateScope{Kind: history.ScopeMonth, Year: newest.Year, Month: newest.Month}
	case history.ScopeMonth:
		b.scope = newest
	default:
		b.scope = history.DateScope{}
	}
	b.rebuildRows()
}

func (b *Browser) yankSelectedPath() {
	sel := b.selected()
	if sel == nil {
		return
	}
	res, err := clipboard.Copy(sel.session.Path, true)
	if err != nil {
		b.errMsg = "copy failed: " + err.Error()
		return
	}
	b.errMsg = ""
	b.status = fmt.Sprintf("copied path (%s)", res.Method)
}

// currentQuery is the search input with surrounding whitespace stripped, the
// form queries are compared in so trailing spaces never strand results.
func (b *Browser) currentQuery() string {
	return strings.TrimSpace(b.searchInput.Value())
}

func (b *Browser) closeSearch() {
	if b.searchCancel != nil {
		b.searchCancel()
		b.searchCancel = nil
	}
	b.mode = modeBrowse
	b.searching = false
	b.searchInput.SetValue("")
	b.searchInput.Blur()
	b.results = nil
	b.lastQuery = ""
	b.rebuildRows()
}

// startSearch cancels any in-flight search and launches a new one. Progress
// flows through progressCh so the status line can update while scanning.
func (b *Browser) startSearch(query string) tea.Cmd {
	if b.searchCancel != nil {
		b.searchCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	b.searchCancel = cancel
	b.lastQuery = query
	b.searching = true
	b.scanned = 0
	b.total = 0

	candidates := []*history.SessionSummary{}
	if b.index != nil {
		candidates = b.index.Scoped(b.scope)
	}
	scope := b.scope
	opts := history.SearchOptions{
		MaxResults:    b.cfg.MaxResults(),
		CaseSensitive: b.cfg.Search.CaseSensitive,
	}
	progressCh := b.progressCh

	run := func() tea.Msg {
		res, err := history.Search(ctx, candidates, query, scope, opts,
			func(scanned, total int) {
				select {
				case progressCh <- searchProgressMsg{scanned: scanned, total: total}:
				default:
				}
			})
		return searchResultsMsg{query: query, res: res, err: err}
	}
	return tea.Batch(run, b.waitForProgress())
}

// rebuildRows flattens the current index, filter, or search results into the
// left pane's rows and clamps the cursor onto a session.
func (b *Browser) rebuildRows() {
	b.rows = b.rows[:0]

	switch {
	case b.mode == modeSearch && b.results != nil:
		for _, sh := range b.results.PerSession {
			b.rows = append(b.rows, listRow{kind: rowSession, session: sh.Summary, hits: sh.Hits})
		}

	case b.index == nil:

	case strings.TrimSpace(b.filterInput.Value()) != "":
		scoped := b.index.Scoped(b.scope)
		matches := fuzzy.FindFrom(strings.TrimSpace(b.filterInput.Value()), sessionSource(scoped))
		for _, m := range matches {
			b.rows = append(b.rows, listRow{kind: rowSession, session: scoped[m.Index]})
		}

	default:
		lastDate := ""
		for _, s := range b.index.Scoped(b.scope) {
			if s.LocalDate != lastDate {
				lastDate = s.LocalDate
				b.rows = append(b.rows, listRow{kind: rowHeading, heading: s.LocalDate})
			}
			b.rows = append(b.rows, listRow{kind: rowSession, session: s})
		}
	}

	b.clampCursor()
}

// sessionSource adapts summaries to the fuzzy matcher.
type sessionSource []*history.SessionSummary

func (s sessionSource) String(i int) string {
	sum := s[i]
	return sum.Snippet + " " + sum.CWDShort + " " + sum.Meta.ID
}

func (s sessionSource) Len() int { return len(s) }

func (b *Browser) clampCursor() {
	if len(b.rows) == 0 {
		b.cursor = 0
		return
	}
	if b.cursor >= len(b.rows) {
		b.cursor = len(b.rows) - 1
	}
	if b.rows[b.cursor].kind == rowHeading {
		b.moveCursor(1)
	}
}

// moveCursor advances over headings so the cursor always rests on a session.
func (b *Browser) moveCursor(delta int) {
	if len(b.rows) == 0 {
		return
	}
	i := b.cursor
	for {
		i += delta
		if i < 0 || i >= len(b.rows) {
			return
		}
		if b.rows[i].kind == rowSession {
			b.cursor = i
			return
		}
	}
}

func (b *Browser) firstSessionRow() int {
	for i, r := range b.rows {
		if r.kind == rowSession {
			return i
		}
	}
	return 0
}

func (b *Browser) lastSessionRow() int {
	for i := len(b.rows) - 1; i >= 0; i-- {
		if b.rows[i].kind == rowSession {
			return i
		}
	}
	return 0
}

func (b *Browser) selected() *listRow {
	if b.cursor < 0 || b.cursor >= len(b.rows) {
		return nil
	}
	r := b.rows[b.cursor]
	if r.kind != rowSession {
		return nil
	}
	return &r
}

// View renders the split layout: session list on the left, preview on the
// right, menu bar at the bottom.
func (b *Browser) View() string {
	if b.width == 0 {
		return "loading..."
	}

	listWidth := b.width * 35 / 100
	if listWidth < 30 {
		listWidth = 30
	}
	previewWidth := b.width - listWidth - 4
	contentHeight := b.height - 4

	var header string
	switch b.mode {
	case modeSearch:
		header = SearchBoxStyle.Width(b.width - 2).Render(b.searchInput.View())
	case modeFilter:
		header = SearchBoxStyle.Width(b.width - 2).Render(b.filterInput.View())
	default:
		header = TitleStyle.Render("history deck") + " " + DimStyle.Render(b.statusLine())
	}

	list := b.renderList(listWidth, contentHeight)
	preview := b.renderPreview(previewWidth, contentHeight)
	body := lipgloss.JoinHorizontal(lipgloss.Top, list, preview)

	return header + "\n" + body + "\n" + b.renderMenuBar()
}

func (b *Browser) statusLine() string {
	if b.errMsg != "" {
		return ErrorStyle.Render(b.errMsg)
	}
	if b.refreshing {
		return "refreshing..."
	}
	if b.searching {
		if b.total > 0 {
			return fmt.Sprintf("searching %d/%d...", b.scanned, b.total)
		}
		return "searching..."
	}
	if b.mode == modeSearch && b.results != nil {
		return fmt.Sprintf("%d hits in %d sessions", b.results.TotalHits, len(b.results.PerSession))
	}
	if b.scope.Kind != history.ScopeAll {
		return fmt.Sprintf("[%s] %s", b.scope, b.status)
	}
	return b.status
}

func (b *Browser) renderList(width, height int) string {
	var lines []string

	if len(b.rows) == 0 {
		empty := "no sessions"
		if b.mode == modeSearch {
			empty = "no matches"
		}
		lines = append(lines, DimStyle.Render(empty))
	}

	// Keep the cursor visible by windowing around it
	start := 0
	if b.cursor >= height {
		start = b.cursor - height + 1
	}
	for i := start; i < len(b.rows) && len(lines) < height; i++ {
		lines = append(lines, b.renderRow(b.rows[i], i == b.cursor, width-4))
	}

	return PanelStyle.Width(width).Height(height).Render(strings.Join(lines, "\n"))
}

func (b *Browser) renderRow(r listRow, selected bool, width int) string {
	if r.kind == rowHeading {
		return DateHeadingStyle.Render(r.heading)
	}

	s := r.session
	label := s.Snippet
	if label == "" {
		label = s.Meta.ID
	}
	if label == "" {
		label = "(empty session)"
	}
	line := s.TimeLabel + "  " + label
	if len(r.hits) > 0 {
		line = fmt.Sprintf("%s  [%d]", line, len(r.hits))
	}
	line = runewidth.Truncate(line, width, "...")
	if selected {
		return SessionRowSelStyle.Render(line)
	}
	return SessionRowStyle.Render(line)
}

func (b *Browser) renderPreview(width, height int) string {
	sel := b.selected()
	if sel == nil {
		return PreviewPanelStyle.Width(width).Height(height).Render(DimStyle.Render("nothing selected"))
	}
	s := sel.session

	var sb strings.Builder
	title := s.Snippet
	if title == "" {
		title = s.Meta.ID
	}
	sb.WriteString(PreviewTitleStyle.Render(runewidth.Truncate(title, width-4, "...")))
	sb.WriteString("\n")
	sb.WriteString(PreviewMetaStyle.Render(s.LocalDate + " " + s.TimeLabel))
	if s.CWDShort != "" {
		sb.WriteString("  ")
		sb.WriteString(SessionCWDStyle.Render(s.CWDShort))
	}
	sb.WriteString("\n\n")

	if len(sel.hits) > 0 {
		sb.WriteString(HitCountStyle.Render(fmt.Sprintf("%d matching messages", len(sel.hits))))
		sb.WriteString("\n\n")
		for _, hit := range sel.hits {
			sb.WriteString(RoleStyle(hit.Role).Render(fmt.Sprintf("#%d %s", hit.DisplayIndex, hit.Role)))
			sb.WriteString("\n")
			sb.WriteString(PreviewContentStyle.Render(highlightMatches(hit.Snippet, b.lastQuery, width-4)))
			sb.WriteString("\n\n")
		}
	} else {
		for _, msg := range s.Preview {
			sb.WriteString(RoleStyle(msg.Role).Render(msg.Role))
			sb.WriteString("\n")
			sb.WriteString(PreviewContentStyle.Render(wrapText(msg.Text, width-4)))
			sb.WriteString("\n\n")
		}
	}

	return PreviewPanelStyle.Width(width).Height(height).Render(sb.String())
}

func (b *Browser) renderMenuBar() string {
	var items []string
	switch b.mode {
	case modeSearch:
		items = []string{
			MenuKey("esc", "close"),
			MenuKey("↑↓", "navigate"),
		}
	case modeFilter:
		items = []string{
			MenuKey("esc", "clear"),
			MenuKey("enter", "apply"),
		}
	default:
		items = []string{
			MenuKey("s", "search"),
			MenuKey("/", "filter"),
			MenuKey("d", "scope"),
			MenuKey("y", "copy path"),
			MenuKey("r", "refresh"),
			MenuKey("R", "rebuild"),
			MenuKey("q", "quit"),
		}
	}
	return MenuBarStyle.Width(b.width).Render(strings.Join(items, "  "))
}

// highlightMatches wraps every occurrence of query in the match style,
// case-insensitively, then truncates to width.
func highlightMatches(text, query string, width int) string {
	if query == "" {
		return runewidth.Truncate(text, width, "...")
	}
	lower := strings.ToLower(text)
	needle := strings.ToLower(query)
	// Case folding can change byte lengths for some scripts; indexes into
	// lower are only valid in text when the lengths agree.
	if len(lower) != len(text) {
		return runewidth.Truncate(text, width, "...")
	}

	var sb strings.Builder
	pos := 0
	for {
		idx := strings.Index(lower[pos:], needle)
		if idx < 0 {
			sb.WriteString(text[pos:])
			break
		}
		idx += pos
		sb.WriteString(text[pos:idx])
		sb.WriteString(SearchMatchStyle.Render(text[idx : idx+len(needle)]))
		pos = idx + len(needle)
	}
	return sb.String()
}

// wrapText hard-wraps text to the given width, preserving blank lines.
func wrapText(text string, width int) string {
	if width <= 0 {
		return text
	}
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if runewidth.StringWidth(line) <= width {
			out = append(out, line)
			continue
		}
		var cur strings.Builder
		curWidth := 0
		for _, word := range strings.Fields(line) {
			w := runewidth.StringWidth(word)
			if curWidth > 0 && curWidth+1+w > width {
				out = append(out, cur.String())
				cur.Reset()
				curWidth = 0
			}
			if curWidth > 0 {
				cur.WriteByte(' ')
				curWidth++
			}
			cur.WriteString(word)
			curWidth += w
		}
		if cur.Len() > 0 {
			out = append(out, cur.String())
		}
	}
	return strings.Join(out, "\n")
}
