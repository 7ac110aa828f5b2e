package history

import (
	"fmt"
	"sort"
	"strings"
)

// HistoryIndex is the pure in-memory view the UI and search run on.
// Sessions is ordered newest-first; ByYear buckets the same summaries by
// zero-padded year, month, and day strings.
type HistoryIndex struct {
	Root     string
	Sessions []*SessionSummary
	ByYear   map[string]map[string]map[string][]*SessionSummary
}

// BuildIndex sorts summaries by local date then time label, both descending,
// and buckets them by calendar day. The sort is stable so equal keys keep
// their input order, making rebuilds deterministic.
func BuildIndex(root string, summaries []*SessionSummary) *HistoryIndex {
	sessions := make([]*SessionSummary, len(summaries))
	copy(sessions, summaries)

	sort.SliceStable(sessions, func(i, j int) bool {
		if sessions[i].LocalDate != sessions[j].LocalDate {
			return sessions[i].LocalDate > sessions[j].LocalDate
		}
		return sessions[i].TimeLabel > sessions[j].TimeLabel
	})

	byYear := make(map[string]map[string]map[string][]*SessionSummary)
	for _, s := range sessions {
		year, month, day := splitLocalDate(s.LocalDate)
		months, ok := byYear[year]
		if !ok {
			months = make(map[string]map[string][]*SessionSummary)
			byYear[year] = months
		}
		days, ok := months[month]
		if !ok {
			days = make(map[string][]*SessionSummary)
			months[month] = days
		}
		days[day] = append(days[day], s)
	}

	return &HistoryIndex{Root: root, Sessions: sessions, ByYear: byYear}
}

// splitLocalDate breaks "2024-05-01" into its zero-padded components.
// Malformed dates land in the 0000/00/00 bucket so every session still
// appears exactly once.
func splitLocalDate(date string) (string, string, string) {
	parts := strings.SplitN(date, "-", 3)
	if len(parts) != 3 || len(parts[0]) != 4 || len(parts[1]) != 2 || len(parts[2]) != 2 {
		return "0000", "00", "00"
	}
	return parts[0], parts[1], parts[2]
}

// ScopeKind selects how much of a date a scope pins down.
type ScopeKind int

const (
	ScopeAll ScopeKind = iota
	ScopeYear
	ScopeMonth
	ScopeDay
)

// DateScope restricts candidates to a year, month, or day.
type DateScope struct {
	Kind  ScopeKind
	Year  string
	Month string
	Day   string
}

// ParseScope accepts "", "YYYY", "YYYY-MM", or "YYYY-MM-DD".
func ParseScope(s string) (DateScope, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DateScope{Kind: ScopeAll}, nil
	}
	parts := strings.Split(s, "-")
	switch len(parts) {
	case 1:
		if len(parts[0]) == 4 && isDigits(parts[0]) {
			return DateScope{Kind: ScopeYear, Year: parts[0]}, nil
		}
	case 2:
		if len(parts[0]) == 4 && isDigits(parts[0]) && len(parts[1]) == 2 && isDigits(parts[1]) {
			return DateScope{Kind: ScopeMonth, Year: parts[0], Month: parts[1]}, nil
		}
	case 3:
		if len(parts[0]) == 4 && isDigits(parts[0]) && len(parts[1]) == 2 && isDigits(parts[1]) && len(parts[2]) == 2 && isDigits(parts[2]) {
			return DateScope{Kind: ScopeDay, Year: parts[0], Month: parts[1], Day: parts[2]}, nil
		}
	}
	return DateScope{}, fmt.Errorf("invalid date scope %q (want YYYY, YYYY-MM, or YYYY-MM-DD)", s)
}

// prefix returns the local-date prefix this scope matches.
func (sc DateScope) prefix() string {
	switch sc.Kind {
	case ScopeYear:
		return sc.Year
	case ScopeMonth:
		return sc.Year + "-" + sc.Month
	case ScopeDay:
		return sc.Year + "-" + sc.Month + "-" + sc.Day
	default:
		return ""
	}
}

// Matches reports whether a session's local date falls inside the scope.
func (sc DateScope) Matches(localDate string) bool {
	return strings.HasPrefix(localDate, sc.prefix())
}

func (sc DateScope) String() string {
	if sc.Kind == ScopeAll {
		return "all"
	}
	return sc.prefix()
}

// Scoped returns the sessions within scope, preserving index order.
func (idx *HistoryIndex) Scoped(scope DateScope) []*SessionSummary {
	if scope.Kind == ScopeAll {
		return idx.Sessions
	}
	out := make([]*SessionSummary, 0, len(idx.Sessions))
	for _, s := range idx.Sessions {
		if scope.Matches(s.LocalDate) {
			out = append(out, s)
		}
	}
	return out
}
