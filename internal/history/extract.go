package history

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/asheshgoplani/history-deck/internal/logging"
	"github.com/asheshgoplani/history-deck/internal/platform"
)

var extractLog = logging.ForComponent(logging.CompExtract)

// DefaultPreviewLimit caps how many conversation messages are collected per
// session when no limit is configured.
const DefaultPreviewLimit = 5

// Time label styles.
const (
	TimeStyle24h = "24h"
	TimeStyle12h = "12h"
)

const (
	snippetTextLimit = 120
	previewTextLimit = 200
)

// PreviewMessage is one captured conversation turn.
type PreviewMessage struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// SessionSummary is the per-file digest the index and search run on. It is
// what gets persisted in the cache, so field changes require bumping the
// summary algorithm version.
type SessionSummary struct {
	Path      string           `json:"path"`
	CacheKey  string           `json:"cacheKey"`
	Meta      SessionMeta      `json:"meta"`
	LocalDate string           `json:"localDate"`
	TimeLabel string           `json:"timeLabel"`
	Snippet   string           `json:"snippet,omitempty"`
	CWDShort  string           `json:"cwdShort,omitempty"`
	Preview   []PreviewMessage `json:"preview,omitempty"`
}

// Extractor produces SessionSummary values from rollout files.
type Extractor struct {
	// PreviewLimit caps collected messages; <= 0 uses DefaultPreviewLimit.
	PreviewLimit int

	// TimeStyle selects the display time format, TimeStyle24h or TimeStyle12h.
	TimeStyle string

	// Location resolves timestamps to local dates; nil uses time.Local.
	Location *time.Location
}

func (e *Extractor) limit() int {
	if e.PreviewLimit <= 0 {
		return DefaultPreviewLimit
	}
	return e.PreviewLimit
}

func (e *Extractor) loc() *time.Location {
	if e.Location != nil {
		return e.Location
	}
	return time.Local
}

// Extract builds a summary for one rollout file. Malformed lines inside the
// file are skipped; only a failed stat or open aborts the whole file.
func (e *Extractor) Extract(path string) (*SessionSummary, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat rollout file: %w", err)
	}

	sc, err := openRolloutScanner(path)
	if err != nil {
		return nil, fmt.Errorf("open rollout file: %w", err)
	}
	defer sc.Close()

	var (
		meta           SessionMeta
		preview        []PreviewMessage
		snippet        string
		snippetDecided bool
		snippetPending bool
	)

	limit := e.limit()
	for sc.Scan() {
		rec := sc.Record()

		// Metadata only ever comes from line 1. A meta record later in the
		// file is stale replay content and is ignored.
		if sc.Line() == 1 {
			if rec.Kind == RecordSessionMeta {
				meta = *rec.Meta
			}
			continue
		}
		if rec.Kind != RecordMessage {
			continue
		}
		role := rec.Message.Role
		if role != RoleUser && role != RoleAssistant {
			continue
		}

		text := normalizeText(rec.Message.Text)
		if role == RoleUser {
			if excerpt, ok := requestExcerpt(text); ok {
				text = excerpt
			}
			if isBoilerplate(text) {
				continue
			}
		}
		if strings.TrimSpace(text) == "" {
			continue
		}

		if !snippetDecided {
			switch {
			case role == RoleUser && isTitlePrompt(text):
				snippetPending = true
				snippetDecided = true
			case role == RoleUser:
				snippet = truncateText(collapseWhitespace(text), snippetTextLimit)
				snippetDecided = true
			}
		} else if snippetPending && role == RoleAssistant {
			snippet = truncateText(collapseWhitespace(text), snippetTextLimit)
			snippetPending = false
		}

		preview = append(preview, PreviewMessage{
			Role: role,
			Text: truncateText(text, previewTextLimit),
		})
		if len(preview) >= limit {
			break
		}
	}
	if err := sc.Err(); err != nil {
		// Partial read: keep whatever was collected, the fingerprint will
		// catch up on the next refresh.
		extractLog.Warn("rollout_read_interrupted",
			slog.String("path", path),
			slog.Any("error", err))
	}
	if sc.Skipped() > 0 {
		logging.Aggregate(logging.CompExtract, "malformed_lines_skipped")
	}

	localDate, timeLabel := e.deriveDateTime(path, meta.Timestamp, info.ModTime())

	return &SessionSummary{
		Path:      path,
		CacheKey:  platform.NormalizeCacheKey(path),
		Meta:      meta,
		LocalDate: localDate,
		TimeLabel: timeLabel,
		Snippet:   snippet,
		CWDShort:  shortenCWD(meta.CWD),
		Preview:   preview,
	}, nil
}

// deriveDateTime resolves the display date and time label. Date priority:
// YYYY/MM/DD path components, then the metadata timestamp, then file mtime.
// The time label comes from the metadata timestamp when parseable, otherwise
// mtime.
func (e *Extractor) deriveDateTime(path, metaTimestamp string, mtime time.Time) (string, string) {
	ts, tsOK := parseMetaTimestamp(metaTimestamp)

	labelTime := mtime
	if tsOK {
		labelTime = ts
	}
	timeLabel := e.formatTimeLabel(labelTime.In(e.loc()))

	if date, ok := dateFromPath(path); ok {
		return date, timeLabel
	}
	if tsOK {
		return ts.In(e.loc()).Format("2006-01-02"), timeLabel
	}
	return mtime.In(e.loc()).Format("2006-01-02"), timeLabel
}

func (e *Extractor) formatTimeLabel(t time.Time) string {
	if e.TimeStyle == TimeStyle12h {
		return t.Format("3:04 PM")
	}
	return t.Format("15:04")
}

func parseMetaTimestamp(ts string) (time.Time, bool) {
	if ts == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// dateFromPath recognizes the <root>/YYYY/MM/DD/rollout-*.jsonl layout by
// checking the file's last three directory components.
func dateFromPath(path string) (string, bool) {
	dir := filepath.Dir(path)
	parts := strings.Split(dir, string(filepath.Separator))
	if len(parts) < 3 {
		return "", false
	}
	year := parts[len(parts)-3]
	month := parts[len(parts)-2]
	day := parts[len(parts)-1]
	if len(year) != 4 || len(month) != 2 || len(day) != 2 {
		return "", false
	}
	if !isDigits(year) || !isDigits(month) || !isDigits(day) {
		return "", false
	}
	m, _ := strconv.Atoi(month)
	d, _ := strconv.Atoi(day)
	if m < 1 || m > 12 || d < 1 || d > 31 {
		return "", false
	}
	return year + "-" + month + "-" + day, true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
