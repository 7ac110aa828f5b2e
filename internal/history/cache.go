package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/asheshgoplani/history-deck/internal/logging"
	"github.com/asheshgoplani/history-deck/internal/platform"
)

var cacheLog = logging.ForComponent(logging.CompCache)

// CacheFileName is the summary cache artifact inside the history-deck dir.
const CacheFileName = "cache.json"

const (
	cacheFormatVersion = 1

	// summaryAlgoVersion must be bumped whenever Extract changes observable
	// output, so stale summaries are recomputed instead of reused.
	summaryAlgoVersion = 1
)

// Fingerprint identifies one on-disk state of a rollout file.
type Fingerprint struct {
	// Mtime is the file modification time in unix milliseconds.
	Mtime int64 `json:"mtime"`
	Size  int64 `json:"size"`
}

// CacheEntry pairs a summary with the fingerprint it was computed from.
type CacheEntry struct {
	Fingerprint Fingerprint     `json:"fingerprint"`
	Summary     *SessionSummary `json:"summary"`
}

// CacheFile is the persisted cache artifact. The header fields form the
// configuration fingerprint: when any of them differs from the current
// configuration the entire file is ignored.
type CacheFile struct {
	Version             int                    `json:"version"`
	SummaryAlgoVersion  int                    `json:"summaryAlgoVersion"`
	SourceRoot          string                 `json:"sourceRoot"`
	PreviewLimit        int                    `json:"previewLimit"`
	DateTimeSettingsKey string                 `json:"dateTimeSettingsKey"`
	Entries             map[string]*CacheEntry `json:"entries"`
}

// ConfigFingerprint is the current configuration a cache file must match to
// be reused.
type ConfigFingerprint struct {
	SourceRoot          string
	PreviewLimit        int
	DateTimeSettingsKey string
}

// ReconcileStats reports what one reconcile pass did.
type ReconcileStats struct {
	Discovered int
	Reused     int
	Extracted  int
	Failed     int
	Dropped    int
}

// ExtractFunc produces a summary for one rollout file.
type ExtractFunc func(path string) (*SessionSummary, error)

// Store owns the cache artifact for one sessions root. Load tolerates any
// corruption, Save is atomic, and Reconcile decides per file whether the
// prior summary can be reused.
type Store struct {
	path    string
	cfg     ConfigFingerprint
	extract ExtractFunc
}

func NewStore(path string, cfg ConfigFingerprint, extract ExtractFunc) *Store {
	return &Store{path: path, cfg: cfg, extract: extract}
}

// Load reads the cache artifact. Missing, unreadable, or corrupt files all
// return nil; the cache is an optimization, never a source of errors.
func (s *Store) Load() *CacheFile {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil
	}
	var cf CacheFile
	if err := json.Unmarshal(data, &cf); err != nil {
		cacheLog.Warn("cache_corrupt",
			slog.String("path", s.path),
			slog.Any("error", err))
		return nil
	}
	return &cf
}

// usable reports whether a loaded cache file's header matches the current
// configuration fingerprint. All five fields must match exactly.
func (s *Store) usable(cf *CacheFile) bool {
	return cf != nil &&
		cf.Version == cacheFormatVersion &&
		cf.SummaryAlgoVersion == summaryAlgoVersion &&
		cf.SourceRoot == s.cfg.SourceRoot &&
		cf.PreviewLimit == s.cfg.PreviewLimit &&
		cf.DateTimeSettingsKey == s.cfg.DateTimeSettingsKey
}

// Reconcile walks the discovered files, reusing prior summaries whose
// fingerprint still matches and re-extracting the rest. Entries for files no
// longer discovered are dropped. force treats the prior cache as empty.
// Cancellation aborts with ctx.Err and nothing is persisted.
func (s *Store) Reconcile(ctx context.Context, discovered []string, prior *CacheFile, force bool) (map[string]*CacheEntry, []*SessionSummary, ReconcileStats, error) {
	stats := ReconcileStats{Discovered: len(discovered)}
	entries := make(map[string]*CacheEntry, len(discovered))
	summaries := make([]*SessionSummary, 0, len(discovered))

	reusable := !force && s.usable(prior)
	for _, path := range discovered {
		if err := ctx.Err(); err != nil {
			return nil, nil, stats, err
		}
		info, err := os.Stat(path)
		if err != nil {
			// File vanished between discovery and stat.
			stats.Failed++
			logging.Aggregate(logging.CompCache, "stat_failed")
			continue
		}
		key := platform.NormalizeCacheKey(path)
		fp := Fingerprint{Mtime: info.ModTime().UnixMilli(), Size: info.Size()}

		if reusable {
			if prev, ok := prior.Entries[key]; ok && prev != nil && prev.Summary != nil && prev.Fingerprint == fp {
				entries[key] = prev
				summaries = append(summaries, prev.Summary)
				stats.Reused++
				continue
			}
		}

		summary, err := s.extract(path)
		if err != nil || summary == nil {
			stats.Failed++
			logging.Aggregate(logging.CompCache, "extract_failed")
			continue
		}
		entries[key] = &CacheEntry{Fingerprint: fp, Summary: summary}
		summaries = append(summaries, summary)
		stats.Extracted++
	}

	if prior != nil {
		for key := range prior.Entries {
			if _, ok := entries[key]; !ok {
				stats.Dropped++
			}
		}
	}

	cacheLog.Debug("reconcile_complete",
		slog.Int("discovered", stats.Discovered),
		slog.Int("reused", stats.Reused),
		slog.Int("extracted", stats.Extracted),
		slog.Int("failed", stats.Failed),
		slog.Int("dropped", stats.Dropped))
	return entries, summaries, stats, nil
}

// Save writes the cache artifact atomically: temp file, fsync, rename.
func (s *Store) Save(entries map[string]*CacheEntry) error {
	cf := CacheFile{
		Version:             cacheFormatVersion,
		SummaryAlgoVersion:  summaryAlgoVersion,
		SourceRoot:          s.cfg.SourceRoot,
		PreviewLimit:        s.cfg.PreviewLimit,
		DateTimeSettingsKey: s.cfg.DateTimeSettingsKey,
		Entries:             entries,
	}
	data, err := json.MarshalIndent(&cf, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cache: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temp cache: %w", err)
	}
	if err := syncCacheFile(tmpPath); err != nil {
		cacheLog.Warn("cache_fsync_failed", slog.Any("error", err))
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to finalize cache save: %w", err)
	}
	return nil
}

func syncCacheFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
