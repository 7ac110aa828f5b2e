package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/asheshgoplani/history-deck/internal/logging"
)

var indexLog = logging.ForComponent(logging.CompIndex)

// RefreshResult is one completed refresh pass.
type RefreshResult struct {
	Index *HistoryIndex
	Stats ReconcileStats
	Took  time.Duration
}

// Refresher runs the discover, reconcile, persist, build pipeline for one
// sessions root. Concurrent refreshes of the same root are collapsed into a
// single pass whose result is shared, keeping the cache single-writer.
type Refresher struct {
	root  string
	store *Store
	group singleflight.Group
}

// NewRefresher wires a refresher from user configuration.
func NewRefresher(cfg *UserConfig) (*Refresher, error) {
	cachePath, err := GetCachePath()
	if err != nil {
		return nil, err
	}
	root := cfg.SessionsRoot()
	extractor := &Extractor{
		PreviewLimit: cfg.PreviewLimit(),
		TimeStyle:    cfg.TimeStyle(),
		Location:     cfg.TimezoneLocation(),
	}
	store := NewStore(cachePath, ConfigFingerprint{
		SourceRoot:          root,
		PreviewLimit:        cfg.PreviewLimit(),
		DateTimeSettingsKey: cfg.DateTimeSettingsKey(),
	}, extractor.Extract)
	return &Refresher{root: root, store: store}, nil
}

// NewRefresherAt wires a refresher with explicit paths, used by tests and by
// callers that already resolved their configuration.
func NewRefresherAt(root, cachePath string, cfgFP ConfigFingerprint, extract ExtractFunc) *Refresher {
	return &Refresher{
		root:  root,
		store: NewStore(cachePath, cfgFP, extract),
	}
}

// Root returns the sessions root this refresher indexes.
func (r *Refresher) Root() string { return r.root }

// Refresh produces a fresh index. Unchanged files reuse their cached
// summaries unless force is set.
func (r *Refresher) Refresh(ctx context.Context, force bool) (*HistoryIndex, error) {
	res, err := r.RefreshDetailed(ctx, force)
	if err != nil {
		return nil, err
	}
	return res.Index, nil
}

// RefreshDetailed is Refresh plus per-pass statistics. On cancellation
// nothing is persisted and ctx.Err is returned.
//
// Duplicate concurrent calls share one in-flight pass; forced and unforced
// refreshes are keyed apart so a force request never piggybacks on a
// cache-reusing pass.
func (r *Refresher) RefreshDetailed(ctx context.Context, force bool) (*RefreshResult, error) {
	key := r.root
	if force {
		key += "\x00force"
	}
	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		return r.refreshOnce(ctx, force)
	})
	if err != nil {
		return nil, err
	}
	return v.(*RefreshResult), nil
}

func (r *Refresher) refreshOnce(ctx context.Context, force bool) (*RefreshResult, error) {
	start := time.Now()

	files, err := DiscoverRolloutFiles(r.root)
	if err != nil {
		return nil, fmt.Errorf("discover rollout files: %w", err)
	}

	prior := r.store.Load()
	entries, summaries, stats, err := r.store.Reconcile(ctx, files, prior, force)
	if err != nil {
		return nil, err
	}

	if err := r.store.Save(entries); err != nil {
		// The prior artifact stays intact; next run recomputes what it must.
		indexLog.Warn("cache_save_failed", slog.Any("error", err))
	}

	idx := BuildIndex(r.root, summaries)
	took := time.Since(start)
	indexLog.Info("refresh_complete",
		slog.String("root", r.root),
		slog.Int("files", stats.Discovered),
		slog.Int("reused", stats.Reused),
		slog.Int("extracted", stats.Extracted),
		slog.Int("failed", stats.Failed),
		slog.Int("dropped", stats.Dropped),
		slog.Bool("force", force),
		slog.Duration("took", took))
	return &RefreshResult{Index: idx, Stats: stats, Took: took}, nil
}
