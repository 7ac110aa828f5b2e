package history

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/asheshgoplani/history-deck/internal/logging"
)

var discoveryLog = logging.ForComponent(logging.CompDiscovery)

const (
	rolloutPrefix = "rollout-"
	rolloutSuffix = ".jsonl"
)

// DiscoverRolloutFiles walks root recursively and returns every regular file
// named rollout-*.jsonl. A missing or unreadable root yields an empty list,
// not an error; unreadable subdirectories are skipped and the walk continues.
func DiscoverRolloutFiles(root string) ([]string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(absRoot); err != nil {
		if !os.IsNotExist(err) {
			discoveryLog.Warn("sessions_root_unreadable",
				slog.String("root", absRoot),
				slog.Any("error", err))
		}
		return []string{}, nil
	}

	files := []string{}
	_ = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logging.Aggregate(logging.CompDiscovery, "walk_entry_skipped")
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		name := d.Name()
		if strings.HasPrefix(name, rolloutPrefix) && strings.HasSuffix(name, rolloutSuffix) {
			files = append(files, path)
		}
		return nil
	})

	discoveryLog.Debug("discovery_complete",
		slog.String("root", absRoot),
		slog.Int("files", len(files)))
	return files, nil
}
