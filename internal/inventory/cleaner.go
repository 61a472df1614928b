package inventory

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// analysisStatus is the status file a worker writes next to its results.
type analysisStatus struct {
	SentrixID     string `json:"sentrix_id"`
	FailureReason string `json:"failure_reason"`
}

// Cleaner removes analysis leftovers: stale temporary files and result
// directories whose recorded failure was a filesystem permission error.
type Cleaner struct {
	resultsDir string
	tempDir    string
}

func NewCleaner(resultsDir, tempDir string) *Cleaner {
	return &Cleaner{resultsDir: resultsDir, tempDir: tempDir}
}

// RemoveTemporaryFiles deletes every entry in the temp directory and returns
// the number of entries removed. A missing or unconfigured temp directory is
// a no-op, not an error.
func (c *Cleaner) RemoveTemporaryFiles() (int, error) {
	if c.tempDir == "" {
		return 0, nil
	}
	entries, err := os.ReadDir(c.tempDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading temp directory: %w", err)
	}
	removed := 0
	for _, entry := range entries {
		path := filepath.Join(c.tempDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			slog.Error("failed to remove temporary entry", "path", path, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

// RemovePermissionDeniedAnalyses walks the results tree for status files and
// removes every result directory whose recorded failure reason is a
// permission error. Returns the sentrix ids of the removed analyses.
// Unreadable or malformed status files are logged and left in place; an
// unparseable file is not evidence of a permission failure.
func (c *Cleaner) RemovePermissionDeniedAnalyses() ([]string, error) {
	type candidate struct {
		dir       string
		sentrixID string
	}
	var candidates []candidate

	err := filepath.WalkDir(c.resultsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isStatusFile(d.Name()) {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Error("failed to read status file", "path", path, "error", err)
			return nil
		}
		var status analysisStatus
		if err := json.Unmarshal(data, &status); err != nil {
			slog.Error("malformed status file", "path", path, "error", err)
			return nil
		}
		if !permissionFailure(status.FailureReason) {
			return nil
		}
		id := status.SentrixID
		if id == "" {
			id = filepath.Base(filepath.Dir(path))
		}
		candidates = append(candidates, candidate{dir: filepath.Dir(path), sentrixID: id})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking results directory: %w", err)
	}

	// Removal happens after the walk so directories are not pulled out from
	// under the tree traversal.
	var removed []string
	for _, cand := range candidates {
		if err := os.RemoveAll(cand.dir); err != nil {
			slog.Error("failed to remove result directory", "dir", cand.dir, "error", err)
			continue
		}
		removed = append(removed, cand.sentrixID)
	}
	return removed, nil
}

func isStatusFile(name string) bool {
	return strings.Contains(name, "status") && strings.HasSuffix(name, ".json")
}

func permissionFailure(reason string) bool {
	lower := strings.ToLower(reason)
	return strings.Contains(lower, "permission denied") || strings.Contains(lower, "permission error")
}
