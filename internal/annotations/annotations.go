// Package annotations keeps the local case annotation sheets in sync with
// their upstream sources.
package annotations

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Sentinel errors for annotation sheet updates.
var (
	ErrFetchFailed = errors.New("annotation sheet fetch failed")
	ErrNoSheets    = errors.New("no annotation sheets configured")
)

// Outcomes of a single sheet update.
const (
	OutcomeDownloaded = "downloaded"
	OutcomeReplaced   = "replaced"
	OutcomeUnchanged  = "unchanged"
	OutcomeFailed     = "failed"
)

// Sheet is one annotation source: where to fetch it and where it lives.
type Sheet struct {
	Name string
	URL  string
	Path string
}

// Update is the per-sheet result of an update run.
type Update struct {
	Sheet   string `json:"sheet"`
	Outcome string `json:"outcome"`
	Detail  string `json:"detail,omitempty"`
}

// Updater downloads annotation sheets and replaces the local copies only
// when the content actually changed.
type Updater struct {
	client *http.Client
	sheets []Sheet
}

func NewUpdater(timeout time.Duration, sheets ...Sheet) *Updater {
	return &Updater{
		client: &http.Client{Timeout: timeout},
		sheets: sheets,
	}
}

// UpdateAll refreshes every configured sheet. A failing sheet does not stop
// the others; the per-sheet outcome is reported instead.
func (u *Updater) UpdateAll(ctx context.Context) ([]Update, error) {
	if len(u.sheets) == 0 {
		return nil, ErrNoSheets
	}
	updates := make([]Update, 0, len(u.sheets))
	for _, sheet := range u.sheets {
		outcome, err := u.update(ctx, sheet)
		update := Update{Sheet: sheet.Name, Outcome: outcome}
		if err != nil {
			update.Outcome = OutcomeFailed
			update.Detail = err.Error()
			slog.Warn("annotation sheet update failed", "sheet", sheet.Name, "error", err)
		} else {
			slog.Info("annotation sheet updated", "sheet", sheet.Name, "outcome", outcome)
		}
		updates = append(updates, update)
	}
	return updates, nil
}

func (u *Updater) update(ctx context.Context, sheet Sheet) (string, error) {
	fetched, err := u.fetch(ctx, sheet.URL)
	if err != nil {
		return "", err
	}

	current, err := os.ReadFile(sheet.Path)
	switch {
	case err == nil:
		if bytes.Equal(current, fetched) {
			return OutcomeUnchanged, nil
		}
		if err := writeAtomic(sheet.Path, fetched); err != nil {
			return "", err
		}
		return OutcomeReplaced, nil
	case os.IsNotExist(err):
		if err := writeAtomic(sheet.Path, fetched); err != nil {
			return "", err
		}
		return OutcomeDownloaded, nil
	default:
		return "", fmt.Errorf("reading local sheet: %w", err)
	}
}

func (u *Updater) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrFetchFailed, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrFetchFailed, err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrFetchFailed)
	}
	return body, nil
}

// writeAtomic replaces path via a temp file so readers never see a sheet
// that is half written.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".annotations-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing sheet: %w", err)
	}
	return nil
}
