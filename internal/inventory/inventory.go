// Package inventory answers questions about the data on disk: which IDAT
// pairs exist, which analyses have already been produced and which are
// still missing.
package inventory

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Raw intensity files come in pairs, one per color channel. Only ids with
// both channels present can be analysed.
const (
	grnSuffix = "_Grn.idat"
	redSuffix = "_Red.idat"
)

// Scanner inspects the IDAT and results directories.
type Scanner struct {
	idatDir    string
	resultsDir string
}

func NewScanner(idatDir, resultsDir string) *Scanner {
	return &Scanner{idatDir: idatDir, resultsDir: resultsDir}
}

// ListIdatPairs walks the IDAT directory tree and returns the sorted sentrix
// ids that have both color channels on disk.
func (s *Scanner) ListIdatPairs() ([]string, error) {
	grn := make(map[string]bool)
	red := make(map[string]bool)
	err := filepath.WalkDir(s.idatDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		switch {
		case strings.HasSuffix(name, grnSuffix):
			grn[strings.TrimSuffix(name, grnSuffix)] = true
		case strings.HasSuffix(name, redSuffix):
			red[strings.TrimSuffix(name, redSuffix)] = true
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking idat directory: %w", err)
	}

	var pairs []string
	for id := range grn {
		if red[id] {
			pairs = append(pairs, id)
		}
	}
	sort.Strings(pairs)
	return pairs, nil
}

// IdatPairExists reports whether both channel files exist for one sentrix id.
func (s *Scanner) IdatPairExists(sentrixID string) (bool, error) {
	found := map[string]bool{}
	err := filepath.WalkDir(s.idatDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch d.Name() {
		case sentrixID + grnSuffix:
			found["grn"] = true
		case sentrixID + redSuffix:
			found["red"] = true
		}
		if found["grn"] && found["red"] {
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("walking idat directory: %w", err)
	}
	return found["grn"] && found["red"], nil
}

// resultDir is where one finished analysis lands. The parameter set is part
// of the path so runs with different binning never collide.
func (s *Scanner) resultDir(method string, binSize, minProbes int, sentrixID string) string {
	return filepath.Join(s.resultsDir, method,
		fmt.Sprintf("bins_%d_probes_%d", binSize, minProbes), sentrixID)
}

// AnalysisExists reports whether a finished analysis directory is present
// for the given parameter set.
func (s *Scanner) AnalysisExists(method string, binSize, minProbes int, sentrixID string) bool {
	info, err := os.Stat(s.resultDir(method, binSize, minProbes, sentrixID))
	return err == nil && info.IsDir()
}

// MissingAnalyses returns the sorted sentrix ids that have an IDAT pair on
// disk but no analysis for the given parameter set yet.
func (s *Scanner) MissingAnalyses(method string, binSize, minProbes int) ([]string, error) {
	pairs, err := s.ListIdatPairs()
	if err != nil {
		return nil, err
	}
	var missing []string
	for _, id := range pairs {
		if !s.AnalysisExists(method, binSize, minProbes, id) {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// MissingDownsized returns the sorted sentrix ids that have a full analysis
// for the parameter set but no analysis downsized to the given array type.
func (s *Scanner) MissingDownsized(method string, binSize, minProbes int, downsizeTo string) ([]string, error) {
	pairs, err := s.ListIdatPairs()
	if err != nil {
		return nil, err
	}
	var missing []string
	for _, id := range pairs {
		if !s.AnalysisExists(method, binSize, minProbes, id) {
			continue
		}
		if !s.AnalysisExists(method, binSize, minProbes, downsizedID(id, downsizeTo)) {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// downsizedID names the result directory of an analysis that was downsized
// to a smaller array layout.
func downsizedID(sentrixID, downsizeTo string) string {
	return sentrixID + "_downsized_" + downsizeTo
}

// ErrNoSentrixColumn means the annotation sheet has no Sentrix_id column.
var ErrNoSentrixColumn = errors.New("annotation sheet has no Sentrix_id column")

// AnnotatedSentrixIDs reads an annotation sheet and returns the sentrix ids
// listed in its Sentrix_id column, in sheet order, empty cells skipped.
func AnnotatedSentrixIDs(sheetPath string) ([]string, error) {
	file, err := os.Open(sheetPath)
	if err != nil {
		return nil, fmt.Errorf("opening annotation sheet: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading annotation sheet header: %w", err)
	}
	column := -1
	for i, name := range header {
		if strings.EqualFold(strings.TrimSpace(name), "sentrix_id") {
			column = i
			break
		}
	}
	if column < 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoSentrixColumn, sheetPath)
	}

	var ids []string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading annotation sheet: %w", err)
		}
		if column < len(record) {
			if id := strings.TrimSpace(record[column]); id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}
