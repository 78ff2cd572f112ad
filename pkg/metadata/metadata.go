// Package metadata reads and writes the per-worker crop table
// (frcnn_meta.csv / bing_meta.csv).
package metadata

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/menta2k/painting-cropper/pkg/types"
)

// File names inside a worker temp directory
const (
	FRCNNFile = "frcnn_meta.csv"
	BINGFile  = "bing_meta.csv"
)

// Header is the fixed column order consumers depend on
var Header = []string{"relative_crop_path", "x", "y", "width", "height", "score"}

// Write writes the header followed by one line per record
func Write(w io.Writer, records []types.CropRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, r := range records {
		row := []string{
			r.RelativeCropPath,
			strconv.Itoa(r.X),
			strconv.Itoa(r.Y),
			strconv.Itoa(r.Width),
			strconv.Itoa(r.Height),
			strconv.FormatFloat(r.Score, 'f', 4, 64),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write record %s: %w", r.RelativeCropPath, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile writes records to path through a temporary file and rename, so
// readers never observe a partially written table.
func WriteFile(path string, records []types.CropRecord) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create metadata file: %w", err)
	}
	tmpName := tmp.Name()

	if err := Write(tmp, records); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close metadata file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move metadata file into place: %w", err)
	}
	return nil
}

// ReadFile parses a worker metadata table. Files without a score column
// (BING) are read with hasScore=false. Malformed lines are logged and
// skipped; an empty file yields no records.
func ReadFile(path string, hasScore bool, logger *slog.Logger) ([]types.CropRecord, error) {
	if logger == nil {
		logger = slog.Default()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata file %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	if _, err := reader.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return []types.CropRecord{}, nil
		}
		return nil, fmt.Errorf("failed to read header from %s: %w", path, err)
	}

	expected := 5
	if hasScore {
		expected = 6
	}

	records := []types.CropRecord{}
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			logger.Warn("malformed metadata line", "file", path, "err", err)
			continue
		}
		if len(row) < expected {
			logger.Warn("insufficient columns in metadata line",
				"file", path, "expected", expected, "got", len(row), "line", strings.Join(row, ","))
			continue
		}

		rec, err := parseRecord(row, hasScore)
		if err != nil {
			logger.Warn("invalid metadata line", "file", path, "err", err, "line", strings.Join(row, ","))
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func parseRecord(row []string, hasScore bool) (types.CropRecord, error) {
	rec := types.CropRecord{RelativeCropPath: strings.TrimSpace(row[0])}
	ints := []*int{&rec.X, &rec.Y, &rec.Width, &rec.Height}
	for i, dst := range ints {
		v, err := strconv.Atoi(strings.TrimSpace(row[i+1]))
		if err != nil {
			return rec, fmt.Errorf("column %s: %w", Header[i+1], err)
		}
		*dst = v
	}
	if hasScore {
		score, err := strconv.ParseFloat(strings.TrimSpace(row[5]), 64)
		if err != nil {
			return rec, fmt.Errorf("column score: %w", err)
		}
		rec.Score = score
	}
	if rec.RelativeCropPath == "" {
		return rec, errors.New("empty crop path")
	}
	return rec, nil
}
