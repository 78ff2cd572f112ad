// Package table reads and writes the combined crop table, the durable
// interchange format between pipeline runs and manual curation.
package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/menta2k/painting-cropper/pkg/naming"
	"github.com/menta2k/painting-cropper/pkg/types"
)

// Header is the column layout written by the aggregator
var Header = []string{
	"original_filename", "crop_idx",
	"top_left_x", "top_left_y",
	"top_right_x", "top_right_y",
	"bottom_left_x", "bottom_left_y",
	"bottom_right_x", "bottom_right_y",
	"WRONG_file", "FRCNN_source", "BING_source",
}

// column aliases accepted when reading tables produced by other tools
var aliases = map[string][]string{
	"filename":       {"original_filename", "file_name"},
	"crop_idx":       {"crop_idx", "crop_index"},
	"top_left_x":     {"top_left_x"},
	"top_left_y":     {"top_left_y"},
	"bottom_right_x": {"bottom_right_x"},
	"bottom_right_y": {"bottom_right_y"},
	"wrong":          {"WRONG_file", "WRONG"},
	"frcnn":          {"FRCNN_source"},
	"bing":           {"BING_source"},
}

var required = []string{"filename", "crop_idx", "top_left_x", "top_left_y", "bottom_right_x", "bottom_right_y"}

// ErrMissingColumn is returned when a required column is absent
var ErrMissingColumn = errors.New("missing required column")

// Writer appends rows to a combined table
type Writer struct {
	cw *csv.Writer
}

// NewWriter writes the header and returns a Writer
func NewWriter(w io.Writer) (*Writer, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return nil, fmt.Errorf("failed to write combined table header: %w", err)
	}
	cw.Flush()
	return &Writer{cw: cw}, cw.Error()
}

// WriteRows appends one painting's rows and flushes
func (w *Writer) WriteRows(rows []types.CombinedRow) error {
	for _, r := range rows {
		if err := w.cw.Write(Encode(r)); err != nil {
			return fmt.Errorf("failed to write row for %s: %w", r.OriginalFilename, err)
		}
	}
	w.cw.Flush()
	return w.cw.Error()
}

// Encode renders a row with all four corners and TRUE/FALSE flags
func Encode(r types.CombinedRow) []string {
	x1, y1 := strconv.Itoa(r.TopLeftX), strconv.Itoa(r.TopLeftY)
	x2, y2 := strconv.Itoa(r.BottomRightX), strconv.Itoa(r.BottomRightY)
	return []string{
		r.OriginalFilename,
		strconv.Itoa(r.CropIdx),
		x1, y1,
		x2, y1,
		x1, y2,
		x2, y2,
		naming.FormatFlag(r.WrongFile),
		naming.FormatFlag(r.FRCNNSource),
		naming.FormatFlag(r.BINGSource),
	}
}

// Read parses a combined table. Flags are converted to booleans here and
// nowhere else. Rows with unparseable numbers are logged and skipped.
func Read(r io.Reader, logger *slog.Logger) ([]types.CombinedRow, error) {
	if logger == nil {
		logger = slog.Default()
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return []types.CombinedRow{}, nil
		}
		return nil, fmt.Errorf("failed to read combined table header: %w", err)
	}

	cols := resolveColumns(header)
	for _, name := range required {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(aliases[name], "/"))
		}
	}

	rows := []types.CombinedRow{}
	line := 1
	for {
		rec, err := reader.Read()
		line++
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			logger.Warn("malformed combined table line", "line", line, "err", err)
			continue
		}

		row, err := decodeRow(rec, cols)
		if err != nil {
			logger.Warn("skipping combined table row", "line", line, "err", err)
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ReadFile opens and parses a combined table file
func ReadFile(path string, logger *slog.Logger) ([]types.CombinedRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open combined table: %w", err)
	}
	defer f.Close()
	return Read(f, logger)
}

func resolveColumns(header []string) map[string]int {
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}

	cols := make(map[string]int)
	for key, names := range aliases {
		for _, n := range names {
			if i, ok := index[n]; ok {
				cols[key] = i
				break
			}
		}
	}
	return cols
}

func decodeRow(rec []string, cols map[string]int) (types.CombinedRow, error) {
	field := func(key string) string {
		i, ok := cols[key]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}
	intField := func(key string) (int, error) {
		v, err := strconv.Atoi(field(key))
		if err != nil {
			// pandas round-trips may render integers as floats
			f, ferr := strconv.ParseFloat(field(key), 64)
			if ferr != nil {
				return 0, fmt.Errorf("column %s: %w", key, err)
			}
			return int(f), nil
		}
		return v, nil
	}

	row := types.CombinedRow{
		OriginalFilename: field("filename"),
		WrongFile:        naming.ParseFlag(field("wrong")),
		FRCNNSource:      naming.ParseFlag(field("frcnn")),
		BINGSource:       naming.ParseFlag(field("bing")),
	}
	if row.OriginalFilename == "" {
		return row, errors.New("empty filename")
	}

	targets := []struct {
		key string
		dst *int
	}{
		{"crop_idx", &row.CropIdx},
		{"top_left_x", &row.TopLeftX},
		{"top_left_y", &row.TopLeftY},
		{"bottom_right_x", &row.BottomRightX},
		{"bottom_right_y", &row.BottomRightY},
	}
	for _, t := range targets {
		v, err := intField(t.key)
		if err != nil {
			return row, err
		}
		*t.dst = v
	}
	return row, nil
}
