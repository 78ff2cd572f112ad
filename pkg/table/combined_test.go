package table

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/menta2k/painting-cropper/pkg/types"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWriterOutput(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}

	rows := []types.CombinedRow{
		{OriginalFilename: "Degas_7.jpg", CropIdx: 0, TopLeftX: 1, TopLeftY: 2, BottomRightX: 30, BottomRightY: 40, FRCNNSource: true},
		{OriginalFilename: "Degas_7.jpg", CropIdx: 1, TopLeftX: 5, TopLeftY: 6, BottomRightX: 7, BottomRightY: 8, BINGSource: true, WrongFile: true},
	}
	if err := w.WriteRows(rows); err != nil {
		t.Fatalf("WriteRows failed: %v", err)
	}

	want := strings.Join([]string{
		"original_filename,crop_idx,top_left_x,top_left_y,top_right_x,top_right_y,bottom_left_x,bottom_left_y,bottom_right_x,bottom_right_y,WRONG_file,FRCNN_source,BING_source",
		"Degas_7.jpg,0,1,2,30,2,1,40,30,40,FALSE,TRUE,FALSE",
		"Degas_7.jpg,1,5,6,7,6,5,8,7,8,TRUE,FALSE,TRUE",
		"",
	}, "\n")
	if buf.String() != want {
		t.Errorf("Unexpected table:\n%s\nwant:\n%s", buf.String(), want)
	}

	got, err := Read(&buf, quietLogger())
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(got) != 2 || got[0] != rows[0] || got[1] != rows[1] {
		t.Errorf("Read back %+v, want %+v", got, rows)
	}
}

func TestReadAliasesAndFlags(t *testing.T) {
	input := "file_name,crop_index,top_left_x,top_left_y,bottom_right_x,bottom_right_y,WRONG,FRCNN_source,BING_source\n" +
		"Monet_Claude_12.jpg,3,0,0,10,10,true,False,TRUE\n" +
		"Monet_Claude_12.jpg,4.0,1,1,5.0,5,FALSE,,\n"

	rows, err := Read(strings.NewReader(input), quietLogger())
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(rows))
	}
	if !rows[0].WrongFile || rows[0].FRCNNSource || !rows[0].BINGSource {
		t.Errorf("Unexpected flags %+v", rows[0])
	}
	if rows[1].CropIdx != 4 || rows[1].BottomRightX != 5 {
		t.Errorf("Expected float-encoded ints to be accepted, got %+v", rows[1])
	}
}

func TestReadSkipsBadRows(t *testing.T) {
	input := "original_filename,crop_idx,top_left_x,top_left_y,bottom_right_x,bottom_right_y\n" +
		"a.jpg,0,0,0,10,10\n" +
		"a.jpg,1,zero,0,10,10\n" +
		",2,0,0,10,10\n" +
		"a.jpg,3,1,1,9,9\n"

	rows, err := Read(strings.NewReader(input), quietLogger())
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(rows))
	}
	if rows[1].CropIdx != 3 {
		t.Errorf("Expected crop_idx 3, got %d", rows[1].CropIdx)
	}
}

func TestReadMissingColumn(t *testing.T) {
	_, err := Read(strings.NewReader("original_filename,crop_idx\na.jpg,0\n"), quietLogger())
	if !errors.Is(err, ErrMissingColumn) {
		t.Errorf("Expected ErrMissingColumn, got %v", err)
	}
}

func TestReadEmpty(t *testing.T) {
	rows, err := Read(strings.NewReader(""), quietLogger())
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("Expected no rows, got %d", len(rows))
	}
}
