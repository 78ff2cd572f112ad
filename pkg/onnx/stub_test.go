//go:build !onnx

package onnx

import (
	"context"
	"errors"
	"testing"
)

func TestNewWithoutTag(t *testing.T) {
	if _, err := New(Config{ModelPath: "model.onnx"}); !errors.Is(err, ErrNotBuilt) {
		t.Errorf("Expected ErrNotBuilt, got %v", err)
	}
	var d Detector
	if _, err := d.Detect(context.Background(), "a.jpg", nil); !errors.Is(err, ErrNotBuilt) {
		t.Errorf("Expected ErrNotBuilt from Detect, got %v", err)
	}
}
