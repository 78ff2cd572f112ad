//go:build !onnx

package onnx

import (
	"context"
	"image"

	"github.com/menta2k/painting-cropper/pkg/types"
)

// Detector is unavailable without the onnx build tag
type Detector struct{}

// New always fails without the onnx build tag
func New(Config) (*Detector, error) {
	return nil, ErrNotBuilt
}

// Detect always fails without the onnx build tag
func (d *Detector) Detect(context.Context, string, image.Image) ([]types.Detection, error) {
	return nil, ErrNotBuilt
}

// Close is a no-op
func (d *Detector) Close() error { return nil }
