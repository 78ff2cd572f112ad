// Package onnx runs a region proposal network exported to ONNX. The model
// takes a [1,3,S,S] float32 image in [0,1] and returns boxes [N,4] in input
// pixels (x1,y1,x2,y2) and scores [N].
//
// The runtime binding is only compiled with the "onnx" build tag since it
// needs cgo and the onnxruntime shared library.
package onnx

import "errors"

// ErrNotBuilt is returned by New when the binary was built without ONNX support
var ErrNotBuilt = errors.New("onnx support not compiled in (build with -tags onnx)")

// Config describes the model and runtime
type Config struct {
	ModelPath     string
	SharedLibPath string
	InputSize     int
	InputName     string
	BoxesName     string
	ScoresName    string
}

// DefaultConfig returns the tensor names used by torchvision exports
func DefaultConfig() Config {
	return Config{
		InputSize:  800,
		InputName:  "images",
		BoxesName:  "boxes",
		ScoresName: "scores",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.InputSize <= 0 {
		c.InputSize = d.InputSize
	}
	if c.InputName == "" {
		c.InputName = d.InputName
	}
	if c.BoxesName == "" {
		c.BoxesName = d.BoxesName
	}
	if c.ScoresName == "" {
		c.ScoresName = d.ScoresName
	}
	return c
}
