// Package inference - Engine backends.
package inference

import (
	"fmt"
	"strings"
)

// Backend is the implementation behind an engine.
type Backend string

const (
	// BackendONNX is the ONNX engine that uses the onnxruntime library.
	BackendONNX Backend = "onnx"
	// BackendReference is the pure Go engine that needs no native runtime.
	BackendReference Backend = "reference"
)

// Backends is a list of all supported backends.
var Backends = []Backend{BackendONNX, BackendReference}

// ParseBackend parses a backend name, case-insensitively.
func ParseBackend(s string) (Backend, error) {
	b := Backend(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Backends {
		if b == known {
			return b, nil
		}
	}
	return "", fmt.Errorf("unsupported engine backend: %q", s)
}
