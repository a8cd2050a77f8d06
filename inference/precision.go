// Package inference - This file provides the device property vocabulary shared by engines.
package inference

import (
	"fmt"
	"strings"
)

// Precision represents the precision of a compiled model.
type Precision string

// Precision constants are the supported precisions for inference.
const (
	PrecisionINT8 Precision = "INT8"
	PrecisionFP16 Precision = "FP16"
	PrecisionFP32 Precision = "FP32"
)

// ParsePrecision accepts the model type names used on the command line (fp32, fp16, int8).
func ParsePrecision(s string) (Precision, error) {
	switch p := Precision(strings.ToUpper(s)); p {
	case PrecisionINT8, PrecisionFP16, PrecisionFP32:
		return p, nil
	default:
		return "", fmt.Errorf("unsupported precision: %q", s)
	}
}

// PerformanceHint tells the device plugin whether to optimize for single-request latency
// or for aggregate throughput across many in-flight requests.
type PerformanceHint string

const (
	// HintLatency favours one request at a time.
	HintLatency PerformanceHint = "LATENCY"
	// HintThroughput favours many parallel requests.
	HintThroughput PerformanceHint = "THROUGHPUT"
)
