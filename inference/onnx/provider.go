// Package onnx - Execution provider selection and session options.
package onnx

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/nvr-ai/stream-bench/inference"
)

// Provider represents an ONNX Runtime execution provider.
type Provider string

const (
	// ProviderCPU uses the default CPU execution provider.
	ProviderCPU Provider = "cpu"
	// ProviderOpenVINO uses Intel OpenVINO.
	ProviderOpenVINO Provider = "openvino"
	// ProviderCUDA uses NVIDIA CUDA.
	ProviderCUDA Provider = "cuda"
	// ProviderCoreML uses Apple CoreML.
	ProviderCoreML Provider = "coreml"
)

// ParseProvider parses a provider name, case-insensitively.
func ParseProvider(s string) (Provider, error) {
	switch p := Provider(strings.ToLower(strings.TrimSpace(s))); p {
	case ProviderCPU, ProviderOpenVINO, ProviderCUDA, ProviderCoreML:
		return p, nil
	case "":
		return ProviderCPU, nil
	default:
		return "", fmt.Errorf("unsupported execution provider: %q", s)
	}
}

// sessionPlan is the resolved threading and provider setup for one engine.
type sessionPlan struct {
	executionMode ort.ExecutionMode
	intraThreads  int
	interThreads  int
	requests      int
	providerOpts  map[string]string
}

// plan resolves the session setup for the performance hint. Latency runs one request with
// every core on sequential execution; throughput splits cores across parallel requests.
func plan(opts Options) sessionPlan {
	cpus := runtime.NumCPU()

	p := sessionPlan{
		executionMode: ort.ExecutionModeSequential,
		intraThreads:  cpus,
		interThreads:  1,
		requests:      1,
	}
	if opts.Hint == inference.HintThroughput {
		p.requests = opts.Requests
		if p.requests <= 0 {
			p.requests = max(2, cpus/2)
		}
		p.executionMode = ort.ExecutionModeParallel
		p.intraThreads = max(1, cpus/p.requests)
		p.interThreads = max(1, cpus/4)
	} else if opts.Requests > 0 {
		p.requests = opts.Requests
	}

	switch opts.Provider {
	case ProviderOpenVINO:
		// See:
		// https://onnxruntime.ai/docs/execution-providers/OpenVINO-ExecutionProvider.html#summary-of-options
		p.providerOpts = map[string]string{
			"device_type":    strings.ToUpper(opts.Device),
			"num_of_threads": strconv.Itoa(p.intraThreads),
			"num_streams":    strconv.Itoa(p.requests),
		}
		if precision, ok := openvinoPrecision(opts.Device, opts.Precision); ok {
			p.providerOpts["precision"] = precision
		}
	case ProviderCUDA:
		p.providerOpts = map[string]string{
			"device_id":                 cudaDevice(opts.Device),
			"cudnn_conv_algo_search":    "HEURISTIC",
			"do_copy_in_default_stream": "1",
		}
	}
	return p
}

// openvinoPrecision maps the model precision onto the OpenVINO device precision.
// INT8 selects a quantized model and is never a device precision. Devices accept
// CPU:FP32, GPU:[FP32, FP16] and NPU:FP16; anything else keeps the device default.
func openvinoPrecision(device string, precision inference.Precision) (string, bool) {
	family := strings.ToUpper(device)
	if i := strings.IndexAny(family, ".:"); i >= 0 {
		family = family[:i]
	}

	switch precision {
	case inference.PrecisionFP32:
		return string(precision), family == "CPU" || family == "GPU"
	case inference.PrecisionFP16:
		return string(precision), family == "GPU" || family == "NPU"
	default:
		return "", false
	}
}

// cudaDevice extracts the ordinal from device names such as "GPU.1" or "cuda:1".
func cudaDevice(device string) string {
	if i := strings.LastIndexAny(device, ".:"); i >= 0 {
		if _, err := strconv.Atoi(device[i+1:]); err == nil {
			return device[i+1:]
		}
	}
	return "0"
}

// sessionOptions builds native session options for the plan. The caller destroys them.
func sessionOptions(opts Options, p sessionPlan) (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "create session options")
	}

	apply := func() error {
		if err := options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended); err != nil {
			return errors.Wrap(err, "set graph optimization level")
		}
		if err := options.SetExecutionMode(p.executionMode); err != nil {
			return errors.Wrap(err, "set execution mode")
		}
		if err := options.SetIntraOpNumThreads(p.intraThreads); err != nil {
			return errors.Wrap(err, "set intra-op threads")
		}
		if err := options.SetInterOpNumThreads(p.interThreads); err != nil {
			return errors.Wrap(err, "set inter-op threads")
		}

		switch opts.Provider {
		case ProviderOpenVINO:
			if err := options.AppendExecutionProviderOpenVINO(p.providerOpts); err != nil {
				return errors.Wrap(err, "enable OpenVINO")
			}
		case ProviderCUDA:
			cuda, err := ort.NewCUDAProviderOptions()
			if err != nil {
				return errors.Wrap(err, "create CUDA options")
			}
			defer cuda.Destroy()
			if err := cuda.Update(p.providerOpts); err != nil {
				return errors.Wrap(err, "update CUDA options")
			}
			if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
				return errors.Wrap(err, "enable CUDA")
			}
		case ProviderCoreML:
			if err := options.AppendExecutionProviderCoreML(0); err != nil {
				return errors.Wrap(err, "enable CoreML")
			}
		}
		return nil
	}

	if err := apply(); err != nil {
		options.Destroy()
		return nil, err
	}
	return options, nil
}
