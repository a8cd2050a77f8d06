//go:build !novideo

package main

import (
	"github.com/nvr-ai/stream-bench/frames"
	"github.com/nvr-ai/stream-bench/frames/capture"
)

func openVideo(path string, opts frames.Options) (frames.Source, error) {
	src, err := capture.NewVideoSource(path, opts)
	if err != nil {
		return nil, err
	}
	return src, nil
}
