//go:build novideo

package main

import (
	"github.com/cockroachdb/errors"

	"github.com/nvr-ai/stream-bench/frames"
)

func openVideo(path string, _ frames.Options) (frames.Source, error) {
	return nil, errors.Newf("video input %s needs a build without the novideo tag", path)
}
