// Command stream-bench measures inference throughput and latency under the sync, async,
// one_decode_multi and multi concurrency modes.
//
// Video input is decoded with OpenCV through gocv. Build with -tags novideo to drop the
// OpenCV dependency; synthetic and image directory input keep working.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "go.uber.org/automaxprocs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
