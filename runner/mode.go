package runner

import (
	"fmt"
	"strings"

	"github.com/nvr-ai/stream-bench/inference"
)

// Mode selects one of the fixed concurrency strategies.
type Mode int

const (
	// ModeSync runs one request on one goroutine, strictly sequentially.
	ModeSync Mode = iota
	// ModeAsync drives an engine sized async queue and collects results in a callback.
	ModeAsync
	// ModeOneDecodeMulti decodes on one producer goroutine and infers on a worker pool,
	// retrieving results in submission order.
	ModeOneDecodeMulti
	// ModeMulti runs independent streams, each with its own request, on a worker pool.
	ModeMulti
)

var modeNames = [...]string{
	ModeSync:           "sync",
	ModeAsync:          "async",
	ModeOneDecodeMulti: "one_decode_multi",
	ModeMulti:          "multi",
}

// Modes returns every mode in declaration order.
func Modes() []Mode {
	return []Mode{ModeSync, ModeAsync, ModeOneDecodeMulti, ModeMulti}
}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return fmt.Sprintf("Mode(%d)", int(m))
	}
	return modeNames[m]
}

// Valid reports whether m is one of the declared modes.
func (m Mode) Valid() bool {
	return m >= 0 && int(m) < len(modeNames)
}

// Hint returns the device performance hint suited to the mode: latency for the
// sequential runner, throughput for every concurrent one.
func (m Mode) Hint() inference.PerformanceHint {
	if m == ModeSync {
		return inference.HintLatency
	}
	return inference.HintThroughput
}

// ParseMode parses a mode name as printed by String.
func ParseMode(s string) (Mode, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for m, n := range modeNames {
		if n == name {
			return Mode(m), nil
		}
	}
	return 0, fmt.Errorf("unknown run mode %q (want one of %s)", s, strings.Join(modeNames[:], ", "))
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("invalid mode %d", int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
