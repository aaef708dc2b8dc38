package heph

import "github.com/olympus-robotics/hephaestus-go/reactor"

// Default configuration values used across the dataflow layer.
const (
	// DefaultRingEntries is the submission queue capacity of the engine's
	// primary reactor.
	DefaultRingEntries = reactor.DefaultEntries

	// DefaultInputCapacity is the queue depth of a typed input when none is
	// given.
	DefaultInputCapacity = 1

	// DefaultTimeScaleFactor runs scheduled deadlines in real time.
	DefaultTimeScaleFactor = 1.0
)
