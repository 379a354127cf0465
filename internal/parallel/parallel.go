// Package parallel splits CPU kernel loops across goroutines.
//
// A training process may run several trials at once, each with its own
// kernels, so every loop takes a Config that caps its fan-out rather than
// sizing itself from the machine.
package parallel

import (
	"runtime"
	"sync"
)

// defaultGrain is the smallest slice of a loop handed to one goroutine.
const defaultGrain = 4096

// Config bounds the goroutines of one kernel loop.
type Config struct {
	// Workers is the most goroutines a loop may use; 0 or 1 runs inline.
	Workers int
	// Grain is the fewest iterations one goroutine receives.
	Grain int
}

// DefaultConfig uses every CPU.
func DefaultConfig() Config {
	return WithWorkers(runtime.NumCPU())
}

// WithWorkers caps loops at n goroutines.
func WithWorkers(n int) Config {
	return Config{Workers: max(n, 1), Grain: defaultGrain}
}

// Sequential runs every loop on the calling goroutine.
func Sequential() Config {
	return Config{Workers: 1}
}

// chunk returns the iterations per goroutine for a loop of n.
func (c Config) chunk(n int) int {
	if c.Workers < 2 || n <= c.Grain {
		return n
	}
	return max((n+c.Workers-1)/c.Workers, c.Grain, 1)
}

// Range calls f on consecutive half-open ranges [lo, hi) that cover [0, n)
// and returns once all calls have.
func Range(n int, cfg Config, f func(lo, hi int)) {
	if n <= 0 {
		return
	}
	size := cfg.chunk(n)
	if size >= n {
		f(0, n)
		return
	}

	var wg sync.WaitGroup
	for lo := 0; lo < n; lo += size {
		hi := min(lo+size, n)
		wg.Add(1)
		go func() {
			defer wg.Done()
			f(lo, hi)
		}()
	}
	wg.Wait()
}

// For calls f(i) for every i in [0, n).
func For(n int, f func(i int), cfg Config) {
	Range(n, cfg, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			f(i)
		}
	})
}
