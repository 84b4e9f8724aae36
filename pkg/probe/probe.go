// Package probe collects independent read-only status signals (git state,
// CI run list, mutation summary, dev-log scan) for the controller's
// reporting path. Probes may run sequentially or on a bounded worker pool;
// the two modes produce byte-identical results in identical order, so
// concurrency is purely a latency optimization.
package probe

import (
	"context"
	"fmt"
	"runtime"
	"sync"
)

// Probe is one independent read-only status check.
type Probe struct {
	Name string
	Run  func(ctx context.Context) (string, error)
}

// Result is one probe's outcome. A probe that fails or panics yields a
// Result with Err set; it never aborts sibling probes.
type Result struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Output string `json:"output,omitempty"`
	Err    string `json:"error,omitempty"`
}

// Collector runs a fixed set of probes.
type Collector struct {
	Probes []Probe

	// Concurrency bounds the worker pool; <= 0 means runtime.NumCPU().
	Concurrency int
}

// Collect runs every probe and returns results in probe declaration
// order. With parallel=false the probes run one by one on the calling
// goroutine.
func (c *Collector) Collect(ctx context.Context, parallel bool) []Result {
	if len(c.Probes) == 0 {
		return nil
	}
	if !parallel {
		results := make([]Result, len(c.Probes))
		for i := range c.Probes {
			results[i] = c.runOne(ctx, i)
		}
		return results
	}

	workers := c.Concurrency
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(c.Probes) {
		workers = len(c.Probes)
	}

	jobs := make(chan int, len(c.Probes))
	results := make([]Result, len(c.Probes))
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = c.runOne(ctx, i)
			}
		}()
	}

	for i := range c.Probes {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return results
}

// runOne executes a single probe, converting panics into per-probe error
// values.
func (c *Collector) runOne(ctx context.Context, i int) (res Result) {
	p := c.Probes[i]
	res = Result{Name: p.Name}

	defer func() {
		if r := recover(); r != nil {
			res.OK = false
			res.Output = ""
			res.Err = fmt.Sprintf("probe panicked: %v", r)
		}
	}()

	out, err := p.Run(ctx)
	if err != nil {
		res.Err = err.Error()
		return res
	}
	res.OK = true
	res.Output = out
	return res
}
