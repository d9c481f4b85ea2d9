// Package parallel provides the data-parallel helpers used by the margin
// evaluator and the path enumerator.
package parallel

import (
	"runtime"
	"sync"
)

// DefaultWorkers is the pool capacity used for per-row path combination.
const DefaultWorkers = 8

// Config controls parallel execution behavior.
type Config struct {
	Enabled      bool // Whether parallel execution is enabled.
	NumWorkers   int  // Number of worker goroutines to use.
	MinChunkSize int  // Minimum items per goroutine to avoid overhead.
}

// DefaultConfig returns sensible defaults based on CPU count.
func DefaultConfig() Config {
	n := runtime.NumCPU()
	return Config{
		Enabled:      n > 1,
		NumWorkers:   n,
		MinChunkSize: 64, // Typical cache line aware chunk.
	}
}

// For executes f(i) for i in [0, n) with optional parallelism.
// Falls back to sequential execution if parallelism is disabled or n is too small.
func For(n int, f func(i int), cfg Config) {
	if !cfg.Enabled || n < cfg.MinChunkSize || cfg.NumWorkers < 2 {
		for i := 0; i < n; i++ {
			f(i)
		}
		return
	}

	var wg sync.WaitGroup
	chunkSize := max((n+cfg.NumWorkers-1)/cfg.NumWorkers, cfg.MinChunkSize)

	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			for i := s; i < e; i++ {
				f(i)
			}
		}(start, end)
	}
	wg.Wait()
}

// Pool is a fixed set of worker goroutines that is created once and reused
// for many fan-out/fan-in rounds.
//
// At most Size jobs run at the same time. Run blocks until every job of the
// round has finished, so consecutive rounds never overlap.
type Pool struct {
	size   int
	jobs   chan func()
	done   sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// NewPool starts a pool with the given number of workers (DefaultWorkers if
// workers <= 0).
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	p := &Pool{
		size: workers,
		jobs: make(chan func()),
	}
	p.done.Add(workers)
	for range workers {
		go p.work()
	}
	return p
}

func (p *Pool) work() {
	defer p.done.Done()
	for job := range p.jobs {
		job()
	}
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.size
}

// Run executes f(i) for i in [0, n) on the pool workers and waits for all of
// them. Panics if the pool is closed.
func (p *Pool) Run(n int, f func(i int)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		panic("parallel: Run on closed pool")
	}

	var round sync.WaitGroup
	round.Add(n)
	for i := 0; i < n; i++ {
		p.jobs <- func() {
			defer round.Done()
			f(i)
		}
	}
	round.Wait()
}

// Close stops the workers. It is safe to call more than once.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.jobs)
	p.done.Wait()
}
