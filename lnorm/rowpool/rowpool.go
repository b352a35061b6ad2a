// Copyright 2026 The go-layernorm Authors. SPDX-License-Identifier: Apache-2.0

// Package rowpool provides a persistent worker pool for spreading the rows
// of a batch across CPUs. Normalization treats every row independently, so
// the natural parallel unit is a contiguous row range. A Pool is created
// once and reused across many forward and backward calls, which keeps
// per-call goroutine spawn and channel allocation out of the hot path.
//
// Usage:
//
//	pool := rowpool.New(runtime.GOMAXPROCS(0))
//	defer pool.Close()
//
//	for _, batch := range batches {
//	    pool.Rows(n1, 16, func(start, end int) {
//	        normalizeRows(start, end)
//	    })
//	}
package rowpool

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Pool is a persistent worker pool. Workers are spawned once at creation
// and persist until Close.
type Pool struct {
	numWorkers int
	workC      chan task
	closeOnce  sync.Once
	closed     atomic.Bool
}

// task is one queued parallel operation.
type task struct {
	fn      func()
	barrier *sync.WaitGroup
}

// New creates a pool with the given number of workers, spawned immediately.
// If workers <= 0, GOMAXPROCS workers are used.
func New(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	p := &Pool{
		numWorkers: workers,
		// Buffer enough for every worker to have pending work.
		workC: make(chan task, workers*2),
	}

	for i := 0; i < workers; i++ {
		go p.worker()
	}

	return p
}

func (p *Pool) worker() {
	for item := range p.workC {
		item.fn()
		item.barrier.Done()
	}
}

// NumWorkers returns the number of workers in the pool.
func (p *Pool) NumWorkers() int {
	return p.numWorkers
}

// Close shuts the pool down. Queued work still completes. Close is safe to
// call more than once; operations on a closed pool run sequentially on the
// caller.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		close(p.workC)
	})
}

// Rows runs fn over [0, n) in batches claimed by atomic work stealing.
// Workers grab `batch` rows per claim, so load stays balanced when row cost
// varies while the claim overhead stays amortized. fn receives half-open
// [start, end) row ranges and must be safe to call concurrently. Rows
// blocks until all n rows are processed.
func (p *Pool) Rows(n, batch int, fn func(start, end int)) {
	if n <= 0 {
		return
	}
	if batch <= 0 {
		batch = 1
	}

	if p.closed.Load() {
		fn(0, n)
		return
	}

	numBatches := (n + batch - 1) / batch
	workers := min(p.numWorkers, numBatches)

	if workers == 1 {
		fn(0, n)
		return
	}

	var next atomic.Int64
	var wg sync.WaitGroup
	wg.Add(workers)

	for i := 0; i < workers; i++ {
		p.workC <- task{
			fn: func() {
				for {
					b := int(next.Add(1)) - 1
					start := b * batch
					if start >= n {
						return
					}
					fn(start, min(start+batch, n))
				}
			},
			barrier: &wg,
		}
	}

	wg.Wait()
}

// Chunks runs fn over [0, n) split into one contiguous range per worker.
// Cheaper than Rows when every index costs the same, such as per-column
// passes. fn receives half-open [start, end) ranges and must be safe to
// call concurrently. Chunks blocks until all work completes.
func (p *Pool) Chunks(n int, fn func(start, end int)) {
	if n <= 0 {
		return
	}

	if p.closed.Load() {
		fn(0, n)
		return
	}

	workers := min(p.numWorkers, n)
	if workers == 1 {
		fn(0, n)
		return
	}

	chunk := (n + workers - 1) / workers

	var wg sync.WaitGroup
	wg.Add(workers)

	for i := 0; i < workers; i++ {
		start := i * chunk
		end := min(start+chunk, n)
		if start >= n {
			wg.Done()
			continue
		}

		p.workC <- task{
			fn:      func() { fn(start, end) },
			barrier: &wg,
		}
	}

	wg.Wait()
}
