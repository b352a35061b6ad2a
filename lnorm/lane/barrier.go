// Copyright 2026 The go-layernorm Authors. SPDX-License-Identifier: Apache-2.0

package lane

import "sync"

// Barrier is a cyclic synchronization point for the groups of one
// cooperating unit. Every reduction step that writes the shared arena is
// separated from the reads of the next step by one Wait; the barrier is
// reused for every step and row a unit processes.
//
// A Barrier with a single party is a no-op, which lets solo units run the
// same kernel bodies without synchronization overhead.
type Barrier struct {
	mu      sync.Mutex
	cond    *sync.Cond
	parties int
	arrived int
	phase   uint64
}

// NewBarrier creates a barrier for the given number of parties. parties < 1
// is treated as 1.
func NewBarrier(parties int) *Barrier {
	if parties < 1 {
		parties = 1
	}
	b := &Barrier{parties: parties}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Parties returns the number of goroutines the barrier gates.
func (b *Barrier) Parties() int { return b.parties }

// Wait blocks until all parties have called Wait for the current phase. The
// last arrival releases the others and advances the phase, so the barrier
// can be reused immediately.
func (b *Barrier) Wait() {
	if b.parties <= 1 {
		return
	}

	b.mu.Lock()
	phase := b.phase
	b.arrived++
	if b.arrived == b.parties {
		b.arrived = 0
		b.phase++
		b.cond.Broadcast()
		b.mu.Unlock()
		return
	}
	for phase == b.phase {
		b.cond.Wait()
	}
	b.mu.Unlock()
}
