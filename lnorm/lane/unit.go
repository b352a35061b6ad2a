package lane

import (
	"math/bits"
	"sync"

	"github.com/ajroetker/go-layernorm/lnorm/welford"
)

// Unit identifies one cooperating unit within a launch: a set of Groups
// groups of GroupWidth lanes that jointly process one row at a time, sharing
// an Arena and a barrier. Units are assigned rows by a grid-stride loop
// (unit Index handles rows Index, Index+Stride, ...), so the row count is
// unbounded by the unit count.
type Unit[U welford.Floats] struct {
	Index  int // unit index within the launch
	Stride int // number of units launched
	Groups int // cooperating groups in this unit (power of two)

	// Arena is the unit's shared scratch; nil for solo units, which never
	// need inter-group stages.
	Arena *Arena[U]

	bar *Barrier
}

// Sync blocks until every group of the unit has reached the same point. A
// solo unit's Sync is a no-op.
func (u *Unit[U]) Sync() { u.bar.Wait() }

// Lanes returns the total lane count of the unit, Groups*GroupWidth.
func (u *Unit[U]) Lanes() int { return u.Groups * GroupWidth }

// Solo returns a single-group unit executing on the calling goroutine. The
// sequential and row-pool drivers use one per row batch.
func Solo[U welford.Floats]() *Unit[U] {
	return &Unit[U]{Index: 0, Stride: 1, Groups: 1, bar: NewBarrier(1)}
}

// Launch runs body across units*groups goroutines: unit u's groups all
// iterate the grid-stride row loop in lockstep, with a full barrier after
// each row so no group races ahead into a reduction that reuses the unit's
// arena. Launch returns when every unit has exhausted its rows.
//
// groups is rounded down to a power of two (the halving merges require it);
// units and rows below 1 are clamped. body must perform the same barrier
// sequence on every group of a unit.
func Launch[U welford.Floats](units, groups, rows int, body func(u *Unit[U], group, row int)) {
	if rows < 1 {
		return
	}
	if units < 1 {
		units = 1
	}
	if units > rows {
		units = rows
	}
	groups = floorPow2(groups)

	var wg sync.WaitGroup
	for id := 0; id < units; id++ {
		u := &Unit[U]{Index: id, Stride: units, Groups: groups, bar: NewBarrier(groups)}
		if groups > 1 {
			u.Arena = NewArena[U](groups)
		}
		for g := 0; g < groups; g++ {
			g := g
			wg.Add(1)
			go func() {
				defer wg.Done()
				for row := u.Index; row < rows; row += u.Stride {
					body(u, g, row)
					u.Sync()
				}
			}()
		}
	}
	wg.Wait()
}

func floorPow2(n int) int {
	if n < 1 {
		return 1
	}
	return 1 << (bits.Len(uint(n)) - 1)
}
