package lane

import "github.com/ajroetker/go-layernorm/lnorm/welford"

// Arena is the scratch memory one cooperating unit shares between reduction
// stages. It is allocated once per unit at launch, as a single slab sized by
// the group count and partitioned into named regions, and owned exclusively
// by that unit. Each region holds one slot per group; group leaders write their
// slot and partners read it only after a Barrier.Wait.
//
// Reuse across reduction operations (the next row or partition) requires a
// full barrier, not just an ordering fence: the unit's trailing sync
// guarantees all reads of the previous operation completed.
type Arena[U welford.Floats] struct {
	// Statistics and count regions, used by the moments reduction.
	Means   []U
	VarSums []U
	Counts  []U

	// Gradient pair-sum regions, used by the backward reduction.
	Sums1 []U
	Sums2 []U
}

// NewArena allocates an arena with one slot per group in every region.
func NewArena[U welford.Floats](groups int) *Arena[U] {
	if groups < 1 {
		groups = 1
	}
	slab := make([]U, 5*groups)
	return &Arena[U]{
		Means:   slab[0*groups : 1*groups],
		VarSums: slab[1*groups : 2*groups],
		Counts:  slab[2*groups : 3*groups],
		Sums1:   slab[3*groups : 4*groups],
		Sums2:   slab[4*groups : 5*groups],
	}
}
