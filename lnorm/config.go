package lnorm

import (
	"math/bits"
	"os"
	"strconv"
)

// Launch sizing defaults. The parameter-gradient geometry mirrors the
// two-stage reduction contract: paramPartitions disjoint row partitions in
// stage A, folded by paramSpan row-lanes per block; stage B merges the
// partitions with paramMergeSpan lanes per column.
const (
	// paramPartitions is P, the fixed partition count of the partial
	// gradient buffers. paramPartitions must stay an integer multiple of
	// paramMergeSpan.
	paramPartitions = 16

	// paramSpan is the number of row-lanes a stage A block folds at once;
	// partitions are carved in blocks rounded to paramSpan*paramSpan rows.
	paramSpan = 4

	// paramMergeSpan is the stage B lane count per column; each lane folds
	// paramPartitions/paramMergeSpan partitions sequentially before the
	// halving tree.
	paramMergeSpan = 8
)

// Parallel-driver thresholds.
const (
	// minParallelElems is the total element count below which the parallel
	// drivers run sequentially; tiny batches lose more to scheduling than
	// they gain from extra CPUs.
	minParallelElems = 4096

	// hugeRowThreshold is the row width from which cooperating multi-group
	// units pay off when there are too few rows to keep the pool busy.
	hugeRowThreshold = 32768

	// maxRowBatch caps how many rows one pool worker claims at a time.
	maxRowBatch = 16
)

// sequentialEnv checks the LNORM_SEQUENTIAL environment variable. Any value
// that does not parse as false forces the parallel drivers through the
// sequential path.
func sequentialEnv() bool {
	v := os.Getenv("LNORM_SEQUENTIAL")
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return true
	}
	return b
}

// rowBatch picks the pool claim size for a row-parallel launch: small
// enough to balance load across workers, large enough to amortize the
// claim.
func rowBatch(rows, workers int) int {
	b := rows / (workers * 4)
	if b < 1 {
		return 1
	}
	return min(b, maxRowBatch)
}

// cooperativeGroups picks how many 32-lane groups share one row on the
// cooperative path. Must be a power of two for the halving merge.
func cooperativeGroups(normSize int) int {
	g := normSize / (hugeRowThreshold / 4)
	switch {
	case g < 2:
		return 2
	case g >= 8:
		return 8
	default:
		return 1 << (bits.Len(uint(g)) - 1)
	}
}
