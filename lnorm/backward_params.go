// Copyright 2026 go-layernorm Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package lnorm

import (
	"github.com/ajroetker/go-layernorm/lnorm/lane"
	"github.com/ajroetker/go-layernorm/lnorm/rowpool"
	"github.com/ajroetker/go-layernorm/lnorm/welford"
)

// paramPartials is stage A of the parameter-gradient reduction: it fills
// partition part's row of the partial buffers with that partition's
// per-column sums of dout (beta) and dout*norm (gamma).
//
// Partitions are carved from the batch in blocks rounded to
// paramSpan*paramSpan rows so every partition except the last holds whole
// blocks. Within the partition, paramSpan row-lanes sweep 32-wide column
// tiles: the first row block assigns the tile scratch, the remaining blocks
// accumulate into it, and a halving tree folds the row-lanes before the
// tile is stored. Rows past the end of the batch contribute zero.
func paramPartials[F welford.Floats](part, rows, normSize int,
	gradOutput, inputOrOutput []F, mean, invStd []F, gamma, beta []F,
	epsilon float64, memoryEfficient, rmsOnly bool, partGamma, partBeta []F) {
	seg := paramSpan * paramSpan
	numSegs := (rows + seg - 1) / seg
	segsPer := (numSegs + paramPartitions - 1) / paramPartitions
	beg := part * segsPer * seg
	end := min((part+1)*segsPer*seg, rows)

	dstBase := part * normSize
	if beg >= end {
		// The partition owns no rows; its slots still need defined zeros
		// for the stage B fold.
		clear(partGamma[dstBase : dstBase+normSize])
		if partBeta != nil {
			clear(partBeta[dstBase : dstBase+normSize])
		}
		return
	}

	norm := func(row, col int) F {
		e := inputOrOutput[row*normSize+col]
		if memoryEfficient {
			g := clampMagnitude(gamma[col], F(epsilon))
			if rmsOnly {
				return e / g
			}
			return (e - beta[col]) / g
		}
		if rmsOnly {
			return e * invStd[row]
		}
		return (e - mean[row]) * invStd[row]
	}

	for tile := 0; tile < normSize; tile += lane.GroupWidth {
		width := min(lane.GroupWidth, normSize-tile)
		var accG, accB [paramSpan][lane.GroupWidth]F

		// Write phase: the first row block assigns the tile scratch.
		for y := 0; y < paramSpan; y++ {
			row := beg + y
			if row >= end {
				break
			}
			for c := 0; c < width; c++ {
				d := gradOutput[row*normSize+tile+c]
				accG[y][c] = d * norm(row, tile+c)
				if partBeta != nil {
					accB[y][c] = d
				}
			}
		}

		// Accumulate-add phase for the remaining row blocks.
		for block := beg + paramSpan; block < end; block += paramSpan {
			for y := 0; y < paramSpan; y++ {
				row := block + y
				if row >= end {
					break
				}
				for c := 0; c < width; c++ {
					d := gradOutput[row*normSize+tile+c]
					accG[y][c] += d * norm(row, tile+c)
					if partBeta != nil {
						accB[y][c] += d
					}
				}
			}
		}

		// Fold the row-lanes by halving.
		for off := paramSpan / 2; off > 0; off /= 2 {
			for y := 0; y < off; y++ {
				for c := 0; c < width; c++ {
					accG[y][c] += accG[y+off][c]
				}
				if partBeta != nil {
					for c := 0; c < width; c++ {
						accB[y][c] += accB[y+off][c]
					}
				}
			}
		}

		for c := 0; c < width; c++ {
			partGamma[dstBase+tile+c] = accG[0][c]
		}
		if partBeta != nil {
			for c := 0; c < width; c++ {
				partBeta[dstBase+tile+c] = accB[0][c]
			}
		}
	}
}

// mergeParamPartials is stage B: for each column in [colStart, colEnd),
// paramMergeSpan lanes fold their strided share of the partitions
// sequentially, a halving tree folds the lanes, and the total overwrites
// the output slot.
func mergeParamPartials[F welford.Floats](colStart, colEnd, normSize int,
	partGamma, partBeta []F, gradGamma, gradBeta []F) {
	for col := colStart; col < colEnd; col++ {
		var lanesG, lanesB [paramMergeSpan]F
		for y := 0; y < paramMergeSpan; y++ {
			g := partGamma[y*normSize+col]
			for p := y + paramMergeSpan; p < paramPartitions; p += paramMergeSpan {
				g += partGamma[p*normSize+col]
			}
			lanesG[y] = g
			if partBeta != nil {
				b := partBeta[y*normSize+col]
				for p := y + paramMergeSpan; p < paramPartitions; p += paramMergeSpan {
					b += partBeta[p*normSize+col]
				}
				lanesB[y] = b
			}
		}

		for off := paramMergeSpan / 2; off > 0; off /= 2 {
			for y := 0; y < off; y++ {
				lanesG[y] += lanesG[y+off]
				if partBeta != nil {
					lanesB[y] += lanesB[y+off]
				}
			}
		}

		gradGamma[col] = lanesG[0]
		if gradBeta != nil {
			gradBeta[col] = lanesB[0]
		}
	}
}

// paramGradients runs the two-stage parameter-gradient reduction, assuming
// gamma is present (callers skip it entirely otherwise). The partial
// buffers live only for the duration of the call. A nil pool runs both
// stages sequentially; with a pool, stage A parallelizes over partitions
// (disjoint writes, no hazard) and stage B over columns.
func paramGradients[F welford.Floats](pool *rowpool.Pool, rows, normSize int,
	gradOutput, inputOrOutput []F, mean, invStd []F, gamma, beta []F,
	epsilon float64, memoryEfficient, rmsOnly bool, gradGamma, gradBeta []F) {
	partGamma := make([]F, paramPartitions*normSize)
	var partBeta []F
	if gradBeta != nil {
		partBeta = make([]F, paramPartitions*normSize)
	}

	if pool == nil {
		for p := 0; p < paramPartitions; p++ {
			paramPartials(p, rows, normSize, gradOutput, inputOrOutput, mean, invStd,
				gamma, beta, epsilon, memoryEfficient, rmsOnly, partGamma, partBeta)
		}
		mergeParamPartials(0, normSize, normSize, partGamma, partBeta, gradGamma, gradBeta)
		return
	}

	pool.Chunks(paramPartitions, func(start, end int) {
		for p := start; p < end; p++ {
			paramPartials(p, rows, normSize, gradOutput, inputOrOutput, mean, invStd,
				gamma, beta, epsilon, memoryEfficient, rmsOnly, partGamma, partBeta)
		}
	})
	pool.Chunks(normSize, func(start, end int) {
		mergeParamPartials(start, end, normSize, partGamma, partBeta, gradGamma, gradBeta)
	})
}
