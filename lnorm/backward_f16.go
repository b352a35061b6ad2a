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
	"github.com/ajroetker/go-layernorm/lnorm/half"
	"github.com/ajroetker/go-layernorm/lnorm/lane"
)

// backwardInputRowF16 mirrors backwardInputRow for half-precision storage:
// elements widen to float32 on load, the aggregates and the closed form run
// in float32, and only the final gradient narrows back.
func backwardInputRowF16(u *lane.Unit[float32], group, row int,
	gradOutput, inputOrOutput []half.Float16, normSize int, mean, invStd []float32,
	gamma, beta []half.Float16, epsilon float64, memoryEfficient, rmsOnly bool,
	gradInput []half.Float16) {
	dout := gradOutput[row*normSize : (row+1)*normSize]
	h := inputOrOutput[row*normSize : (row+1)*normSize]
	dx := gradInput[row*normSize : (row+1)*normSize]

	var mu float32
	if !memoryEfficient && !rmsOnly {
		mu = mean[row]
	}
	rstd := invStd[row]

	fold := func(acc *gradSums[float32], i int) {
		d := dout[i].Float32()
		hv := h[i].Float32()
		switch {
		case gamma != nil && !rmsOnly:
			g := gamma[i].Float32()
			acc.s1 += d * g
			if memoryEfficient {
				acc.s2 += d * (hv - beta[i].Float32())
			} else {
				acc.s2 += d * g * (hv - mu) * rstd
			}
		case gamma != nil:
			if memoryEfficient {
				acc.s2 += d * hv
			} else {
				acc.s2 += d * gamma[i].Float32() * hv * rstd
			}
		case !rmsOnly:
			acc.s1 += d
			if memoryEfficient {
				acc.s2 += d * hv
			} else {
				acc.s2 += d * (hv - mu) * rstd
			}
		default:
			if memoryEfficient {
				acc.s2 += d * hv
			} else {
				acc.s2 += d * hv * rstd
			}
		}
	}

	var lanes [lane.GroupWidth]gradSums[float32]
	numx := u.Lanes()
	for i := range lanes {
		acc := &lanes[i]
		l := 4 * (group*lane.GroupWidth + i)
		for ; l+3 < normSize; l += 4 * numx {
			fold(acc, l)
			fold(acc, l+1)
			fold(acc, l+2)
			fold(acc, l+3)
		}
		for ; l < normSize; l++ {
			fold(acc, l)
		}
	}

	lane.ReduceButterfly(&lanes, addGradSums[float32])

	sum1, sum2 := lanes[0].s1, lanes[0].s2
	if u.Groups > 1 {
		sum1, sum2 = addSumsAcrossGroups(u, group, sum1, sum2)
	}

	normTerm := func(i int) float32 {
		hv := h[i].Float32()
		if memoryEfficient {
			if gamma == nil {
				return hv
			}
			g := clampMagnitude(gamma[i].Float32(), float32(epsilon))
			if rmsOnly {
				return hv / g
			}
			return (hv - beta[i].Float32()) / g
		}
		if rmsOnly {
			return hv * rstd
		}
		return (hv - mu) * rstd
	}

	fH := float32(normSize)
	term1 := rstd / fH
	base := group * lane.GroupWidth
	for start := base; start < normSize; start += numx {
		end := min(start+lane.GroupWidth, normSize)
		for i := start; i < end; i++ {
			sum := fH * dout[i].Float32()
			if gamma != nil {
				sum *= gamma[i].Float32()
			}
			if !rmsOnly {
				sum -= sum1
			}
			sum -= normTerm(i) * sum2
			dx[i] = half.FromFloat32(term1 * sum)
		}
	}
}

// paramPartialsF16 is stage A of the half-precision parameter gradients.
// The partial buffers stay float32; only the final gradients narrow.
func paramPartialsF16(part, rows, normSize int,
	gradOutput, inputOrOutput []half.Float16, mean, invStd []float32,
	gamma, beta []half.Float16, epsilon float64, memoryEfficient, rmsOnly bool,
	partGamma, partBeta []float32) {
	seg := paramSpan * paramSpan
	numSegs := (rows + seg - 1) / seg
	segsPer := (numSegs + paramPartitions - 1) / paramPartitions
	beg := part * segsPer * seg
	end := min((part+1)*segsPer*seg, rows)

	dstBase := part * normSize
	if beg >= end {
		clear(partGamma[dstBase : dstBase+normSize])
		if partBeta != nil {
			clear(partBeta[dstBase : dstBase+normSize])
		}
		return
	}

	norm := func(row, col int) float32 {
		e := inputOrOutput[row*normSize+col].Float32()
		if memoryEfficient {
			g := clampMagnitude(gamma[col].Float32(), float32(epsilon))
			if rmsOnly {
				return e / g
			}
			return (e - beta[col].Float32()) / g
		}
		if rmsOnly {
			return e * invStd[row]
		}
		return (e - mean[row]) * invStd[row]
	}

	for tile := 0; tile < normSize; tile += lane.GroupWidth {
		width := min(lane.GroupWidth, normSize-tile)
		var accG, accB [paramSpan][lane.GroupWidth]float32

		for y := 0; y < paramSpan; y++ {
			row := beg + y
			if row >= end {
				break
			}
			for c := 0; c < width; c++ {
				d := gradOutput[row*normSize+tile+c].Float32()
				accG[y][c] = d * norm(row, tile+c)
				if partBeta != nil {
					accB[y][c] = d
				}
			}
		}

		for block := beg + paramSpan; block < end; block += paramSpan {
			for y := 0; y < paramSpan; y++ {
				row := block + y
				if row >= end {
					break
				}
				for c := 0; c < width; c++ {
					d := gradOutput[row*normSize+tile+c].Float32()
					accG[y][c] += d * norm(row, tile+c)
					if partBeta != nil {
						accB[y][c] += d
					}
				}
			}
		}

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

func mergeParamPartialsF16(colStart, colEnd, normSize int,
	partGamma, partBeta []float32, gradGamma, gradBeta []half.Float16) {
	for col := colStart; col < colEnd; col++ {
		var lanesG, lanesB [paramMergeSpan]float32
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

		gradGamma[col] = half.FromFloat32(lanesG[0])
		if gradBeta != nil {
			gradBeta[col] = half.FromFloat32(lanesB[0])
		}
	}
}

func paramGradientsF16(rows, normSize int,
	gradOutput, inputOrOutput []half.Float16, mean, invStd []float32,
	gamma, beta []half.Float16, epsilon float64, memoryEfficient, rmsOnly bool,
	gradGamma, gradBeta []half.Float16) {
	partGamma := make([]float32, paramPartitions*normSize)
	var partBeta []float32
	if gradBeta != nil {
		partBeta = make([]float32, paramPartitions*normSize)
	}

	for p := 0; p < paramPartitions; p++ {
		paramPartialsF16(p, rows, normSize, gradOutput, inputOrOutput, mean, invStd,
			gamma, beta, epsilon, memoryEfficient, rmsOnly, partGamma, partBeta)
	}
	mergeParamPartialsF16(0, normSize, normSize, partGamma, partBeta, gradGamma, gradBeta)
}

// LayerNormBackwardF16 is LayerNormBackward for half-precision storage;
// mean and invStd are the float32 statistics LayerNormForwardF16 persisted.
func LayerNormBackwardF16(gradOutput, inputOrOutput []half.Float16, normSize int,
	mean, invStd []float32, gamma, beta []half.Float16, epsilon float64,
	memoryEfficient bool, gradInput, gradGamma, gradBeta []half.Float16) error {
	rows, err := validateLayerNormBackward("LayerNormBackwardF16", gradOutput, inputOrOutput,
		normSize, mean, invStd, gamma, beta, memoryEfficient, gradInput, gradGamma, gradBeta)
	if err != nil {
		return err
	}
	u := lane.Solo[float32]()
	for r := 0; r < rows; r++ {
		backwardInputRowF16(u, 0, r, gradOutput, inputOrOutput, normSize, mean, invStd,
			gamma, beta, epsilon, memoryEfficient, false, gradInput)
	}
	if gamma != nil {
		paramGradientsF16(rows, normSize, gradOutput, inputOrOutput, mean, invStd,
			gamma, beta, epsilon, memoryEfficient, false, gradGamma, gradBeta)
	}
	return nil
}

// RMSNormBackwardF16 is RMSNormBackward for half-precision storage.
func RMSNormBackwardF16(gradOutput, inputOrOutput []half.Float16, normSize int,
	invStd []float32, gamma []half.Float16, epsilon float64,
	memoryEfficient bool, gradInput, gradGamma []half.Float16) error {
	rows, err := validateRMSNormBackward("RMSNormBackwardF16", gradOutput, inputOrOutput,
		normSize, invStd, gamma, gradInput, gradGamma)
	if err != nil {
		return err
	}
	u := lane.Solo[float32]()
	for r := 0; r < rows; r++ {
		backwardInputRowF16(u, 0, r, gradOutput, inputOrOutput, normSize, nil, invStd,
			gamma, nil, epsilon, memoryEfficient, true, gradInput)
	}
	if gamma != nil {
		paramGradientsF16(rows, normSize, gradOutput, inputOrOutput, nil, invStd,
			gamma, nil, epsilon, memoryEfficient, true, gradGamma, nil)
	}
	return nil
}
