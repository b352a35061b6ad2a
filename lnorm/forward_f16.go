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

func lnForwardRowF16(u *lane.Unit[float32], group, row int, input, output []half.Float16,
	normSize int, gamma, beta []half.Float16, epsilon float64, mean, invStd []float32,
	packed bool) {
	rowStart := row * normSize
	x := input[rowStart : rowStart+normSize]
	out := output[rowStart : rowStart+normSize]

	st := rowMomentsF16(u, group, x, rowStart, packed)
	mu := st.Mean
	rstd := invStdFrom(st.Variance(), epsilon)

	numx := u.Lanes()
	base := group * lane.GroupWidth
	if gamma != nil {
		for start := base; start < normSize; start += numx {
			end := min(start+lane.GroupWidth, normSize)
			for i := start; i < end; i++ {
				v := gamma[i].Float32()*(rstd*(x[i].Float32()-mu)) + beta[i].Float32()
				out[i] = half.FromFloat32(v)
			}
		}
	} else {
		for start := base; start < normSize; start += numx {
			end := min(start+lane.GroupWidth, normSize)
			for i := start; i < end; i++ {
				out[i] = half.FromFloat32(rstd * (x[i].Float32() - mu))
			}
		}
	}

	if group == 0 {
		mean[row] = mu
		invStd[row] = rstd
	}
}

func rmsForwardRowF16(u *lane.Unit[float32], group, row int, input, output []half.Float16,
	normSize int, gamma []half.Float16, epsilon float64, invStd []float32, packed bool) {
	rowStart := row * normSize
	x := input[rowStart : rowStart+normSize]
	out := output[rowStart : rowStart+normSize]

	st := rowSquaresF16(u, group, x, rowStart, packed)
	rstd := invStdFrom(st.MeanSquare(), epsilon)

	numx := u.Lanes()
	base := group * lane.GroupWidth
	if gamma != nil {
		for start := base; start < normSize; start += numx {
			end := min(start+lane.GroupWidth, normSize)
			for i := start; i < end; i++ {
				out[i] = half.FromFloat32(gamma[i].Float32() * (rstd * x[i].Float32()))
			}
		}
	} else {
		for start := base; start < normSize; start += numx {
			end := min(start+lane.GroupWidth, normSize)
			for i := start; i < end; i++ {
				out[i] = half.FromFloat32(rstd * x[i].Float32())
			}
		}
	}

	if group == 0 {
		invStd[row] = rstd
	}
}

// LayerNormForwardF16 is LayerNormForward for half-precision storage:
// tensors and affine parameters are Float16, arithmetic and the persisted
// row statistics are float32. The row reduction widens packed pairs when
// the CPU capability probe allows (half.Packed).
func LayerNormForwardF16(input, output []half.Float16, normSize int,
	gamma, beta []half.Float16, epsilon float64, mean, invStd []float32) error {
	rows, err := validateLayerNormForward("LayerNormForwardF16", input, output,
		normSize, gamma, beta, mean, invStd)
	if err != nil {
		return err
	}
	packed := half.Packed()
	u := lane.Solo[float32]()
	for r := 0; r < rows; r++ {
		lnForwardRowF16(u, 0, r, input, output, normSize, gamma, beta, epsilon, mean, invStd, packed)
	}
	return nil
}

// RMSNormForwardF16 is RMSNormForward for half-precision storage.
func RMSNormForwardF16(input, output []half.Float16, normSize int,
	gamma []half.Float16, epsilon float64, invStd []float32) error {
	rows, err := validateRMSNormForward("RMSNormForwardF16", input, output,
		normSize, gamma, invStd)
	if err != nil {
		return err
	}
	packed := half.Packed()
	u := lane.Solo[float32]()
	for r := 0; r < rows; r++ {
		rmsForwardRowF16(u, 0, r, input, output, normSize, gamma, epsilon, invStd, packed)
	}
	return nil
}
