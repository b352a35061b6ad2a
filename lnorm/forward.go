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
	"math"

	"github.com/ajroetker/go-layernorm/lnorm/lane"
	"github.com/ajroetker/go-layernorm/lnorm/welford"
)

// invStdFrom converts a biased variance (or mean square) into the inverse
// standard deviation every kernel works with.
func invStdFrom[F welford.Floats](variance F, epsilon float64) F {
	return F(1 / math.Sqrt(float64(variance)+epsilon))
}

// lnForwardRow normalizes one row: reduce the row to (mean, invStd), write
// the normalized and optionally affine-transformed elements, and persist the
// row statistics. Each group writes the 32-wide column spans it owns, so
// cooperating groups never write the same element; group 0 alone persists
// the statistics.
func lnForwardRow[F welford.Floats](u *lane.Unit[F], group, row int, input, output []F,
	normSize int, gamma, beta []F, epsilon float64, mean, invStd []F) {
	x := input[row*normSize : (row+1)*normSize]
	out := output[row*normSize : (row+1)*normSize]

	st := rowMoments(u, group, x)
	mu := st.Mean
	rstd := invStdFrom(st.Variance(), epsilon)

	numx := u.Lanes()
	base := group * lane.GroupWidth
	if gamma != nil {
		for start := base; start < normSize; start += numx {
			end := min(start+lane.GroupWidth, normSize)
			for i := start; i < end; i++ {
				out[i] = gamma[i]*(rstd*(x[i]-mu)) + beta[i]
			}
		}
	} else {
		for start := base; start < normSize; start += numx {
			end := min(start+lane.GroupWidth, normSize)
			for i := start; i < end; i++ {
				out[i] = rstd * (x[i] - mu)
			}
		}
	}

	if group == 0 {
		mean[row] = mu
		invStd[row] = rstd
	}
}

// rmsForwardRow is the mean-free variant: the row statistic is the mean
// square, elements are scaled without centering, and there is no shift.
func rmsForwardRow[F welford.Floats](u *lane.Unit[F], group, row int, input, output []F,
	normSize int, gamma []F, epsilon float64, invStd []F) {
	x := input[row*normSize : (row+1)*normSize]
	out := output[row*normSize : (row+1)*normSize]

	st := rowSquares(u, group, x)
	rstd := invStdFrom(st.MeanSquare(), epsilon)

	numx := u.Lanes()
	base := group * lane.GroupWidth
	if gamma != nil {
		for start := base; start < normSize; start += numx {
			end := min(start+lane.GroupWidth, normSize)
			for i := start; i < end; i++ {
				out[i] = gamma[i] * (rstd * x[i])
			}
		}
	} else {
		for start := base; start < normSize; start += numx {
			end := min(start+lane.GroupWidth, normSize)
			for i := start; i < end; i++ {
				out[i] = rstd * x[i]
			}
		}
	}

	if group == 0 {
		invStd[row] = rstd
	}
}

// LayerNormForward normalizes every normSize-wide row of input to zero mean
// and unit variance and writes the result to output, optionally scaled by
// gamma and shifted by beta (which must both be nil or both be length
// normSize).
//
// Per row i over elements x of that row:
//
//	output = gamma*(x-mean(x))*invStd + beta
//	invStd = 1/sqrt(variance(x) + epsilon)
//
// with the biased variance (divided by normSize, no Bessel correction).
// mean and invStd are caller-allocated with one element per row; forward
// fills them and the standard backward mode consumes them.
func LayerNormForward[F welford.Floats](input, output []F, normSize int,
	gamma, beta []F, epsilon float64, mean, invStd []F) error {
	rows, err := validateLayerNormForward("LayerNormForward", input, output, normSize, gamma, beta, mean, invStd)
	if err != nil {
		return err
	}
	u := lane.Solo[F]()
	for r := 0; r < rows; r++ {
		lnForwardRow(u, 0, r, input, output, normSize, gamma, beta, epsilon, mean, invStd)
	}
	return nil
}

// RMSNormForward is the mean-free variant of LayerNormForward: rows are
// scaled by 1/sqrt(meanSquare + epsilon) without centering, gamma is
// optional and there is no beta. invStd is caller-allocated with one
// element per row.
func RMSNormForward[F welford.Floats](input, output []F, normSize int,
	gamma []F, epsilon float64, invStd []F) error {
	rows, err := validateRMSNormForward("RMSNormForward", input, output, normSize, gamma, invStd)
	if err != nil {
		return err
	}
	u := lane.Solo[F]()
	for r := 0; r < rows; r++ {
		rmsForwardRow(u, 0, r, input, output, normSize, gamma, epsilon, invStd)
	}
	return nil
}
