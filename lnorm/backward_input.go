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
	"github.com/ajroetker/go-layernorm/lnorm/welford"
)

// gradSums holds the two per-row aggregates the input gradient is derived
// from: sum1 over dout*gamma and sum2 over dout*gamma*normalized.
type gradSums[F welford.Floats] struct {
	s1, s2 F
}

func addGradSums[F welford.Floats](a, b gradSums[F]) gradSums[F] {
	return gradSums[F]{a.s1 + b.s1, a.s2 + b.s2}
}

// clampMagnitude returns g with its magnitude forced to at least lo,
// keeping the sign. The sign of a zero is treated as positive.
func clampMagnitude[F welford.Floats](g, lo F) F {
	if g < 0 {
		if g > -lo {
			return -lo
		}
		return g
	}
	if g < lo {
		return lo
	}
	return g
}

// backwardInputRow computes one row of the input gradient.
//
// Standard mode reads the forward input plus the persisted (mean, invStd);
// memory-efficient mode reads the forward output instead and reconstructs
// the normalized value as (output-beta)/clamp(gamma), needing neither mean
// nor input. In both modes, with dout the incoming gradient and fH the row
// width:
//
//	gradInput = invStd/fH * (fH*dout*gamma - sum1 - norm*sum2)
//	sum1 = sum(dout*gamma)                  (dropped in RMS-only mode)
//	sum2 = sum(dout*gamma*norm)
//
// The memory-efficient sum2 folds dout*(output-beta), which equals
// dout*gamma*norm exactly; the clamped division appears only in the
// per-element norm term, so a collapsed scale perturbs one factor instead
// of both.
func backwardInputRow[F welford.Floats](u *lane.Unit[F], group, row int,
	gradOutput, inputOrOutput []F, normSize int, mean, invStd []F,
	gamma, beta []F, epsilon float64, memoryEfficient, rmsOnly bool,
	gradInput []F) {
	dout := gradOutput[row*normSize : (row+1)*normSize]
	h := inputOrOutput[row*normSize : (row+1)*normSize]
	dx := gradInput[row*normSize : (row+1)*normSize]

	var mu F
	if !memoryEfficient && !rmsOnly {
		mu = mean[row]
	}
	rstd := invStd[row]

	fold := func(acc *gradSums[F], i int) {
		d := dout[i]
		switch {
		case gamma != nil && !rmsOnly:
			acc.s1 += d * gamma[i]
			if memoryEfficient {
				acc.s2 += d * (h[i] - beta[i])
			} else {
				acc.s2 += d * gamma[i] * (h[i] - mu) * rstd
			}
		case gamma != nil:
			if memoryEfficient {
				acc.s2 += d * h[i]
			} else {
				acc.s2 += d * gamma[i] * h[i] * rstd
			}
		case !rmsOnly:
			acc.s1 += d
			if memoryEfficient {
				acc.s2 += d * h[i]
			} else {
				acc.s2 += d * (h[i] - mu) * rstd
			}
		default:
			if memoryEfficient {
				acc.s2 += d * h[i]
			} else {
				acc.s2 += d * h[i] * rstd
			}
		}
	}

	var lanes [lane.GroupWidth]gradSums[F]
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

	lane.ReduceButterfly(&lanes, addGradSums[F])

	sum1, sum2 := lanes[0].s1, lanes[0].s2
	if u.Groups > 1 {
		sum1, sum2 = addSumsAcrossGroups(u, group, sum1, sum2)
	}

	normTerm := func(i int) F {
		if memoryEfficient {
			if gamma == nil {
				return h[i]
			}
			g := clampMagnitude(gamma[i], F(epsilon))
			if rmsOnly {
				return h[i] / g
			}
			return (h[i] - beta[i]) / g
		}
		if rmsOnly {
			return h[i] * rstd
		}
		return (h[i] - mu) * rstd
	}

	fH := F(normSize)
	term1 := rstd / fH
	base := group * lane.GroupWidth
	for start := base; start < normSize; start += numx {
		end := min(start+lane.GroupWidth, normSize)
		for i := start; i < end; i++ {
			sum := fH * dout[i]
			if gamma != nil {
				sum *= gamma[i]
			}
			if !rmsOnly {
				sum -= sum1
			}
			sum -= normTerm(i) * sum2
			dx[i] = term1 * sum
		}
	}
}

// LayerNormBackward computes the gradients of LayerNormForward: gradInput
// for every element, and, when the affine parameters are present, gradGamma
// and gradBeta per feature column (overwritten, not accumulated into).
//
// In standard mode inputOrOutput is the forward input, and mean/invStd are
// the statistics forward persisted. With memoryEfficient set,
// inputOrOutput is the forward *output*; mean may be nil and the input
// tensor need not have been kept alive. invStd is consumed either way.
// gradGamma and gradBeta must be nil exactly when gamma and beta are nil.
func LayerNormBackward[F welford.Floats](gradOutput, inputOrOutput []F, normSize int,
	mean, invStd []F, gamma, beta []F, epsilon float64, memoryEfficient bool,
	gradInput, gradGamma, gradBeta []F) error {
	rows, err := validateLayerNormBackward("LayerNormBackward", gradOutput, inputOrOutput,
		normSize, mean, invStd, gamma, beta, memoryEfficient, gradInput, gradGamma, gradBeta)
	if err != nil {
		return err
	}
	u := lane.Solo[F]()
	for r := 0; r < rows; r++ {
		backwardInputRow(u, 0, r, gradOutput, inputOrOutput, normSize, mean, invStd,
			gamma, beta, epsilon, memoryEfficient, false, gradInput)
	}
	if gamma != nil {
		paramGradients(nil, rows, normSize, gradOutput, inputOrOutput, mean, invStd,
			gamma, beta, epsilon, memoryEfficient, false, gradGamma, gradBeta)
	}
	return nil
}

// RMSNormBackward computes the gradients of RMSNormForward. There is no
// mean and no beta; gradGamma must be nil exactly when gamma is nil. The
// memoryEfficient contract matches LayerNormBackward.
func RMSNormBackward[F welford.Floats](gradOutput, inputOrOutput []F, normSize int,
	invStd []F, gamma []F, epsilon float64, memoryEfficient bool,
	gradInput, gradGamma []F) error {
	rows, err := validateRMSNormBackward("RMSNormBackward", gradOutput, inputOrOutput,
		normSize, invStd, gamma, gradInput, gradGamma)
	if err != nil {
		return err
	}
	u := lane.Solo[F]()
	for r := 0; r < rows; r++ {
		backwardInputRow(u, 0, r, gradOutput, inputOrOutput, normSize, nil, invStd,
			gamma, nil, epsilon, memoryEfficient, true, gradInput)
	}
	if gamma != nil {
		paramGradients(nil, rows, normSize, gradOutput, inputOrOutput, nil, invStd,
			gamma, nil, epsilon, memoryEfficient, true, gradGamma, nil)
	}
	return nil
}
