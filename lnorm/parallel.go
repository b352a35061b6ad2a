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

// useParallel reports whether a batch is worth scheduling on the pool.
// A nil pool, a batch below the work threshold, or the LNORM_SEQUENTIAL
// override keeps the call on the caller's goroutine.
func useParallel(pool *rowpool.Pool, rows, normSize int) bool {
	if pool == nil || sequentialEnv() {
		return false
	}
	return rows*normSize >= minParallelElems
}

// useCooperative reports whether the batch shape favors multiple groups
// cooperating on each row: too few rows to occupy the workers, and rows
// wide enough to amortize the barrier traffic.
func useCooperative(pool *rowpool.Pool, rows, normSize int) bool {
	return normSize >= hugeRowThreshold && rows < pool.NumWorkers()
}

// ParallelLayerNormForward is LayerNormForward with rows spread across the
// pool's workers. Row-parallel results are bitwise identical to the
// sequential path (each row keeps its reduction order); the cooperative
// wide-row path may differ by rounding, since groups merge in tree order.
func ParallelLayerNormForward[F welford.Floats](pool *rowpool.Pool, input, output []F,
	normSize int, gamma, beta []F, epsilon float64, mean, invStd []F) error {
	rows, err := validateLayerNormForward("ParallelLayerNormForward", input, output,
		normSize, gamma, beta, mean, invStd)
	if err != nil {
		return err
	}
	switch {
	case !useParallel(pool, rows, normSize):
		u := lane.Solo[F]()
		for r := 0; r < rows; r++ {
			lnForwardRow(u, 0, r, input, output, normSize, gamma, beta, epsilon, mean, invStd)
		}
	case useCooperative(pool, rows, normSize):
		groups := cooperativeGroups(normSize)
		units := min(rows, max(1, pool.NumWorkers()/groups))
		lane.Launch(units, groups, rows, func(u *lane.Unit[F], group, row int) {
			lnForwardRow(u, group, row, input, output, normSize, gamma, beta, epsilon, mean, invStd)
		})
	default:
		pool.Rows(rows, rowBatch(rows, pool.NumWorkers()), func(start, end int) {
			u := lane.Solo[F]()
			for r := start; r < end; r++ {
				lnForwardRow(u, 0, r, input, output, normSize, gamma, beta, epsilon, mean, invStd)
			}
		})
	}
	return nil
}

// ParallelRMSNormForward is RMSNormForward with rows spread across the
// pool's workers; the fallback rules match ParallelLayerNormForward.
func ParallelRMSNormForward[F welford.Floats](pool *rowpool.Pool, input, output []F,
	normSize int, gamma []F, epsilon float64, invStd []F) error {
	rows, err := validateRMSNormForward("ParallelRMSNormForward", input, output,
		normSize, gamma, invStd)
	if err != nil {
		return err
	}
	switch {
	case !useParallel(pool, rows, normSize):
		u := lane.Solo[F]()
		for r := 0; r < rows; r++ {
			rmsForwardRow(u, 0, r, input, output, normSize, gamma, epsilon, invStd)
		}
	case useCooperative(pool, rows, normSize):
		groups := cooperativeGroups(normSize)
		units := min(rows, max(1, pool.NumWorkers()/groups))
		lane.Launch(units, groups, rows, func(u *lane.Unit[F], group, row int) {
			rmsForwardRow(u, group, row, input, output, normSize, gamma, epsilon, invStd)
		})
	default:
		pool.Rows(rows, rowBatch(rows, pool.NumWorkers()), func(start, end int) {
			u := lane.Solo[F]()
			for r := start; r < end; r++ {
				rmsForwardRow(u, 0, r, input, output, normSize, gamma, epsilon, invStd)
			}
		})
	}
	return nil
}

// ParallelLayerNormBackward is LayerNormBackward with the input gradient
// row-parallel and, when affine parameters are present, stage A of the
// parameter gradients parallel over partitions and stage B over columns.
func ParallelLayerNormBackward[F welford.Floats](pool *rowpool.Pool, gradOutput, inputOrOutput []F,
	normSize int, mean, invStd []F, gamma, beta []F, epsilon float64, memoryEfficient bool,
	gradInput, gradGamma, gradBeta []F) error {
	rows, err := validateLayerNormBackward("ParallelLayerNormBackward", gradOutput, inputOrOutput,
		normSize, mean, invStd, gamma, beta, memoryEfficient, gradInput, gradGamma, gradBeta)
	if err != nil {
		return err
	}
	parallel := useParallel(pool, rows, normSize)
	switch {
	case !parallel:
		u := lane.Solo[F]()
		for r := 0; r < rows; r++ {
			backwardInputRow(u, 0, r, gradOutput, inputOrOutput, normSize, mean, invStd,
				gamma, beta, epsilon, memoryEfficient, false, gradInput)
		}
	case useCooperative(pool, rows, normSize):
		groups := cooperativeGroups(normSize)
		units := min(rows, max(1, pool.NumWorkers()/groups))
		lane.Launch(units, groups, rows, func(u *lane.Unit[F], group, row int) {
			backwardInputRow(u, group, row, gradOutput, inputOrOutput, normSize, mean, invStd,
				gamma, beta, epsilon, memoryEfficient, false, gradInput)
		})
	default:
		pool.Rows(rows, rowBatch(rows, pool.NumWorkers()), func(start, end int) {
			u := lane.Solo[F]()
			for r := start; r < end; r++ {
				backwardInputRow(u, 0, r, gradOutput, inputOrOutput, normSize, mean, invStd,
					gamma, beta, epsilon, memoryEfficient, false, gradInput)
			}
		})
	}
	if gamma != nil {
		var p *rowpool.Pool
		if parallel {
			p = pool
		}
		paramGradients(p, rows, normSize, gradOutput, inputOrOutput, mean, invStd,
			gamma, beta, epsilon, memoryEfficient, false, gradGamma, gradBeta)
	}
	return nil
}

// ParallelRMSNormBackward is RMSNormBackward with the same distribution
// strategy as ParallelLayerNormBackward.
func ParallelRMSNormBackward[F welford.Floats](pool *rowpool.Pool, gradOutput, inputOrOutput []F,
	normSize int, invStd []F, gamma []F, epsilon float64, memoryEfficient bool,
	gradInput, gradGamma []F) error {
	rows, err := validateRMSNormBackward("ParallelRMSNormBackward", gradOutput, inputOrOutput,
		normSize, invStd, gamma, gradInput, gradGamma)
	if err != nil {
		return err
	}
	parallel := useParallel(pool, rows, normSize)
	switch {
	case !parallel:
		u := lane.Solo[F]()
		for r := 0; r < rows; r++ {
			backwardInputRow(u, 0, r, gradOutput, inputOrOutput, normSize, nil, invStd,
				gamma, nil, epsilon, memoryEfficient, true, gradInput)
		}
	case useCooperative(pool, rows, normSize):
		groups := cooperativeGroups(normSize)
		units := min(rows, max(1, pool.NumWorkers()/groups))
		lane.Launch(units, groups, rows, func(u *lane.Unit[F], group, row int) {
			backwardInputRow(u, group, row, gradOutput, inputOrOutput, normSize, nil, invStd,
				gamma, nil, epsilon, memoryEfficient, true, gradInput)
		})
	default:
		pool.Rows(rows, rowBatch(rows, pool.NumWorkers()), func(start, end int) {
			u := lane.Solo[F]()
			for r := start; r < end; r++ {
				backwardInputRow(u, 0, r, gradOutput, inputOrOutput, normSize, nil, invStd,
					gamma, nil, epsilon, memoryEfficient, true, gradInput)
			}
		})
	}
	if gamma != nil {
		var p *rowpool.Pool
		if parallel {
			p = pool
		}
		paramGradients(p, rows, normSize, gradOutput, inputOrOutput, nil, invStd,
			gamma, nil, epsilon, memoryEfficient, true, gradGamma, nil)
	}
	return nil
}
