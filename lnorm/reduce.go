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

// rowMoments computes one row's combined mean/variance statistic, reduced
// across every lane of the cooperating unit. With multiple groups the
// inter-group merge broadcasts the total, so every group returns the same
// statistic.
func rowMoments[F welford.Floats](u *lane.Unit[F], group int, row []F) welford.Moments[F] {
	var lanes [lane.GroupWidth]welford.Moments[F]

	// Local accumulation: each lane folds chunks of 4 consecutive elements
	// strided by the unit width, then continues element-wise from wherever
	// it stopped. Exactly one lane's window covers the final partial chunk.
	numx := u.Lanes()
	for i := range lanes {
		st := &lanes[i]
		l := 4 * (group*lane.GroupWidth + i)
		for ; l+3 < len(row); l += 4 * numx {
			st.Update(row[l])
			st.Update(row[l+1])
			st.Update(row[l+2])
			st.Update(row[l+3])
		}
		for ; l < len(row); l++ {
			st.Update(row[l])
		}
	}

	lane.ReduceRotate(&lanes, welford.Moments[F].Merge)

	st := lanes[0]
	if u.Groups > 1 {
		st = mergeMomentsAcrossGroups(u, group, st)
	}
	return st
}

// rowSquares is the RMS-only counterpart of rowMoments: it folds the sum of
// squares instead of mean and variance.
func rowSquares[F welford.Floats](u *lane.Unit[F], group int, row []F) welford.SquareSum[F] {
	var lanes [lane.GroupWidth]welford.SquareSum[F]

	numx := u.Lanes()
	for i := range lanes {
		st := &lanes[i]
		l := 4 * (group*lane.GroupWidth + i)
		for ; l+3 < len(row); l += 4 * numx {
			st.Update(row[l])
			st.Update(row[l+1])
			st.Update(row[l+2])
			st.Update(row[l+3])
		}
		for ; l < len(row); l++ {
			st.Update(row[l])
		}
	}

	lane.ReduceRotate(&lanes, welford.SquareSum[F].Merge)

	st := lanes[0]
	if u.Groups > 1 {
		st = mergeSquaresAcrossGroups(u, group, st)
	}
	return st
}

// mergeMomentsAcrossGroups folds the per-group statistics through the arena
// with a halving tree: at each step the upper half of the live groups
// writes its statistic one level down and the lower half merges it, with a
// barrier between the write and the read. The leader then publishes the
// total through slot 0 so every group leaves with the same statistic.
func mergeMomentsAcrossGroups[F welford.Floats](u *lane.Unit[F], group int, st welford.Moments[F]) welford.Moments[F] {
	a := u.Arena
	for off := u.Groups / 2; off > 0; off /= 2 {
		if group >= off && group < 2*off {
			slot := group - off
			a.Means[slot] = st.Mean
			a.VarSums[slot] = st.VarSum
			a.Counts[slot] = st.Count
		}
		u.Sync()
		if group < off {
			st = st.Merge(welford.Moments[F]{
				Mean:   a.Means[group],
				VarSum: a.VarSums[group],
				Count:  a.Counts[group],
			})
		}
		u.Sync()
	}

	if group == 0 {
		a.Means[0] = st.Mean
		a.VarSums[0] = st.VarSum
		a.Counts[0] = st.Count
	}
	u.Sync()
	return welford.Moments[F]{Mean: a.Means[0], VarSum: a.VarSums[0], Count: a.Counts[0]}
}

func mergeSquaresAcrossGroups[F welford.Floats](u *lane.Unit[F], group int, st welford.SquareSum[F]) welford.SquareSum[F] {
	a := u.Arena
	for off := u.Groups / 2; off > 0; off /= 2 {
		if group >= off && group < 2*off {
			slot := group - off
			a.Sums1[slot] = st.Sum
			a.Counts[slot] = st.Count
		}
		u.Sync()
		if group < off {
			st = st.Merge(welford.SquareSum[F]{Sum: a.Sums1[group], Count: a.Counts[group]})
		}
		u.Sync()
	}

	if group == 0 {
		a.Sums1[0] = st.Sum
		a.Counts[0] = st.Count
	}
	u.Sync()
	return welford.SquareSum[F]{Sum: a.Sums1[0], Count: a.Counts[0]}
}

// addSumsAcrossGroups reduces the backward pass's two per-group aggregate
// sums with the same halving-and-broadcast shape, but with plain pairwise
// addition as the combine operator.
func addSumsAcrossGroups[F welford.Floats](u *lane.Unit[F], group int, s1, s2 F) (F, F) {
	a := u.Arena
	for off := u.Groups / 2; off > 0; off /= 2 {
		if group >= off && group < 2*off {
			slot := group - off
			a.Sums1[slot] = s1
			a.Sums2[slot] = s2
		}
		u.Sync()
		if group < off {
			s1 += a.Sums1[group]
			s2 += a.Sums2[group]
		}
		u.Sync()
	}

	if group == 0 {
		a.Sums1[0] = s1
		a.Sums2[0] = s2
	}
	u.Sync()
	return a.Sums1[0], a.Sums2[0]
}

// RowMoments computes every row's combined statistic without normalizing.
// Each returned element carries the row's mean, variance sum (divide by
// Count for the biased variance) and exact element count.
func RowMoments[F welford.Floats](input []F, normSize int) ([]welford.Moments[F], error) {
	rows, err := rowsOf("RowMoments", len(input), normSize)
	if err != nil {
		return nil, err
	}
	out := make([]welford.Moments[F], rows)
	u := lane.Solo[F]()
	for r := 0; r < rows; r++ {
		out[r] = rowMoments(u, 0, input[r*normSize:(r+1)*normSize])
	}
	return out, nil
}
