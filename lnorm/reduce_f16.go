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
	"github.com/ajroetker/go-layernorm/lnorm/welford"
)

// rowMomentsF16 folds a half-precision row, widening every element to
// float32 before it enters the statistic. Chunks are 8 elements (4 pairs)
// instead of 4. rowStart is the row's offset in the flat tensor: when it is
// odd, lane 0 folds the leading element scalar and every lane shifts its
// window by one, so the pairs stay aligned to even tensor offsets the way a
// wide load requires. packed selects paired versus element-wise widening;
// the fold order is the same either way, so the capability probe never
// changes results.
func rowMomentsF16(u *lane.Unit[float32], group int, row []half.Float16,
	rowStart int, packed bool) welford.Moments[float32] {
	var lanes [lane.GroupWidth]welford.Moments[float32]

	numx := u.Lanes()
	odd := rowStart&1 != 0
	for i := range lanes {
		st := &lanes[i]
		thrx := group*lane.GroupWidth + i
		l := 8 * thrx
		if odd {
			if thrx == 0 {
				st.Update(row[0].Float32())
			}
			l++
		}
		for ; l+7 < len(row); l += 8 * numx {
			if packed {
				for k := 0; k < 8; k += 2 {
					a, b := half.LoadPair(row, l+k)
					st.Update(a)
					st.Update(b)
				}
			} else {
				for k := 0; k < 8; k++ {
					st.Update(row[l+k].Float32())
				}
			}
		}
		for ; l < len(row); l++ {
			st.Update(row[l].Float32())
		}
	}

	lane.ReduceRotate(&lanes, welford.Moments[float32].Merge)

	st := lanes[0]
	if u.Groups > 1 {
		st = mergeMomentsAcrossGroups(u, group, st)
	}
	return st
}

// rowSquaresF16 is the RMS-only half-precision fold.
func rowSquaresF16(u *lane.Unit[float32], group int, row []half.Float16,
	rowStart int, packed bool) welford.SquareSum[float32] {
	var lanes [lane.GroupWidth]welford.SquareSum[float32]

	numx := u.Lanes()
	odd := rowStart&1 != 0
	for i := range lanes {
		st := &lanes[i]
		thrx := group*lane.GroupWidth + i
		l := 8 * thrx
		if odd {
			if thrx == 0 {
				st.Update(row[0].Float32())
			}
			l++
		}
		for ; l+7 < len(row); l += 8 * numx {
			if packed {
				for k := 0; k < 8; k += 2 {
					a, b := half.LoadPair(row, l+k)
					st.Update(a)
					st.Update(b)
				}
			} else {
				for k := 0; k < 8; k++ {
					st.Update(row[l+k].Float32())
				}
			}
		}
		for ; l < len(row); l++ {
			st.Update(row[l].Float32())
		}
	}

	lane.ReduceRotate(&lanes, welford.SquareSum[float32].Merge)

	st := lanes[0]
	if u.Groups > 1 {
		st = mergeSquaresAcrossGroups(u, group, st)
	}
	return st
}
