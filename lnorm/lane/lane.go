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

// Package lane models the execution hierarchy the normalization kernels are
// written against: fixed groups of 32 lockstep lanes, composed into
// cooperating units that share a scratch arena and synchronize with a
// barrier.
//
// A lane is one slot of a [GroupWidth]-sized array. Lanes of one group never
// run concurrently with each other (the owning goroutine iterates them), so
// the lockstep guarantee of the model holds by construction. Cross-lane
// exchanges (ReduceRotate, ReduceButterfly) read a snapshot of the previous
// step's values before any lane writes, which is exactly the semantics of a
// register shuffle: every lane observes its partner's pre-step value.
//
// A group maps to one goroutine when several groups cooperate on a row, or
// to the calling goroutine for a solo unit. Groups of one unit communicate
// only through the unit's Arena, and only across a Barrier.
package lane

// GroupWidth is the number of lanes in one group. Reductions assume it is a
// power of two.
const GroupWidth = 32

// ReduceRotate folds all GroupWidth lane values into a single combined value
// using a rotating exchange: at step k, lane i merges in the pre-step value
// of lane (i + 2^k) mod GroupWidth, for 2^k = 1..GroupWidth/2. After the
// last step every lane holds the full combination; lane 0 is the designated
// reader.
//
// merge must be associative and commutative (reduction order is a property
// of the pattern, not of the data).
func ReduceRotate[S any](lanes *[GroupWidth]S, merge func(a, b S) S) {
	for offset := 1; offset < GroupWidth; offset <<= 1 {
		snap := *lanes
		for i := range lanes {
			lanes[i] = merge(lanes[i], snap[(i+offset)&(GroupWidth-1)])
		}
	}
}

// ReduceButterfly folds all GroupWidth lane values with an XOR-butterfly
// exchange: at each step lane i merges in the pre-step value of lane
// i XOR offset, for offset = GroupWidth/2 .. 1. Like ReduceRotate, every
// lane ends up holding the full combination.
func ReduceButterfly[S any](lanes *[GroupWidth]S, merge func(a, b S) S) {
	for offset := GroupWidth / 2; offset > 0; offset >>= 1 {
		snap := *lanes
		for i := range lanes {
			lanes[i] = merge(lanes[i], snap[i^offset])
		}
	}
}
