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

package welford

import (
	"fmt"
	stdmath "math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/stat"
)

func testRNG() *rand.Rand {
	return rand.New(rand.NewSource(42))
}

// popVariance converts gonum's sample variance to the biased population
// variance this package reports.
func popVariance(xs []float64) float64 {
	n := float64(len(xs))
	if n < 2 {
		return 0
	}
	return stat.Variance(xs, nil) * (n - 1) / n
}

func fold64(xs []float64) Moments[float64] {
	var m Moments[float64]
	for _, x := range xs {
		m.Update(x)
	}
	return m
}

func TestMomentsKnownValues(t *testing.T) {
	m := fold64([]float64{1, 2, 3, 4})

	if m.Count != 4 {
		t.Fatalf("Count = %v, want 4", m.Count)
	}
	if stdmath.Abs(m.Mean-2.5) > 1e-12 {
		t.Errorf("Mean = %v, want 2.5", m.Mean)
	}
	if stdmath.Abs(m.VarSum-5.0) > 1e-12 {
		t.Errorf("VarSum = %v, want 5", m.VarSum)
	}
	if stdmath.Abs(m.Variance()-1.25) > 1e-12 {
		t.Errorf("Variance = %v, want 1.25", m.Variance())
	}
}

func TestMomentsMatchesReference(t *testing.T) {
	rng := testRNG()
	for _, n := range []int{1, 2, 7, 33, 1000} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			xs := make([]float64, n)
			for i := range xs {
				xs[i] = rng.NormFloat64()*3 + 100 // offset stresses cancellation
			}

			m := fold64(xs)

			wantMean := stat.Mean(xs, nil)
			if !scalar.EqualWithinAbsOrRel(m.Mean, wantMean, 1e-12, 1e-12) {
				t.Errorf("Mean = %v, want %v", m.Mean, wantMean)
			}
			wantVar := popVariance(xs)
			if !scalar.EqualWithinAbsOrRel(m.Variance(), wantVar, 1e-10, 1e-10) {
				t.Errorf("Variance = %v, want %v", m.Variance(), wantVar)
			}
		})
	}
}

func TestMergeMatchesSequential(t *testing.T) {
	rng := testRNG()
	xs := make([]float64, 257)
	for i := range xs {
		xs[i] = rng.Float64()*10 - 5
	}

	whole := fold64(xs)

	for _, pivot := range []int{0, 1, 64, 128, 256, 257} {
		merged := fold64(xs[:pivot]).Merge(fold64(xs[pivot:]))

		if merged.Count != whole.Count {
			t.Fatalf("pivot %d: Count = %v, want %v", pivot, merged.Count, whole.Count)
		}
		if !scalar.EqualWithinAbsOrRel(merged.Mean, whole.Mean, 1e-12, 1e-12) {
			t.Errorf("pivot %d: Mean = %v, want %v", pivot, merged.Mean, whole.Mean)
		}
		if !scalar.EqualWithinAbsOrRel(merged.VarSum, whole.VarSum, 1e-9, 1e-9) {
			t.Errorf("pivot %d: VarSum = %v, want %v", pivot, merged.VarSum, whole.VarSum)
		}
	}
}

// Merge must be commutative and associative up to floating-point rounding;
// rounding-level differences are tolerated, not treated as failures.
func TestMergeCommutativeAssociative(t *testing.T) {
	rng := testRNG()
	randomStat := func() Moments[float64] {
		n := 1 + rng.Intn(50)
		xs := make([]float64, n)
		for i := range xs {
			xs[i] = rng.NormFloat64() * 10
		}
		return fold64(xs)
	}

	for trial := 0; trial < 100; trial++ {
		a, b, c := randomStat(), randomStat(), randomStat()

		ab := a.Merge(b)
		ba := b.Merge(a)
		if !scalar.EqualWithinAbsOrRel(ab.Mean, ba.Mean, 1e-12, 1e-12) ||
			!scalar.EqualWithinAbsOrRel(ab.VarSum, ba.VarSum, 1e-9, 1e-9) {
			t.Fatalf("trial %d: merge not commutative: %+v vs %+v", trial, ab, ba)
		}

		left := a.Merge(b).Merge(c)
		right := a.Merge(b.Merge(c))
		if !scalar.EqualWithinAbsOrRel(left.Mean, right.Mean, 1e-12, 1e-10) ||
			!scalar.EqualWithinAbsOrRel(left.VarSum, right.VarSum, 1e-9, 1e-9) {
			t.Fatalf("trial %d: merge not associative: %+v vs %+v", trial, left, right)
		}
	}
}

func TestMergeEmpty(t *testing.T) {
	var empty Moments[float64]

	both := empty.Merge(empty)
	if both != (Moments[float64]{}) {
		t.Errorf("empty merge = %+v, want zero statistic", both)
	}
	if stdmath.IsNaN(both.Mean) || stdmath.IsNaN(both.VarSum) {
		t.Error("empty merge produced NaN")
	}

	m := fold64([]float64{2, 4, 6})
	if got := m.Merge(empty); got != m {
		t.Errorf("merge with empty = %+v, want %+v", got, m)
	}
	if got := empty.Merge(m); got != m {
		t.Errorf("empty merge with stat = %+v, want %+v", got, m)
	}
}

func TestCountExactFloat32(t *testing.T) {
	var m Moments[float32]
	const n = 10000
	for i := 0; i < n; i++ {
		m.Update(float32(i) * 0.25)
	}
	if m.Count != n {
		t.Fatalf("Count = %v, want exactly %v", m.Count, n)
	}

	// Pairwise merging must preserve exact counts too.
	var a, b Moments[float32]
	for i := 0; i < 6000; i++ {
		a.Update(1)
	}
	for i := 0; i < 4000; i++ {
		b.Update(2)
	}
	if got := a.Merge(b); got.Count != n {
		t.Fatalf("merged Count = %v, want exactly %v", got.Count, n)
	}
}

func TestSquareSum(t *testing.T) {
	rng := testRNG()
	xs := make([]float64, 129)
	var s SquareSum[float64]
	want := 0.0
	for i := range xs {
		xs[i] = rng.Float64()*4 - 2
		s.Update(xs[i])
		want += xs[i] * xs[i]
	}

	if s.Count != float64(len(xs)) {
		t.Fatalf("Count = %v, want %v", s.Count, len(xs))
	}
	if !scalar.EqualWithinAbsOrRel(s.Sum, want, 1e-12, 1e-12) {
		t.Errorf("Sum = %v, want %v", s.Sum, want)
	}

	// E[x^2] = Var(x) + E[x]^2 ties the two accumulators together.
	m := fold64(xs)
	lhs := s.MeanSquare()
	rhs := m.Variance() + m.Mean*m.Mean
	if !scalar.EqualWithinAbsOrRel(lhs, rhs, 1e-10, 1e-10) {
		t.Errorf("MeanSquare = %v, Variance+Mean^2 = %v", lhs, rhs)
	}

	half := SquareSum[float64]{}
	for _, x := range xs[:64] {
		half.Update(x)
	}
	rest := SquareSum[float64]{}
	for _, x := range xs[64:] {
		rest.Update(x)
	}
	if got := half.Merge(rest); !scalar.EqualWithinAbsOrRel(got.Sum, want, 1e-12, 1e-12) {
		t.Errorf("merged Sum = %v, want %v", got.Sum, want)
	}

	var zero SquareSum[float64]
	if got := zero.Merge(zero); got != (SquareSum[float64]{}) {
		t.Errorf("empty merge = %+v, want zero statistic", got)
	}
}
