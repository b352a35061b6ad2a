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

// Package welford implements single-pass running statistics: Welford's
// update for one sample at a time and Chan's pairwise merge of two partial
// statistics. Both are numerically stable (no large-value-squared
// intermediates), which matters when thousands of lanes each fold a slice of
// a row and the partials are combined in a reduction tree.
//
// Merge is associative and commutative, so a reduction may combine partials
// in any order; different orders may differ by floating-point rounding, never
// by more.
package welford

// Floats covers the accumulation precisions the reducers run in. Statistics
// are accumulated in this type even when tensor storage is narrower.
type Floats interface {
	~float32 | ~float64
}

// Moments is a running (mean, variance-sum, count) statistic over a stream
// of samples. The zero value is the empty statistic. Count is kept in the
// accumulation type; it stays exact as long as it is an integer representable
// in U (n2 < 2^24 for float32).
type Moments[U Floats] struct {
	Mean   U
	VarSum U // sum of squared deviations from the running mean
	Count  U
}

// Update folds one sample into the statistic (Welford's method):
//
//	count += 1
//	delta  = curr - mean
//	mean  += delta / count
//	delta2 = curr - mean
//	varSum += delta * delta2
func (m *Moments[U]) Update(curr U) {
	m.Count++
	delta := curr - m.Mean
	m.Mean += delta / m.Count
	delta2 := curr - m.Mean
	m.VarSum += delta * delta2
}

// Merge combines two partial statistics (Chan et al.'s pairwise update):
//
//	delta  = b.mean - a.mean
//	n      = a.count + b.count
//	mean   = (a.count*a.mean + b.count*b.mean) / n
//	varSum = a.varSum + b.varSum + delta^2 * a.count*b.count/n
//
// Merging two empty statistics yields the empty statistic; there is no
// division by zero.
func (a Moments[U]) Merge(b Moments[U]) Moments[U] {
	n := a.Count + b.Count
	if n == 0 {
		return Moments[U]{}
	}
	delta := b.Mean - a.Mean
	wa := a.Count / n
	wb := b.Count / n
	return Moments[U]{
		Mean:   wa*a.Mean + wb*b.Mean,
		VarSum: a.VarSum + b.VarSum + delta*delta*wa*wb*n,
		Count:  n,
	}
}

// Variance returns the biased (population) variance, VarSum/Count. No Bessel
// correction: normalization divides by the full element count.
func (m Moments[U]) Variance() U {
	if m.Count == 0 {
		return 0
	}
	return m.VarSum / m.Count
}

// SquareSum is the RMS-only reduction operator: a running sum of squares
// with no mean tracking. The zero value is the empty statistic.
type SquareSum[U Floats] struct {
	Sum   U
	Count U
}

// Update folds one sample: sum += curr*curr.
func (s *SquareSum[U]) Update(curr U) {
	s.Sum += curr * curr
	s.Count++
}

// Merge combines two partial sums of squares.
func (a SquareSum[U]) Merge(b SquareSum[U]) SquareSum[U] {
	return SquareSum[U]{Sum: a.Sum + b.Sum, Count: a.Count + b.Count}
}

// MeanSquare returns Sum/Count, the mean of the squared samples.
func (s SquareSum[U]) MeanSquare() U {
	if s.Count == 0 {
		return 0
	}
	return s.Sum / s.Count
}
