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
	"errors"
	"fmt"
	stdmath "math"
	"testing"

	"gonum.org/v1/gonum/floats/scalar"
)

// lnLoss runs the float64 forward and returns the weighted output sum, the
// scalar loss the gradient checks differentiate.
func lnLoss(t *testing.T, input []float64, normSize int, gamma, beta []float64, eps float64, w []float64) float64 {
	t.Helper()
	rows := len(input) / normSize
	output := make([]float64, len(input))
	mean := make([]float64, rows)
	invStd := make([]float64, rows)
	if err := LayerNormForward(input, output, normSize, gamma, beta, eps, mean, invStd); err != nil {
		t.Fatal(err)
	}
	var l float64
	for i := range output {
		l += w[i] * output[i]
	}
	return l
}

func rmsLoss(t *testing.T, input []float64, normSize int, gamma []float64, eps float64, w []float64) float64 {
	t.Helper()
	rows := len(input) / normSize
	output := make([]float64, len(input))
	invStd := make([]float64, rows)
	if err := RMSNormForward(input, output, normSize, gamma, eps, invStd); err != nil {
		t.Fatal(err)
	}
	var l float64
	for i := range output {
		l += w[i] * output[i]
	}
	return l
}

func checkClose(t *testing.T, name string, got, want []float64, absTol, relTol float64) {
	t.Helper()
	for i := range got {
		if !scalar.EqualWithinAbsOrRel(got[i], want[i], absTol, relTol) {
			t.Errorf("%s[%d] = %v, want %v", name, i, got[i], want[i])
		}
	}
}

func checkClose32(t *testing.T, name string, got, want []float32, absTol, relTol float64) {
	t.Helper()
	for i := range got {
		if !scalar.EqualWithinAbsOrRel(float64(got[i]), float64(want[i]), absTol, relTol) {
			t.Errorf("%s[%d] = %v, want %v", name, i, got[i], want[i])
		}
	}
}

// TestLayerNormBackwardGradcheck compares every analytic gradient against a
// float64 central difference of the forward.
func TestLayerNormBackwardGradcheck(t *testing.T) {
	tests := []struct {
		name     string
		rows     int
		normSize int
		affine   bool
	}{
		{"rows=3/normSize=8/with_affine", 3, 8, true},
		{"rows=3/normSize=8/no_affine", 3, 8, false},
		{"rows=2/normSize=33/with_affine", 2, 33, true},
		{"rows=1/normSize=1/with_affine", 1, 1, true},
	}

	const eps = 1e-5
	const h = 1e-6

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rng := testRNG()
			size := tt.rows * tt.normSize
			input := make([]float64, size)
			dout := make([]float64, size)
			for i := range input {
				input[i] = rng.NormFloat64()
				dout[i] = rng.NormFloat64()
			}
			var gamma, beta []float64
			if tt.affine {
				gamma = make([]float64, tt.normSize)
				beta = make([]float64, tt.normSize)
				for i := range gamma {
					gamma[i] = 0.5 + rng.Float64()
					beta[i] = rng.NormFloat64()
				}
			}

			output := make([]float64, size)
			mean := make([]float64, tt.rows)
			invStd := make([]float64, tt.rows)
			if err := LayerNormForward(input, output, tt.normSize, gamma, beta, eps, mean, invStd); err != nil {
				t.Fatal(err)
			}

			gradInput := make([]float64, size)
			var gradGamma, gradBeta []float64
			if tt.affine {
				gradGamma = make([]float64, tt.normSize)
				gradBeta = make([]float64, tt.normSize)
			}
			if err := LayerNormBackward(dout, input, tt.normSize, mean, invStd,
				gamma, beta, eps, false, gradInput, gradGamma, gradBeta); err != nil {
				t.Fatal(err)
			}

			for i := range input {
				saved := input[i]
				input[i] = saved + h
				lp := lnLoss(t, input, tt.normSize, gamma, beta, eps, dout)
				input[i] = saved - h
				lm := lnLoss(t, input, tt.normSize, gamma, beta, eps, dout)
				input[i] = saved
				numeric := (lp - lm) / (2 * h)
				if !scalar.EqualWithinAbsOrRel(gradInput[i], numeric, 1e-6, 1e-5) {
					t.Errorf("gradInput[%d] = %v, numeric %v", i, gradInput[i], numeric)
				}
			}

			if tt.affine {
				for j := range gamma {
					saved := gamma[j]
					gamma[j] = saved + h
					lp := lnLoss(t, input, tt.normSize, gamma, beta, eps, dout)
					gamma[j] = saved - h
					lm := lnLoss(t, input, tt.normSize, gamma, beta, eps, dout)
					gamma[j] = saved
					numeric := (lp - lm) / (2 * h)
					if !scalar.EqualWithinAbsOrRel(gradGamma[j], numeric, 1e-6, 1e-5) {
						t.Errorf("gradGamma[%d] = %v, numeric %v", j, gradGamma[j], numeric)
					}
				}
				for j := range beta {
					saved := beta[j]
					beta[j] = saved + h
					lp := lnLoss(t, input, tt.normSize, gamma, beta, eps, dout)
					beta[j] = saved - h
					lm := lnLoss(t, input, tt.normSize, gamma, beta, eps, dout)
					beta[j] = saved
					numeric := (lp - lm) / (2 * h)
					if !scalar.EqualWithinAbsOrRel(gradBeta[j], numeric, 1e-6, 1e-5) {
						t.Errorf("gradBeta[%d] = %v, numeric %v", j, gradBeta[j], numeric)
					}
				}
			}
		})
	}
}

func TestRMSNormBackwardGradcheck(t *testing.T) {
	tests := []struct {
		name     string
		rows     int
		normSize int
		useGamma bool
	}{
		{"rows=3/normSize=8/with_gamma", 3, 8, true},
		{"rows=3/normSize=8/no_gamma", 3, 8, false},
		{"rows=2/normSize=17/with_gamma", 2, 17, true},
	}

	const eps = 1e-5
	const h = 1e-6

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rng := testRNG()
			size := tt.rows * tt.normSize
			input := make([]float64, size)
			dout := make([]float64, size)
			for i := range input {
				input[i] = rng.NormFloat64() + 0.5
				dout[i] = rng.NormFloat64()
			}
			var gamma []float64
			if tt.useGamma {
				gamma = make([]float64, tt.normSize)
				for i := range gamma {
					gamma[i] = 0.5 + rng.Float64()
				}
			}

			output := make([]float64, size)
			invStd := make([]float64, tt.rows)
			if err := RMSNormForward(input, output, tt.normSize, gamma, eps, invStd); err != nil {
				t.Fatal(err)
			}

			gradInput := make([]float64, size)
			var gradGamma []float64
			if tt.useGamma {
				gradGamma = make([]float64, tt.normSize)
			}
			if err := RMSNormBackward(dout, input, tt.normSize, invStd,
				gamma, eps, false, gradInput, gradGamma); err != nil {
				t.Fatal(err)
			}

			for i := range input {
				saved := input[i]
				input[i] = saved + h
				lp := rmsLoss(t, input, tt.normSize, gamma, eps, dout)
				input[i] = saved - h
				lm := rmsLoss(t, input, tt.normSize, gamma, eps, dout)
				input[i] = saved
				numeric := (lp - lm) / (2 * h)
				if !scalar.EqualWithinAbsOrRel(gradInput[i], numeric, 1e-6, 1e-5) {
					t.Errorf("gradInput[%d] = %v, numeric %v", i, gradInput[i], numeric)
				}
			}

			if tt.useGamma {
				for j := range gamma {
					saved := gamma[j]
					gamma[j] = saved + h
					lp := rmsLoss(t, input, tt.normSize, gamma, eps, dout)
					gamma[j] = saved - h
					lm := rmsLoss(t, input, tt.normSize, gamma, eps, dout)
					gamma[j] = saved
					numeric := (lp - lm) / (2 * h)
					if !scalar.EqualWithinAbsOrRel(gradGamma[j], numeric, 1e-6, 1e-5) {
						t.Errorf("gradGamma[%d] = %v, numeric %v", j, gradGamma[j], numeric)
					}
				}
			}
		})
	}
}

// TestBackwardModesAgree checks the memory-efficient backward, fed only the
// forward output, reproduces the standard backward fed the input and mean.
func TestBackwardModesAgree(t *testing.T) {
	const eps = 1e-5
	rng := testRNG()
	rows, normSize := 4, 16
	size := rows * normSize

	input := make([]float32, size)
	dout := make([]float32, size)
	for i := range input {
		input[i] = float32(rng.NormFloat64())
		dout[i] = float32(rng.NormFloat64())
	}
	gamma := make([]float32, normSize)
	beta := make([]float32, normSize)
	for i := range gamma {
		// Keep gamma well away from the clamp threshold.
		gamma[i] = 0.5 + float32(rng.Float64())
		beta[i] = float32(rng.NormFloat64())
	}

	output := make([]float32, size)
	mean := make([]float32, rows)
	invStd := make([]float32, rows)
	if err := LayerNormForward(input, output, normSize, gamma, beta, eps, mean, invStd); err != nil {
		t.Fatal(err)
	}

	dxStd := make([]float32, size)
	dgStd := make([]float32, normSize)
	dbStd := make([]float32, normSize)
	if err := LayerNormBackward(dout, input, normSize, mean, invStd,
		gamma, beta, eps, false, dxStd, dgStd, dbStd); err != nil {
		t.Fatal(err)
	}

	dxMem := make([]float32, size)
	dgMem := make([]float32, normSize)
	dbMem := make([]float32, normSize)
	if err := LayerNormBackward(dout, output, normSize, nil, invStd,
		gamma, beta, eps, true, dxMem, dgMem, dbMem); err != nil {
		t.Fatal(err)
	}

	checkClose32(t, "gradInput", dxMem, dxStd, 1e-4, 1e-3)
	checkClose32(t, "gradGamma", dgMem, dgStd, 1e-4, 1e-3)
	checkClose32(t, "gradBeta", dbMem, dbStd, 1e-4, 1e-3)
}

// TestBackwardModesAgree64 is the float64 variant, where the recovery
// rounding nearly vanishes.
func TestBackwardModesAgree64(t *testing.T) {
	const eps = 1e-5
	rng := testRNG()
	rows, normSize := 5, 40
	size := rows * normSize

	input := make([]float64, size)
	dout := make([]float64, size)
	for i := range input {
		input[i] = rng.NormFloat64()
		dout[i] = rng.NormFloat64()
	}
	gamma := make([]float64, normSize)
	beta := make([]float64, normSize)
	for i := range gamma {
		gamma[i] = 0.5 + rng.Float64()
		beta[i] = rng.NormFloat64()
	}

	output := make([]float64, size)
	mean := make([]float64, rows)
	invStd := make([]float64, rows)
	if err := LayerNormForward(input, output, normSize, gamma, beta, eps, mean, invStd); err != nil {
		t.Fatal(err)
	}

	dxStd := make([]float64, size)
	dgStd := make([]float64, normSize)
	dbStd := make([]float64, normSize)
	if err := LayerNormBackward(dout, input, normSize, mean, invStd,
		gamma, beta, eps, false, dxStd, dgStd, dbStd); err != nil {
		t.Fatal(err)
	}

	dxMem := make([]float64, size)
	dgMem := make([]float64, normSize)
	dbMem := make([]float64, normSize)
	if err := LayerNormBackward(dout, output, normSize, nil, invStd,
		gamma, beta, eps, true, dxMem, dgMem, dbMem); err != nil {
		t.Fatal(err)
	}

	checkClose(t, "gradInput", dxMem, dxStd, 1e-12, 1e-10)
	checkClose(t, "gradGamma", dgMem, dgStd, 1e-12, 1e-10)
	checkClose(t, "gradBeta", dbMem, dbStd, 1e-12, 1e-10)
}

func TestRMSNormBackwardModesAgree(t *testing.T) {
	const eps = 1e-5
	rng := testRNG()
	rows, normSize := 4, 16
	size := rows * normSize

	input := make([]float64, size)
	dout := make([]float64, size)
	for i := range input {
		input[i] = rng.NormFloat64()
		dout[i] = rng.NormFloat64()
	}
	gamma := make([]float64, normSize)
	for i := range gamma {
		gamma[i] = 0.5 + rng.Float64()
	}

	output := make([]float64, size)
	invStd := make([]float64, rows)
	if err := RMSNormForward(input, output, normSize, gamma, eps, invStd); err != nil {
		t.Fatal(err)
	}

	dxStd := make([]float64, size)
	dgStd := make([]float64, normSize)
	if err := RMSNormBackward(dout, input, normSize, invStd,
		gamma, eps, false, dxStd, dgStd); err != nil {
		t.Fatal(err)
	}
	dxMem := make([]float64, size)
	dgMem := make([]float64, normSize)
	if err := RMSNormBackward(dout, output, normSize, invStd,
		gamma, eps, true, dxMem, dgMem); err != nil {
		t.Fatal(err)
	}

	checkClose(t, "gradInput", dxMem, dxStd, 1e-12, 1e-10)
	checkClose(t, "gradGamma", dgMem, dgStd, 1e-12, 1e-10)
}

// TestParamGradientsNaive compares the partitioned two-stage parameter
// reduction against a direct per-column sum for shapes that leave some
// partitions empty or partial.
func TestParamGradientsNaive(t *testing.T) {
	tests := []struct {
		name     string
		rows     int
		normSize int
	}{
		{"rows=1/normSize=1", 1, 1},
		{"rows=3/normSize=5", 3, 5},
		{"rows=37/normSize=19", 37, 19},
		{"rows=300/normSize=33", 300, 33},
		{"rows=256/normSize=64", 256, 64},
	}

	const eps = 1e-5

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rng := testRNG()
			size := tt.rows * tt.normSize
			input := make([]float64, size)
			dout := make([]float64, size)
			for i := range input {
				input[i] = rng.NormFloat64()
				dout[i] = rng.NormFloat64()
			}
			gamma := make([]float64, tt.normSize)
			beta := make([]float64, tt.normSize)
			for i := range gamma {
				gamma[i] = 0.5 + rng.Float64()
				beta[i] = rng.NormFloat64()
			}

			output := make([]float64, size)
			mean := make([]float64, tt.rows)
			invStd := make([]float64, tt.rows)
			if err := LayerNormForward(input, output, tt.normSize, gamma, beta, eps, mean, invStd); err != nil {
				t.Fatal(err)
			}

			gradInput := make([]float64, size)
			gradGamma := make([]float64, tt.normSize)
			gradBeta := make([]float64, tt.normSize)
			if err := LayerNormBackward(dout, input, tt.normSize, mean, invStd,
				gamma, beta, eps, false, gradInput, gradGamma, gradBeta); err != nil {
				t.Fatal(err)
			}

			for j := 0; j < tt.normSize; j++ {
				var dg, db float64
				for r := 0; r < tt.rows; r++ {
					d := dout[r*tt.normSize+j]
					dg += d * (input[r*tt.normSize+j] - mean[r]) * invStd[r]
					db += d
				}
				if !scalar.EqualWithinAbsOrRel(gradGamma[j], dg, 1e-12, 1e-9) {
					t.Errorf("gradGamma[%d] = %v, naive %v", j, gradGamma[j], dg)
				}
				if !scalar.EqualWithinAbsOrRel(gradBeta[j], db, 1e-12, 1e-9) {
					t.Errorf("gradBeta[%d] = %v, naive %v", j, gradBeta[j], db)
				}
			}
		})
	}
}

// TestBackwardGradsOverwrite checks the gradient buffers are overwritten,
// not accumulated into.
func TestBackwardGradsOverwrite(t *testing.T) {
	const eps = 1e-5
	rng := testRNG()
	rows, normSize := 37, 19
	size := rows * normSize

	input := make([]float32, size)
	dout := make([]float32, size)
	for i := range input {
		input[i] = float32(rng.NormFloat64())
		dout[i] = float32(rng.NormFloat64())
	}
	gamma := make([]float32, normSize)
	beta := make([]float32, normSize)
	for i := range gamma {
		gamma[i] = 1
	}

	output := make([]float32, size)
	mean := make([]float32, rows)
	invStd := make([]float32, rows)
	if err := LayerNormForward(input, output, normSize, gamma, beta, eps, mean, invStd); err != nil {
		t.Fatal(err)
	}

	run := func(dx, dg, db []float32) {
		if err := LayerNormBackward(dout, input, normSize, mean, invStd,
			gamma, beta, eps, false, dx, dg, db); err != nil {
			t.Fatal(err)
		}
	}

	dxClean := make([]float32, size)
	dgClean := make([]float32, normSize)
	dbClean := make([]float32, normSize)
	run(dxClean, dgClean, dbClean)

	dxDirty := make([]float32, size)
	dgDirty := make([]float32, normSize)
	dbDirty := make([]float32, normSize)
	for i := range dxDirty {
		dxDirty[i] = 999
	}
	for i := range dgDirty {
		dgDirty[i] = 999
		dbDirty[i] = -999
	}
	run(dxDirty, dgDirty, dbDirty)

	for i := range dxClean {
		if dxClean[i] != dxDirty[i] {
			t.Fatalf("gradInput[%d] depends on prior contents: %v vs %v", i, dxClean[i], dxDirty[i])
		}
	}
	for j := range dgClean {
		if dgClean[j] != dgDirty[j] {
			t.Fatalf("gradGamma[%d] depends on prior contents: %v vs %v", j, dgClean[j], dgDirty[j])
		}
		if dbClean[j] != dbDirty[j] {
			t.Fatalf("gradBeta[%d] depends on prior contents: %v vs %v", j, dbClean[j], dbDirty[j])
		}
	}
}

// TestMemoryEfficientClampedGamma feeds a collapsed scale through the
// memory-efficient recovery and requires finite gradients.
func TestMemoryEfficientClampedGamma(t *testing.T) {
	const eps = 1e-5
	rng := testRNG()
	rows, normSize := 2, 8
	size := rows * normSize

	input := make([]float32, size)
	dout := make([]float32, size)
	for i := range input {
		input[i] = float32(rng.NormFloat64())
		dout[i] = float32(rng.NormFloat64())
	}
	gamma := make([]float32, normSize)
	beta := make([]float32, normSize)
	for i := range gamma {
		gamma[i] = 1
	}
	gamma[0] = 0
	gamma[1] = 1e-8
	gamma[2] = -1e-8

	output := make([]float32, size)
	mean := make([]float32, rows)
	invStd := make([]float32, rows)
	if err := LayerNormForward(input, output, normSize, gamma, beta, eps, mean, invStd); err != nil {
		t.Fatal(err)
	}

	dx := make([]float32, size)
	dg := make([]float32, normSize)
	db := make([]float32, normSize)
	if err := LayerNormBackward(dout, output, normSize, nil, invStd,
		gamma, beta, eps, true, dx, dg, db); err != nil {
		t.Fatal(err)
	}

	for i, v := range dx {
		if stdmath.IsNaN(float64(v)) || stdmath.IsInf(float64(v), 0) {
			t.Errorf("gradInput[%d] = %v, want finite", i, v)
		}
	}
	for j := range dg {
		if stdmath.IsNaN(float64(dg[j])) || stdmath.IsInf(float64(dg[j]), 0) {
			t.Errorf("gradGamma[%d] = %v, want finite", j, dg[j])
		}
	}
}

func TestClampMagnitude(t *testing.T) {
	tests := []struct {
		name string
		g    float64
		want float64
	}{
		{"above", 0.5, 0.5},
		{"negative_above", -0.5, -0.5},
		{"tiny_positive", 1e-9, 1e-5},
		{"tiny_negative", -1e-9, -1e-5},
		{"zero", 0, 1e-5},
		{"at_threshold", 1e-5, 1e-5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := clampMagnitude(tt.g, 1e-5); got != tt.want {
				t.Errorf("clampMagnitude(%v) = %v, want %v", tt.g, got, tt.want)
			}
		})
	}
}

func TestBackwardShapeErrors(t *testing.T) {
	size4 := make([]float32, 4)
	stat1 := make([]float32, 1)

	tests := []struct {
		name string
		fn   func() error
	}{
		{"mean_required", func() error {
			return LayerNormBackward(size4, size4, 4, nil, stat1, nil, nil, 1e-5, false, make([]float32, 4), nil, nil)
		}},
		{"grad_input_len", func() error {
			return LayerNormBackward(size4, size4, 4, stat1, stat1, nil, nil, 1e-5, false, make([]float32, 3), nil, nil)
		}},
		{"grad_gamma_without_gamma", func() error {
			return LayerNormBackward(size4, size4, 4, stat1, stat1, nil, nil, 1e-5, false, make([]float32, 4), make([]float32, 4), nil)
		}},
		{"gamma_without_grad_gamma", func() error {
			return LayerNormBackward(size4, size4, 4, stat1, stat1, size4, size4, 1e-5, false, make([]float32, 4), nil, make([]float32, 4))
		}},
		{"input_len", func() error {
			return LayerNormBackward(size4, size4[:3], 4, stat1, stat1, nil, nil, 1e-5, false, make([]float32, 4), nil, nil)
		}},
		{"rms_grad_gamma_without_gamma", func() error {
			return RMSNormBackward(size4, size4, 4, stat1, nil, 1e-5, false, make([]float32, 4), make([]float32, 4))
		}},
		{"rms_invstd_len", func() error {
			return RMSNormBackward(size4, size4, 4, make([]float32, 2), nil, 1e-5, false, make([]float32, 4), nil)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fn()
			if err == nil {
				t.Fatal("want shape error, got nil")
			}
			var se *ShapeError
			if !errors.As(err, &se) {
				t.Fatalf("error %v is not a *ShapeError", err)
			}
		})
	}
}

// TestBackwardMemEffNilMean checks a nil mean is accepted exactly when the
// memory-efficient flag is set.
func TestBackwardMemEffNilMean(t *testing.T) {
	const eps = 1e-5
	input := []float32{1, 2, 3, 4}
	output := make([]float32, 4)
	mean := make([]float32, 1)
	invStd := make([]float32, 1)
	if err := LayerNormForward(input, output, 4, nil, nil, eps, mean, invStd); err != nil {
		t.Fatal(err)
	}

	dout := []float32{0.1, -0.2, 0.3, -0.4}
	dx := make([]float32, 4)
	if err := LayerNormBackward(dout, output, 4, nil, invStd, nil, nil, eps, true, dx, nil, nil); err != nil {
		t.Fatalf("memory-efficient backward with nil mean: %v", err)
	}
}

func BenchmarkLayerNormBackward(b *testing.B) {
	for _, normSize := range []int{64, 256, 768, 1024} {
		rows := 32
		size := rows * normSize
		input := make([]float32, size)
		dout := make([]float32, size)
		output := make([]float32, size)
		gamma := make([]float32, normSize)
		beta := make([]float32, normSize)
		mean := make([]float32, rows)
		invStd := make([]float32, rows)
		for i := range input {
			input[i] = float32(i)*0.001 - 1
			dout[i] = float32(i) * 0.0001
		}
		for i := range gamma {
			gamma[i] = 1
		}
		LayerNormForward(input, output, normSize, gamma, beta, 1e-5, mean, invStd)

		gradInput := make([]float32, size)
		gradGamma := make([]float32, normSize)
		gradBeta := make([]float32, normSize)

		b.Run(fmt.Sprintf("standard/normSize=%d", normSize), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				LayerNormBackward(dout, input, normSize, mean, invStd,
					gamma, beta, 1e-5, false, gradInput, gradGamma, gradBeta)
			}
		})
		b.Run(fmt.Sprintf("memEfficient/normSize=%d", normSize), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				LayerNormBackward(dout, output, normSize, nil, invStd,
					gamma, beta, 1e-5, true, gradInput, gradGamma, gradBeta)
			}
		})
	}
}
