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

// Package lnorm provides layer normalization and RMS normalization kernels
// with forward and backward passes over row-major [n1, n2] batches.
//
// # Supported Operations
//
// Forward passes (persist per-row statistics for the backward):
//   - LayerNormForward - mean/variance normalization with optional affine transform
//   - RMSNormForward - root-mean-square normalization with optional scale
//   - LayerNormForwardF16 / RMSNormForwardF16 - Float16 storage, float32 statistics
//
// Backward passes (input gradient plus optional parameter gradients):
//   - LayerNormBackward - standard or memory-efficient input recovery
//   - RMSNormBackward - RMS variant (no mean, no shift)
//   - LayerNormBackwardF16 / RMSNormBackwardF16 - Float16 storage variants
//
// Parallel drivers (same results, scheduled over a worker pool):
//   - ParallelLayerNormForward / ParallelRMSNormForward
//   - ParallelLayerNormBackward / ParallelRMSNormBackward
//
// Diagnostics:
//   - RowMoments - per-row Welford statistics without normalizing
//   - MemoryEfficientSavings - byte comparison of the two backward modes
//
// # Reduction Model
//
// Every row reduction runs the same two-level schedule regardless of how
// many goroutines execute it: 32 lanes fold strided 4-element chunks of the
// row, a rotate (forward statistics) or butterfly (backward sums) exchange
// folds the lanes, and when a row is shared by several lane groups a
// halving merge through a shared arena combines the groups. Statistics
// accumulate with Welford updates and merge with count-weighted combines,
// so the result is deterministic for a fixed group count.
//
// # Memory-Efficient Backward
//
// The standard backward reads the saved forward input together with the
// per-row mean and invStd. With memoryEfficient set, callers pass the
// forward OUTPUT instead and mean may be nil: the kernel recovers the
// normalized values as (output - beta) / gamma, with gamma clamped away
// from zero by epsilon. Between forward and backward only invStd must stay
// resident; MemoryEfficientSavings quantifies the difference.
//
// # Example Usage
//
//	import "github.com/ajroetker/go-layernorm/lnorm"
//
//	func Normalize(input []float32, normSize int, gamma, beta []float32) ([]float32, []float32, []float32) {
//	    rows := len(input) / normSize
//	    output := make([]float32, len(input))
//	    mean := make([]float32, rows)
//	    invStd := make([]float32, rows)
//	    if err := lnorm.LayerNormForward(input, output, normSize, gamma, beta, 1e-5, mean, invStd); err != nil {
//	        panic(err)
//	    }
//	    return output, mean, invStd
//	}
//
// # Environment
//
//   - LNORM_SEQUENTIAL - forces the Parallel drivers onto the sequential path
//   - LNORM_NO_PACKED - disables paired Float16 loads in the forward folds
package lnorm
