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

// MemoryEfficientSavings returns the training-memory comparison between the
// standard and memory-efficient backward modes for a given configuration.
//
// The standard backward reads the saved forward input [n1, n2] plus the
// per-row mean and invStd vectors, so all three must stay resident between
// forward and backward. The memory-efficient backward recovers the
// normalized values from the forward output, which the next layer keeps
// alive anyway, so only invStd remains to hold.
//
// Parameters:
//   - n1: number of rows (batch * sequence length)
//   - n2: normalized span per row
//   - elemSize: bytes per tensor element (2 for Float16, 4 for float32, 8 for float64)
//   - statSize: bytes per saved statistic (4 for the Float16 variants, else elemSize)
//
// Returns:
//   - standardBytes: bytes held for the standard backward (input + mean + invStd)
//   - efficientBytes: bytes held for the memory-efficient backward (invStd)
func MemoryEfficientSavings(n1, n2, elemSize, statSize int) (standardBytes, efficientBytes int64) {
	standardBytes = int64(n1)*int64(n2)*int64(elemSize) + 2*int64(n1)*int64(statSize)
	efficientBytes = int64(n1) * int64(statSize)
	return
}
