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

package half

import (
	"os"
	"strconv"
)

var packed = hasPackedPairs && !noPackedEnv()

// Packed reports whether the half-precision kernels use the paired
// load/store path on this CPU. The pair path widens two adjacent elements
// per step, which is only profitable when the hardware converts halves in
// registers; otherwise the kernels fall back to element-at-a-time
// conversion with identical results.
func Packed() bool { return packed }

// noPackedEnv checks the LNORM_NO_PACKED environment variable. Any value
// that does not parse as false disables the pair path.
func noPackedEnv() bool {
	v := os.Getenv("LNORM_NO_PACKED")
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return true
	}
	return b
}
