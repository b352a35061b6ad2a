//go:build arm64

package half

import "golang.org/x/sys/cpu"

// ASIMD is mandatory on ARMv8, so the pair path is effectively always on.
var hasPackedPairs = cpu.ARM64.HasASIMD
