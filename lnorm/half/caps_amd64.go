//go:build amd64

package half

import "golang.org/x/sys/cpu"

// F16C has no direct feature flag in x/sys; AVX together with FMA is a
// reliable proxy, since every CPU generation shipping FMA also ships F16C.
var hasPackedPairs = cpu.X86.HasAVX && cpu.X86.HasFMA
