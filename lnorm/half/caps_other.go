//go:build !amd64 && !arm64

package half

var hasPackedPairs = false
