package lnorm

import "fmt"

// ShapeError reports arguments whose lengths or nil-ness cannot describe a
// valid batch. It is returned before any kernel work is scheduled, so a
// failed call never leaves partially written output.
type ShapeError struct {
	Op     string // the exported entry point that rejected the call
	Detail string
}

func (e *ShapeError) Error() string {
	return "lnorm: " + e.Op + ": " + e.Detail
}

func shapeErrorf(op, format string, args ...any) *ShapeError {
	return &ShapeError{Op: op, Detail: fmt.Sprintf(format, args...)}
}
