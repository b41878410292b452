package diver

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Standard widths.
const (
	WidthBool = 1
	Width8    = 8
	Width16   = 16
	Width32   = 32
	Width64   = 64
)

var (
	ErrSolverTimeout  = errors.New("diver: solver timeout")
	ErrSolverCanceled = errors.New("diver: solver canceled")
	ErrStateFrozen    = errors.New("diver: state frozen")
	ErrStopped        = errors.New("diver: exploration stopped")
)

// assert panics if condition is false.
func assert(condition bool, format string, args ...interface{}) {
	if !condition {
		panic(fmt.Sprintf("assert: "+format, args...))
	}
}

// splitList splits a comma-separated list, trimming whitespace and dropping empty items.
func splitList(s string) []string {
	var a []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			a = append(a, item)
		}
	}
	return a
}
