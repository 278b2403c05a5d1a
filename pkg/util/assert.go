package util

import "fmt"

// Assert panics when cond does not hold. It guards conditions that are
// programmer errors, never runtime failures.
func Assert(cond bool) {
	if !cond {
		panic("assert fail")
	}
}

func Assertf(cond bool, format string, args ...interface{}) {
	if !cond {
		panic(fmt.Sprintf("assert fail: "+format, args...))
	}
}
