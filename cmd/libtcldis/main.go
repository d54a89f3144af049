// Package main builds libtcldis - a C-embeddable decompile pipeline.
// This is built with -buildmode=c-shared.
//
// The exported surface matches the original embedding contract:
// tcldis_init is called once, then tcldis_decompile any number of
// times. Each decompile call returns either a JSON document or one of
// the literal sentinel strings "ERROR #0" through "ERROR #4" (quote
// characters included). One output buffer is cached process-wide; the
// previous buffer is freed immediately before being replaced. Not
// thread safe.
package main

/*
#include <stdlib.h>
*/
import "C"

import (
	"unsafe"

	"github.com/chazu/tcldis"
)

var (
	pipeline *tcldis.Pipeline
	outBuf   *C.char
)

//export tcldis_init
func tcldis_init() C.int {
	pipeline = tcldis.New()
	return 0
}

//export tcldis_decompile
func tcldis_decompile(code *C.char) *C.char {
	if pipeline == nil {
		tcldis_init()
	}
	out := pipeline.DecompileLegacy(C.GoString(code))

	// Free before use to avoid a leak across calls.
	if outBuf != nil {
		C.free(unsafe.Pointer(outBuf))
	}
	outBuf = C.CString(out)
	return outBuf
}

func main() {}
