// Package ioutil provides io helpers shared across the module.
package ioutil

import (
	"fmt"
	"io"
	"sync"
)

// CountingWriter wraps an [io.Writer], accumulating the number of bytes
// written and the first error encountered. Once an error occurs all
// subsequent writes are dropped.
type CountingWriter struct {
	w   io.Writer
	num int
	err error
}

var cwPool = sync.Pool{
	New: func() any { return new(CountingWriter) },
}

func GetCountingWriter(w io.Writer) *CountingWriter {
	cw := cwPool.Get().(*CountingWriter) //nolint:forcetypeassert
	cw.w = w
	return cw
}

func FreeCountingWriter(cw *CountingWriter) {
	cw.w = nil
	cw.num = 0
	cw.err = nil
	cwPool.Put(cw)
}

func (cw *CountingWriter) Write(p []byte) (int, error) {
	if cw.err != nil {
		return 0, cw.err
	}
	n, err := cw.w.Write(p)
	cw.num += n
	cw.err = err
	return n, err
}

// Fprint writes args with [fmt.Fprint] semantics.
func (cw *CountingWriter) Fprint(args ...any) {
	if cw.err != nil {
		return
	}
	n, err := fmt.Fprint(cw.w, args...)
	cw.num += n
	cw.err = err
}

// Call invokes fn with the underlying writer, accumulating its result.
func (cw *CountingWriter) Call(fn func(w io.Writer) (int, error)) {
	if cw.err != nil {
		return
	}
	n, err := fn(cw.w)
	cw.num += n
	cw.err = err
}

// Result returns the accumulated byte count and first error.
func (cw *CountingWriter) Result() (int, error) {
	return cw.num, cw.err
}
