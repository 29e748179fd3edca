// Package parallel splits row ranges of a batch across goroutines.
package parallel

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/YuminosukeSato/haspeede/pkg/errors"
)

// maxWorkers caps the goroutines of one call. 0 means runtime.NumCPU().
var maxWorkers atomic.Int64

// SetMaxWorkers caps the number of goroutines per call and returns the
// previous cap. n <= 0 restores the default of one per CPU.
func SetMaxWorkers(n int) int {
	if n < 0 {
		n = 0
	}
	return int(maxWorkers.Swap(int64(n)))
}

// Workers is the number of goroutines used for rows rows.
func Workers(rows int) int {
	w := int(maxWorkers.Load())
	if w == 0 {
		w = runtime.NumCPU()
	}
	if w > rows {
		w = rows
	}
	if w < 1 {
		w = 1
	}
	return w
}

// Rows calls fn over contiguous [start, end) ranges covering [0, rows).
// Batches with at most threshold rows run on the calling goroutine. A panic
// in any range is returned as a PanicError once every range has finished.
func Rows(rows, threshold int, fn func(start, end int)) (err error) {
	if rows <= 0 {
		return nil
	}
	if rows <= threshold {
		defer errors.Recover(&err, "parallel.Rows")
		fn(0, rows)
		return nil
	}

	workers := Workers(rows)
	chunk := (rows + workers - 1) / workers
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * chunk
		end := min(start+chunk, rows)
		if start >= end {
			break
		}
		wg.Add(1)
		go func(w, start, end int) {
			defer wg.Done()
			defer errors.Recover(&errs[w], "parallel.Rows")
			fn(start, end)
		}(w, start, end)
	}
	wg.Wait()

	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}
