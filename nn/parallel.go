package nn

import (
	"runtime"
	"sync"
)

// RowBand returns how many of n rows each worker takes when the rows are
// split into contiguous bands for the given number of workers. It is 0 when
// there are no rows.
func RowBand(n, workers int) int {
	if n <= 0 {
		return 0
	}
	workers = min(max(workers, 1), n)
	return (n + workers - 1) / workers
}

// parallelRows splits [0, n) into RowBand sized chunks and runs fn on each
// chunk in its own goroutine, returning once every chunk is done. Chunks never
// overlap, so fn may write to rows it owns without locking.
func parallelRows(n int, fn func(lo, hi int)) {
	chunk := RowBand(n, runtime.GOMAXPROCS(0))
	if chunk == 0 {
		return
	}
	if chunk >= n {
		fn(0, n)
		return
	}

	var wg sync.WaitGroup
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			fn(lo, hi)
		}(lo, hi)
	}
	wg.Wait()
}
