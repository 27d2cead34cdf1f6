package join

import (
	"github.com/klauspost/cpuid/v2"
	"golang.org/x/sync/semaphore"
)

// WorkerPool bounds the number of goroutines all parallel joins of a process
// run at the same time. Joins never wait for a slot, they fall back to
// synchronous execution instead.
type WorkerPool struct {
	sem  *semaphore.Weighted
	size int
}

// NewWorkerPool creates a pool with size slots. A size of zero or less uses
// the number of logical cores.
func NewWorkerPool(size int) *WorkerPool {
	if size <= 0 {
		size = cpuid.CPU.LogicalCores
	}
	if size <= 0 {
		size = 1
	}
	return &WorkerPool{sem: semaphore.NewWeighted(int64(size)), size: size}
}

func (p *WorkerPool) Size() int {
	return p.size
}

// TryGo runs fn on a new goroutine if a slot is free and reports whether it
// did.
func (p *WorkerPool) TryGo(fn func()) bool {
	if !p.sem.TryAcquire(1) {
		return false
	}
	go func() {
		defer p.sem.Release(1)
		fn()
	}()
	return true
}
