package main

import (
	"context"
	"sync"
)

// background tracks the long-running goroutines started by main.
type background struct {
	wg sync.WaitGroup
}

func (b *background) Go(fn func()) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn()
	}()
}

// Wait blocks until every goroutine has returned or ctx is done. It reports
// whether all of them returned.
func (b *background) Wait(ctx context.Context) bool {
	stopped := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(stopped)
	}()
	select {
	case <-stopped:
		return true
	case <-ctx.Done():
		return false
	}
}
