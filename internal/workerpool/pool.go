// Package workerpool fans indexed work out over a bounded ants pool.
package workerpool

import (
	"context"
	"sync"

	"github.com/panjf2000/ants/v2"
)

// Run calls fn for every index in [0, count) using at most size goroutines.
// A size of 1 or less runs sequentially on the caller's goroutine. The first
// error is returned; indices not yet started are skipped once an error or a
// cancellation has been seen.
func Run(ctx context.Context, size, count int, fn func(ctx context.Context, i int) error) error {
	if size <= 1 || count <= 1 {
		for i := 0; i < count; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(ctx, i); err != nil {
				return err
			}
		}
		return nil
	}

	if size > count {
		size = count
	}
	pool, err := ants.NewPool(size)
	if err != nil {
		return err
	}
	defer pool.Release()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	fail := func(err error) {
		once.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for i := 0; i < count; i++ {
		if ctx.Err() != nil {
			break
		}
		i := i
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			if err := fn(ctx, i); err != nil {
				fail(err)
			}
		})
		if err != nil {
			wg.Done()
			fail(err)
			break
		}
	}
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}
