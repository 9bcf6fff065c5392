package main

import "context"

// BlockingPool hands out a fixed set of objects. Get blocks until one is
// returned with Put.
type BlockingPool[T any] struct {
	pool chan T
}

func NewBlockingPool[T any](capacity int) BlockingPool[T] {
	return BlockingPool[T]{pool: make(chan T, capacity)}
}

func (p *BlockingPool[T]) Get() T    { return <-p.pool }
func (p *BlockingPool[T]) Put(obj T) { p.pool <- obj }

// GetContext is Get that gives up when ctx is done.
func (p *BlockingPool[T]) GetContext(ctx context.Context) (T, error) {
	select {
	case obj := <-p.pool:
		return obj, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// withContext forwards ch until it is closed or ctx is done.
func withContext[T any](ctx context.Context, ch <-chan T) <-chan T {
	out := make(chan T, 1)

	go func() {
		defer close(out)
		for val := range ch {
			select {
			case out <- val:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
