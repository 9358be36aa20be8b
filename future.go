package raft

import (
	"time"
)

// CommandResponse is produced once a submitted command has been applied to the store.
type CommandResponse struct {
	// The command that was applied.
	Command Command

	// The log index of the entry containing the command.
	Index int64

	// The term of the entry containing the command.
	Term uint64
}

// Future represents an operation that will complete at a later point in time.
type Future[T any] interface {
	// Await blocks until the result is available or the future times out.
	Await() Result[T]
}

// Result is the outcome of a future.
type Result[T any] interface {
	// Success returns the response of the operation. The response is
	// only valid if Error returns nil.
	Success() T

	// Error returns any error that occurred while processing the operation.
	Error() error
}

// future implements the Future interface.
type future[T any] struct {
	// The channel that will receive the result.
	responseCh chan Result[T]

	// The amount of time to wait on a result before timing out.
	timeout time.Duration

	// The result of the future, cached after the first Await.
	response Result[T]
}

func newFuture[T any](timeout time.Duration) *future[T] {
	return &future[T]{
		timeout:    timeout,
		responseCh: make(chan Result[T], 1),
	}
}

// newResolvedFuture returns a future whose result is already available.
func newResolvedFuture[T any](response T, err error) *future[T] {
	f := newFuture[T](0)
	f.responseCh <- newResult(response, err)
	return f
}

func (f *future[T]) Await() Result[T] {
	if f.response != nil {
		return f.response
	}
	if f.timeout <= 0 {
		f.response = <-f.responseCh
		return f.response
	}
	timer := time.NewTimer(f.timeout)
	defer timer.Stop()
	select {
	case response := <-f.responseCh:
		f.response = response
	case <-timer.C:
		var zero T
		f.response = newResult(zero, ErrTimeout)
	}
	return f.response
}

// respond delivers a result without blocking. The channel has room for exactly
// one result, so later results for the same future are dropped.
func respond[T any](responseCh chan Result[T], response T, err error) {
	select {
	case responseCh <- newResult(response, err):
	default:
	}
}

// result implements the Result interface.
type result[T any] struct {
	// The actual result of an operation.
	success T

	// Any error that occurred during the processing of the result.
	err error
}

func newResult[T any](response T, err error) Result[T] {
	return &result[T]{success: response, err: err}
}

func (r *result[T]) Success() T {
	return r.success
}

func (r *result[T]) Error() error {
	return r.err
}
