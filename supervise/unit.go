// Package supervise runs state-owning components as independent concurrent
// units: each unit has a private, sequentially-processed inbox, and a panic
// while handling one message reinitializes the unit to its startup state.
//
// The restart is lossy by design: in-flight state at the moment of failure
// is discarded and the crashing message is not redelivered.
package supervise

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/pilot/internal/metrics"
)

var (
	// ErrClosed is returned by Send after Close.
	ErrClosed = errors.New("unit closed")
	// ErrFull is returned by Send when the inbox is at capacity.
	ErrFull = errors.New("unit inbox full")
)

// DefaultInboxSize bounds a unit's pending messages.
const DefaultInboxSize = 256

// Unit owns a value of type T and processes messages against it one at a
// time. T is typically a pointer type; handlers mutate the state directly.
type Unit[T any] struct {
	name string
	log  zerolog.Logger
	init func() T

	inbox chan func(T)

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewUnit creates a unit whose state is built (and rebuilt after a crash) by
// init. The unit does not process messages until Start.
func NewUnit[T any](name string, log zerolog.Logger, capacity int, init func() T) *Unit[T] {
	if capacity <= 0 {
		capacity = DefaultInboxSize
	}
	return &Unit[T]{
		name:  name,
		log:   log.With().Str("unit", name).Logger(),
		init:  init,
		inbox: make(chan func(T), capacity),
		done:  make(chan struct{}),
	}
}

// Start launches the unit's message loop. It returns immediately.
func (u *Unit[T]) Start(ctx context.Context) {
	go u.run(ctx)
}

func (u *Unit[T]) run(ctx context.Context) {
	defer close(u.done)

	state := u.init()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-u.inbox:
			if !ok {
				return
			}
			if crashed := u.dispatch(state, msg); crashed {
				// Fresh startup state; pre-crash mutations are gone.
				state = u.init()
			}
		}
	}
}

func (u *Unit[T]) dispatch(state T, msg func(T)) (crashed bool) {
	defer func() {
		if r := recover(); r != nil {
			crashed = true
			metrics.RestartsTotal.WithLabelValues(u.name).Inc()
			u.log.Error().Interface("panic", r).Msg("handler crashed, restarting unit with fresh state")
		}
	}()
	msg(state)
	return false
}

// Send enqueues a message without blocking.
func (u *Unit[T]) Send(msg func(T)) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return ErrClosed
	}
	select {
	case u.inbox <- msg:
		return nil
	default:
		return ErrFull
	}
}

// Close stops the unit after all queued messages drain.
func (u *Unit[T]) Close() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return
	}
	u.closed = true
	close(u.inbox)
}

// Wait blocks until the unit's loop has exited.
func (u *Unit[T]) Wait() { <-u.done }

// Call sends a request and waits for its reply. The reply channel is
// buffered so a crashed handler (which never replies) cannot wedge the unit;
// Call then fails when the unit closes or the context ends.
func Call[T, R any](ctx context.Context, u *Unit[T], fn func(T) R) (R, error) {
	var zero R
	reply := make(chan R, 1)
	err := u.Send(func(state T) {
		reply <- fn(state)
	})
	if err != nil {
		return zero, err
	}
	select {
	case r := <-reply:
		return r, nil
	case <-u.done:
		return zero, ErrClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
