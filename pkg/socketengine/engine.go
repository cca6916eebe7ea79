// Package socketengine implements a single-threaded, non-blocking socket
// multiplexer with an integrated monotonic timer facility. It is the base
// every connection in package transport is built on.
package socketengine

import "errors"

// EventFlag is one member of the {READ, WRITE, ERROR} powerset a socket can
// be registered for.
type EventFlag uint8

const (
	Read EventFlag = 1 << iota
	Write
	Error
)

// Has reports whether f contains flag.
func (f EventFlag) Has(flag EventFlag) bool { return f&flag != 0 }

// Registration describes one fd's requested event subset and the callbacks
// invoked when the OS reports readiness. Registered by the connection
// layer, owned by the Engine until Delete is called.
type Registration struct {
	FD      int
	Flags   EventFlag
	OnRead  func(fd int)
	OnWrite func(fd int)
	OnError func(fd int, errno error)
}

// TimerHandle identifies a running timer for StopTimer.
type TimerHandle uint64

// ErrAlreadyRegistered is returned by Register when fd is already known to
// the engine.
var ErrAlreadyRegistered = errors.New("socketengine: fd already registered")

// ErrNotRegistered is returned by operations that target an unknown fd.
var ErrNotRegistered = errors.New("socketengine: fd not registered")

// Engine multiplexes many non-blocking sockets on one goroutine, dispatching
// exactly one of OnRead/OnWrite/OnError per ready fd per tick, and runs a
// monotonic timer facility on the same thread. All methods are safe to call
// both from outside the engine goroutine and from within a callback running
// on it; mutating calls made from within a callback take effect before the
// next fd in that tick is processed.
type Engine interface {
	// Register adds a new fd. Precondition: fd is not registered.
	Register(reg Registration) error

	// ModifyFlags changes the requested flag set without losing the
	// registration's callbacks.
	ModifyFlags(fd int, flags EventFlag) error

	// Update replaces the whole registration (flags and callbacks).
	Update(reg Registration) error

	// Delete removes the registration. The fd itself is not closed.
	Delete(fd int) error

	// StartTimer schedules callback to run every period until stopped.
	// A callback that misses its slot by more than one period is invoked
	// at most once for the missed slots (no catch-up bursts).
	StartTimer(period float64, callback func()) TimerHandle

	// StopTimer cancels a running timer. Idempotent.
	StopTimer(h TimerHandle)

	// Run blocks the calling goroutine, servicing registrations and
	// timers until Stop is called or the done channel closes.
	Run(done <-chan struct{}) error

	// Stop requests that a concurrently running Run return.
	Stop()
}
