//go:build linux

package socketengine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// epollEngine is the Linux implementation of [Engine], backed by
// epoll_create1/epoll_ctl/epoll_wait.
type epollEngine struct {
	epfd int

	mu   sync.Mutex
	regs map[int]*Registration

	timers *timerWheel

	stopOnce sync.Once
	stopCh   chan struct{}

	log *slog.Logger
}

// New returns the Linux epoll-backed [Engine].
func New(log *slog.Logger) (Engine, error) {
	if log == nil {
		log = slog.Default()
	}
	fd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, fmt.Errorf("socketengine: epoll_create1: %w", err)
	}
	return &epollEngine{
		epfd:   fd,
		regs:   make(map[int]*Registration),
		timers: newTimerWheel(),
		stopCh: make(chan struct{}),
		log:    log.With("component", "socketengine"),
	}, nil
}

func toEpollEvents(flags EventFlag) uint32 {
	var ev uint32
	if flags.Has(Read) {
		ev |= unix.EPOLLIN
	}
	if flags.Has(Write) {
		ev |= unix.EPOLLOUT
	}
	// EPOLLERR and EPOLLHUP are always reported by the kernel regardless
	// of the requested mask; Error is tracked purely at our layer.
	return ev
}

func (e *epollEngine) Register(reg Registration) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.regs[reg.FD]; ok {
		return ErrAlreadyRegistered
	}
	ev := &unix.EpollEvent{Events: toEpollEvents(reg.Flags), Fd: int32(reg.FD)}
	if err := unix.EpollCtl(e.epfd, unix.EPOLL_CTL_ADD, reg.FD, ev); err != nil {
		return fmt.Errorf("socketengine: epoll_ctl add fd=%d: %w", reg.FD, err)
	}
	r := reg
	e.regs[reg.FD] = &r
	return nil
}

func (e *epollEngine) ModifyFlags(fd int, flags EventFlag) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.regs[fd]
	if !ok {
		return ErrNotRegistered
	}
	r.Flags = flags
	ev := &unix.EpollEvent{Events: toEpollEvents(flags), Fd: int32(fd)}
	if err := unix.EpollCtl(e.epfd, unix.EPOLL_CTL_MOD, fd, ev); err != nil {
		return fmt.Errorf("socketengine: epoll_ctl mod fd=%d: %w", fd, err)
	}
	return nil
}

func (e *epollEngine) Update(reg Registration) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.regs[reg.FD]; !ok {
		return ErrNotRegistered
	}
	ev := &unix.EpollEvent{Events: toEpollEvents(reg.Flags), Fd: int32(reg.FD)}
	if err := unix.EpollCtl(e.epfd, unix.EPOLL_CTL_MOD, reg.FD, ev); err != nil {
		return fmt.Errorf("socketengine: epoll_ctl mod fd=%d: %w", reg.FD, err)
	}
	r := reg
	e.regs[reg.FD] = &r
	return nil
}

func (e *epollEngine) Delete(fd int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.regs[fd]; !ok {
		return ErrNotRegistered
	}
	// Errors from epoll_ctl DEL are ignored beyond logging: the fd may
	// already be closed by the caller, which implicitly drops it from
	// the epoll set.
	if err := unix.EpollCtl(e.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		e.log.Debug("epoll_ctl del failed, fd likely already closed", "fd", fd, "err", err)
	}
	delete(e.regs, fd)
	return nil
}

func (e *epollEngine) StartTimer(period float64, callback func()) TimerHandle {
	return e.timers.start(period, callback)
}

func (e *epollEngine) StopTimer(h TimerHandle) {
	e.timers.stop(h)
}

func (e *epollEngine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}

// maxEvents bounds how many ready events epoll_wait returns per call.
const maxEvents = 256

func (e *epollEngine) Run(done <-chan struct{}) error {
	events := make([]unix.EpollEvent, maxEvents)

	for {
		select {
		case <-done:
			return nil
		case <-e.stopCh:
			return nil
		default:
		}

		timeoutMs := -1
		if dl, ok := e.timers.nextDeadline(); ok {
			d := time.Until(dl)
			if d < 0 {
				d = 0
			}
			timeoutMs = int(d.Milliseconds())
			if timeoutMs == 0 && d > 0 {
				timeoutMs = 1
			}
		}

		n, err := unix.EpollWait(e.epfd, events, timeoutMs)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("socketengine: epoll_wait: %w", err)
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			mask := events[i].Events

			e.mu.Lock()
			reg, ok := e.regs[fd]
			e.mu.Unlock()
			if !ok {
				// Deleted by an earlier callback in this same batch.
				continue
			}

			switch {
			case mask&(unix.EPOLLERR|unix.EPOLLHUP) != 0 && reg.OnError != nil:
				reg.OnError(fd, fmt.Errorf("socketengine: fd %d reported EPOLLERR/EPOLLHUP", fd))
			case mask&unix.EPOLLIN != 0 && reg.OnRead != nil:
				reg.OnRead(fd)
			case mask&unix.EPOLLOUT != 0 && reg.OnWrite != nil:
				reg.OnWrite(fd)
			}
		}

		e.timers.fireDue(time.Now())
	}
}
