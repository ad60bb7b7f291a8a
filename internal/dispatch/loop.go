package dispatch

import (
	"fmt"
	"sync"

	"github.com/eapache/queue"
	"golang.org/x/sys/unix"
)

// Loop is an epoll-backed default host for Source, adapted from the
// momentics-hioload-ws epoll reactor. It is a convenience, not a
// requirement: a caller may host Source in any loop of its own.
//
// A ready-fd FIFO interposes between EpollWait and dispatch so that,
// within one RunOnce call, a slow owner callback handling an earlier fd
// cannot reorder delivery to a later one relative to the order the kernel
// reported them.
type Loop struct {
	epfd int

	mu      sync.Mutex
	sources map[int]Source
	ready   *queue.Queue
}

// NewLoop creates an epoll-backed Loop.
func NewLoop() (*Loop, error) {
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, fmt.Errorf("dispatch: epoll_create1: %w", err)
	}
	return &Loop{epfd: epfd, sources: make(map[int]Source), ready: queue.New()}, nil
}

// Register begins watching src's fd for level-triggered readability.
func (l *Loop) Register(src Source) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	fd := src.Fd()
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("dispatch: epoll_ctl add: %w", err)
	}
	l.sources[fd] = src
	return nil
}

// Remove stops watching src and finalizes it with err (nil for a clean,
// caller-initiated removal).
func (l *Loop) Remove(src Source, err error) error {
	l.mu.Lock()
	fd := src.Fd()
	delete(l.sources, fd)
	l.mu.Unlock()

	if e := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_DEL, fd, nil); e != nil {
		src.Finalize(err)
		return fmt.Errorf("dispatch: epoll_ctl del: %w", e)
	}
	src.Finalize(err)
	return nil
}

// RunOnce waits up to timeoutMs (negative blocks indefinitely) for
// readiness, queues every ready fd in the order epoll reported it, then
// dispatches the queue to completion.
func (l *Loop) RunOnce(timeoutMs int) error {
	var events [128]unix.EpollEvent
	n, err := unix.EpollWait(l.epfd, events[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return fmt.Errorf("dispatch: epoll_wait: %w", err)
	}

	l.mu.Lock()
	for i := 0; i < n; i++ {
		l.ready.Add(events[i])
	}
	l.mu.Unlock()

	for {
		l.mu.Lock()
		if l.ready.Length() == 0 {
			l.mu.Unlock()
			return nil
		}
		ev := l.ready.Remove().(unix.EpollEvent)
		src, ok := l.sources[int(ev.Fd)]
		l.mu.Unlock()
		if !ok {
			continue
		}

		if ev.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			l.Remove(src, fmt.Errorf("dispatch: fd %d reported ERR/HUP", ev.Fd))
			continue
		}

		transient, derr := src.Dispatch()
		if transient {
			continue
		}
		if derr != nil {
			l.Remove(src, derr)
		}
	}
}

// Run calls RunOnce with a 100ms poll timeout until stop is closed.
func (l *Loop) Run(stop <-chan struct{}) error {
	for {
		select {
		case <-stop:
			return nil
		default:
		}
		if err := l.RunOnce(100); err != nil {
			return err
		}
	}
}

// Close releases the epoll fd.
func (l *Loop) Close() error {
	return unix.Close(l.epfd)
}
