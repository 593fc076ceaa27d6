//go:build linux

package loom_internal

import (
	"golang.org/x/sys/unix"
)

// toEpollMask always requests edge-triggered notification, the corrected
// composite mask: armed bits only, no implicit EPOLLIN (see AddEvent).
func toEpollMask(armed uint32) uint32 {
	m := uint32(unix.EPOLLET)
	if armed&EventRead != 0 {
		m |= uint32(unix.EPOLLIN)
	}
	if armed&EventWrite != 0 {
		m |= uint32(unix.EPOLLOUT)
	}
	return m
}

// fromEpollMask folds EPOLLERR/EPOLLHUP into both EventRead and EventWrite,
// "promoted to both IN and OUT" per the idle-loop spec; the caller then
// masks the result against what's actually armed.
func fromEpollMask(raw uint32) uint32 {
	var m uint32
	if raw&uint32(unix.EPOLLERR) != 0 || raw&uint32(unix.EPOLLHUP) != 0 {
		return EventRead | EventWrite
	}
	if raw&uint32(unix.EPOLLIN) != 0 {
		m |= EventRead
	}
	if raw&uint32(unix.EPOLLOUT) != 0 {
		m |= EventWrite
	}
	return m
}

type epollPoller struct {
	fd int
}

func newPoller() (poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollPoller{fd: fd}, nil
}

func (p *epollPoller) ctl(op int, fd int, mask uint32) error {
	if op == pollerDelete {
		return unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil)
	}
	epOp := unix.EPOLL_CTL_ADD
	if op == pollerModify {
		epOp = unix.EPOLL_CTL_MOD
	}
	ev := unix.EpollEvent{Events: mask, Fd: int32(fd)}
	return unix.EpollCtl(p.fd, epOp, fd, &ev)
}

func (p *epollPoller) wait(events []pollEvent, timeoutMs int) (int, error) {
	raw := make([]unix.EpollEvent, len(events))
	var n int
	var err error
	for {
		n, err = unix.EpollWait(p.fd, raw, timeoutMs)
		if err == unix.EINTR {
			continue
		}
		break
	}
	if err != nil {
		return 0, err
	}
	for i := 0; i < n; i++ {
		events[i] = pollEvent{fd: int(raw[i].Fd), mask: fromEpollMask(raw[i].Events)}
	}
	return n, nil
}

func (p *epollPoller) close() error {
	return unix.Close(p.fd)
}

func newWakePipe() (int, int, error) {
	fds := make([]int, 2)
	if err := unix.Pipe2(fds, unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return 0, 0, err
	}
	return fds[0], fds[1], nil
}

func writeWake(fd int) {
	var b [1]byte
	b[0] = 'x'
	for {
		_, err := unix.Write(fd, b[:])
		if err == unix.EINTR {
			continue
		}
		return
	}
}

func drainWake(fd int) {
	var buf [64]byte
	for {
		n, err := unix.Read(fd, buf[:])
		if err == unix.EINTR {
			continue
		}
		if n <= 0 || err != nil {
			return
		}
	}
}

func closeFd(fd int) {
	_ = unix.Close(fd)
}
