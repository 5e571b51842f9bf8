//go:build linux

package evdev

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// pollTimeoutMs bounds how long Run blocks before checking for cancellation.
const pollTimeoutMs = 200

// Run opens every device and forwards key edges until ctx is cancelled or a
// device fails. A single epoll instance serves all devices.
func (s *Source) Run(ctx context.Context) error {
	names := make(map[int32]string, len(s.paths))
	defer func() {
		for fd := range names {
			unix.Close(int(fd))
		}
	}()
	for _, p := range s.paths {
		fd, err := unix.Open(p, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
		if err != nil {
			return fmt.Errorf("open %s: %w", p, err)
		}
		names[int32(fd)] = p
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return fmt.Errorf("epoll_create1: %w", err)
	}
	defer unix.Close(epfd)

	for fd, name := range names {
		ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: fd}
		if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, int(fd), &ev); err != nil {
			return fmt.Errorf("epoll_ctl_add %s: %w", name, err)
		}
	}

	s.logger.Infow("reading input devices", "devices", s.paths, "buttons", len(s.keys))

	ready := make([]unix.EpollEvent, 16)
	buf := make([]byte, 64*EventSize)
	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := unix.EpollWait(epfd, ready, pollTimeoutMs)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("epoll_wait: %w", err)
		}

		for _, r := range ready[:n] {
			name := names[r.Fd]
			if r.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
				return fmt.Errorf("device error/hangup: %s", name)
			}
			if err := s.drain(int(r.Fd), name, buf); err != nil {
				return err
			}
		}
	}
}

// drain reads everything currently buffered on fd.
func (s *Source) drain(fd int, name string, buf []byte) error {
	for {
		n, err := unix.Read(fd, buf)
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if n == 0 {
			return fmt.Errorf("read %s: device closed", name)
		}

		events, err := Decode(buf[:n])
		if err != nil {
			s.logger.Warnw("skipping malformed input", "device", name, "error", err)
			continue
		}
		for _, ev := range events {
			s.handle(name, ev)
		}
	}
}
