// +build !windows

package ice

import "golang.org/x/sys/unix"

// interrupter wakes the worker's socket wait when external state changes
// (spec.md section 4.5/9): a new remote description or candidate, a
// re-armed check entry, or Close. Send does not use it; it writes to the
// socket directly. It is a self-pipe built on a non-blocking unix pipe, polled
// alongside the UDP socket's file descriptor with unix.Poll.
type interrupter struct {
	r, w int
}

func newInterrupter() (*interrupter, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, err
	}
	return &interrupter{r: fds[0], w: fds[1]}, nil
}

// signal wakes the worker. Writing more than once before the worker
// drains is harmless: drain() reads until the pipe is empty.
func (i *interrupter) signal() {
	var b [1]byte
	_, _ = unix.Write(i.w, b[:])
}

func (i *interrupter) drain() {
	var buf [64]byte
	for {
		n, err := unix.Read(i.r, buf[:])
		if err != nil || n == 0 {
			return
		}
		if n < len(buf) {
			return
		}
	}
}

func (i *interrupter) close() {
	unix.Close(i.r)
	unix.Close(i.w)
}

// wait blocks until either the socket fd is readable or the interrupt
// pipe is signaled, for at most timeout. It reports which woke it.
func (i *interrupter) wait(sockFd int, timeout timeoutMillis) (sockReady, woken bool, err error) {
	fds := []unix.PollFd{
		{Fd: int32(sockFd), Events: unix.POLLIN},
		{Fd: int32(i.r), Events: unix.POLLIN},
	}
	n, err := unix.Poll(fds, int(timeout))
	if err != nil {
		if err == unix.EINTR {
			return false, false, nil
		}
		return false, false, err
	}
	if n == 0 {
		return false, false, nil
	}
	sockReady = fds[0].Revents&unix.POLLIN != 0
	woken = fds[1].Revents&unix.POLLIN != 0
	if woken {
		i.drain()
	}
	return sockReady, woken, nil
}

type timeoutMillis = int
