//go:build linux

// Package futex provides the raw Linux futex syscalls used by the
// spin-semaphore's slow path, grounded on the teacher's use of
// golang.org/x/sys/unix for raw syscalls (eventloop/wakeup_linux.go's
// unix.Eventfd/unix.Read, eventloop/poller_linux.go's unix.EpollCreate1/
// unix.EpollWait): here the same package is reached for FUTEX_WAIT/
// FUTEX_WAKE instead of eventfd/epoll, since the spec calls for parking
// directly on a word rather than an FD-based notification.
package futex

import (
	"errors"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Linux futex(2) operation codes. Not exported by golang.org/x/sys/unix,
// so they're defined here directly from the kernel UAPI header values, the
// same way the teacher defines its own EFD_CLOEXEC/EFD_NONBLOCK aliases in
// eventloop/wakeup_linux.go rather than assuming x/sys/unix exports every
// constant a raw syscall needs.
const (
	futexWait = 0
	futexWake = 1
)

// Wait blocks while *addr == expected, until woken by Wake, the deadline
// elapses, or a spurious wakeup occurs (callers must re-check their own
// condition in a loop, exactly like a condition variable).
func Wait(addr *uint32, expected uint32, timeout time.Duration) error {
	var ts *unix.Timespec
	if timeout > 0 {
		t := unix.NsecToTimespec(timeout.Nanoseconds())
		ts = &t
	}
	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(futexWait),
		uintptr(expected),
		uintptr(unsafe.Pointer(ts)),
		0, 0,
	)
	if errno != 0 {
		return errors.New(errno.Error())
	}
	return nil
}

// Wake wakes up to n threads parked on addr via Wait, returning the number
// actually woken.
func Wake(addr *uint32, n int32) int {
	r, _, _ := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(futexWake),
		uintptr(n),
		0, 0, 0,
	)
	return int(r)
}
