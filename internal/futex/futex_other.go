//go:build !linux

// Package futex falls back to a condition-variable-based parker on
// platforms without a futex syscall, the same per-platform split the
// teacher uses between poller_linux.go (epoll) and poller_darwin.go
// (kqueue) / poller_windows.go (IOCP).
package futex

import (
	"sync"
	"time"
)

var (
	mu   sync.Mutex
	cond = sync.NewCond(&mu)
)

// Wait blocks while *addr == expected, waking periodically to re-check
// (condition variables have no notion of "the word at this address", so
// this fallback broadcasts globally and relies on the caller's own
// retry loop to re-validate its condition, exactly as the futex path
// requires callers to do anyway).
func Wait(addr *uint32, expected uint32, timeout time.Duration) error {
	mu.Lock()
	defer mu.Unlock()
	if loadUint32(addr) != expected {
		return nil
	}
	if timeout > 0 {
		t := time.AfterFunc(timeout, func() {
			mu.Lock()
			cond.Broadcast()
			mu.Unlock()
		})
		defer t.Stop()
	}
	cond.Wait()
	return nil
}

// Wake wakes parked waiters. n is advisory on this fallback (Cond has no
// bounded-wake primitive); Broadcast always wakes everyone, who then
// re-check their own condition and re-park if still unsatisfied.
func Wake(addr *uint32, n int32) int {
	mu.Lock()
	cond.Broadcast()
	mu.Unlock()
	return int(n)
}

func loadUint32(addr *uint32) uint32 { return *addr }
