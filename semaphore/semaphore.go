// Package semaphore implements the spin-then-futex counting semaphore
// (spec module C2): one designated spinner busy-waits for a token while
// every other waiter parks on the OS.
//
// The control word packing technique is grounded directly on the teacher's
// FastState (github.com/joeycumines/go-eventloop, eventloop/state.go): one
// cache-line-padded atomic word, mutated exclusively through CAS loops, no
// mutex on the hot path. The OS-level park/wake is grounded on the
// teacher's platform-specific syscall split (wakeup_linux.go/
// poller_linux.go use golang.org/x/sys/unix directly); here that becomes
// internal/futex's FUTEX_WAIT/FUTEX_WAKE on Linux, a sync.Cond elsewhere.
package semaphore

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/carlowood/taskrt/internal/futex"
)

// Field widths within the packed 64-bit control word. wakePending and woke
// are intentionally narrow: §9's open question leaves pathological
// overflow undefined, so this implementation clamps rather than wraps.
const (
	tokensBits = 32
	tokensMax  = uint64(1)<<tokensBits - 1

	spinnerShift = tokensBits // bit 32
	spinnerBit   = uint64(1) << spinnerShift

	wakePendingShift = spinnerShift + 1 // bits 33-35
	wakePendingBits  = 3
	wakePendingMax   = uint64(1)<<wakePendingBits - 1 // 7, per §9
	wakePendingMask  = wakePendingMax << wakePendingShift

	wokeShift = wakePendingShift + wakePendingBits // bits 36-39
	wokeBits  = 4
	wokeMax   = uint64(8) // 8, per §9 (clamped below the 4-bit field's limit)
	wokeMask  = (uint64(1)<<wokeBits - 1) << wokeShift

	nwaitersShift = wokeShift + wokeBits // bit 40..63
	nwaitersMax   = uint64(1)<<(64-nwaitersShift) - 1
)

// Semaphore is a counting semaphore with a single user-space spinner.
type Semaphore struct {
	_        [64]byte // cache-line padding, as in the teacher's FastState
	state    atomic.Uint64
	_        [56]byte
	doorbell uint32 // bumped on every Post; the futex/cond wait word
}

// New constructs a Semaphore with the given number of initial tokens.
func New(initialTokens int) *Semaphore {
	s := &Semaphore{}
	if initialTokens > 0 {
		s.state.Store(clamp(uint64(initialTokens), tokensMax))
	}
	return s
}

func clamp(v, max uint64) uint64 {
	if v > max {
		return max
	}
	return v
}

func unpack(word uint64) (tokens uint64, spinner bool, wakePending, woke, nwaiters uint64) {
	tokens = word & tokensMax
	spinner = word&spinnerBit != 0
	wakePending = (word & wakePendingMask) >> wakePendingShift
	woke = (word & wokeMask) >> wokeShift
	nwaiters = word >> nwaitersShift
	return
}

func pack(tokens uint64, spinner bool, wakePending, woke, nwaiters uint64) uint64 {
	w := clamp(tokens, tokensMax)
	if spinner {
		w |= spinnerBit
	}
	w |= clamp(wakePending, wakePendingMax) << wakePendingShift
	w |= clamp(woke, wokeMax) << wokeShift
	w |= clamp(nwaiters, nwaitersMax) << nwaitersShift
	return w
}

// Post atomically adds n tokens. If asleep waiters exist and no outstanding
// wake already covers them, it bumps wake_pending (clamped) and issues an
// OS wake for the uncovered subset, per spec §4.2. A post that observes the
// spinner bit set and waiters present may skip issuing a wake: the spinner
// is expected to claim the token itself.
//
// Tokens first pay down outstanding woke credits: a waiter that already
// woke (real wake or the parkUntilWoken fallback poll) but hasn't yet
// retried TryWait was already excluded from a prior Post's "covered"
// tally, so once a token exists to back it the credit is retired rather
// than carried forever — otherwise woke only ever grows, covered()
// saturates, and Post stops issuing wakes even with parked waiters left
// (the sub_state word never returns to zero).
func (s *Semaphore) Post(n int) {
	if n <= 0 {
		return
	}
	var wakeCount int
	for {
		old := s.state.Load()
		tokens, spinner, wakePending, woke, nwaiters := unpack(old)
		newTokens := clamp(tokens+uint64(n), tokensMax)

		remaining := uint64(n)
		newWoke := woke
		if pay := min(newWoke, remaining); pay > 0 {
			newWoke -= pay
			remaining -= pay
		}

		wakeCount = 0
		newWakePending := wakePending
		if nwaiters > 0 && !spinner && remaining > 0 {
			covered := wakePending + newWoke
			need := uint64(0)
			if nwaiters > covered {
				need = nwaiters - covered
			}
			toWake := remaining
			if toWake > need {
				toWake = need
			}
			if toWake > 0 {
				newWakePending = clamp(wakePending+toWake, wakePendingMax)
				wakeCount = int(toWake)
			}
		}

		neu := pack(newTokens, spinner, newWakePending, newWoke, nwaiters)
		if s.state.CompareAndSwap(old, neu) {
			break
		}
	}
	if wakeCount > 0 {
		atomic.AddUint32(&s.doorbell, 1)
		futex.Wake(&s.doorbell, int32(wakeCount))
	}
}

// TryWait attempts to claim one token without blocking.
func (s *Semaphore) TryWait() bool {
	for {
		old := s.state.Load()
		tokens, spinner, wakePending, woke, nwaiters := unpack(old)
		if tokens == 0 {
			return false
		}
		neu := pack(tokens-1, spinner, wakePending, woke, nwaiters)
		if s.state.CompareAndSwap(old, neu) {
			return true
		}
	}
}

// spinIterations bounds the user-space spin before the sole spinner parks,
// avoiding an unbounded busy loop under a Post/Wait imbalance.
const spinIterations = 4000

// Wait blocks until a token is available or ctx is done. Exactly one
// waiter at a time spins in user space; the rest park via futex/Cond, per
// spec §4.2.
func (s *Semaphore) Wait(ctx context.Context) error {
	if s.TryWait() {
		return nil
	}

	for {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}

		if s.becomeSpinner() {
			if s.spinForToken() {
				s.clearSpinner()
				return nil
			}
			s.clearSpinner()
			continue
		}

		if err := s.parkUntilWoken(ctx); err != nil {
			return err
		}
		if s.TryWait() {
			return nil
		}
	}
}

// becomeSpinner claims the spinner slot if free, returning false if someone
// else already holds it.
func (s *Semaphore) becomeSpinner() bool {
	for {
		old := s.state.Load()
		tokens, spinner, wakePending, woke, nwaiters := unpack(old)
		if spinner {
			return false
		}
		neu := pack(tokens, true, wakePending, woke, nwaiters)
		if s.state.CompareAndSwap(old, neu) {
			return true
		}
	}
}

func (s *Semaphore) clearSpinner() {
	for {
		old := s.state.Load()
		tokens, _, wakePending, woke, nwaiters := unpack(old)
		neu := pack(tokens, false, wakePending, woke, nwaiters)
		if s.state.CompareAndSwap(old, neu) {
			return
		}
	}
}

func (s *Semaphore) spinForToken() bool {
	for i := 0; i < spinIterations; i++ {
		if s.TryWait() {
			return true
		}
	}
	return false
}

// parkUntilWoken registers as a waiter, parks, then retires the waiter slot
// and, if a wake was pending, turns one wake_pending count into a woke
// credit (which a later Post retires), per spec §4.2's wait()/slow_wait()
// wording.
func (s *Semaphore) parkUntilWoken(ctx context.Context) error {
	for {
		old := s.state.Load()
		tokens, spinner, wakePending, woke, nwaiters := unpack(old)
		if tokens > 0 {
			// A token arrived between our spin attempt and registering as
			// a waiter; let the caller's TryWait pick it up.
			return nil
		}
		neu := pack(tokens, spinner, wakePending, woke, nwaiters+1)
		if s.state.CompareAndSwap(old, neu) {
			break
		}
	}

	expected := atomic.LoadUint32(&s.doorbell)
	var timeout time.Duration
	if ctx != nil {
		if dl, ok := ctx.Deadline(); ok {
			timeout = time.Until(dl)
			if timeout <= 0 {
				timeout = time.Nanosecond
			}
		}
	}
	if timeout == 0 {
		timeout = 50 * time.Millisecond // bounded, so ctx cancellation is noticed promptly
	}
	_ = futex.Wait(&s.doorbell, expected, timeout)

	for {
		old := s.state.Load()
		tokens, spinner, wakePending, woke, nwaiters := unpack(old)
		newNwaiters := nwaiters
		if newNwaiters > 0 {
			newNwaiters--
		}
		newWakePending := wakePending
		newWoke := woke
		if wakePending > 0 {
			newWakePending--
			newWoke = clamp(woke+1, wokeMax)
		}
		neu := pack(tokens, spinner, newWakePending, newWoke, newNwaiters)
		if s.state.CompareAndSwap(old, neu) {
			break
		}
	}

	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}
