package sessiongate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// CodeLength is the number of digits in an email verification code.
const CodeLength = 6

// ChallengeTTL is the lifetime of a verification challenge. A successful
// resend resets the countdown to exactly this value.
const ChallengeTTL = 15 * time.Minute

// VerificationAPI is the slice of the platform API the verification flow
// depends on. *APIClient implements it.
type VerificationAPI interface {
	// SendVerificationCode asks the API to issue a code to the email.
	SendVerificationCode(ctx context.Context, email string) error

	// VerifyEmailCode submits the entered code for verification.
	VerifyEmailCode(ctx context.Context, email, code string) error
}

// VerificationFlow is the bounded-lifetime OTP challenge used during signup:
// six single-character slots, a 15-minute countdown, and resend throttling.
// It is independent of the session machine.
//
// Opening the flow resets all transient state, so nothing leaks across
// open/close cycles. The countdown ticker is owned by the flow's lifetime and
// is torn down on every exit path - close, reopen, completion.
type VerificationFlow struct {
	mu       sync.Mutex
	api      VerificationAPI
	clock    clockwork.Clock
	onTick   func(remaining time.Duration)
	email    string
	slots    [CodeLength]byte // 0 means empty, otherwise '0'..'9'
	deadline time.Time
	open     bool
	stop     chan struct{}
}

// FlowOption configures a VerificationFlow.
type FlowOption func(*VerificationFlow)

// WithClock substitutes the wall clock, mainly for tests.
func WithClock(clock clockwork.Clock) FlowOption {
	return func(f *VerificationFlow) { f.clock = clock }
}

// WithTickHandler registers a callback invoked once per second with the
// remaining challenge time, for rendering the countdown.
func WithTickHandler(fn func(remaining time.Duration)) FlowOption {
	return func(f *VerificationFlow) { f.onTick = fn }
}

// NewVerificationFlow creates a closed flow. Call Open to start a challenge.
func NewVerificationFlow(api VerificationAPI, opts ...FlowOption) *VerificationFlow {
	f := &VerificationFlow{
		api:   api,
		clock: clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Open starts a challenge for email, discarding any prior state: slots are
// cleared, the countdown restarts at the full TTL, and any previous ticker is
// stopped before the new one starts so tickers never stack up.
func (f *VerificationFlow) Open(email string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopTickerLocked()
	f.email = email
	f.slots = [CodeLength]byte{}
	f.deadline = f.clock.Now().Add(ChallengeTTL)
	f.open = true
	f.startTickerLocked()
}

// Close tears the flow down and stops the countdown ticker.
func (f *VerificationFlow) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopTickerLocked()
	f.open = false
}

// Enter places a single digit into the slot at pos and returns the slot that
// should receive focus next. Non-digit input leaves the slot untouched.
func (f *VerificationFlow) Enter(pos int, ch byte) (focus int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if pos < 0 || pos >= CodeLength {
		return clampSlot(pos)
	}
	if ch < '0' || ch > '9' {
		return pos
	}
	f.slots[pos] = ch
	if pos < CodeLength-1 {
		return pos + 1
	}
	return pos
}

// Backspace clears a slot and returns the slot that should receive focus. On
// an already-empty slot it moves back, clearing the previous slot.
func (f *VerificationFlow) Backspace(pos int) (focus int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pos = clampSlot(pos)
	if f.slots[pos] != 0 {
		f.slots[pos] = 0
		return pos
	}
	if pos > 0 {
		f.slots[pos-1] = 0
		return pos - 1
	}
	return 0
}

// Paste fills slots from clipboard text, capped at six digits, and returns
// the slot that should receive focus: the first empty slot, or the last slot
// when everything is filled.
func (f *VerificationFlow) Paste(text string) (focus int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for i := 0; i < len(text) && n < CodeLength; i++ {
		if text[i] >= '0' && text[i] <= '9' {
			f.slots[n] = text[i]
			n++
		}
	}
	if n >= CodeLength {
		return CodeLength - 1
	}
	return n
}

// Code returns the entered code. ok is false until all six slots are filled.
func (f *VerificationFlow) Code() (code string, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.codeLocked()
}

func (f *VerificationFlow) codeLocked() (string, bool) {
	buf := make([]byte, 0, CodeLength)
	for _, ch := range f.slots {
		if ch == 0 {
			return "", false
		}
		buf = append(buf, ch)
	}
	return string(buf), true
}

// Remaining returns the time left on the challenge countdown.
func (f *VerificationFlow) Remaining() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remainingLocked()
}

func (f *VerificationFlow) remainingLocked() time.Duration {
	if !f.open {
		return 0
	}
	remaining := f.deadline.Sub(f.clock.Now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// CanResend reports whether a resend is currently allowed: only once the
// countdown has run out.
func (f *VerificationFlow) CanResend() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open && f.remainingLocked() == 0
}

// Submit verifies the entered code against the API. An incomplete code is
// rejected locally without a network call. On failure the entered digits are
// left intact for correction and the returned error carries the server's
// message when it provided one.
func (f *VerificationFlow) Submit(ctx context.Context) error {
	f.mu.Lock()
	code, ok := f.codeLocked()
	email := f.email
	f.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: enter all %d digits", ErrValidation, CodeLength)
	}
	return f.api.VerifyEmailCode(ctx, email, code)
}

// Resend asks the API for a fresh code. It is rejected while the countdown is
// still running. On success the countdown resets to the full TTL, all slots
// are cleared and the first slot gets focus. On failure the existing state is
// left untouched and focus goes to the first empty slot, same as Paste.
func (f *VerificationFlow) Resend(ctx context.Context) (focus int, err error) {
	f.mu.Lock()
	if !f.open || f.remainingLocked() > 0 {
		focus = f.focusLocked()
		f.mu.Unlock()
		return focus, fmt.Errorf("%w: resend not available yet", ErrValidation)
	}
	email := f.email
	f.mu.Unlock()

	if err := f.api.SendVerificationCode(ctx, email); err != nil {
		f.mu.Lock()
		focus = f.focusLocked()
		f.mu.Unlock()
		return focus, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.slots = [CodeLength]byte{}
	f.deadline = f.clock.Now().Add(ChallengeTTL)
	f.stopTickerLocked()
	f.startTickerLocked()
	return 0, nil
}

// focusLocked is the default focus target: the first empty slot, or the last
// slot when everything is filled. Caller must hold f.mu.
func (f *VerificationFlow) focusLocked() int {
	for i, ch := range f.slots {
		if ch == 0 {
			return i
		}
	}
	return CodeLength - 1
}

// startTickerLocked launches the countdown goroutine for the current
// deadline. Caller must hold f.mu.
func (f *VerificationFlow) startTickerLocked() {
	stop := make(chan struct{})
	f.stop = stop
	go f.runCountdown(stop, f.deadline)
}

// stopTickerLocked cancels the current countdown goroutine, if any. Caller
// must hold f.mu.
func (f *VerificationFlow) stopTickerLocked() {
	if f.stop != nil {
		close(f.stop)
		f.stop = nil
	}
}

func (f *VerificationFlow) runCountdown(stop chan struct{}, deadline time.Time) {
	ticker := f.clock.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			remaining := deadline.Sub(f.clock.Now())
			if remaining < 0 {
				remaining = 0
			}
			f.mu.Lock()
			fn := f.onTick
			f.mu.Unlock()
			if fn != nil {
				fn(remaining)
			}
			if remaining == 0 {
				return
			}
		}
	}
}

func clampSlot(pos int) int {
	if pos < 0 {
		return 0
	}
	if pos >= CodeLength {
		return CodeLength - 1
	}
	return pos
}
