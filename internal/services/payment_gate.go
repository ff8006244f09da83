package services

import (
	"sync"
	"time"
)

const defaultPaymentGateDelay = 5 * time.Second

// PaymentGate raises the "payment required" prompt a fixed delay after a batch first
// settles. Each Arm, Trigger, MarkPaid or Reset bumps a generation counter so a timer
// that fires after being superseded does nothing. The gate also tracks the newest batch
// epoch it has seen; a newer epoch starts from an unpaid state and an older one is
// ignored.
type PaymentGate struct {
	onRequired func()

	mu         sync.Mutex
	delay      time.Duration
	timer      *time.Timer
	generation uint64
	epoch      uint64
	paid       bool
	required   bool
}

func NewPaymentGate(delay time.Duration, onRequired func()) *PaymentGate {
	if delay < 0 {
		delay = defaultPaymentGateDelay
	}
	if onRequired == nil {
		onRequired = func() {}
	}
	return &PaymentGate{delay: delay, onRequired: onRequired}
}

// SetDelay changes the delay used by the next Arm.
func (g *PaymentGate) SetDelay(delay time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if delay >= 0 {
		g.delay = delay
	}
}

// Arm starts the countdown for the batch with the given epoch unless that batch is
// already paid, the prompt is showing, or a newer batch has begun.
func (g *PaymentGate) Arm(epoch uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.advanceLocked(epoch) {
		return
	}
	if g.paid || g.required {
		return
	}
	g.stopLocked()
	gen := g.generation
	g.timer = time.AfterFunc(g.delay, func() { g.fire(gen) })
}

// Trigger raises the prompt immediately and reports whether it did.
func (g *PaymentGate) Trigger() bool {
	g.mu.Lock()
	if g.paid {
		g.mu.Unlock()
		return false
	}
	g.stopLocked()
	g.required = true
	g.mu.Unlock()

	g.onRequired()
	return true
}

// MarkPaid stops the countdown and keeps the gate open from now on.
func (g *PaymentGate) MarkPaid() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopLocked()
	g.paid = true
	g.required = false
}

// Begin moves the gate to a new batch epoch. It is a no-op for an epoch the gate has
// already seen.
func (g *PaymentGate) Begin(epoch uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.advanceLocked(epoch)
}

// advanceLocked resets the gate when epoch is newer than the current one and reports
// whether epoch is still current.
func (g *PaymentGate) advanceLocked(epoch uint64) bool {
	if epoch < g.epoch {
		return false
	}
	if epoch > g.epoch {
		g.stopLocked()
		g.epoch = epoch
		g.paid = false
		g.required = false
	}
	return true
}

// Reset returns the gate to its unpaid, idle state.
func (g *PaymentGate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopLocked()
	g.paid = false
	g.required = false
}

func (g *PaymentGate) Paid() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paid
}

// Required reports whether the payment prompt has been raised and not yet satisfied.
func (g *PaymentGate) Required() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.required
}

// Armed reports whether a countdown is running.
func (g *PaymentGate) Armed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.timer != nil
}

func (g *PaymentGate) stopLocked() {
	g.generation++
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
}

func (g *PaymentGate) fire(gen uint64) {
	g.mu.Lock()
	if gen != g.generation || g.paid {
		g.mu.Unlock()
		return
	}
	g.timer = nil
	g.required = true
	g.mu.Unlock()

	g.onRequired()
}
