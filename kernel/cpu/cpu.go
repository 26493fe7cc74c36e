// Package cpu models the privileged state of the current execution unit that
// the memory-management code depends on: the interrupt priority level. Raising
// the level to IntrOff masks interrupt delivery and preemption on this unit
// which makes a short sequence of hardware accesses (such as writing a TLB
// entry) atomic with respect to traps and the timer.
package cpu

import "sync/atomic"

// InterruptLevel describes the interrupt priority level of the current
// execution unit.
type InterruptLevel uint32

const (
	// IntrOn is the normal running level; maskable interrupts are delivered.
	IntrOn InterruptLevel = iota

	// IntrOff masks all maskable interrupts.
	IntrOff
)

// intrLevel holds the interrupt level of the current execution unit. The
// design assumes a single processor so a single package-level value suffices.
var intrLevel uint32

// SetInterruptLevel changes the interrupt level of the current execution unit
// and returns the previous level so callers can restore it once their
// critical section completes.
func SetInterruptLevel(level InterruptLevel) InterruptLevel {
	return InterruptLevel(atomic.SwapUint32(&intrLevel, uint32(level)))
}

// CurrentInterruptLevel returns the interrupt level of the current execution
// unit.
func CurrentInterruptLevel() InterruptLevel {
	return InterruptLevel(atomic.LoadUint32(&intrLevel))
}

// WithInterruptsDisabled invokes fn with maskable interrupts disabled on the
// current execution unit and restores the previous interrupt level once fn
// returns. Critical sections entered through this function must be short and
// bounded and must never block; it is not a general locking primitive.
func WithInterruptsDisabled(fn func()) {
	prev := SetInterruptLevel(IntrOff)
	defer SetInterruptLevel(prev)
	fn()
}
