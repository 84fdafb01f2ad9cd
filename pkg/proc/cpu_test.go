package proc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLockDisablesInterruptsWhileHeld(t *testing.T) {
	c := NewCPU(0)
	c.sti()
	assert.True(t, c.InterruptsEnabled())

	outer := NewLock("outer")
	outer.Acquire(c)
	assert.False(t, c.InterruptsEnabled())

	// Nested critical sections keep interrupts off until the outermost
	// one ends.
	inner := NewLock("inner")
	inner.Acquire(c)
	inner.Release()
	assert.False(t, c.InterruptsEnabled())

	outer.Release()
	assert.True(t, c.InterruptsEnabled(), "restored because they were on before")
}

func TestLockLeavesInterruptsOffWhenTheyWereOff(t *testing.T) {
	c := NewCPU(0)
	lk := NewLock("x")
	lk.Acquire(c)
	lk.Release()
	assert.False(t, c.InterruptsEnabled())
}

func TestPopcliUnderflowPanics(t *testing.T) {
	c := NewCPU(0)
	assert.Panics(t, func() { c.popcli() })
}

func TestLockHolding(t *testing.T) {
	c := NewCPU(0)
	lk := NewLock("x")
	assert.False(t, lk.holding(c))
	lk.Acquire(c)
	assert.True(t, lk.holding(c))
	assert.False(t, lk.holding(NewCPU(1)))
	lk.Release()
	assert.False(t, lk.holding(c))
}
