package mem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestAllocator returns a fully seeded, locked allocator with one
// reserved kernel page and the given number of allocatable frames.
func newTestAllocator(t *testing.T, frames int) *Allocator {
	t.Helper()
	a := NewAllocator((frames+1)*PageSize, PageSize)
	a.FreeRange(a.KernelEnd(), a.PhysTop())
	a.EnableLocking()
	require.Equal(t, frames, a.FreePages())
	return a
}

func TestAllocFreeRoundTrip(t *testing.T) {
	a := newTestAllocator(t, 8)

	pa, err := a.Alloc()
	require.NoError(t, err)
	assert.True(t, pa.Aligned())
	assert.Equal(t, 1, a.RefCount(pa))
	assert.Equal(t, 7, a.FreePages())

	// Dirty the frame, then release it.
	data := a.Data(pa)
	for i := range data {
		data[i] = 0xAB
	}
	a.Free(pa)
	assert.Equal(t, 0, a.RefCount(pa))
	assert.Equal(t, 8, a.FreePages())

	// The free list is LIFO, so the same frame comes back, and its
	// contents must be the junk fill pattern.
	again, err := a.Alloc()
	require.NoError(t, err)
	assert.Equal(t, pa, again)
	for _, b := range a.Data(again) {
		if b != JunkByte {
			t.Fatalf("recycled frame not junk-filled: %#x", b)
		}
	}
}

func TestReferenceCountedRecycling(t *testing.T) {
	a := newTestAllocator(t, 4)

	pa, err := a.Alloc()
	require.NoError(t, err)

	a.IncRef(pa)
	a.IncRef(pa)
	a.IncRef(pa)
	assert.Equal(t, 4, a.RefCount(pa))

	// The first three releases drop references without recycling.
	for want := 3; want >= 1; want-- {
		a.Free(pa)
		assert.Equal(t, want, a.RefCount(pa))
		assert.Equal(t, 3, a.FreePages())
	}

	// Only the final release returns the frame to the free list.
	a.Free(pa)
	assert.Equal(t, 0, a.RefCount(pa))
	assert.Equal(t, 4, a.FreePages())
}

func TestAllocExhaustion(t *testing.T) {
	a := newTestAllocator(t, 2)

	_, err := a.Alloc()
	require.NoError(t, err)
	_, err = a.Alloc()
	require.NoError(t, err)

	_, err = a.Alloc()
	assert.ErrorIs(t, err, ErrNoMemory)
}

func TestFreeInvariantViolationsPanic(t *testing.T) {
	a := newTestAllocator(t, 4)
	pa, err := a.Alloc()
	require.NoError(t, err)

	assert.Panics(t, func() { a.Free(pa + 1) }, "misaligned address")
	assert.Panics(t, func() { a.Free(0) }, "kernel range")
	assert.Panics(t, func() { a.Free(a.PhysTop()) }, "out of range")

	a.Free(pa)
	assert.Panics(t, func() { a.Free(pa) }, "double free")
}

func TestDecRefUnderflowPanics(t *testing.T) {
	a := newTestAllocator(t, 2)
	pa, err := a.Alloc()
	require.NoError(t, err)

	a.DecRef(pa)
	assert.Panics(t, func() { a.DecRef(pa) })
}

func TestTwoPhaseInitialization(t *testing.T) {
	a := NewAllocator(16*PageSize, PageSize)

	// Early phase: a partial range, no locking yet.
	a.FreeRange(PageSize, 8*PageSize)
	assert.Equal(t, 7, a.FreePages())

	// Second phase hands over the rest and enables locking.
	a.FreeRange(8*PageSize, a.PhysTop())
	a.EnableLocking()
	assert.Equal(t, 15, a.FreePages())

	seen := map[PA]bool{}
	for {
		pa, err := a.Alloc()
		if err != nil {
			assert.ErrorIs(t, err, ErrNoMemory)
			break
		}
		assert.False(t, seen[pa], "frame handed out twice")
		seen[pa] = true
	}
	assert.Len(t, seen, 15)
}
