package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kernos/pkg/mem"
)

func newTestVM(t *testing.T, frames int) (*PageVM, *mem.Allocator) {
	t.Helper()
	alloc := mem.NewAllocator((frames+1)*mem.PageSize, mem.PageSize)
	alloc.FreeRange(mem.PageSize, alloc.PhysTop())
	alloc.EnableLocking()
	return NewPageVM(alloc), alloc
}

func TestCopySharesFramesUntilWritten(t *testing.T) {
	vm, alloc := newTestVM(t, 16)

	parent, err := vm.New()
	require.NoError(t, err)
	data, err := vm.Touch(parent, 0)
	require.NoError(t, err)
	data[0] = 0xAB

	freeBefore := alloc.FreePages()
	child, err := vm.Copy(parent, mem.PageSize)
	require.NoError(t, err)

	ppa := parent.(*Space).Pages()[0]
	cpa := child.(*Space).Pages()[0]
	assert.Equal(t, ppa, cpa, "fork shares the frame")
	assert.Equal(t, 2, alloc.RefCount(ppa))
	assert.Equal(t, freeBefore, alloc.FreePages(), "no frame moves on fork")

	// The first write through the child copies the frame.
	cdata, err := vm.Touch(child, 0)
	require.NoError(t, err)
	assert.Equal(t, byte(0xAB), cdata[0], "contents carried to the private copy")

	cpa = child.(*Space).Pages()[0]
	assert.NotEqual(t, ppa, cpa, "write breaks the sharing")
	assert.Equal(t, 1, alloc.RefCount(ppa))
	assert.Equal(t, 1, alloc.RefCount(cpa))

	// Writes no longer propagate between the spaces.
	cdata[0] = 0xCD
	assert.Equal(t, byte(0xAB), data[0])
}

func TestTouchExclusiveFrameIsInPlace(t *testing.T) {
	vm, alloc := newTestVM(t, 16)

	space, err := vm.New()
	require.NoError(t, err)
	pa := space.(*Space).Pages()[0]
	freeBefore := alloc.FreePages()

	_, err = vm.Touch(space, 0)
	require.NoError(t, err)
	assert.Equal(t, pa, space.(*Space).Pages()[0])
	assert.Equal(t, freeBefore, alloc.FreePages())

	_, err = vm.Touch(space, 2*mem.PageSize)
	assert.ErrorIs(t, err, ErrBadAddress)
}

func TestFreeKeepsSharedFramesAlive(t *testing.T) {
	vm, alloc := newTestVM(t, 16)

	parent, err := vm.New()
	require.NoError(t, err)
	pa := parent.(*Space).Pages()[0]
	child, err := vm.Copy(parent, mem.PageSize)
	require.NoError(t, err)

	freeBefore := alloc.FreePages()
	vm.Free(child)
	assert.Equal(t, 1, alloc.RefCount(pa), "frame survives its sharer")
	assert.Equal(t, freeBefore, alloc.FreePages())

	vm.Free(parent)
	assert.Equal(t, freeBefore+1, alloc.FreePages(), "last owner releases the frame")
}

func TestGrow(t *testing.T) {
	vm, alloc := newTestVM(t, 4)

	space, err := vm.New()
	require.NoError(t, err)

	size, err := vm.Grow(space, mem.PageSize, 2*mem.PageSize)
	require.NoError(t, err)
	assert.Equal(t, 3*mem.PageSize, size)
	assert.Len(t, space.(*Space).Pages(), 3)

	size, err = vm.Grow(space, size, -2*mem.PageSize)
	require.NoError(t, err)
	assert.Equal(t, mem.PageSize, size)
	assert.Len(t, space.(*Space).Pages(), 1)

	// Asking for more frames than exist rolls back to the original
	// extent.
	freeBefore := alloc.FreePages()
	_, err = vm.Grow(space, size, 16*mem.PageSize)
	assert.ErrorIs(t, err, mem.ErrNoMemory)
	assert.Len(t, space.(*Space).Pages(), 1)
	assert.Equal(t, freeBefore, alloc.FreePages())
}
