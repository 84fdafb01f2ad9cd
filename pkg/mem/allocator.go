package mem

import (
	"errors"
	"sync"
)

// PageSize is the size of one physical page frame in bytes.
const PageSize = 4096

// JunkByte is the fill pattern written over a frame when it is recycled,
// so stale references read garbage instead of old contents.
const JunkByte = 0x01

// Allocation errors.
var (
	// ErrNoMemory is returned by Alloc when the free list is empty.
	ErrNoMemory = errors.New("out of physical memory")
)

// PA is a physical address into the managed memory range. Addresses
// handed out by Alloc are always frame-aligned.
type PA uintptr

// FrameIndex returns the frame number the address falls in.
func (pa PA) FrameIndex() int { return int(pa / PageSize) }

// Aligned reports whether the address is frame-aligned.
func (pa PA) Aligned() bool { return pa%PageSize == 0 }

// Allocator owns the pool of physical page frames. All methods are safe
// for concurrent use once EnableLocking has been called; before that the
// allocator is strictly single-threaded boot-time state.
type Allocator struct {
	mu      sync.Mutex
	useLock bool

	// slab is the backing storage for every frame. Frame i occupies
	// slab[i*PageSize : (i+1)*PageSize].
	slab []byte

	// freelist is a LIFO stack of free frame addresses.
	freelist []PA

	// refCount holds one reference counter per frame.
	refCount []int

	// freePages mirrors len(freelist); kept as an explicit counter so
	// a snapshot does not need to walk anything.
	freePages int

	// kernelEnd is the first address available for allocation. Frames
	// below it belong to the kernel image and must never be freed.
	kernelEnd PA
	physTop   PA
}

// NewAllocator creates an allocator managing physBytes of physical
// memory, of which everything below kernelEnd is reserved. No frames
// are available until FreeRange has seeded them.
func NewAllocator(physBytes int, kernelEnd PA) *Allocator {
	frames := physBytes / PageSize
	return &Allocator{
		slab:      make([]byte, frames*PageSize),
		refCount:  make([]int, frames),
		kernelEnd: kernelEnd,
		physTop:   PA(frames * PageSize),
	}
}

// FreeRange places every whole frame in [start, end) on the free list.
// It is used by both initialization phases: once at boot for the frames
// the early page table maps, and again for the remaining range before
// the per-CPU schedulers start.
func (a *Allocator) FreeRange(start, end PA) {
	p := pageRoundUp(start)
	for ; p+PageSize <= end; p += PageSize {
		a.refCount[p.FrameIndex()] = 0
		a.free(p, true)
	}
}

// EnableLocking switches the allocator to locked operation. Call it
// exactly once, after the second FreeRange phase and before any other
// goroutine can touch the allocator.
func (a *Allocator) EnableLocking() {
	a.useLock = true
}

// Alloc pops one frame off the free list, sets its reference count to
// one and returns its address. It returns ErrNoMemory when no frame is
// free.
func (a *Allocator) Alloc() (PA, error) {
	if a.useLock {
		a.mu.Lock()
		defer a.mu.Unlock()
	}
	n := len(a.freelist)
	if n == 0 {
		return 0, ErrNoMemory
	}
	pa := a.freelist[n-1]
	a.freelist = a.freelist[:n-1]
	a.refCount[pa.FrameIndex()] = 1
	a.freePages--
	return pa, nil
}

// Free drops one reference to the frame at pa. The frame is recycled,
// overwritten with the junk pattern and pushed back on the free list,
// only when its reference count reaches zero. Freeing a frame whose
// count is already zero is a double free and panics, as does a
// misaligned or out-of-range address.
func (a *Allocator) Free(pa PA) {
	a.free(pa, false)
}

func (a *Allocator) free(pa PA, seeding bool) {
	if !pa.Aligned() || pa < a.kernelEnd || pa >= a.physTop {
		panic("mem: free of bad physical address")
	}
	if a.useLock {
		a.mu.Lock()
		defer a.mu.Unlock()
	}
	i := pa.FrameIndex()
	if a.refCount[i] > 0 {
		a.refCount[i]--
	} else if !seeding {
		panic("mem: double free")
	}
	if a.refCount[i] == 0 {
		frame := a.slab[pa : pa+PageSize]
		for b := range frame {
			frame[b] = JunkByte
		}
		a.freelist = append(a.freelist, pa)
		a.freePages++
	}
}

// IncRef adds one reference to the frame at pa. Used by the VM layer
// when a copy-on-write mapping shares the frame with another address
// space.
func (a *Allocator) IncRef(pa PA) {
	a.checkRange(pa)
	if a.useLock {
		a.mu.Lock()
		defer a.mu.Unlock()
	}
	a.refCount[pa.FrameIndex()]++
}

// DecRef removes one reference from the frame at pa without recycling
// it. Dropping the count below zero panics; use Free when the frame
// should be recycled at zero.
func (a *Allocator) DecRef(pa PA) {
	a.checkRange(pa)
	if a.useLock {
		a.mu.Lock()
		defer a.mu.Unlock()
	}
	i := pa.FrameIndex()
	if a.refCount[i] == 0 {
		panic("mem: reference count underflow")
	}
	a.refCount[i]--
}

// RefCount returns the current reference count of the frame at pa.
func (a *Allocator) RefCount(pa PA) int {
	a.checkRange(pa)
	if a.useLock {
		a.mu.Lock()
		defer a.mu.Unlock()
	}
	return a.refCount[pa.FrameIndex()]
}

// FreePages returns the number of frames currently on the free list.
func (a *Allocator) FreePages() int {
	if a.useLock {
		a.mu.Lock()
		defer a.mu.Unlock()
	}
	return a.freePages
}

// Data returns the backing bytes of the frame at pa. The caller must
// hold a reference to the frame for as long as it uses the slice.
func (a *Allocator) Data(pa PA) []byte {
	a.checkRange(pa)
	return a.slab[pa : pa+PageSize]
}

// PhysTop returns the first address past the managed range.
func (a *Allocator) PhysTop() PA { return a.physTop }

// KernelEnd returns the first allocatable address.
func (a *Allocator) KernelEnd() PA { return a.kernelEnd }

func (a *Allocator) checkRange(pa PA) {
	if !pa.Aligned() || pa >= a.physTop {
		panic("mem: bad physical address")
	}
}

func pageRoundUp(pa PA) PA {
	return (pa + PageSize - 1) &^ (PageSize - 1)
}
