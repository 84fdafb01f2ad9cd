package kernel

import (
	"errors"

	"kernos/pkg/mem"
)

// ErrBadAddress is returned for an access outside the space extent.
var ErrBadAddress = errors.New("kernel: address outside space")

// Space is a process address space: an ordered list of page frames.
// Frames may be shared with other spaces after a fork; sharing is
// accounted for purely through the allocator's reference counts.
type Space struct {
	pages []mem.PA
}

// Pages returns the frames currently mapped by the space.
func (s *Space) Pages() []mem.PA { return s.pages }

// PageVM implements the process table's VM collaborator on top of the
// page allocator, with copy-on-write forks: Copy shares every frame by
// taking one extra reference, and Touch breaks the sharing for one
// page when it is written.
type PageVM struct {
	alloc *mem.Allocator
}

// NewPageVM creates a VM layer backed by the given allocator.
func NewPageVM(alloc *mem.Allocator) *PageVM {
	return &PageVM{alloc: alloc}
}

// New builds a one-page address space for the first process.
func (vm *PageVM) New() (any, error) {
	pa, err := vm.alloc.Alloc()
	if err != nil {
		return nil, err
	}
	return &Space{pages: []mem.PA{pa}}, nil
}

// Copy duplicates size bytes of the space for a forked child. No page
// contents move: every frame in the covered range is shared by taking
// one extra reference.
func (vm *PageVM) Copy(space any, size int) (any, error) {
	src := space.(*Space)
	n := pagesFor(size)
	if n > len(src.pages) {
		n = len(src.pages)
	}
	dst := &Space{pages: make([]mem.PA, n)}
	for i := 0; i < n; i++ {
		vm.alloc.IncRef(src.pages[i])
		dst.pages[i] = src.pages[i]
	}
	return dst, nil
}

// Free tears the space down, dropping one reference per frame. Frames
// still shared with another space survive until their last owner frees
// them.
func (vm *PageVM) Free(space any) {
	s := space.(*Space)
	for _, pa := range s.pages {
		vm.alloc.Free(pa)
	}
	s.pages = nil
}

// Grow changes the space extent from size by delta bytes, allocating
// or releasing whole frames, and returns the new extent. A partial
// allocation is rolled back before the error is reported.
func (vm *PageVM) Grow(space any, size, delta int) (int, error) {
	s := space.(*Space)
	newSize := size + delta
	if newSize < 0 {
		newSize = 0
	}
	want := pagesFor(newSize)

	for len(s.pages) < want {
		pa, err := vm.alloc.Alloc()
		if err != nil {
			// Roll back to the original extent.
			for len(s.pages) > pagesFor(size) {
				last := len(s.pages) - 1
				vm.alloc.Free(s.pages[last])
				s.pages = s.pages[:last]
			}
			return 0, err
		}
		s.pages = append(s.pages, pa)
	}
	for len(s.pages) > want {
		last := len(s.pages) - 1
		vm.alloc.Free(s.pages[last])
		s.pages = s.pages[:last]
	}
	return newSize, nil
}

// Touch prepares the page containing off for writing and returns its
// bytes. A frame shared with another space is copied first and the
// shared reference dropped; an exclusively held frame is returned as
// is. This is the write half of the copy-on-write contract.
func (vm *PageVM) Touch(space any, off int) ([]byte, error) {
	s := space.(*Space)
	idx := off / mem.PageSize
	if idx < 0 || idx >= len(s.pages) {
		return nil, ErrBadAddress
	}
	pa := s.pages[idx]
	if vm.alloc.RefCount(pa) > 1 {
		fresh, err := vm.alloc.Alloc()
		if err != nil {
			return nil, err
		}
		copy(vm.alloc.Data(fresh), vm.alloc.Data(pa))
		vm.alloc.Free(pa)
		s.pages[idx] = fresh
		pa = fresh
	}
	return vm.alloc.Data(pa), nil
}

func pagesFor(bytes int) int {
	return (bytes + mem.PageSize - 1) / mem.PageSize
}
