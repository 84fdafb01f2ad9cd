package proc

// VM abstracts address-space construction for the process table. The
// table never inspects a space; it only threads the opaque handle
// through fork, grow and teardown. Implementations are expected to
// back copies with copy-on-write sharing via the page allocator's
// reference counts.
type VM interface {
	// New builds an empty address space for the first process.
	New() (any, error)
	// Copy duplicates size bytes of the space for a forked child.
	Copy(space any, size int) (any, error)
	// Free tears the space down, dropping its page references.
	Free(space any)
	// Grow changes the space extent from size by delta bytes and
	// returns the new extent.
	Grow(space any, size, delta int) (int, error)
}

// File is an open file descriptor owned by a PCB. Duplication and
// close semantics belong to the file layer.
type File interface {
	// Dup returns the descriptor with one more reference.
	Dup() File
	// Close drops one reference.
	Close()
}

// Inode is a directory handle used for a process's current directory.
type Inode interface {
	// Dup returns the inode with one more reference.
	Dup() Inode
	// Put drops one reference.
	Put()
}

// TrapFrame is the saved user-visible execution state of a process. A
// forked child receives a copy of the parent's frame with RetVal forced
// to zero, which is how fork returns 0 in the child.
type TrapFrame struct {
	// Trap is the trap number being handled, if any.
	Trap int
	// Err is the hardware error code for the trap.
	Err int
	// PC is the saved program counter.
	PC uintptr
	// Addr is the faulting address for memory traps.
	Addr uintptr
	// RetVal is the system-call return value register.
	RetVal int
	// User records whether the trap came from user mode.
	User bool
}
