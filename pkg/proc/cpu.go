package proc

import "sync"

// CPU models one processor: the process it is running, its scheduler
// continuation, and its interrupt-disable nesting. Exactly one kernel
// thread executes "on" a CPU at a time, so the fields need no lock of
// their own.
type CPU struct {
	id int
	// proc is the process currently running on this CPU, nil between
	// dispatches.
	proc *Proc
	// sched is the scheduler loop's saved continuation.
	sched *Context
	// ncli is the interrupt-disable nesting depth.
	ncli int
	// intena records whether interrupts were enabled before the
	// outermost disable.
	intena bool
	// intr is the interrupt-enable flag.
	intr bool
}

// NewCPU creates a CPU with the given id. Id 0 is the tick-keeper: the
// only CPU that advances the global tick counter and ages its running
// process.
func NewCPU(id int) *CPU {
	return &CPU{id: id, sched: newContext()}
}

// ID returns the CPU number.
func (c *CPU) ID() int { return c.id }

// Proc returns the process currently running on this CPU, or nil.
func (c *CPU) Proc() *Proc { return c.proc }

// InterruptsEnabled reports the interrupt-enable flag.
func (c *CPU) InterruptsEnabled() bool { return c.intr }

// sti enables interrupts on this CPU.
func (c *CPU) sti() { c.intr = true }

// pushcli disables interrupts, remembering across nested sections
// whether they were enabled at the outermost one.
func (c *CPU) pushcli() {
	was := c.intr
	c.intr = false
	if c.ncli == 0 {
		c.intena = was
	}
	c.ncli++
}

// popcli undoes one pushcli, re-enabling interrupts when the outermost
// section ends and they were enabled before it.
func (c *CPU) popcli() {
	c.ncli--
	if c.ncli < 0 {
		panic("proc: popcli underflow")
	}
	if c.ncli == 0 && c.intena {
		c.intr = true
	}
}

// Lock is the mutual-exclusion primitive of the kernel: acquiring
// disables interrupts on the acquiring CPU for the duration of the
// critical section, and the owner is tracked so lock-discipline
// invariants can be checked. Blocking while holding one is forbidden.
type Lock struct {
	mu   sync.Mutex
	name string
	// cpu is the CPU that acquired the lock, nil when the holder runs
	// outside CPU context (boot, tests).
	cpu *CPU
}

// NewLock creates a named lock.
func NewLock(name string) *Lock {
	return &Lock{name: name}
}

// Acquire takes the lock on behalf of c, which may be nil outside CPU
// context.
func (l *Lock) Acquire(c *CPU) {
	if c != nil {
		c.pushcli()
	}
	l.mu.Lock()
	l.cpu = c
}

// Release drops the lock and restores the acquiring CPU's interrupt
// nesting.
func (l *Lock) Release() {
	c := l.cpu
	l.cpu = nil
	l.mu.Unlock()
	if c != nil {
		c.popcli()
	}
}

// holding reports whether the lock is held on behalf of c. Only
// meaningful when asked by the kernel thread currently running on c.
func (l *Lock) holding(c *CPU) bool {
	return c != nil && l.cpu == c
}

// Context is a parked kernel continuation: one side of the cooperative
// hand-off between a process's kernel thread and its CPU's scheduler
// loop.
type Context struct {
	resume chan struct{}
}

func newContext() *Context {
	return &Context{resume: make(chan struct{})}
}

// swtch resumes to and parks the caller on from until resumed in turn.
// The current goroutine must be the one that owns from.
func swtch(from, to *Context) {
	to.resume <- struct{}{}
	<-from.resume
}

// park blocks until the continuation is resumed. It returns false when
// the continuation was aborted before ever running.
func (c *Context) park() bool {
	_, ok := <-c.resume
	return ok
}

// handoff resumes the continuation without parking the caller; the
// caller's goroutine must not switch again.
func (c *Context) handoff() {
	c.resume <- struct{}{}
}

// abort releases a continuation that was never scheduled, letting its
// kernel thread exit. Aborting a continuation that has run is a
// programming error.
func (c *Context) abort() {
	close(c.resume)
}
