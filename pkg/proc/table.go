package proc

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"kernos/pkg/mem"
)

// DefaultNProc is the process table capacity when none is configured.
const DefaultNProc = 64

// countMonopoly is the eligibility-count slot for monopolized processes.
const countMonopoly = NLevel

// Config carries the table's collaborators and policy parameters.
type Config struct {
	// NProc is the table capacity; DefaultNProc when zero.
	NProc int
	// VM builds, copies and tears down address spaces.
	VM VM
	// Alloc is the page allocator kernel stacks come from.
	Alloc *mem.Allocator
	// Root returns the root-directory handle for the first process.
	Root func() Inode
	// Secret is the shared secret SetMonopoly requires.
	Secret int64
	// FirstRun is called once, in process context, the first time any
	// process is scheduled. Initialization that must sleep goes here.
	FirstRun func()
	// Logger receives lifecycle events; slog.Default when nil.
	Logger *slog.Logger
}

// Table is the fixed-capacity registry of process control blocks. One
// coarse lock guards every slot mutation and the per-level eligibility
// counters.
type Table struct {
	lk    *Lock
	procs []Proc

	// counts[l] is the number of Runnable, non-monopolized processes
	// at level l; counts[countMonopoly] is the number of monopolized
	// processes. Maintained exclusively by the transition helpers.
	counts [NLevel + 1]int

	nextPID  int
	initSlot int

	vm     VM
	alloc  *mem.Allocator
	root   func() Inode
	secret int64
	log    *slog.Logger

	firstOnce sync.Once
	firstRun  func()
}

// NewTable creates an empty process table.
func NewTable(cfg Config) *Table {
	n := cfg.NProc
	if n <= 0 {
		n = DefaultNProc
	}
	t := &Table{
		lk:       NewLock("ptable"),
		procs:    make([]Proc, n),
		nextPID:  1,
		initSlot: noParent,
		vm:       cfg.VM,
		alloc:    cfg.Alloc,
		root:     cfg.Root,
		secret:   cfg.Secret,
		firstRun: cfg.FirstRun,
		log:      cfg.Logger,
	}
	if t.log == nil {
		t.log = slog.Default()
	}
	for i := range t.procs {
		t.procs[i].slot = i
		t.procs[i].Parent = noParent
	}
	return t
}

// Lock acquires the table lock on behalf of c, which may be nil outside
// CPU context. Exposed for collaborators that must serialize with the
// table, such as the timer path.
func (t *Table) Lock(c *CPU) { t.lk.Acquire(c) }

// Unlock releases the table lock.
func (t *Table) Unlock() { t.lk.Release() }

// NProc returns the table capacity.
func (t *Table) NProc() int { return len(t.procs) }

// Counts returns a snapshot of the eligibility-count table: one entry
// per level plus the monopolized count in the last slot.
func (t *Table) Counts() [NLevel + 1]int {
	t.lk.Acquire(nil)
	defer t.lk.Release()
	return t.counts
}

// Proc returns the PCB in the given arena slot.
func (t *Table) Proc(slot int) *Proc { return &t.procs[slot] }

// setState moves p to state s, keeping the eligibility counters exact.
// Caller holds the table lock.
func (t *Table) setState(p *Proc, s State) {
	if p.State == Runnable && !p.Monopolize {
		t.counts[p.Level]--
	}
	p.State = s
	if s == Runnable && !p.Monopolize {
		t.counts[p.Level]++
	}
}

// setLevel moves p to the given queue level, keeping the eligibility
// counters exact. Caller holds the table lock.
func (t *Table) setLevel(p *Proc, level int) {
	if p.State == Runnable && !p.Monopolize {
		t.counts[p.Level]--
		t.counts[level]++
	}
	p.Level = level
}

// setMonopoly flips p's exclusive-access flag, moving its eligibility
// between the level counters and the monopolized count. Caller holds
// the table lock.
func (t *Table) setMonopoly(p *Proc, on bool) {
	if on == p.Monopolize {
		return
	}
	if on {
		if p.State == Runnable {
			t.counts[p.Level]--
		}
		t.counts[countMonopoly]++
	} else {
		t.counts[countMonopoly]--
		if p.State == Runnable {
			t.counts[p.Level]++
		}
	}
	p.Monopolize = on
}

// allocProc claims an Unused slot, assigns the next pid, and prepares
// the slot to run: kernel stack, trap frame, and a fresh kernel-thread
// continuation parked at the fork-return entry point. Returns ErrNoProc
// when the table is full; a stack allocation failure rolls the slot
// back to Unused.
func (t *Table) allocProc(c *CPU) (*Proc, error) {
	t.lk.Acquire(c)
	var p *Proc
	for i := range t.procs {
		if t.procs[i].State == Unused {
			p = &t.procs[i]
			break
		}
	}
	if p == nil {
		t.lk.Release()
		return nil, ErrNoProc
	}
	t.setState(p, Embryo)
	p.PID = t.nextPID
	t.nextPID++
	t.lk.Release()

	ks, err := t.alloc.Alloc()
	if err != nil {
		t.lk.Acquire(c)
		p.PID = 0
		t.setState(p, Unused)
		t.lk.Release()
		return nil, err
	}
	p.KStack = ks
	p.TF = &TrapFrame{}
	p.Level = 0
	p.Tick = 0
	p.Priority = 0
	p.Monopolize = false
	p.ctx = newContext()
	go t.kthread(p)
	return p, nil
}

// kthread is the kernel-thread body of one process: it parks until the
// scheduler first dispatches the slot, runs the fork-return path and
// then the process body, and exits when the body returns.
func (t *Table) kthread(p *Proc) {
	if !p.ctx.park() {
		// Slot was rolled back before first dispatch.
		return
	}
	t.forkret(p)
	if p.Run != nil {
		p.Run(p)
	}
	t.Exit(p.cpu)
}

// forkret is the first thing a new process executes: the scheduler's
// table lock is still held across the hand-off and must be released
// here. The one-time hook runs initialization that needs process
// context.
func (t *Table) forkret(p *Proc) {
	t.lk.Release()
	t.firstOnce.Do(func() {
		if t.firstRun != nil {
			t.firstRun()
		}
	})
}

// UserInit installs the first process. Every abandoned child is later
// reparented to it, and it is forbidden from exiting.
func (t *Table) UserInit(name string, run func(*Proc)) (*Proc, error) {
	p, err := t.allocProc(nil)
	if err != nil {
		return nil, err
	}
	t.initSlot = p.slot
	space, err := t.vm.New()
	if err != nil {
		panic("proc: userinit: " + err.Error())
	}
	p.Space = space
	p.Size = mem.PageSize
	*p.TF = TrapFrame{User: true}
	p.SetName(name)
	if t.root != nil {
		p.CWD = t.root()
	}
	p.Run = run

	t.lk.Acquire(nil)
	t.setState(p, Runnable)
	t.lk.Release()
	return p, nil
}

// InitProc returns the designated root process, nil before UserInit.
func (t *Table) InitProc() *Proc {
	if t.initSlot == noParent {
		return nil
	}
	return &t.procs[t.initSlot]
}

// Fork creates a child of the process running on c: address space
// copied (copy-on-write, via the VM collaborator), trap frame copied
// with the child's return value forced to zero, open files and current
// directory duplicated. Returns the child pid; the child observes
// TF.RetVal == 0. A partially built child is rolled back on failure.
func (t *Table) Fork(c *CPU) (int, error) {
	cur := c.proc

	np, err := t.allocProc(c)
	if err != nil {
		return 0, err
	}

	space, err := t.vm.Copy(cur.Space, cur.Size)
	if err != nil {
		t.alloc.Free(np.KStack)
		np.KStack = 0
		np.ctx.abort()
		t.lk.Acquire(c)
		np.PID = 0
		t.setState(np, Unused)
		t.lk.Release()
		return 0, fmt.Errorf("fork: address-space copy: %w", err)
	}
	np.Space = space
	np.Size = cur.Size
	np.Parent = cur.slot
	*np.TF = *cur.TF
	np.TF.RetVal = 0

	for i, f := range cur.Files {
		if f != nil {
			np.Files[i] = f.Dup()
		}
	}
	if cur.CWD != nil {
		np.CWD = cur.CWD.Dup()
	}
	np.SetName(cur.Name)
	np.Run = cur.Run

	pid := np.PID
	t.lk.Acquire(c)
	t.setState(np, Runnable)
	t.lk.Release()
	return pid, nil
}

// GrowProc changes the running process's address-space extent by delta
// bytes through the VM collaborator.
func (t *Table) GrowProc(c *CPU, delta int) error {
	cur := c.proc
	sz, err := t.vm.Grow(cur.Space, cur.Size, delta)
	if err != nil {
		return err
	}
	cur.Size = sz
	return nil
}

// Exit terminates the process running on c and never returns: files and
// current directory are released, the parent is woken, children are
// reparented to the init process (waking init for any already-zombie
// child), and the process becomes a Zombie until its parent reaps it.
// The init process exiting is a fatal error.
func (t *Table) Exit(c *CPU) {
	cur := c.proc
	if cur.slot == t.initSlot {
		panic("proc: init exiting")
	}

	for i, f := range cur.Files {
		if f != nil {
			f.Close()
			cur.Files[i] = nil
		}
	}
	if cur.CWD != nil {
		cur.CWD.Put()
		cur.CWD = nil
	}

	t.lk.Acquire(c)

	// Parent might be sleeping in Wait.
	if cur.Parent != noParent {
		t.wakeup1(&t.procs[cur.Parent])
	}

	// Pass abandoned children to init.
	for i := range t.procs {
		p := &t.procs[i]
		if p.Parent == cur.slot {
			p.Parent = t.initSlot
			if p.State == Zombie {
				t.wakeup1(&t.procs[t.initSlot])
			}
		}
	}

	// A zombie must not linger in the monopolized count.
	if cur.Monopolize {
		t.setMonopoly(cur, false)
	}

	t.setState(cur, Zombie)
	t.log.Debug("proc exit", "pid", cur.PID, "name", cur.Name)
	t.sched(c, cur)
	panic("proc: zombie exit")
}

// Wait blocks until a child of the process running on c has exited,
// reaps it (kernel stack and address space released, slot cleared back
// to Unused) and returns its pid. It returns ErrNoChildren when the
// caller has no children; a pending kill also unblocks it with
// ErrNoChildren. The scan restarts after every wakeup because multiple
// children may race.
func (t *Table) Wait(c *CPU) (int, error) {
	cur := c.proc
	t.lk.Acquire(c)
	for {
		havekids := false
		for i := range t.procs {
			p := &t.procs[i]
			if p.Parent != cur.slot {
				continue
			}
			havekids = true
			if p.State != Zombie {
				continue
			}
			pid := p.PID
			t.alloc.Free(p.KStack)
			p.KStack = 0
			if p.Space != nil {
				t.vm.Free(p.Space)
				p.Space = nil
			}
			p.PID = 0
			p.Parent = noParent
			p.Name = ""
			p.Killed = false
			p.Chan = nil
			p.Run = nil
			p.TF = nil
			p.ctx = nil
			p.cpu = nil
			p.Size = 0
			p.Level = 0
			p.Tick = 0
			p.Priority = 0
			t.setState(p, Unused)
			t.lk.Release()
			return pid, nil
		}

		if !havekids || cur.Killed {
			t.lk.Release()
			return 0, ErrNoChildren
		}

		// Wait for a child to exit; Exit wakes us on our own PCB.
		t.Sleep(c, cur, t.lk)
	}
}

// Kill marks the process with the given pid for termination. A sleeping
// target is made Runnable so it can observe the flag; actual
// termination happens the next time the target crosses a kill
// checkpoint.
func (t *Table) Kill(pid int) error {
	t.lk.Acquire(nil)
	for i := range t.procs {
		p := &t.procs[i]
		if p.State == Unused || p.PID != pid {
			continue
		}
		p.Killed = true
		if p.State == Sleeping {
			t.setState(p, Runnable)
		}
		t.lk.Release()
		t.log.Info("proc killed", "pid", pid)
		return nil
	}
	t.lk.Release()
	return ErrNoSuchProcess
}

// SetPriority sets the level-3 sub-queue priority of the process with
// the given pid.
func (t *Table) SetPriority(pid, priority int) error {
	if priority < 0 || priority > MaxPriority {
		return ErrPriorityRange
	}
	t.lk.Acquire(nil)
	defer t.lk.Release()
	for i := range t.procs {
		p := &t.procs[i]
		if p.State != Unused && p.PID == pid {
			p.Priority = priority
			return nil
		}
	}
	return ErrNoSuchProcess
}

// SetMonopoly grants exclusive-access privilege to the process with the
// given pid, provided the secret matches. The caller may not target
// itself, and a process may not be monopolized twice. On success the
// target's eligibility moves from its level counter to the monopolized
// count, and the number of currently monopolized processes is returned.
func (t *Table) SetMonopoly(caller *Proc, pid int, secret int64) (int, error) {
	t.lk.Acquire(nil)
	defer t.lk.Release()

	if caller != nil && caller.PID == pid {
		return 0, ErrSelfMonopoly
	}
	for i := range t.procs {
		p := &t.procs[i]
		if p.State == Unused || p.PID != pid {
			continue
		}
		if secret != t.secret {
			return 0, ErrWrongSecret
		}
		if p.Monopolize {
			return 0, ErrAlreadyMonopolized
		}
		t.setMonopoly(p, true)
		return t.counts[countMonopoly], nil
	}
	return 0, ErrNoSuchProcess
}

// Unmonopolize strips p's exclusive-access privilege, restoring its
// eligibility at its current level. The scheduler calls it after every
// exclusive dispatch cycle, so monopolization grants exactly one such
// cycle per Runnable transition.
func (t *Table) Unmonopolize(p *Proc) {
	t.lk.Acquire(nil)
	defer t.lk.Release()
	if p.Monopolize {
		t.setMonopoly(p, false)
	}
}

// GetLev reports the queue level of p: the level itself for ordinary
// processes, MonopolyLevel while monopolized, NoProcessLevel when
// called outside process context.
func (t *Table) GetLev(p *Proc) int {
	if p == nil {
		return NoProcessLevel
	}
	if p.Monopolize {
		return MonopolyLevel
	}
	return p.Level
}

// PriorityBoost resets every process to level 0 with a zero tick count
// and recomputes the affected eligibility counters. Priority values are
// deliberately left untouched: boosting moves queues, not sub-queue
// order.
func (t *Table) PriorityBoost(c *CPU) {
	t.lk.Acquire(c)
	for i := range t.procs {
		p := &t.procs[i]
		t.setLevel(p, 0)
		p.Tick = 0
	}
	t.lk.Release()
	t.log.Debug("priority boost")
}

// AgeRunning performs per-process quantum accounting for the process
// RUNNING on c, if any. A monopolized process is not aged; its tick
// counter is pinned at zero. Otherwise the tick counter advances, and
// on reaching the level quantum the demotion rule applies: level 0
// splits by pid parity (odd to level 1, even to level 2), levels 1 and
// 2 sink to level 3, and at level 3 the priority decays toward zero.
func (t *Table) AgeRunning(c *CPU) {
	t.lk.Acquire(c)
	defer t.lk.Release()

	p := c.proc
	if p == nil || p.State != Running {
		return
	}
	if p.Monopolize {
		p.Tick = 0
		return
	}
	p.Tick++
	if p.Tick < Quantum(p.Level) {
		return
	}
	p.Tick = 0
	switch p.Level {
	case 0:
		if p.PID%2 == 1 {
			t.setLevel(p, 1)
		} else {
			t.setLevel(p, 2)
		}
	case 1, 2:
		t.setLevel(p, 3)
	case 3:
		if p.Priority > 0 {
			p.Priority--
		}
	}
}

// Dump writes a process listing for the debug console: pid, state,
// level and name per live slot, plus the sleep channel for sleeping
// processes. It takes no lock on purpose, so a wedged machine can still
// be inspected; the output is best-effort.
func (t *Table) Dump(w io.Writer) {
	for i := range t.procs {
		p := &t.procs[i]
		if p.State == Unused {
			continue
		}
		fmt.Fprintf(w, "%d %s L%d %s", p.PID, p.State, p.Level, p.Name)
		if p.State == Sleeping {
			fmt.Fprintf(w, " chan=%v", p.Chan)
		}
		fmt.Fprintln(w)
	}
}
