package proc

import "runtime"

// Scheduler is the per-CPU scheduling loop; it never returns. Each
// iteration enables interrupts, takes the table lock and scans the
// arena once. Eligibility follows a strict precedence: a monopolized
// Runnable process is dispatched immediately through the exclusive
// path; otherwise levels 0 through 2 are served in order, each only
// while every higher level is empty, with table order approximating
// round robin inside a level; level 3 is served by greatest priority,
// ties broken by smallest pid.
func (t *Table) Scheduler(c *CPU) {
	c.proc = nil
	for {
		c.sti()

		idle := true
		t.lk.Acquire(c)
		for i := range t.procs {
			p := &t.procs[i]
			if p.State != Runnable {
				continue
			}
			switch {
			case p.Monopolize:
				t.dispatchMonopoly(c, p)
			case t.counts[0] > 0 && p.Level == 0:
				t.dispatch(c, p)
			case t.counts[0] == 0 && t.counts[1] > 0 && p.Level == 1:
				t.dispatch(c, p)
			case t.counts[0] == 0 && t.counts[1] == 0 && t.counts[2] > 0 && p.Level == 2:
				t.dispatch(c, p)
			case t.counts[0] == 0 && t.counts[1] == 0 && t.counts[2] == 0 &&
				t.counts[3] > 0 && p.Level == 3:
				t.dispatch(c, t.bestLevel3(p))
			default:
				continue
			}
			idle = false
		}
		t.lk.Release()

		if idle {
			// Nothing eligible anywhere; let other goroutines run
			// before rescanning.
			runtime.Gosched()
		}
	}
}

// bestLevel3 returns the Runnable, non-monopolized level-3 process with
// the greatest priority, breaking ties by smallest pid. The candidate
// seeds the scan.
func (t *Table) bestLevel3(candidate *Proc) *Proc {
	best := candidate
	for i := range t.procs {
		p := &t.procs[i]
		if p.State != Runnable || p.Level != 3 || p.Monopolize {
			continue
		}
		if p.Priority > best.Priority ||
			(p.Priority == best.Priority && p.PID < best.PID) {
			best = p
		}
	}
	return best
}

// dispatch hands the CPU to p: mark it Running (which removes its
// level eligibility), switch to its kernel continuation, and on return
// clear the current-process pointer. The process is responsible for
// changing its own state before switching back.
func (t *Table) dispatch(c *CPU, p *Proc) {
	c.proc = p
	p.cpu = c
	t.setState(p, Running)
	swtch(c.sched, p.ctx)
	c.proc = nil
}

// dispatchMonopoly is the exclusive path: a monopolized process is
// dispatched the moment it is found Runnable, bypassing level logic.
// When it switches back, its privilege is stripped, so exclusivity
// lasts exactly one dispatch cycle; regaining it requires a new
// SetMonopoly grant.
func (t *Table) dispatchMonopoly(c *CPU, p *Proc) {
	c.proc = p
	p.cpu = c
	t.setState(p, Running)
	swtch(c.sched, p.ctx)
	c.proc = nil
	if p.Monopolize {
		t.setMonopoly(p, false)
	}
}

// sched is the checked transition from a process's kernel thread back
// to its CPU's scheduler loop. The caller must hold the table lock and
// nothing else, have interrupts disabled, and have already moved the
// process out of Running. Violations are programming errors and panic.
// A Zombie hand-off is one-way: the kernel thread is destroyed.
func (t *Table) sched(c *CPU, p *Proc) {
	if !t.lk.holding(c) {
		panic("proc: sched table lock")
	}
	if c.ncli != 1 {
		panic("proc: sched locks")
	}
	if p.State == Running {
		panic("proc: sched running")
	}
	if c.intr {
		panic("proc: sched interruptible")
	}
	intena := c.intena
	if p.State == Zombie {
		c.sched.handoff()
		runtime.Goexit()
	}
	swtch(p.ctx, c.sched)
	// The process may resume on a different CPU than it left; intena
	// belongs to this kernel thread, not to the CPU it ran on.
	p.cpu.intena = intena
}

// Yield gives up the CPU for one scheduling round.
func (t *Table) Yield(c *CPU) {
	t.lk.Acquire(c)
	t.setState(c.proc, Runnable)
	t.sched(c, c.proc)
	t.lk.Release()
}

// Sleep blocks the process running on c on the given channel tag. The
// caller must hold lk; protection is transferred to the table lock
// before lk is released, so a concurrent Wakeup on the same channel
// cannot slip between the release and the state change. On resumption
// lk is reacquired before returning.
func (t *Table) Sleep(c *CPU, channel any, lk *Lock) {
	p := c.proc
	if p == nil {
		panic("proc: sleep without process")
	}
	if lk == nil {
		panic("proc: sleep without lock")
	}

	if lk != t.lk {
		t.lk.Acquire(c)
		lk.Release()
	}

	p.Chan = channel
	t.setState(p, Sleeping)
	t.sched(c, p)
	p.Chan = nil

	if lk != t.lk {
		t.lk.Release()
		// Reacquire on the CPU that resumed us, which need not be the
		// one we went to sleep on.
		lk.Acquire(p.cpu)
	}
}

// Wakeup makes every process sleeping on the exact channel tag
// Runnable.
func (t *Table) Wakeup(c *CPU, channel any) {
	t.lk.Acquire(c)
	t.wakeup1(channel)
	t.lk.Release()
}

// wakeup1 is Wakeup with the table lock already held.
func (t *Table) wakeup1(channel any) {
	for i := range t.procs {
		p := &t.procs[i]
		if p.State == Sleeping && p.Chan == channel {
			t.setState(p, Runnable)
		}
	}
}
