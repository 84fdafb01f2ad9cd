package proc

import "kernos/pkg/mem"

// State is the lifecycle state of a process slot.
type State int

const (
	// Unused marks a free table slot.
	Unused State = iota
	// Embryo marks a slot claimed by allocation but not yet runnable.
	Embryo
	// Sleeping marks a process blocked on a sleep channel.
	Sleeping
	// Runnable marks a process eligible for dispatch.
	Runnable
	// Running marks the process currently executing on exactly one CPU.
	Running
	// Zombie marks an exited process awaiting reaping by its parent.
	Zombie
)

// String returns the short state label used by the table dump.
func (s State) String() string {
	switch s {
	case Unused:
		return "unused"
	case Embryo:
		return "embryo"
	case Sleeping:
		return "sleep"
	case Runnable:
		return "runble"
	case Running:
		return "run"
	case Zombie:
		return "zombie"
	default:
		return "???"
	}
}

// Scheduling policy constants.
const (
	// NLevel is the number of feedback-queue levels.
	NLevel = 4
	// MaxPriority is the greatest level-3 sub-queue priority.
	MaxPriority = 10
	// MonopolyLevel is the GetLev sentinel for monopolized processes.
	MonopolyLevel = 99
	// NoProcessLevel is the GetLev sentinel outside process context.
	NoProcessLevel = -1
	// NoFile is the per-process open-file table size.
	NoFile = 16
	// NameLen is the maximum diagnostic name length in bytes.
	NameLen = 15
	// noParent marks a PCB with no parent slot.
	noParent = -1
)

// Quantum returns the number of timer ticks a process may accumulate
// at the given level before the demotion rule applies.
func Quantum(level int) int { return 2*level + 2 }

// Proc is one process control block. All mutable fields are guarded by
// the table lock; the sole exceptions are Tick and Priority, which are
// only ever touched by the timer path for the process RUNNING on the
// tick-keeper CPU, itself serialized by the table lock.
type Proc struct {
	// PID is the unique, monotonically assigned process identifier.
	PID int
	// State is the current lifecycle state.
	State State
	// Size is the address-space extent in bytes. It is mutated only by
	// the owning process, or by its parent during fork.
	Size int
	// Level is the current feedback-queue level, 0 through 3.
	Level int
	// Tick counts timer ticks accumulated at the current level since
	// the last reset.
	Tick int
	// Priority orders the level-3 sub-queue; it is meaningless at
	// levels 0-2. Greater means sooner.
	Priority int
	// Monopolize grants level-bypassing exclusive dispatch while set.
	Monopolize bool
	// Killed is the advisory pending-termination flag.
	Killed bool
	// Parent is the slot index of the parent PCB, noParent for none.
	// It is a weak back-reference used for reparenting, never freed
	// through.
	Parent int
	// Chan is the opaque sleep-channel tag, valid only while Sleeping.
	Chan any
	// KStack is the kernel execution stack page.
	KStack mem.PA
	// TF is the saved trap frame.
	TF *TrapFrame
	// Files is the per-process open-file table.
	Files [NoFile]File
	// CWD is the current-directory handle.
	CWD Inode
	// Space is the opaque address-space root owned by the process.
	Space any
	// Name is a fixed-length diagnostic label.
	Name string

	// Run is the kernel-thread body executed once the process is first
	// scheduled. A forked child inherits the parent's body and observes
	// TF.RetVal == 0.
	Run func(p *Proc)

	// slot is this PCB's stable index in the table arena.
	slot int
	// ctx is the saved kernel continuation.
	ctx *Context
	// cpu is the CPU currently or most recently running this process.
	cpu *CPU
}

// Slot returns the PCB's stable index in the table arena.
func (p *Proc) Slot() int { return p.slot }

// CPU returns the CPU the process is currently dispatched on. It is
// only meaningful while the process is Running.
func (p *Proc) CPU() *CPU { return p.cpu }

// SetName stores the diagnostic label, truncated to NameLen bytes.
func (p *Proc) SetName(name string) {
	if len(name) > NameLen {
		name = name[:NameLen]
	}
	p.Name = name
}
