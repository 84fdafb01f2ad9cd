package trap

import (
	"fmt"
	"log/slog"

	"kernos/pkg/proc"
)

// Trap numbers.
const (
	// Syscall is the system-call trap.
	Syscall = 64
	// IRQ0 is the base number external interrupts are mapped at.
	IRQ0 = 32
	// Device IRQ offsets from IRQ0.
	IRQTimer    = 0
	IRQKbd      = 1
	IRQCom1     = 4
	IRQIDE      = 14
	IRQSpurious = 31
)

// DefaultBoostInterval is the tick count at which a priority boost
// replaces ordinary accounting.
const DefaultBoostInterval = 100

// tickKeeper is the CPU that owns the tick counter and process aging.
const tickKeeper = 0

// DeviceHandler services one device interrupt.
type DeviceHandler func()

// SyscallHandler dispatches a system call for the process running on c.
// The dispatch table itself is external to this core.
type SyscallHandler func(c *proc.CPU, tf *proc.TrapFrame)

// Handler ties trap delivery to the process table.
type Handler struct {
	table *proc.Table

	// ticksLock guards the tick counter; sleepers on the tick channel
	// are woken under it every timer interrupt.
	ticksLock *proc.Lock
	ticks     uint64
	interval  uint64

	syscall SyscallHandler
	devices map[int]DeviceHandler
	log     *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithBoostInterval overrides the priority-boost interval.
func WithBoostInterval(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.interval = uint64(n)
		}
	}
}

// WithSyscall installs the system-call dispatcher.
func WithSyscall(fn SyscallHandler) Option {
	return func(h *Handler) { h.syscall = fn }
}

// WithLogger overrides the handler's logger.
func WithLogger(log *slog.Logger) Option {
	return func(h *Handler) { h.log = log }
}

// NewHandler creates a trap handler bound to the process table.
func NewHandler(table *proc.Table, opts ...Option) *Handler {
	h := &Handler{
		table:     table,
		ticksLock: proc.NewLock("time"),
		interval:  DefaultBoostInterval,
		devices:   make(map[int]DeviceHandler),
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterDevice installs a handler for the given IRQ offset.
func (h *Handler) RegisterDevice(irq int, fn DeviceHandler) {
	h.devices[irq] = fn
}

// TickChannel returns the sleep-channel tag woken on every timer tick.
func (h *Handler) TickChannel() any { return &h.ticks }

// Ticks returns the current value of the tick counter. The counter
// resets every boost interval.
func (h *Handler) Ticks(c *proc.CPU) uint64 {
	h.ticksLock.Acquire(c)
	defer h.ticksLock.Release()
	return h.ticks
}

// Trap handles one trap delivered to c. After the trap-specific work,
// a killed process that was executing in user mode is forced to exit,
// and a process still Running after a timer interrupt is preemptively
// yielded.
func (h *Handler) Trap(c *proc.CPU, tf *proc.TrapFrame) {
	// The trapping process is fixed for the whole trap; the CPU is not.
	// Any sleep or yield below may resume the process elsewhere and put
	// another process on c, so every later check goes through p and the
	// CPU it is actually on.
	p := c.Proc()

	if tf.Trap == Syscall {
		if p.Killed {
			h.table.Exit(c)
		}
		p.TF = tf
		if h.syscall != nil {
			h.syscall(c, tf)
		}
		if p.Killed {
			h.table.Exit(p.CPU())
		}
		return
	}

	switch tf.Trap {
	case IRQ0 + IRQTimer:
		if c.ID() == tickKeeper {
			h.timerTick(c)
		}
	case IRQ0 + IRQIDE, IRQ0 + IRQKbd, IRQ0 + IRQCom1:
		if dev := h.devices[tf.Trap-IRQ0]; dev != nil {
			dev()
		}
	case IRQ0 + 7, IRQ0 + IRQSpurious:
		h.log.Warn("spurious interrupt", "cpu", c.ID(), "pc", tf.PC)
	default:
		if p == nil || !tf.User {
			// In the kernel it must be our mistake.
			panic(fmt.Sprintf("trap: unexpected trap %d on cpu %d", tf.Trap, c.ID()))
		}
		// In user space, assume the process misbehaved.
		h.log.Error("user trap, killing process",
			"pid", p.PID, "name", p.Name, "trap", tf.Trap, "err", tf.Err, "cpu", c.ID())
		p.Killed = true
	}

	// Force exit if the process has been killed and is in user space;
	// a kill inside the kernel waits for the regular return path.
	if p != nil && p.Killed && tf.User {
		h.table.Exit(p.CPU())
	}

	// Force the process to give up the CPU on a clock tick.
	if p != nil && p.State == proc.Running && tf.Trap == IRQ0+IRQTimer {
		h.table.Yield(p.CPU())
	}

	// The kill flag may have been set while we were yielded.
	if p != nil && p.Killed && tf.User {
		h.table.Exit(p.CPU())
	}
}

// timerTick advances the global tick counter and performs per-process
// aging for whatever is Running on the tick-keeper CPU. When the
// counter reaches the boost interval it resets and a priority boost
// replaces the ordinary accounting for this tick.
func (h *Handler) timerTick(c *proc.CPU) {
	boost := false
	h.ticksLock.Acquire(c)
	h.ticks++
	if h.ticks == h.interval {
		h.ticks = 0
		boost = true
	}
	h.table.Wakeup(c, h.TickChannel())
	h.ticksLock.Release()

	if boost {
		h.table.PriorityBoost(c)
	} else {
		h.table.AgeRunning(c)
	}
}

// SleepTicks blocks the process running on c for n timer ticks by
// sleeping on the tick channel, which is woken once per tick. It
// returns early with true when the process is killed while waiting.
func (h *Handler) SleepTicks(c *proc.CPU, n int) (killed bool) {
	h.ticksLock.Acquire(c)
	for i := 0; i < n; i++ {
		if c.Proc().Killed {
			h.ticksLock.Release()
			return true
		}
		h.table.Sleep(c, h.TickChannel(), h.ticksLock)
	}
	h.ticksLock.Release()
	return false
}
