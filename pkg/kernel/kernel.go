package kernel

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"kernos/pkg/config"
	"kernos/pkg/mem"
	"kernos/pkg/proc"
	"kernos/pkg/trap"
)

// earlyPages is the number of frames seeded in the first, unlocked
// allocator phase, enough for boot-time allocation before the full
// range is mapped.
const earlyPages = 256

// Kernel is the booted system: allocator, process table, trap handler
// and CPUs, wired together from one Config.
type Kernel struct {
	Config *config.Config
	// BootID uniquely identifies this boot in logs and dumps.
	BootID string
	Alloc  *mem.Allocator
	VM     *PageVM
	Table  *proc.Table
	Trap   *trap.Handler
	CPUs   []*proc.CPU

	log      *slog.Logger
	earlyEnd mem.PA
	started  bool

	tickerStop chan struct{}
}

// Boot constructs the kernel in its single-threaded early phase: the
// allocator is seeded with the early page range only and left
// unlocked. Nothing runs until Start.
func Boot(cfg *config.Config) (*Kernel, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	bootID := uuid.NewString()
	log := newLogger(cfg.LogLevel, bootID)

	kernelEnd := mem.PA(cfg.KernelPages * mem.PageSize)
	physTop := mem.PA(cfg.PhysPages * mem.PageSize)
	alloc := mem.NewAllocator(cfg.PhysPages*mem.PageSize, kernelEnd)

	earlyEnd := kernelEnd + earlyPages*mem.PageSize
	if earlyEnd > physTop {
		earlyEnd = physTop
	}
	alloc.FreeRange(kernelEnd, earlyEnd)

	vm := NewPageVM(alloc)
	table := proc.NewTable(proc.Config{
		NProc:  cfg.NProc,
		VM:     vm,
		Alloc:  alloc,
		Secret: cfg.MonopolySecret,
		Logger: log,
	})
	handler := trap.NewHandler(table,
		trap.WithBoostInterval(cfg.BoostInterval),
		trap.WithLogger(log))

	cpus := make([]*proc.CPU, cfg.NCPU)
	for i := range cpus {
		cpus[i] = proc.NewCPU(i)
	}

	log.Info("kernel booted", "cpus", cfg.NCPU, "procs", cfg.NProc,
		"pages", cfg.PhysPages, "reserved", alloc.KernelEnd().FrameIndex())
	return &Kernel{
		Config:   cfg,
		BootID:   bootID,
		Alloc:    alloc,
		VM:       vm,
		Table:    table,
		Trap:     handler,
		CPUs:     cpus,
		log:      log,
		earlyEnd: earlyEnd,
	}, nil
}

// Start completes allocator initialization (remaining range plus
// locking), installs the first process and releases one scheduler
// goroutine per CPU. The scheduler loops never terminate.
func (k *Kernel) Start(initName string, init func(p *proc.Proc)) (*proc.Proc, error) {
	if k.started {
		panic("kernel: started twice")
	}
	k.started = true

	k.Alloc.FreeRange(k.earlyEnd, k.Alloc.PhysTop())
	k.Alloc.EnableLocking()

	p, err := k.Table.UserInit(initName, init)
	if err != nil {
		return nil, err
	}
	for _, c := range k.CPUs {
		go k.Table.Scheduler(c)
	}
	k.log.Info("schedulers started", "init", initName, "pid", p.PID)
	return p, nil
}

// Interrupt delivers a timer interrupt in the context of the process
// running on c. Process bodies call it at safe points; preemption and
// aging follow from it.
func (k *Kernel) Interrupt(c *proc.CPU) {
	k.Trap.Trap(c, &proc.TrapFrame{Trap: trap.IRQ0 + trap.IRQTimer, User: true})
}

// StartTicker delivers timer interrupts from a wall clock every d,
// through a dedicated tick-keeper context. Processes sleeping on the
// tick channel and interval boosts then advance without any process
// delivering interrupts itself; per-process aging still rides the
// interrupts processes take at their own safe points.
func (k *Kernel) StartTicker(d time.Duration) {
	if k.tickerStop != nil {
		panic("kernel: ticker already running")
	}
	k.tickerStop = make(chan struct{})
	stop := k.tickerStop
	keeper := proc.NewCPU(0)
	go func() {
		tick := time.NewTicker(d)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				k.Trap.Trap(keeper, &proc.TrapFrame{Trap: trap.IRQ0 + trap.IRQTimer})
			}
		}
	}()
}

// StopTicker halts the wall-clock tick source started by StartTicker.
func (k *Kernel) StopTicker() {
	if k.tickerStop != nil {
		close(k.tickerStop)
		k.tickerStop = nil
	}
}

// Dump writes the diagnostic process listing, headed by the boot id.
// Best-effort and lock-free, intended for the operator console.
func (k *Kernel) Dump(w io.Writer) {
	io.WriteString(w, "boot "+k.BootID+"\n")
	k.Table.Dump(w)
}

// newLogger builds the kernel's structured logger at the configured
// level, tagged with the boot id.
func newLogger(level, bootID string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler).With("boot", bootID[:8])
}
