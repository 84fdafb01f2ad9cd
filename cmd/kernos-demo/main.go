package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"kernos/pkg/config"
	"kernos/pkg/kernel"
	"kernos/pkg/proc"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML kernel config")
	flag.Parse()

	fmt.Println("=== kernos Scheduling Demo ===")

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		cfg = loaded
	}

	k, err := kernel.Boot(cfg)
	if err != nil {
		log.Fatalf("boot: %v", err)
	}

	done := make(chan struct{})

	_, err = k.Start("init", func(p *proc.Proc) {
		if p != k.Table.InitProc() {
			// Forked child: burn through a few quanta, then exit.
			childWork(k, p)
			return
		}
		runInit(k, p, done)
	})
	if err != nil {
		log.Fatalf("start: %v", err)
	}

	// Wall-clock ticks drive boosts and tick-channel sleepers while the
	// workload runs.
	k.StartTicker(time.Millisecond)
	defer k.StopTicker()

	<-done
	fmt.Println("\n--- Final Process Table ---")
	k.Dump(os.Stdout)
}

// runInit is the first process: it forks a small workload, drives the
// administrative operations, reaps its children and reports.
func runInit(k *kernel.Kernel, p *proc.Proc, done chan<- struct{}) {
	fmt.Println("\n--- Forking Workload ---")
	var pids []int
	for i := 0; i < 3; i++ {
		pid, err := k.Table.Fork(p.CPU())
		if err != nil {
			log.Fatalf("fork: %v", err)
		}
		fmt.Printf("forked child pid=%d\n", pid)
		pids = append(pids, pid)
	}

	fmt.Println("\n--- Administrative Operations ---")
	if err := k.Table.SetPriority(pids[0], 7); err != nil {
		log.Fatalf("setpriority: %v", err)
	}
	fmt.Printf("pid %d priority set to 7\n", pids[0])

	if _, err := k.Table.SetMonopoly(p, pids[1], 42); err != nil {
		fmt.Printf("setmonopoly with wrong secret rejected: %v\n", err)
	}
	n, err := k.Table.SetMonopoly(p, pids[1], k.Config.MonopolySecret)
	if err != nil {
		log.Fatalf("setmonopoly: %v", err)
	}
	fmt.Printf("pid %d monopolized (%d monopolized total)\n", pids[1], n)
	fmt.Printf("init runs at level %d\n", k.Table.GetLev(p))

	fmt.Println("\n--- Reaping ---")
	for range pids {
		pid, err := k.Table.Wait(p.CPU())
		if err != nil {
			log.Fatalf("wait: %v", err)
		}
		fmt.Printf("reaped child pid=%d\n", pid)
	}
	fmt.Printf("free pages after reaping: %d\n", k.Alloc.FreePages())

	close(done)

	// Init must never exit; park it on a channel nobody wakes.
	lk := proc.NewLock("initpark")
	lk.Acquire(p.CPU())
	k.Table.Sleep(p.CPU(), &done, lk)
}

// childWork accumulates ticks at descending queue levels until it has
// seen a handful of demotions, calling the timer at its safe points.
func childWork(k *kernel.Kernel, p *proc.Proc) {
	for i := 0; i < 12; i++ {
		k.Interrupt(p.CPU())
	}
	k.Trap.SleepTicks(p.CPU(), 2)
	fmt.Printf("child pid=%d exiting at level %d\n", p.PID, k.Table.GetLev(p))
}
