/*
Package proc implements the process table and the CPU scheduler of the
kernel: process lifecycle (allocation, fork, exit, wait, kill), the
four-level feedback-queue scheduling policy with a priority sub-queue
at the bottom level and an exclusive-access ("monopolize") mode, and
the sleep/wakeup rendezvous used to block and resume processes without
missed wakeups.

# Process table

Processes live in a fixed-size arena of slots guarded by one coarse
table lock. Every PCB state transition and every mutation of the
per-level eligibility counters happens while holding that lock. The
counters (one per queue level plus one for monopolized processes) are
an optimization letting the scheduler decide level eligibility without
a full table scan; they are maintained by a small set of transition
helpers so that they always equal the true count of RUNNABLE,
non-monopolized processes at each level.

# Scheduling

Each CPU runs an infinite Scheduler loop scanning the table under the
table lock. Dispatch precedence is: monopolized processes first
(bypassing level logic for exactly one run cycle), then levels 0-2 in
order with round-robin within a level, then the level-3 sub-queue by
greatest priority with ties broken by smallest pid. The hand-off
between the scheduler and a process's kernel thread is an explicit
cooperative context switch gated by checked invariants: table lock
held exactly once, interrupts disabled, process not marked RUNNING.
Violations panic; they are programming errors, not runtime conditions.

# Collaborators

Address-space construction, file descriptors and directory inodes are
external concerns. The table talks to them through the VM, File and
Inode interfaces and owns nothing about their internals.
*/
package proc
