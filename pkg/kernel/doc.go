/*
Package kernel wires the pieces of the teaching kernel together: the
two-phase page-allocator bring-up, the process table with its VM
collaborator, the trap handler, and one scheduler goroutine per CPU.

Boot builds everything in the single-threaded early phase; Start seeds
the remaining physical memory, enables allocator locking, installs the
first process and releases the CPUs. Timer interrupts are delivered
cooperatively: process bodies call Interrupt at safe points, mirroring
a kernel that is preemptible only at well-defined locations. An
optional wall clock (StartTicker) additionally advances the tick
counter for tick-channel sleepers and periodic boosts.
*/
package kernel
