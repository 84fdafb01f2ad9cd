/*
Package trap implements the kernel's trap dispatch and the timer-driven
scheduling policy: the global tick counter, per-process quantum aging
with level demotion, periodic priority boosting, and the forced exit
and preemptive yield applied after any trap to a killed or still
running process.

Only the tick-keeper CPU (cpu 0) advances the tick counter and ages
its running process; timer interrupts on other CPUs are acknowledged
but do no accounting. Device interrupts are delegated to registered
handlers; unrecognized traps from kernel mode are fatal, while those
from user mode merely mark the offending process killed.
*/
package trap
