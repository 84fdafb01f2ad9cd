/*
Package mem implements the physical page allocator backing process memory.

Physical memory is modeled as a contiguous byte slab divided into
fixed-size 4096-byte frames. The allocator keeps a free list of frame
addresses and a per-frame reference count. A frame with a positive
reference count is never on the free list; freeing a frame decrements
its count and only recycles the frame once the count reaches zero.
This is the contract copy-on-write sharing is built on: multiple
address spaces may hold the same frame, each owning one reference, and
the sharing is torn down one reference at a time.

Initialization happens in two phases. Frames handed over before
EnableLocking is called are seeded without taking the allocator lock;
that phase is for single-threaded boot only. Once EnableLocking has
been called every operation is serialized by the allocator lock,
including the reference-count surface (IncRef, DecRef, RefCount), so
no lock ordering between counts and the free list can go wrong.

Recycled frames are overwritten with a junk fill pattern to catch
dangling references early.
*/
package mem
