// Package hw declares the hardware- and OS-collaborator interfaces the VM
// subsystem is built against: the physical frame allocator, the MMU, and the
// swap disk. None of them are implemented here — concrete implementations
// (real page tables, a real disk controller) live outside this module, and
// tests use the fakes in hwtest.
package hw

import "unsafe"

// PageShift is the base-2 exponent of the page size.
const PageShift = 12

// PageSize is the size of a page in bytes (4 KiB).
const PageSize = 1 << PageShift

// PageOffset masks the in-page offset out of an address.
const PageOffset = PageSize - 1

// SectorSize is the size of a single disk sector in bytes.
const SectorSize = 512

// SectorsPerSlot is the number of disk sectors that make up one swap slot,
// i.e. one page: DISK_SECTOR_SIZE * SectorsPerSlot == PageSize.
const SectorsPerSlot = PageSize / SectorSize

// VAddr is a page-alignable user virtual address.
type VAddr uintptr

// Hash satisfies chainhash.Key so VAddr can key a supplemental page table.
func (v VAddr) Hash() uint32 {
	x := uint64(v)
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	x = x ^ (x >> 31)
	return uint32(x) ^ uint32(x>>32)
}

// PageRounddown aligns va down to the start of its page.
func PageRounddown(va VAddr) VAddr {
	return va &^ VAddr(PageOffset)
}

// PageAligned reports whether va has no in-page offset.
func PageAligned(va VAddr) bool {
	return va&VAddr(PageOffset) == 0
}

// KernBase is the lowest virtual address reserved for the kernel, mirroring
// Pintos's KERN_BASE split of the address space. A user fault, mmap, or
// munmap address at or above it is rejected outright.
const KernBase VAddr = 0x8004000000

// IsKernelVAddr reports whether va falls in the kernel's half of the
// address space, the Go equivalent of is_kernel_vaddr.
func IsKernelVAddr(va VAddr) bool {
	return va >= KernBase
}

// KVAddr is a kernel-visible address of a physical frame, i.e. the address
// the VM layer can memcpy through once a frame is claimed.
type KVAddr uintptr

// Bytes views the page at k as a byte slice, the way mem.Pg2bytes exposes a
// direct-mapped physical page for copying. The slice is only valid for as
// long as the frame is owned by the caller.
func (k KVAddr) Bytes() []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(k))), PageSize)
}

// PML4 opaquely identifies one process's top-level page table; the VM layer
// never looks inside it, only passes it to MMU operations.
type PML4 uintptr

// PhysAllocator hands out and reclaims physical frames from the user pool.
// It is the "physical-frame allocator", explicitly out of scope for this
// module's core: frame.Pool wraps it to add VM-level residency tracking and
// eviction.
type PhysAllocator interface {
	// AllocUserPage returns a zeroed page from the user pool, or false if
	// the pool is exhausted.
	AllocUserPage() (KVAddr, bool)
	// FreeUserPage returns a page to the pool.
	FreeUserPage(KVAddr)
}

// MMU abstracts hardware page-table manipulation.
type MMU interface {
	// Map installs va -> kva in pml4 with the given writability. It
	// returns false if the mapping could not be installed (e.g. no
	// memory for an intermediate page-table level).
	Map(pml4 PML4, va VAddr, kva KVAddr, writable bool) bool
	// Unmap clears any mapping for va in pml4. A no-op if none exists.
	Unmap(pml4 PML4, va VAddr)
	// Accessed reports and SetAccessed sets the hardware accessed bit,
	// used by the clock eviction algorithm.
	Accessed(pml4 PML4, va VAddr) bool
	SetAccessed(pml4 PML4, va VAddr, b bool)
	// Dirty reports and SetDirty sets the hardware dirty bit, used by
	// file-backed swap-out to decide whether a writeback is needed.
	Dirty(pml4 PML4, va VAddr) bool
	SetDirty(pml4 PML4, va VAddr, b bool)
}

// SwapDisk abstracts the block device backing the swap area. One slot is
// exactly SectorsPerSlot sectors; Store.Read/Store.Write in package swap issue
// SectorsPerSlot sequential sector operations per call.
type SwapDisk interface {
	ReadSector(sector uint32, dst []byte) error
	WriteSector(sector uint32, src []byte) error
	// SizeSectors reports the disk's total capacity in sectors.
	SizeSectors() uint32
}
