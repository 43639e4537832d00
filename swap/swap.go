// Package swap implements the fixed-size pool of on-disk slots that back
// non-resident anonymous pages (component B). Slots are keyed purely by
// index — the design notes call out the original's va-keyed slot lookup as
// nonsensical for free slots, so here allocation is an array/bitmap scan by
// index and lookup is O(1).
package swap

import (
	"sync"

	"github.com/pkg/errors"

	"vmkern/hw"
)

// ErrDiskFull is returned by Alloc when every slot is in use. Per spec this
// is fatal for the caller (the anonymous page variant panics on it); Store
// itself just reports the condition.
var ErrDiskFull = errors.New("swap: disk is full")

// Slot is one page-sized region of the swap disk.
type Slot struct {
	Index int
	used  bool
	owner hw.VAddr // for diagnostics only; not load-bearing
}

// Store is the swap slot pool, initialized once at subsystem boot from the
// swap disk's capacity and persisting for the life of the process (slot
// state itself is in-memory only and does not survive a restart).
type Store struct {
	mu    sync.Mutex
	disk  hw.SwapDisk
	slots []Slot

	allocs uint64
	frees  uint64
}

// NewStore partitions disk into floor(sectors / SectorsPerSlot) slots, all
// initially free.
func NewStore(disk hw.SwapDisk) *Store {
	n := disk.SizeSectors() / hw.SectorsPerSlot
	slots := make([]Slot, n)
	for i := range slots {
		slots[i].Index = i
	}
	return &Store{disk: disk, slots: slots}
}

// Cap reports the total number of slots.
func (s *Store) Cap() int {
	return len(s.slots)
}

// Alloc finds and marks the first free slot. It fails only when the disk is
// full.
func (s *Store) Alloc(owner hw.VAddr) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.slots {
		if !s.slots[i].used {
			s.slots[i].used = true
			s.slots[i].owner = owner
			s.allocs++
			return i, nil
		}
	}
	return -1, ErrDiskFull
}

// Free marks idx free and clears its owner.
func (s *Store) Free(idx int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mustSlotLocked(idx).used = false
	s.slots[idx].owner = 0
	s.frees++
}

// Read transfers the SectorsPerSlot sectors of slot idx into dst, which must
// be exactly one page long.
func (s *Store) Read(idx int, dst []byte) error {
	if len(dst) != hw.PageSize {
		panic("swap: Read destination must be exactly one page")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mustSlotLocked(idx)
	base := uint32(idx) * hw.SectorsPerSlot
	for i := 0; i < hw.SectorsPerSlot; i++ {
		lo, hi := i*hw.SectorSize, (i+1)*hw.SectorSize
		if err := s.disk.ReadSector(base+uint32(i), dst[lo:hi]); err != nil {
			return errors.Wrapf(err, "swap: read slot %d sector %d", idx, i)
		}
	}
	return nil
}

// Write transfers src, which must be exactly one page long, into the
// SectorsPerSlot sectors of slot idx.
func (s *Store) Write(idx int, src []byte) error {
	if len(src) != hw.PageSize {
		panic("swap: Write source must be exactly one page")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mustSlotLocked(idx)
	base := uint32(idx) * hw.SectorsPerSlot
	for i := 0; i < hw.SectorsPerSlot; i++ {
		lo, hi := i*hw.SectorSize, (i+1)*hw.SectorSize
		if err := s.disk.WriteSector(base+uint32(i), src[lo:hi]); err != nil {
			return errors.Wrapf(err, "swap: write slot %d sector %d", idx, i)
		}
	}
	return nil
}

func (s *Store) mustSlotLocked(idx int) *Slot {
	if idx < 0 || idx >= len(s.slots) {
		panic("swap: slot index out of range")
	}
	return &s.slots[idx]
}

// Stats returns cumulative allocation/free counts and current occupancy, for
// the metrics package.
func (s *Store) Stats() (allocs, frees uint64, used, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sl := range s.slots {
		if sl.used {
			used++
		}
	}
	return s.allocs, s.frees, used, len(s.slots)
}
