package swap

import (
	"bytes"
	"testing"

	"vmkern/hw"
)

func newTestDisk(slots int) *fakeDisk {
	return &fakeDisk{sectors: make([][]byte, slots*hw.SectorsPerSlot)}
}

type fakeDisk struct {
	sectors [][]byte
}

func (d *fakeDisk) ReadSector(sector uint32, dst []byte) error {
	if d.sectors[sector] == nil {
		d.sectors[sector] = make([]byte, hw.SectorSize)
	}
	copy(dst, d.sectors[sector])
	return nil
}

func (d *fakeDisk) WriteSector(sector uint32, src []byte) error {
	buf := make([]byte, hw.SectorSize)
	copy(buf, src)
	d.sectors[sector] = buf
	return nil
}

func (d *fakeDisk) SizeSectors() uint32 {
	return uint32(len(d.sectors))
}

func TestAllocFreeRoundTrip(t *testing.T) {
	s := NewStore(newTestDisk(4))
	if s.Cap() != 4 {
		t.Fatalf("Cap() = %d, want 4", s.Cap())
	}

	idx, err := s.Alloc(0x1000)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	page := bytes.Repeat([]byte{0xAB}, hw.PageSize)
	if err := s.Write(idx, page); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got := make([]byte, hw.PageSize)
	if err := s.Read(idx, got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, page) {
		t.Fatalf("Read returned content that does not match what was Written")
	}

	s.Free(idx)
	allocs, frees, used, total := s.Stats()
	if allocs != 1 || frees != 1 || used != 0 || total != 4 {
		t.Fatalf("Stats() = %d,%d,%d,%d; want 1,1,0,4", allocs, frees, used, total)
	}
}

func TestAllocDiskFull(t *testing.T) {
	s := NewStore(newTestDisk(2))
	if _, err := s.Alloc(1); err != nil {
		t.Fatalf("Alloc 1: %v", err)
	}
	if _, err := s.Alloc(2); err != nil {
		t.Fatalf("Alloc 2: %v", err)
	}
	if _, err := s.Alloc(3); err != ErrDiskFull {
		t.Fatalf("Alloc on full disk = %v, want ErrDiskFull", err)
	}
}

func TestWriteWrongSizePanics(t *testing.T) {
	s := NewStore(newTestDisk(1))
	idx, _ := s.Alloc(0)

	defer func() {
		if recover() == nil {
			t.Fatalf("Write with a short buffer did not panic")
		}
	}()
	s.Write(idx, make([]byte, hw.PageSize-1))
}

func TestFreeThenAllocReusesSlot(t *testing.T) {
	s := NewStore(newTestDisk(1))
	idx1, _ := s.Alloc(1)
	s.Free(idx1)
	idx2, err := s.Alloc(2)
	if err != nil {
		t.Fatalf("Alloc after Free: %v", err)
	}
	if idx1 != idx2 {
		t.Fatalf("Alloc after Free returned a different slot: %d != %d", idx1, idx2)
	}
}
