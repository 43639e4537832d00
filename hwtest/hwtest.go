// Package hwtest provides in-memory fakes for the hw and vfile interfaces,
// for use in tests and in the vmstatd demo binary where no real page tables
// or disk controller are available. None of it is meant to be fast; it is
// meant to make the VM subsystem's logic exercisable without real hardware.
package hwtest

import (
	"errors"
	"io"
	"sync"
	"unsafe"

	"vmkern/hw"
	"vmkern/vfile"
)

var errClosed = errors.New("hwtest: file is closed")

// Allocator is a fixed-capacity hw.PhysAllocator backed by plain Go memory.
// Each allocated page is a real Go byte slice; the KVAddr handed out is the
// address of its backing array, so hw.KVAddr.Bytes() can view it exactly
// like a real direct-mapped physical page. The slice is kept referenced in
// pages for as long as it is allocated, so it is never collected out from
// under that address.
type Allocator struct {
	mu       sync.Mutex
	capacity int
	pages    map[hw.KVAddr][]byte
}

// NewAllocator returns an Allocator with room for capacity pages.
func NewAllocator(capacity int) *Allocator {
	return &Allocator{capacity: capacity, pages: make(map[hw.KVAddr][]byte, capacity)}
}

// AllocUserPage implements hw.PhysAllocator.
func (a *Allocator) AllocUserPage() (hw.KVAddr, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.pages) >= a.capacity {
		return 0, false
	}
	buf := make([]byte, hw.PageSize)
	kva := hw.KVAddr(uintptr(unsafe.Pointer(&buf[0])))
	a.pages[kva] = buf
	return kva, true
}

// FreeUserPage implements hw.PhysAllocator.
func (a *Allocator) FreeUserPage(kva hw.KVAddr) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.pages[kva]; !ok {
		panic("hwtest: free of an address not currently allocated")
	}
	delete(a.pages, kva)
}

// Cap reports total page capacity.
func (a *Allocator) Cap() int {
	return a.capacity
}

type mapping struct {
	kva      hw.KVAddr
	writable bool
	accessed bool
	dirty    bool
}

type mappingKey struct {
	pml4 hw.PML4
	va   hw.VAddr
}

// MMU is an hw.MMU fake tracking mappings, accessed bits and dirty bits in
// a plain map instead of real page table walks.
type MMU struct {
	mu sync.Mutex
	m  map[mappingKey]*mapping
}

// NewMMU returns an empty MMU fake.
func NewMMU() *MMU {
	return &MMU{m: make(map[mappingKey]*mapping)}
}

func (m *MMU) Map(pml4 hw.PML4, va hw.VAddr, kva hw.KVAddr, writable bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.m[mappingKey{pml4, va}] = &mapping{kva: kva, writable: writable}
	return true
}

func (m *MMU) Unmap(pml4 hw.PML4, va hw.VAddr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.m, mappingKey{pml4, va})
}

func (m *MMU) Accessed(pml4 hw.PML4, va hw.VAddr) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.m[mappingKey{pml4, va}]
	return ok && e.accessed
}

func (m *MMU) SetAccessed(pml4 hw.PML4, va hw.VAddr, b bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.m[mappingKey{pml4, va}]; ok {
		e.accessed = b
	}
}

func (m *MMU) Dirty(pml4 hw.PML4, va hw.VAddr) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.m[mappingKey{pml4, va}]
	return ok && e.dirty
}

func (m *MMU) SetDirty(pml4 hw.PML4, va hw.VAddr, b bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.m[mappingKey{pml4, va}]; ok {
		e.dirty = b
	}
}

// Touch marks va as accessed (and, if write is true, dirty), the way a real
// MMU would on the next instruction that references it. Tests use this to
// simulate activity the clock algorithm should observe.
func (m *MMU) Touch(pml4 hw.PML4, va hw.VAddr, write bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.m[mappingKey{pml4, va}]; ok {
		e.accessed = true
		if write {
			e.dirty = true
		}
	}
}

// Disk is an hw.SwapDisk fake backed by one in-memory byte slice per sector.
type Disk struct {
	mu      sync.Mutex
	sectors [][]byte
}

// NewDisk returns a Disk with the given sector capacity.
func NewDisk(nsectors int) *Disk {
	d := &Disk{sectors: make([][]byte, nsectors)}
	for i := range d.sectors {
		d.sectors[i] = make([]byte, hw.SectorSize)
	}
	return d
}

func (d *Disk) ReadSector(sector uint32, dst []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	copy(dst, d.sectors[sector])
	return nil
}

func (d *Disk) WriteSector(sector uint32, src []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	copy(d.sectors[sector], src)
	return nil
}

func (d *Disk) SizeSectors() uint32 {
	return uint32(len(d.sectors))
}

// fileBacking is the content shared by a File and every handle Reopen
// derives from it; only the closed flag is per-handle.
type fileBacking struct {
	mu   sync.Mutex
	data []byte
}

// File is an in-memory vfile.File fake. Reopen returns a new handle sharing
// the same backing content but with independent closed state, mirroring a
// real reopened file descriptor.
type File struct {
	backing *fileBacking
	closed  bool
}

// NewFile returns a File whose content is exactly data (copied).
func NewFile(data []byte) *File {
	buf := make([]byte, len(data))
	copy(buf, data)
	return &File{backing: &fileBacking{data: buf}}
}

func (f *File) Reopen() (vfile.File, error) {
	return &File{backing: f.backing}, nil
}

func (f *File) Length() (int64, error) {
	f.backing.mu.Lock()
	defer f.backing.mu.Unlock()
	return int64(len(f.backing.data)), nil
}

func (f *File) ReadAt(p []byte, off int64) (int, error) {
	f.backing.mu.Lock()
	defer f.backing.mu.Unlock()
	if f.closed {
		return 0, errClosed
	}
	if off >= int64(len(f.backing.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.backing.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *File) WriteAt(p []byte, off int64) (int, error) {
	f.backing.mu.Lock()
	defer f.backing.mu.Unlock()
	if f.closed {
		return 0, errClosed
	}
	need := off + int64(len(p))
	if need > int64(len(f.backing.data)) {
		grown := make([]byte, need)
		copy(grown, f.backing.data)
		f.backing.data = grown
	}
	return copy(f.backing.data[off:], p), nil
}

func (f *File) Close() error {
	f.closed = true
	return nil
}

// Snapshot returns a copy of the file's current content, for assertions.
func (f *File) Snapshot() []byte {
	f.backing.mu.Lock()
	defer f.backing.mu.Unlock()
	out := make([]byte, len(f.backing.data))
	copy(out, f.backing.data)
	return out
}

