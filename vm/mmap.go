package vm

import (
	"context"

	"github.com/pkg/errors"

	"vmkern/hw"
	"vmkern/page"
	"vmkern/util"
	"vmkern/vfile"
)

// mmapping records one live memory-mapped region for munmap to find again
// by its starting address.
type mmapping struct {
	start hw.VAddr
	pages []hw.VAddr
}

// reservedFD reports whether fd names one of the console descriptors
// (stdin/stdout), which mmap must reject with a fatal exit rather than
// treating as an ordinary file.
func reservedFD(fd int) bool {
	return fd == 0 || fd == 1
}

// DoMmap maps length bytes of file, starting at offset, into s starting at
// addr. addr must be page-aligned, non-null and outside the kernel's
// address range; length must be positive and is rounded up to whole pages,
// the bytes past length in the last page being zero-filled; the region
// must not overlap any page
// already present in s; fd must not be a reserved console descriptor. Each
// page gets an independent reopened file handle so munmap and process
// teardown can release them one at a time without coordinating with their
// siblings.
func (s *Space) DoMmap(ctx context.Context, addr hw.VAddr, length int, writable bool, file vfile.File, fd int, offset int64) (hw.VAddr, error) {
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	if addr == 0 {
		return 0, errors.New("vm: mmap address must not be null")
	}
	if hw.IsKernelVAddr(addr) {
		return 0, errors.New("vm: mmap address must not be in the kernel's range")
	}
	if !hw.PageAligned(addr) {
		return 0, errors.New("vm: mmap address must be page-aligned")
	}
	if length <= 0 {
		return 0, errors.New("vm: mmap length must be positive")
	}
	if reservedFD(fd) {
		return 0, errors.Errorf("vm: mmap of reserved descriptor %d is fatal", fd)
	}
	flen, err := file.Length()
	if err != nil {
		return 0, errors.Wrap(err, "vm: mmap could not stat the file")
	}
	if flen == 0 {
		return 0, errors.New("vm: cannot mmap an empty file")
	}

	npages := util.DivRoundup(length, hw.PageSize)
	vas := make([]hw.VAddr, npages)
	for i := range vas {
		vas[i] = addr + hw.VAddr(i*hw.PageSize)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, va := range vas {
		if _, ok := s.spt.Find(va); ok {
			return 0, errors.Errorf("vm: mmap range overlaps an existing mapping at %#x", va)
		}
	}

	m := &mmapping{start: addr, pages: vas}
	remaining := int64(length)
	for i, va := range vas {
		reopened, err := file.Reopen()
		if err != nil {
			s.unwindMmapLocked(m, i)
			return 0, errors.Wrap(err, "vm: mmap could not reopen the backing file")
		}
		readBytes := int64(hw.PageSize)
		if remaining < readBytes {
			readBytes = remaining
		}
		if readBytes < 0 {
			readBytes = 0
		}
		tmpl := &page.FileTemplate{
			File:      reopened,
			Offset:    offset + int64(i*hw.PageSize),
			ReadBytes: int(readBytes),
			ZeroBytes: hw.PageSize - int(readBytes),
		}
		p := page.NewUninit(va, writable, s.pml4, s.k.mmu, page.KindFile, nil, nil, tmpl)
		if !s.spt.Insert(p) {
			reopened.Close()
			s.unwindMmapLocked(m, i)
			return 0, errors.Errorf("vm: mmap range overlaps an existing mapping at %#x", va)
		}
		remaining -= readBytes
	}

	s.mmaps = append(s.mmaps, m)
	return addr, nil
}

// unwindMmapLocked removes the first n pages of m already inserted, after a
// later page in the same mmap call failed.
func (s *Space) unwindMmapLocked(m *mmapping, n int) {
	for i := 0; i < n; i++ {
		if p, ok := s.spt.Find(m.pages[i]); ok {
			s.spt.Remove(m.pages[i])
			p.Destroy()
		}
	}
}

// DoMunmap unmaps the region previously returned by DoMmap at addr: each
// resident page is written back if dirty and writable, then its hardware
// mapping is cleared and its frame released; each page's file handle is
// closed regardless of residency. A second munmap of the same addr, or any
// addr with no live mapping, is a no-op (spec's idempotence requirement):
// no pages remain for addr, so there is nothing left to do.
func (s *Space) DoMunmap(ctx context.Context, addr hw.VAddr) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, m := range s.mmaps {
		if m.start == addr {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	m := s.mmaps[idx]

	for _, va := range m.pages {
		p, ok := s.spt.Find(va)
		if !ok {
			continue
		}
		if p.Frame != nil {
			f := p.Frame
			if !p.SwapOut() {
				return errors.Errorf("vm: munmap failed writing back page %#x", va)
			}
			s.k.pool.Unlink(f)
		}
		p.Destroy()
		s.spt.Remove(va)
	}

	s.mmaps = append(s.mmaps[:idx], s.mmaps[idx+1:]...)
	return nil
}
