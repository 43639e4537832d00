// Package vm assembles the frame pool, swap store and per-process
// supplemental page tables into the subsystem's fault-handling, mmap and
// fork entry points (component E/F). Lock ordering throughout this package
// and its collaborators is fixed: a Space's own lock, then whatever lock
// swap.Store or frame.Pool take internally. It is never acquired in the
// opposite order. The package holds no filesystem lock of its own; file I/O
// relies on vfile.File implementations serializing their own access.
package vm

import (
	"github.com/pkg/errors"

	"vmkern/frame"
	"vmkern/hw"
	"vmkern/swap"
)

// defaultMaxStackBytes bounds how far a stack may grow downward from its
// initial top, mirroring the fixed stack ceiling of the teaching kernel
// this subsystem was modeled on.
const defaultMaxStackBytes = 8 << 20

// Config supplies the hardware collaborators a Kernel is built from.
type Config struct {
	Alloc hw.PhysAllocator
	MMU   hw.MMU
	Disk  hw.SwapDisk

	// MaxStackBytes bounds downward stack growth. Zero selects
	// defaultMaxStackBytes.
	MaxStackBytes int
}

// Kernel owns the process-wide resources shared by every Space: the frame
// pool and the swap store. It holds no global filesystem lock: mmap, munmap
// and file-backed swap-in/out call the vfile.File directly, under the
// Space's lock (and, inside frame.Pool.Claim, the pool's lock).
type Kernel struct {
	mmu  hw.MMU
	pool *frame.Pool
	swap *swap.Store

	maxStackBytes int
}

// Init validates cfg and constructs a Kernel. It is the module's entry
// point; everything else hangs off the returned Kernel.
func Init(cfg Config) (*Kernel, error) {
	if cfg.Alloc == nil {
		return nil, errors.New("vm: Config.Alloc is required")
	}
	if cfg.MMU == nil {
		return nil, errors.New("vm: Config.MMU is required")
	}
	if cfg.Disk == nil {
		return nil, errors.New("vm: Config.Disk is required")
	}
	maxStack := cfg.MaxStackBytes
	if maxStack <= 0 {
		maxStack = defaultMaxStackBytes
	}
	return &Kernel{
		mmu:           cfg.MMU,
		pool:          frame.NewPool(cfg.Alloc, cfg.MMU),
		swap:          swap.NewStore(cfg.Disk),
		maxStackBytes: maxStack,
	}, nil
}

// FramePool exposes the Kernel's frame pool to collaborators outside this
// package that only need its residency counters or clock-ring state (the
// diag package's pprof snapshot), without reaching into Space internals.
func (k *Kernel) FramePool() *frame.Pool {
	return k.pool
}

// Stats reports cumulative frame and swap counters, for the metrics
// package.
func (k *Kernel) Stats() (acquisitions, evictions, swapAllocs, swapFrees uint64, swapUsed, swapTotal int) {
	acquisitions, evictions = k.pool.Stats()
	swapAllocs, swapFrees, swapUsed, swapTotal = k.swap.Stats()
	return
}
