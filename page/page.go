// Package page implements the tagged-union page record (component C): the
// UNINIT, ANON and FILE variants and the transmutation between them. A page
// implements frame.Owner directly, closing the page<->frame back-pointer the
// design notes call out, without frame importing page.
package page

import (
	"vmkern/frame"
	"vmkern/hw"
	"vmkern/swap"
	"vmkern/vfile"
)

// Kind identifies which variant a page currently is.
type Kind int

const (
	KindUninit Kind = iota
	KindAnon
	KindFile
)

func (k Kind) String() string {
	switch k {
	case KindUninit:
		return "uninit"
	case KindAnon:
		return "anon"
	case KindFile:
		return "file"
	default:
		return "unknown"
	}
}

// Marker carries auxiliary classification that isn't part of the variant tag
// itself, such as the stack-region flag the fault handler sets on each page
// it creates for stack growth. The fault handler's growth check itself looks
// at the faulting address and stack pointer, not at this flag.
type Marker uint8

const MarkerStack Marker = 1 << 0

// Initializer is the caller-supplied hook run once, after a page's variant
// shell and default content have been installed on first touch. It lets the
// allocator populate content beyond the variant's own default (zero for
// ANON, file contents for FILE).
type Initializer func(p *Page, aux any) bool

// FileTemplate is the aux an UNINIT page destined to become FILE carries: the
// file region do_mmap recorded at mapping time.
type FileTemplate struct {
	File      vfile.File
	Offset    int64
	ReadBytes int
	ZeroBytes int
}

// Operations is the per-variant vtable: Kind identifies the variant, and the
// other three implement the page lifecycle operations spec 4.C describes.
type Operations interface {
	Kind() Kind
	// SwapIn populates kva (a freshly claimed, currently unmapped frame)
	// with this page's content. Called both on first touch (transmuting
	// out of UNINIT first) and on re-fault after a prior swap-out.
	SwapIn(p *Page, kva hw.KVAddr) bool
	// SwapOut evacuates content to backing storage and clears the
	// hardware mapping. p.Frame is cleared by the callee on success.
	SwapOut(p *Page) bool
	// Destroy releases variant-specific resources (a swap slot, a file
	// handle). It never touches p.Frame; the caller is responsible for
	// releasing a resident frame before calling Destroy.
	Destroy(p *Page)
}

// Page is one entry of a supplemental page table: the record the fault
// handler consults to find out how to materialize a given virtual address.
type Page struct {
	Va       hw.VAddr
	Writable bool
	Marker   Marker
	Pml4     hw.PML4
	Frame    *frame.Frame

	mmu hw.MMU
	ops Operations

	// UNINIT payload.
	uninitTarget Kind
	uninitInit   Initializer
	uninitAux    any

	// ANON payload. anonSlot is -1 when the page has never been swapped
	// out (content is implicitly zero) or has just been swapped back in.
	anonSlot  int
	anonStore *swap.Store

	// FILE payload.
	fileFile      vfile.File
	fileOffset    int64
	fileReadBytes int
	fileZeroBytes int
	fileWritable  bool
}

// NewUninit constructs a page whose content is not yet materialized. target
// is the variant it becomes on first touch; init/aux are passed through to
// Initializer after that variant's default content is installed. store must
// be non-nil whenever target is KindAnon.
func NewUninit(va hw.VAddr, writable bool, pml4 hw.PML4, mmu hw.MMU, target Kind, store *swap.Store, init Initializer, aux any) *Page {
	return &Page{
		Va:           va,
		Writable:     writable,
		Pml4:         pml4,
		mmu:          mmu,
		ops:          uninitOps{},
		uninitTarget: target,
		uninitInit:   init,
		uninitAux:    aux,
		anonSlot:     -1,
		anonStore:    store,
	}
}

// VA, PML4 and SwapOut satisfy frame.Owner.
func (p *Page) VA() hw.VAddr  { return p.Va }
func (p *Page) PML4() hw.PML4 { return p.Pml4 }
func (p *Page) SwapOut() bool { return p.ops.SwapOut(p) }

// Kind reports the page's current variant.
func (p *Page) Kind() Kind { return p.ops.Kind() }

// IsStack reports whether this page belongs to a growable stack region.
func (p *Page) IsStack() bool { return p.Marker&MarkerStack != 0 }

// SwapIn materializes the page's content into kva, a frame the caller has
// already claimed but not yet linked to p. It does not install the hardware
// mapping; the caller does that once SwapIn succeeds, then links p.Frame.
func (p *Page) SwapIn(kva hw.KVAddr) bool {
	return p.ops.SwapIn(p, kva)
}

// Destroy releases the page's variant-specific resources. The caller must
// have already evacuated and released any resident frame.
func (p *Page) Destroy() {
	p.ops.Destroy(p)
}

// uninitOps is the UNINIT variant: SwapIn transmutes the page into its
// target variant, installs that variant's default content, and finally runs
// the caller's Initializer if one was supplied.
type uninitOps struct{}

func (uninitOps) Kind() Kind { return KindUninit }

func (uninitOps) SwapOut(p *Page) bool {
	panic("page: swap-out requested on a page that has never been touched")
}

// Destroy closes the file handle a never-touched FILE-targeted page was
// given in its template; an ANON-targeted page holds nothing yet.
func (uninitOps) Destroy(p *Page) {
	if p.uninitTarget != KindFile {
		return
	}
	if tmpl, ok := p.uninitAux.(*FileTemplate); ok && tmpl != nil && tmpl.File != nil {
		tmpl.File.Close()
		tmpl.File = nil
	}
}

func (uninitOps) SwapIn(p *Page, kva hw.KVAddr) bool {
	switch p.uninitTarget {
	case KindAnon:
		if p.anonStore == nil {
			panic("page: anon-targeted uninit page has no swap store")
		}
		p.ops = anonOps{}
		p.anonSlot = -1
	case KindFile:
		tmpl, ok := p.uninitAux.(*FileTemplate)
		if !ok || tmpl == nil {
			panic("page: file-targeted uninit page is missing its file template")
		}
		p.ops = fileOps{}
		p.fileFile = tmpl.File
		p.fileOffset = tmpl.Offset
		p.fileReadBytes = tmpl.ReadBytes
		p.fileZeroBytes = tmpl.ZeroBytes
		p.fileWritable = p.Writable
	default:
		panic("page: uninit page has no valid target variant")
	}

	if !p.ops.SwapIn(p, kva) {
		return false
	}
	if p.uninitInit != nil {
		return p.uninitInit(p, p.uninitAux)
	}
	return true
}
