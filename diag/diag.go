// Package diag builds a diagnostic snapshot of frame residency as a
// github.com/google/pprof profile, so the same pprof tooling used for CPU
// and heap profiles can visualize which virtual addresses are pinned in
// physical memory. Eviction is reported only as the pool-wide total, not
// per address.
package diag

import (
	"io"
	"strconv"

	"github.com/google/pprof/profile"

	"vmkern/frame"
	"vmkern/hw"
)

// Snapshot captures one address space's current frame occupancy for
// profile rendering: one sample of value 1 per resident page, plus the
// pool's cumulative acquisition and eviction counts, which Profile records
// as profile comments.
type Snapshot struct {
	ResidentPages []hw.VAddr
	Acquisitions  uint64
	Evictions     uint64
}

// Collect gathers a Snapshot from pool for the given resident pages (the
// caller walks its own supplemental page table to find them; diag has no
// SPT dependency of its own, to avoid tying diagnostics to any one space's
// lock).
func Collect(pool *frame.Pool, residentPages []hw.VAddr) Snapshot {
	acq, evic := pool.Stats()
	return Snapshot{
		ResidentPages: residentPages,
		Acquisitions:  acq,
		Evictions:     evic,
	}
}

// Profile renders s as a pprof profile with one "residency" sample per
// resident page, so a frame-occupancy snapshot can be inspected with
// standard pprof viewers (`go tool pprof`, the web UI, flame graphs).
func (s Snapshot) Profile() *profile.Profile {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "residency", Unit: "pages"},
		},
		Comments: []string{
			"vmkern frame residency snapshot",
		},
	}

	fn := &profile.Function{ID: 1, Name: "resident"}
	loc := &profile.Location{ID: 1, Line: []profile.Line{{Function: fn}}}
	p.Function = []*profile.Function{fn}
	p.Location = []*profile.Location{loc}

	for _, va := range s.ResidentPages {
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{1},
			Label: map[string][]string{
				"va": {"0x" + strconv.FormatUint(uint64(va), 16)},
			},
		})
	}
	p.Comments = append(p.Comments,
		"acquisitions_total="+strconv.FormatUint(s.Acquisitions, 10),
		"evictions_total="+strconv.FormatUint(s.Evictions, 10),
	)
	return p
}

// Write renders and writes the gzip-compressed pprof encoding of s to w.
func (s Snapshot) Write(w io.Writer) error {
	return s.Profile().Write(w)
}
