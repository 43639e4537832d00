package vm

import (
	"bytes"
	"context"
	"testing"

	"vmkern/hw"
	"vmkern/page"
)

func TestClaimPageUnderMemoryPressureEvicts(t *testing.T) {
	// Only one physical frame, but three distinct pages: claiming all
	// three forces the second and third claims to evict. The two evicted
	// pages each need their own swap slot, so the disk holds two.
	k := newTestKernel(t, 1, 2*hw.SectorsPerSlot)
	s := k.NewSpace(1, userStackTop)

	vas := []hw.VAddr{0x1000, 0x2000, 0x3000}
	for _, va := range vas {
		if !s.AllocPageWithInitializer(page.KindAnon, va, true, nil, nil) {
			t.Fatalf("AllocPageWithInitializer(%#x) failed", va)
		}
	}

	for _, va := range vas {
		if !s.ClaimPage(context.Background(), va) {
			t.Fatalf("ClaimPage(%#x) failed", va)
		}
	}

	acquisitions, evictions, _, _, _, _ := k.Stats()
	if evictions == 0 {
		t.Fatalf("expected at least one eviction under memory pressure, got %d (acquisitions=%d)", evictions, acquisitions)
	}
}

func TestClaimPageContentSurvivesEviction(t *testing.T) {
	// Re-claiming 0x1000 evicts 0x2000 before 0x1000's slot is freed, so
	// the disk needs two slots.
	k := newTestKernel(t, 1, 2*hw.SectorsPerSlot)
	s := k.NewSpace(1, userStackTop)

	s.AllocPageWithInitializer(page.KindAnon, 0x1000, true, nil, nil)
	s.AllocPageWithInitializer(page.KindAnon, 0x2000, true, nil, nil)

	s.ClaimPage(context.Background(), 0x1000)
	p1, _ := s.spt.Find(0x1000)
	pattern := bytes.Repeat([]byte{0x5A}, hw.PageSize)
	copy(p1.Frame.KVA.Bytes(), pattern)

	// Claiming the second page exhausts the single frame and evicts 0x1000.
	if !s.ClaimPage(context.Background(), 0x2000) {
		t.Fatalf("ClaimPage(0x2000) failed")
	}
	if p1.Frame != nil {
		t.Fatalf("evicted page still reports a resident frame")
	}

	if !s.ClaimPage(context.Background(), 0x1000) {
		t.Fatalf("re-claiming the evicted page failed")
	}
	p1, _ = s.spt.Find(0x1000)
	if !bytes.Equal(p1.Frame.KVA.Bytes(), pattern) {
		t.Fatalf("content did not survive eviction and swap-back-in")
	}
}

func TestClaimPageUnmappedFails(t *testing.T) {
	k := newTestKernel(t, 2, 8)
	s := k.NewSpace(1, userStackTop)
	if s.ClaimPage(context.Background(), 0x9000) {
		t.Fatalf("ClaimPage on an unregistered address succeeded")
	}
}
