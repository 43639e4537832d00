package hw

import (
	"testing"
	"unsafe"
)

func TestPageRounddownAndAligned(t *testing.T) {
	va := VAddr(0x1000 + 0x123)
	down := PageRounddown(va)
	if down != 0x1000 {
		t.Fatalf("PageRounddown(%#x) = %#x, want 0x1000", va, down)
	}
	if !PageAligned(down) {
		t.Fatalf("PageAligned(%#x) = false, want true", down)
	}
	if PageAligned(va) {
		t.Fatalf("PageAligned(%#x) = true, want false", va)
	}
}

func TestHashDistinguishesNearbyAddresses(t *testing.T) {
	a, b := VAddr(0x1000), VAddr(0x2000)
	if a.Hash() == b.Hash() {
		t.Fatalf("two distinct page-aligned addresses hashed to the same value")
	}
}

func TestKVAddrBytesViewsBackingMemory(t *testing.T) {
	buf := make([]byte, PageSize)
	kva := KVAddr(uintptr(unsafe.Pointer(&buf[0])))
	view := kva.Bytes()
	view[0] = 0x42
	if buf[0] != 0x42 {
		t.Fatalf("writing through KVAddr.Bytes did not reach the backing array")
	}
}
