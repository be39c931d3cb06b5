package bufpool

import (
	"errors"
	"sync"
	"testing"
)

func newTestAllocator(bufSize, count, minAlloc int) *Allocator {
	return New(Options{
		BufferSize:     bufSize,
		MaxBufferCount: count,
		MinAllocSize:   minAlloc,
		Reservoir:      true,
	})
}

func TestAllocateAndReleaseRoundTrip(t *testing.T) {
	alloc := newTestAllocator(1024, 4, 1)

	if alloc.FreeCount() != 4 {
		t.Fatalf("expected 4 free buffers, got %d", alloc.FreeCount())
	}

	buf, err := alloc.Allocate(512)
	if err != nil {
		t.Fatalf("failed to allocate: %v", err)
	}
	if !buf.Pooled() {
		t.Errorf("expected a pooled buffer")
	}
	if buf.Len() != 512 {
		t.Errorf("expected length 512, got %d", buf.Len())
	}
	if alloc.FreeCount() != 3 {
		t.Errorf("expected 3 free buffers, got %d", alloc.FreeCount())
	}

	buf.Release()
	if alloc.FreeCount() != 4 {
		t.Errorf("expected 4 free buffers after release, got %d", alloc.FreeCount())
	}
	alloc.Clean()
}

func TestConservationInvariant(t *testing.T) {
	alloc := newTestAllocator(1024, 8, 1)

	var bufs []*Buffer
	for i := 0; i < 8; i++ {
		buf, err := alloc.Allocate(1024)
		if err != nil {
			t.Fatalf("allocation %d failed: %v", i, err)
		}
		bufs = append(bufs, buf)
		if got := alloc.FreeCount() + alloc.UsedCount(); got != alloc.TotalCount() {
			t.Errorf("free+used=%d, want total=%d", got, alloc.TotalCount())
		}
	}
	for _, buf := range bufs {
		buf.Release()
	}
	if alloc.FreeCount() != 8 {
		t.Errorf("expected all 8 buffers free, got %d", alloc.FreeCount())
	}
	alloc.Clean()
}

func TestExhaustionFailsWithoutFallback(t *testing.T) {
	alloc := newTestAllocator(1024, 1, 1)

	buf, err := alloc.Allocate(1024)
	if err != nil {
		t.Fatalf("first allocation failed: %v", err)
	}

	_, err = alloc.Allocate(1024)
	if !errors.Is(err, ErrPoolExhausted) {
		t.Errorf("expected ErrPoolExhausted, got %v", err)
	}

	// Explicit fallback degrades to heap instead.
	fb := alloc.AllocateWithFallback(1024)
	if fb.Pooled() {
		t.Errorf("fallback allocation should be heap-owned")
	}
	fb.Release()

	buf.Release()
	alloc.Clean()
}

func TestSmallAndOversizeGoToHeap(t *testing.T) {
	alloc := newTestAllocator(1024, 4, 256)

	small, err := alloc.Allocate(100)
	if err != nil {
		t.Fatalf("small allocation failed: %v", err)
	}
	if small.Pooled() {
		t.Errorf("allocation below MinAllocSize should be heap-owned")
	}

	big, err := alloc.Allocate(4096)
	if err != nil {
		t.Fatalf("oversize allocation failed: %v", err)
	}
	if big.Pooled() {
		t.Errorf("allocation above BufferSize should be heap-owned")
	}

	if alloc.FreeCount() != 4 {
		t.Errorf("heap allocations must not consume pool slots")
	}
	small.Release()
	big.Release()
	alloc.Clean()
}

func TestZeroOptionsSelectDefaults(t *testing.T) {
	alloc := New(Options{Reservoir: true})

	if alloc.BufferSize() != DefaultBufferSize {
		t.Errorf("BufferSize = %d, want %d", alloc.BufferSize(), DefaultBufferSize)
	}
	if alloc.TotalCount() != DefaultMaxBufferCount {
		t.Errorf("TotalCount = %d, want %d", alloc.TotalCount(), DefaultMaxBufferCount)
	}

	small, err := alloc.Allocate(DefaultMinAllocSize - 1)
	if err != nil {
		t.Fatalf("small allocation failed: %v", err)
	}
	if small.Pooled() {
		t.Errorf("allocation below the default minimum should be heap-owned")
	}
	pooled, err := alloc.Allocate(DefaultMinAllocSize)
	if err != nil {
		t.Fatalf("pooled allocation failed: %v", err)
	}
	if !pooled.Pooled() {
		t.Errorf("allocation at the default minimum should take a slot")
	}
	small.Release()
	pooled.Release()
	alloc.Clean()
}

func TestReservoirDisabled(t *testing.T) {
	alloc := New(Options{BufferSize: 1024, MaxBufferCount: 4, Reservoir: false})
	buf, err := alloc.Allocate(1024)
	if err != nil {
		t.Fatalf("allocation failed: %v", err)
	}
	if buf.Pooled() {
		t.Errorf("disabled reservoir must yield heap buffers")
	}
	buf.Release()
	alloc.Clean()
}

func TestFillAndDrain(t *testing.T) {
	const count = 32
	alloc := newTestAllocator(64*1024, count, 1)

	// Drain the pool completely, then return everything.
	var bufs []*Buffer
	for i := 0; i < count; i++ {
		buf, err := alloc.AllocateOne()
		if err != nil {
			t.Fatalf("AllocateOne %d failed: %v", i, err)
		}
		bufs = append(bufs, buf)
	}
	if alloc.FreeCount() != 0 {
		t.Errorf("expected empty pool, got %d free", alloc.FreeCount())
	}
	for _, buf := range bufs {
		buf.Release()
	}
	if alloc.FreeCount() != count {
		t.Errorf("expected %d free after drain, got %d", count, alloc.FreeCount())
	}
	alloc.Clean()
}

func TestCleanPanicsOnOutstanding(t *testing.T) {
	alloc := newTestAllocator(1024, 2, 1)
	buf, err := alloc.Allocate(1024)
	if err != nil {
		t.Fatalf("allocation failed: %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Errorf("Clean should panic with a buffer outstanding")
		}
		buf.Release()
	}()
	alloc.Clean()
}

func TestDoubleReleasePanics(t *testing.T) {
	alloc := newTestAllocator(1024, 2, 1)
	buf, err := alloc.Allocate(1024)
	if err != nil {
		t.Fatalf("allocation failed: %v", err)
	}
	buf.Release()
	defer func() {
		if recover() == nil {
			t.Errorf("second Release should panic")
		}
	}()
	buf.Release()
}

func TestConcurrentAllocateRelease(t *testing.T) {
	alloc := newTestAllocator(1024, 16, 1)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				buf := alloc.AllocateWithFallback(1024)
				buf.Release()
			}
		}()
	}
	wg.Wait()

	if alloc.FreeCount() != 16 {
		t.Errorf("expected 16 free buffers after churn, got %d", alloc.FreeCount())
	}
	alloc.Clean()
}
