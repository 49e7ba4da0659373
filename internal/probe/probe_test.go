package probe

import (
	"errors"
	"fmt"
	"testing"
)

// fakeAlloc simulates a device with a fixed capacity and tracks live bytes
// so tests can verify probes restore the device to its pre-probe state.
type fakeAlloc struct {
	capacity int64
	live     int64
	allocs   int

	// failAfter, when > 0, makes every Alloc past that many successes fail
	// with failErr instead of ErrOutOfMemory.
	failAfter int
	failErr   error
}

type fakeBlock struct {
	size int64
}

func (f *fakeAlloc) Alloc(size int64) (Block, error) {
	if f.failAfter > 0 && f.allocs >= f.failAfter {
		return nil, f.failErr
	}
	if f.live+size > f.capacity {
		return nil, fmt.Errorf("alloc %d bytes: %w", size, ErrOutOfMemory)
	}
	f.allocs++
	f.live += size
	return &fakeBlock{size: size}, nil
}

func (f *fakeAlloc) Free(b Block) {
	f.live -= b.(*fakeBlock).size
}

func TestMaxSingleAllocUpperBound(t *testing.T) {
	totals := []int64{0, 1, 1 << 20, 256 << 20, 8 << 30, 80 << 30}
	for _, total := range totals {
		a := &fakeAlloc{capacity: total}
		got := MaxSingleAlloc(a, total, DefaultStep)
		if got > total {
			t.Fatalf("total=%d: result %d exceeds reported total", total, got)
		}
	}
}

func TestMaxSingleAllocFindsNearCapacity(t *testing.T) {
	// Device reports 8 GiB but only satisfies allocations up to 6 GiB.
	total := int64(8 << 30)
	limit := int64(6 << 30)
	a := &fakeAlloc{capacity: limit}

	got := MaxSingleAlloc(a, total, DefaultStep)
	if got > limit {
		t.Fatalf("result %d exceeds simulated capacity %d", got, limit)
	}
	// Coarse by construction: the low advance of step bytes can leave the
	// final answer up to two steps shy of the true maximum.
	if limit-got > 2*DefaultStep {
		t.Fatalf("result %d more than two steps below capacity %d", got, limit)
	}
	if a.live != 0 {
		t.Fatalf("leaked %d bytes after probe", a.live)
	}
}

// deadAlloc models a device that rejects every request.
type deadAlloc struct{}

func (deadAlloc) Alloc(size int64) (Block, error) {
	return nil, fmt.Errorf("alloc %d bytes: %w", size, ErrOutOfMemory)
}

func (deadAlloc) Free(b Block) {}

func TestMaxSingleAllocAlwaysFails(t *testing.T) {
	for _, x := range []int64{1, 1 << 20, 4 << 30} {
		if got := MaxSingleAlloc(deadAlloc{}, x, DefaultStep); got != 0 {
			t.Fatalf("always-failing allocator: expected 0 for total=%d, got %d", x, got)
		}
	}
}

func TestMaxSingleAllocZeroTotal(t *testing.T) {
	a := &fakeAlloc{capacity: 1 << 30}
	if got := MaxSingleAlloc(a, 0, DefaultStep); got != 0 {
		t.Fatalf("expected 0 for zero total, got %d", got)
	}
}

func TestMaxSingleAllocTinyStep(t *testing.T) {
	// A small step against a small device must still terminate and land
	// within one step of the true capacity.
	a := &fakeAlloc{capacity: 700}
	got := MaxSingleAlloc(a, 1000, 16)
	if got > 700 {
		t.Fatalf("result %d exceeds capacity 700", got)
	}
	if 700-got > 32 {
		t.Fatalf("result %d more than two steps below capacity 700", got)
	}
}

func TestMaxSingleAllocRestoresState(t *testing.T) {
	a := &fakeAlloc{capacity: 4 << 30}
	before := a.live
	MaxSingleAlloc(a, 4<<30, DefaultStep)
	if a.live != before {
		t.Fatalf("live bytes changed: before=%d after=%d", before, a.live)
	}
}

func TestMaxSingleAllocUnexpectedErrorTerminates(t *testing.T) {
	// Non-OOM errors are treated as "no": the search still terminates and
	// reports what it found before the fault.
	a := &fakeAlloc{capacity: 4 << 30, failAfter: 3, failErr: errors.New("driver wedged")}
	got := MaxSingleAlloc(a, 4<<30, DefaultStep)
	if got < 0 || got > 4<<30 {
		t.Fatalf("result out of range: %d", got)
	}
	if a.live != 0 {
		t.Fatalf("leaked %d bytes", a.live)
	}
}

func TestTotalUsableFullSuccess(t *testing.T) {
	block := int64(128 << 20)
	cases := []int64{
		0,
		block,
		10 * block,
		10*block + 1,
		10*block + block - 1,
	}
	for _, limit := range cases {
		a := &fakeAlloc{capacity: limit}
		total, err := TotalUsable(a, block)
		if err != nil {
			t.Fatalf("capacity=%d: unexpected anomaly: %v", limit, err)
		}
		want := limit - limit%block
		if total != want {
			t.Fatalf("capacity=%d: expected %d, got %d", limit, want, total)
		}
		if a.live != 0 {
			t.Fatalf("capacity=%d: leaked %d bytes", limit, a.live)
		}
	}
}

func TestTotalUsableAlwaysFails(t *testing.T) {
	a := &fakeAlloc{capacity: 0}
	total, err := TotalUsable(a, 128<<20)
	if err != nil {
		t.Fatalf("OOM is normal termination, got anomaly: %v", err)
	}
	if total != 0 {
		t.Fatalf("expected 0, got %d", total)
	}
}

func TestTotalUsableAnomalyHalts(t *testing.T) {
	block := int64(128 << 20)
	wedged := errors.New("ECC uncorrectable error")
	a := &fakeAlloc{capacity: 100 * block, failAfter: 5, failErr: wedged}

	total, err := TotalUsable(a, block)
	if err == nil {
		t.Fatal("expected surfaced anomaly")
	}
	if !errors.Is(err, wedged) {
		t.Fatalf("expected wedged error, got %v", err)
	}
	if total != 5*block {
		t.Fatalf("expected partial total %d, got %d", 5*block, total)
	}
	if a.live != 0 {
		t.Fatalf("leaked %d bytes after anomaly", a.live)
	}
}

func TestSequentialIsolation(t *testing.T) {
	// Running the probes in either order against the same restored-capacity
	// allocator must produce the same results.
	newAlloc := func() *fakeAlloc { return &fakeAlloc{capacity: 3 << 30} }
	total := int64(4 << 30)
	block := int64(128 << 20)

	a1 := newAlloc()
	single1 := MaxSingleAlloc(a1, total, DefaultStep)
	usable1, _ := TotalUsable(a1, block)

	a2 := newAlloc()
	usable2, _ := TotalUsable(a2, block)
	single2 := MaxSingleAlloc(a2, total, DefaultStep)

	if single1 != single2 {
		t.Fatalf("order changed single result: %d vs %d", single1, single2)
	}
	if usable1 != usable2 {
		t.Fatalf("order changed usable result: %d vs %d", usable1, usable2)
	}
}

func TestDefaultsApplied(t *testing.T) {
	a := &fakeAlloc{capacity: 1 << 30}
	if got := MaxSingleAlloc(a, 1<<30, 0); got <= 0 {
		t.Fatalf("zero step should fall back to default, got %d", got)
	}
	b := &fakeAlloc{capacity: 1 << 30}
	total, err := TotalUsable(b, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != (1<<30)-((1<<30)%DefaultBlockSize) {
		t.Fatalf("zero block size should fall back to default, got %d", total)
	}
}
