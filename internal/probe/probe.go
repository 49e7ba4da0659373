// Package probe measures usable VRAM empirically via trial allocation.
package probe

import "errors"

// ErrOutOfMemory is the allocator failure meaning "request exceeds
// currently available capacity". Any other allocator error is an anomaly.
var ErrOutOfMemory = errors.New("out of memory")

// Block is an opaque allocation handle. A block never outlives the probe
// call that created it.
type Block any

// Allocator grants and releases memory on one bound device. Failures are
// explicit return values, never ambient "last error" state.
type Allocator interface {
	Alloc(size int64) (Block, error)
	Free(b Block)
}

const (
	DefaultStep      int64 = 16 << 20  // 16 MiB search granularity
	DefaultBlockSize int64 = 128 << 20 // 128 MiB fill block
)

// MaxSingleAlloc binary-searches [0, totalMem] for the largest single
// allocation the device will satisfy. Each successful test allocation is
// freed immediately. The result can land up to two steps below the true
// maximum since the search advances in step increments on both sides.
// Returns 0 if every attempted size fails.
func MaxSingleAlloc(a Allocator, totalMem, step int64) int64 {
	if step <= 0 {
		step = DefaultStep
	}
	if totalMem <= 0 {
		return 0
	}

	var best int64
	low, high := int64(0), totalMem
	for low <= high {
		mid := (low + high) / 2
		b, err := a.Alloc(mid)
		if err == nil {
			a.Free(b)
			best = mid
			low = mid + step
			continue
		}
		// Out-of-memory is a normal "no". Other allocator errors narrow the
		// search the same way so the probe always terminates.
		if mid < step {
			break
		}
		high = mid - step
	}
	return best
}

// TotalUsable fills the device with blockSize blocks until allocation
// fails, retaining each block so the next attempt probes the remaining
// capacity. All blocks are released before return, so the device ends in
// its pre-probe state. The total is a multiple of blockSize and may
// undercount true capacity by up to blockSize-1 bytes.
//
// Normal out-of-memory termination returns a nil error. Any other
// allocator failure stops the loop and is returned alongside the partial
// total so the caller can surface the anomaly.
func TotalUsable(a Allocator, blockSize int64) (int64, error) {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}

	var blocks []Block
	var total int64
	var anomaly error
	for {
		b, err := a.Alloc(blockSize)
		if err != nil {
			if !errors.Is(err, ErrOutOfMemory) {
				anomaly = err
			}
			break
		}
		blocks = append(blocks, b)
		total += blockSize
	}

	for _, b := range blocks {
		a.Free(b)
	}
	return total, anomaly
}
