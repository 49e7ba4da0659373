//go:build linux && cgo

package cuda

/*
#cgo LDFLAGS: -lcudart
#include <cuda_runtime.h>
#include <stdlib.h>
*/
import "C"

import (
	"fmt"
	"time"
	"unsafe"

	"vramprobe/internal/probe"
)

// Devices enumerates the CUDA devices visible to this process.
func Devices() ([]Device, error) {
	var n C.int
	if ret := C.cudaGetDeviceCount(&n); ret != C.cudaSuccess {
		return nil, cudaErr("cudaGetDeviceCount", ret)
	}

	devs := make([]Device, 0, int(n))
	for i := 0; i < int(n); i++ {
		var prop C.struct_cudaDeviceProp
		if ret := C.cudaGetDeviceProperties(&prop, C.int(i)); ret != C.cudaSuccess {
			return nil, cudaErr(fmt.Sprintf("cudaGetDeviceProperties(%d)", i), ret)
		}
		devs = append(devs, Device{
			Index:        i,
			Name:         C.GoString(&prop.name[0]),
			TotalMem:     int64(prop.totalGlobalMem),
			ComputeMajor: int(prop.major),
			ComputeMinor: int(prop.minor),
		})
	}
	return devs, nil
}

// DeviceAllocator is a probe.Allocator bound to one CUDA device. The
// device is selected once at construction so probes never depend on
// ambient device state.
type DeviceAllocator struct {
	index int
}

func NewAllocator(index int) (*DeviceAllocator, error) {
	if ret := C.cudaSetDevice(C.int(index)); ret != C.cudaSuccess {
		return nil, cudaErr(fmt.Sprintf("cudaSetDevice(%d)", index), ret)
	}
	return &DeviceAllocator{index: index}, nil
}

func (a *DeviceAllocator) Index() int { return a.index }

func (a *DeviceAllocator) Alloc(size int64) (probe.Block, error) {
	var ptr unsafe.Pointer
	ret := C.cudaMalloc(&ptr, C.size_t(size))
	if ret != C.cudaSuccess {
		// Clear the sticky runtime error so it cannot bleed into the next
		// allocation attempt.
		C.cudaGetLastError()
		if ret == C.cudaErrorMemoryAllocation {
			return nil, fmt.Errorf("cudaMalloc %d bytes: %w", size, probe.ErrOutOfMemory)
		}
		return nil, cudaErr(fmt.Sprintf("cudaMalloc %d bytes", size), ret)
	}
	return ptr, nil
}

func (a *DeviceAllocator) Free(b probe.Block) {
	C.cudaFree(b.(unsafe.Pointer))
}

// MemInfo reports the bound device's free and total memory in bytes.
func (a *DeviceAllocator) MemInfo() (free, total int64, err error) {
	var f, t C.size_t
	if ret := C.cudaMemGetInfo(&f, &t); ret != C.cudaSuccess {
		return 0, 0, cudaErr("cudaMemGetInfo", ret)
	}
	return int64(f), int64(t), nil
}

// Bandwidth times a single host-to-device copy of transfer bytes and
// returns the observed rate in GB/s. One transfer only: a sanity figure,
// not a sustained benchmark.
func (a *DeviceAllocator) Bandwidth(transfer int64) (float64, time.Duration, error) {
	if transfer <= 0 {
		transfer = 256 << 20
	}

	host := C.malloc(C.size_t(transfer))
	if host == nil {
		return 0, 0, fmt.Errorf("host buffer %d bytes: allocation failed", transfer)
	}
	defer C.free(host)

	var dev unsafe.Pointer
	if ret := C.cudaMalloc(&dev, C.size_t(transfer)); ret != C.cudaSuccess {
		C.cudaGetLastError()
		return 0, 0, cudaErr(fmt.Sprintf("cudaMalloc %d bytes", transfer), ret)
	}
	defer C.cudaFree(dev)

	var start, stop C.cudaEvent_t
	if ret := C.cudaEventCreate(&start); ret != C.cudaSuccess {
		return 0, 0, cudaErr("cudaEventCreate", ret)
	}
	defer C.cudaEventDestroy(start)
	if ret := C.cudaEventCreate(&stop); ret != C.cudaSuccess {
		return 0, 0, cudaErr("cudaEventCreate", ret)
	}
	defer C.cudaEventDestroy(stop)

	C.cudaEventRecord(start, nil)
	if ret := C.cudaMemcpy(dev, host, C.size_t(transfer), C.cudaMemcpyHostToDevice); ret != C.cudaSuccess {
		return 0, 0, cudaErr("cudaMemcpy host->device", ret)
	}
	C.cudaEventRecord(stop, nil)
	if ret := C.cudaEventSynchronize(stop); ret != C.cudaSuccess {
		return 0, 0, cudaErr("cudaEventSynchronize", ret)
	}

	var ms C.float
	C.cudaEventElapsedTime(&ms, start, stop)
	elapsed := time.Duration(float64(ms) * float64(time.Millisecond))
	if ms <= 0 {
		return 0, elapsed, nil
	}
	gbps := float64(transfer) / (float64(ms) / 1000.0) / 1e9
	return gbps, elapsed, nil
}

func cudaErr(op string, ret C.cudaError_t) error {
	return fmt.Errorf("%s: %s", op, C.GoString(C.cudaGetErrorString(ret)))
}
