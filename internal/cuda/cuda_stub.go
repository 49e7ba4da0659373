//go:build !linux || !cgo

package cuda

import (
	"time"

	"vramprobe/internal/probe"
)

func Devices() ([]Device, error) {
	return nil, ErrUnavailable
}

type DeviceAllocator struct {
	index int
}

func NewAllocator(index int) (*DeviceAllocator, error) {
	return nil, ErrUnavailable
}

func (a *DeviceAllocator) Index() int { return a.index }

func (a *DeviceAllocator) Alloc(size int64) (probe.Block, error) {
	return nil, ErrUnavailable
}

func (a *DeviceAllocator) Free(b probe.Block) {}

func (a *DeviceAllocator) MemInfo() (free, total int64, err error) {
	return 0, 0, ErrUnavailable
}

func (a *DeviceAllocator) Bandwidth(transfer int64) (float64, time.Duration, error) {
	return 0, 0, ErrUnavailable
}
