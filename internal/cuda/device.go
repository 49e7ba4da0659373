// Package cuda binds the CUDA runtime for device enumeration, trial
// allocation, and transfer timing. Builds without cgo degrade to a stub
// that reports the runtime as unavailable.
package cuda

import (
	"errors"
	"fmt"
)

// ErrUnavailable means this binary was built without CUDA support or the
// platform has no CUDA runtime.
var ErrUnavailable = errors.New("cuda runtime not available in this build")

// Device describes one enumerated GPU.
type Device struct {
	Index        int
	Name         string
	TotalMem     int64 // bytes
	ComputeMajor int
	ComputeMinor int
}

func (d Device) ComputeCapability() string {
	return fmt.Sprintf("%d.%d", d.ComputeMajor, d.ComputeMinor)
}

func (d Device) TotalMemMB() int64 {
	return d.TotalMem / (1 << 20)
}
