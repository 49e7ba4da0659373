// Package runner drives the per-device measurement sequence.
package runner

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"vramprobe/internal/cuda"
	"vramprobe/internal/probe"
	"vramprobe/internal/report"
)

// ErrNoDevices means enumeration succeeded but found nothing to probe.
var ErrNoDevices = errors.New("no CUDA devices found")

// Allocator is the per-device surface the runner needs: trial allocation
// plus memory info and the single-transfer bandwidth measurement.
type Allocator interface {
	probe.Allocator
	MemInfo() (free, total int64, err error)
	Bandwidth(transfer int64) (float64, time.Duration, error)
}

// Backend enumerates devices and binds allocators to them.
type Backend interface {
	Devices() ([]cuda.Device, error)
	Allocator(index int) (Allocator, error)
}

// CUDABackend probes real devices through the CUDA runtime.
type CUDABackend struct{}

func (CUDABackend) Devices() ([]cuda.Device, error) { return cuda.Devices() }

func (CUDABackend) Allocator(index int) (Allocator, error) {
	a, err := cuda.NewAllocator(index)
	if err != nil {
		return nil, err
	}
	return a, nil
}

type Config struct {
	Step      int64 // binary search granularity, bytes
	BlockSize int64 // fill block, bytes
	Transfer  int64 // bandwidth copy size, bytes
	Device    int   // -1 probes every device
	Driver    string
}

type Metrics struct {
	DevicesProbed int   `json:"devices_probed"`
	Anomalies     int   `json:"anomalies"`
	WallMs        int64 `json:"wall_ms"`
}

type Event struct {
	Time       time.Time `json:"time"`
	Type       string    `json:"type"`
	Device     int       `json:"device"`
	Detail     string    `json:"detail,omitempty"`
	DurationMs float64   `json:"duration_ms,omitempty"`
}

type Runner struct {
	backend Backend
	cfg     Config
	log     *log.Logger
	metrics Metrics

	subs  []chan Event
	subMu sync.Mutex
}

func New(backend Backend, cfg Config) *Runner {
	if cfg.Step <= 0 {
		cfg.Step = probe.DefaultStep
	}
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = probe.DefaultBlockSize
	}
	if cfg.Transfer <= 0 {
		cfg.Transfer = 256 << 20
	}
	return &Runner{
		backend: backend,
		cfg:     cfg,
		log:     log.New(os.Stderr, "[vramprobe] ", log.LstdFlags|log.Lmsgprefix),
	}
}

// Run probes each selected device in sequence: largest single allocation,
// then total usable capacity, then one timed transfer. Each stage fully
// releases its allocations before the next begins, so the stages never
// compete for device memory.
func (r *Runner) Run() ([]report.Record, error) {
	start := time.Now()

	devices, err := r.backend.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}
	if r.cfg.Device >= 0 {
		var selected []cuda.Device
		for _, d := range devices {
			if d.Index == r.cfg.Device {
				selected = append(selected, d)
			}
		}
		if len(selected) == 0 {
			return nil, fmt.Errorf("device %d not found (%d device(s) present)", r.cfg.Device, len(devices))
		}
		devices = selected
	}
	if len(devices) == 0 {
		return nil, ErrNoDevices
	}

	var records []report.Record
	for _, d := range devices {
		rec, err := r.probeDevice(d)
		if err != nil {
			// Device bind failure is fatal to the run, not a probe "no".
			return records, fmt.Errorf("device %d (%s): %w", d.Index, d.Name, err)
		}
		records = append(records, rec)
		r.metrics.DevicesProbed++
	}

	r.metrics.WallMs = time.Since(start).Milliseconds()
	r.emit(Event{Type: "done", Device: -1, DurationMs: float64(r.metrics.WallMs)})
	return records, nil
}

func (r *Runner) probeDevice(d cuda.Device) (report.Record, error) {
	r.emit(Event{Type: "device", Device: d.Index, Detail: d.Name})
	r.log.Printf("DEVICE %d %s total=%dMB compute=%s", d.Index, d.Name, d.TotalMemMB(), d.ComputeCapability())

	alloc, err := r.backend.Allocator(d.Index)
	if err != nil {
		return report.Record{}, fmt.Errorf("binding allocator: %w", err)
	}

	rec := report.NewRecord(d.Index, d.Name)
	rec.ComputeCapability = d.ComputeCapability()
	rec.DriverVersion = r.cfg.Driver
	rec.ReportedTotalMB = d.TotalMemMB()

	freeBefore, _, memErr := alloc.MemInfo()

	t0 := time.Now()
	single := probe.MaxSingleAlloc(alloc, d.TotalMem, r.cfg.Step)
	singleMs := float64(time.Since(t0).Microseconds()) / 1000.0
	rec.MaxSingleAllocMB = single / (1 << 20)
	rec.ProbeDurations.Single = singleMs
	r.emit(Event{Type: "single", Device: d.Index,
		Detail: fmt.Sprintf("%d MB", rec.MaxSingleAllocMB), DurationMs: singleMs})
	r.log.Printf("SINGLE %d %dMB %.1fms", d.Index, rec.MaxSingleAllocMB, singleMs)

	t0 = time.Now()
	usable, anomaly := probe.TotalUsable(alloc, r.cfg.BlockSize)
	totalMs := float64(time.Since(t0).Microseconds()) / 1000.0
	rec.TotalUsableMB = usable / (1 << 20)
	rec.ProbeDurations.Total = totalMs
	r.emit(Event{Type: "total", Device: d.Index,
		Detail: fmt.Sprintf("%d MB", rec.TotalUsableMB), DurationMs: totalMs})
	r.log.Printf("TOTAL %d %dMB %.1fms", d.Index, rec.TotalUsableMB, totalMs)

	if anomaly != nil {
		// Keep the partial result; the anomaly rides along in the record.
		rec.Anomaly = anomaly.Error()
		r.metrics.Anomalies++
		r.emit(Event{Type: "anomaly", Device: d.Index, Detail: anomaly.Error()})
		r.log.Printf("WARN: device %d allocator anomaly: %v", d.Index, anomaly)
	}

	gbps, dur, bwErr := alloc.Bandwidth(r.cfg.Transfer)
	if bwErr != nil {
		r.emit(Event{Type: "bandwidth", Device: d.Index, Detail: "failed: " + bwErr.Error()})
		r.log.Printf("WARN: device %d bandwidth measurement failed: %v", d.Index, bwErr)
	} else {
		rec.BandwidthGBps = gbps
		rec.BandwidthTransfer = r.cfg.Transfer / (1 << 20)
		rec.ProbeDurations.Bandwidth = float64(dur.Microseconds()) / 1000.0
		r.emit(Event{Type: "bandwidth", Device: d.Index,
			Detail: fmt.Sprintf("%.1f GB/s", gbps), DurationMs: rec.ProbeDurations.Bandwidth})
		r.log.Printf("BANDWIDTH %d %.1fGB/s %.1fms", d.Index, gbps, rec.ProbeDurations.Bandwidth)
	}

	if memErr == nil {
		if freeAfter, _, err := alloc.MemInfo(); err == nil && freeAfter != freeBefore {
			r.log.Printf("WARN: device %d free memory changed across probes: before=%d after=%d",
				d.Index, freeBefore, freeAfter)
		}
	}

	return rec, nil
}

func (r *Runner) Metrics() Metrics { return r.metrics }

func (r *Runner) Subscribe() chan Event {
	ch := make(chan Event, 64)
	r.subMu.Lock()
	r.subs = append(r.subs, ch)
	r.subMu.Unlock()
	return ch
}

func (r *Runner) Unsubscribe(ch chan Event) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for i, s := range r.subs {
		if s == ch {
			r.subs = append(r.subs[:i], r.subs[i+1:]...)
			close(ch)
			return
		}
	}
}

func (r *Runner) emit(e Event) {
	e.Time = time.Now()
	r.subMu.Lock()
	for _, ch := range r.subs {
		select {
		case ch <- e:
		default:
		}
	}
	r.subMu.Unlock()
}
