// Package report defines per-device measurement records, the append-only
// JSON log, and the console summary.
package report

import "time"

// Durations holds per-probe wall times in milliseconds.
type Durations struct {
	Single    float64 `json:"single"`
	Total     float64 `json:"total"`
	Bandwidth float64 `json:"bandwidth"`
}

// Record is one device's measurements from one run. Capacities are MB.
type Record struct {
	Timestamp         string    `json:"timestamp_rfc3339"`
	DeviceIndex       int       `json:"device_index"`
	DeviceName        string    `json:"device_name"`
	ComputeCapability string    `json:"compute_capability"`
	DriverVersion     string    `json:"driver_version,omitempty"`
	ReportedTotalMB   int64     `json:"reported_total_mb"`
	MaxSingleAllocMB  int64     `json:"max_single_alloc_mb"`
	TotalUsableMB     int64     `json:"total_usable_mb"`
	BandwidthGBps     float64   `json:"bandwidth_gbps"`
	BandwidthTransfer int64     `json:"bandwidth_transfer_mb"`
	ProbeDurations    Durations `json:"probe_durations_ms"`
	Anomaly           string    `json:"anomaly,omitempty"`
}

func NewRecord(deviceIndex int, name string) Record {
	return Record{
		Timestamp:   time.Now().Format(time.RFC3339),
		DeviceIndex: deviceIndex,
		DeviceName:  name,
	}
}

// Efficiency is usable capacity as a share of the reported total, in
// percent. Zero when the reported total is unknown.
func (r Record) Efficiency() float64 {
	if r.ReportedTotalMB <= 0 {
		return 0
	}
	return float64(r.TotalUsableMB) / float64(r.ReportedTotalMB) * 100
}
