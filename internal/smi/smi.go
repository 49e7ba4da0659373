// Package smi queries supplemental GPU state via nvidia-smi.
package smi

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// SMI wraps the nvidia-smi command-line tool.
type SMI struct {
	Binary    string
	Available bool
}

func New() *SMI {
	path, err := exec.LookPath("nvidia-smi")
	if err != nil {
		for _, p := range []string{
			"/usr/bin/nvidia-smi",
			"/usr/local/bin/nvidia-smi",
			"/usr/lib/wsl/lib/nvidia-smi",
		} {
			if _, err := os.Stat(p); err == nil {
				return &SMI{Binary: p, Available: true}
			}
		}
		return &SMI{Available: false}
	}
	return &SMI{Binary: path, Available: true}
}

// DeviceInfo is one row of the per-device memory query, in MB.
type DeviceInfo struct {
	Index      int
	Name       string
	MemTotalMB int64
	MemUsedMB  int64
	MemFreeMB  int64
}

func (s *SMI) Devices() ([]DeviceInfo, error) {
	if !s.Available {
		return nil, fmt.Errorf("nvidia-smi not available")
	}
	cmd := exec.Command(s.Binary,
		"--query-gpu=index,name,memory.total,memory.used,memory.free",
		"--format=csv,noheader,nounits",
	)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("nvidia-smi: %w", err)
	}

	var devs []DeviceInfo
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.Split(line, ", ")
		if len(parts) < 5 {
			continue
		}
		idx, _ := strconv.Atoi(strings.TrimSpace(parts[0]))
		total, _ := strconv.ParseInt(strings.TrimSpace(parts[2]), 10, 64)
		used, _ := strconv.ParseInt(strings.TrimSpace(parts[3]), 10, 64)
		free, _ := strconv.ParseInt(strings.TrimSpace(parts[4]), 10, 64)

		devs = append(devs, DeviceInfo{
			Index:      idx,
			Name:       strings.TrimSpace(parts[1]),
			MemTotalMB: total,
			MemUsedMB:  used,
			MemFreeMB:  free,
		})
	}
	return devs, nil
}

func (s *SMI) DriverVersion() string {
	if !s.Available {
		return ""
	}
	cmd := exec.Command(s.Binary, "--query-gpu=driver_version", "--format=csv,noheader")
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	version := strings.TrimSpace(string(out))
	if i := strings.IndexByte(version, '\n'); i >= 0 {
		version = version[:i]
	}
	return version
}
