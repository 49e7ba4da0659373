// vramprobe: GPU memory prober.
// Measures the largest single allocation, total usable VRAM, and a
// host-to-device transfer rate per device, and keeps a JSON run log.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"vramprobe/internal/config"
	"vramprobe/internal/cuda"
	"vramprobe/internal/report"
	"vramprobe/internal/runner"
	"vramprobe/internal/smi"
	"vramprobe/internal/tui"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:     "vramprobe",
		Short:   "Empirical GPU memory prober — measure what your VRAM can actually hold",
		Version: version,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (step_mib, block_mib, transfer_mib, log_path)")

	root.AddCommand(
		probeCmd(),
		devicesCmd(),
		historyCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.Load(configPath)
}

// ── probe ───────────────────────────────────────────────────────────────────

func probeCmd() *cobra.Command {
	var device int
	var stepStr, blockStr, transferStr string
	var logPath string
	var jsonOut, watch bool

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Probe capacity and bandwidth on each device",
		Example: `  vramprobe probe
  vramprobe probe --device 1 --block 64M
  vramprobe probe --watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			step := cfg.StepBytes()
			if stepStr != "" {
				if step, err = parseSize(stepStr); err != nil {
					return fmt.Errorf("--step: %w", err)
				}
			}
			block := cfg.BlockBytes()
			if blockStr != "" {
				if block, err = parseSize(blockStr); err != nil {
					return fmt.Errorf("--block: %w", err)
				}
			}
			transfer := cfg.TransferBytes()
			if transferStr != "" {
				if transfer, err = parseSize(transferStr); err != nil {
					return fmt.Errorf("--transfer: %w", err)
				}
			}
			if logPath == "" {
				logPath = cfg.LogPath
			}

			devices, err := cuda.Devices()
			if err != nil {
				if errors.Is(err, cuda.ErrUnavailable) {
					return fmt.Errorf("probing needs the CUDA runtime (build with cgo on linux): %w", err)
				}
				return err
			}

			r := runner.New(runner.CUDABackend{}, runner.Config{
				Step:      step,
				BlockSize: block,
				Transfer:  transfer,
				Device:    device,
				Driver:    smi.New().DriverVersion(),
			})

			var records []report.Record
			if watch {
				records, err = tui.Run(r, devices)
			} else {
				records, err = r.Run()
			}
			if err != nil {
				return err
			}

			if len(records) == 0 {
				return nil
			}

			if jsonOut {
				data, _ := json.MarshalIndent(records, "", "  ")
				fmt.Println(string(data))
			} else if !watch {
				fmt.Print(report.Summary(records))
			}

			if err := report.Append(logPath, records); err != nil {
				return fmt.Errorf("persisting log: %w", err)
			}
			if !jsonOut {
				fmt.Printf("\nAppended %d record(s) to %s\n", len(records), logPath)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&device, "device", "d", -1, "probe only this device index")
	cmd.Flags().StringVar(&stepStr, "step", "", "binary search granularity (e.g. 16M)")
	cmd.Flags().StringVar(&blockStr, "block", "", "fill block size (e.g. 128M)")
	cmd.Flags().StringVar(&transferStr, "transfer", "", "bandwidth copy size (e.g. 256M)")
	cmd.Flags().StringVar(&logPath, "log", "", "JSON log path")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output records as JSON")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "live dashboard while probing")

	return cmd
}

// ── devices ─────────────────────────────────────────────────────────────────

func devicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List visible GPUs and reported totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := smi.New()

			devs, err := cuda.Devices()
			if err == nil {
				for _, d := range devs {
					fmt.Printf("GPU %d: %s (%d MB, compute %s)\n",
						d.Index, d.Name, d.TotalMemMB(), d.ComputeCapability())
				}
				if driver := s.DriverVersion(); driver != "" {
					fmt.Printf("\nDriver: %s\n", driver)
				}
				return nil
			}
			if !errors.Is(err, cuda.ErrUnavailable) {
				return err
			}

			// No CUDA runtime in this build; nvidia-smi still answers the
			// identity questions.
			infos, smiErr := s.Devices()
			if smiErr != nil {
				return fmt.Errorf("no CUDA runtime and nvidia-smi failed: %v", smiErr)
			}
			for _, d := range infos {
				fmt.Printf("GPU %d: %s (%d MB total, %d MB free)\n",
					d.Index, d.Name, d.MemTotalMB, d.MemFreeMB)
			}
			if driver := s.DriverVersion(); driver != "" {
				fmt.Printf("\nDriver: %s\n", driver)
			}
			return nil
		},
	}
}

// ── history ─────────────────────────────────────────────────────────────────

func historyCmd() *cobra.Command {
	var logPath string
	var lines int
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show persisted probe records",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if logPath == "" {
				logPath = cfg.LogPath
			}

			recs, err := report.Load(logPath)
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				fmt.Printf("no records in %s\n", logPath)
				return nil
			}

			recs = report.Tail(recs, lines)
			if jsonOut {
				data, _ := json.MarshalIndent(recs, "", "  ")
				fmt.Println(string(data))
				return nil
			}
			for _, r := range recs {
				fmt.Printf("%s  GPU %d %-28s single=%dMB usable=%dMB (%.1f%%) bw=%.1fGB/s\n",
					r.Timestamp, r.DeviceIndex, r.DeviceName,
					r.MaxSingleAllocMB, r.TotalUsableMB, r.Efficiency(), r.BandwidthGBps)
				if r.Anomaly != "" {
					fmt.Printf("    anomaly: %s\n", r.Anomaly)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&logPath, "log", "", "JSON log path")
	cmd.Flags().IntVarP(&lines, "lines", "n", 20, "number of records")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output as JSON")

	return cmd
}

// ── Helpers ─────────────────────────────────────────────────────────────────

// parseSize converts strings like "16M", "2G", "1048576" to bytes.
func parseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}
	multiplier := int64(1)
	switch {
	case strings.HasSuffix(s, "G"), strings.HasSuffix(s, "g"):
		multiplier = 1 << 30
		s = s[:len(s)-1]
	case strings.HasSuffix(s, "M"), strings.HasSuffix(s, "m"):
		multiplier = 1 << 20
		s = s[:len(s)-1]
	case strings.HasSuffix(s, "K"), strings.HasSuffix(s, "k"):
		multiplier = 1 << 10
		s = s[:len(s)-1]
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad size %q", s)
	}
	if v <= 0 {
		return 0, fmt.Errorf("size must be positive")
	}
	return v * multiplier, nil
}
