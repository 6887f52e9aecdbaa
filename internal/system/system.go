// Package system holds host-facing helpers: resource limits, hardware
// probing and the shared image buffer pool.
package system

import (
	"fmt"
	"os/exec"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// InitResourceLimits raises the open-file soft limit. Concurrent asset
// resolution plus the cache can hold many descriptors at once.
func InitResourceLimits(log zerolog.Logger) {
	var rLimit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		log.Warn().Err(err).Msg("cannot read file descriptor limit")
		return
	}

	rLimit.Cur = 2048
	if rLimit.Cur > rLimit.Max {
		rLimit.Cur = rLimit.Max
	}

	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		log.Warn().Err(err).Msg("cannot raise file descriptor limit")
		return
	}
	log.Debug().Uint64("limit", uint64(rLimit.Cur)).Msg("file descriptor limit raised")
}

// CheckFFmpeg verifies that the ffmpeg binary is reachable on PATH.
func CheckFFmpeg() error {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	return nil
}

// DetectEncoder picks the best available H.264 encoder, preferring
// hardware (VideoToolbox, then NVENC) over software libx264.
func DetectEncoder() string {
	out, err := exec.Command("ffmpeg", "-encoders").CombinedOutput()
	if err != nil {
		return "libx264"
	}
	for _, enc := range []string{"h264_videotoolbox", "h264_nvenc"} {
		if strings.Contains(string(out), enc) {
			return enc
		}
	}
	return "libx264"
}

// DefaultWorkers sizes the resolution pool from the host: one worker per
// logical CPU, capped so the pool's in-flight frame buffers fit in a
// quarter of available memory.
func DefaultWorkers(width, height int) int {
	workers := 4
	if n, err := cpu.Counts(true); err == nil && n > 0 {
		workers = n
	}

	if vm, err := mem.VirtualMemory(); err == nil && width > 0 && height > 0 {
		perWorker := uint64(width) * uint64(height) * 4 * 2
		if perWorker > 0 {
			if budget := vm.Available / 4 / perWorker; budget > 0 && budget < uint64(workers) {
				workers = int(budget)
			}
		}
	}

	if workers < 1 {
		workers = 1
	}
	return workers
}
