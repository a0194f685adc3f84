//go:build linux

package main

// helper to watch memory while libtorch allocates

import (
	"syscall"
	"time"

	"github.com/pkg/errors"
)

// MemInfo is a snapshot of sysinfo(2), sizes in kB.
type MemInfo struct {
	Uptime    time.Duration
	Loads     [3]float64 // 1, 5 and 15 minute load averages
	Procs     uint64
	TotalRam  uint64
	FreeRam   uint64
	BufferRam uint64
	TotalSwap uint64
	FreeSwap  uint64
}

// UsedRam returns TotalRam - FreeRam in kB.
func (m MemInfo) UsedRam() uint64 { return m.TotalRam - m.FreeRam }

// ReadMemInfo reads the linux sysinfo data structure.
func ReadMemInfo() (MemInfo, error) {
	si := &syscall.Sysinfo_t{}
	if err := syscall.Sysinfo(si); err != nil {
		return MemInfo{}, errors.Wrap(err, "sysinfo")
	}
	const scale = 65536.0 // loads are fixed point
	unit := uint64(si.Unit) * 1024

	return MemInfo{
		Uptime:    time.Duration(si.Uptime) * time.Second,
		Loads:     [3]float64{float64(si.Loads[0]) / scale, float64(si.Loads[1]) / scale, float64(si.Loads[2]) / scale},
		Procs:     uint64(si.Procs),
		TotalRam:  uint64(si.Totalram) / unit,
		FreeRam:   uint64(si.Freeram) / unit,
		BufferRam: uint64(si.Bufferram) / unit,
		TotalSwap: uint64(si.Totalswap) / unit,
		FreeSwap:  uint64(si.Freeswap) / unit,
	}, nil
}
