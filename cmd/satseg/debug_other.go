//go:build !linux

package main

import (
	"time"

	"github.com/pkg/errors"
)

// MemInfo is a snapshot of sysinfo(2), sizes in kB.
type MemInfo struct {
	Uptime    time.Duration
	Loads     [3]float64
	Procs     uint64
	TotalRam  uint64
	FreeRam   uint64
	BufferRam uint64
	TotalSwap uint64
	FreeSwap  uint64
}

// UsedRam returns TotalRam - FreeRam in kB.
func (m MemInfo) UsedRam() uint64 { return m.TotalRam - m.FreeRam }

// ReadMemInfo is only implemented on linux.
func ReadMemInfo() (MemInfo, error) {
	return MemInfo{}, errors.New("memory info needs linux sysinfo")
}
