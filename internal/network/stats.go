package network

import (
	"sync/atomic"

	"github.com/banshee-data/smallsmt/internal/monitoring"
)

// PacketStatsInterface provides packet statistics management
type PacketStatsInterface interface {
	AddPacket(bytes int)
	AddReadError()
	LogStats()
}

// PacketStats counts datagrams seen by a Listener.
type PacketStats struct {
	packets    atomic.Int64
	bytes      atomic.Int64
	readErrors atomic.Int64
}

func (s *PacketStats) AddPacket(bytes int) {
	s.packets.Add(1)
	s.bytes.Add(int64(bytes))
}

func (s *PacketStats) AddReadError() {
	s.readErrors.Add(1)
}

// Snapshot returns the running totals.
func (s *PacketStats) Snapshot() (packets, bytes, readErrors int64) {
	return s.packets.Load(), s.bytes.Load(), s.readErrors.Load()
}

func (s *PacketStats) LogStats() {
	p, b, e := s.Snapshot()
	monitoring.Logf("listener: %d datagrams, %d bytes, %d read errors", p, b, e)
}

// noopStats is a PacketStatsInterface implementation that does nothing.
// It is used as a safe default when no stats collector is provided.
type noopStats struct{}

func (n *noopStats) AddPacket(bytes int) {}
func (n *noopStats) AddReadError()       {}
func (n *noopStats) LogStats()           {}
