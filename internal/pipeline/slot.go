package pipeline

import (
	"sync/atomic"

	"astrorig/internal/frame"
)

// LatestSlot is a single-writer, multi-reader mailbox holding the most recent
// frame. Store overwrites; readers get the old or the new frame, never a mix.
type LatestSlot struct {
	frame     atomic.Pointer[frame.Frame]
	read      atomic.Bool
	published atomic.Uint64
	overwrite atomic.Uint64
}

// SlotStats reports slot throughput.
type SlotStats struct {
	Published uint64 `json:"published"`
	// Unread counts frames replaced before any reader loaded them.
	Unread uint64 `json:"unread"`
}

// Store publishes f, replacing the previous frame.
func (s *LatestSlot) Store(f *frame.Frame) {
	old := s.frame.Swap(f)
	if old != nil && !s.read.Load() {
		s.overwrite.Add(1)
	}
	s.read.Store(false)
	s.published.Add(1)
}

// Load returns the latest frame or nil before the first Store.
func (s *LatestSlot) Load() *frame.Frame {
	f := s.frame.Load()
	if f != nil {
		s.read.Store(true)
	}
	return f
}

// Stats returns the slot counters.
func (s *LatestSlot) Stats() SlotStats {
	return SlotStats{Published: s.published.Load(), Unread: s.overwrite.Load()}
}
