package ui

// pageFlag is one bit per page in the dirty bitset.
type pageFlag uint8

const (
	dirtyDashboard pageFlag = 1 << iota
	dirtyAccounts
	dirtyAPIKeys
	dirtyRequestLogs

	dirtyAll = dirtyDashboard | dirtyAccounts | dirtyAPIKeys | dirtyRequestLogs
)

// frameScheduler coalesces page invalidations into single frames. Any
// number of MarkDirty calls between flushes arm exactly one frame;
// marking during a flush arms the next frame instead of recursing.
type frameScheduler struct {
	pending   pageFlag
	scheduled bool
	flushing  bool
	rearm     bool
}

// MarkDirty records pages needing re-render. It reports whether a new
// frame was armed by this call; the caller emits the frame message.
func (s *frameScheduler) MarkDirty(flags pageFlag) bool {
	s.pending |= flags
	if s.flushing {
		s.rearm = true
		return false
	}
	if s.scheduled {
		return false
	}
	s.scheduled = true
	return true
}

// Flush hands the accumulated dirty set to render and clears it. When
// render dirties pages again, Flush reports that a follow-up frame must
// be armed.
func (s *frameScheduler) Flush(render func(pageFlag)) bool {
	flags := s.pending
	s.pending = 0
	s.scheduled = false

	if flags == 0 {
		return false
	}

	s.flushing = true
	render(flags)
	s.flushing = false

	if s.rearm {
		s.rearm = false
		s.scheduled = true
		return true
	}
	return false
}

// Pending reports the not-yet-flushed dirty set.
func (s *frameScheduler) Pending() pageFlag {
	return s.pending
}
