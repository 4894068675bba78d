package ui

// Virtualization constants for the request-log page. Rows render in
// append batches, the live window is capped, and recycled head rows
// collapse into a top spacer so the scroll offset stays stable.
const (
	logBatchSize    = 80  // rows appended per fill
	logMaxRendered  = 240 // ceiling on simultaneously rendered rows
	logRecycleCount = 60  // head rows recycled per overflow
	logNearBottom   = 180 // scroll distance that counts as "near bottom"
	logRowHeight    = 20  // scroll units per row
)

// logWindow virtualizes a long identity-keyed row list as
// (buffered, visibleStart, visibleEnd, topSpacerHeight).
type logWindow struct {
	buffered     []string // identity per buffered entry
	visibleStart int
	visibleEnd   int
	topSpacer    int // in scroll units, multiples of logRowHeight
}

func newLogWindow() *logWindow {
	return &logWindow{}
}

// SetEntries replaces the buffered identity list. When the previous
// list is a strict prefix of the new one the window is kept and only
// tail rows become appendable; any other change resets the window.
// Returns whether the update was append-only.
func (w *logWindow) SetEntries(identities []string) bool {
	if w.isPrefix(identities) {
		w.buffered = identities
		w.fill() // render new tail rows, existing rows stay put
		return true
	}
	w.buffered = identities
	w.visibleStart = 0
	w.visibleEnd = 0
	w.topSpacer = 0
	w.fill()
	return false
}

// isPrefix reports whether the current buffer is a non-empty prefix of
// the new identity list.
func (w *logWindow) isPrefix(identities []string) bool {
	if len(w.buffered) == 0 || len(identities) < len(w.buffered) {
		return false
	}
	for i, id := range w.buffered {
		if identities[i] != id {
			return false
		}
	}
	return true
}

// fill extends the rendered window by one batch and recycles overflow
// into the top spacer.
func (w *logWindow) fill() {
	w.visibleEnd = min(w.visibleEnd+logBatchSize, len(w.buffered))
	for w.visibleEnd-w.visibleStart > logMaxRendered {
		w.visibleStart += logRecycleCount
		w.topSpacer += logRecycleCount * logRowHeight
	}
}

// OnScroll reacts to a new scroll position and appends the next batch
// when the viewport is near the bottom of the rendered content.
// Returns whether more rows were rendered.
func (w *logWindow) OnScroll(scrollTop, viewportHeight int) bool {
	if w.visibleEnd >= len(w.buffered) {
		return false
	}
	content := w.topSpacer + (w.visibleEnd-w.visibleStart)*logRowHeight
	if content-(scrollTop+viewportHeight) > logNearBottom {
		return false
	}
	before := w.visibleEnd
	w.fill()
	return w.visibleEnd != before
}

// Visible returns the rendered slice bounds into the buffered list.
func (w *logWindow) Visible() (start, end int) {
	return w.visibleStart, w.visibleEnd
}

// Rendered returns the number of currently rendered rows.
func (w *logWindow) Rendered() int {
	return w.visibleEnd - w.visibleStart
}

// TopSpacerRows returns the recycled head height in rows.
func (w *logWindow) TopSpacerRows() int {
	return w.topSpacer / logRowHeight
}

// Buffered returns the total buffered entry count.
func (w *logWindow) Buffered() int {
	return len(w.buffered)
}
