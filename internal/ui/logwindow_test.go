package ui

import (
	"fmt"
	"testing"
)

func identities(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("id-%d", i)
	}
	return ids
}

func TestLogWindow_FirstRenderIsOneBatch(t *testing.T) {
	t.Parallel()

	w := newLogWindow()
	w.SetEntries(identities(260))

	if got := w.Rendered(); got != logBatchSize {
		t.Fatalf("Rendered = %d, want %d", got, logBatchSize)
	}
	if w.TopSpacerRows() != 0 {
		t.Fatalf("TopSpacerRows = %d, want 0", w.TopSpacerRows())
	}
}

func TestLogWindow_ScrollNearBottomAppendsBatch(t *testing.T) {
	t.Parallel()

	w := newLogWindow()
	w.SetEntries(identities(260))

	if !w.OnScroll(2800, 600) {
		t.Fatal("scroll near bottom did not append a batch")
	}
	if got := w.Rendered(); got <= logBatchSize || got > logMaxRendered {
		t.Fatalf("Rendered = %d, want >%d and <=%d", got, logBatchSize, logMaxRendered)
	}
}

func TestLogWindow_ScrollFarFromBottomAppendsNothing(t *testing.T) {
	t.Parallel()

	w := newLogWindow()
	w.SetEntries(identities(260))

	if w.OnScroll(0, 200) {
		t.Fatal("scroll at top appended a batch")
	}
	if got := w.Rendered(); got != logBatchSize {
		t.Fatalf("Rendered = %d, want %d", got, logBatchSize)
	}
}

func TestLogWindow_CapAndRecycleIntoSpacer(t *testing.T) {
	t.Parallel()

	w := newLogWindow()
	w.SetEntries(identities(400))

	// Scroll to the bottom repeatedly until no more rows appear.
	prevSpacer := 0
	for i := 0; i < 20; i++ {
		content := w.TopSpacerRows()*logRowHeight + w.Rendered()*logRowHeight
		if !w.OnScroll(content, 0) {
			break
		}
		if w.TopSpacerRows() < prevSpacer {
			t.Fatalf("top spacer shrank: %d -> %d", prevSpacer, w.TopSpacerRows())
		}
		prevSpacer = w.TopSpacerRows()
	}

	if got := w.Rendered(); got > logMaxRendered {
		t.Fatalf("Rendered = %d, want <= %d", got, logMaxRendered)
	}
	start, end := w.Visible()
	if end != 400 {
		t.Fatalf("visibleEnd = %d, want 400 (fully scrolled)", end)
	}
	if start != 400-w.Rendered() {
		t.Fatalf("visibleStart = %d, inconsistent with Rendered %d", start, w.Rendered())
	}
	if w.TopSpacerRows() != start {
		t.Fatalf("TopSpacerRows = %d, want %d (recycled head)", w.TopSpacerRows(), start)
	}
}

func TestLogWindow_AppendOnlyKeepsWindow(t *testing.T) {
	t.Parallel()

	w := newLogWindow()
	w.SetEntries(identities(100))
	w.OnScroll(100*logRowHeight, 0) // render everything
	start, _ := w.Visible()

	grown := identities(130)
	if !w.SetEntries(grown) {
		t.Fatal("strict prefix growth not detected as append-only")
	}
	newStart, newEnd := w.Visible()
	if newStart != start {
		t.Fatalf("visibleStart moved on append: %d -> %d", start, newStart)
	}
	if newEnd != 130 {
		t.Fatalf("visibleEnd = %d, want 130 (tail appended)", newEnd)
	}
}

func TestLogWindow_ChangedListResetsWindow(t *testing.T) {
	t.Parallel()

	w := newLogWindow()
	w.SetEntries(identities(400))
	for range 5 {
		content := (w.TopSpacerRows() + w.Rendered()) * logRowHeight
		w.OnScroll(content, 0)
	}
	if w.TopSpacerRows() == 0 {
		t.Fatal("test setup: expected recycled rows before reset")
	}

	// A different head identity is not an append; the window resets.
	changed := identities(400)
	changed[0] = "other-0"
	if w.SetEntries(changed) {
		t.Fatal("changed head treated as append-only")
	}
	if w.TopSpacerRows() != 0 {
		t.Fatalf("TopSpacerRows = %d after reset, want 0", w.TopSpacerRows())
	}
	if got := w.Rendered(); got != logBatchSize {
		t.Fatalf("Rendered = %d after reset, want %d", got, logBatchSize)
	}
}

func TestLogWindow_ShrunkListResets(t *testing.T) {
	t.Parallel()

	w := newLogWindow()
	w.SetEntries(identities(100))
	if w.SetEntries(identities(50)) {
		t.Fatal("shrunk list treated as append-only")
	}
	if got := w.Rendered(); got != 50 {
		t.Fatalf("Rendered = %d, want 50", got)
	}
}
