package models

// RefreshAllProgress reports a running refresh cycle to the UI.
type RefreshAllProgress struct {
	Active        bool
	Manual        bool
	Total         int
	Completed     int
	LastTaskLabel string
}

// Remaining is the number of tasks not yet settled.
func (p RefreshAllProgress) Remaining() int {
	if r := p.Total - p.Completed; r > 0 {
		return r
	}
	return 0
}
