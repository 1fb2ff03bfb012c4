package stock

import "time"

// =============================================================================
// WINDOW - Optional date range for summaries and replay
// =============================================================================

// Window is an inclusive [From, To] date range. A zero bound is open.
type Window struct {
	From time.Time
	To   time.Time
}

// All is the unbounded window.
var All = Window{}

// NewWindow builds a window from optional bounds.
func NewWindow(from, to *time.Time) Window {
	var w Window
	if from != nil {
		w.From = *from
	}
	if to != nil {
		w.To = *to
	}
	return w
}

// IsAll reports whether both bounds are open.
func (w Window) IsAll() bool { return w.From.IsZero() && w.To.IsZero() }

// Contains returns true if t is within [From, To].
func (w Window) Contains(t time.Time) bool {
	if !w.From.IsZero() && t.Before(w.From) {
		return false
	}
	if !w.To.IsZero() && t.After(w.To) {
		return false
	}
	return true
}

// Validate rejects a window whose end precedes its start.
func (w Window) Validate() error {
	if !w.From.IsZero() && !w.To.IsZero() && w.To.Before(w.From) {
		return ErrInvalidWindow
	}
	return nil
}

func (w Window) String() string {
	from, to := "-inf", "+inf"
	if !w.From.IsZero() {
		from = w.From.Format(time.RFC3339)
	}
	if !w.To.IsZero() {
		to = w.To.Format(time.RFC3339)
	}
	return "[" + from + ", " + to + "]"
}

// EndOfDay returns the last instant of t's calendar day in UTC.
// Date-only upper bounds from the API are widened with it.
func EndOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 23, 59, 59, int(time.Second-time.Nanosecond), time.UTC)
}
