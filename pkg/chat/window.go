// ABOUTME: Time window applied to message listings
// ABOUTME: Builds the Chat createTime filter and re-checks each returned message

package chat

import (
	"fmt"
	"time"

	"google.golang.org/api/chat/v1"
)

// Window is the open interval (Start, End) on message createTime.
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow validates a range. A zero end selects the calendar day that
// contains start, in start's location.
func NewWindow(start, end time.Time) (Window, error) {
	if start.IsZero() {
		if !end.IsZero() {
			return Window{}, fmt.Errorf("%w: end date given without a start date", ErrInvalidArgument)
		}
		return Window{}, nil
	}

	if end.IsZero() {
		day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
		return Window{Start: day, End: day.AddDate(0, 0, 1)}, nil
	}

	if !end.After(start) {
		return Window{}, fmt.Errorf("%w: end date must be after start date", ErrInvalidArgument)
	}

	return Window{Start: start, End: end}, nil
}

// Unbounded reports whether the window admits every message.
func (w Window) Unbounded() bool {
	return w.Start.IsZero() && w.End.IsZero()
}

// Filter renders the window for the messages.list filter parameter.
func (w Window) Filter() string {
	if w.Unbounded() {
		return ""
	}
	return fmt.Sprintf(`createTime > "%s" AND createTime < "%s"`,
		w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
}

// Contains reports whether msg was created inside the window. Messages with
// an unreadable createTime are kept.
func (w Window) Contains(msg *chat.Message) bool {
	if w.Unbounded() || msg.CreateTime == "" {
		return true
	}
	created, err := time.Parse(time.RFC3339Nano, msg.CreateTime)
	if err != nil {
		return true
	}
	return created.After(w.Start) && created.Before(w.End)
}
