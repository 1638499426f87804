// Copyright (c) OpenMMLab. All rights reserved.

package source

import (
	"errors"
	"fmt"
	"time"
)

// OverlapMargin is how far each follow window reaches back into the previous
// one, so events that become searchable late are still picked up.
const OverlapMargin = 10 * time.Second

// ErrInvalidWindow is returned for snapshot windows that start in the future
var ErrInvalidWindow = errors.New("invalid search window")

// Window is the half-open interval [Start, End) bounding one search
type Window struct {
	Start time.Time
	End   time.Time
}

// Windows generates search windows. A follow generator never ends; a
// snapshot generator yields exactly one window.
type Windows struct {
	next      time.Time
	end       time.Time // fixed end for snapshot mode
	snapshot  bool
	exhausted bool
	now       func() time.Time
}

// Follow starts history before now and then slides forward on every call
func Follow(history time.Duration, now func() time.Time) *Windows {
	if now == nil {
		now = time.Now
	}
	return &Windows{
		next: now().Add(-history),
		now:  now,
	}
}

// Snapshot covers [from, from+history) once
func Snapshot(from time.Time, history time.Duration, now func() time.Time) (*Windows, error) {
	if now == nil {
		now = time.Now
	}
	if !from.Before(now()) {
		return nil, fmt.Errorf("%w: snapshot start %s is not in the past", ErrInvalidWindow, from.Format(time.RFC3339))
	}
	return &Windows{
		next:     from,
		end:      from.Add(history),
		snapshot: true,
		now:      now,
	}, nil
}

// Next returns the next window, or false once a snapshot has been consumed
func (w *Windows) Next() (Window, bool) {
	if w.exhausted {
		return Window{}, false
	}

	start := w.next
	var end time.Time
	if w.snapshot {
		end = w.end
		w.exhausted = true
	} else {
		end = w.now()
	}
	w.next = end.Add(-OverlapMargin)

	return Window{Start: start, End: end}, true
}

// IsSnapshot reports whether the generator is bounded
func (w *Windows) IsSnapshot() bool {
	return w.snapshot
}
