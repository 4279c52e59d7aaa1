// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package booster

import (
	"fmt"
	"time"
)

// Window is an open interval of time between two alarm length requests.
type Window struct {
	Min, Max time.Duration
}

func (w Window) contains(d time.Duration) bool {
	return d > w.Min && d < w.Max
}

// DefaultWindows matches the cadence of the stock alarm clock, which repeats
// its pattern every second or every three seconds.
var DefaultWindows = []Window{
	{970 * time.Millisecond, 1070 * time.Millisecond},
	{2980 * time.Millisecond, 3030 * time.Millisecond},
}

// alarmState tracks repeated alarm length requests. The zero value is idle.
type alarmState struct {
	tracking bool
	last     time.Time
	count    int
}

func (s alarmState) String() string {
	if !s.tracking {
		return "idle"
	}
	return fmt.Sprintf("tracking(%d)", s.count)
}

// minRepetitions is the number of alarm length requests at a matching
// cadence needed before the alarm is boosted.
const minRepetitions = 2

// shouldBoost decides whether an alarm length request at now is part of a
// repeating alarm. A request outside every window starts tracking again from
// now.
func shouldBoost(now time.Time, s alarmState, windows []Window) (bool, alarmState) {
	if !s.tracking {
		return false, alarmState{tracking: true, last: now, count: 1}
	}
	diff := now.Sub(s.last)
	for _, w := range windows {
		if w.contains(diff) {
			next := alarmState{tracking: true, last: now, count: s.count + 1}
			return next.count >= minRepetitions, next
		}
	}
	return false, alarmState{tracking: true, last: now, count: 1}
}
