// Package slots produces the selectable delivery time slots.
package slots

import (
	"fmt"
	"sync"
)

// Step is the distance between two consecutive slots, in minutes.
const Step = 30

// Count is the number of slots in a day.
const Count = 24 * 60 / Step

var cached = sync.OnceValue(build)

// Generate returns every "HH:MM" slot from 00:00 through 23:30 in ascending
// order. The slice is computed once; callers receive their own copy.
func Generate() []string {
	src := cached()
	out := make([]string, len(src))
	copy(out, src)
	return out
}

// Valid reports whether s is one of the generated slots.
func Valid(s string) bool {
	for _, slot := range cached() {
		if slot == s {
			return true
		}
	}
	return false
}

func build() []string {
	times := make([]string, 0, Count)
	for hour := 0; hour < 24; hour++ {
		for minute := 0; minute < 60; minute += Step {
			times = append(times, fmt.Sprintf("%02d:%02d", hour, minute))
		}
	}
	return times
}
