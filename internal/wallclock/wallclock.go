// Package wallclock implements the microsecond-precision wall-clock
// arithmetic the transfer engine schedules against: a (seconds,
// microseconds) pair, comparison, addition, and saturating subtraction.
package wallclock

import "syscall"

// Time is a (seconds, microseconds) pair, always normalised:
// 0 <= Usec < 1_000_000.
type Time struct {
	Sec  int64
	Usec int64
}

// Now samples the wall clock with microsecond resolution.
func Now() Time {
	var tv syscall.Timeval
	if err := syscall.Gettimeofday(&tv); err != nil {
		return Time{}
	}
	return Time{Sec: int64(tv.Sec), Usec: int64(tv.Usec)}
}

// FromMillis builds a Time from a millisecond count.
func FromMillis(ms int64) Time {
	return Time{Sec: ms / 1000, Usec: (ms % 1000) * 1000}
}

// Compare returns -1, 0, or 1 as a is before, equal to, or after b.
func Compare(a, b Time) int {
	if a.Sec < b.Sec {
		return -1
	}
	if a.Sec > b.Sec {
		return 1
	}
	if a.Usec < b.Usec {
		return -1
	}
	if a.Usec > b.Usec {
		return 1
	}
	return 0
}

// Before reports whether a happens strictly before b.
func Before(a, b Time) bool { return Compare(a, b) < 0 }

// Add returns a+b, normalising any microsecond carry.
func Add(a, b Time) Time {
	sec := a.Sec + b.Sec
	usec := a.Usec + b.Usec
	if usec >= 1_000_000 {
		sec++
		usec -= 1_000_000
	}
	return Time{Sec: sec, Usec: usec}
}

// Sub returns a-b. If a is before b the result underflows: Sub returns
// the zero Time and ok=false, which callers treat as "deadline already
// passed, don't wait".
func Sub(a, b Time) (delta Time, ok bool) {
	if Compare(a, b) < 0 {
		return Time{}, false
	}
	sec := a.Sec - b.Sec
	usec := a.Usec - b.Usec
	if usec < 0 {
		sec--
		usec += 1_000_000
	}
	return Time{Sec: sec, Usec: usec}, true
}

// Millis returns the duration rounded down to whole milliseconds, the
// unit golang.org/x/sys/unix.Poll's timeout parameter expects.
func (t Time) Millis() int64 {
	return t.Sec*1000 + t.Usec/1000
}
