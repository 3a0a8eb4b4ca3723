package timeutil

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// LayoutLocal is the canonical local-minute form callers exchange with the API.
const LayoutLocal = "2006-01-02T15:04"

// ErrInvalidTimestamp marks input that no supported layout could parse.
var ErrInvalidTimestamp = errors.New("invalid timestamp")

// Clock interprets caller-supplied local timestamps under one fixed business
// offset so deadline comparisons agree across regions regardless of the host
// timezone. The zero value uses UTC.
type Clock struct {
	Offset *time.Location
	Now    func() time.Time
}

// New returns a Clock anchored to a fixed UTC offset in minutes.
func New(offsetMinutes int) Clock {
	name := fmt.Sprintf("UTC%+03d:%02d", offsetMinutes/60, abs(offsetMinutes%60))
	return Clock{Offset: time.FixedZone(name, offsetMinutes*60), Now: time.Now}
}

func (c Clock) loc() *time.Location {
	if c.Offset == nil {
		return time.UTC
	}
	return c.Offset
}

func (c Clock) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// NowUTC returns the current instant truncated to the second in UTC.
func (c Clock) NowUTC() time.Time {
	return c.now().UTC().Truncate(time.Second)
}

// ParseLocal interprets s as a local-minute timestamp under the fixed offset
// and returns the absolute instant. An explicit zone or offset suffix is
// stripped and ignored before reinterpretation; inputs not matching the
// canonical layout fall back to best-effort parsing.
func (c Clock) ParseLocal(s string) (time.Time, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("%w: empty string", ErrInvalidTimestamp)
	}
	stripped := stripZoneSuffix(trimmed)
	if t, err := time.ParseInLocation(LayoutLocal, stripped, c.loc()); err == nil {
		return t, nil
	}
	for _, layout := range []string{
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
		"2006-01-02",
	} {
		if t, err := time.ParseInLocation(layout, stripped, c.loc()); err == nil {
			return t, nil
		}
	}
	// Last resort: the original string may be fully qualified already.
	if t, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
}

// FormatLocal renders an absolute instant back into the canonical local-minute
// form under the same fixed offset. ParseLocal(FormatLocal(x)) == x for any x
// at minute precision.
func (c Clock) FormatLocal(t time.Time) string {
	return t.In(c.loc()).Format(LayoutLocal)
}

// stripZoneSuffix removes a trailing Z or ±hh:mm / ±hhmm / ±hh offset so the
// remainder can be reinterpreted under the business offset. The wall-clock
// digits win over whatever zone the caller attached.
func stripZoneSuffix(s string) string {
	if strings.HasSuffix(s, "Z") || strings.HasSuffix(s, "z") {
		return s[:len(s)-1]
	}
	// Scan from the right for a +/- that starts an offset, but do not touch
	// the date part (positions before the time separator).
	sep := strings.IndexAny(s, "T ")
	if sep < 0 {
		return s
	}
	for i := len(s) - 1; i > sep; i-- {
		if s[i] != '+' && s[i] != '-' {
			continue
		}
		tail := s[i+1:]
		if isOffsetDigits(tail) {
			return s[:i]
		}
		break
	}
	return s
}

func isOffsetDigits(tail string) bool {
	switch len(tail) {
	case 2: // +hh
		return allDigits(tail)
	case 4: // +hhmm
		return allDigits(tail)
	case 5: // +hh:mm
		return tail[2] == ':' && allDigits(tail[:2]) && allDigits(tail[3:])
	}
	return false
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
