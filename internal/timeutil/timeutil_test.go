package timeutil_test

import (
	"errors"
	"testing"
	"time"

	"rewardline/internal/timeutil"
)

func TestParseLocalCanonical(t *testing.T) {
	c := timeutil.New(480) // UTC+8
	got, err := c.ParseLocal("2026-03-01T08:00")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestParseLocalIgnoresZoneSuffix(t *testing.T) {
	c := timeutil.New(480)
	// Whatever zone the caller attached, the wall-clock digits are
	// reinterpreted under the business offset.
	want := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for _, in := range []string{
		"2026-03-01T08:00Z",
		"2026-03-01T08:00+05:30",
		"2026-03-01T08:00-0700",
		"2026-03-01T08:00+02",
	} {
		got, err := c.ParseLocal(in)
		if err != nil {
			t.Fatalf("parse %q: %v", in, err)
		}
		if !got.Equal(want) {
			t.Fatalf("parse %q = %s, want %s", in, got, want)
		}
	}
}

func TestParseLocalFallbackLayouts(t *testing.T) {
	c := timeutil.New(0)
	for _, in := range []string{
		"2026-03-01T08:00:30",
		"2026-03-01 08:00:30",
		"2026-03-01 08:00",
		"2026-03-01",
	} {
		if _, err := c.ParseLocal(in); err != nil {
			t.Fatalf("parse %q: %v", in, err)
		}
	}
}

func TestParseLocalInvalid(t *testing.T) {
	c := timeutil.New(480)
	for _, in := range []string{"", "   ", "yesterday", "2026-13-40T99:99"} {
		_, err := c.ParseLocal(in)
		if !errors.Is(err, timeutil.ErrInvalidTimestamp) {
			t.Fatalf("parse %q: err = %v, want ErrInvalidTimestamp", in, err)
		}
	}
}

func TestFormatLocalRoundTrip(t *testing.T) {
	c := timeutil.New(480)
	instant := time.Date(2026, 3, 1, 2, 30, 0, 0, time.UTC)
	s := c.FormatLocal(instant)
	if s != "2026-03-01T10:30" {
		t.Fatalf("format = %q", s)
	}
	back, err := c.ParseLocal(s)
	if err != nil {
		t.Fatalf("round trip parse: %v", err)
	}
	if !back.Equal(instant) {
		t.Fatalf("round trip: got %s, want %s", back, instant)
	}
}

func TestNowUTCTruncatesToSecond(t *testing.T) {
	c := timeutil.New(0)
	c.Now = func() time.Time {
		return time.Date(2026, 3, 1, 12, 0, 0, 987654321, time.FixedZone("X", 3600))
	}
	got := c.NowUTC()
	if got.Nanosecond() != 0 {
		t.Fatalf("nanoseconds survived: %s", got)
	}
	if got.Location() != time.UTC {
		t.Fatalf("not UTC: %s", got)
	}
}

func TestZeroClockUsesUTC(t *testing.T) {
	var c timeutil.Clock
	got, err := c.ParseLocal("2026-03-01T08:00")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !got.Equal(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)) {
		t.Fatalf("zero clock parsed %s", got)
	}
}
