package clock

import (
	"testing"
	"time"
)

func TestMockClock(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewMockClock(base)

	if !c.Now().Equal(base) {
		t.Errorf("Expected %v, got %v", base, c.Now())
	}

	c.Advance(90 * time.Second)
	if got := c.Since(base); got != 90*time.Second {
		t.Errorf("Expected 90s since base, got %v", got)
	}

	c.Set(base.Add(time.Hour))
	if got := c.Until(base.Add(2 * time.Hour)); got != time.Hour {
		t.Errorf("Expected 1h until, got %v", got)
	}
}

func TestUnixConversion(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 500_000_000, time.UTC)
	sec := ToUnix(base)
	back := FromUnix(sec)
	if d := back.Sub(base); d > time.Millisecond || d < -time.Millisecond {
		t.Errorf("Round-trip drifted by %v", d)
	}
}
