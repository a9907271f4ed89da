package policy

import (
	"time"

	"grimm.is/warden/internal/clock"
)

// DefaultExpireGuard is the lead time callers use to avoid installing
// enforcement for a rule about to lapse.
const DefaultExpireGuard = 60 * time.Second

// baseTime is the reference the expiry countdown starts from: the
// activation time when the rule has been activated, else its creation
// timestamp.
func (r *Rule) baseTime() float64 {
	if r.ActivatedTime != nil {
		return *r.ActivatedTime
	}
	return r.Timestamp
}

// ExpireTime returns the absolute time the rule lapses. ok is false
// when the rule has no expiry.
func (r *Rule) ExpireTime() (time.Time, bool) {
	if r.Expire == nil {
		return time.Time{}, false
	}
	return clock.FromUnix(r.baseTime() + float64(*r.Expire)), true
}

// IsExpired reports whether the rule has lapsed as of now.
// Rules without an expiry never lapse.
func (r *Rule) IsExpired(now time.Time) bool {
	when, ok := r.ExpireTime()
	if !ok {
		return false
	}
	return when.Before(now)
}

// WillExpireSoon reports whether the rule has lapsed or will within the
// guard window. guard <= 0 selects DefaultExpireGuard.
func (r *Rule) WillExpireSoon(now time.Time, guard time.Duration) bool {
	if guard <= 0 {
		guard = DefaultExpireGuard
	}
	return r.IsExpired(now.Add(guard))
}

// ExpireDiffFromNow returns how long until the rule lapses (negative
// when already lapsed). ok is false when the rule has no expiry.
func (r *Rule) ExpireDiffFromNow(now time.Time) (time.Duration, bool) {
	when, ok := r.ExpireTime()
	if !ok {
		return 0, false
	}
	return when.Sub(now), true
}

// InSchedule reports whether at falls inside the rule's recurring
// window: the interval [fire, fire+duration) around the most recent
// cron fire at or before at, evaluated in loc. Rules without a schedule
// (or with a cron expression that failed to parse) are never in
// schedule.
func (r *Rule) InSchedule(at time.Time, loc *time.Location) bool {
	if !r.IsScheduled() || r.cron == nil {
		return false
	}
	if loc == nil {
		loc = time.Local
	}
	local := at.In(loc)
	fire := r.cron.Prev(local)
	if fire.IsZero() {
		return false
	}
	end := fire.Add(time.Duration(r.Duration * float64(time.Second)))
	return !local.Before(fire) && local.Before(end)
}

// NextWindow returns when the rule's recurring window next opens,
// strictly after the given time, evaluated in loc. ok is false when the
// rule has no valid schedule or no fire within the search horizon.
func (r *Rule) NextWindow(after time.Time, loc *time.Location) (time.Time, bool) {
	if !r.IsScheduled() || r.cron == nil {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.Local
	}
	next := r.cron.Next(after.In(loc))
	if next.IsZero() {
		return time.Time{}, false
	}
	return next, true
}
