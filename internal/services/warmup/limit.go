// Package warmup computes a tenant's daily action budget.
package warmup

import (
	"time"

	"github.com/galihcitta/multi-tenant-outreach-engine/internal/models"
)

// EffectiveLimit returns how many deliveries the tenant may make on the
// calendar day containing now. With warm-up enabled the budget ramps from
// StartLimit by DailyIncrement per elapsed day and never exceeds the target.
func EffectiveLimit(tenant models.Tenant, now time.Time) int {
	target := tenant.DailyTargetLimit
	if target < 0 {
		target = 0
	}

	w := tenant.Warmup
	if !w.Enabled || w.StartedAt == nil {
		return target
	}

	days := CalendarDaysBetween(*w.StartedAt, now)
	if days < 0 {
		days = 0
	}

	start := max(w.StartLimit, 0)
	increment := max(w.DailyIncrement, 0)

	ramp := start + days*increment
	if ramp < start {
		// overflow on absurd increments
		return target
	}
	return min(ramp, target)
}

// CalendarDaysBetween counts date boundaries crossed from from to to, in to's
// location. 23:59 and 00:01 of the next day are one day apart.
func CalendarDaysBetween(from, to time.Time) int {
	loc := to.Location()
	fy, fm, fd := from.In(loc).Date()
	ty, tm, td := to.Date()

	fromDay := time.Date(fy, fm, fd, 0, 0, 0, 0, time.UTC)
	toDay := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	return int(toDay.Sub(fromDay).Hours() / 24)
}

// StartOfDay is local midnight of the day containing t.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// NextDay is local midnight after t.
func NextDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, t.Location())
}

// ApplyToggle updates a warm-up config for an operator enable/disable.
// Enabling stamps StartedAt the first time; disabling clears it so a later
// enable restarts the ramp.
func ApplyToggle(cfg models.WarmupConfig, enable bool, now time.Time) models.WarmupConfig {
	cfg.Enabled = enable
	switch {
	case enable && cfg.StartedAt == nil:
		stamped := now
		cfg.StartedAt = &stamped
	case !enable:
		cfg.StartedAt = nil
	}
	return cfg
}
