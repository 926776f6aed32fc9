package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cordum/flowline/core/infra/logging"
	"github.com/cordum/flowline/core/workflow"
)

const (
	defaultInterval     = 5
	defaultIntervalUnit = "minutes"
)

var (
	cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

	fixedLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02T15:04"}
)

// Normalize fills the defaults of a schedule trigger config.
func Normalize(cfg workflow.ScheduleConfig) workflow.ScheduleConfig {
	cfg.ScheduleType = strings.ToLower(strings.TrimSpace(cfg.ScheduleType))
	if cfg.ScheduleType == "" {
		cfg.ScheduleType = KindInterval
	}
	if cfg.ScheduleType == KindInterval {
		if cfg.Interval <= 0 {
			cfg.Interval = defaultInterval
		}
		cfg.IntervalUnit = strings.ToLower(strings.TrimSpace(cfg.IntervalUnit))
		if cfg.IntervalUnit == "" {
			cfg.IntervalUnit = defaultIntervalUnit
		}
	}
	cfg.Cron = strings.TrimSpace(cfg.Cron)
	cfg.FixedTime = strings.TrimSpace(cfg.FixedTime)
	return cfg
}

// plan is a schedule translated into something that can compute fire times.
type plan struct {
	kind       string
	expression string
	schedule   cron.Schedule
}

// once fires a single time at at.
type once struct {
	at time.Time
}

func (o once) Next(t time.Time) time.Time {
	if t.Before(o.at) {
		return o.at
	}
	return time.Time{}
}

// translate turns a normalized config into a plan. now is only consulted for
// fixed schedules, which must lie in the future.
func translate(cfg workflow.ScheduleConfig, now time.Time) (plan, error) {
	switch cfg.ScheduleType {
	case KindCron:
		if cfg.Cron == "" {
			return plan{}, fmt.Errorf("cron expression required")
		}
		sched, err := cronParser.Parse(cfg.Cron)
		if err != nil {
			return plan{}, fmt.Errorf("parse cron %q: %w", cfg.Cron, err)
		}
		return plan{kind: KindCron, expression: cfg.Cron, schedule: sched}, nil
	case KindInterval:
		return intervalPlan(int(cfg.Interval), cfg.IntervalUnit)
	case KindFixed:
		at, err := parseFixedTime(cfg.FixedTime)
		if err != nil {
			return plan{}, err
		}
		if !at.After(now) {
			return plan{}, fmt.Errorf("%w: %s", ErrFixedTimePassed, at.Format(time.RFC3339))
		}
		return plan{kind: KindFixed, expression: at.Format(time.RFC3339), schedule: once{at: at}}, nil
	default:
		return plan{}, fmt.Errorf("%w: %q", ErrUnsupportedSchedule, cfg.ScheduleType)
	}
}

// intervalPlan maps an interval onto the cron expression that fires on the
// matching wall-clock boundaries. Seconds, and intervals too large for a
// cron step, fall back to a constant delay. An unknown unit is read as
// minutes.
func intervalPlan(n int, unit string) (plan, error) {
	var expr string
	var unitDur time.Duration
	switch unit {
	case "seconds":
		unitDur = time.Second
	case "minutes":
		unitDur = time.Minute
		if n <= 59 {
			expr = fmt.Sprintf("*/%d * * * *", n)
		}
	case "hours":
		unitDur = time.Hour
		if n <= 23 {
			expr = fmt.Sprintf("0 */%d * * *", n)
		}
	case "days":
		unitDur = 24 * time.Hour
		if n <= 31 {
			expr = fmt.Sprintf("0 0 */%d * *", n)
		}
	default:
		logging.Warn(logComponent, "unknown interval unit, using minutes", "unit", unit)
		return intervalPlan(n, defaultIntervalUnit)
	}
	if expr == "" {
		every := time.Duration(n) * unitDur
		return plan{kind: KindInterval, expression: "@every " + every.String(), schedule: cron.Every(every)}, nil
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return plan{}, fmt.Errorf("parse interval %q: %w", expr, err)
	}
	return plan{kind: KindInterval, expression: expr, schedule: sched}, nil
}

func parseFixedTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, fmt.Errorf("fixedTime required")
	}
	for _, layout := range fixedLayouts {
		if t, err := time.ParseInLocation(layout, v, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid fixedTime %q", v)
}

// NextRun reports when cfg would next fire after now.
func NextRun(cfg workflow.ScheduleConfig, now time.Time) (time.Time, error) {
	p, err := translate(Normalize(cfg), now)
	if err != nil {
		return time.Time{}, err
	}
	return p.schedule.Next(now), nil
}
