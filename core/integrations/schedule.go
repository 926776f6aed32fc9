package integrations

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/cordum/flowline/core/controlplane/scheduler"
	"github.com/cordum/flowline/core/workflow"
)

// Schedule reports when a schedule trigger fires next. Firing itself is the
// scheduler's job.
type Schedule struct {
	clock clockwork.Clock
}

func NewSchedule(clock clockwork.Clock) *Schedule {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Schedule{clock: clock}
}

func (s *Schedule) Handle(_ context.Context, config, _ map[string]any) (map[string]any, error) {
	var cfg workflow.ScheduleConfig
	if err := workflow.DecodeConfig(config, &cfg); err != nil {
		return nil, fmt.Errorf("decode schedule config: %w", err)
	}
	norm := scheduler.Normalize(cfg)
	next, err := scheduler.NextRun(cfg, s.clock.Now())

	res := map[string]any{"success": true, "scheduleType": norm.ScheduleType}
	switch norm.ScheduleType {
	case scheduler.KindInterval:
		res["message"] = fmt.Sprintf("Scheduled to run every %d %s", norm.Interval, norm.IntervalUnit)
	case scheduler.KindCron:
		res["message"] = fmt.Sprintf("Scheduled with cron expression: %s", norm.Cron)
		res["cronExpression"] = norm.Cron
	case scheduler.KindFixed:
		res["message"] = fmt.Sprintf("Scheduled to run at fixed time: %s", norm.FixedTime)
		res["scheduledTime"] = norm.FixedTime
	default:
		return reject("Unsupported schedule type", "")
	}
	if err != nil {
		res["error"] = err.Error()
		return res, nil
	}
	if !next.IsZero() {
		res["nextRun"] = next.UTC().Format(time.RFC3339)
	}
	return res, nil
}
