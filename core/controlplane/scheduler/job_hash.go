package scheduler

import (
	"crypto/sha256"
	"encoding/hex"

	json "github.com/goccy/go-json"

	"github.com/cordum/flowline/core/workflow"
)

// HashSchedule computes a deterministic fingerprint of a normalized schedule
// config. Fields that do not apply to the schedule type are excluded, so
// editing an unused field does not reschedule the job.
func HashSchedule(cfg workflow.ScheduleConfig) string {
	cfg = Normalize(cfg)
	view := struct {
		Type     string `json:"t"`
		Cron     string `json:"c,omitempty"`
		Interval int    `json:"i,omitempty"`
		Unit     string `json:"u,omitempty"`
		Fixed    string `json:"f,omitempty"`
	}{Type: cfg.ScheduleType}
	switch cfg.ScheduleType {
	case KindCron:
		view.Cron = cfg.Cron
	case KindInterval:
		view.Interval = int(cfg.Interval)
		view.Unit = cfg.IntervalUnit
	case KindFixed:
		view.Fixed = cfg.FixedTime
	}
	data, _ := json.Marshal(view)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
