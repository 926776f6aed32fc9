package scheduler

import (
	"testing"

	"github.com/cordum/flowline/core/workflow"
)

func TestHashScheduleIgnoresUnusedFields(t *testing.T) {
	base := workflow.ScheduleConfig{ScheduleType: "interval", Interval: 5, IntervalUnit: "minutes"}
	noisy := base
	noisy.Cron = "0 0 * * *"
	noisy.FixedTime = "2026-01-01T00:00"
	if HashSchedule(base) != HashSchedule(noisy) {
		t.Fatalf("unused fields must not change the fingerprint")
	}
	if HashSchedule(base) != HashSchedule(workflow.ScheduleConfig{}) {
		t.Fatalf("defaults should hash like the explicit config")
	}
	changed := base
	changed.Interval = 10
	if HashSchedule(base) == HashSchedule(changed) {
		t.Fatalf("interval change must change the fingerprint")
	}
	cron := workflow.ScheduleConfig{ScheduleType: "cron", Cron: "@hourly"}
	if HashSchedule(cron) == HashSchedule(base) {
		t.Fatalf("different kinds must differ")
	}
}

func TestJobStateMachine(t *testing.T) {
	j := newJob("k", "wf", "n", "fp", plan{kind: KindInterval})
	if j.state() != JobUnscheduled {
		t.Fatalf("unexpected initial state %s", j.state())
	}
	if j.transition(triggerFire) {
		t.Fatalf("unscheduled job must not fire")
	}
	for _, step := range []struct {
		trigger jobTrigger
		want    JobState
	}{
		{triggerArm, JobScheduled},
		{triggerFire, JobFiring},
		{triggerRearm, JobScheduled},
	} {
		if !j.transition(step.trigger) || j.state() != step.want {
			t.Fatalf("after %s: state %s, want %s", step.trigger, j.state(), step.want)
		}
	}
	j.halt()
	j.halt()
	if j.state() != JobStopped {
		t.Fatalf("expected stopped, got %s", j.state())
	}
	if j.transition(triggerFire) {
		t.Fatalf("stopped job must not fire")
	}
	select {
	case <-j.stop:
	default:
		t.Fatalf("halt should close the stop channel")
	}
}
