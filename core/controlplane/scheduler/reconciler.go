package scheduler

import (
	"context"
	"fmt"

	"github.com/cordum/flowline/core/infra/logging"
	"github.com/cordum/flowline/core/workflow"
)

type wantedJob struct {
	workflowID  string
	nodeID      string
	config      workflow.ScheduleConfig
	fingerprint string
}

// Sync reconciles the job registry against the stored workflows: new
// schedule triggers are registered, changed ones re-registered and jobs of
// removed, inactive or edited-away nodes stopped. Registration errors are
// logged once per config and leave the job unscheduled.
func (s *Scheduler) Sync(ctx context.Context) error {
	wfs, err := s.store.ListWorkflows(ctx)
	if err != nil {
		return fmt.Errorf("list workflows: %w", err)
	}
	wanted := map[string]wantedJob{}
	for _, wf := range wfs {
		if wf == nil || wf.Status != workflow.WorkflowActive {
			continue
		}
		for _, n := range wf.Nodes {
			if n.Type != workflow.NodeTrigger || n.Subtype != workflow.SubtypeSchedule {
				continue
			}
			var cfg workflow.ScheduleConfig
			if err := workflow.DecodeConfig(n.Config, &cfg); err != nil {
				logging.Warn(logComponent, "ignoring undecodable schedule config", "workflow_id", wf.ID, "node_id", n.ID, "error", err)
				continue
			}
			wanted[JobKey(wf.ID, n.ID)] = wantedJob{
				workflowID:  wf.ID,
				nodeID:      n.ID,
				config:      Normalize(cfg),
				fingerprint: HashSchedule(cfg),
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	var stale []*job
	for key, j := range s.jobs {
		w, ok := wanted[key]
		if ok && w.fingerprint == j.fingerprint {
			continue
		}
		delete(s.jobs, key)
		stale = append(stale, j)
		if ok {
			logging.Info(logComponent, "schedule changed, re-registering", "job_id", key)
		} else {
			logging.Info(logComponent, "schedule no longer wanted", "job_id", key)
		}
	}
	for key := range s.rejected {
		if _, ok := wanted[key]; !ok {
			delete(s.rejected, key)
		}
	}

	now := s.clock.Now()
	for key, w := range wanted {
		if _, ok := s.jobs[key]; ok {
			continue
		}
		p, err := translate(w.config, now)
		if err != nil {
			if s.rejected[key] != w.fingerprint {
				s.rejected[key] = w.fingerprint
				s.metrics.IncScheduleError(w.config.ScheduleType)
				logging.Warn(logComponent, "schedule not registered", "job_id", key, "schedule_type", w.config.ScheduleType, "error", err)
			}
			continue
		}
		delete(s.rejected, key)
		s.start(newJob(key, w.workflowID, w.nodeID, w.fingerprint, p))
		logging.Info(logComponent, "job scheduled", "job_id", key, "kind", p.kind, "expression", p.expression)
	}
	s.metrics.SetScheduledJobs(len(s.jobs))

	for _, j := range stale {
		j.halt()
	}
	return nil
}
