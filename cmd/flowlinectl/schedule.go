package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cordum/flowline/core/controlplane/scheduler"
	"github.com/cordum/flowline/core/workflow"
)

func runScheduleCmd(args []string, stdout io.Writer) error {
	fs := newFlagSet("schedule")
	count := fs.Int("count", 3, "number of upcoming runs to print")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return errors.New("workflow file required")
	}
	wf, err := loadWorkflow(fs.Arg(0))
	if err != nil {
		return err
	}
	return printSchedule(stdout, wf, time.Now().UTC(), *count)
}

// printSchedule lists the upcoming fire times of every schedule trigger.
func printSchedule(w io.Writer, wf *workflow.Workflow, now time.Time, count int) error {
	found := false
	for _, n := range wf.Nodes {
		if n.Type != workflow.NodeTrigger || n.Subtype != workflow.SubtypeSchedule {
			continue
		}
		found = true
		var cfg workflow.ScheduleConfig
		if err := workflow.DecodeConfig(n.Config, &cfg); err != nil {
			return fmt.Errorf("node %s: %w", n.ID, err)
		}
		cfg = scheduler.Normalize(cfg)
		fmt.Fprintf(w, "%s (%s):\n", n.Name(), cfg.ScheduleType)
		at := now
		for i := 0; i < count; i++ {
			next, err := scheduler.NextRun(cfg, at)
			if err != nil {
				fmt.Fprintf(w, "  %v\n", err)
				break
			}
			fmt.Fprintf(w, "  %s\n", next.Format(time.RFC3339))
			if cfg.ScheduleType == scheduler.KindFixed {
				break
			}
			at = next
		}
	}
	if !found {
		fmt.Fprintln(w, "no schedule triggers")
	}
	return nil
}
