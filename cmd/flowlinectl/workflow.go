package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/cordum/flowline/core/infra/redisutil"
	"github.com/cordum/flowline/core/infra/secrets"
	"github.com/cordum/flowline/core/integrations"
	"github.com/cordum/flowline/core/workflow"
)

func runValidateCmd(args []string, stdout io.Writer) error {
	fs := newFlagSet("validate")
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
	if err := workflow.Validate(wf); err != nil {
		var verr *workflow.ValidationError
		if errors.As(err, &verr) {
			for _, p := range verr.Problems {
				fmt.Fprintln(stdout, "  -", p)
			}
		}
		return fmt.Errorf("%s: invalid workflow", fs.Arg(0))
	}
	starts := workflow.FindStartNodes(wf.Nodes, wf.Edges)
	fmt.Fprintf(stdout, "%s: ok (%d nodes, %d edges, %d start nodes)\n", fs.Arg(0), len(wf.Nodes), len(wf.Edges), len(starts))
	return nil
}

type runReport struct {
	Execution *workflow.WorkflowExecution `json:"execution"`
	Nodes     []*workflow.NodeExecution   `json:"nodes"`
}

type localOptions struct {
	redis        redis.UniversalClient
	events       io.Writer
	retryBackoff time.Duration
}

func runRunCmd(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("run")
	input := fs.String("input", "", "input json file")
	events := fs.Bool("events", false, "print engine events to stderr")
	backoff := fs.Duration("retry-backoff", time.Second, "linear retry backoff step")
	redisURL := fs.String("redis", envOr("REDIS_URL", ""), "redis url for database nodes")
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
	data, err := loadInput(*input)
	if err != nil {
		return err
	}

	ctx := context.Background()
	opts := localOptions{retryBackoff: *backoff}
	if *events {
		opts.events = stderr
	}
	if *redisURL != "" {
		client, err := redisutil.Connect(ctx, *redisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		opts.redis = client
	}

	report, runErr := runLocal(ctx, wf, data, opts)
	if report == nil {
		return runErr
	}
	if err := printJSON(stdout, report); err != nil {
		return err
	}
	if runErr != nil {
		return fmt.Errorf("execution %s failed: %w", report.Execution.ID, runErr)
	}
	return nil
}

// runLocal executes wf against an in-memory store and returns its trace.
func runLocal(ctx context.Context, wf *workflow.Workflow, data map[string]any, opts localOptions) (*runReport, error) {
	store, err := workflow.NewMemoryStore()
	if err != nil {
		return nil, err
	}
	defer store.Close()

	reg := workflow.NewRegistry()
	integrations.RegisterDefaults(reg, integrations.Deps{Redis: opts.redis})
	engine := workflow.NewEngine(store, reg).
		WithRetry(0, opts.retryBackoff).
		WithSecrets(secrets.EnvLookup("FLOWLINE_SECRET_"))
	if opts.events != nil {
		enc := json.NewEncoder(opts.events)
		engine.WithEvents(workflow.EventSinkFunc(func(_ context.Context, evt workflow.Event) {
			_ = enc.Encode(evt)
		}))
	}
	svc := workflow.NewService(store, engine)

	saved, err := svc.SaveWorkflow(ctx, wf)
	if err != nil {
		return nil, err
	}
	exec, runErr := svc.Run(ctx, saved.ID, data)
	if exec == nil {
		return nil, runErr
	}
	nodes, err := store.ListNodeExecutions(ctx, exec.ID)
	if err != nil {
		return nil, err
	}
	final, err := store.GetExecution(ctx, exec.ID)
	if err != nil {
		return nil, err
	}
	return &runReport{Execution: final, Nodes: nodes}, runErr
}
