package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/cordum/flowline/core/workflow"
)

const defaultNATSURL = "nats://localhost:4222"

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "validate":
		err = runValidateCmd(args, os.Stdout)
	case "run":
		err = runRunCmd(args, os.Stdout, os.Stderr)
	case "trigger":
		err = runTriggerCmd(args, os.Stdout)
	case "schedule":
		err = runScheduleCmd(args, os.Stdout)
	case "templates":
		err = runTemplatesCmd(args, os.Stdout)
	case "help", "-h", "--help":
		usage(os.Stdout)
	default:
		usage(os.Stderr)
		os.Exit(1)
	}
	check(err)
}

type flagSet struct {
	*flag.FlagSet
	natsURL *string
}

func newFlagSet(name string) *flagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	natsURL := fs.String("nats", envOr("NATS_URL", defaultNATSURL), "nats url")
	return &flagSet{FlagSet: fs, natsURL: natsURL}
}

// loadWorkflow reads a workflow definition. YAML is a superset of JSON so
// both formats go through the YAML decoder.
func loadWorkflow(path string) (*workflow.Workflow, error) {
	// #nosec G304 -- CLI explicitly reads local files provided by the operator.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var wf workflow.Workflow
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("parse workflow %s: %w", path, err)
	}
	return &wf, nil
}

func loadInput(path string) (map[string]any, error) {
	payload := map[string]any{}
	if path == "" {
		return payload, nil
	}
	// #nosec G304 -- CLI explicitly reads local files provided by the operator.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}
	return payload, nil
}

func printJSON(w io.Writer, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func usage(w io.Writer) {
	fmt.Fprint(w, `flowlinectl - Flowline workflow CLI

Usage:
  flowlinectl validate <workflow.yaml>
  flowlinectl run <workflow.yaml> [--input input.json] [--events] [--retry-backoff 1s]
  flowlinectl trigger <workflow_id> [--input input.json] [--wait] [--timeout 30s]
  flowlinectl schedule <workflow.yaml> [--count 3]
  flowlinectl templates list
  flowlinectl templates show <template_id>

Global flags:
  --nats   NATS URL used by trigger (default from NATS_URL)
`)
}

func envOr(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func check(err error) {
	if err != nil {
		fail(err.Error())
	}
}

func fail(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
