package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/cordum/flowline/core/infra/bus"
)

// requester is the request half of bus.NatsBus.
type requester interface {
	Request(subject string, v, out any, timeout time.Duration) error
}

func runTriggerCmd(args []string, stdout io.Writer) error {
	fs := newFlagSet("trigger")
	input := fs.String("input", "", "input json file")
	wait := fs.Bool("wait", false, "wait for the execution to finish")
	timeout := fs.Duration("timeout", 30*time.Second, "request timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return errors.New("workflow id required")
	}
	data, err := loadInput(*input)
	if err != nil {
		return err
	}
	nb, err := bus.NewNatsBus(*fs.natsURL)
	if err != nil {
		return err
	}
	defer nb.Close()

	reply, err := trigger(nb, bus.RunRequest{WorkflowID: fs.Arg(0), Data: data, Wait: *wait}, *timeout)
	if err != nil {
		return err
	}
	return printJSON(stdout, reply)
}

func trigger(r requester, req bus.RunRequest, timeout time.Duration) (*bus.RunReply, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	var reply bus.RunReply
	if err := r.Request(bus.SubjectRun, req, &reply, timeout); err != nil {
		return nil, fmt.Errorf("request run: %w", err)
	}
	if reply.ExecutionID == "" && reply.Error != "" {
		return &reply, errors.New(reply.Error)
	}
	return &reply, nil
}
