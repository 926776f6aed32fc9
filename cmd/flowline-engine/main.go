package main

import (
	"os"

	"github.com/cordum/flowline/core/controlplane/workflowengine"
	"github.com/cordum/flowline/core/infra/buildinfo"
	"github.com/cordum/flowline/core/infra/config"
	"github.com/cordum/flowline/core/infra/logging"
)

func main() {
	buildinfo.Log("flowline-engine")
	cfg := config.Load()
	if err := workflowengine.Run(cfg); err != nil {
		logging.Error("flowline-engine", "engine exited", "error", err)
		os.Exit(1)
	}
}
