package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cordum/flowline/core/infra/templates"
)

func runTemplatesCmd(args []string, stdout io.Writer) error {
	if len(args) < 1 {
		return errors.New("usage: templates (list|show <template_id>)")
	}
	catalog, err := templates.Builtin()
	if err != nil {
		return err
	}
	switch args[0] {
	case "list":
		for _, t := range catalog.List() {
			fmt.Fprintf(stdout, "%-22s %-12s %s [%s]\n", t.ID, t.Category, t.Name, strings.Join(t.Tags, ","))
		}
		return nil
	case "show":
		if len(args) < 2 {
			return errors.New("template id required")
		}
		wf, err := catalog.Instantiate(args[1], "")
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(wf)
	default:
		return fmt.Errorf("unknown templates command %q", args[0])
	}
}
