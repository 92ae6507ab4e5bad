package pipeline

import (
	"context"
	"fmt"

	"github.com/alecthomas/kong"
)

// RunCmd is the kong payload bound to an exposed pipeline. Positional args
// become the seed values of the run.
type RunCmd struct {
	Args []string `arg:"" optional:"" name:"args" help:"Values handed to the first step."`

	runner *Runner
}

// Run executes the bound pipeline and surfaces its failure to kong.
func (c *RunCmd) Run() error {
	vals := make([]any, 0, len(c.Args))
	for _, arg := range c.Args {
		vals = append(vals, arg)
	}
	_, err := c.runner.Run(context.Background(), vals...)
	return err
}

// CLIOptions builds a kong dynamic command for every pipeline in the set
// that opts into CLI exposure.
func (b *Builder) CLIOptions(set Set) ([]kong.Option, error) {
	if err := set.Validate(); err != nil {
		return nil, err
	}

	var options []kong.Option
	for _, def := range set.Pipelines {
		if def.CLI == nil {
			continue
		}
		r, err := b.Build(mergeDefinition(set.Options, def))
		if err != nil {
			return nil, fmt.Errorf("build pipeline %s: %w", def.Name, err)
		}

		exposure := *def.CLI
		name := exposure.Name
		if name == "" {
			name = def.Name
		}
		help := exposure.Description
		if help == "" {
			help = def.Description
		}

		options = append(options, kong.DynamicCommand(
			name,
			help,
			exposure.Group,
			&RunCmd{runner: r},
			exposure.BuildTags()...,
		))
	}
	return options, nil
}
