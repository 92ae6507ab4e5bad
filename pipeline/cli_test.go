package pipeline

import (
	"strings"
	"testing"

	chain "github.com/goliatone/go-chain"
)

func TestCLIOptionsExposesOptInPipelines(t *testing.T) {
	b := NewBuilder(testRegistry(t))

	set := Set{
		Version: 1,
		Pipelines: []Definition{
			{
				Name:  "greeting",
				Mode:  "immediate",
				Steps: []StepConfig{{Handler: "greet"}},
				CLI:   &CLIConfig{Description: "Say hello.", Aliases: []string{"hi"}},
			},
			{
				// no cli block: stays private
				Name:  "internal",
				Steps: []StepConfig{{Handler: "upper"}},
			},
		},
	}

	options, err := b.CLIOptions(set)
	if err != nil {
		t.Fatalf("cli options failed: %v", err)
	}
	if len(options) != 1 {
		t.Fatalf("expected one exposed command, got %d", len(options))
	}
}

func TestCLIOptionsPropagatesBuildErrors(t *testing.T) {
	b := NewBuilder(testRegistry(t))

	set := Set{
		Pipelines: []Definition{
			{
				Name:  "broken",
				Steps: []StepConfig{{Handler: "missing"}},
				CLI:   &CLIConfig{},
			},
		},
	}

	_, err := b.CLIOptions(set)
	if err == nil || !strings.Contains(err.Error(), "build pipeline broken") {
		t.Fatalf("expected build failure, got %v", err)
	}
}

func TestRunCmdSeedsArgs(t *testing.T) {
	reg := NewStepRegistry()
	var got []any
	if err := reg.Register("capture", func(_ *chain.StepContext, args ...any) (any, error) {
		got = args
		return nil, nil
	}); err != nil {
		t.Fatalf("register capture: %v", err)
	}

	b := NewBuilder(reg)
	r, err := b.Build(Definition{
		Name:  "capture",
		Mode:  "immediate",
		Steps: []StepConfig{{Handler: "capture"}},
	})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	cmd := &RunCmd{Args: []string{"a", "b"}, runner: r}
	if err := cmd.Run(); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("expected positional args to seed the chain, got %v", got)
	}
}
