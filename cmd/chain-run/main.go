// Command chain-run executes step pipelines declared in a set file.
//
// Pipelines that opt in with a cli block mount as first-class subcommands,
// so a set declaring a "greeting" pipeline can run as:
//
//	chain-run -c pipelines.yaml greeting bob
//
// The generic run subcommand reaches every pipeline in the set, opted in or
// not, and list prints what the set declares. Steps reference the built-in
// handlers registered below (echo, upper, lower, join, split, fail) plus the
// recover failure handler.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	chain "github.com/goliatone/go-chain"
	"github.com/goliatone/go-chain/pipeline"
	"github.com/goliatone/go-logger/glog"
)

type cli struct {
	Config string `help:"Path to a pipeline set file (YAML or JSON)." short:"c" env:"CHAIN_PIPELINES" default:"pipelines.yaml" type:"path"`
	Debug  bool   `help:"Log chain scheduling decisions." short:"d"`

	List listCmd `cmd:"" help:"List the pipelines declared in the set."`
	Run  runCmd  `cmd:"" help:"Run one pipeline from the set by name."`
}

type appState struct {
	set     pipeline.Set
	builder *pipeline.Builder
	history *pipeline.InMemoryHistoryStore
}

type listCmd struct{}

func (l *listCmd) Run(app *appState) error {
	if len(app.set.Pipelines) == 0 {
		fmt.Println("no pipelines declared")
		return nil
	}
	for _, def := range app.set.Pipelines {
		if def.Description != "" {
			fmt.Printf("%-20s %s\n", def.Name, def.Description)
		} else {
			fmt.Println(def.Name)
		}
	}
	return nil
}

type runCmd struct {
	Name string   `arg:"" help:"Pipeline name from the set."`
	Args []string `arg:"" optional:"" help:"Values handed to the first step."`
	Tail int      `help:"Print the last N history records after the run."`
}

func (r *runCmd) Run(app *appState) error {
	if len(app.set.Pipelines) == 0 {
		return fmt.Errorf("no pipeline set loaded, see --config")
	}

	runners, err := app.builder.BuildSet(app.set)
	if err != nil {
		return err
	}

	var target *pipeline.Runner
	for _, rn := range runners {
		if strings.EqualFold(rn.Name(), r.Name) {
			target = rn
			break
		}
	}
	if target == nil {
		return fmt.Errorf("pipeline %s not found", r.Name)
	}

	vals := make([]any, len(r.Args))
	for i, a := range r.Args {
		vals[i] = a
	}

	out, runErr := target.Run(context.Background(), vals...)
	for _, v := range out {
		fmt.Println(v)
	}
	if r.Tail > 0 {
		r.printTail(app)
	}
	return runErr
}

func (r *runCmd) printTail(app *appState) {
	recs, err := app.history.Tail(context.Background(), "", r.Tail)
	if err != nil {
		return
	}
	for _, rec := range recs {
		line := fmt.Sprintf("%s  %-13s %s", rec.Timestamp.Format(time.RFC3339), rec.Event, rec.Pipeline)
		if rec.Step != "" {
			line += " " + rec.Step
		}
		if rec.Error != "" {
			line += " (" + rec.Error + ")"
		}
		fmt.Fprintln(os.Stderr, line)
	}
}

func builtinSteps() *pipeline.StepRegistry {
	reg := pipeline.NewStepRegistry()

	reg.Register("echo", func(sc *chain.StepContext, args ...any) (any, error) {
		fmt.Println(args...)
		return chain.Args(args), nil
	})
	reg.Register("upper", func(sc *chain.StepContext, args ...any) (any, error) {
		return mapStrings(args, strings.ToUpper), nil
	})
	reg.Register("lower", func(sc *chain.StepContext, args ...any) (any, error) {
		return mapStrings(args, strings.ToLower), nil
	})
	reg.Register("join", func(sc *chain.StepContext, args ...any) (any, error) {
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = fmt.Sprint(a)
		}
		return strings.Join(parts, " "), nil
	})
	reg.Register("split", func(sc *chain.StepContext, args ...any) (any, error) {
		if len(args) == 0 {
			return chain.Args(nil), nil
		}
		fields := strings.Fields(fmt.Sprint(args[0]))
		out := make(chain.Args, len(fields))
		for i, f := range fields {
			out[i] = f
		}
		return out, nil
	})
	reg.Register("fail", func(sc *chain.StepContext, args ...any) (any, error) {
		msg := "step failed"
		if len(args) > 0 {
			msg = fmt.Sprint(args[0])
		}
		return nil, errors.New(msg)
	})

	reg.RegisterCatch("recover", func(sc *chain.StepContext, reason error) (any, error) {
		return fmt.Sprintf("recovered: %v", reason), nil
	})

	return reg
}

// mapStrings applies fn to every carried value, keeping single values scalar
// so downstream steps see a string rather than a one element tuple.
func mapStrings(args []any, fn func(string) string) any {
	if len(args) == 0 {
		return ""
	}
	if len(args) == 1 {
		return fn(fmt.Sprint(args[0]))
	}
	out := make(chain.Args, len(args))
	for i, a := range args {
		out[i] = fn(fmt.Sprint(a))
	}
	return out
}

// glogLogger adapts a glog.Logger to the chain logging contract.
type glogLogger struct {
	logger glog.Logger
}

func (l glogLogger) Trace(msg string, args ...any) { l.logger.Trace(msg, args...) }
func (l glogLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l glogLogger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l glogLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l glogLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }
func (l glogLogger) Fatal(msg string, args ...any) { l.logger.Fatal(msg, args...) }

func (l glogLogger) WithContext(ctx context.Context) chain.Logger {
	return glogLogger{logger: l.logger.WithContext(ctx)}
}

func (l glogLogger) WithFields(fields map[string]any) chain.Logger {
	if fl, ok := l.logger.(glog.FieldsLogger); ok {
		return glogLogger{logger: fl.WithFields(fields)}
	}
	return l
}

func buildFactoryOptions(debug bool) []chain.Option {
	level := "info"
	if debug {
		level = "debug"
	}
	opts := []chain.Option{
		chain.WithLogger(glogLogger{logger: glog.NewLogger(glog.WithLevel(level))}),
	}
	if debug {
		opts = append(opts, chain.WithDebug(true))
	}
	return opts
}

// configPath and hasDebugFlag pre-scan the arguments: the set file must be
// loaded before kong.New so its pipelines can mount as dynamic commands.
func configPath(args []string) string {
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "--config" || a == "-c":
			if i+1 < len(args) {
				return args[i+1]
			}
		case strings.HasPrefix(a, "--config="):
			return strings.TrimPrefix(a, "--config=")
		case strings.HasPrefix(a, "-c="):
			return strings.TrimPrefix(a, "-c=")
		}
	}
	if env := os.Getenv("CHAIN_PIPELINES"); env != "" {
		return env
	}
	return "pipelines.yaml"
}

func hasDebugFlag(args []string) bool {
	for _, a := range args {
		if a == "--debug" || a == "-d" {
			return true
		}
	}
	return false
}

func main() {
	args := os.Args[1:]

	history := pipeline.NewInMemoryHistoryStore()
	factory := chain.NewFactory(buildFactoryOptions(hasDebugFlag(args))...)
	builder := pipeline.NewBuilder(builtinSteps(),
		pipeline.WithFactory(factory),
		pipeline.WithHistoryStore(history),
	)
	state := &appState{builder: builder, history: history}

	opts := []kong.Option{
		kong.Name("chain-run"),
		kong.Description("Execute pipelines of chained steps declared in a set file."),
		kong.UsageOnError(),
		kong.Bind(state),
	}

	path := configPath(args)
	if _, err := os.Stat(path); err == nil {
		set, err := pipeline.LoadSet(path)
		if err != nil {
			die(err)
		}
		state.set = set

		dynamic, err := builder.CLIOptions(set)
		if err != nil {
			die(err)
		}
		opts = append(opts, dynamic...)
	}

	app := &cli{}
	parser, err := kong.New(app, opts...)
	if err != nil {
		die(err)
	}

	kctx, err := parser.Parse(args)
	parser.FatalIfErrorf(err)
	parser.FatalIfErrorf(kctx.Run())
}

func die(err error) {
	fmt.Fprintln(os.Stderr, "chain-run:", err)
	os.Exit(1)
}
