package app

import (
	"context"
	"fmt"

	"github.com/specialistvlad/opgraph/internal/ctxlog"
	"github.com/specialistvlad/opgraph/internal/dispatch"
	"github.com/specialistvlad/opgraph/internal/fsutil"
	"github.com/specialistvlad/opgraph/internal/fx"
	"github.com/specialistvlad/opgraph/internal/program"
	"github.com/specialistvlad/opgraph/internal/publish"
	"github.com/specialistvlad/opgraph/internal/trace"
)

// Run traces the configured program, or every program below the configured
// directory in path order, and reports each graph. With Run set a traced
// graph is replayed on the program's declared inputs, with PublishURL set it
// is sent to a viewer. The first failing program stops the run.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	var pub *publish.Publisher
	if a.config.PublishURL != "" {
		var err error
		pub, err = publish.New(publish.Config{URL: a.config.PublishURL, Timeout: a.config.PublishTimeout})
		if err != nil {
			return fmt.Errorf("invalid publish configuration: %w", err)
		}
	}

	paths, err := fsutil.FindFilesByExtension(a.config.ProgramPath, ".hcl")
	if err != nil {
		return fmt.Errorf("failed to find programs: %w", err)
	}
	a.logger.Debug("Programs found.", "path", a.config.ProgramPath, "count", len(paths))

	for _, path := range paths {
		if err := a.runProgram(ctx, path, pub); err != nil {
			return err
		}
	}

	a.logger.Debug("App.Run method finished.")
	return nil
}

func (a *App) runProgram(ctx context.Context, path string, pub *publish.Publisher) error {
	p, err := program.Load(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to load program: %w", err)
	}
	gm, err := a.traceProgram(ctx, p)
	if err != nil {
		return fmt.Errorf("failed to trace program %s: %w", p.Name(), err)
	}
	if err := gm.Graph().Lint(); err != nil {
		return fmt.Errorf("traced graph of %s is malformed: %w", p.Name(), err)
	}
	a.logger.Info("Program traced.", "name", gm.Name(), "nodes", gm.Graph().Len(), "attrs", len(gm.AttrNames()))

	fmt.Fprintln(a.outW, gm.String())
	if a.config.Tree {
		fmt.Fprintln(a.outW, renderTree(gm.Graph()))
	}

	if a.config.Run {
		if err := a.replay(ctx, p, gm); err != nil {
			return err
		}
	}

	if pub != nil {
		if _, err := pub.Publish(ctx, gm); err != nil {
			return fmt.Errorf("failed to publish graph %s: %w", gm.Name(), err)
		}
	}
	return nil
}

// traceProgram traces p with the command line settings applied on top of
// its trace block. The program's own configuration is left untouched.
func (a *App) traceProgram(ctx context.Context, p *program.Program) (*fx.GraphModule, error) {
	var opts []trace.Option
	if a.config.Fake {
		opts = append(opts, trace.WithFake(true))
	}
	if len(a.config.Decompositions) > 0 {
		table, err := trace.ResolveDecompositions(dispatch.Default(), a.config.Decompositions)
		if err != nil {
			return nil, err
		}
		opts = append(opts, trace.WithDecompositions(table))
	}
	return p.Trace(ctx, opts...)
}

// replay runs gm on the program's inputs and prints one line per output.
func (a *App) replay(ctx context.Context, p *program.Program, gm *fx.GraphModule) error {
	out, err := gm.Forward(ctx, p.Inputs()...)
	if err != nil {
		return fmt.Errorf("failed to run traced graph %s: %w", gm.Name(), err)
	}
	names := p.OutputNames()
	results := []any{out}
	if len(names) > 1 {
		results = out.([]any)
	}
	for i, name := range names {
		fmt.Fprintf(a.outW, "%s = %v\n", name, results[i])
	}
	a.logger.Info("Traced graph replayed.", "outputs", len(names))
	return nil
}
