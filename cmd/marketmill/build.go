package main

import (
	"context"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/avelline/marketmill/internal/artifact"
	"github.com/avelline/marketmill/internal/config"
	"github.com/avelline/marketmill/internal/duck"
	"github.com/avelline/marketmill/internal/engine"
	"github.com/avelline/marketmill/internal/logger"
	"github.com/avelline/marketmill/internal/manifest"
	"github.com/avelline/marketmill/internal/model"
	"github.com/avelline/marketmill/internal/steps"
	"github.com/avelline/marketmill/internal/summary"
	"github.com/avelline/marketmill/internal/tui"
)

type buildOptions struct {
	Targets   []string
	Full      bool
	DryRun    bool
	NoSummary bool
	Plain     bool
}

var buildRunner = runBuild

func newBuildCmd(root *rootFlags) *cobra.Command {
	opts := buildOptions{}

	cmd := &cobra.Command{
		Use:   "build [target...]",
		Short: "Build stale parquet artifacts, or force specific targets",
		Long: `Build runs every step whose artifact is missing from the manifest, every
requested target together with its downstream dependents, and every step
whose dependency was rebuilt earlier in the same run.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Targets = args
			opts.Plain = opts.Plain || !term.IsTerminal(int(os.Stdout.Fd()))
			return buildRunner(cmd, root, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Full, "full", false, "Rebuild every step, ignoring the manifest")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Print the plan without executing it")
	cmd.Flags().BoolVar(&opts.NoSummary, "no-summary", false, "Skip the artifact summary after the build")
	cmd.Flags().BoolVar(&opts.Plain, "plain", false, "Disable the interactive progress display")

	return cmd
}

func runBuild(cmd *cobra.Command, root *rootFlags, opts buildOptions) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	log, err := root.newLogger()
	if err != nil {
		return err
	}

	store := artifact.NewStore(cfg.Paths.Output)
	manStore := manifest.NewStore(cfg.ManifestPath())
	connector := newConnector(cfg)

	reg := engine.NewRegistry()
	if err := steps.RegisterAll(reg, steps.Deps{
		Config:    cfg,
		Store:     store,
		Connector: connector,
		Log:       log,
	}); err != nil {
		return err
	}

	// A full rebuild starts from an empty manifest, so every step runs and
	// retired entries drop out of the document.
	man := manifest.Manifest{}
	if !opts.Full {
		man, err = manStore.Load()
		if err != nil {
			return err
		}
	}

	plan, err := engine.BuildPlan(reg, man, opts.Targets, opts.Full)
	if err != nil {
		return err
	}

	if opts.DryRun {
		if plan.IsEmpty() {
			fmt.Fprintln(cmd.OutOrStdout(), "Nothing to build, all steps up to date.")
			return nil
		}
		fmt.Fprint(cmd.OutOrStdout(), plan.String())
		return nil
	}

	var reporter engine.Reporter
	if !opts.NoSummary {
		reporter = &summary.Runner{
			Store: store,
			Open:  summarySession(cfg),
			Out:   cmd.OutOrStdout(),
		}
	}

	exec := &engine.Executor{
		Connector: connector,
		Store:     store,
		Manifest:  manStore,
		Log:       log,
	}

	if opts.Plain {
		return runBuildPlain(cmd, exec, reporter, plan, man)
	}

	return runBuildTUI(cmd.Context(), exec, reporter, plan, man, log)
}

// runBuildPlain drives the same display model without a terminal program:
// structured logs stream to stderr while it runs, the artifact summary and a
// step recap go to stdout at the end.
func runBuildPlain(cmd *cobra.Command, exec *engine.Executor, reporter engine.Reporter, plan *engine.Plan, man manifest.Manifest) error {
	exec.Reporter = reporter

	state := tui.NewModel(plan, "build")
	exec.Events = engine.Events{
		StepStarted: func(id, target string) {
			applyMsg(&state, tui.StepStartMsg{ID: id, Target: target, Time: time.Now()})
		},
		StepCompleted: func(res model.StepResult) {
			applyMsg(&state, tui.StepCompleteMsg{Result: res})
		},
	}

	_, runErr := exec.Run(cmd.Context(), plan, man)
	applyMsg(&state, tui.DoneMsg{Err: runErr})
	fmt.Fprintln(cmd.OutOrStdout(), state.View())
	return runErr
}

func applyMsg(state *tui.Model, msg tea.Msg) {
	updated, _ := state.Update(msg)
	if m, ok := updated.(tui.Model); ok {
		*state = m
	}
}

// runBuildTUI drives the executor under a Bubbletea program. The summary is
// deferred until the program has released the terminal.
func runBuildTUI(parent context.Context, exec *engine.Executor, reporter engine.Reporter, plan *engine.Plan, man manifest.Manifest, log *logger.Logger) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	prog := tea.NewProgram(tui.NewModel(plan, "build"))
	exec.Events = engine.Events{
		StepStarted: func(id, target string) {
			prog.Send(tui.StepStartMsg{ID: id, Target: target, Time: time.Now()})
		},
		StepCompleted: func(res model.StepResult) {
			prog.Send(tui.StepCompleteMsg{Result: res})
		},
	}

	var runErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, runErr = exec.Run(ctx, plan, man)
		prog.Send(tui.DoneMsg{Err: runErr})
	}()

	final, progErr := prog.Run()
	cancel() // stops the build when the user quit early
	<-done

	if progErr != nil {
		return progErr
	}
	if m, ok := final.(tui.Model); ok && m.IsCancelled() && runErr == nil {
		runErr = context.Canceled
	}
	if runErr != nil {
		return runErr
	}

	if reporter != nil {
		if err := reporter.Summarize(parent); err != nil {
			log.Error(err, "summary failed")
		}
	}
	return nil
}

func engineSettings(cfg *config.Config) duck.Settings {
	return duck.Settings{
		MemoryLimit: cfg.Engine.MemoryLimit,
		Threads:     cfg.Engine.Threads,
	}
}

func newConnector(cfg *config.Config) engine.Connector {
	opener := duck.Opener{Settings: engineSettings(cfg)}
	return engine.ConnectorFunc(func(ctx context.Context) (engine.Conn, error) {
		return opener.Open(ctx)
	})
}

func summarySession(cfg *config.Config) func(context.Context) (summary.Session, error) {
	opener := duck.Opener{Settings: engineSettings(cfg)}
	return func(ctx context.Context) (summary.Session, error) {
		return opener.Open(ctx)
	}
}
