package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	millerrors "github.com/avelline/marketmill/pkg/errors"

	"github.com/avelline/marketmill/internal/artifact"
	"github.com/avelline/marketmill/internal/logger"
	"github.com/avelline/marketmill/internal/manifest"
	"github.com/avelline/marketmill/internal/model"
)

// Reporter produces the post-build artifact summary. Reporter failures are
// logged and never change the outcome of a run.
type Reporter interface {
	Summarize(ctx context.Context) error
}

// Events carries optional executor callbacks, used to drive the progress UI.
// Nil fields are skipped.
type Events struct {
	StepStarted   func(id, target string)
	StepCompleted func(res model.StepResult)
}

func (e Events) emitStarted(id, target string) {
	if e.StepStarted != nil {
		e.StepStarted(id, target)
	}
}

func (e Events) emitCompleted(res model.StepResult) {
	if e.StepCompleted != nil {
		e.StepCompleted(res)
	}
}

// Executor runs a plan strictly in order, one step at a time, journaling
// each success to the manifest before moving on.
type Executor struct {
	Connector Connector
	Store     *artifact.Store
	Manifest  *manifest.Store
	Reporter  Reporter
	Events    Events
	Log       *logger.Logger
}

// Run executes the plan. It sweeps stale artifacts first, gives every step a
// fresh engine connection, saves the manifest after each success and aborts
// on the first failure. Completed results are returned in both cases, so a
// partial run keeps its manifest credit.
func (e *Executor) Run(ctx context.Context, plan *Plan, man manifest.Manifest) ([]model.StepResult, error) {
	if e.Connector == nil {
		return nil, millerrors.NewExecutionError("", fmt.Errorf("executor connector is nil"))
	}
	if e.Store == nil {
		return nil, millerrors.NewExecutionError("", fmt.Errorf("executor artifact store is nil"))
	}
	if e.Manifest == nil {
		return nil, millerrors.NewExecutionError("", fmt.Errorf("executor manifest store is nil"))
	}
	if man == nil {
		man = manifest.Manifest{}
	}

	log := e.Log.WithFields(map[string]any{"run_id": uuid.NewString()})

	removed, err := e.Store.CleanStale()
	if err != nil {
		return nil, millerrors.NewExecutionError("", err)
	}
	for _, name := range removed {
		log.WithFields(map[string]any{"artifact": name}).Info("cleaned stale artifact")
	}

	if plan.IsEmpty() {
		log.Info("nothing to do, all steps up to date")
		e.summarize(ctx, log)
		return nil, nil
	}

	if err := e.Store.EnsureRoot(); err != nil {
		return nil, millerrors.NewExecutionError("", err)
	}

	log.WithFields(map[string]any{"steps": len(plan.Steps)}).Info("starting build")

	var results []model.StepResult
	for _, ps := range plan.Steps {
		if err := ctx.Err(); err != nil {
			return results, millerrors.NewExecutionError(ps.Step.ID, err)
		}

		step := ps.Step
		stepLog := log.WithFields(map[string]any{"step": step.ID, "target": step.Target})
		stepLog.Info("running step")
		e.Events.emitStarted(step.ID, step.Target)

		start := time.Now()
		err := e.runStep(ctx, step)
		elapsed := time.Since(start)

		res := model.StepResult{
			StepID:    step.ID,
			Target:    step.Target,
			Duration:  elapsed,
			Timestamp: time.Now(),
		}

		if err == nil {
			man.Record(step.ID, res.Timestamp, elapsed)
			err = e.Manifest.Save(man)
			if err != nil {
				err = fmt.Errorf("saving manifest: %w", err)
			}
		}

		if err != nil {
			res.Status = model.StatusFailed
			res.Error = err
			res.Message = err.Error()
			results = append(results, res)
			e.Events.emitCompleted(res)
			stepLog.Error(err, "step failed")
			return results, millerrors.NewExecutionError(step.ID, err)
		}

		res.Status = model.StatusSuccess
		res.Message = fmt.Sprintf("completed in %.1fs", res.ElapsedSeconds())
		results = append(results, res)
		e.Events.emitCompleted(res)
		stepLog.WithFields(map[string]any{"elapsed_seconds": res.ElapsedSeconds()}).Info("step completed")
	}

	log.Info("build complete")
	e.summarize(ctx, log)
	return results, nil
}

// runStep opens a connection scoped to the step and invokes its action.
func (e *Executor) runStep(ctx context.Context, step Step) error {
	conn, err := e.Connector.Connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	return step.Action(ctx, conn)
}

func (e *Executor) summarize(ctx context.Context, log *logger.Logger) {
	if e.Reporter == nil {
		return
	}
	if err := e.Reporter.Summarize(ctx); err != nil {
		log.Error(err, "summary failed")
	}
}
