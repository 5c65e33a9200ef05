package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/michaelquigley/pfxlog"
	"github.com/openziti/fabkeep/kernel/backup"
	"github.com/openziti/fabkeep/kernel/host"
	"github.com/openziti/fabkeep/kernel/inspect"
	"github.com/openziti/fabkeep/kernel/model"
	"github.com/openziti/fabkeep/kernel/store"
	"github.com/openziti/foundation/v2/concurrenz"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ProbeVerifier checks health probes after a run has applied its plan.
type ProbeVerifier interface {
	Verify(ctx context.Context, probes []*model.HealthProbe) model.VerificationResult
}

// RunRecorder receives every finished run report.
type RunRecorder interface {
	Record(ctx context.Context, report *model.RunReport) error
}

type Options struct {
	DryRun      bool
	RuntimeOnly bool
	Changed     map[model.Ref]bool
	Trigger     string
}

// Reconciler sequences inspection, diffing, execution and verification for one target model, and is the single
// place deciding a run's terminal state. At most one run per reconciler and lock file is active at a time.
type Reconciler struct {
	Host      *host.Host
	Inspector *inspect.Inspector
	Executor  *Executor
	Verifier  ProbeVerifier
	Backups   *backup.Manager
	Store     store.ResourceStore
	Recorder  RunRecorder
	// OnTransition, when set, is called for every state change of a run.
	OnTransition func(report *model.RunReport, to model.RunState)

	running concurrenz.AtomicValue[bool]
}

func NewReconciler(h *host.Host, cfg *model.Config, verifier ProbeVerifier, s store.ResourceStore) *Reconciler {
	inspector := inspect.NewInspector(h, cfg.InspectWorkers)
	r := &Reconciler{
		Host:      h,
		Inspector: inspector,
		Executor:  NewExecutor(h, inspector),
		Verifier:  verifier,
		Backups:   backup.NewManager(h.FS, cfg.StateDir),
		Store:     s,
	}
	r.running.Store(false)
	return r
}

// Reconcile brings the host in line with the model. The returned error is nil for Done and Planned runs. A
// contended lock returns *model.RunInProgressError and no report.
func (r *Reconciler) Reconcile(ctx context.Context, mctx *model.Context, opts Options) (*model.RunReport, error) {
	runId := uuid.NewString()
	release, err := r.lock(mctx, runId)
	if err != nil {
		return nil, err
	}
	defer release()

	return r.run(ctx, mctx, runId, opts)
}

// Plan inspects and diffs without taking the run lock or mutating anything.
func (r *Reconciler) Plan(ctx context.Context, mctx *model.Context) (*Plan, map[model.Ref]model.ResourceState, error) {
	states, _, err := r.Inspector.InspectAll(ctx, mctx.Model.Resources)
	if err != nil {
		return nil, nil, err
	}
	plan, err := ComputePlan(mctx.Model.Resources, states, PlanOptions{})
	if err != nil {
		return nil, states, err
	}
	return plan, states, nil
}

// Backup archives the model's file-backed resources under the run lock.
func (r *Reconciler) Backup(ctx context.Context, mctx *model.Context, out string) (*backup.Manifest, error) {
	release, err := r.lock(mctx, "backup-"+uuid.NewString())
	if err != nil {
		return nil, err
	}
	defer release()

	return r.Backups.Backup(ctx, mctx.Model.Id, mctx.Model.Resources, out)
}

// Restore writes an archive back in place and then reconciles runtime state only, so the restored content is kept
// and the services depending on it are restarted. The report is nil when the restore itself did not complete.
func (r *Reconciler) Restore(ctx context.Context, mctx *model.Context, archive string, opts backup.RestoreOptions) (*backup.RestoreResult, *model.RunReport, error) {
	runId := uuid.NewString()
	release, err := r.lock(mctx, runId)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	opts.ModelId = mctx.Model.Id
	opts.Specs = mctx.Model.Resources
	result, err := r.Backups.Restore(ctx, archive, opts)
	if err != nil || opts.DryRun {
		return result, nil, err
	}

	changed := map[model.Ref]bool{}
	for _, ref := range result.Restored {
		changed[ref] = true
	}
	report, err := r.run(ctx, mctx, runId, Options{RuntimeOnly: true, Changed: changed, Trigger: "restore"})
	return result, report, err
}

func (r *Reconciler) lock(mctx *model.Context, runId string) (func(), error) {
	modelId := mctx.Model.Id
	if !r.running.CompareAndSwap(false, true) {
		return nil, &model.RunInProgressError{ModelId: modelId, Holder: "this process"}
	}
	releaseFile, err := acquireLock(mctx.Config.LockPath(modelId), modelId, runId)
	if err != nil {
		r.running.Store(false)
		return nil, err
	}
	return func() {
		releaseFile()
		r.running.Store(false)
	}, nil
}

func (r *Reconciler) run(ctx context.Context, mctx *model.Context, runId string, opts Options) (*model.RunReport, error) {
	m := mctx.Model
	trigger := opts.Trigger
	if trigger == "" {
		trigger = "manual"
	}
	log := pfxlog.ContextLogger(runId).WithFields(logrus.Fields{"model": m.Id, "trigger": trigger})

	report := &model.RunReport{
		RunId:     runId,
		ModelId:   m.Id,
		Trigger:   trigger,
		DryRun:    opts.DryRun,
		State:     model.StateIdle,
		StartedAt: time.Now(),
	}
	report.Transitions = append(report.Transitions, model.StateIdle)

	transition := func(to model.RunState) {
		log.Debugf("%s -> %s", report.State, to)
		report.State = to
		report.Transitions = append(report.Transitions, to)
		if r.OnTransition != nil {
			r.OnTransition(report, to)
		}
	}
	finish := func(to model.RunState, err error) (*model.RunReport, error) {
		transition(to)
		report.FinishedAt = time.Now()
		if err != nil {
			report.Error = err.Error()
		}
		r.persist(ctx, report)
		entry := log.WithField("duration", report.Duration())
		if err != nil {
			entry.WithError(err).Errorf("run ended %s", to)
		} else {
			entry.Infof("run ended %s", to)
		}
		return report, err
	}

	transition(model.StateInspecting)
	states, inspectionErrors, err := r.Inspector.InspectAll(ctx, m.Resources)
	if err != nil {
		return finish(model.StateFailed, errors.Wrap(err, "inspection aborted"))
	}
	for _, ie := range inspectionErrors {
		report.InspectionErrors = append(report.InspectionErrors, ie.Error())
	}
	r.saveStates(m.Id, states)

	transition(model.StateDiffing)
	plan, err := ComputePlan(m.Resources, states, PlanOptions{RuntimeOnly: opts.RuntimeOnly, Changed: opts.Changed})
	if err != nil {
		return finish(model.StateFailed, err)
	}
	report.Planned = plan.Records()
	summary := plan.Summary()
	log.Infof("plan: %d create, %d update, %d runtime, %d validate, %d restart, %d in sync",
		summary.Create, summary.Update, summary.Runtime, summary.Validate, summary.Restart, summary.Noop)

	if opts.DryRun {
		return finish(model.StatePlanned, nil)
	}

	if !plan.IsEmpty() {
		transition(model.StateExecuting)
		exec := r.Executor.Run(ctx, plan)
		report.Applied = exec.Records()
		report.Rollback = exec.Rollback
		if exec.Err != nil {
			switch {
			case exec.RollbackErr != nil:
				return finish(model.StateFailed, errors.Wrapf(exec.RollbackErr, "rollback incomplete after: %v", exec.Err))
			case exec.Cancelled && !exec.RolledBack:
				return finish(model.StateFailed, exec.Err)
			default:
				return finish(model.StateRolledBack, exec.Err)
			}
		}
	}

	transition(model.StateVerifying)
	if len(m.Probes) > 0 && r.Verifier != nil {
		verification := r.Verifier.Verify(ctx, m.Probes)
		report.Probes = verification.Probes
		if !verification.Pass {
			return finish(model.StateFailed, &VerificationError{Failed: failedProbes(verification.Probes), Total: len(verification.Probes)})
		}
	}
	return finish(model.StateDone, nil)
}

// VerificationError reports probes that exhausted their retries. Resources stay in their post-execution state.
type VerificationError struct {
	Failed []string
	Total  int
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("%d of %d health probes failed: %v", len(e.Failed), e.Total, e.Failed)
}

func failedProbes(results []model.ProbeResult) []string {
	var out []string
	for _, p := range results {
		if !p.Pass {
			out = append(out, p.Name)
		}
	}
	return out
}

func (r *Reconciler) saveStates(modelId string, states map[model.Ref]model.ResourceState) {
	if r.Store == nil {
		return
	}
	for _, state := range states {
		if err := r.Store.SaveResource(modelId, state); err != nil {
			pfxlog.Logger().WithError(err).Warnf("unable to store state of [%s]", state.Ref)
			return
		}
	}
}

// persist stores and exports the report. Failures here never change the run's outcome.
func (r *Reconciler) persist(ctx context.Context, report *model.RunReport) {
	log := pfxlog.ContextLogger(report.RunId)
	if r.Store != nil {
		if err := r.Store.SaveRun(report); err != nil {
			log.WithError(err).Warn("unable to store run report")
		}
	}
	if r.Recorder != nil {
		if err := r.Recorder.Record(context.WithoutCancel(ctx), report); err != nil {
			log.WithError(err).Warn("unable to export run metrics")
		}
	}
}
