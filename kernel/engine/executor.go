package engine

import (
	"context"
	stderrors "errors"
	"os"
	"time"

	"github.com/michaelquigley/pfxlog"
	"github.com/openziti/fabkeep/kernel/host"
	"github.com/openziti/fabkeep/kernel/inspect"
	"github.com/openziti/fabkeep/kernel/model"
	"github.com/pkg/errors"
)

const rollbackTimeout = 5 * time.Minute

// PreImage is what an action replaced, enough to put it back.
type PreImage struct {
	Existed     bool
	Content     []byte
	Mode        os.FileMode
	LinkExisted bool
	LinkTarget  string
	Enabled     bool
	Active      bool
}

type ActionResult struct {
	Action   *Action
	PreImage *PreImage
	// Mutated is set once the host change went through, even if the post-condition then failed.
	Mutated  bool
	Duration time.Duration
	Err      error
}

func (r *ActionResult) Record() model.ActionRecord {
	rec := r.Action.Record()
	rec.Duration = r.Duration
	if r.Err != nil {
		rec.Error = r.Err.Error()
	}
	return rec
}

type ExecutionResult struct {
	Applied    []*ActionResult
	Failed     *ActionResult
	Err        error
	Cancelled  bool
	RolledBack bool
	Rollback   []model.RollbackRecord
	// RollbackErr aggregates rollback steps that could not be completed.
	RollbackErr error
}

func (r *ExecutionResult) Records() []model.ActionRecord {
	out := make([]model.ActionRecord, 0, len(r.Applied)+1)
	for _, a := range r.Applied {
		out = append(out, a.Record())
	}
	if r.Failed != nil {
		out = append(out, r.Failed.Record())
	}
	return out
}

// Executor applies plan actions against a host, capturing pre-images so a failed run can be reverted.
type Executor struct {
	Host      *host.Host
	Inspector *inspect.Inspector
}

func NewExecutor(h *host.Host, i *inspect.Inspector) *Executor {
	return &Executor{Host: h, Inspector: i}
}

// Run applies pending actions in order. Cancellation is honoured between actions. On any failure the
// actions already applied in this run are rolled back in reverse order.
func (e *Executor) Run(ctx context.Context, plan *Plan) *ExecutionResult {
	log := pfxlog.Logger()
	result := &ExecutionResult{}

	for _, action := range plan.Pending() {
		if err := ctx.Err(); err != nil {
			result.Cancelled = true
			result.Err = errors.Wrap(err, "run cancelled")
			break
		}

		res, err := e.Apply(ctx, action)
		if err != nil {
			log.WithError(err).Errorf("%s failed, halting plan", action)
			result.Failed = res
			result.Err = err
			break
		}
		log.Infof("applied %s (%s)", action, action.Reason)
		result.Applied = append(result.Applied, res)
	}

	if result.Err != nil && (len(result.Applied) > 0 || (result.Failed != nil && result.Failed.Mutated)) {
		rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
		defer cancel()
		toRevert := result.Applied
		if result.Failed != nil && result.Failed.Mutated {
			toRevert = append(append([]*ActionResult{}, toRevert...), result.Failed)
		}
		result.Rollback, result.RollbackErr = e.Rollback(rbCtx, toRevert)
		result.RolledBack = true
	}
	return result
}

// Apply performs one action. The returned result carries the pre-image whenever the action got far enough to
// mutate anything.
func (e *Executor) Apply(ctx context.Context, action *Action) (*ActionResult, error) {
	start := time.Now()
	res := &ActionResult{Action: action}
	err := e.apply(ctx, action, res)
	res.Duration = time.Since(start)
	if err != nil {
		// runtime changes may be partly applied and a failed bounce can leave the service stopped
		switch action.Op {
		case OpEnable, OpDisable, OpRestart, OpReload:
			res.Mutated = res.PreImage != nil
		}
		res.Err = &model.ActionError{Op: string(action.Op), Ref: action.Ref(), Err: err}
		return res, res.Err
	}
	res.Mutated = action.Op != OpNoop && action.Op != OpValidate
	if err := e.checkPost(ctx, action); err != nil {
		res.Err = &model.ActionError{Op: string(action.Op), Ref: action.Ref(), Err: err}
		return res, res.Err
	}
	return res, nil
}

func (e *Executor) apply(ctx context.Context, action *Action, res *ActionResult) error {
	spec := action.Spec
	switch action.Op {
	case OpNoop:
		return nil

	case OpCreate, OpUpdate:
		pre, err := e.captureContent(spec)
		if err != nil {
			return err
		}
		res.PreImage = pre
		if err := e.Host.FS.WriteFile(spec.ContentPath(), spec.Content, spec.Mode); err != nil {
			return err
		}
		if spec.Kind == model.KindServiceUnit {
			return e.Host.Services.DaemonReload(ctx)
		}
		return nil

	case OpEnable, OpDisable:
		pre, err := e.captureRuntime(ctx, spec)
		if err != nil {
			return err
		}
		res.PreImage = pre
		return e.setRuntime(ctx, spec, action.Op == OpEnable)

	case OpValidate:
		if len(spec.Validate) == 0 {
			return nil
		}
		_, err := e.Host.Runner.Run(ctx, spec.Validate[0], spec.Validate[1:]...)
		return err

	case OpRestart, OpReload:
		pre, err := e.captureRuntime(ctx, spec)
		if err != nil {
			return err
		}
		res.PreImage = pre
		if action.Op == OpReload {
			return e.Host.Services.Reload(ctx, spec.Identity)
		}
		return e.Host.Services.Restart(ctx, spec.Identity)
	}
	return errors.Errorf("unknown operation '%s'", action.Op)
}

func (e *Executor) captureContent(spec *model.ResourceSpec) (*PreImage, error) {
	path := spec.ContentPath()
	data, err := e.Host.FS.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &PreImage{Existed: false}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "unable to capture pre-image of [%s]", path)
	}
	pre := &PreImage{Existed: true, Content: data, Mode: spec.Mode}
	if info, err := e.Host.FS.Stat(path); err == nil {
		pre.Mode = info.Mode().Perm()
	}
	return pre, nil
}

func (e *Executor) captureRuntime(ctx context.Context, spec *model.ResourceSpec) (*PreImage, error) {
	pre := &PreImage{}
	if spec.Kind == model.KindProxySite && spec.EnableLink != "" {
		target, err := e.Host.FS.Readlink(spec.EnableLink)
		switch {
		case err == nil:
			pre.LinkExisted = true
			pre.LinkTarget = target
		case !errors.Is(err, os.ErrNotExist):
			return nil, errors.Wrapf(err, "unable to capture link [%s]", spec.EnableLink)
		}
	}
	state, err := e.Inspector.Inspect(ctx, spec)
	if err != nil {
		return nil, err
	}
	pre.Enabled = state.Enabled
	pre.Active = state.Active
	return pre, nil
}

func (e *Executor) setRuntime(ctx context.Context, spec *model.ResourceSpec, enabled bool) error {
	switch spec.Kind {
	case model.KindProxySite:
		if spec.EnableLink == "" {
			return nil
		}
		if enabled {
			return e.Host.FS.Symlink(spec.Identity, spec.EnableLink)
		}
		return e.Host.FS.Remove(spec.EnableLink)

	case model.KindServiceUnit:
		if enabled {
			if err := e.Host.Services.Enable(ctx, spec.Identity); err != nil {
				return err
			}
			return e.Host.Services.Start(ctx, spec.Identity)
		}
		if err := e.Host.Services.Stop(ctx, spec.Identity); err != nil {
			return err
		}
		return e.Host.Services.Disable(ctx, spec.Identity)

	case model.KindFirewallRule:
		if enabled {
			return e.Host.Firewall.Allow(ctx, spec.Identity)
		}
		return e.Host.Firewall.Delete(ctx, spec.Identity)
	}
	return nil
}

func (e *Executor) checkPost(ctx context.Context, action *Action) error {
	post := action.Post
	if post.Hash == "" && post.Enabled == nil && post.Active == nil {
		return nil
	}
	state, err := e.Inspector.Inspect(ctx, action.Spec)
	if err != nil {
		return errors.Wrap(err, "post-condition check failed")
	}
	if post.Hash != "" && state.Hash != post.Hash {
		return errors.Errorf("post-condition failed: content hash %s, expected %s", state.Hash, post.Hash)
	}
	if post.Enabled != nil && state.Enabled != *post.Enabled {
		return errors.Errorf("post-condition failed: enabled=%v, expected %v", state.Enabled, *post.Enabled)
	}
	if post.Active != nil && state.Active != *post.Active {
		return errors.Errorf("post-condition failed: active=%v, expected %v", state.Active, *post.Active)
	}
	return nil
}

// Rollback reverts applied actions in reverse order. Restarts and reloads are re-issued last so services
// come back up on the reverted content. Every step is attempted; failures are aggregated.
func (e *Executor) Rollback(ctx context.Context, applied []*ActionResult) ([]model.RollbackRecord, error) {
	log := pfxlog.Logger()
	var records []model.RollbackRecord
	var errs []error
	var bounces []*ActionResult

	record := func(op string, ref model.Ref, err error) {
		rec := model.RollbackRecord{Op: op, Ref: ref}
		if err != nil {
			rec.Error = err.Error()
			errs = append(errs, errors.Wrapf(err, "rollback %s [%s]", op, ref))
			log.WithError(err).Errorf("rollback %s [%s] failed", op, ref)
		} else {
			log.Infof("rollback %s [%s]", op, ref)
		}
		records = append(records, rec)
	}

	for i := len(applied) - 1; i >= 0; i-- {
		res := applied[i]
		spec := res.Action.Spec
		pre := res.PreImage
		if pre == nil {
			continue
		}

		switch res.Action.Op {
		case OpCreate, OpUpdate:
			path := spec.ContentPath()
			if pre.Existed {
				record("restore-content", spec.Ref(), e.Host.FS.WriteFile(path, pre.Content, pre.Mode))
			} else {
				record("remove", spec.Ref(), e.Host.FS.Remove(path))
			}
			if spec.Kind == model.KindServiceUnit {
				record("daemon-reload", spec.Ref(), e.Host.Services.DaemonReload(ctx))
			}

		case OpEnable, OpDisable:
			record("restore-runtime", spec.Ref(), e.restoreRuntime(ctx, spec, pre))

		case OpRestart, OpReload:
			bounces = append(bounces, res)
		}
	}

	for i := len(bounces) - 1; i >= 0; i-- {
		res := bounces[i]
		spec := res.Action.Spec
		if !res.PreImage.Active {
			record("stop", spec.Ref(), e.Host.Services.Stop(ctx, spec.Identity))
			continue
		}
		if res.Action.Op == OpReload {
			record("reload", spec.Ref(), e.Host.Services.Reload(ctx, spec.Identity))
		} else {
			record("restart", spec.Ref(), e.Host.Services.Restart(ctx, spec.Identity))
		}
	}

	if len(errs) > 0 {
		return records, stderrors.Join(errs...)
	}
	return records, nil
}

func (e *Executor) restoreRuntime(ctx context.Context, spec *model.ResourceSpec, pre *PreImage) error {
	switch spec.Kind {
	case model.KindProxySite:
		if spec.EnableLink == "" {
			return nil
		}
		if pre.LinkExisted {
			return e.Host.FS.Symlink(pre.LinkTarget, spec.EnableLink)
		}
		return e.Host.FS.Remove(spec.EnableLink)

	case model.KindServiceUnit:
		if pre.Active {
			if err := e.Host.Services.Start(ctx, spec.Identity); err != nil {
				return err
			}
		} else if err := e.Host.Services.Stop(ctx, spec.Identity); err != nil {
			return err
		}
		if pre.Enabled {
			return e.Host.Services.Enable(ctx, spec.Identity)
		}
		return e.Host.Services.Disable(ctx, spec.Identity)

	case model.KindFirewallRule:
		if pre.Enabled {
			return e.Host.Firewall.Allow(ctx, spec.Identity)
		}
		return e.Host.Firewall.Delete(ctx, spec.Identity)
	}
	return nil
}
