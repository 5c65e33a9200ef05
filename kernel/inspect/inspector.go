package inspect

import (
	"context"
	"os"
	"time"

	"github.com/michaelquigley/pfxlog"
	"github.com/openziti/fabkeep/kernel/host"
	"github.com/openziti/fabkeep/kernel/model"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const DefaultWorkers = 8

// Inspector reads the current state of managed resources. It never mutates the host.
type Inspector struct {
	Host    *host.Host
	Workers int
	Now     func() time.Time
}

func NewInspector(h *host.Host, workers int) *Inspector {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Inspector{Host: h, Workers: workers, Now: time.Now}
}

// Inspect returns the observed state of spec. A non-nil error is always an *model.InspectionError; callers
// treat the resource as absent.
func (i *Inspector) Inspect(ctx context.Context, spec *model.ResourceSpec) (model.ResourceState, error) {
	state := model.ResourceState{Ref: spec.Ref(), CheckedAt: i.Now()}

	if path := spec.ContentPath(); path != "" {
		data, err := i.Host.FS.ReadFile(path)
		switch {
		case err == nil:
			state.Exists = true
			state.Hash = model.HashContent(data)
			state.Size = int64(len(data))
		case errors.Is(err, os.ErrNotExist):
			state.Exists = false
		default:
			return i.failed(spec, err)
		}
	} else {
		state.Exists = true
	}

	switch spec.Kind {
	case model.KindProxySite:
		if spec.EnableLink == "" {
			state.Enabled = state.Exists
		} else {
			target, err := i.Host.FS.Readlink(spec.EnableLink)
			switch {
			case err == nil:
				state.Enabled = target == spec.Identity
			case errors.Is(err, os.ErrNotExist):
				state.Enabled = false
			default:
				return i.failed(spec, err)
			}
		}
		state.Active = state.Enabled

	case model.KindServiceUnit:
		status, err := i.Host.Services.Status(ctx, spec.Identity)
		if err != nil {
			return i.failed(spec, err)
		}
		state.Enabled = status.Enabled
		state.Active = status.Active

	case model.KindFirewallRule:
		allowed, err := i.Host.Firewall.IsAllowed(ctx, spec.Identity)
		if err != nil {
			return i.failed(spec, err)
		}
		state.Enabled = allowed
		state.Active = allowed

	case model.KindEnvFile:
		state.Enabled = state.Exists
		state.Active = state.Exists
	}

	return state, nil
}

func (i *Inspector) failed(spec *model.ResourceSpec, err error) (model.ResourceState, error) {
	inspectErr := &model.InspectionError{Ref: spec.Ref(), Err: err}
	state := model.Absent(spec.Ref(), inspectErr)
	state.CheckedAt = i.Now()
	return state, inspectErr
}

// InspectAll inspects every spec in parallel. Inspection failures are collected, logged and reported as
// absent states; they never abort the sweep. Only context cancellation returns an error.
func (i *Inspector) InspectAll(ctx context.Context, specs []*model.ResourceSpec) (map[model.Ref]model.ResourceState, []*model.InspectionError, error) {
	log := pfxlog.Logger()

	states := cmap.New[model.ResourceState]()
	failures := cmap.New[*model.InspectionError]()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.Workers)
	for _, spec := range specs {
		spec := spec
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			state, err := i.Inspect(gctx, spec)
			if err != nil {
				var inspectErr *model.InspectionError
				if errors.As(err, &inspectErr) {
					log.WithError(inspectErr.Err).Warnf("unable to inspect [%s], treating as absent", spec.Ref())
					failures.Set(string(spec.Ref()), inspectErr)
				}
			}
			states.Set(string(spec.Ref()), state)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	result := make(map[model.Ref]model.ResourceState, len(specs))
	var errs []*model.InspectionError
	for _, spec := range specs {
		if state, ok := states.Get(string(spec.Ref())); ok {
			result[spec.Ref()] = state
		}
		if inspectErr, ok := failures.Get(string(spec.Ref())); ok {
			errs = append(errs, inspectErr)
		}
	}
	return result, errs, nil
}
