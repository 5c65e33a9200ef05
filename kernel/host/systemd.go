package host

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

// Systemd drives units through systemctl.
type Systemd struct {
	Runner Runner
}

func (s *Systemd) Status(ctx context.Context, name string) (ServiceStatus, error) {
	var status ServiceStatus

	res, err := s.Runner.Run(ctx, "systemctl", "is-enabled", name)
	switch {
	case err == nil:
		status.Enabled = isEnabledState(res.Stdout)
	case ExitedNonZero(err):
		status.Enabled = false
	default:
		return status, errors.Wrapf(err, "unable to query enablement of [%s]", name)
	}

	_, err = s.Runner.Run(ctx, "systemctl", "is-active", "--quiet", name)
	switch {
	case err == nil:
		status.Active = true
	case ExitedNonZero(err):
		status.Active = false
	default:
		return status, errors.Wrapf(err, "unable to query activity of [%s]", name)
	}

	return status, nil
}

func isEnabledState(out string) bool {
	switch strings.TrimSpace(out) {
	case "enabled", "enabled-runtime", "static", "alias", "generated":
		return true
	}
	return false
}

func (s *Systemd) Start(ctx context.Context, name string) error {
	return s.systemctl(ctx, "start", name)
}

func (s *Systemd) Stop(ctx context.Context, name string) error {
	return s.systemctl(ctx, "stop", name)
}

func (s *Systemd) Restart(ctx context.Context, name string) error {
	return s.systemctl(ctx, "restart", name)
}

func (s *Systemd) Reload(ctx context.Context, name string) error {
	return s.systemctl(ctx, "reload", name)
}

func (s *Systemd) Enable(ctx context.Context, name string) error {
	return s.systemctl(ctx, "enable", name)
}

func (s *Systemd) Disable(ctx context.Context, name string) error {
	return s.systemctl(ctx, "disable", name)
}

func (s *Systemd) DaemonReload(ctx context.Context) error {
	_, err := s.Runner.Run(ctx, "systemctl", "daemon-reload")
	return err
}

func (s *Systemd) systemctl(ctx context.Context, verb, name string) error {
	if _, err := s.Runner.Run(ctx, "systemctl", verb, name); err != nil {
		return errors.Wrapf(err, "systemctl %s [%s]", verb, name)
	}
	return nil
}
