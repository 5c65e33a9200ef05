package host

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/openziti/fabkeep/kernel/model"
)

const DefaultCommandTimeout = 60 * time.Second

// FS is the file access the inspector, executor and backup manager need on a managed host.
type FS interface {
	ReadFile(path string) ([]byte, error)
	// WriteFile replaces path atomically, creating parent directories.
	WriteFile(path string, data []byte, perm os.FileMode) error
	Remove(path string) error
	Stat(path string) (os.FileInfo, error)
	Symlink(target, link string) error
	Readlink(path string) (string, error)
}

// Runner executes a command on the managed host. A non-zero exit is returned as an error alongside its Result.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// ServiceManager controls units through the OS service manager.
type ServiceManager interface {
	Status(ctx context.Context, name string) (ServiceStatus, error)
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
	Restart(ctx context.Context, name string) error
	Reload(ctx context.Context, name string) error
	Enable(ctx context.Context, name string) error
	Disable(ctx context.Context, name string) error
	DaemonReload(ctx context.Context) error
}

type ServiceStatus struct {
	Enabled bool
	Active  bool
}

// Firewall manages port rules such as "443/tcp".
type Firewall interface {
	IsAllowed(ctx context.Context, rule string) (bool, error)
	Allow(ctx context.Context, rule string) error
	Delete(ctx context.Context, rule string) error
}

// Host bundles access to one managed server.
type Host struct {
	Name     string
	FS       FS
	Runner   Runner
	Services ServiceManager
	Firewall Firewall
	closer   io.Closer
}

func (h *Host) Close() error {
	if h.closer != nil {
		return h.closer.Close()
	}
	return nil
}

// NewLocal returns a host backed by the local filesystem, systemctl and ufw.
func NewLocal(timeout time.Duration) *Host {
	runner := &LocalRunner{Timeout: timeout}
	return &Host{
		Name:     "local",
		FS:       LocalFS{},
		Runner:   runner,
		Services: &Systemd{Runner: runner},
		Firewall: &UFW{Runner: runner},
	}
}

// Open returns the local host or an SSH-backed host depending on cfg.
func Open(cfg *model.HostConfig, timeout time.Duration) (*Host, error) {
	if cfg.IsLocal() {
		return NewLocal(timeout), nil
	}
	return DialSSH(cfg, timeout)
}
