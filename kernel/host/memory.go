package host

import (
	"context"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// NewMemoryHost returns a Host whose filesystem, services and firewall live in memory. It records every
// mutating call and can be told to fail specific operations.
func NewMemoryHost() *MemoryHost {
	m := &MemoryHost{
		Files:    &MemoryFS{files: map[string]*memFile{}, links: map[string]string{}},
		Units:    &MemoryServices{units: map[string]*ServiceStatus{}},
		Rules:    &MemoryFirewall{rules: map[string]bool{}},
		Commands: &MemoryRunner{},
	}
	m.Host = &Host{
		Name:     "memory",
		FS:       m.Files,
		Runner:   m.Commands,
		Services: m.Units,
		Firewall: m.Rules,
	}
	return m
}

type MemoryHost struct {
	*Host
	Files    *MemoryFS
	Units    *MemoryServices
	Rules    *MemoryFirewall
	Commands *MemoryRunner
}

type memFile struct {
	data    []byte
	mode    os.FileMode
	modTime time.Time
}

type MemoryFS struct {
	mu     sync.RWMutex
	files  map[string]*memFile
	links  map[string]string
	fail   map[string]error
	writes int
}

// FailOn makes the next operations against path return err. op is "read", "write" or "remove".
func (m *MemoryFS) FailOn(op, p string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail == nil {
		m.fail = map[string]error{}
	}
	m.fail[op+":"+p] = err
}

func (m *MemoryFS) injected(op, p string) error {
	if m.fail == nil {
		return nil
	}
	return m.fail[op+":"+p]
}

func (m *MemoryFS) Put(p string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[p] = &memFile{data: append([]byte(nil), data...), mode: 0644, modTime: time.Now()}
}

// Writes counts mutating calls that succeeded.
func (m *MemoryFS) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

func (m *MemoryFS) Paths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.files))
	for p := range m.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (m *MemoryFS) ReadFile(p string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.injected("read", p); err != nil {
		return nil, err
	}
	f, ok := m.files[p]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: p, Err: fs.ErrNotExist}
	}
	return append([]byte(nil), f.data...), nil
}

func (m *MemoryFS) WriteFile(p string, data []byte, perm os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("write", p); err != nil {
		return err
	}
	m.files[p] = &memFile{data: append([]byte(nil), data...), mode: perm, modTime: time.Now()}
	m.writes++
	return nil
}

func (m *MemoryFS) Remove(p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("remove", p); err != nil {
		return err
	}
	delete(m.files, p)
	delete(m.links, p)
	m.writes++
	return nil
}

func (m *MemoryFS) Stat(p string) (os.FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[p]
	if !ok {
		return nil, &fs.PathError{Op: "stat", Path: p, Err: fs.ErrNotExist}
	}
	return memInfo{name: path.Base(p), size: int64(len(f.data)), mode: f.mode, modTime: f.modTime}, nil
}

func (m *MemoryFS) Symlink(target, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("write", link); err != nil {
		return err
	}
	m.links[link] = target
	m.writes++
	return nil
}

func (m *MemoryFS) Readlink(p string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	target, ok := m.links[p]
	if !ok {
		return "", &fs.PathError{Op: "readlink", Path: p, Err: fs.ErrNotExist}
	}
	return target, nil
}

type memInfo struct {
	name    string
	size    int64
	mode    os.FileMode
	modTime time.Time
}

func (i memInfo) Name() string       { return i.name }
func (i memInfo) Size() int64        { return i.size }
func (i memInfo) Mode() os.FileMode  { return i.mode }
func (i memInfo) ModTime() time.Time { return i.modTime }
func (i memInfo) IsDir() bool        { return false }
func (i memInfo) Sys() any           { return nil }

type MemoryServices struct {
	mu    sync.Mutex
	units map[string]*ServiceStatus
	ops   []string
	fail  map[string]error
	once  map[string]bool
}

func (m *MemoryServices) Set(name string, status ServiceStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := status
	m.units[name] = &s
}

func (m *MemoryServices) Get(name string) ServiceStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.units[name]; ok {
		return *s
	}
	return ServiceStatus{}
}

// FailOn makes op ("restart", "reload", "start", ...) on name return err.
func (m *MemoryServices) FailOn(op, name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail == nil {
		m.fail = map[string]error{}
	}
	m.fail[op+":"+name] = err
}

// FailOnce is FailOn for the next call only.
func (m *MemoryServices) FailOnce(op, name string, err error) {
	m.FailOn(op, name, err)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.once == nil {
		m.once = map[string]bool{}
	}
	m.once[op+":"+name] = true
}

// Ops returns the recorded operations as "op:name".
func (m *MemoryServices) Ops() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ops...)
}

func (m *MemoryServices) Status(_ context.Context, name string) (ServiceStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail["status:"+name]; err != nil {
		return ServiceStatus{}, err
	}
	if s, ok := m.units[name]; ok {
		return *s, nil
	}
	return ServiceStatus{}, nil
}

func (m *MemoryServices) apply(op, name string, fn func(s *ServiceStatus)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := op + ":" + name
	if err := m.fail[key]; err != nil {
		if m.once[key] {
			delete(m.fail, key)
			delete(m.once, key)
		}
		return errors.Wrapf(err, "%s [%s]", op, name)
	}
	s, ok := m.units[name]
	if !ok {
		s = &ServiceStatus{}
		m.units[name] = s
	}
	fn(s)
	m.ops = append(m.ops, op+":"+name)
	return nil
}

func (m *MemoryServices) Start(_ context.Context, name string) error {
	return m.apply("start", name, func(s *ServiceStatus) { s.Active = true })
}

func (m *MemoryServices) Stop(_ context.Context, name string) error {
	return m.apply("stop", name, func(s *ServiceStatus) { s.Active = false })
}

// Restart leaves the unit inactive when it fails, as systemd does.
func (m *MemoryServices) Restart(_ context.Context, name string) error {
	err := m.apply("restart", name, func(s *ServiceStatus) { s.Active = true })
	if err != nil {
		m.mu.Lock()
		if s, ok := m.units[name]; ok {
			s.Active = false
		}
		m.mu.Unlock()
	}
	return err
}

func (m *MemoryServices) Reload(_ context.Context, name string) error {
	return m.apply("reload", name, func(s *ServiceStatus) {})
}

func (m *MemoryServices) Enable(_ context.Context, name string) error {
	return m.apply("enable", name, func(s *ServiceStatus) { s.Enabled = true })
}

func (m *MemoryServices) Disable(_ context.Context, name string) error {
	return m.apply("disable", name, func(s *ServiceStatus) { s.Enabled = false })
}

func (m *MemoryServices) DaemonReload(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, "daemon-reload")
	return nil
}

type MemoryFirewall struct {
	mu    sync.Mutex
	rules map[string]bool
	fail  map[string]error
}

func (m *MemoryFirewall) FailOn(rule string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail == nil {
		m.fail = map[string]error{}
	}
	m.fail[rule] = err
}

func (m *MemoryFirewall) IsAllowed(_ context.Context, rule string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rules[rule], nil
}

func (m *MemoryFirewall) Allow(_ context.Context, rule string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail[rule]; err != nil {
		return err
	}
	m.rules[rule] = true
	return nil
}

func (m *MemoryFirewall) Delete(_ context.Context, rule string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail[rule]; err != nil {
		return err
	}
	delete(m.rules, rule)
	return nil
}

// MemoryRunner records commands and fails those registered with FailOn.
type MemoryRunner struct {
	mu       sync.Mutex
	commands []string
	fail     map[string]Result
}

func (m *MemoryRunner) FailOn(command string, result Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail == nil {
		m.fail = map[string]Result{}
	}
	m.fail[command] = result
}

func (m *MemoryRunner) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.commands...)
}

func (m *MemoryRunner) Run(_ context.Context, name string, args ...string) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	command := strings.TrimSpace(name + " " + strings.Join(args, " "))
	m.commands = append(m.commands, command)
	if res, ok := m.fail[command]; ok {
		return res, &CommandError{Command: command, Result: res, Err: errors.New("exit status")}
	}
	return Result{}, nil
}
