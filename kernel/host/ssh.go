package host

import (
	"bytes"
	"context"
	"net"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/michaelquigley/pfxlog"
	"github.com/openziti/fabkeep/kernel/model"
	"github.com/pkg/errors"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// DialSSH connects to a remote host and returns a Host whose commands run over SSH sessions and whose
// files are accessed over SFTP.
func DialSSH(cfg *model.HostConfig, timeout time.Duration) (*Host, error) {
	address, err := sshAddress(cfg.Address)
	if err != nil {
		return nil, err
	}
	clientConfig, err := sshClientConfig(cfg)
	if err != nil {
		return nil, err
	}

	client, err := ssh.Dial("tcp", address, clientConfig)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to dial [%s]", address)
	}
	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "unable to start sftp on [%s]", address)
	}

	pfxlog.Logger().Debugf("connected to [%s] as [%s]", address, cfg.User)

	runner := &SSHRunner{Client: client, Timeout: timeout}
	return &Host{
		Name:     address,
		FS:       &SFTPFS{Client: sftpClient},
		Runner:   runner,
		Services: &Systemd{Runner: runner},
		Firewall: &UFW{Runner: runner},
		closer:   &sshCloser{client: client, sftp: sftpClient},
	}, nil
}

type sshCloser struct {
	client *ssh.Client
	sftp   *sftp.Client
}

func (c *sshCloser) Close() error {
	_ = c.sftp.Close()
	return c.client.Close()
}

// SSHRunner runs commands in SSH sessions on an established client.
type SSHRunner struct {
	Client  *ssh.Client
	Timeout time.Duration
}

func (r *SSHRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	session, err := r.Client.NewSession()
	if err != nil {
		return Result{ExitCode: 127}, errors.Wrap(err, "unable to open ssh session")
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	command := joinCommand(name, args)
	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case err = <-done:
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		<-done
		result := Result{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: ExitCodeNotRun}
		return result, &CommandError{Command: command, Result: result, Err: ctx.Err()}
	}

	result := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return result, nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitStatus()
	} else {
		result.ExitCode = 1
	}
	return result, &CommandError{Command: command, Result: result, Err: err}
}

func sshAddress(address string) (string, error) {
	host := strings.TrimSpace(address)
	if host == "" {
		return "", errors.New("ssh host is required")
	}
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host, nil
	}
	return net.JoinHostPort(host, "22"), nil
}

func sshClientConfig(cfg *model.HostConfig) (*ssh.ClientConfig, error) {
	if cfg.User == "" {
		return nil, errors.New("ssh user is required")
	}
	if cfg.KeyPath == "" {
		return nil, errors.New("ssh key path is required")
	}

	privateKey, err := os.ReadFile(expandHome(cfg.KeyPath))
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read ssh key [%s]", cfg.KeyPath)
	}
	signer, err := ssh.ParsePrivateKey(privateKey)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to parse ssh key [%s]", cfg.KeyPath)
	}

	var hostKeyCallback ssh.HostKeyCallback
	if cfg.Insecure {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	} else {
		knownHostsPath := strings.TrimSpace(cfg.KnownHostsPath)
		if knownHostsPath == "" {
			knownHostsPath = "~/.ssh/known_hosts"
		}
		callback, err := knownhosts.New(expandHome(knownHostsPath))
		if err != nil {
			return nil, errors.Wrapf(err, "unable to load known hosts [%s]", knownHostsPath)
		}
		hostKeyCallback = callback
	}

	return &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         cfg.Timeout,
	}, nil
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}

// SFTPFS is FS over an SFTP session.
type SFTPFS struct {
	Client *sftp.Client
}

func (f *SFTPFS) ReadFile(p string) ([]byte, error) {
	file, err := f.Client.Open(p)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var buf bytes.Buffer
	if _, err := file.WriteTo(&buf); err != nil {
		return nil, errors.Wrapf(err, "unable to read [%s]", p)
	}
	return buf.Bytes(), nil
}

func (f *SFTPFS) WriteFile(p string, data []byte, perm os.FileMode) error {
	dir := path.Dir(p)
	if err := f.Client.MkdirAll(dir); err != nil {
		return errors.Wrapf(err, "failed to create directory [%s]", dir)
	}
	tmpName := path.Join(dir, "."+path.Base(p)+".tmp-"+time.Now().Format("20060102150405.000000000"))
	tmp, err := f.Client.Create(tmpName)
	if err != nil {
		return errors.Wrapf(err, "failed to create temp file for [%s]", p)
	}
	defer func() { _ = f.Client.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.Wrapf(err, "failed to write [%s]", tmpName)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "failed to close [%s]", tmpName)
	}
	if err := f.Client.Chmod(tmpName, perm); err != nil {
		return errors.Wrapf(err, "failed to chmod [%s]", tmpName)
	}
	if err := f.Client.PosixRename(tmpName, p); err != nil {
		return errors.Wrapf(err, "failed to move [%s] into place", p)
	}
	return nil
}

func (f *SFTPFS) Remove(p string) error {
	err := f.Client.Remove(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (f *SFTPFS) Stat(p string) (os.FileInfo, error) {
	return f.Client.Stat(p)
}

func (f *SFTPFS) Symlink(target, link string) error {
	if err := f.Client.MkdirAll(path.Dir(link)); err != nil {
		return errors.Wrapf(err, "failed to create directory for [%s]", link)
	}
	if _, err := f.Client.Lstat(link); err == nil {
		if err := f.Client.Remove(link); err != nil {
			return errors.Wrapf(err, "failed to replace [%s]", link)
		}
	}
	return f.Client.Symlink(target, link)
}

func (f *SFTPFS) Readlink(p string) (string, error) {
	return f.Client.ReadLink(p)
}
