package host

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// LocalFS is FS on the local filesystem.
type LocalFS struct{}

func (LocalFS) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (LocalFS) WriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "failed to create directory [%s]", dir)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrapf(err, "failed to create temp file for [%s]", path)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.Wrapf(err, "failed to write [%s]", tmpName)
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return errors.Wrapf(err, "failed to chmod [%s]", tmpName)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "failed to close [%s]", tmpName)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errors.Wrapf(err, "failed to move [%s] into place", path)
	}
	return nil
}

func (LocalFS) Remove(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (LocalFS) Stat(path string) (os.FileInfo, error) {
	return os.Stat(path)
}

func (LocalFS) Symlink(target, link string) error {
	if err := os.MkdirAll(filepath.Dir(link), 0755); err != nil {
		return errors.Wrapf(err, "failed to create directory for [%s]", link)
	}
	if _, err := os.Lstat(link); err == nil {
		if err := os.Remove(link); err != nil {
			return errors.Wrapf(err, "failed to replace [%s]", link)
		}
	}
	return os.Symlink(target, link)
}

func (LocalFS) Readlink(path string) (string, error) {
	return os.Readlink(path)
}
