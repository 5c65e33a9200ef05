package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openziti/fabkeep/kernel/model"
	"github.com/pkg/errors"
)

// acquireLock takes the on-disk run lock for a model. A second process finding the file fails fast rather than
// waiting. The returned func releases the lock.
func acquireLock(path, modelId, runId string) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrapf(err, "unable to create lock directory for [%s]", path)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if errors.Is(err, os.ErrExist) {
		holder, _ := os.ReadFile(path)
		return nil, &model.RunInProgressError{ModelId: modelId, Holder: strings.TrimSpace(string(holder))}
	}
	if err != nil {
		return nil, errors.Wrapf(err, "unable to create lock [%s]", path)
	}
	_, _ = fmt.Fprintf(f, "pid=%d run=%s since=%s\n", os.Getpid(), runId, time.Now().UTC().Format(time.RFC3339))
	_ = f.Close()

	return func() { _ = os.Remove(path) }, nil
}
