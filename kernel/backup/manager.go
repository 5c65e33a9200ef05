package backup

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/michaelquigley/pfxlog"
	"github.com/openziti/fabkeep/kernel/host"
	"github.com/openziti/fabkeep/kernel/model"
	"github.com/pkg/errors"
)

// Manager snapshots and restores the file-backed resources of a target model. Resource content is read and
// written through the host filesystem; archives are always local.
type Manager struct {
	FS       host.FS
	StateDir string
	Now      func() time.Time
}

func NewManager(fs host.FS, stateDir string) *Manager {
	return &Manager{FS: fs, StateDir: stateDir, Now: time.Now}
}

type target struct {
	kind     model.Kind
	identity string
	path     string
	mode     os.FileMode
}

func targetsOf(specs []*model.ResourceSpec) []target {
	var out []target
	for _, spec := range specs {
		if p := spec.ContentPath(); p != "" {
			out = append(out, target{kind: spec.Kind, identity: spec.Identity, path: p, mode: spec.Mode})
		}
	}
	return out
}

// Backup archives the current content of every file-backed resource that exists. Absent files are skipped and
// a restore leaves them alone.
func (m *Manager) Backup(ctx context.Context, modelId string, specs []*model.ResourceSpec, out string) (*Manifest, error) {
	return m.snapshot(ctx, modelId, targetsOf(specs), out)
}

func (m *Manager) snapshot(ctx context.Context, modelId string, targets []target, out string) (*Manifest, error) {
	log := pfxlog.Logger().WithField("archive", out)

	manifest := &Manifest{Version: ManifestVersion, ModelId: modelId, CreatedAt: m.Now().UTC()}
	objects := map[string][]byte{}
	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "backup cancelled")
		}
		data, err := m.FS.ReadFile(t.path)
		if errors.Is(err, os.ErrNotExist) {
			log.Debugf("skipping absent [%s]", t.path)
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "unable to read [%s]", t.path)
		}
		mode := t.mode
		if info, err := m.FS.Stat(t.path); err == nil {
			mode = info.Mode().Perm()
		}
		if mode == 0 {
			mode = 0644
		}
		sum := model.HashContent(data)
		objects[sum] = data
		manifest.Entries = append(manifest.Entries, Entry{
			Kind:     t.kind,
			Identity: t.identity,
			Path:     t.path,
			Sha256:   sum,
			Size:     int64(len(data)),
			Mode:     mode,
		})
	}

	if err := writeArchive(out, manifest, objects); err != nil {
		return nil, err
	}
	log.Infof("archived %d resources (%d bytes)", len(manifest.Entries), manifest.TotalSize())
	return manifest, nil
}

type RestoreOptions struct {
	// DryRun verifies the archive and reports what would be written without touching the host.
	DryRun bool
	// ModelId and Specs describe the model restored into. Every archive entry must match a declared
	// file-backed resource at the same path.
	ModelId string
	Specs   []*model.ResourceSpec
	// AllowOtherModel accepts an archive taken from a different model id. Entries are still checked against
	// Specs.
	AllowOtherModel bool
}

// MismatchError rejects an archive that does not belong to the model it is restored into.
type MismatchError struct {
	ModelId        string
	ArchiveModelId string
	Undeclared     []string
}

func (e *MismatchError) Error() string {
	if len(e.Undeclared) > 0 {
		return fmt.Sprintf("archive entries not declared by model [%s]: %s", e.ModelId, strings.Join(e.Undeclared, ", "))
	}
	return fmt.Sprintf("archive was taken from model [%s], not [%s]", e.ArchiveModelId, e.ModelId)
}

func checkDeclared(manifest *Manifest, opts RestoreOptions) error {
	if manifest.ModelId != opts.ModelId && !opts.AllowOtherModel {
		return &MismatchError{ModelId: opts.ModelId, ArchiveModelId: manifest.ModelId}
	}
	declared := map[model.Ref]string{}
	for _, spec := range opts.Specs {
		if p := spec.ContentPath(); p != "" {
			declared[spec.Ref()] = p
		}
	}
	var undeclared []string
	for _, e := range manifest.Entries {
		if p, found := declared[e.Ref()]; !found || p != e.Path {
			undeclared = append(undeclared, fmt.Sprintf("%s [%s]", e.Ref(), e.Path))
		}
	}
	if len(undeclared) > 0 {
		return &MismatchError{ModelId: opts.ModelId, ArchiveModelId: manifest.ModelId, Undeclared: undeclared}
	}
	return nil
}

type RestoreResult struct {
	Manifest          *Manifest
	Restored          []model.Ref
	Unchanged         []model.Ref
	PreRestoreArchive string
	DryRun            bool
}

// Restore verifies the whole archive and checks every entry against the declared resources before writing
// anything, snapshots the content it is about to replace into
// the state directory, then writes every entry. A write failure reverts the entries already written.
func (m *Manager) Restore(ctx context.Context, archivePath string, opts RestoreOptions) (*RestoreResult, error) {
	log := pfxlog.Logger().WithField("archive", archivePath)

	archive, err := OpenArchive(archivePath)
	if err != nil {
		return nil, err
	}
	if err := archive.Verify(); err != nil {
		return nil, err
	}
	if err := checkDeclared(archive.Manifest, opts); err != nil {
		return nil, err
	}
	if archive.Manifest.ModelId != opts.ModelId {
		log.Warnf("archive was taken from model [%s], restoring into [%s]", archive.Manifest.ModelId, opts.ModelId)
	}
	result := &RestoreResult{Manifest: archive.Manifest, DryRun: opts.DryRun}

	before := make([]current, len(archive.Manifest.Entries))
	for i, e := range archive.Manifest.Entries {
		data, err := m.FS.ReadFile(e.Path)
		switch {
		case err == nil:
			before[i] = current{existed: true, data: data, mode: e.Mode}
			if info, err := m.FS.Stat(e.Path); err == nil {
				before[i].mode = info.Mode().Perm()
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, errors.Wrapf(err, "unable to read current content of [%s]", e.Path)
		}
		if before[i].unchanged(e) {
			result.Unchanged = append(result.Unchanged, e.Ref())
		} else {
			result.Restored = append(result.Restored, e.Ref())
		}
	}
	if opts.DryRun {
		return result, nil
	}

	preRestore := filepath.Join(m.StateDir, fmt.Sprintf("pre-restore-%s-%s.tar.gz",
		archive.Manifest.ModelId, m.Now().UTC().Format("20060102T150405Z")))
	var targets []target
	for _, e := range archive.Manifest.Entries {
		targets = append(targets, target{kind: e.Kind, identity: e.Identity, path: e.Path, mode: e.Mode})
	}
	if _, err := m.snapshot(ctx, archive.Manifest.ModelId, targets, preRestore); err != nil {
		return nil, errors.Wrap(err, "unable to back up pre-restore state, nothing restored")
	}
	result.PreRestoreArchive = preRestore

	var written []int
	for i, e := range archive.Manifest.Entries {
		if before[i].unchanged(e) {
			continue
		}
		err := ctx.Err()
		if err == nil {
			err = m.FS.WriteFile(e.Path, archive.Objects[e.Sha256], e.Mode)
		}
		if err != nil {
			var errs []error
			errs = append(errs, errors.Wrapf(err, "unable to restore [%s]", e.Path))
			for j := len(written) - 1; j >= 0; j-- {
				w := archive.Manifest.Entries[written[j]]
				prior := before[written[j]]
				var rerr error
				if prior.existed {
					rerr = m.FS.WriteFile(w.Path, prior.data, prior.mode)
				} else {
					rerr = m.FS.Remove(w.Path)
				}
				if rerr != nil {
					errs = append(errs, errors.Wrapf(rerr, "unable to revert [%s], pre-restore copy in [%s]", w.Path, preRestore))
				}
			}
			joined := stderrors.Join(errs...)
			log.WithError(joined).Error("restore failed, reverted written entries")
			return result, joined
		}
		written = append(written, i)
		log.Infof("restored [%s]", e.Path)
	}
	return result, nil
}

type current struct {
	existed bool
	data    []byte
	mode    os.FileMode
}

func (c current) unchanged(e Entry) bool {
	return c.existed && c.mode == e.Mode && model.HashContent(c.data) == e.Sha256
}

// PreRestoreArchives lists pre-restore snapshots in the state directory, newest first.
func (m *Manager) PreRestoreArchives() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(m.StateDir, "pre-restore-*.tar.gz"))
	if err != nil {
		return nil, err
	}
	sort.Sort(sort.Reverse(sort.StringSlice(matches)))
	return matches, nil
}
