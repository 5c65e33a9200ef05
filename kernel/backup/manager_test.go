package backup

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openziti/fabkeep/kernel/host"
	"github.com/openziti/fabkeep/kernel/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSpecs() []*model.ResourceSpec {
	return []*model.ResourceSpec{
		{Kind: model.KindProxySite, Identity: "/etc/nginx/sites-available/app.conf", HasContent: true, Mode: 0644},
		{Kind: model.KindEnvFile, Identity: "/etc/app/app.env", HasContent: true, Mode: 0600},
		{Kind: model.KindServiceUnit, Identity: "app", UnitPath: "/etc/systemd/system/app.service"},
		{Kind: model.KindFirewallRule, Identity: "443/tcp"},
		{Kind: model.KindEnvFile, Identity: "/etc/app/absent.env", HasContent: true},
	}
}

func declared() RestoreOptions {
	return RestoreOptions{ModelId: "app", Specs: testSpecs()}
}

func seed(h *host.MemoryHost) {
	h.Files.Put("/etc/nginx/sites-available/app.conf", []byte("server { listen 80; }"))
	_ = h.Files.WriteFile("/etc/app/app.env", []byte("TOKEN=secret\n"), 0600)
	h.Files.Put("/etc/systemd/system/app.service", []byte("[Service]\nExecStart=/usr/bin/app\n"))
}

func TestBackup_RestoreRoundTrip(t *testing.T) {
	h := host.NewMemoryHost()
	seed(h)
	m := NewManager(h.FS, t.TempDir())
	out := filepath.Join(t.TempDir(), "app.tar.gz")

	manifest, err := m.Backup(context.Background(), "app", testSpecs(), out)
	require.NoError(t, err)
	require.Len(t, manifest.Entries, 3, "absent files and firewall rules are not archived")
	assert.FileExists(t, out+SidecarSuffix)

	sidecar, err := ReadManifest(out + SidecarSuffix)
	require.NoError(t, err)
	assert.Equal(t, manifest.Entries, sidecar.Entries)

	original := map[string][]byte{}
	for _, e := range manifest.Entries {
		data, _ := h.Files.ReadFile(e.Path)
		original[e.Path] = data
		_ = h.Files.WriteFile(e.Path, []byte("drifted"), 0666)
	}

	result, err := m.Restore(context.Background(), out, declared())
	require.NoError(t, err)
	assert.Len(t, result.Restored, 3)
	assert.FileExists(t, result.PreRestoreArchive)

	for p, want := range original {
		got, err := h.Files.ReadFile(p)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(want, got), "content of %s differs after restore", p)
	}
	info, err := h.Files.Stat("/etc/app/app.env")
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	pre, err := OpenArchive(result.PreRestoreArchive)
	require.NoError(t, err)
	require.NoError(t, pre.Verify())
	assert.Equal(t, []byte("drifted"), pre.Objects[pre.Manifest.Entries[0].Sha256])
}

func TestRestore_DryRunWritesNothing(t *testing.T) {
	h := host.NewMemoryHost()
	seed(h)
	stateDir := t.TempDir()
	m := NewManager(h.FS, stateDir)
	out := filepath.Join(t.TempDir(), "app.tar.gz")
	_, err := m.Backup(context.Background(), "app", testSpecs(), out)
	require.NoError(t, err)

	_ = h.Files.WriteFile("/etc/app/app.env", []byte("drifted"), 0600)
	writes := h.Files.Writes()

	opts := declared()
	opts.DryRun = true
	result, err := m.Restore(context.Background(), out, opts)
	require.NoError(t, err)
	assert.True(t, result.DryRun)
	assert.Equal(t, []model.Ref{model.NewRef(model.KindEnvFile, "/etc/app/app.env")}, result.Restored)
	assert.Len(t, result.Unchanged, 2)
	assert.Equal(t, writes, h.Files.Writes())

	snapshots, err := m.PreRestoreArchives()
	require.NoError(t, err)
	assert.Empty(t, snapshots)
}

func TestRestore_TamperedObjectWritesNothing(t *testing.T) {
	h := host.NewMemoryHost()
	seed(h)
	m := NewManager(h.FS, t.TempDir())
	out := filepath.Join(t.TempDir(), "app.tar.gz")
	manifest, err := m.Backup(context.Background(), "app", testSpecs(), out)
	require.NoError(t, err)

	archive, err := OpenArchive(out)
	require.NoError(t, err)
	archive.Objects[manifest.Entries[1].Sha256] = []byte("TOKEN=stolen\n")
	tampered := filepath.Join(t.TempDir(), "tampered.tar.gz")
	require.NoError(t, writeArchive(tampered, archive.Manifest, archive.Objects))

	writes := h.Files.Writes()
	_, err = m.Restore(context.Background(), tampered, declared())
	var integrityErr *model.IntegrityError
	require.True(t, errors.As(err, &integrityErr), "expected IntegrityError, got %v", err)
	assert.Equal(t, "/etc/app/app.env", integrityErr.Identity)
	assert.Equal(t, writes, h.Files.Writes())
}

func TestRestore_WriteFailureReverts(t *testing.T) {
	h := host.NewMemoryHost()
	seed(h)
	m := NewManager(h.FS, t.TempDir())
	out := filepath.Join(t.TempDir(), "app.tar.gz")
	_, err := m.Backup(context.Background(), "app", testSpecs(), out)
	require.NoError(t, err)

	for _, p := range []string{"/etc/nginx/sites-available/app.conf", "/etc/app/app.env", "/etc/systemd/system/app.service"} {
		h.Files.Put(p, []byte("drifted "+p))
	}
	h.Files.FailOn("write", "/etc/systemd/system/app.service", errors.New("read-only filesystem"))

	_, err = m.Restore(context.Background(), out, declared())
	require.Error(t, err)

	for _, p := range []string{"/etc/nginx/sites-available/app.conf", "/etc/app/app.env"} {
		got, _ := h.Files.ReadFile(p)
		assert.Equal(t, "drifted "+p, string(got), "%s should be reverted", p)
	}
}

func TestRestore_RejectsUndeclaredPaths(t *testing.T) {
	h := host.NewMemoryHost()
	h.Files.Put("/etc/sudoers.d/app", []byte("app ALL=(ALL) NOPASSWD: ALL\n"))
	m := NewManager(h.FS, t.TempDir())
	out := filepath.Join(t.TempDir(), "app.tar.gz")
	sudoers := []*model.ResourceSpec{{Kind: model.KindEnvFile, Identity: "/etc/sudoers.d/app", HasContent: true, Mode: 0440}}
	_, err := m.Backup(context.Background(), "app", sudoers, out)
	require.NoError(t, err)

	require.NoError(t, h.Files.Remove("/etc/sudoers.d/app"))
	writes := h.Files.Writes()

	_, err = m.Restore(context.Background(), out, declared())
	var mismatch *MismatchError
	require.True(t, errors.As(err, &mismatch), "expected MismatchError, got %v", err)
	assert.Equal(t, []string{"env_file:/etc/sudoers.d/app [/etc/sudoers.d/app]"}, mismatch.Undeclared)
	assert.Equal(t, writes, h.Files.Writes())
	_, err = h.Files.ReadFile("/etc/sudoers.d/app")
	assert.True(t, errors.Is(err, os.ErrNotExist))

	snapshots, err := m.PreRestoreArchives()
	require.NoError(t, err)
	assert.Empty(t, snapshots)
}

func TestRestore_RejectsMovedUnitPath(t *testing.T) {
	h := host.NewMemoryHost()
	seed(h)
	m := NewManager(h.FS, t.TempDir())
	out := filepath.Join(t.TempDir(), "app.tar.gz")
	_, err := m.Backup(context.Background(), "app", testSpecs(), out)
	require.NoError(t, err)

	opts := declared()
	opts.Specs[2].UnitPath = "/usr/lib/systemd/system/app.service"
	_, err = m.Restore(context.Background(), out, opts)
	var mismatch *MismatchError
	require.True(t, errors.As(err, &mismatch), "expected MismatchError, got %v", err)
	assert.Len(t, mismatch.Undeclared, 1)
}

func TestRestore_OtherModelNeedsExplicitOptIn(t *testing.T) {
	h := host.NewMemoryHost()
	seed(h)
	m := NewManager(h.FS, t.TempDir())
	out := filepath.Join(t.TempDir(), "other.tar.gz")
	_, err := m.Backup(context.Background(), "other-model", testSpecs(), out)
	require.NoError(t, err)
	_ = h.Files.WriteFile("/etc/app/app.env", []byte("drifted"), 0600)
	writes := h.Files.Writes()

	_, err = m.Restore(context.Background(), out, declared())
	var mismatch *MismatchError
	require.True(t, errors.As(err, &mismatch), "expected MismatchError, got %v", err)
	assert.Equal(t, "other-model", mismatch.ArchiveModelId)
	assert.Empty(t, mismatch.Undeclared)
	assert.Equal(t, writes, h.Files.Writes())

	opts := declared()
	opts.AllowOtherModel = true
	result, err := m.Restore(context.Background(), out, opts)
	require.NoError(t, err)
	assert.Equal(t, []model.Ref{model.NewRef(model.KindEnvFile, "/etc/app/app.env")}, result.Restored)
}

func TestOpenArchive_RejectsEscapingEntries(t *testing.T) {
	var buf bytes.Buffer
	gzw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gzw)
	require.NoError(t, writeTarFile(tw, "../../etc/passwd", []byte("x"), time.Now()))
	require.NoError(t, tw.Close())
	require.NoError(t, gzw.Close())

	_, err := readArchive(&buf, "evil.tar.gz")
	var integrityErr *model.IntegrityError
	assert.True(t, errors.As(err, &integrityErr), "expected IntegrityError, got %v", err)
}

func TestOpenArchive_MissingManifest(t *testing.T) {
	var buf bytes.Buffer
	gzw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gzw)
	require.NoError(t, tw.Close())
	require.NoError(t, gzw.Close())

	_, err := readArchive(&buf, "empty.tar.gz")
	var integrityErr *model.IntegrityError
	assert.True(t, errors.As(err, &integrityErr))
}
