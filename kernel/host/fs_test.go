package host

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFS_WriteFile(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "nested", "app.env")
	fs := LocalFS{}

	require.NoError(t, fs.WriteFile(target, []byte("PORT=5678\n"), 0600))

	data, err := fs.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "PORT=5678\n", string(data))

	info, err := fs.Stat(target)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(target))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files should not be left behind")
}

func TestLocalFS_Symlink(t *testing.T) {
	dir := t.TempDir()
	site := filepath.Join(dir, "sites-available", "app.conf")
	link := filepath.Join(dir, "sites-enabled", "app.conf")
	fs := LocalFS{}

	require.NoError(t, fs.WriteFile(site, []byte("server {}"), 0644))
	require.NoError(t, fs.Symlink(site, link))
	require.NoError(t, fs.Symlink(site, link), "replacing an existing link should succeed")

	target, err := fs.Readlink(link)
	require.NoError(t, err)
	assert.Equal(t, site, target)

	require.NoError(t, fs.Remove(link))
	require.NoError(t, fs.Remove(link), "removing a missing path is not an error")
}

func TestLocalRunner_ExitCodes(t *testing.T) {
	r := &LocalRunner{}

	res, err := r.Run(context.Background(), "sh", "-c", "echo ok")
	require.NoError(t, err)
	assert.Equal(t, "ok\n", res.Stdout)

	res, err = r.Run(context.Background(), "sh", "-c", "echo bad >&2; exit 3")
	require.Error(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.True(t, ExitedNonZero(err))
	assert.Contains(t, err.Error(), "bad")

	res, err = r.Run(context.Background(), "definitely-not-a-binary-fabkeep")
	require.Error(t, err)
	assert.Equal(t, 127, res.ExitCode)
	assert.False(t, ExitedNonZero(err))
}

func TestShellEscape(t *testing.T) {
	assert.Equal(t, "nginx -t", joinCommand("nginx", []string{"-t"}))
	assert.Equal(t, "echo 'it'\"'\"'s'", joinCommand("echo", []string{"it's"}))
	assert.Equal(t, "echo ''", joinCommand("echo", []string{""}))
}
