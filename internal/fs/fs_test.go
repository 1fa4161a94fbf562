package fs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFS(t *testing.T) *CachedFS {
	t.Helper()
	cfs, err := NewCachedFS(t.TempDir(), time.Minute, 10)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cfs.Close() })
	return cfs
}

func TestResolveRejectsEscapes(t *testing.T) {
	cfs := newTestFS(t)

	_, err := cfs.Resolve("../outside.txt")
	assert.True(t, errors.Is(err, ErrOutsideWorkspace))

	_, err = cfs.Resolve("/etc/passwd")
	assert.True(t, errors.Is(err, ErrOutsideWorkspace))

	abs, err := cfs.Resolve("a/../b.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cfs.Root(), "b.txt"), abs)

	_, err = cfs.Resolve("  ")
	assert.Error(t, err)
}

func TestResolveRejectsSymlinkEscape(t *testing.T) {
	cfs := newTestFS(t)
	outside := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(cfs.Root(), "link")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	_, err := cfs.Resolve("link")
	assert.True(t, errors.Is(err, ErrOutsideWorkspace))
}

func TestWriteThroughSymlinkedParentIsRefused(t *testing.T) {
	ctx := context.Background()
	cfs := newTestFS(t)
	outside := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(cfs.Root(), "link")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	err := cfs.WriteFile(ctx, "link/pwned.txt", []byte("x"))
	assert.True(t, errors.Is(err, ErrOutsideWorkspace))
	err = cfs.AppendFile(ctx, "link/deeper/pwned.txt", []byte("x"))
	assert.True(t, errors.Is(err, ErrOutsideWorkspace))
	err = cfs.MkdirAll(ctx, "link/sub", 0o755)
	assert.True(t, errors.Is(err, ErrOutsideWorkspace))

	entries, err := os.ReadDir(outside)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWriteThroughDanglingSymlinkIsRefused(t *testing.T) {
	cfs := newTestFS(t)
	target := filepath.Join(t.TempDir(), "missing.txt")
	if err := os.Symlink(target, filepath.Join(cfs.Root(), "dangling")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	err := cfs.WriteFile(context.Background(), "dangling", []byte("x"))
	assert.True(t, errors.Is(err, ErrOutsideWorkspace))
	_, err = os.Stat(target)
	assert.True(t, os.IsNotExist(err))
}

func TestResolveAllowsNewPathsInsideRoot(t *testing.T) {
	cfs := newTestFS(t)
	require.NoError(t, os.Mkdir(filepath.Join(cfs.Root(), "real"), 0o755))
	if err := os.Symlink(filepath.Join(cfs.Root(), "real"), filepath.Join(cfs.Root(), "alias")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	got, err := cfs.Resolve("alias/new/file.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cfs.Root(), "alias", "new", "file.txt"), got)

	_, err = cfs.Resolve("fresh/dir/file.txt")
	assert.NoError(t, err)
}

func TestWriteReadAppend(t *testing.T) {
	ctx := context.Background()
	cfs := newTestFS(t)

	require.NoError(t, cfs.WriteFile(ctx, "dir/notes.txt", []byte("one\ntwo\n")))
	require.NoError(t, cfs.AppendFile(ctx, "dir/notes.txt", []byte("three\n")))

	data, err := cfs.ReadFile(ctx, "dir/notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\nthree\n", string(data))

	lines, err := cfs.ReadFileLines(ctx, "dir/notes.txt", 2, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"two", "three"}, lines)

	_, err = cfs.ReadFileLines(ctx, "dir/notes.txt", 10, 12)
	assert.Error(t, err)
}

func TestListDirCacheInvalidatedByWrite(t *testing.T) {
	ctx := context.Background()
	cfs := newTestFS(t)

	require.NoError(t, cfs.WriteFile(ctx, "a.txt", []byte("a")))
	entries, err := cfs.ListDir(ctx, ".")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.txt", entries[0].Path)

	require.NoError(t, cfs.WriteFile(ctx, "b.txt", []byte("b")))
	entries, err = cfs.ListDir(ctx, ".")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestDeleteRefusesDirectoriesAndRoot(t *testing.T) {
	ctx := context.Background()
	cfs := newTestFS(t)

	require.NoError(t, cfs.MkdirAll(ctx, "sub", 0755))
	assert.Error(t, cfs.Delete(ctx, "sub"))
	assert.Error(t, cfs.Delete(ctx, "."))

	require.NoError(t, cfs.WriteFile(ctx, "sub/f.txt", []byte("x")))
	require.NoError(t, cfs.Delete(ctx, "sub/f.txt"))

	exists, err := cfs.Exists(ctx, "sub/f.txt")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStatReportsRelativePath(t *testing.T) {
	ctx := context.Background()
	cfs := newTestFS(t)

	require.NoError(t, cfs.WriteFile(ctx, "x/y.go", []byte("package y\n")))
	info, err := cfs.Stat(ctx, "x/y.go")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("x", "y.go"), info.Path)
	assert.False(t, info.IsDir)
	assert.Equal(t, int64(10), info.Size)
}
