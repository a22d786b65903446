package safefs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbane/websocketfs/pkg/wire"
)

func newTestFS(t *testing.T, readOnly bool) (*FS, string) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello world"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))
	fs, err := New(root, readOnly, false)
	require.NoError(t, err)
	return fs, root
}

func TestOpenReadCloseRoundTrip(t *testing.T) {
	fs, _ := newTestFS(t, false)
	id, err := fs.Open("/a.txt", wire.FlagRead, nil)
	require.NoError(t, err)
	data, err := fs.Read(id, 0, 5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	require.NoError(t, fs.Close(id))
}

func TestReadOnlyRejectsWrite(t *testing.T) {
	fs, _ := newTestFS(t, true)
	_, err := fs.Open("/a.txt", wire.FlagWrite|wire.FlagCreat, nil)
	require.Error(t, err)

	err = fs.Mkdir("/newdir", nil)
	require.Error(t, err)
}

func TestPathEscapeIsClampedInsideRoot(t *testing.T) {
	fs, root := newTestFS(t, false)
	local := fs.resolve("/../../../etc/passwd")
	assert.True(t, len(local) >= len(root))
	assert.Equal(t, root+"/etc/passwd", local)
}

func TestVirtualizeStripsRootPrefix(t *testing.T) {
	fs, root := newTestFS(t, false)
	assert.Equal(t, "/a.txt", fs.virtualize(root+"/a.txt"))
	assert.Equal(t, "/", fs.virtualize("/somewhere/else"))
}

func TestHandleTableExhaustionReturnsENFILE(t *testing.T) {
	fs, _ := newTestFS(t, false)
	var ids []uint32
	for i := 0; i < maxHandles; i++ {
		id, err := fs.Open("/a.txt", wire.FlagRead, nil)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	_, err := fs.Open("/a.txt", wire.FlagRead, nil)
	require.Error(t, err)

	for _, id := range ids {
		require.NoError(t, fs.Close(id))
	}
}

func TestOpendirReaddirListsEntries(t *testing.T) {
	fs, _ := newTestFS(t, false)
	id, err := fs.Opendir("/")
	require.NoError(t, err)
	items, err := fs.Readdir(id)
	require.NoError(t, err)
	names := map[string]bool{}
	for _, it := range items {
		names[it.Filename] = true
	}
	assert.True(t, names["a.txt"])
	assert.True(t, names["sub"])

	_, err = fs.Readdir(id)
	assert.Error(t, err) // EOF on second call

	require.NoError(t, fs.Close(id))
}

func TestUIDGIDHidingStripsOwnerFields(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0o644))
	fs, err := New(root, false, true)
	require.NoError(t, err)
	attr, err := fs.Lstat("/a.txt")
	require.NoError(t, err)
	assert.False(t, attr.HasUIDGID)
}

func TestRenameFailIfExistsRejectsExistingDestination(t *testing.T) {
	fs, root := newTestFS(t, false)
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("y"), 0o644))
	err := fs.Rename("/a.txt", "/b.txt", RenameFailIfExists)
	assert.Error(t, err)
}

func TestFcopyCopiesBytesBetweenHandles(t *testing.T) {
	fs, _ := newTestFS(t, false)
	src, err := fs.Open("/a.txt", wire.FlagRead, nil)
	require.NoError(t, err)
	dst, err := fs.Open("/copy.txt", wire.FlagWrite|wire.FlagCreat, &wire.Attr{HasPerms: true, Perms: 0o644})
	require.NoError(t, err)

	require.NoError(t, fs.Fcopy(src, 0, 11, dst, 0))
	require.NoError(t, fs.Close(src))
	require.NoError(t, fs.Close(dst))

	data, err := fs.Read(mustReopen(t, fs, "/copy.txt"), 0, 11)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func mustReopen(t *testing.T, fs *FS, virtual string) uint32 {
	t.Helper()
	id, err := fs.Open(virtual, wire.FlagRead, nil)
	require.NoError(t, err)
	return id
}

func TestFhashComputesPerBlockDigests(t *testing.T) {
	fs, _ := newTestFS(t, false)
	id, err := fs.Open("/a.txt", wire.FlagRead, nil)
	require.NoError(t, err)
	sum, err := fs.Fhash(id, "md5", 0, 11, 11)
	require.NoError(t, err)
	assert.Len(t, sum, 16)
}
