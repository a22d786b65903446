package fsadapter

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbane/websocketfs/pkg/sftpc"
	"github.com/qbane/websocketfs/pkg/sftpd"
	"github.com/qbane/websocketfs/pkg/sftperr"
	"github.com/qbane/websocketfs/pkg/wire"
)

func startExporter(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "hello.txt"), []byte("hello fuse"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "dir"), 0o755))
	ts := httptest.NewServer(&sftpd.Exporter{ExportRoot: root})
	t.Cleanup(ts.Close)
	return ts, root
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func newReadyFS(t *testing.T, ts *httptest.Server) *FileSystem {
	t.Helper()
	f := NewFileSystem(DialWS(wsURL(ts), nil), Options{CacheTTL: 50 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	t.Cleanup(f.Unmount)
	f.Mount(ctx)
	require.Eventually(t, func() bool {
		_, state := f.conn.current()
		return state == StateReady
	}, 2*time.Second, 5*time.Millisecond)
	return f
}

func TestNotReadyOperationsReturnENOTCONN(t *testing.T) {
	f := NewFileSystem(func(ctx context.Context) (*sftpc.Client, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, Options{})
	_, errno := f.client()
	assert.Equal(t, syscall.ENOTCONN, errno)
}

func TestLifecycleReachesReadyThenClosed(t *testing.T) {
	ts, _ := startExporter(t)
	f := newReadyFS(t, ts)
	_, state := f.conn.current()
	assert.Equal(t, StateReady, state)
	f.conn.close()
	_, state = f.conn.current()
	assert.Equal(t, StateClosed, state)
}

func TestDirectoryLookupAndReaddir(t *testing.T) {
	ts, _ := startExporter(t)
	f := newReadyFS(t, ts)
	root := &DirectoryNode{fsys: f, path: "/"}

	attr, errno := root.lookupAttr(context.Background(), "hello.txt")
	require.Zero(t, errno)
	assert.True(t, attr.HasSize)
	assert.EqualValues(t, len("hello fuse"), attr.Size)

	stream, errno := root.Readdir(context.Background())
	require.Zero(t, errno)
	var names []string
	for stream.HasNext() {
		e, errno := stream.Next()
		require.Zero(t, errno)
		names = append(names, e.Name)
	}
	assert.Contains(t, names, "hello.txt")
	assert.Contains(t, names, "dir")
}

func TestAttrCacheServesWithoutRoundTrip(t *testing.T) {
	ts, _ := startExporter(t)
	f := newReadyFS(t, ts)
	root := &DirectoryNode{fsys: f, path: "/"}

	_, errno := root.lookupAttr(context.Background(), "hello.txt")
	require.Zero(t, errno)

	f.conn.close() // live client gone; a cache hit must not need it
	_, errno = root.lookupAttr(context.Background(), "hello.txt")
	assert.Zero(t, errno)
}

func TestMutationInvalidatesAttrCache(t *testing.T) {
	ts, root := startExporter(t)
	f := newReadyFS(t, ts)
	dir := &DirectoryNode{fsys: f, path: "/"}

	_, errno := dir.lookupAttr(context.Background(), "hello.txt")
	require.Zero(t, errno)
	_, ok := f.caches.getAttr("/hello.txt")
	require.True(t, ok)

	require.NoError(t, os.WriteFile(filepath.Join(root, "hello.txt"), []byte("hello fuse, now longer"), 0o644))
	cli, _ := f.client()
	require.NoError(t, cli.Setstat("/hello.txt", &wire.Attr{}))
	f.caches.invalidate("/hello.txt")

	_, ok = f.caches.getAttr("/hello.txt")
	assert.False(t, ok)
}

func TestWriteBufferCoalescesAdjacentRecords(t *testing.T) {
	ts, root := startExporter(t)
	f := newReadyFS(t, ts)

	cli, errno := f.client()
	require.Zero(t, errno)
	handle, err := cli.Open("/new.txt", wire.FlagWrite|wire.FlagCreat, nil)
	require.NoError(t, err)

	fh := &FileHandle{fsys: f, path: "/new.txt", handle: handle}
	_, errno = fh.Write(context.Background(), []byte("hello "), 0)
	require.Zero(t, errno)
	_, errno = fh.Write(context.Background(), []byte("world"), 6)
	require.Zero(t, errno)

	errno = fh.Flush(context.Background())
	require.Zero(t, errno)
	require.NoError(t, cli.CloseHandle(handle))

	data, err := os.ReadFile(filepath.Join(root, "new.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestHidePathReturnsENOENTWithoutContactingServer(t *testing.T) {
	ts, _ := startExporter(t)
	f := NewFileSystem(DialWS(wsURL(ts), nil), Options{CacheTTL: 50 * time.Millisecond, HidePaths: []string{"/secret"}})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	t.Cleanup(f.Unmount)
	f.Mount(ctx)
	require.Eventually(t, func() bool {
		_, state := f.conn.current()
		return state == StateReady
	}, 2*time.Second, 5*time.Millisecond)

	dir := &DirectoryNode{fsys: f, path: "/secret"}
	_, errno := dir.lookupAttr(context.Background(), "file.txt")
	assert.Equal(t, syscall.ENOENT, errno)
}

func TestMissingFileLookupSurfacesENOENT(t *testing.T) {
	ts, _ := startExporter(t)
	f := newReadyFS(t, ts)
	root := &DirectoryNode{fsys: f, path: "/"}

	_, errno := root.lookupAttr(context.Background(), "does-not-exist.txt")
	assert.Equal(t, syscall.ENOENT, errno)
}

func TestErrToErrnoMapsByCode(t *testing.T) {
	cases := []struct {
		code string
		want syscall.Errno
	}{
		{"ENOENT", syscall.ENOENT},
		{"EACCES", syscall.EACCES},
		{"EROFS", syscall.EROFS},
		{"ENOTCONN", syscall.ENOTCONN},
		{"ESHUTDOWN", syscall.ESHUTDOWN},
		{"EIO", syscall.EIO},
		{"EFAILURE", syscall.ENOSYS},
	}
	for _, c := range cases {
		err := sftperr.New(c.code, 999, "boom")
		assert.Equal(t, c.want, errToErrno(err), "code %s", c.code)
	}
}

func TestTrackerRecordsOpenedPaths(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "tracked.txt")
	tr := newTracker(out, time.Time{})
	defer tr.stop()

	c := newCaches(time.Second)
	tr.record("/a/b.txt", c)
	tr.flush()

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "/a/b.txt")
}

func TestTrackerEvictsStaleEntriesPastTimeout(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "tracked.txt")
	tr := newTrackerWithOptions(out, time.Time{}, time.Hour, 10*time.Millisecond)
	defer tr.stop()

	c := newCaches(time.Second)
	tr.record("/stale.txt", c)
	time.Sleep(20 * time.Millisecond)
	tr.evict()
	tr.record("/fresh.txt", c)
	tr.flush()

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "/stale.txt")
	assert.Contains(t, string(data), "/fresh.txt")
}

func TestCachesPerKindTTLOverrides(t *testing.T) {
	c := newCaches(time.Hour).withOverrides(10*time.Millisecond, time.Hour, time.Hour)
	c.putAttr("/hello.txt", &wire.Attr{})
	_, ok := c.getAttr("/hello.txt")
	require.True(t, ok)
	time.Sleep(20 * time.Millisecond)
	_, ok = c.getAttr("/hello.txt")
	assert.False(t, ok, "stat cache entry should have expired under its override TTL")

	c.putDir("/", []string{"hello.txt"})
	_, ok = c.getDir("/")
	assert.True(t, ok, "dir cache entry should still be live under the unaffected dir TTL")
}

func TestConnectionBackoffGrowsMultiplicatively(t *testing.T) {
	c := newConnection(nil, true)
	d1 := c.backoffBase
	d2 := time.Duration(float64(c.backoffBase) * backoffFactor)
	b1 := c.backoff(1)
	b2 := c.backoff(2)
	assert.GreaterOrEqual(t, b1, d1)
	assert.Less(t, b1, 2*d1)
	assert.GreaterOrEqual(t, b2, d2)
	assert.LessOrEqual(t, c.backoff(100), c.backoffMax+c.backoffMax/2)
}
