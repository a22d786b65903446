package sftpc

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbane/websocketfs/pkg/sftpd"
	"github.com/qbane/websocketfs/pkg/sftperr"
	"github.com/qbane/websocketfs/pkg/wire"
)

func startServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "hello.txt"), []byte("hello client"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "dir"), 0o755))
	ts := httptest.NewServer(&sftpd.Exporter{ExportRoot: root})
	t.Cleanup(ts.Close)
	return ts, root
}

func dialClient(t *testing.T, ts *httptest.Server) *Client {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	c, err := Dial(context.Background(), url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestDialNegotiatesFeatures(t *testing.T) {
	ts, _ := startServer(t)
	c := dialClient(t, ts)
	assert.True(t, c.Features.Hardlink)
	assert.True(t, c.Features.PosixRename)
	assert.True(t, c.Features.StatVFS)
}

func TestOpenReadWriteCloseRoundTrip(t *testing.T) {
	ts, _ := startServer(t)
	c := dialClient(t, ts)

	h, err := c.Open("/hello.txt", wire.FlagRead, nil)
	require.NoError(t, err)
	data, err := c.Read(h, 0, 5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	require.NoError(t, c.CloseHandle(h))

	wh, err := c.Open("/new.txt", wire.FlagWrite|wire.FlagCreat, &wire.Attr{HasPerms: true, Perms: 0o644})
	require.NoError(t, err)
	require.NoError(t, c.Write(wh, 0, []byte("written")))
	require.NoError(t, c.CloseHandle(wh))

	rh, err := c.Open("/new.txt", wire.FlagRead, nil)
	require.NoError(t, err)
	data, err = c.Read(rh, 0, 7)
	require.NoError(t, err)
	assert.Equal(t, "written", string(data))
}

func TestReadPastEndReturnsEmptyNotError(t *testing.T) {
	ts, _ := startServer(t)
	c := dialClient(t, ts)
	h, err := c.Open("/hello.txt", wire.FlagRead, nil)
	require.NoError(t, err)
	data, err := c.Read(h, 1000, 10)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestReadOverCapRejectedWithEIO(t *testing.T) {
	ts, _ := startServer(t)
	c := dialClient(t, ts)
	h, err := c.Open("/hello.txt", wire.FlagRead, nil)
	require.NoError(t, err)
	_, err = c.Read(h, 0, wire.MaxReadLength+1)
	require.Error(t, err)
	se, ok := err.(*sftperr.Error)
	require.True(t, ok)
	assert.Equal(t, "EIO", se.Code)
}

func TestWriteOverCapRejectedWithEIO(t *testing.T) {
	ts, _ := startServer(t)
	c := dialClient(t, ts)
	wh, err := c.Open("/new.txt", wire.FlagWrite|wire.FlagCreat, &wire.Attr{HasPerms: true, Perms: 0o644})
	require.NoError(t, err)
	err = c.Write(wh, 0, make([]byte, wire.MaxWriteLength+1))
	require.Error(t, err)
	se, ok := err.(*sftperr.Error)
	require.True(t, ok)
	assert.Equal(t, "EIO", se.Code)
}

func TestOpendirReaddirLists(t *testing.T) {
	ts, _ := startServer(t)
	c := dialClient(t, ts)
	h, err := c.Opendir("/")
	require.NoError(t, err)
	items, err := c.Readdir(h)
	require.NoError(t, err)
	names := map[string]bool{}
	for _, it := range items {
		names[it.Filename] = true
	}
	assert.True(t, names["hello.txt"])
	assert.True(t, names["dir"])

	items, err = c.Readdir(h)
	require.NoError(t, err)
	assert.Nil(t, items)
}

func TestRenameOverwriteRequiresFeature(t *testing.T) {
	ts, _ := startServer(t)
	c := dialClient(t, ts)
	c.Features.PosixRename = false
	err := c.Rename("/hello.txt", "/dir", 1)
	assert.Error(t, err)
}

func TestUnknownRenameFlagRejectedLocally(t *testing.T) {
	ts, _ := startServer(t)
	c := dialClient(t, ts)
	err := c.Rename("/hello.txt", "/x.txt", 99)
	assert.Error(t, err)
}

func TestMkdirStatRoundTrip(t *testing.T) {
	ts, _ := startServer(t)
	c := dialClient(t, ts)
	require.NoError(t, c.Mkdir("/newdir", nil))
	a, err := c.Stat("/newdir")
	require.NoError(t, err)
	assert.True(t, a.HasPerms)
}
