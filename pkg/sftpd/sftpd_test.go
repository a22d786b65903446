package sftpd

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/qbane/websocketfs/pkg/channel"
	"github.com/qbane/websocketfs/pkg/sftperr"
	"github.com/qbane/websocketfs/pkg/wire"
)

func startExporter(t *testing.T, readOnly bool) (*httptest.Server, string) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "hello.txt"), []byte("hi there"), 0o644))
	exp := &Exporter{ExportRoot: root, ReadOnly: readOnly}
	ts := httptest.NewServer(exp)
	t.Cleanup(ts.Close)
	return ts, root
}

func dialTest(t *testing.T, ts *httptest.Server) *channel.Channel {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	ch, err := channel.Dial(context.Background(), url, nil)
	require.NoError(t, err)
	return ch
}

func TestInitVersionHandshake(t *testing.T) {
	ts, _ := startExporter(t, false)
	ch := dialTest(t, ts)

	versions := make(chan []byte, 1)
	ch.OnMessage(func(b []byte) { versions <- b })
	ch.Start()

	w := wire.NewWriter()
	w.WriteHeader(wire.TypeInit, nil, "")
	w.WriteUint32(wire.ProtocolVersion)
	require.NoError(t, ch.Send(w.Finish()))

	select {
	case body := <-versions:
		r := wire.NewReader(body)
		hdr, err := wire.ReadHeader(r)
		require.NoError(t, err)
		require.EqualValues(t, wire.TypeVersion, hdr.Type)
		v, err := r.ReadUint32()
		require.NoError(t, err)
		require.EqualValues(t, wire.ProtocolVersion, v)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for VERSION")
	}
}

func TestOpenReadOverWire(t *testing.T) {
	ts, _ := startExporter(t, false)
	ch := dialTest(t, ts)

	replies := make(chan []byte, 4)
	ch.OnMessage(func(b []byte) { replies <- b })
	ch.Start()

	initW := wire.NewWriter()
	initW.WriteHeader(wire.TypeInit, nil, "")
	initW.WriteUint32(wire.ProtocolVersion)
	require.NoError(t, ch.Send(initW.Finish()))
	<-replies // VERSION

	id := uint32(1)
	openW := wire.NewWriter()
	openW.WriteHeader(wire.TypeOpen, &id, "")
	openW.WriteString("/hello.txt")
	openW.WriteUint32(wire.FlagRead)
	openW.WriteAttr(&wire.Attr{})
	require.NoError(t, ch.Send(openW.Finish()))

	var handle []byte
	select {
	case body := <-replies:
		r := wire.NewReader(body)
		hdr, err := wire.ReadHeader(r)
		require.NoError(t, err)
		require.EqualValues(t, wire.TypeHandle, hdr.Type)
		handle, err = r.ReadData()
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for HANDLE")
	}

	id = 2
	readW := wire.NewWriter()
	readW.WriteHeader(wire.TypeRead, &id, "")
	readW.WriteData(handle)
	readW.WriteInt64(0)
	readW.WriteUint32(8)
	require.NoError(t, ch.Send(readW.Finish()))

	select {
	case body := <-replies:
		r := wire.NewReader(body)
		hdr, err := wire.ReadHeader(r)
		require.NoError(t, err)
		require.EqualValues(t, wire.TypeData, hdr.Type)
		data, err := r.ReadData()
		require.NoError(t, err)
		require.Equal(t, "hi there", string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for DATA")
	}
}

func TestUnknownPacketTypeRepliesWithBadMessageStatus(t *testing.T) {
	ts, _ := startExporter(t, false)
	ch := dialTest(t, ts)

	replies := make(chan []byte, 1)
	ch.OnMessage(func(b []byte) { replies <- b })
	ch.Start()

	w := wire.NewWriter()
	id := uint32(1)
	w.WriteHeader(byte(250), &id, "")
	require.NoError(t, ch.Send(w.Finish()))

	select {
	case body := <-replies:
		r := wire.NewReader(body)
		hdr, err := wire.ReadHeader(r)
		require.NoError(t, err)
		require.EqualValues(t, wire.TypeStatus, hdr.Type)
		code, err := r.ReadUint32()
		require.NoError(t, err)
		require.EqualValues(t, sftperr.StatusBadMessage, code)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for STATUS reply")
	}
}
