package channel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serverURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func TestDialAcceptRoundTripsBinaryMessages(t *testing.T) {
	var srvCh *Channel
	var wg sync.WaitGroup
	wg.Add(1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ch, err := Accept(w, r)
		require.NoError(t, err)
		srvCh = ch
		ch.OnMessage(func(b []byte) {
			_ = ch.Send(append([]byte("echo:"), b...))
		})
		ch.Start()
		wg.Done()
	}))
	defer ts.Close()

	cli, err := Dial(context.Background(), serverURL(ts), nil)
	require.NoError(t, err)

	received := make(chan []byte, 1)
	cli.OnMessage(func(b []byte) { received <- b })
	cli.Start()

	require.NoError(t, cli.Send([]byte("hello")))
	wg.Wait()

	select {
	case b := <-received:
		assert.Equal(t, "echo:hello", string(b))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echo")
	}
	_ = srvCh
}

func TestSendAfterLocalCloseIsSilentlyDropped(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ch, err := Accept(w, r)
		require.NoError(t, err)
		ch.Start()
	}))
	defer ts.Close()

	cli, err := Dial(context.Background(), serverURL(ts), nil)
	require.NoError(t, err)
	cli.Start()

	require.NoError(t, cli.Close(1000, "done"))
	assert.NoError(t, cli.Send([]byte("after close")))
}

func TestNonBinaryFrameClosesWithProtocolError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{Subprotocols: []string{Subprotocol}}
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		_ = conn.WriteMessage(websocket.TextMessage, []byte("not binary"))
	}))
	defer ts.Close()

	cli, err := Dial(context.Background(), serverURL(ts), nil)
	require.NoError(t, err)

	closed := make(chan error, 1)
	cli.OnClose(func(err error) { closed <- err })
	cli.Start()

	select {
	case err := <-closed:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for close")
	}
}

func TestDialWithoutServerIsConnRefused(t *testing.T) {
	_, err := Dial(context.Background(), "ws://127.0.0.1:1/nope", nil)
	require.Error(t, err)
}
