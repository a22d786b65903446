// Package channel implements the framed binary message transport (spec.md
// §4.B) carrying one SFTP session over a WebSocket connection.
package channel

import (
	"context"
	"net/http"
	"sync"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/qbane/websocketfs/pkg/sftperr"
)

// Subprotocol is the WebSocket subprotocol this module speaks, per spec.md
// §6.
const Subprotocol = "sftp"

// Channel wraps one WebSocket connection, exposing the send/on-message/
// on-close contract of spec.md §4.B. At most one Channel exists per
// session; after a local Close, further Send calls are silently dropped.
type Channel struct {
	conn *websocket.Conn

	mu          sync.Mutex
	closed      bool
	established bool

	onMessage func([]byte)
	onClose   func(error)

	started sync.Once
}

func newChannel(conn *websocket.Conn, established bool) *Channel {
	return &Channel{conn: conn, established: established}
}

// OnMessage registers the callback invoked for every binary message
// received. Must be set before Start.
func (c *Channel) OnMessage(fn func([]byte)) { c.onMessage = fn }

// OnClose registers the callback invoked once, when the channel closes for
// any reason (peer close, local close, or protocol violation). err is nil
// for a normal (code 1000) close.
func (c *Channel) OnClose(fn func(error)) { c.onClose = fn }

// Start launches the read loop in its own goroutine. Must be called after
// OnMessage/OnClose are registered.
func (c *Channel) Start() {
	c.started.Do(func() {
		go c.readLoop()
	})
}

func (c *Channel) readLoop() {
	var finalErr error
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			finalErr = c.translateReadError(err)
			break
		}
		if mt != websocket.BinaryMessage {
			glog.Warningf("channel: rejecting non-binary frame type %d", mt)
			c.closeLocked(1007, "binary frames only")
			finalErr = sftperr.Clone(sftperr.ErrBadMessage)
			break
		}
		c.established = true
		if c.onMessage != nil {
			c.onMessage(data)
		}
	}
	c.finish(finalErr)
}

func (c *Channel) translateReadError(err error) error {
	if ce, ok := err.(*websocket.CloseError); ok {
		if e := errorForCloseCode(ce.Code, ce.Text, c.established); e != nil {
			return e
		}
		return nil
	}
	if !c.established {
		return sftperr.Clone(sftperr.ErrConnRefused)
	}
	return sftperr.Clone(sftperr.ErrConnAborted).WithContext("cause", err.Error())
}

func (c *Channel) finish(err error) {
	c.mu.Lock()
	already := c.closed
	c.closed = true
	c.mu.Unlock()
	if already {
		return
	}
	if c.onClose != nil {
		c.onClose(err)
	}
}

// Send transmits one binary message. Silently succeeds (does nothing) if
// the channel has already been closed locally, per spec.md §4.B.
func (c *Channel) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Close closes the underlying WebSocket with the given close code and
// reason, then fires OnClose locally (the read loop's own close-triggered
// callback is suppressed by the closed flag).
func (c *Channel) Close(code int, reason string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.closeLocked(code, reason)

	var err error
	if code != 1000 {
		err = errorForCloseCode(code, reason, c.established)
	}
	if c.onClose != nil {
		c.onClose(err)
	}
	return nil
}

func (c *Channel) closeLocked(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, deadlineNow())
	_ = c.conn.Close()
}

// Dial opens a client-side channel to url, negotiating the "sftp"
// subprotocol. header carries caller-supplied auth (e.g. an Authorization
// header); a 401 response surfaces as X_NOAUTH per spec.md §6.
func Dial(ctx context.Context, url string, header http.Header) (*Channel, error) {
	dialer := websocket.Dialer{Subprotocols: []string{Subprotocol}}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			e := sftperr.Clone(sftperr.ErrNoAuth)
			if info := resp.Header.Get("sftp-authenticate-info"); info != "" {
				e = e.WithContext("sftp-authenticate-info", info)
			}
			return nil, e
		}
		return nil, sftperr.Clone(sftperr.ErrConnRefused).WithContext("cause", err.Error())
	}
	return newChannel(conn, true), nil
}

// Accept upgrades an incoming HTTP request to a server-side channel,
// requiring the "sftp" subprotocol.
func Accept(w http.ResponseWriter, r *http.Request) (*Channel, error) {
	upgrader := websocket.Upgrader{Subprotocols: []string{Subprotocol}}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, sftperr.Clone(sftperr.ErrFailure).WithContext("cause", err.Error())
	}
	return newChannel(conn, true), nil
}
