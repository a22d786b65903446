// Package sftpc implements the client-side protocol engine: request ID
// allocation, the outstanding-request table, the INIT/VERSION handshake,
// and one method per wire operation, per spec.md §4.C.
package sftpc

import (
	"context"
	"net/http"
	"sync"

	"github.com/golang/glog"

	"github.com/qbane/websocketfs/pkg/channel"
	"github.com/qbane/websocketfs/pkg/sftperr"
	"github.com/qbane/websocketfs/pkg/wire"
)

// Features records which optional extensions the server advertised during
// VERSION negotiation.
type Features struct {
	Hardlink    bool
	PosixRename bool
	CopyData    bool
	CheckHandle bool
	StatVFS     bool
}

// pendingRequest is one outstanding request awaiting its response, per
// spec.md §3's Request entity.
type pendingRequest struct {
	command string
	respCh  chan response
}

type response struct {
	typ  byte
	body *wire.Reader
	err  error
}

// Client is one client-side SFTP session bound to a single channel.
type Client struct {
	ch *channel.Channel

	mu       sync.Mutex
	nextID   uint32
	inFlight map[uint32]*pendingRequest
	closed   bool
	closeErr error

	initDone      chan error
	Features      Features
	onDisconnect  func()

	pool *wire.BufPool
}

// OnDisconnect registers a callback fired once the channel closes for any
// reason, after all outstanding requests have already been failed. Used
// by the filesystem adapter to trigger reconnection (spec.md §4.F).
func (c *Client) OnDisconnect(fn func()) {
	c.mu.Lock()
	c.onDisconnect = fn
	c.mu.Unlock()
}

// Dial opens a WebSocket channel to url and performs the INIT/VERSION
// handshake, returning a ready Client.
func Dial(ctx context.Context, url string, header http.Header) (*Client, error) {
	ch, err := channel.Dial(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return newClient(ch)
}

func newClient(ch *channel.Channel) (*Client, error) {
	c := &Client{
		ch:       ch,
		nextID:   1,
		inFlight: make(map[uint32]*pendingRequest),
		initDone: make(chan error, 1),
		pool:     wire.DefaultPool,
	}
	ch.OnMessage(c.handleMessage)
	ch.OnClose(c.handleClose)
	ch.Start()

	w := wire.NewWriterFromPool(c.pool, 16)
	w.WriteHeader(wire.TypeInit, nil, "")
	w.WriteUint32(wire.ProtocolVersion)
	if err := ch.Send(w.Finish()); err != nil {
		return nil, err
	}

	if err := <-c.initDone; err != nil {
		return nil, err
	}
	return c, nil
}

// Close tears the channel down, failing every outstanding request with
// CONNECTION_LOST, per spec.md §4.C's Teardown clause.
func (c *Client) Close() error {
	return c.ch.Close(1000, "client close")
}

func (c *Client) handleClose(err error) {
	c.mu.Lock()
	c.closed = true
	if err != nil {
		c.closeErr = err
	} else {
		c.closeErr = sftperr.Clone(sftperr.ErrConnectionLost)
	}
	pending := c.inFlight
	c.inFlight = make(map[uint32]*pendingRequest)
	failErr := c.closeErr
	onDisconnect := c.onDisconnect
	c.mu.Unlock()

	select {
	case c.initDone <- failErr:
	default:
	}

	for _, req := range pending {
		req.respCh <- response{err: failErr}
	}

	if onDisconnect != nil {
		onDisconnect()
	}
}

func (c *Client) handleMessage(body []byte) {
	r := wire.NewReader(body)
	hdr, err := wire.ReadHeader(r)
	if err != nil {
		glog.Warningf("sftpc: malformed packet: %v", err)
		c.ch.Close(1007, "malformed packet")
		return
	}

	if hdr.Type == wire.TypeVersion {
		c.handleVersion(r)
		return
	}

	if !hdr.HasID {
		glog.Warningf("sftpc: non-VERSION packet type %d missing request ID", hdr.Type)
		c.ch.Close(1002, "missing request id")
		return
	}

	c.mu.Lock()
	req, ok := c.inFlight[hdr.ID]
	if ok {
		delete(c.inFlight, hdr.ID)
	}
	c.mu.Unlock()

	if !ok {
		glog.Errorf("sftpc: response for unknown request ID %d, fatal protocol violation", hdr.ID)
		c.ch.Close(1002, "unknown request id")
		return
	}

	req.respCh <- response{typ: hdr.Type, body: r}
}

func (c *Client) handleVersion(r *wire.Reader) {
	version, err := r.ReadUint32()
	if err != nil || version != wire.ProtocolVersion {
		c.initDone <- sftperr.Clone(sftperr.ErrProtocolType)
		c.ch.Close(1002, "unsupported protocol version")
		return
	}
	for r.Remaining() > 0 {
		name, err := r.ReadString()
		if err != nil {
			break
		}
		value, err := r.ReadString()
		if err != nil {
			break
		}
		switch name {
		case wire.ExtHardlink:
			c.Features.Hardlink = containsOne(value)
		case wire.ExtPosixRename:
			c.Features.PosixRename = containsOne(value)
		}
	}
	c.Features.StatVFS = true
	c.Features.CopyData = true
	c.Features.CheckHandle = true
	c.initDone <- nil
}

func containsOne(value string) bool {
	for _, b := range value {
		if b == '1' {
			return true
		}
	}
	return false
}

// allocID returns the next free request ID, skipping any currently
// in-flight, per spec.md §4.C's Request ID allocation clause.
func (c *Client) allocID() uint32 {
	for {
		id := c.nextID
		c.nextID++
		if c.nextID == 0 {
			c.nextID = 1
		}
		if _, busy := c.inFlight[id]; !busy {
			return id
		}
	}
}

// call sends a request packet built by encode and blocks for its
// response, returning the decoded body reader for the expected response
// type or an error.
func (c *Client) call(command string, encode func(w *wire.Writer, id uint32)) (byte, *wire.Reader, error) {
	c.mu.Lock()
	if c.closed {
		err := c.closeErr
		c.mu.Unlock()
		return 0, nil, err
	}
	id := c.allocID()
	req := &pendingRequest{command: command, respCh: make(chan response, 1)}
	c.inFlight[id] = req
	c.mu.Unlock()

	w := wire.NewWriterFromPool(c.pool, 64)
	encode(w, id)
	if err := c.ch.Send(w.Finish()); err != nil {
		c.mu.Lock()
		delete(c.inFlight, id)
		c.mu.Unlock()
		return 0, nil, err
	}

	resp := <-req.respCh
	if resp.err != nil {
		return 0, nil, resp.err
	}
	if resp.typ == wire.TypeStatus {
		code, err := resp.body.ReadUint32()
		if err != nil {
			return 0, nil, err
		}
		desc, _ := resp.body.ReadString()
		if code == uint32(sftperr.StatusOK) {
			return resp.typ, resp.body, nil
		}
		return 0, nil, sftperr.FromStatus(int(code), desc).WithContext("command", command)
	}
	return resp.typ, resp.body, nil
}
