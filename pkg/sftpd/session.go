// Package sftpd implements the server-side protocol engine: one Session
// per accepted channel, dispatching decoded request packets to a safe
// filesystem and encoding a single response packet per request, per
// spec.md §4.D.
package sftpd

import (
	"fmt"

	"github.com/golang/glog"

	"github.com/qbane/websocketfs/pkg/channel"
	"github.com/qbane/websocketfs/pkg/metrics"
	"github.com/qbane/websocketfs/pkg/safefs"
	"github.com/qbane/websocketfs/pkg/sftperr"
	"github.com/qbane/websocketfs/pkg/wire"
)

// Session binds one accepted channel to one safe filesystem, negotiating
// the wire handshake and dispatching every subsequent request packet.
type Session struct {
	ch *channel.Channel
	fs *safefs.FS

	features featureSet
	pool     *wire.BufPool
	metrics  *metrics.Collector

	// currentCommand names the command dispatch is currently handling, for
	// replyStatus's error-counter labeling. Safe unguarded: one session
	// dispatches one request at a time.
	currentCommand string
}

// SetMetrics attaches a metrics.Collector that the dispatch loop reports
// per-request counts and latencies to. Optional; nil disables reporting.
func (s *Session) SetMetrics(c *metrics.Collector) {
	s.metrics = c
	if c != nil {
		c.ActiveSessions.Inc()
	}
}

type featureSet struct {
	hardlink    bool
	posixRename bool
	copyData    bool
	checkHandle bool
	statVFS     bool
}

// NewSession wraps ch with the dispatch loop backed by fs. The caller must
// still call ch.Start() (directly, or via Serve) to begin reading frames.
func NewSession(ch *channel.Channel, fs *safefs.FS) *Session {
	s := &Session{ch: ch, fs: fs, pool: wire.DefaultPool}
	ch.OnMessage(s.handleMessage)
	ch.OnClose(s.handleClose)
	return s
}

// Serve starts the channel's read loop in the background and returns at
// once; the session's close handler tears it down when the channel closes.
// It is equivalent to calling ch.Start() directly.
func (s *Session) Serve() {
	s.ch.Start()
}

func (s *Session) handleClose(err error) {
	s.fs.CloseAll()
	if s.metrics != nil {
		s.metrics.ActiveSessions.Dec()
	}
	if err != nil {
		glog.V(1).Infof("sftpd: session closed: %v", err)
	}
}

func (s *Session) handleMessage(body []byte) {
	r := wire.NewReader(body)
	hdr, err := wire.ReadHeader(r)
	if err != nil {
		glog.Warningf("sftpd: malformed packet, closing: %v", err)
		s.ch.Close(1007, "malformed packet")
		return
	}

	if hdr.Type == wire.TypeInit {
		s.handleInit(r)
		return
	}

	if !hdr.HasID {
		glog.Warningf("sftpd: non-INIT packet type %d missing request ID", hdr.Type)
		s.ch.Close(1007, "missing request id")
		return
	}

	s.dispatch(hdr, r)
}

func (s *Session) handleInit(r *wire.Reader) {
	version, err := r.ReadUint32()
	if err != nil || version != wire.ProtocolVersion {
		glog.Warningf("sftpd: bad INIT version: %v (err=%v)", version, err)
		s.ch.Close(1002, "unsupported protocol version")
		return
	}

	s.features.statVFS = true
	s.features.copyData = true
	s.features.checkHandle = true

	w := wire.NewWriterFromPool(s.pool, 64)
	w.WriteHeader(wire.TypeVersion, nil, "")
	w.WriteUint32(wire.ProtocolVersion)
	writeExtPair(w, wire.ExtHardlink, "1")
	writeExtPair(w, wire.ExtPosixRename, "1")
	writeExtPair(w, wire.ExtCopyData, "1")
	writeExtPair(w, wire.ExtCheckHandle, "1")
	writeExtPair(w, wire.ExtStatVFS, "1")
	s.features.hardlink = true
	s.features.posixRename = true
	_ = s.ch.Send(w.Finish())
}

func writeExtPair(w *wire.Writer, name, value string) {
	w.WriteString(name)
	w.WriteString(value)
}

func (s *Session) reply(id uint32, w *wire.Writer) {
	_ = s.ch.Send(w.Finish())
}

func (s *Session) replyStatus(id uint32, err error) {
	code, desc := sftperr.ToStatus(err)
	if err != nil && s.metrics != nil {
		s.metrics.ErrorsTotal.WithLabelValues(s.currentCommand, fmt.Sprint(code)).Inc()
	}
	w := wire.NewWriterFromPool(s.pool, 32+len(desc))
	w.WriteHeader(wire.TypeStatus, &id, "")
	w.WriteUint32(uint32(code))
	w.WriteString(desc)
	w.WriteString("")
	s.reply(id, w)
}

func (s *Session) replyHandle(id uint32, handle uint32) {
	w := wire.NewWriterFromPool(s.pool, 16)
	w.WriteHeader(wire.TypeHandle, &id, "")
	w.WriteData(wire.EncodeHandle(handle))
	s.reply(id, w)
}

func (s *Session) replyData(id uint32, data []byte) {
	w := wire.NewWriterFromPool(s.pool, 16+len(data))
	w.WriteHeader(wire.TypeData, &id, "")
	w.WriteData(data)
	s.reply(id, w)
}

func (s *Session) replyAttrs(id uint32, a *wire.Attr) {
	w := wire.NewWriterFromPool(s.pool, 48)
	w.WriteHeader(wire.TypeAttrs, &id, "")
	w.WriteAttr(a)
	s.reply(id, w)
}

func (s *Session) replyName(id uint32, items []wire.Item) {
	w := wire.NewWriterFromPool(s.pool, 64)
	w.WriteHeader(wire.TypeName, &id, "")
	wire.WriteName(w, items)
	s.reply(id, w)
}

func (s *Session) replyExtended(id uint32, algorithm string, data []byte) {
	w := wire.NewWriterFromPool(s.pool, 32+len(data))
	w.WriteHeader(wire.TypeExtendedReply, &id, "")
	w.WriteString(algorithm)
	w.WriteData(data)
	s.reply(id, w)
}

func decodeHandleField(r *wire.Reader) (uint32, error) {
	raw, err := r.ReadData()
	if err != nil {
		return 0, err
	}
	id, ok := wire.DecodeHandle(raw)
	if !ok {
		return 0, sftperr.New("EFAILURE", -2, "malformed handle field")
	}
	return id, nil
}
