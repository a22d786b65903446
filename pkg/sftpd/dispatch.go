package sftpd

import (
	"time"

	"github.com/golang/glog"

	"github.com/qbane/websocketfs/pkg/safefs"
	"github.com/qbane/websocketfs/pkg/sftperr"
	"github.com/qbane/websocketfs/pkg/wire"
)

func (s *Session) dispatch(hdr wire.Header, r *wire.Reader) {
	id := hdr.ID

	command := hdr.ExtName
	if command == "" {
		command = packetTypeName(hdr.Type)
	}
	s.currentCommand = command

	if s.metrics != nil {
		start := time.Now()
		s.metrics.RequestsTotal.WithLabelValues(command).Inc()
		defer func() {
			s.metrics.RequestDuration.WithLabelValues(command).Observe(time.Since(start).Seconds())
		}()
	}

	if hdr.Type == wire.TypeExtended {
		s.dispatchExtended(id, hdr.ExtName, r)
		return
	}

	switch hdr.Type {
	case wire.TypeOpen:
		s.doOpen(id, r)
	case wire.TypeClose:
		s.doClose(id, r)
	case wire.TypeRead:
		s.doRead(id, r)
	case wire.TypeWrite:
		s.doWrite(id, r)
	case wire.TypeLstat:
		s.doLstat(id, r)
	case wire.TypeFstat:
		s.doFstat(id, r)
	case wire.TypeSetstat:
		s.doSetstat(id, r)
	case wire.TypeFsetstat:
		s.doFsetstat(id, r)
	case wire.TypeOpendir:
		s.doOpendir(id, r)
	case wire.TypeReaddir:
		s.doReaddir(id, r)
	case wire.TypeRemove:
		s.doRemove(id, r)
	case wire.TypeMkdir:
		s.doMkdir(id, r)
	case wire.TypeRmdir:
		s.doRmdir(id, r)
	case wire.TypeRealpath:
		s.doRealpath(id, r)
	case wire.TypeStat:
		s.doStat(id, r)
	case wire.TypeRename:
		s.doRename(id, r)
	case wire.TypeReadlink:
		s.doReadlink(id, r)
	case wire.TypeSymlink:
		s.doSymlink(id, r)
	default:
		glog.Warningf("sftpd: unknown packet type %d", hdr.Type)
		s.replyStatus(id, sftperr.Clone(sftperr.ErrBadMessage).WithContext("type", hdr.Type))
	}
}

func (s *Session) dispatchExtended(id uint32, name string, r *wire.Reader) {
	switch name {
	case "link":
		s.doLink(id, r)
	case wire.ExtCopyData:
		s.doFcopy(id, r)
	case wire.ExtCheckHandle:
		s.doFhash(id, r)
	case wire.ExtStatVFS:
		s.doStatvfs(id, r)
	default:
		glog.V(1).Infof("sftpd: unsupported extension %q", name)
		s.replyStatus(id, sftperr.Clone(sftperr.ErrOpUnsupported).WithContext("extension", name))
	}
}

func (s *Session) doOpen(id uint32, r *wire.Reader) {
	path, err := r.ReadString()
	if err != nil {
		s.replyStatus(id, err)
		return
	}
	flags, err := r.ReadUint32()
	if err != nil {
		s.replyStatus(id, err)
		return
	}
	attrs, err := r.ReadAttr()
	if err != nil {
		s.replyStatus(id, err)
		return
	}
	h, err := s.fs.Open(path, flags, attrs)
	if err != nil {
		s.replyStatus(id, err)
		return
	}
	s.replyHandle(id, h)
}

func (s *Session) doClose(id uint32, r *wire.Reader) {
	h, err := decodeHandleField(r)
	if err != nil {
		s.replyStatus(id, err)
		return
	}
	s.replyStatus(id, s.fs.Close(h))
}

func (s *Session) doRead(id uint32, r *wire.Reader) {
	h, err := decodeHandleField(r)
	if err != nil {
		s.replyStatus(id, err)
		return
	}
	pos, err := r.ReadInt64()
	if err != nil {
		s.replyStatus(id, err)
		return
	}
	length, err := r.ReadUint32()
	if err != nil {
		s.replyStatus(id, err)
		return
	}
	if length > wire.MaxReadLength {
		s.replyStatus(id, sftperr.New("EFAILURE", -2, "read length %d exceeds cap", length))
		return
	}
	data, err := s.fs.Read(h, pos, length)
	if err != nil {
		s.replyStatus(id, err)
		return
	}
	s.replyData(id, data)
}

func (s *Session) doWrite(id uint32, r *wire.Reader) {
	h, err := decodeHandleField(r)
	if err != nil {
		s.replyStatus(id, err)
		return
	}
	pos, err := r.ReadInt64()
	if err != nil {
		s.replyStatus(id, err)
		return
	}
	data, err := r.ReadData()
	if err != nil {
		s.replyStatus(id, err)
		return
	}
	if len(data) > wire.MaxWriteLength {
		s.replyStatus(id, sftperr.New("EFAILURE", -2, "write length %d exceeds cap", len(data)))
		return
	}
	s.replyStatus(id, s.fs.Write(h, pos, data))
}

func (s *Session) doLstat(id uint32, r *wire.Reader) {
	path, err := r.ReadString()
	if err != nil {
		s.replyStatus(id, err)
		return
	}
	a, err := s.fs.Lstat(path)
	if err != nil {
		s.replyStatus(id, err)
		return
	}
	s.replyAttrs(id, a)
}

func (s *Session) doStat(id uint32, r *wire.Reader) {
	path, err := r.ReadString()
	if err != nil {
		s.replyStatus(id, err)
		return
	}
	a, err := s.fs.Stat(path)
	if err != nil {
		s.replyStatus(id, err)
		return
	}
	s.replyAttrs(id, a)
}

func (s *Session) doFstat(id uint32, r *wire.Reader) {
	h, err := decodeHandleField(r)
	if err != nil {
		s.replyStatus(id, err)
		return
	}
	a, err := s.fs.Fstat(h)
	if err != nil {
		s.replyStatus(id, err)
		return
	}
	s.replyAttrs(id, a)
}

func (s *Session) doSetstat(id uint32, r *wire.Reader) {
	path, err := r.ReadString()
	if err != nil {
		s.replyStatus(id, err)
		return
	}
	attrs, err := r.ReadAttr()
	if err != nil {
		s.replyStatus(id, err)
		return
	}
	s.replyStatus(id, s.fs.Setstat(path, attrs))
}

func (s *Session) doFsetstat(id uint32, r *wire.Reader) {
	h, err := decodeHandleField(r)
	if err != nil {
		s.replyStatus(id, err)
		return
	}
	attrs, err := r.ReadAttr()
	if err != nil {
		s.replyStatus(id, err)
		return
	}
	s.replyStatus(id, s.fs.Fsetstat(h, attrs))
}

func (s *Session) doOpendir(id uint32, r *wire.Reader) {
	path, err := r.ReadString()
	if err != nil {
		s.replyStatus(id, err)
		return
	}
	h, err := s.fs.Opendir(path)
	if err != nil {
		s.replyStatus(id, err)
		return
	}
	s.replyHandle(id, h)
}

func (s *Session) doReaddir(id uint32, r *wire.Reader) {
	h, err := decodeHandleField(r)
	if err != nil {
		s.replyStatus(id, err)
		return
	}
	items, err := s.fs.Readdir(h)
	if err != nil {
		s.replyStatus(id, err)
		return
	}
	s.replyName(id, items)
}

func (s *Session) doRemove(id uint32, r *wire.Reader) {
	path, err := r.ReadString()
	if err != nil {
		s.replyStatus(id, err)
		return
	}
	s.replyStatus(id, s.fs.Unlink(path))
}

func (s *Session) doMkdir(id uint32, r *wire.Reader) {
	path, err := r.ReadString()
	if err != nil {
		s.replyStatus(id, err)
		return
	}
	attrs, err := r.ReadAttr()
	if err != nil {
		s.replyStatus(id, err)
		return
	}
	s.replyStatus(id, s.fs.Mkdir(path, attrs))
}

func (s *Session) doRmdir(id uint32, r *wire.Reader) {
	path, err := r.ReadString()
	if err != nil {
		s.replyStatus(id, err)
		return
	}
	s.replyStatus(id, s.fs.Rmdir(path))
}

func (s *Session) doRealpath(id uint32, r *wire.Reader) {
	path, err := r.ReadString()
	if err != nil {
		s.replyStatus(id, err)
		return
	}
	resolved, err := s.fs.Realpath(path)
	if err != nil {
		s.replyStatus(id, err)
		return
	}
	s.replyName(id, []wire.Item{{Filename: resolved, Longname: resolved}})
}

func (s *Session) doRename(id uint32, r *wire.Reader) {
	oldPath, err := r.ReadString()
	if err != nil {
		s.replyStatus(id, err)
		return
	}
	newPath, err := r.ReadString()
	if err != nil {
		s.replyStatus(id, err)
		return
	}
	flag, err := r.ReadUint32()
	if err != nil {
		s.replyStatus(id, err)
		return
	}
	if flag == wire.RenameOverwrite && !s.features.posixRename {
		s.replyStatus(id, sftperr.Clone(sftperr.ErrOpUnsupported))
		return
	}
	if flag != wire.RenameDefault && flag != wire.RenameOverwrite {
		s.replyStatus(id, sftperr.Clone(sftperr.ErrOpUnsupported))
		return
	}
	s.replyStatus(id, s.fs.Rename(oldPath, newPath, safefs.RenameFlag(flag)))
}

func (s *Session) doReadlink(id uint32, r *wire.Reader) {
	path, err := r.ReadString()
	if err != nil {
		s.replyStatus(id, err)
		return
	}
	target, err := s.fs.Readlink(path)
	if err != nil {
		s.replyStatus(id, err)
		return
	}
	s.replyName(id, []wire.Item{{Filename: target, Longname: target}})
}

func (s *Session) doSymlink(id uint32, r *wire.Reader) {
	target, err := r.ReadString()
	if err != nil {
		s.replyStatus(id, err)
		return
	}
	link, err := r.ReadString()
	if err != nil {
		s.replyStatus(id, err)
		return
	}
	s.replyStatus(id, s.fs.Symlink(target, link))
}

func (s *Session) doLink(id uint32, r *wire.Reader) {
	if !s.features.hardlink {
		s.replyStatus(id, sftperr.Clone(sftperr.ErrOpUnsupported))
		return
	}
	oldPath, err := r.ReadString()
	if err != nil {
		s.replyStatus(id, err)
		return
	}
	newPath, err := r.ReadString()
	if err != nil {
		s.replyStatus(id, err)
		return
	}
	s.replyStatus(id, s.fs.Link(oldPath, newPath))
}

func (s *Session) doFcopy(id uint32, r *wire.Reader) {
	srcH, err := decodeHandleField(r)
	if err != nil {
		s.replyStatus(id, err)
		return
	}
	srcPos, err := r.ReadInt64()
	if err != nil {
		s.replyStatus(id, err)
		return
	}
	length, err := r.ReadInt64()
	if err != nil {
		s.replyStatus(id, err)
		return
	}
	dstH, err := decodeHandleField(r)
	if err != nil {
		s.replyStatus(id, err)
		return
	}
	dstPos, err := r.ReadInt64()
	if err != nil {
		s.replyStatus(id, err)
		return
	}
	s.replyStatus(id, s.fs.Fcopy(srcH, srcPos, length, dstH, dstPos))
}

func (s *Session) doFhash(id uint32, r *wire.Reader) {
	h, err := decodeHandleField(r)
	if err != nil {
		s.replyStatus(id, err)
		return
	}
	alg, err := r.ReadString()
	if err != nil {
		s.replyStatus(id, err)
		return
	}
	pos, err := r.ReadInt64()
	if err != nil {
		s.replyStatus(id, err)
		return
	}
	length, err := r.ReadInt64()
	if err != nil {
		s.replyStatus(id, err)
		return
	}
	blockSize, err := r.ReadUint32()
	if err != nil {
		s.replyStatus(id, err)
		return
	}
	sum, err := s.fs.Fhash(h, alg, pos, length, blockSize)
	if err != nil {
		s.replyStatus(id, err)
		return
	}
	s.replyExtended(id, alg, sum)
}

func (s *Session) doStatvfs(id uint32, r *wire.Reader) {
	path, err := r.ReadString()
	if err != nil {
		s.replyStatus(id, err)
		return
	}
	st, err := s.fs.Statvfs(path)
	if err != nil {
		s.replyStatus(id, err)
		return
	}
	w := wire.NewWriterFromPool(s.pool, 96)
	w.WriteHeader(wire.TypeExtendedReply, &id, "")
	w.WriteString(wire.ExtStatVFS)
	body := wire.NewWriter()
	body.WriteUint64(st.BlockSize)
	body.WriteUint64(st.FragmentSize)
	body.WriteUint64(st.Blocks)
	body.WriteUint64(st.BlocksFree)
	body.WriteUint64(st.BlocksAvail)
	body.WriteUint64(st.Files)
	body.WriteUint64(st.FilesFree)
	body.WriteUint64(st.FilesFree)
	body.WriteUint64(st.FSID)
	body.WriteUint64(0)
	body.WriteUint64(st.NameMax)
	w.WriteData(body.Finish()[4:])
	s.reply(id, w)
}

func packetTypeName(t byte) string {
	switch t {
	case wire.TypeOpen:
		return "open"
	case wire.TypeClose:
		return "close"
	case wire.TypeRead:
		return "read"
	case wire.TypeWrite:
		return "write"
	case wire.TypeLstat:
		return "lstat"
	case wire.TypeFstat:
		return "fstat"
	case wire.TypeSetstat:
		return "setstat"
	case wire.TypeFsetstat:
		return "fsetstat"
	case wire.TypeOpendir:
		return "opendir"
	case wire.TypeReaddir:
		return "readdir"
	case wire.TypeRemove:
		return "remove"
	case wire.TypeMkdir:
		return "mkdir"
	case wire.TypeRmdir:
		return "rmdir"
	case wire.TypeRealpath:
		return "realpath"
	case wire.TypeStat:
		return "stat"
	case wire.TypeRename:
		return "rename"
	case wire.TypeReadlink:
		return "readlink"
	case wire.TypeSymlink:
		return "symlink"
	default:
		return "unknown"
	}
}
