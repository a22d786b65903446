package safefs

import (
	"io"
	"os"

	"github.com/qbane/websocketfs/pkg/sftperr"
	"github.com/qbane/websocketfs/pkg/wire"
)

// Open resolves virtual, opens it with the given SFTP open flags, and
// returns a new handle ID. attrs supplies the mode for O_CREAT.
func (fs *FS) Open(virtual string, flags uint32, attrs *wire.Attr) (uint32, error) {
	wantsWrite := flags&(wire.FlagWrite|wire.FlagCreat|wire.FlagTrunc|wire.FlagAppend) != 0
	if wantsWrite {
		if err := fs.checkWritable(); err != nil {
			return 0, err
		}
	}

	local := fs.resolve(virtual)
	osFlags, perm := translateOpenFlags(flags, attrs)
	f, err := os.OpenFile(local, osFlags, perm)
	if err != nil {
		return 0, translateOSError(err, "open", virtual)
	}
	return fs.handles.alloc(local, false, f)
}

func translateOpenFlags(flags uint32, attrs *wire.Attr) (int, os.FileMode) {
	var osFlags int
	switch {
	case flags&wire.FlagRead != 0 && flags&wire.FlagWrite != 0:
		osFlags = os.O_RDWR
	case flags&wire.FlagWrite != 0:
		osFlags = os.O_WRONLY
	default:
		osFlags = os.O_RDONLY
	}
	if flags&wire.FlagAppend != 0 {
		osFlags |= os.O_APPEND
	}
	if flags&wire.FlagCreat != 0 {
		osFlags |= os.O_CREATE
	}
	if flags&wire.FlagTrunc != 0 {
		osFlags |= os.O_TRUNC
	}
	if flags&wire.FlagExcl != 0 {
		osFlags |= os.O_EXCL
	}
	perm := os.FileMode(0o644)
	if attrs != nil && attrs.HasPerms {
		perm = os.FileMode(attrs.Perms & 0o7777)
	}
	return osFlags, perm
}

// Close releases handle id, closing its underlying file or directory.
func (fs *FS) Close(id uint32) error {
	return fs.handles.withHandle(id, func(h *handle) error {
		var err error
		if h.file != nil {
			err = h.file.Close()
		}
		fs.handles.free(id)
		if err != nil {
			return translateOSError(err, "close", h.path)
		}
		return nil
	})
}

// Read reads up to length bytes from handle id at position, per spec.md
// §4.C's 1 MiB cap (enforced by the caller, the protocol engine).
func (fs *FS) Read(id uint32, position int64, length uint32) ([]byte, error) {
	var out []byte
	err := fs.handles.withHandle(id, func(h *handle) error {
		if h.file == nil {
			return sftperr.New("EFAILURE", -4, "handle %d is not a file", id)
		}
		buf := make([]byte, length)
		n, err := h.file.ReadAt(buf, position)
		out = buf[:n]
		if err != nil && err != io.EOF {
			return translateOSError(err, "read", h.path)
		}
		if n == 0 && err == io.EOF {
			return sftperr.Clone(sftperr.ErrEOF)
		}
		return nil
	})
	return out, err
}

// Write writes data to handle id at position.
func (fs *FS) Write(id uint32, position int64, data []byte) error {
	if err := fs.checkWritable(); err != nil {
		return err
	}
	return fs.handles.withHandle(id, func(h *handle) error {
		if h.file == nil {
			return sftperr.New("EFAILURE", -4, "handle %d is not a file", id)
		}
		if _, err := h.file.WriteAt(data, position); err != nil {
			return translateOSError(err, "write", h.path)
		}
		return nil
	})
}

// Fstat returns the attributes of the file backing handle id.
func (fs *FS) Fstat(id uint32) (*wire.Attr, error) {
	var attr *wire.Attr
	err := fs.handles.withHandle(id, func(h *handle) error {
		var fi os.FileInfo
		var err error
		if h.file != nil {
			fi, err = h.file.Stat()
		} else {
			fi, err = os.Lstat(h.path)
		}
		if err != nil {
			return translateOSError(err, "fstat", h.path)
		}
		attr = fs.maskAttr(fi2attr(fi))
		return nil
	})
	return attr, err
}

// Fsetstat applies attrs to the file backing handle id.
func (fs *FS) Fsetstat(id uint32, attrs *wire.Attr) error {
	if err := fs.checkWritable(); err != nil {
		return err
	}
	return fs.handles.withHandle(id, func(h *handle) error {
		if h.file != nil {
			if attrs.HasSize {
				if err := h.file.Truncate(int64(attrs.Size)); err != nil {
					return translateOSError(err, "fsetstat", h.path)
				}
				masked := *attrs
				masked.HasSize = false
				return fs.applyAttr(h.path, &masked)
			}
		}
		return fs.applyAttr(h.path, attrs)
	})
}
