package sftpc

import (
	"github.com/qbane/websocketfs/pkg/safefs"
	"github.com/qbane/websocketfs/pkg/sftperr"
	"github.com/qbane/websocketfs/pkg/wire"
)

// Handle is an opaque server-allocated handle, scoped to the Client that
// returned it, per spec.md §3.
type Handle struct {
	raw []byte
}

func (h Handle) write(w *wire.Writer) { w.WriteData(h.raw) }

// Open opens path with the given SFTP open flags and optional attrs.
func (c *Client) Open(path string, flags uint32, attrs *wire.Attr) (Handle, error) {
	if attrs == nil {
		attrs = &wire.Attr{}
	}
	_, body, err := c.call("open", func(w *wire.Writer, id uint32) {
		w.WriteHeader(wire.TypeOpen, &id, "")
		w.WriteString(path)
		w.WriteUint32(flags)
		w.WriteAttr(attrs)
	})
	if err != nil {
		return Handle{}, err
	}
	raw, err := body.ReadData()
	if err != nil {
		return Handle{}, err
	}
	return Handle{raw: raw}, nil
}

// CloseHandle closes handle.
func (c *Client) CloseHandle(handle Handle) error {
	_, _, err := c.call("close", func(w *wire.Writer, id uint32) {
		w.WriteHeader(wire.TypeClose, &id, "")
		handle.write(w)
	})
	return err
}

const maxZeroLengthRetries = 4

// Read reads up to length bytes from handle at position. A zero-length
// DATA reply is retried up to 4 times at the same offset before
// surfacing EIO; an EOF STATUS yields a zero-length buffer and no error,
// per spec.md §4.C's Read edge case.
func (c *Client) Read(handle Handle, position int64, length uint32) ([]byte, error) {
	if length > wire.MaxReadLength {
		return nil, sftperr.Clone(sftperr.ErrIO).WithContext("length", length)
	}
	for attempt := 0; ; attempt++ {
		typ, body, err := c.call("read", func(w *wire.Writer, id uint32) {
			w.WriteHeader(wire.TypeRead, &id, "")
			handle.write(w)
			w.WriteInt64(position)
			w.WriteUint32(length)
		})
		if err != nil {
			if se, ok := err.(*sftperr.Error); ok && se.Code == "EOF" {
				return nil, nil
			}
			return nil, err
		}
		if typ != wire.TypeData {
			return nil, sftperr.New("EFAILURE", -2, "unexpected response type %d for read", typ)
		}
		data, err := body.ReadData()
		if err != nil {
			return nil, err
		}
		if len(data) > 0 {
			return data, nil
		}
		if attempt >= maxZeroLengthRetries {
			return nil, sftperr.Clone(sftperr.ErrIO)
		}
	}
}

// Write writes data to handle at position.
func (c *Client) Write(handle Handle, position int64, data []byte) error {
	if len(data) > wire.MaxWriteLength {
		return sftperr.Clone(sftperr.ErrIO).WithContext("length", len(data))
	}
	_, _, err := c.call("write", func(w *wire.Writer, id uint32) {
		w.WriteHeader(wire.TypeWrite, &id, "")
		handle.write(w)
		w.WriteInt64(position)
		w.WriteData(data)
	})
	return err
}

func (c *Client) statCall(command string, typ byte, path string) (*wire.Attr, error) {
	_, body, err := c.call(command, func(w *wire.Writer, id uint32) {
		w.WriteHeader(typ, &id, "")
		w.WriteString(path)
	})
	if err != nil {
		return nil, err
	}
	return body.ReadAttr()
}

// Lstat stats path without following a trailing symlink.
func (c *Client) Lstat(path string) (*wire.Attr, error) { return c.statCall("lstat", wire.TypeLstat, path) }

// Stat stats path, following symlinks.
func (c *Client) Stat(path string) (*wire.Attr, error) { return c.statCall("stat", wire.TypeStat, path) }

// Fstat stats the file behind handle.
func (c *Client) Fstat(handle Handle) (*wire.Attr, error) {
	_, body, err := c.call("fstat", func(w *wire.Writer, id uint32) {
		w.WriteHeader(wire.TypeFstat, &id, "")
		handle.write(w)
	})
	if err != nil {
		return nil, err
	}
	return body.ReadAttr()
}

// Setstat applies attrs to path.
func (c *Client) Setstat(path string, attrs *wire.Attr) error {
	_, _, err := c.call("setstat", func(w *wire.Writer, id uint32) {
		w.WriteHeader(wire.TypeSetstat, &id, "")
		w.WriteString(path)
		w.WriteAttr(attrs)
	})
	return err
}

// Fsetstat applies attrs to the file behind handle.
func (c *Client) Fsetstat(handle Handle, attrs *wire.Attr) error {
	_, _, err := c.call("fsetstat", func(w *wire.Writer, id uint32) {
		w.WriteHeader(wire.TypeFsetstat, &id, "")
		handle.write(w)
		w.WriteAttr(attrs)
	})
	return err
}

// Opendir opens path as a directory.
func (c *Client) Opendir(path string) (Handle, error) {
	_, body, err := c.call("opendir", func(w *wire.Writer, id uint32) {
		w.WriteHeader(wire.TypeOpendir, &id, "")
		w.WriteString(path)
	})
	if err != nil {
		return Handle{}, err
	}
	raw, err := body.ReadData()
	if err != nil {
		return Handle{}, err
	}
	return Handle{raw: raw}, nil
}

// Readdir returns the next batch of entries from a directory handle. A
// nil, nil result signals end of listing (the server's EOF STATUS).
func (c *Client) Readdir(handle Handle) ([]wire.Item, error) {
	typ, body, err := c.call("readdir", func(w *wire.Writer, id uint32) {
		w.WriteHeader(wire.TypeReaddir, &id, "")
		handle.write(w)
	})
	if err != nil {
		if se, ok := err.(*sftperr.Error); ok && se.Code == "EOF" {
			return nil, nil
		}
		return nil, err
	}
	if typ != wire.TypeName {
		return nil, sftperr.New("EFAILURE", -2, "unexpected response type %d for readdir", typ)
	}
	return wire.ReadName(body)
}

// Unlink removes the file at path.
func (c *Client) Unlink(path string) error {
	_, _, err := c.call("remove", func(w *wire.Writer, id uint32) {
		w.WriteHeader(wire.TypeRemove, &id, "")
		w.WriteString(path)
	})
	return err
}

// Mkdir creates a directory at path with the given attrs.
func (c *Client) Mkdir(path string, attrs *wire.Attr) error {
	if attrs == nil {
		attrs = &wire.Attr{}
	}
	_, _, err := c.call("mkdir", func(w *wire.Writer, id uint32) {
		w.WriteHeader(wire.TypeMkdir, &id, "")
		w.WriteString(path)
		w.WriteAttr(attrs)
	})
	return err
}

// Rmdir removes the directory at path.
func (c *Client) Rmdir(path string) error {
	_, _, err := c.call("rmdir", func(w *wire.Writer, id uint32) {
		w.WriteHeader(wire.TypeRmdir, &id, "")
		w.WriteString(path)
	})
	return err
}

// Realpath resolves path to its canonical form.
func (c *Client) Realpath(path string) (string, error) {
	_, body, err := c.call("realpath", func(w *wire.Writer, id uint32) {
		w.WriteHeader(wire.TypeRealpath, &id, "")
		w.WriteString(path)
	})
	if err != nil {
		return "", err
	}
	items, err := wire.ReadName(body)
	if err != nil {
		return "", err
	}
	if len(items) == 0 {
		return "", sftperr.New("EFAILURE", -2, "empty NAME reply for realpath")
	}
	return items[0].Filename, nil
}

// Readlink reads the target of the symlink at path.
func (c *Client) Readlink(path string) (string, error) {
	_, body, err := c.call("readlink", func(w *wire.Writer, id uint32) {
		w.WriteHeader(wire.TypeReadlink, &id, "")
		w.WriteString(path)
	})
	if err != nil {
		return "", err
	}
	items, err := wire.ReadName(body)
	if err != nil {
		return "", err
	}
	if len(items) == 0 {
		return "", sftperr.New("EFAILURE", -2, "empty NAME reply for readlink")
	}
	return items[0].Filename, nil
}

// Symlink creates a symlink at link pointing to target.
func (c *Client) Symlink(target, link string) error {
	_, _, err := c.call("symlink", func(w *wire.Writer, id uint32) {
		w.WriteHeader(wire.TypeSymlink, &id, "")
		w.WriteString(target)
		w.WriteString(link)
	})
	return err
}

// Link creates a hard link at newPath pointing to oldPath. Requires the
// hardlink@openssh.com extension; OP_UNSUPPORTED otherwise.
func (c *Client) Link(oldPath, newPath string) error {
	if !c.Features.Hardlink {
		return sftperr.Clone(sftperr.ErrOpUnsupported)
	}
	_, _, err := c.call("link", func(w *wire.Writer, id uint32) {
		w.WriteHeader(wire.TypeExtended, &id, "link")
		w.WriteString(oldPath)
		w.WriteString(newPath)
	})
	return err
}

// Rename moves oldPath to newPath. flag==RenameOverwrite is rejected
// locally with OP_UNSUPPORTED unless posix-rename was negotiated; any
// other unknown flag value is rejected the same way before sending, per
// spec.md §4.C's Rename flags clause.
func (c *Client) Rename(oldPath, newPath string, flag safefs.RenameFlag) error {
	if flag != safefs.RenameFailIfExists && flag != safefs.RenameOverwrite {
		return sftperr.Clone(sftperr.ErrOpUnsupported)
	}
	if flag == safefs.RenameOverwrite && !c.Features.PosixRename {
		return sftperr.Clone(sftperr.ErrOpUnsupported)
	}
	_, _, err := c.call("rename", func(w *wire.Writer, id uint32) {
		w.WriteHeader(wire.TypeRename, &id, "")
		w.WriteString(oldPath)
		w.WriteString(newPath)
		w.WriteUint32(uint32(flag))
	})
	return err
}

// Fcopy copies length bytes from src at srcPos to dst at dstPos, using the
// copy-data extension.
func (c *Client) Fcopy(src Handle, srcPos, length int64, dst Handle, dstPos int64) error {
	if !c.Features.CopyData {
		return sftperr.Clone(sftperr.ErrOpUnsupported)
	}
	_, _, err := c.call("fcopy", func(w *wire.Writer, id uint32) {
		w.WriteHeader(wire.TypeExtended, &id, wire.ExtCopyData)
		src.write(w)
		w.WriteInt64(srcPos)
		w.WriteInt64(length)
		dst.write(w)
		w.WriteInt64(dstPos)
	})
	return err
}

// Fhash computes block digests of handle's content, using the
// check-file-handle extension.
func (c *Client) Fhash(handle Handle, alg string, pos, length int64, blockSize uint32) ([]byte, error) {
	if !c.Features.CheckHandle {
		return nil, sftperr.Clone(sftperr.ErrOpUnsupported)
	}
	_, body, err := c.call("fhash", func(w *wire.Writer, id uint32) {
		w.WriteHeader(wire.TypeExtended, &id, wire.ExtCheckHandle)
		handle.write(w)
		w.WriteString(alg)
		w.WriteInt64(pos)
		w.WriteInt64(length)
		w.WriteUint32(blockSize)
	})
	if err != nil {
		return nil, err
	}
	if _, err := body.ReadString(); err != nil {
		return nil, err
	}
	return body.ReadData()
}

// Statvfs reports capacity statistics for path's filesystem.
func (c *Client) Statvfs(path string) (*safefs.StatVFS, error) {
	if !c.Features.StatVFS {
		return nil, sftperr.Clone(sftperr.ErrOpUnsupported)
	}
	_, body, err := c.call("statvfs", func(w *wire.Writer, id uint32) {
		w.WriteHeader(wire.TypeExtended, &id, wire.ExtStatVFS)
		w.WriteString(path)
	})
	if err != nil {
		return nil, err
	}
	if _, err := body.ReadString(); err != nil {
		return nil, err
	}
	raw, err := body.ReadData()
	if err != nil {
		return nil, err
	}
	r := wire.NewReader(raw)
	fields := make([]uint64, 10)
	for i := range fields {
		v, err := r.ReadUint64()
		if err != nil {
			return nil, err
		}
		fields[i] = v
	}
	nameMax, err := r.ReadUint64()
	if err != nil {
		return nil, err
	}
	return &safefs.StatVFS{
		BlockSize: fields[0], FragmentSize: fields[1],
		Blocks: fields[2], BlocksFree: fields[3], BlocksAvail: fields[4],
		Files: fields[5], FilesFree: fields[6],
		FSID: fields[8], NameMax: nameMax,
	}, nil
}
