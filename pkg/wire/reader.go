package wire

import (
	"unicode/utf8"

	"github.com/qbane/websocketfs/pkg/sftperr"
)

// Reader consumes fields sequentially from a packet body, advancing a
// position cursor. Any read beyond available bytes fails with a
// protocol-level error, per spec.md §4.A.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps buf for sequential field reads. To decode a whole packet
// with ReadHeader, buf must start at the packet's 4-byte length prefix; the
// field readers alone also work on a body with the prefix already removed.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

func (r *Reader) require(n int) error {
	if r.pos+n > len(r.buf) {
		return sftperr.New("EFAILURE", -2, "short packet: need %d bytes at offset %d, have %d", n, r.pos, len(r.buf))
	}
	return nil
}

func (r *Reader) ReadByte() (byte, error) {
	if err := r.require(1); err != nil {
		return 0, err
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *Reader) ReadUint32() (uint32, error) {
	if err := r.require(4); err != nil {
		return 0, err
	}
	v := uint32(r.buf[r.pos])<<24 | uint32(r.buf[r.pos+1])<<16 | uint32(r.buf[r.pos+2])<<8 | uint32(r.buf[r.pos+3])
	r.pos += 4
	return v, nil
}

// ReadInt64 reads two big-endian 32-bit halves, high half first, and
// combines them. The port tolerates values up to 2^53-1 faithfully and
// rejects encodings whose high half would make the value unrepresentable in
// that safe-integer range, per spec.md §4.A's Numerics clause.
func (r *Reader) ReadInt64() (int64, error) {
	hi, err := r.ReadUint32()
	if err != nil {
		return 0, err
	}
	lo, err := r.ReadUint32()
	if err != nil {
		return 0, err
	}
	if hi > 0x1FFFFF && hi < 0xFFE00000 {
		// hi*2^32 would exceed 2^53-1 in magnitude for either sign; the
		// legacy source can't represent it exactly either.
		return 0, sftperr.New("EFAILURE", -2, "int64 high word %#x out of safe-integer range", hi)
	}
	return int64(uint64(hi)<<32 | uint64(lo)), nil
}

func (r *Reader) ReadUint64() (uint64, error) {
	v, err := r.ReadInt64()
	return uint64(v), err
}

func (r *Reader) ReadString() (string, error) {
	n, err := r.ReadUint32()
	if err != nil {
		return "", err
	}
	if err := r.require(int(n)); err != nil {
		return "", err
	}
	b := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return decodeUTF8Lenient(b), nil
}

func (r *Reader) ReadData() ([]byte, error) {
	n, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	if err := r.require(int(n)); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	copy(b, r.buf[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return b, nil
}

// ReadDataInto reads an opaque blob into a caller-supplied buffer without a
// copy, returning the bytes actually used (a sub-slice of dst). dst must be
// at least as long as the encoded length.
func (r *Reader) ReadDataInto(dst []byte) ([]byte, error) {
	n, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	if err := r.require(int(n)); err != nil {
		return nil, err
	}
	if int(n) > len(dst) {
		return nil, sftperr.New("EFAILURE", -2, "data field of %d bytes too large for %d-byte buffer", n, len(dst))
	}
	copy(dst, r.buf[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return dst[:n], nil
}

// ReadAttr decodes an Attr according to its leading flag word.
func (r *Reader) ReadAttr() (*Attr, error) {
	flags, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	a := &Attr{}
	if flags&AttrSize != 0 {
		v, err := r.ReadUint64()
		if err != nil {
			return nil, err
		}
		a.HasSize, a.Size = true, v
	}
	if flags&AttrUIDGID != 0 {
		uid, err := r.ReadUint32()
		if err != nil {
			return nil, err
		}
		gid, err := r.ReadUint32()
		if err != nil {
			return nil, err
		}
		a.HasUIDGID, a.UID, a.GID = true, uid, gid
	}
	if flags&AttrPerms != 0 {
		v, err := r.ReadUint32()
		if err != nil {
			return nil, err
		}
		a.HasPerms, a.Perms = true, v
	}
	if flags&AttrACModTime != 0 {
		atime, err := r.ReadUint32()
		if err != nil {
			return nil, err
		}
		mtime, err := r.ReadUint32()
		if err != nil {
			return nil, err
		}
		a.HasACModTime, a.Atime, a.Mtime = true, atime, mtime
	}
	if flags&AttrExtended != 0 {
		count, err := r.ReadUint32()
		if err != nil {
			return nil, err
		}
		a.Extended = make([]ExtendedPair, 0, count)
		for i := uint32(0); i < count; i++ {
			k, err := r.ReadString()
			if err != nil {
				return nil, err
			}
			v, err := r.ReadString()
			if err != nil {
				return nil, err
			}
			a.Extended = append(a.Extended, ExtendedPair{Key: k, Value: v})
		}
	}
	return a, nil
}

// Remaining reports how many bytes are left unconsumed.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

// Len reports the total body length the Reader was constructed with.
func (r *Reader) Len() int { return len(r.buf) }

// decodeUTF8Lenient decodes b as UTF-8, replacing invalid continuation
// bytes with U+FFFD and resuming at the offending byte, per spec.md §4.A.
func decodeUTF8Lenient(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	var out []rune
	for i := 0; i < len(b); {
		r, size := utf8.DecodeRune(b[i:])
		if r == utf8.RuneError && size <= 1 {
			out = append(out, utf8.RuneError)
			i++
			continue
		}
		out = append(out, r)
		i += size
	}
	return string(out)
}
