package wire

import "unicode/utf8"

// Writer grows a packet by appending typed fields, then on Finish stamps the
// leading 4-byte length (total length minus the 4-byte prefix itself) and
// returns the completed slice. All multi-byte integers are big-endian, per
// spec.md §4.A.
type Writer struct {
	buf []byte
}

// NewWriter allocates a Writer with the 4-byte length prefix reserved.
func NewWriter() *Writer {
	return &Writer{buf: make([]byte, 4, 64)}
}

// NewWriterFromPool is like NewWriter but draws its backing array from pool,
// letting the caller Return() it once the packet has been sent.
func NewWriterFromPool(pool *BufPool, hint int) *Writer {
	buf := pool.Get(4)
	if hint > 4 {
		buf = append(buf[:4], make([]byte, 0, hint-4)...)
	}
	return &Writer{buf: buf}
}

func (w *Writer) WriteByte(b byte) { w.buf = append(w.buf, b) }

func (w *Writer) WriteUint32(v uint32) {
	w.buf = append(w.buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// WriteInt64 encodes a 64-bit position/size as two big-endian 32-bit halves,
// high half first, matching the legacy wire format described in spec.md
// §4.A's Numerics clause. Values must fit in 53 bits (JS double-precision
// safe integer range); callers are expected to have validated that already.
func (w *Writer) WriteInt64(v int64) {
	hi := uint32(uint64(v) >> 32)
	lo := uint32(uint64(v))
	w.WriteUint32(hi)
	w.WriteUint32(lo)
}

func (w *Writer) WriteUint64(v uint64) { w.WriteInt64(int64(v)) }

// WriteString encodes a UTF-8 string as a 4-byte length followed by its
// bytes. Lone surrogates / otherwise invalid encodings are replaced with
// U+FFFD before the length is computed, per spec.md §4.A's UTF-8 clause.
func (w *Writer) WriteString(s string) {
	if !utf8.ValidString(s) {
		s = sanitizeUTF8(s)
	}
	b := []byte(s)
	w.WriteUint32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

// WriteData writes an opaque blob with the same 4-byte-length framing as a
// string.
func (w *Writer) WriteData(b []byte) {
	w.WriteUint32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

// WriteAttr packs an Attr according to its flag word.
func (w *Writer) WriteAttr(a *Attr) {
	w.WriteUint32(a.flags())
	if a.HasSize {
		w.WriteInt64(int64(a.Size))
	}
	if a.HasUIDGID {
		w.WriteUint32(a.UID)
		w.WriteUint32(a.GID)
	}
	if a.HasPerms {
		w.WriteUint32(a.Perms)
	}
	if a.HasACModTime {
		w.WriteUint32(a.Atime)
		w.WriteUint32(a.Mtime)
	}
	if len(a.Extended) > 0 {
		w.WriteUint32(uint32(len(a.Extended)))
		for _, kv := range a.Extended {
			w.WriteString(kv.Key)
			w.WriteString(kv.Value)
		}
	}
}

// Finish stamps the length prefix and returns the completed packet bytes.
func (w *Writer) Finish() []byte {
	n := uint32(len(w.buf) - 4)
	w.buf[0] = byte(n >> 24)
	w.buf[1] = byte(n >> 16)
	w.buf[2] = byte(n >> 8)
	w.buf[3] = byte(n)
	return w.buf
}

// WriteHeader writes the packet-type byte and, for every type except INIT
// and VERSION, the 4-byte request ID. For EXTENDED it also writes the
// length-prefixed extension name.
func (w *Writer) WriteHeader(typ byte, id *uint32, extName string) {
	w.WriteByte(typ)
	if id != nil {
		w.WriteUint32(*id)
	}
	if typ == TypeExtended {
		w.WriteString(extName)
	}
}

func sanitizeUTF8(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == utf8.RuneError {
			out = append(out, '�')
			continue
		}
		if r >= 0xD800 && r <= 0xDFFF {
			out = append(out, '�')
			continue
		}
		out = append(out, r)
	}
	return string(out)
}
