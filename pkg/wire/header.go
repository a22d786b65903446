package wire

import "github.com/qbane/websocketfs/pkg/sftperr"

// Header is the decoded fixed portion of a packet: its type discriminator,
// request ID (absent only for INIT/VERSION), and extension name (present
// only when Type == TypeExtended).
type Header struct {
	Type    byte
	HasID   bool
	ID      uint32
	ExtName string
}

// ReadHeader consumes the 4-byte length prefix (which must match the bytes
// that follow it), then decodes the type byte and, unless the type is INIT
// or VERSION, the 4-byte request ID, and for EXTENDED the length-prefixed
// extension name. The Reader's cursor is left positioned at the start of
// the type-specific payload.
func ReadHeader(r *Reader) (Header, error) {
	var h Header
	n, err := r.ReadUint32()
	if err != nil {
		return h, err
	}
	if int(n) != len(r.buf)-r.pos {
		return h, sftperr.New("EFAILURE", -2, "packet length %d does not match %d bytes received", n, len(r.buf)-r.pos)
	}
	typ, err := r.ReadByte()
	if err != nil {
		return h, err
	}
	h.Type = typ

	if typ != TypeInit && typ != TypeVersion {
		id, err := r.ReadUint32()
		if err != nil {
			return h, err
		}
		h.HasID, h.ID = true, id
	}

	if typ == TypeExtended {
		name, err := r.ReadString()
		if err != nil {
			return h, err
		}
		h.ExtName = name
	}

	return h, nil
}
