package wire

// Attribute flag bits, per spec.md §3.
const (
	AttrSize       = 0x00000001
	AttrUIDGID     = 0x00000002
	AttrPerms      = 0x00000004
	AttrACModTime  = 0x00000008
	AttrExtended   = 0x80000000
)

// ExtendedPair is one key/value entry of an Attr's EXTENDED section.
type ExtendedPair struct {
	Key, Value string
}

// Attr is the bit-flagged file metadata record of spec.md §3. Only fields
// whose Has* flag is set carry meaningful values; the rest are zero.
type Attr struct {
	HasSize      bool
	Size         uint64

	HasUIDGID    bool
	UID, GID     uint32

	HasPerms     bool
	Perms        uint32

	HasACModTime bool
	Atime, Mtime uint32

	Extended []ExtendedPair
}

func (a *Attr) flags() uint32 {
	var f uint32
	if a.HasSize {
		f |= AttrSize
	}
	if a.HasUIDGID {
		f |= AttrUIDGID
	}
	if a.HasPerms {
		f |= AttrPerms
	}
	if a.HasACModTime {
		f |= AttrACModTime
	}
	if len(a.Extended) > 0 {
		f |= AttrExtended
	}
	return f
}

// WithoutUIDGID returns a copy of a with the uid/gid fields stripped, used
// by the safe filesystem's hide-uid-gid policy (spec.md §4.E).
func (a *Attr) WithoutUIDGID() *Attr {
	if a == nil {
		return nil
	}
	na := *a
	na.HasUIDGID = false
	na.UID, na.GID = 0, 0
	return &na
}
