package wire

// Packet type discriminators, per spec.md §6.
const (
	TypeInit     = 1
	TypeVersion  = 2
	TypeOpen     = 3
	TypeClose    = 4
	TypeRead     = 5
	TypeWrite    = 6
	TypeLstat    = 7
	TypeFstat    = 8
	TypeSetstat  = 9
	TypeFsetstat = 10
	TypeOpendir  = 11
	TypeReaddir  = 12
	TypeRemove   = 13
	TypeMkdir    = 14
	TypeRmdir    = 15
	TypeRealpath = 16
	TypeStat     = 17
	TypeRename   = 18
	TypeReadlink = 19
	TypeSymlink  = 20
	TypeExtended = 200

	TypeStatus        = 101
	TypeHandle        = 102
	TypeData          = 103
	TypeName          = 104
	TypeAttrs         = 105
	TypeExtendedReply = 201
)

// ProtocolVersion is the only SFTP protocol version this module speaks.
const ProtocolVersion = 3

// Open-flag bits, per spec.md §6.
const (
	FlagRead   = 1 << 0
	FlagWrite  = 1 << 1
	FlagAppend = 1 << 2
	FlagCreat  = 1 << 3
	FlagTrunc  = 1 << 4
	FlagExcl   = 1 << 5
)

// OpenFlagsFromString maps the string aliases of spec.md §6 to their bit
// combination.
func OpenFlagsFromString(s string) (uint32, bool) {
	switch s {
	case "r":
		return FlagRead, true
	case "w":
		return FlagWrite | FlagCreat | FlagTrunc, true
	case "r+":
		return FlagRead | FlagWrite, true
	case "w+":
		return FlagRead | FlagWrite | FlagCreat | FlagTrunc, true
	case "a":
		return FlagWrite | FlagAppend | FlagCreat, true
	case "a+":
		return FlagRead | FlagWrite | FlagAppend | FlagCreat, true
	case "wx":
		return FlagWrite | FlagCreat | FlagExcl, true
	default:
		return 0, false
	}
}

// Rename flags, per spec.md §4.C/§6.
const (
	RenameDefault   = 0
	RenameOverwrite = 1
)

// MaxReadLength and MaxWriteLength are the client-side caps from spec.md
// §4.C; larger requests must be split by the caller.
const (
	MaxReadLength  = 1 << 20
	MaxWriteLength = 1 << 20
)

// Extension names recognized during VERSION negotiation, spec.md §4.C.
const (
	ExtHardlink     = "hardlink@openssh.com"
	ExtPosixRename  = "posix-rename@openssh.com"
	ExtCopyData     = "copy-data"
	ExtCheckHandle  = "check-file-handle"
	ExtStatVFS      = "statvfs@openssh.com"
)
