package safefs

import (
	"os"
	"syscall"
	"time"

	"github.com/qbane/websocketfs/pkg/wire"
)

func unixToTime(sec uint32) time.Time {
	return time.Unix(int64(sec), 0)
}

// fi2attr builds a wire.Attr from a local os.FileInfo, the way the
// teacher's fi2im extracts uid/gid/mode/times from a *syscall.Stat_t.
func fi2attr(fi os.FileInfo) *wire.Attr {
	a := &wire.Attr{
		HasSize:      true,
		Size:         uint64(fi.Size()),
		HasPerms:     true,
		Perms:        uint32(fi.Mode().Perm()) | modeTypeBits(fi.Mode()),
		HasACModTime: true,
		Mtime:        uint32(fi.ModTime().Unix()),
	}
	if sd, ok := fi.Sys().(*syscall.Stat_t); ok {
		a.HasUIDGID = true
		a.UID, a.GID = sd.Uid, sd.Gid
		a.Atime = uint32(sd.Atim.Sec)
	} else {
		a.Atime = a.Mtime
	}
	return a
}

// modeTypeBits preserves the file-type bits (dir, symlink, ...) that
// os.FileMode packs above the permission bits, translated to the S_IFMT
// encoding SFTP attribute permissions carry.
func modeTypeBits(m os.FileMode) uint32 {
	switch {
	case m.IsDir():
		return syscall.S_IFDIR
	case m&os.ModeSymlink != 0:
		return syscall.S_IFLNK
	case m&os.ModeNamedPipe != 0:
		return syscall.S_IFIFO
	case m&os.ModeSocket != 0:
		return syscall.S_IFSOCK
	case m&os.ModeDevice != 0:
		return syscall.S_IFBLK
	default:
		return syscall.S_IFREG
	}
}

// applyAttr pushes the fields present in a onto the local file at path
// (chmod/chown/truncate/utimes), skipping any field not flagged present.
// UID/GID fields are dropped silently when the session hides them.
func (fs *FS) applyAttr(path string, a *wire.Attr) error {
	if fs.hideUIDGID {
		a = a.WithoutUIDGID()
	}
	if a.HasPerms {
		if err := os.Chmod(path, os.FileMode(a.Perms&0o7777)); err != nil {
			return translateOSError(err, "setstat", path)
		}
	}
	if a.HasUIDGID {
		if err := os.Chown(path, int(a.UID), int(a.GID)); err != nil {
			return translateOSError(err, "setstat", path)
		}
	}
	if a.HasSize {
		if err := os.Truncate(path, int64(a.Size)); err != nil {
			return translateOSError(err, "setstat", path)
		}
	}
	if a.HasACModTime {
		atime := unixToTime(a.Atime)
		mtime := unixToTime(a.Mtime)
		if err := os.Chtimes(path, atime, mtime); err != nil {
			return translateOSError(err, "setstat", path)
		}
	}
	return nil
}
