package safefs

import (
	"fmt"
	"os"

	"github.com/qbane/websocketfs/pkg/sftperr"
	"github.com/qbane/websocketfs/pkg/vfspath"
	"github.com/qbane/websocketfs/pkg/wire"
)

// Opendir resolves virtual as a directory and returns a new handle ID with
// its entire listing snapshotted, matching the stateful READDIR cursor the
// wire protocol expects.
func (fs *FS) Opendir(virtual string) (uint32, error) {
	local := fs.resolve(virtual)
	f, err := os.Open(local)
	if err != nil {
		return 0, translateOSError(err, "opendir", virtual)
	}
	entries, err := f.Readdir(0)
	if err != nil {
		f.Close()
		return 0, translateOSError(err, "opendir", virtual)
	}
	id, err := fs.handles.alloc(local, true, f)
	if err != nil {
		f.Close()
		return 0, err
	}
	h, _ := fs.handles.get(id)
	h.dirEntries = entries
	return id, nil
}

// Readdir returns the next batch of items from handle id, starting after
// wherever the previous Readdir call left off. Once the listing is
// exhausted it returns an EOF error.
func (fs *FS) Readdir(id uint32) ([]wire.Item, error) {
	var items []wire.Item
	err := fs.handles.withHandle(id, func(h *handle) error {
		if !h.isDir {
			return sftperr.New("EFAILURE", -4, "handle %d is not a directory", id)
		}
		if h.dirPos >= len(h.dirEntries) {
			return sftperr.Clone(sftperr.ErrEOF)
		}
		end := h.dirPos + 128
		if end > len(h.dirEntries) {
			end = len(h.dirEntries)
		}
		for _, fi := range h.dirEntries[h.dirPos:end] {
			items = append(items, wire.Item{
				Filename: fi.Name(),
				Longname: longname(fi),
				Attrs:    *fs.maskAttr(fi2attr(fi)),
			})
		}
		h.dirPos = end
		return nil
	})
	return items, err
}

func longname(fi os.FileInfo) string {
	return fmt.Sprintf("%s %12d %s %s", fi.Mode().String(), fi.Size(),
		fi.ModTime().Format("Jan _2 15:04"), fi.Name())
}

// Lstat returns the attributes of virtual without following a trailing
// symlink.
func (fs *FS) Lstat(virtual string) (*wire.Attr, error) {
	local := fs.resolve(virtual)
	fi, err := os.Lstat(local)
	if err != nil {
		return nil, translateOSError(err, "lstat", virtual)
	}
	return fs.maskAttr(fi2attr(fi)), nil
}

// Stat returns the attributes of virtual, following symlinks.
func (fs *FS) Stat(virtual string) (*wire.Attr, error) {
	local := fs.resolve(virtual)
	fi, err := os.Stat(local)
	if err != nil {
		return nil, translateOSError(err, "stat", virtual)
	}
	return fs.maskAttr(fi2attr(fi)), nil
}

// Setstat applies attrs to virtual.
func (fs *FS) Setstat(virtual string, attrs *wire.Attr) error {
	if err := fs.checkWritable(); err != nil {
		return err
	}
	local := fs.resolve(virtual)
	if err := fs.applyAttr(local, attrs); err != nil {
		return err
	}
	return nil
}

// Mkdir creates a directory at virtual with the permission bits from
// attrs, defaulting to 0755.
func (fs *FS) Mkdir(virtual string, attrs *wire.Attr) error {
	if err := fs.checkWritable(); err != nil {
		return err
	}
	local := fs.resolve(virtual)
	perm := os.FileMode(0o755)
	if attrs != nil && attrs.HasPerms {
		perm = os.FileMode(attrs.Perms & 0o7777)
	}
	if err := os.Mkdir(local, perm); err != nil {
		return translateOSError(err, "mkdir", virtual)
	}
	return nil
}

// Rmdir removes the empty directory at virtual.
func (fs *FS) Rmdir(virtual string) error {
	if err := fs.checkWritable(); err != nil {
		return err
	}
	local := fs.resolve(virtual)
	if err := os.Remove(local); err != nil {
		return translateOSError(err, "rmdir", virtual)
	}
	return nil
}

// Unlink removes the file at virtual.
func (fs *FS) Unlink(virtual string) error {
	if err := fs.checkWritable(); err != nil {
		return err
	}
	local := fs.resolve(virtual)
	if err := os.Remove(local); err != nil {
		return translateOSError(err, "unlink", virtual)
	}
	return nil
}

// RenameFlag mirrors spec.md §6's rename-flag encoding.
type RenameFlag uint32

const (
	RenameFailIfExists RenameFlag = 0
	RenameOverwrite    RenameFlag = 1
)

// Rename moves oldVirtual to newVirtual. flag==RenameOverwrite requires the
// caller to have already confirmed posix-rename was negotiated; here it
// simply permits clobbering the destination, which os.Rename does natively.
func (fs *FS) Rename(oldVirtual, newVirtual string, flag RenameFlag) error {
	if err := fs.checkWritable(); err != nil {
		return err
	}
	oldLocal, newLocal := fs.resolve(oldVirtual), fs.resolve(newVirtual)
	if flag == RenameFailIfExists {
		if _, err := os.Lstat(newLocal); err == nil {
			return sftperr.New("EFAILURE", -4, "destination %q exists", newVirtual)
		}
	}
	if err := os.Rename(oldLocal, newLocal); err != nil {
		return translateOSError(err, "rename", oldVirtual)
	}
	return nil
}

// Readlink returns the target of the symlink at virtual.
func (fs *FS) Readlink(virtual string) (string, error) {
	local := fs.resolve(virtual)
	target, err := os.Readlink(local)
	if err != nil {
		return "", translateOSError(err, "readlink", virtual)
	}
	return target, nil
}

// Symlink creates a symlink at linkVirtual pointing to target. target is
// passed through unresolved, per spec.md §4.E: symlink targets are left
// for the kernel side to resolve.
func (fs *FS) Symlink(target, linkVirtual string) error {
	if err := fs.checkWritable(); err != nil {
		return err
	}
	local := fs.resolve(linkVirtual)
	if err := os.Symlink(target, local); err != nil {
		return translateOSError(err, "symlink", linkVirtual)
	}
	return nil
}

// Link creates a hard link at newVirtual pointing to oldVirtual.
func (fs *FS) Link(oldVirtual, newVirtual string) error {
	if err := fs.checkWritable(); err != nil {
		return err
	}
	oldLocal, newLocal := fs.resolve(oldVirtual), fs.resolve(newVirtual)
	if err := os.Link(oldLocal, newLocal); err != nil {
		return translateOSError(err, "link", newVirtual)
	}
	return nil
}

// Realpath resolves virtual to its canonical virtual-root-relative form,
// following symlinks, and translates any absolute result that escapes the
// root back to "/" per spec.md §4.E.
func (fs *FS) Realpath(virtual string) (string, error) {
	local := fs.resolve(virtual)
	resolved, err := resolveSymlinks(local)
	if err != nil {
		return "", translateOSError(err, "realpath", virtual)
	}
	return fs.virtualize(resolved), nil
}

func resolveSymlinks(local string) (string, error) {
	fi, err := os.Lstat(local)
	if err != nil {
		return vfspath.Clean(local), nil
	}
	if fi.Mode()&os.ModeSymlink == 0 {
		return vfspath.Clean(local), nil
	}
	target, err := os.Readlink(local)
	if err != nil {
		return "", err
	}
	if !vfspath.IsAbs(target) {
		dir, _ := vfspath.Split(local)
		target = vfspath.Join(dir, target)
	}
	return resolveSymlinks(target)
}

// StatVFS reports coarse filesystem capacity for the given virtual path's
// mount, via the statvfs@openssh.com extension contract.
type StatVFS struct {
	BlockSize, FragmentSize   uint64
	Blocks, BlocksFree, BlocksAvail uint64
	Files, FilesFree          uint64
	FSID                      uint64
	NameMax                   uint64
}

// Statvfs reports capacity statistics for virtual's underlying filesystem.
func (fs *FS) Statvfs(virtual string) (*StatVFS, error) {
	local := fs.resolve(virtual)
	return statvfsLocal(local)
}
