// Package safefs implements the server-side safe filesystem wrapper:
// virtual-root jailing, read-only and UID/GID-hiding policy, and the
// busy/queue handle table, per spec.md §4.E.
package safefs

import (
	"os"
	"strings"

	"github.com/qbane/websocketfs/pkg/metrics"
	"github.com/qbane/websocketfs/pkg/sftperr"
	"github.com/qbane/websocketfs/pkg/vfspath"
	"github.com/qbane/websocketfs/pkg/wire"
)

// FS is a session's safe view of one local directory subtree, with every
// virtual path resolved relative to root and jailed inside it.
type FS struct {
	root       string // absolute, OS-native, no trailing slash (except "/")
	readOnly   bool
	hideUIDGID bool

	handles *handleTable
	metrics *metrics.Collector
}

// SetMetrics attaches a metrics.Collector that the handle table reports its
// open-handle gauge to. Optional; nil disables reporting.
func (fs *FS) SetMetrics(c *metrics.Collector) {
	fs.metrics = c
	fs.handles.metrics = c
}

// New opens root (which must exist and be a directory) as a jailed,
// optionally read-only, optionally UID/GID-hiding safe filesystem.
func New(root string, readOnly, hideUIDGID bool) (*FS, error) {
	abs, err := absClean(root)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return nil, translateOSError(err, "mount", abs)
	}
	if !fi.IsDir() {
		return nil, sftperr.New("EFAILURE", -4, "virtual root %q is not a directory", abs)
	}
	return &FS{
		root:       abs,
		readOnly:   readOnly,
		hideUIDGID: hideUIDGID,
		handles:    newHandleTable(),
	}, nil
}

func absClean(p string) (string, error) {
	abs := p
	if !strings.HasPrefix(abs, "/") {
		wd, err := os.Getwd()
		if err != nil {
			return "", sftperr.New("EFAILURE", -4, "cannot resolve cwd: %v", err)
		}
		abs = wd + "/" + abs
	}
	return vfspath.Clean(abs), nil
}

// resolve maps a wire-supplied virtual path into an absolute local path
// beneath fs.root. Relative paths are taken relative to the virtual root,
// and ".." segments are normalized by vfspath.Clean before joining, so the
// result can never climb above fs.root: the worst case is landing exactly
// on fs.root itself.
func (fs *FS) resolve(virtual string) string {
	cleaned := vfspath.Clean(virtual)
	if !strings.HasPrefix(cleaned, "/") {
		cleaned = vfspath.Clean("/" + cleaned)
	}
	if cleaned == "/" {
		return fs.root
	}
	return fs.root + cleaned
}

// virtualize maps an absolute local path (e.g. from realpath or a symlink
// target) back to a virtual path by stripping fs.root. If local does not
// lie under fs.root, it returns "/" per spec.md §4.E.
func (fs *FS) virtualize(local string) string {
	local = vfspath.Clean(local)
	if local == fs.root {
		return "/"
	}
	if strings.HasPrefix(local, fs.root+"/") {
		return local[len(fs.root):]
	}
	return "/"
}

// checkWritable rejects any mutating operation while in read-only mode,
// per spec.md §4.E, without touching the underlying filesystem.
func (fs *FS) checkWritable() error {
	if fs.readOnly {
		return sftperr.Clone(sftperr.ErrReadOnly)
	}
	return nil
}

func (fs *FS) maskAttr(a *wire.Attr) *wire.Attr {
	if fs.hideUIDGID {
		return a.WithoutUIDGID()
	}
	return a
}

