package safefs

import (
	"io"

	"github.com/qbane/websocketfs/pkg/sftperr"
)

// copyChunkSize caps each fcopy read/write iteration, per spec.md §4.E.
const copyChunkSize = 1 << 20

// Fcopy copies length bytes from srcID at srcPos to dstID at dstPos. Both
// handles are acquired in busy mode before the loop begins; when src and
// dst are the same handle, it is acquired only once, per spec.md §4.E.
func (fs *FS) Fcopy(srcID uint32, srcPos int64, length int64, dstID uint32, dstPos int64) error {
	if err := fs.checkWritable(); err != nil {
		return err
	}

	if srcID == dstID {
		return fs.handles.withHandle(srcID, func(h *handle) error {
			return copyLoop(h.file, h.file, srcPos, dstPos, length)
		})
	}

	return fs.handles.withHandle(srcID, func(src *handle) error {
		return fs.handles.withHandle(dstID, func(dst *handle) error {
			return copyLoop(src.file, dst.file, srcPos, dstPos, length)
		})
	})
}

func copyLoop(src, dst fileReaderWriterAt, srcPos, dstPos, length int64) error {
	if src == nil || dst == nil {
		return sftperr.New("EFAILURE", -4, "fcopy requires open file handles")
	}
	buf := make([]byte, copyChunkSize)
	remaining := length
	for remaining > 0 {
		want := int64(copyChunkSize)
		if remaining < want {
			want = remaining
		}
		n, err := src.ReadAt(buf[:want], srcPos)
		if n > 0 {
			if _, werr := dst.WriteAt(buf[:n], dstPos); werr != nil {
				return translateOSError(werr, "fcopy", "")
			}
			srcPos += int64(n)
			dstPos += int64(n)
			remaining -= int64(n)
		}
		if err == io.EOF || n < int(want) {
			break
		}
		if err != nil {
			return translateOSError(err, "fcopy", "")
		}
	}
	return nil
}

type fileReaderWriterAt interface {
	ReadAt([]byte, int64) (int, error)
	WriteAt([]byte, int64) (int, error)
}
