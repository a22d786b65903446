package safefs

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"hash"
	"hash/crc32"
	"strings"

	"github.com/qbane/websocketfs/pkg/sftperr"
)

// newHasher resolves an fhash algorithm name to a hash.Hash, per spec.md
// §4.E. Any "*@sftp.ws"-suffixed name selects one of the same built-in
// digests rather than a distinct implementation-specific algorithm, since
// this port carries no vendor-specific extras beyond the standard set.
func newHasher(alg string) (hash.Hash, error) {
	base := strings.TrimSuffix(alg, "@sftp.ws")
	switch base {
	case "md5":
		return md5.New(), nil
	case "sha1":
		return sha1.New(), nil
	case "sha224":
		return sha256.New224(), nil
	case "sha256":
		return sha256.New(), nil
	case "sha384":
		return sha512.New384(), nil
	case "sha512":
		return sha512.New(), nil
	case "crc32":
		return crc32.NewIEEE(), nil
	default:
		return nil, sftperr.Clone(sftperr.ErrOpUnsupported).WithContext("algorithm", alg)
	}
}

// Fhash computes block-wise digests of handle id's content: one digest
// per blockSize-sized block (the last block may be shorter), up to length
// total bytes starting at pos, concatenated into the returned buffer.
func (fs *FS) Fhash(id uint32, alg string, pos, length int64, blockSize uint32) ([]byte, error) {
	var out []byte
	err := fs.handles.withHandle(id, func(h *handle) error {
		if h.file == nil {
			return sftperr.New("EFAILURE", -4, "handle %d is not a file", id)
		}
		if blockSize == 0 {
			blockSize = uint32(length)
			if blockSize == 0 {
				return nil
			}
		}
		if _, err := newHasher(alg); err != nil {
			return err
		}

		buf := make([]byte, blockSize)
		remaining := length
		for remaining > 0 {
			want := int64(blockSize)
			if remaining < want {
				want = remaining
			}
			n, err := h.file.ReadAt(buf[:want], pos)
			if int64(n) < want {
				return sftperr.New("EFAILURE", -4, "Unable to read data")
			}
			if err != nil {
				return translateOSError(err, "fhash", h.path)
			}
			hasher, _ := newHasher(alg)
			hasher.Write(buf[:n])
			out = append(out, hasher.Sum(nil)...)
			pos += int64(n)
			remaining -= int64(n)
		}
		return nil
	})
	return out, err
}
