package fsadapter

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/pierrec/lz4/v4"

	"github.com/qbane/websocketfs/pkg/wire"
)

// recordSep separates consecutive metadata records in the prefetch file,
// per spec.md §4.F's bulk metadata prefetch format.
const recordSep = "\x00\x00"

// metaRecord is one decoded line of the bulk metadata file.
type metaRecord struct {
	relPath string
	mtime   uint32
	atime   uint32
	blocks  uint64
	size    uint64
	mode    uint32
}

// prefetcher holds the parsed, sorted contents of an optional bulk
// metadata file. The file is re-read when its mtime changes or the last
// load is older than the cache TTL; a file whose mtime is older than the
// cache TTL is treated as stale and not consulted.
type prefetcher struct {
	path string
	ttl  time.Duration

	mu       sync.Mutex
	loadedAt time.Time
	fileMod  time.Time
	records  []metaRecord
}

func newPrefetcher(path string, ttl time.Duration) *prefetcher {
	if path == "" {
		return nil
	}
	return &prefetcher{path: path, ttl: ttl}
}

func (p *prefetcher) ensureLoaded() bool {
	if p == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	st, err := os.Stat(p.path)
	if err != nil {
		return false
	}
	if time.Since(st.ModTime()) > p.ttl {
		return false
	}
	if time.Since(p.loadedAt) < p.ttl && st.ModTime().Equal(p.fileMod) {
		return len(p.records) > 0
	}

	records, err := loadMetaFile(p.path)
	if err != nil {
		glog.Warningf("fsadapter: failed to load metadata prefetch file %s: %v", p.path, err)
		p.records = nil
		return false
	}
	sort.Slice(records, func(i, j int) bool { return records[i].relPath < records[j].relPath })
	p.records = records
	p.fileMod = st.ModTime()
	p.loadedAt = time.Now()
	return len(p.records) > 0
}

func loadMetaFile(path string) ([]metaRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".lz4") {
		r = lz4.NewReader(f)
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var records []metaRecord
	for _, chunk := range bytes.Split(raw, []byte(recordSep)) {
		if len(chunk) == 0 {
			continue
		}
		rec, err := parseMetaRecord(chunk)
		if err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func parseMetaRecord(chunk []byte) (metaRecord, error) {
	parts := bytes.SplitN(chunk, []byte{0}, 2)
	if len(parts) != 2 {
		return metaRecord{}, fmt.Errorf("malformed metadata record")
	}
	fields := strings.Fields(string(parts[1]))
	if len(fields) != 5 {
		return metaRecord{}, fmt.Errorf("malformed metadata fields")
	}
	mtime, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return metaRecord{}, err
	}
	atime, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return metaRecord{}, err
	}
	blocks, err := strconv.ParseUint(fields[2], 10, 64)
	if err != nil {
		return metaRecord{}, err
	}
	size, err := strconv.ParseUint(fields[3], 10, 64)
	if err != nil {
		return metaRecord{}, err
	}
	mode, err := strconv.ParseUint(fields[4], 8, 32)
	if err != nil {
		return metaRecord{}, err
	}
	return metaRecord{
		relPath: string(parts[0]),
		mtime:   uint32(mtime),
		atime:   uint32(atime),
		blocks:  blocks,
		size:    size,
		mode:    uint32(mode),
	}, nil
}

// children returns (names, attrs, ok): ok is false when the metadata file
// is stale, missing, or doesn't cover dirPath, signalling the caller to
// fall back to OPENDIR/READDIR/CLOSE.
func (p *prefetcher) children(dirPath string) ([]string, map[string]*wire.Attr, bool) {
	if p == nil || !p.ensureLoaded() {
		return nil, nil, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	rel := strings.TrimPrefix(dirPath, "/")
	prefix := rel
	if prefix != "" {
		prefix += "/"
	}

	idx := sort.Search(len(p.records), func(i int) bool { return p.records[i].relPath >= rel })
	var names []string
	attrs := make(map[string]*wire.Attr)
	for ; idx < len(p.records); idx++ {
		rec := p.records[idx]
		if rec.relPath != rel && !strings.HasPrefix(rec.relPath, prefix) {
			break
		}
		if rec.relPath == rel {
			continue
		}
		childRel := strings.TrimPrefix(rec.relPath, prefix)
		if strings.Contains(childRel, "/") {
			continue // not an immediate child
		}
		names = append(names, childRel)
		attrs[childRel] = &wire.Attr{
			HasSize: true, Size: rec.size,
			HasPerms: true, Perms: rec.mode,
			HasACModTime: true, Atime: rec.atime, Mtime: rec.mtime,
		}
	}
	if names == nil {
		return nil, nil, false
	}
	return names, attrs, true
}
