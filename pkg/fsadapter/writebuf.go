package fsadapter

import (
	"sort"
	"sync"

	"github.com/qbane/websocketfs/pkg/sftpc"
	"github.com/qbane/websocketfs/pkg/sftperr"
	"github.com/qbane/websocketfs/pkg/wire"
)

// pendingWrite is one (bytes, position) record accumulated by a
// writeBuffer before it is flushed, per spec.md §4.F.
type pendingWrite struct {
	pos  int64
	data []byte
}

// maxPendingWrites forces a flush once this many records accumulate.
const maxPendingWrites = 50

// writeBuffer coalesces small writes to one file handle, concatenating
// adjacent contiguous records before flushing in ≤1 MiB chunks.
type writeBuffer struct {
	mu      sync.Mutex
	records []pendingWrite
}

// add appends a record and reports whether the caller should flush
// immediately (the record count exceeded maxPendingWrites).
func (b *writeBuffer) add(pos int64, data []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	b.records = append(b.records, pendingWrite{pos: pos, data: cp})
	return len(b.records) > maxPendingWrites
}

// flush concatenates adjacent contiguous records and writes them to handle
// in ≤1 MiB chunks via cli. An ENOENT from the underlying write is
// tolerated (the descriptor may have already been freed); other errors
// propagate, per spec.md §4.F.
func (b *writeBuffer) flush(cli *sftpc.Client, handle sftpc.Handle) error {
	b.mu.Lock()
	records := b.records
	b.records = nil
	b.mu.Unlock()

	if len(records) == 0 {
		return nil
	}

	sort.Slice(records, func(i, j int) bool { return records[i].pos < records[j].pos })

	merged := []pendingWrite{records[0]}
	for _, r := range records[1:] {
		last := &merged[len(merged)-1]
		if r.pos == last.pos+int64(len(last.data)) {
			last.data = append(last.data, r.data...)
			continue
		}
		merged = append(merged, r)
	}

	for _, r := range merged {
		if err := writeChunked(cli, handle, r.pos, r.data); err != nil {
			if se, ok := err.(*sftperr.Error); ok && se.Code == "ENOENT" {
				continue
			}
			return err
		}
	}
	return nil
}

func writeChunked(cli *sftpc.Client, handle sftpc.Handle, pos int64, data []byte) error {
	for len(data) > 0 {
		n := len(data)
		if n > wire.MaxWriteLength {
			n = wire.MaxWriteLength
		}
		if err := cli.Write(handle, pos, data[:n]); err != nil {
			return err
		}
		pos += int64(n)
		data = data[n:]
	}
	return nil
}
