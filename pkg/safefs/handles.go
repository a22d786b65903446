package safefs

import (
	"os"
	"sync"

	"github.com/qbane/websocketfs/pkg/metrics"
	"github.com/qbane/websocketfs/pkg/sftperr"
)

// maxHandles is the spec.md §4.E handle-space size: IDs live in [1, 1024].
const maxHandles = 1024

// handle is one open file or directory, plus the FIFO serialization state
// that guarantees at most one underlying-filesystem operation is in
// flight on it at a time.
type handle struct {
	inUse bool

	path  string
	isDir bool
	file  *os.File

	// dirEntries/dirPos back a stateful READDIR cursor: the underlying
	// directory is read once into dirEntries on OPENDIR, and each READDIR
	// call advances dirPos.
	dirEntries []os.FileInfo
	dirPos     int

	busy  bool
	queue []func()
}

// handleTable is the fixed-size, round-robin-allocated handle space of one
// session, modeled on the free-list discipline of the teacher's in-core
// data-file-handle registry but bounded to spec.md's [1, 1024] range.
type handleTable struct {
	mu      sync.Mutex
	slots   [maxHandles + 1]*handle // index 0 unused, handles are 1..1024
	cursor  int
	metrics *metrics.Collector
}

func newHandleTable() *handleTable {
	return &handleTable{cursor: 1}
}

// alloc finds a free slot via the round-robin cursor, scanning at most
// maxHandles slots before giving up with ENFILE.
func (t *handleTable) alloc(path string, isDir bool, f *os.File) (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	start := t.cursor
	for i := 0; i < maxHandles; i++ {
		id := t.cursor
		t.cursor++
		if t.cursor > maxHandles {
			t.cursor = 1
		}
		if t.slots[id] == nil {
			t.slots[id] = &handle{inUse: true, path: path, isDir: isDir, file: f}
			if t.metrics != nil {
				t.metrics.OpenHandles.Inc()
			}
			return uint32(id), nil
		}
		if t.cursor == start {
			break
		}
	}
	return 0, sftperr.Clone(sftperr.ErrTooManyHandles)
}

func (t *handleTable) get(id uint32) (*handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id == 0 || id > maxHandles || t.slots[id] == nil {
		return nil, sftperr.New("EFAILURE", -4, "invalid handle %d", id)
	}
	return t.slots[id], nil
}

func (t *handleTable) free(id uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.slots[id] != nil && t.metrics != nil {
		t.metrics.OpenHandles.Dec()
	}
	t.slots[id] = nil
}

// allOpenIDsAscending returns every currently-allocated handle ID in
// ascending order, for ordered shutdown per spec.md §4.D.
func (t *handleTable) allOpenIDsAscending() []uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var ids []uint32
	for id := 1; id <= maxHandles; id++ {
		if t.slots[id] != nil {
			ids = append(ids, uint32(id))
		}
	}
	return ids
}

// withHandle runs fn with exclusive access to h, queuing the caller behind
// any operation already in flight on h and dispatching queued actions in
// FIFO order as each finishes. This is the direct analogue of the
// source's busy-flag-plus-deferred-action-queue per handle, expressed with
// a channel-free callback queue since Go operations here are synchronous.
func (t *handleTable) withHandle(id uint32, fn func(h *handle) error) error {
	h, err := t.get(id)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	run := func() {
		err := fn(h)
		done <- err

		t.mu.Lock()
		if len(h.queue) > 0 {
			next := h.queue[0]
			h.queue = h.queue[1:]
			t.mu.Unlock()
			next()
			return
		}
		h.busy = false
		t.mu.Unlock()
	}

	t.mu.Lock()
	if h.busy {
		h.queue = append(h.queue, run)
		t.mu.Unlock()
	} else {
		h.busy = true
		t.mu.Unlock()
		run()
	}

	return <-done
}
