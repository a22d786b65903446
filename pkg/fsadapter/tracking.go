package fsadapter

import (
	"os"
	"sync"
	"time"

	"github.com/golang/glog"
)

// defaultTrackingUpdateInterval is how often an active tracker writes its
// accumulated path set to disk when readTracking.update isn't configured,
// per spec.md §4.F's read tracking clause.
const defaultTrackingUpdateInterval = 10 * time.Second

// tracker accumulates the set of paths opened for read during the
// process's lifetime and periodically flushes them to a configured output
// file, gated by an optional mtime threshold. Entries older than timeout
// (readTracking.timeout) are evicted rather than flushed, so a long-running
// mount doesn't grow the tracking file with paths nobody has touched in a
// while.
type tracker struct {
	path           string
	threshold      time.Time
	updateInterval time.Duration
	timeout        time.Duration

	mu    sync.Mutex
	paths map[string]time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

func newTracker(path string, threshold time.Time) *tracker {
	return newTrackerWithOptions(path, threshold, 0, 0)
}

func newTrackerWithOptions(path string, threshold time.Time, updateInterval, timeout time.Duration) *tracker {
	if path == "" {
		return nil
	}
	if updateInterval <= 0 {
		updateInterval = defaultTrackingUpdateInterval
	}
	t := &tracker{
		path:           path,
		threshold:      threshold,
		updateInterval: updateInterval,
		timeout:        timeout,
		paths:          make(map[string]time.Time),
		stopCh:         make(chan struct{}),
	}
	go t.flushLoop()
	return t
}

// record notes path as accessed. It does not touch the cache itself:
// FileNode.Open calls it just before dropping the path's cached attributes,
// so the threshold check below compares against the mtime cached before
// the open.
func (t *tracker) record(path string, c *caches) {
	if t == nil {
		return
	}
	if !t.threshold.IsZero() {
		if e, ok := c.getAttr(path); ok && !e.isError {
			if unixToTime(e.attr.Mtime).After(t.threshold) {
				return
			}
		}
	}
	t.mu.Lock()
	t.paths[path] = time.Now()
	t.mu.Unlock()
}

func unixToTime(sec uint32) time.Time { return time.Unix(int64(sec), 0) }

func (t *tracker) flushLoop() {
	ticker := time.NewTicker(t.updateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.evict()
			t.flush()
		case <-t.stopCh:
			t.flush()
			return
		}
	}
}

// evict drops paths last recorded more than timeout ago. A zero timeout
// disables eviction: every tracked path is kept for the mount's lifetime.
func (t *tracker) evict() {
	if t.timeout <= 0 {
		return
	}
	cutoff := time.Now().Add(-t.timeout)
	t.mu.Lock()
	for p, seen := range t.paths {
		if seen.Before(cutoff) {
			delete(t.paths, p)
		}
	}
	t.mu.Unlock()
}

func (t *tracker) flush() {
	t.mu.Lock()
	paths := make([]string, 0, len(t.paths))
	for p := range t.paths {
		paths = append(paths, p)
	}
	t.mu.Unlock()

	var buf []byte
	for _, p := range paths {
		buf = append(buf, p...)
		buf = append(buf, '\n')
	}
	if err := os.WriteFile(t.path, buf, 0o644); err != nil {
		glog.Warningf("fsadapter: failed to write read-tracking file %s: %v", t.path, err)
	}
}

func (t *tracker) stop() {
	if t == nil {
		return
	}
	t.stopOnce.Do(func() { close(t.stopCh) })
}
