package fsadapter

import (
	"strings"
	"sync"
	"time"

	"github.com/qbane/websocketfs/pkg/metrics"
	"github.com/qbane/websocketfs/pkg/vfspath"
	"github.com/qbane/websocketfs/pkg/wire"
)

// attrEntry is either a successful attribute lookup or a negative result
// (e.g. ENOENT), both cacheable per spec.md §4.F.
type attrEntry struct {
	attr    *wire.Attr
	errno   int
	isError bool
	expires time.Time
}

// caches holds the three independent TTL caches of the adapter: attribute
// (with negative caching), directory listing, and symlink target. Each may
// carry its own TTL override (cacheStatTimeout/cacheDirTimeout/
// cacheLinkTimeout); statTTL/dirTTL/linkTTL default to ttl when unset.
type caches struct {
	ttl     time.Duration
	statTTL time.Duration
	dirTTL  time.Duration
	linkTTL time.Duration
	metrics *metrics.Collector

	mu   sync.Mutex
	attr map[string]attrEntry
	dir  map[string]dirEntry
	link map[string]linkEntry
}

type dirEntry struct {
	names   []string
	expires time.Time
}

type linkEntry struct {
	target  string
	expires time.Time
}

func newCaches(ttl time.Duration) *caches {
	return &caches{
		ttl:     ttl,
		statTTL: ttl,
		dirTTL:  ttl,
		linkTTL: ttl,
		attr:    make(map[string]attrEntry),
		dir:     make(map[string]dirEntry),
		link:    make(map[string]linkEntry),
	}
}

// withOverrides applies cacheStatTimeout/cacheDirTimeout/cacheLinkTimeout,
// each falling back to the already-set unified ttl when zero.
func (c *caches) withOverrides(statTTL, dirTTL, linkTTL time.Duration) *caches {
	if statTTL > 0 {
		c.statTTL = statTTL
	}
	if dirTTL > 0 {
		c.dirTTL = dirTTL
	}
	if linkTTL > 0 {
		c.linkTTL = linkTTL
	}
	return c
}

func (c *caches) putAttr(path string, attr *wire.Attr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attr[path] = attrEntry{attr: attr, expires: time.Now().Add(c.statTTL)}
}

func (c *caches) putAttrError(path string, errno int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attr[path] = attrEntry{errno: errno, isError: true, expires: time.Now().Add(c.statTTL)}
}

// getAttr reports (entry, found). A found, isError entry is a negative
// cache hit and must be returned with its stored errno.
func (c *caches) getAttr(path string) (attrEntry, bool) {
	c.mu.Lock()
	e, ok := c.attr[path]
	if ok && time.Now().After(e.expires) {
		ok = false
	}
	c.mu.Unlock()
	c.recordHitMiss("attr", ok)
	if !ok {
		return attrEntry{}, false
	}
	return e, true
}

func (c *caches) recordHitMiss(cache string, hit bool) {
	if c.metrics == nil {
		return
	}
	if hit {
		c.metrics.CacheHits.WithLabelValues(cache).Inc()
	} else {
		c.metrics.CacheMisses.WithLabelValues(cache).Inc()
	}
}

func (c *caches) putDir(path string, names []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dir[path] = dirEntry{names: names, expires: time.Now().Add(c.dirTTL)}
}

func (c *caches) getDir(path string) ([]string, bool) {
	c.mu.Lock()
	e, ok := c.dir[path]
	if ok && time.Now().After(e.expires) {
		ok = false
	}
	c.mu.Unlock()
	c.recordHitMiss("dir", ok)
	if !ok {
		return nil, false
	}
	return e.names, true
}

func (c *caches) putLink(path, target string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.link[path] = linkEntry{target: target, expires: time.Now().Add(c.linkTTL)}
}

func (c *caches) getLink(path string) (string, bool) {
	c.mu.Lock()
	e, ok := c.link[path]
	if ok && time.Now().After(e.expires) {
		ok = false
	}
	c.mu.Unlock()
	c.recordHitMiss("link", ok)
	if !ok {
		return "", false
	}
	return e.target, true
}

// invalidate clears path's attribute and link entries, plus the directory
// listing entries for path and its parent, per spec.md §4.F's mutation
// invalidation rule.
func (c *caches) invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.attr, path)
	delete(c.link, path)
	delete(c.dir, path)
	parent, _ := vfspath.Split(path)
	delete(c.dir, parent)
}

// invalidatePrefix drops every attribute/dir/link entry at or below
// prefix, used when a path's whole subtree has gone stale (e.g. rename).
func (c *caches) invalidatePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.attr {
		if k == prefix || strings.HasPrefix(k, prefix+"/") {
			delete(c.attr, k)
		}
	}
	for k := range c.dir {
		if k == prefix || strings.HasPrefix(k, prefix+"/") {
			delete(c.dir, k)
		}
	}
	for k := range c.link {
		if k == prefix || strings.HasPrefix(k, prefix+"/") {
			delete(c.link, k)
		}
	}
}
