package cache

import (
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/alextreichler/threadViewer/internal/calltree"
	"github.com/alextreichler/threadViewer/internal/intern"
	"github.com/alextreichler/threadViewer/internal/metrics"
	"github.com/alextreichler/threadViewer/internal/store"
)

// Loader builds the call tree of a workspace from scratch.
type Loader func(workspace string) (*calltree.Forest, error)

// StoreLoader rebuilds a workspace's forest from persisted stacks.
func StoreLoader(s store.Store, workers int, opts ...calltree.Option) Loader {
	return func(workspace string) (*calltree.Forest, error) {
		threads, err := s.LoadStacks(workspace)
		if err != nil {
			return nil, fmt.Errorf("failed to load stacks for %s: %w", workspace, err)
		}
		f := calltree.BuildParallel(threads, workers, intern.New(), opts...)
		f.Sort()
		return f, nil
	}
}

// TreeCache keeps built forests per workspace. L1 is a bounded LRU of live
// forests; forests evicted from L1 are kept in L2 as collapsed stacks and
// re-inflated on demand. Concurrent misses for one workspace share one build.
type TreeCache struct {
	l1    *lru.Cache[string, *calltree.Forest]
	mu    sync.RWMutex
	l2    map[string][]string
	group singleflight.Group
	load  Loader
}

func NewTreeCache(size int, load Loader) (*TreeCache, error) {
	c := &TreeCache{l2: make(map[string][]string), load: load}
	l1, err := lru.NewWithEvict(size, func(workspace string, f *calltree.Forest) {
		lines := f.Collapsed()
		c.mu.Lock()
		c.l2[workspace] = lines
		c.mu.Unlock()
		slog.Debug("Call tree moved to L2", "workspace", workspace, "lines", len(lines))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create tree cache: %w", err)
	}
	c.l1 = l1
	return c, nil
}

// Put seeds the cache with a freshly built forest.
func (c *TreeCache) Put(workspace string, f *calltree.Forest) {
	c.mu.Lock()
	delete(c.l2, workspace)
	c.mu.Unlock()
	c.l1.Add(workspace, f)
}

func (c *TreeCache) GetOrBuild(workspace string) (*calltree.Forest, error) {
	m := metrics.GetMetrics()
	if f, ok := c.l1.Get(workspace); ok {
		m.TreeCacheHits.Inc()
		return f, nil
	}

	v, err, _ := c.group.Do(workspace, func() (any, error) {
		if f, ok := c.l1.Get(workspace); ok {
			m.TreeCacheHits.Inc()
			return f, nil
		}

		c.mu.RLock()
		lines, ok := c.l2[workspace]
		c.mu.RUnlock()
		if ok {
			f, err := calltree.ParseCollapsed(lines, intern.New())
			if err == nil {
				f.Sort()
				m.TreeCacheHits.Inc()
				c.Put(workspace, f)
				return f, nil
			}
			slog.Warn("Dropping unreadable L2 entry", "workspace", workspace, "error", err)
		}

		m.TreeCacheMisses.Inc()
		f, err := c.load(workspace)
		if err != nil {
			return nil, err
		}
		c.Put(workspace, f)
		return f, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*calltree.Forest), nil
}

// Invalidate drops a workspace from both levels.
func (c *TreeCache) Invalidate(workspace string) {
	c.l1.Remove(workspace)
	c.mu.Lock()
	delete(c.l2, workspace)
	c.mu.Unlock()
}

// Len reports entries in L1 and L2.
func (c *TreeCache) Len() (l1, l2 int) {
	l1 = c.l1.Len()
	c.mu.RLock()
	defer c.mu.RUnlock()
	return l1, len(c.l2)
}
