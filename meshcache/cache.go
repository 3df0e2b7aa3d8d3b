package meshcache

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dustin/go-humanize"
	"github.com/golang/groupcache/lru"
	"github.com/google/uuid"

	"github.com/mikerobots/cube-builder/events"
	"github.com/mikerobots/cube-builder/logging"
	"github.com/mikerobots/cube-builder/mesh"
	"github.com/mikerobots/cube-builder/spatialmath"
)

// DefaultBudget is the memory budget of a cache created without WithBudget.
const DefaultBudget = 256 << 20

// Meta records where a mesh came from so edits can find it.
type Meta struct {
	// GridIDs are the grids the mesh was extracted from.
	GridIDs []uuid.UUID
	// Bounds is the world box whose voxels the mesh depends on.
	Bounds spatialmath.AABB
	// Margin widens Bounds on every side when matching edits, usually by one lattice cell.
	Margin float64
}

// Entry is a cached mesh. It stays valid only while no edit touches its region.
type Entry struct {
	Key        Key
	Mesh       *mesh.Mesh
	Meta       Meta
	Size       int64
	Created    time.Time
	LastAccess time.Time
	Hits       int
}

// Stats counts cache activity.
type Stats struct {
	Entries       int
	Used          int64
	Budget        int64
	Hits          int64
	Misses        int64
	Joins         int64
	Evictions     int64
	Invalidations int64
	Stale         int64
}

// GenerateFunc produces the mesh for a missing key. Its context is cancelled when every caller
// waiting for the result has given up.
type GenerateFunc func(ctx context.Context) (*mesh.Mesh, error)

// Option configures a Cache.
type Option func(*Cache)

// WithBudget sets the memory budget in bytes.
func WithBudget(bytes int64) Option {
	return func(c *Cache) {
		c.budget = bytes
	}
}

// WithMaxEntries bounds the number of entries; zero means no bound.
func WithMaxEntries(n int) Option {
	return func(c *Cache) {
		c.maxEntries = n
	}
}

// WithClock replaces the wall clock used for access times.
func WithClock(clk clock.Clock) Option {
	return func(c *Cache) {
		c.clock = clk
	}
}

type call struct {
	done    chan struct{}
	mesh    *mesh.Mesh
	err     error
	waiters int
	cancel  context.CancelFunc
	epochs  map[uuid.UUID]uint64
}

// Cache is a least recently used mesh store with a byte budget. Lookups, inserts and evictions
// are serialized by one mutex; generation runs outside it. It is safe for concurrent use.
type Cache struct {
	logger     logging.Logger
	clock      clock.Clock
	budget     int64
	maxEntries int

	mu       sync.Mutex
	order    *lru.Cache
	entries  map[Key]*Entry
	used     int64
	epochs   map[uuid.UUID]uint64
	inflight map[Key]*call
	stats    Stats
}

// New returns an empty cache.
func New(logger logging.Logger, opts ...Option) *Cache {
	c := &Cache{
		logger:   logger.Sublogger("meshcache"),
		clock:    clock.New(),
		budget:   DefaultBudget,
		entries:  map[Key]*Entry{},
		epochs:   map[uuid.UUID]uint64{},
		inflight: map[Key]*call{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.order = lru.New(0)
	c.order.OnEvicted = func(k lru.Key, _ interface{}) {
		key := k.(Key)
		if e, ok := c.entries[key]; ok {
			c.used -= e.Size
			cacheBytes.Sub(float64(e.Size))
			delete(c.entries, key)
		}
	}
	return c
}

// Budget returns the memory budget in bytes.
func (c *Cache) Budget() int64 {
	return c.budget
}

// Used returns the bytes held by cached meshes.
func (c *Cache) Used() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Contains reports whether key is cached without touching its recency.
func (c *Cache) Contains(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

// Stats returns a copy of the cache's counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = len(c.entries)
	s.Used = c.used
	s.Budget = c.budget
	return s
}

// Get returns the cached mesh for key and marks it recently used.
func (c *Cache) Get(key Key) (*mesh.Mesh, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lookup(key)
	if !ok {
		return nil, false
	}
	return e.Mesh, true
}

func (c *Cache) lookup(key Key) (*Entry, bool) {
	if _, ok := c.order.Get(key); !ok {
		return nil, false
	}
	e := c.entries[key]
	e.LastAccess = c.clock.Now()
	e.Hits++
	return e, true
}

// Put stores m under key, evicting older entries to stay within the budget. A mesh larger than
// the whole budget is not stored.
func (c *Cache) Put(key Key, meta Meta, m *mesh.Mesh) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.insert(key, meta, m)
}

func (c *Cache) insert(key Key, meta Meta, m *mesh.Mesh) bool {
	size := m.MemoryUsage()
	if c.budget > 0 && size > c.budget {
		c.logger.Debugw("mesh larger than the cache budget",
			"key", key, "size", humanize.IBytes(uint64(size)), "budget", humanize.IBytes(uint64(c.budget)))
		return false
	}
	c.order.Remove(key)
	now := c.clock.Now()
	c.entries[key] = &Entry{Key: key, Mesh: m, Meta: meta, Size: size, Created: now, LastAccess: now}
	c.order.Add(key, nil)
	c.used += size
	cacheBytes.Add(float64(size))

	for (c.budget > 0 && c.used > c.budget) || (c.maxEntries > 0 && len(c.entries) > c.maxEntries) {
		c.evictOldest()
	}
	return true
}

func (c *Cache) evictOldest() {
	c.order.RemoveOldest()
	c.stats.Evictions++
	cacheEvictions.Inc()
}

// GetOrGenerate returns the cached mesh for key, or generates it with fn. Callers asking for a
// key that is already being generated wait for that generation instead of starting another.
// generated is true only for the caller whose request started the generation. A caller whose ctx
// ends stops waiting; the generation itself is cancelled once nobody waits for it. Failed or
// cancelled generations are not cached, and neither are results for grids that were edited while
// they were being generated.
func (c *Cache) GetOrGenerate(ctx context.Context, key Key, meta Meta, fn GenerateFunc) (m *mesh.Mesh, generated bool, err error) {
	c.mu.Lock()
	if e, ok := c.lookup(key); ok {
		c.stats.Hits++
		c.mu.Unlock()
		instrumentLookup("hit")
		return e.Mesh, false, nil
	}
	if cl, ok := c.inflight[key]; ok {
		cl.waiters++
		c.stats.Joins++
		c.mu.Unlock()
		instrumentLookup("join")
		m, err := c.wait(ctx, key, cl)
		return m, false, err
	}

	genCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	cl := &call{
		done:    make(chan struct{}),
		waiters: 1,
		cancel:  cancel,
		epochs:  make(map[uuid.UUID]uint64, len(meta.GridIDs)),
	}
	for _, id := range meta.GridIDs {
		cl.epochs[id] = c.epochs[id]
	}
	c.inflight[key] = cl
	c.stats.Misses++
	c.mu.Unlock()
	instrumentLookup("miss")

	go c.run(genCtx, key, meta, cl, fn)
	m, err = c.wait(ctx, key, cl)
	return m, err == nil, err
}

func (c *Cache) run(ctx context.Context, key Key, meta Meta, cl *call, fn GenerateFunc) {
	m, err := fn(ctx)
	if err == nil && m == nil {
		m = mesh.Empty()
	}

	c.mu.Lock()
	if c.inflight[key] == cl {
		delete(c.inflight, key)
	}
	switch {
	case err != nil, ctx.Err() != nil:
	case !c.current(cl.epochs):
		c.stats.Stale++
		c.logger.Debugw("not caching a mesh whose grid changed during generation", "key", key)
	default:
		c.insert(key, meta, m)
	}
	cl.mesh, cl.err = m, err
	c.mu.Unlock()

	cl.cancel()
	close(cl.done)
}

func (c *Cache) wait(ctx context.Context, key Key, cl *call) (*mesh.Mesh, error) {
	select {
	case <-cl.done:
		return cl.mesh, cl.err
	case <-ctx.Done():
	}

	c.mu.Lock()
	cl.waiters--
	if cl.waiters == 0 {
		cl.cancel()
		// later callers start over instead of joining a cancelled call
		if c.inflight[key] == cl {
			delete(c.inflight, key)
		}
	}
	c.mu.Unlock()
	return nil, ctx.Err()
}

func (c *Cache) current(epochs map[uuid.UUID]uint64) bool {
	for id, epoch := range epochs {
		if c.epochs[id] != epoch {
			return false
		}
	}
	return true
}

// InvalidateRegion drops the grid's entries whose bounds, widened by their margin, touch region,
// and marks generations of the grid already running as stale. It returns the number of entries
// dropped.
func (c *Cache) InvalidateRegion(gridID uuid.UUID, region spatialmath.AABB) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epochs[gridID]++
	return c.removeWhere(func(e *Entry) bool {
		return slices.Contains(e.Meta.GridIDs, gridID) && e.Meta.Bounds.Expand(e.Meta.Margin).Intersects(region)
	})
}

// InvalidateGrid drops every entry extracted from the grid.
func (c *Cache) InvalidateGrid(gridID uuid.UUID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epochs[gridID]++
	return c.removeWhere(func(e *Entry) bool {
		return slices.Contains(e.Meta.GridIDs, gridID)
	})
}

func (c *Cache) removeWhere(match func(*Entry) bool) int {
	var doomed []Key
	for k, e := range c.entries {
		if match(e) {
			doomed = append(doomed, k)
		}
	}
	for _, k := range doomed {
		c.order.Remove(k)
	}
	c.stats.Invalidations += int64(len(doomed))
	cacheInvalidations.Add(float64(len(doomed)))
	return len(doomed)
}

// Evict releases least recently used entries until usage is at most 75%, 50% or 0% of the
// budget for moderate, high and critical pressure. It returns the bytes released.
func (c *Cache) Evict(level events.PressureLevel) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	budget := c.budget
	if budget <= 0 {
		budget = c.used
	}
	var target int64
	switch level {
	case events.PressureNone:
		return 0
	case events.PressureModerate:
		target = budget * 3 / 4
	case events.PressureHigh:
		target = budget / 2
	case events.PressureCritical:
		target = 0
	}
	before := c.used
	for c.used > target && len(c.entries) > 0 {
		c.evictOldest()
	}
	if freed := before - c.used; freed > 0 {
		c.logger.Infow("evicted meshes", "level", level, "freed", humanize.IBytes(uint64(freed)), "remaining", len(c.entries))
	}
	return before - c.used
}

// ExpireIdle drops entries not used for longer than maxIdle.
func (c *Cache) ExpireIdle(maxIdle time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := c.clock.Now().Add(-maxIdle)
	var doomed []Key
	for k, e := range c.entries {
		if e.LastAccess.Before(cutoff) {
			doomed = append(doomed, k)
		}
	}
	for _, k := range doomed {
		c.order.Remove(k)
		c.stats.Evictions++
		cacheEvictions.Inc()
	}
	return len(doomed)
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.order.Len() > 0 {
		c.order.RemoveOldest()
	}
}
