package tech

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/techbridge/techbridge/pkg/log"
	"github.com/techbridge/techbridge/pkg/metrics"
	"github.com/techbridge/techbridge/pkg/types"
)

// moduleCache holds the zones and tiles of one module. fetch is a one slot
// semaphore so at most one upstream fetch per module is in flight and
// waiters can give up when their context ends. mu guards the data and is
// only held while merging or copying, never across the network call.
type moduleCache struct {
	fetch chan struct{}

	mu         sync.RWMutex
	zones      map[int]types.Zone
	tiles      map[int]types.Tile
	lastUpdate time.Time
}

func newModuleCache() *moduleCache {
	return &moduleCache{
		fetch: make(chan struct{}, 1),
		zones: make(map[int]types.Zone),
		tiles: make(map[int]types.Tile),
	}
}

func (m *moduleCache) lock(ctx context.Context) error {
	select {
	case m.fetch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *moduleCache) unlock() {
	<-m.fetch
}

func (m *moduleCache) stale(now time.Time, interval time.Duration) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastUpdate.IsZero() || now.Sub(m.lastUpdate) > interval
}

// merge upserts zones and tiles by id. Entries missing from the new fetch
// are kept.
// TODO: confirm with the product owner whether zones and tiles that vanish
// upstream should be evicted instead of served at their last value.
func (m *moduleCache) merge(started time.Time, zones []types.Zone, tiles []types.Tile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, z := range zones {
		m.zones[z.ID()] = z
	}
	for _, t := range tiles {
		m.tiles[t.ID] = t
	}
	if started.After(m.lastUpdate) {
		m.lastUpdate = started
	}
}

func (m *moduleCache) snapshot(udid string) types.ModuleData {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return types.ModuleData{
		UDID:       udid,
		Zones:      m.zones,
		Tiles:      m.tiles,
		LastUpdate: m.lastUpdate,
	}.Clone()
}

// module returns the cache entry for udid, creating it on first use. Entries
// live as long as the client.
func (c *Client) module(udid string) *moduleCache {
	c.modulesMu.Lock()
	defer c.modulesMu.Unlock()
	m, ok := c.modules[udid]
	if !ok {
		m = newModuleCache()
		c.modules[udid] = m
	}
	return m
}

// Refresh fetches the module if its cached data is older than the update
// interval or was never fetched. It returns true if a fetch happened.
// Concurrent callers for the same stale module wait for the one fetch in
// flight and then return false.
func (c *Client) Refresh(ctx context.Context, udid string) (bool, error) {
	if _, err := c.userID(); err != nil {
		return false, err
	}
	m := c.module(udid)
	if !m.stale(c.now(), c.interval) {
		metrics.CacheRefreshes.WithLabelValues("fresh").Inc()
		return false, nil
	}

	if err := m.lock(ctx); err != nil {
		return false, err
	}
	defer m.unlock()

	// another caller may have refreshed while we waited
	now := c.now()
	if !m.stale(now, c.interval) {
		metrics.CacheRefreshes.WithLabelValues("fresh").Inc()
		return false, nil
	}
	if err := c.load(ctx, m, udid, now); err != nil {
		return false, err
	}
	return true, nil
}

// Update fetches the module regardless of staleness and returns a copy of
// the merged data.
func (c *Client) Update(ctx context.Context, udid string) (types.ModuleData, error) {
	if _, err := c.userID(); err != nil {
		return types.ModuleData{}, err
	}
	m := c.module(udid)
	if err := m.lock(ctx); err != nil {
		return types.ModuleData{}, err
	}
	defer m.unlock()

	if err := c.load(ctx, m, udid, c.now()); err != nil {
		return types.ModuleData{}, err
	}
	return m.snapshot(udid), nil
}

// load must be called with the module's fetch lock held.
func (c *Client) load(ctx context.Context, m *moduleCache, udid string, started time.Time) error {
	zones, tiles, err := c.fetchModule(ctx, udid)
	if err != nil {
		metrics.CacheRefreshes.WithLabelValues("error").Inc()
		log.Ctx(ctx).ErrorContext(ctx, "failed to refresh module", slog.String("udid", udid), slog.Any("error", err))
		return err
	}
	m.merge(started, zones, tiles)
	metrics.CacheRefreshes.WithLabelValues("fetched").Inc()
	return nil
}

// Zones returns the cached zones of a module, refreshing them first if stale.
func (c *Client) Zones(ctx context.Context, udid string) (map[int]types.Zone, error) {
	if _, err := c.Refresh(ctx, udid); err != nil {
		return nil, err
	}
	m := c.module(udid)
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.zones), nil
}

// Tiles returns the cached tiles of a module, refreshing them first if stale.
func (c *Client) Tiles(ctx context.Context, udid string) (map[int]types.Tile, error) {
	if _, err := c.Refresh(ctx, udid); err != nil {
		return nil, err
	}
	m := c.module(udid)
	m.mu.RLock()
	defer m.mu.RUnlock()
	tiles := make(map[int]types.Tile, len(m.tiles))
	for id, t := range m.tiles {
		tiles[id] = t.Clone()
	}
	return tiles, nil
}

// Zone returns a single zone, refreshing the module first if stale. It
// returns ErrZoneNotFound if the zone was never cached.
func (c *Client) Zone(ctx context.Context, udid string, id int) (types.Zone, error) {
	if _, err := c.Refresh(ctx, udid); err != nil {
		return types.Zone{}, err
	}
	m := c.module(udid)
	m.mu.RLock()
	defer m.mu.RUnlock()
	z, ok := m.zones[id]
	if !ok {
		return types.Zone{}, fmt.Errorf("%w: module %s zone %d", ErrZoneNotFound, udid, id)
	}
	return z, nil
}

// Tile returns a single tile, refreshing the module first if stale. It
// returns ErrTileNotFound if the tile was never cached.
func (c *Client) Tile(ctx context.Context, udid string, id int) (types.Tile, error) {
	if _, err := c.Refresh(ctx, udid); err != nil {
		return types.Tile{}, err
	}
	m := c.module(udid)
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tiles[id]
	if !ok {
		return types.Tile{}, fmt.Errorf("%w: module %s tile %d", ErrTileNotFound, udid, id)
	}
	return t.Clone(), nil
}

// Snapshot returns a copy of the cached data without fetching. The second
// return is false if the module was never fetched.
func (c *Client) Snapshot(udid string) (types.ModuleData, bool) {
	c.modulesMu.Lock()
	m, ok := c.modules[udid]
	c.modulesMu.Unlock()
	if !ok {
		return types.ModuleData{UDID: udid, Zones: map[int]types.Zone{}, Tiles: map[int]types.Tile{}}, false
	}
	d := m.snapshot(udid)
	return d, !d.LastUpdate.IsZero()
}
