package tech

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/techbridge/techbridge/pkg/tech/techmock"
	"github.com/techbridge/techbridge/pkg/types"
)

const testModuleURL = testBaseURL + "users/1/modules/" + testUDID

func payloadJSON(t *testing.T, zones, tiles []any) string {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"zones": map[string]any{"elements": zones},
		"tiles": tiles,
	})
	require.NoError(t, err)
	return string(b)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Add(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *testClock {
	return &testClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()

	t.Run("idempotent within interval", func(t *testing.T) {
		clock := newClock()
		c, mt := newMockClient(t, authedOption(), WithClock(clock.Now))
		mt.RegisterResponder(http.MethodGet, testModuleURL, httpmock.NewStringResponder(http.StatusOK,
			payloadJSON(t, []any{techmock.Zone(1, "Hall", types.ZoneStateOn, 200, 210)}, nil)))

		fetched, err := c.Refresh(ctx, testUDID)
		require.NoError(t, err)
		assert.True(t, fetched)

		clock.Add(30 * time.Second)
		fetched, err = c.Refresh(ctx, testUDID)
		require.NoError(t, err)
		assert.False(t, fetched)

		// exactly at the interval is still fresh
		clock.Add(30 * time.Second)
		fetched, err = c.Refresh(ctx, testUDID)
		require.NoError(t, err)
		assert.False(t, fetched)
		assert.Equal(t, 1, mt.GetTotalCallCount())

		clock.Add(time.Second)
		fetched, err = c.Refresh(ctx, testUDID)
		require.NoError(t, err)
		assert.True(t, fetched)
		assert.Equal(t, 2, mt.GetTotalCallCount())
	})

	t.Run("custom interval", func(t *testing.T) {
		clock := newClock()
		c, mt := newMockClient(t, authedOption(), WithClock(clock.Now), WithUpdateInterval(5*time.Second))
		mt.RegisterResponder(http.MethodGet, testModuleURL, httpmock.NewStringResponder(http.StatusOK, payloadJSON(t, nil, nil)))

		_, err := c.Refresh(ctx, testUDID)
		require.NoError(t, err)
		clock.Add(6 * time.Second)
		fetched, err := c.Refresh(ctx, testUDID)
		require.NoError(t, err)
		assert.True(t, fetched)
	})

	t.Run("filters", func(t *testing.T) {
		c, mt := newMockClient(t, authedOption())
		noVisibility := techmock.Zone(4, "No visibility", types.ZoneStateOn, 0, 0)
		delete(noVisibility["zone"].(map[string]any), "visibility")
		noState := techmock.Zone(5, "No state", types.ZoneStateOn, 0, 0)
		delete(noState["zone"].(map[string]any), "zoneState")
		mt.RegisterResponder(http.MethodGet, testModuleURL, httpmock.NewStringResponder(http.StatusOK, payloadJSON(t,
			[]any{
				techmock.Zone(1, "Hall", types.ZoneStateOn, 200, 210),
				techmock.Zone(2, "Gone", types.ZoneStateUnregistered, 200, 210),
				nil,
				map[string]any{"zone": nil},
				noVisibility,
				noState,
				techmock.Zone(6, "Off", types.ZoneStateOff, 180, 190),
			},
			[]any{
				techmock.Tile(10, types.TileTypeTemperature, true, map[string]any{"value": 215}),
				techmock.Tile(11, types.TileTypeFan, false, map[string]any{"gear": 1}),
				nil,
			},
		)))

		zones, err := c.Zones(ctx, testUDID)
		require.NoError(t, err)
		assert.Len(t, zones, 2)
		assert.Contains(t, zones, 1)
		assert.Contains(t, zones, 6)
		assert.Equal(t, "Hall", zones[1].Name())
		temp, ok := zones[1].CurrentTemperature()
		require.True(t, ok)
		assert.InDelta(t, 20.0, temp, 0.001)
		assert.Equal(t, 1001, zones[1].Mode.ID)

		tiles, err := c.Tiles(ctx, testUDID)
		require.NoError(t, err)
		assert.Len(t, tiles, 1)
		assert.Contains(t, tiles, 10)

		_, err = c.Zone(ctx, testUDID, 2)
		assert.ErrorIs(t, err, ErrZoneNotFound)
		_, err = c.Tile(ctx, testUDID, 11)
		assert.ErrorIs(t, err, ErrTileNotFound)
		assert.Equal(t, 1, mt.GetTotalCallCount())
	})

	t.Run("merge keeps missing entries", func(t *testing.T) {
		clock := newClock()
		c, mt := newMockClient(t, authedOption(), WithClock(clock.Now))
		mt.RegisterResponder(http.MethodGet, testModuleURL,
			httpmock.NewStringResponder(http.StatusOK, payloadJSON(t,
				[]any{
					techmock.Zone(1, "Hall", types.ZoneStateOn, 200, 210),
					techmock.Zone(2, "Bedroom", types.ZoneStateOn, 190, 200),
				},
				[]any{
					techmock.Tile(10, types.TileTypeTemperature, true, map[string]any{"value": 215}),
					techmock.Tile(11, types.TileTypeValve, true, map[string]any{"openingPercentage": 40}),
				},
			)).Then(httpmock.NewStringResponder(http.StatusOK, payloadJSON(t,
				[]any{
					techmock.Zone(1, "Hall", types.ZoneStateOn, 220, 210),
					techmock.Zone(2, "Bedroom", types.ZoneStateUnregistered, 0, 0),
				},
				[]any{
					techmock.Tile(10, types.TileTypeTemperature, true, map[string]any{"value": 230}),
				},
			))),
		)

		_, err := c.Refresh(ctx, testUDID)
		require.NoError(t, err)
		clock.Add(2 * time.Minute)
		fetched, err := c.Refresh(ctx, testUDID)
		require.NoError(t, err)
		require.True(t, fetched)

		d, ok := c.Snapshot(testUDID)
		require.True(t, ok)
		assert.Len(t, d.Zones, 2, "entries are upserted, never removed")
		temp, _ := d.Zones[1].CurrentTemperature()
		assert.InDelta(t, 22.0, temp, 0.001)
		temp, _ = d.Zones[2].CurrentTemperature()
		assert.InDelta(t, 19.0, temp, 0.001, "zone 2 keeps its last known value")
		assert.Len(t, d.Tiles, 2)
		v, _ := d.Tiles[10].Int("value")
		assert.Equal(t, 230, v)
		assert.Equal(t, clock.Now(), d.LastUpdate)
	})

	t.Run("failure keeps last value", func(t *testing.T) {
		clock := newClock()
		c, mt := newMockClient(t, authedOption(), WithClock(clock.Now))
		mt.RegisterResponder(http.MethodGet, testModuleURL,
			httpmock.NewStringResponder(http.StatusOK, payloadJSON(t,
				[]any{techmock.Zone(1, "Hall", types.ZoneStateOn, 200, 210)}, nil,
			)).Then(httpmock.NewStringResponder(http.StatusBadGateway, "bad gateway")),
		)

		_, err := c.Refresh(ctx, testUDID)
		require.NoError(t, err)
		first, _ := c.Snapshot(testUDID)

		clock.Add(2 * time.Minute)
		_, err = c.Zone(ctx, testUDID, 1)
		var ae *APIError
		require.True(t, errors.As(err, &ae))
		assert.Equal(t, http.StatusBadGateway, ae.StatusCode)

		d, ok := c.Snapshot(testUDID)
		require.True(t, ok)
		assert.Equal(t, first, d)
		assert.Equal(t, first.LastUpdate, d.LastUpdate, "last update only moves on success")
	})

	t.Run("concurrent readers fetch once", func(t *testing.T) {
		c, mt := newMockClient(t, authedOption())
		release := make(chan struct{})
		var calls atomic.Int32
		mt.RegisterResponder(http.MethodGet, testModuleURL, func(r *http.Request) (*http.Response, error) {
			calls.Add(1)
			<-release
			return httpmock.NewStringResponse(http.StatusOK, payloadJSON(t,
				[]any{techmock.Zone(1, "Hall", types.ZoneStateOn, 200, 210)}, nil)), nil
		})

		var wg sync.WaitGroup
		errs := make([]error, 4)
		for i := range errs {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[i] = c.Zone(ctx, testUDID, 1)
			}()
		}
		time.Sleep(20 * time.Millisecond)
		close(release)
		wg.Wait()

		for _, err := range errs {
			assert.NoError(t, err)
		}
		assert.Equal(t, int32(1), calls.Load())
		assert.Equal(t, 1, mt.GetTotalCallCount())
	})

	t.Run("waiter honors context", func(t *testing.T) {
		c, mt := newMockClient(t, authedOption())
		release := make(chan struct{})
		started := make(chan struct{})
		mt.RegisterResponder(http.MethodGet, testModuleURL, func(r *http.Request) (*http.Response, error) {
			close(started)
			<-release
			return httpmock.NewStringResponse(http.StatusOK, payloadJSON(t, nil, nil)), nil
		})

		done := make(chan error, 1)
		go func() {
			_, err := c.Refresh(ctx, testUDID)
			done <- err
		}()
		<-started

		waitCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()
		_, err := c.Refresh(waitCtx, testUDID)
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		close(release)
		assert.NoError(t, <-done)
	})

	t.Run("modules are independent", func(t *testing.T) {
		c, mt := newMockClient(t, authedOption())
		mt.RegisterResponder(http.MethodGet, testModuleURL, httpmock.NewStringResponder(http.StatusOK,
			payloadJSON(t, []any{techmock.Zone(1, "A", types.ZoneStateOn, 200, 210)}, nil)))
		mt.RegisterResponder(http.MethodGet, testBaseURL+"users/1/modules/other", httpmock.NewStringResponder(http.StatusOK,
			payloadJSON(t, []any{techmock.Zone(2, "B", types.ZoneStateOn, 200, 210)}, nil)))

		a, err := c.Zones(ctx, testUDID)
		require.NoError(t, err)
		b, err := c.Zones(ctx, "other")
		require.NoError(t, err)
		assert.Contains(t, a, 1)
		assert.NotContains(t, a, 2)
		assert.Contains(t, b, 2)
		assert.Equal(t, 2, mt.GetTotalCallCount())
	})
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	c, mt := newMockClient(t, authedOption(), WithClock(clock.Now))
	mt.RegisterResponder(http.MethodGet, testModuleURL, httpmock.NewStringResponder(http.StatusOK,
		payloadJSON(t, []any{techmock.Zone(1, "Hall", types.ZoneStateOn, 200, 210)}, nil)))

	d, err := c.Update(ctx, testUDID)
	require.NoError(t, err)
	assert.Equal(t, testUDID, d.UDID)
	assert.Contains(t, d.Zones, 1)
	assert.NotNil(t, d.Tiles)

	// Update ignores staleness
	_, err = c.Update(ctx, testUDID)
	require.NoError(t, err)
	assert.Equal(t, 2, mt.GetTotalCallCount())

	// the returned copy is detached from the cache
	delete(d.Zones, 1)
	zones, err := c.Zones(ctx, testUDID)
	require.NoError(t, err)
	assert.Contains(t, zones, 1)
}

func TestSnapshot(t *testing.T) {
	c := New(authedOption())
	d, ok := c.Snapshot("unknown")
	assert.False(t, ok)
	assert.Equal(t, "unknown", d.UDID)
	assert.Empty(t, d.Zones)
	assert.NotNil(t, d.Tiles)
}
