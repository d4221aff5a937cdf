package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZone(t *testing.T) {
	var z Zone
	require.NoError(t, json.Unmarshal([]byte(`{
		"zone": {
			"id": 101,
			"visibility": true,
			"setTemperature": 215,
			"currentTemperature": 198,
			"humidity": 45,
			"batteryLevel": -1,
			"zoneState": "zoneOn",
			"flags": {"relayState": "on"}
		},
		"description": {"name": "Kitchen"},
		"mode": {"id": 7, "mode": "constantTemp"}
	}`), &z))

	assert.Equal(t, 101, z.ID())
	assert.Equal(t, "Kitchen", z.Name())
	assert.True(t, z.On())
	assert.True(t, z.Heating())
	assert.Equal(t, 7, z.Mode.ID)

	cur, ok := z.CurrentTemperature()
	assert.True(t, ok)
	assert.InDelta(t, 19.8, cur, 0.0001)

	target, ok := z.TargetTemperature()
	assert.True(t, ok)
	assert.InDelta(t, 21.5, target, 0.0001)

	hum, ok := z.Humidity()
	assert.True(t, ok)
	assert.Equal(t, 45, hum)

	_, ok = z.BatteryLevel()
	assert.False(t, ok, "negative battery means no wireless sensor")

	t.Run("nulls", func(t *testing.T) {
		var z Zone
		require.NoError(t, json.Unmarshal([]byte(`{"zone":{"id":1,"currentTemperature":null,"zoneState":"zoneOff"}}`), &z))
		_, ok := z.CurrentTemperature()
		assert.False(t, ok)
		_, ok = z.Humidity()
		assert.False(t, ok)
		assert.False(t, z.On())
	})
}

func TestTile(t *testing.T) {
	var tile Tile
	require.NoError(t, json.Unmarshal([]byte(`{
		"id": 5,
		"type": 6,
		"visibility": true,
		"params": {
			"gear": 2,
			"workingStatus": true,
			"version": "1.2.3",
			"widget1": {"txtId": 2010, "value": 215, "unit": 7},
			"widget2": {"txtId": 747}
		}
	}`), &tile))

	gear, ok := tile.Int("gear")
	assert.True(t, ok)
	assert.Equal(t, 2, gear)

	on, ok := tile.Bool("workingStatus")
	assert.True(t, ok)
	assert.True(t, on)

	v, ok := tile.String("version")
	assert.True(t, ok)
	assert.Equal(t, "1.2.3", v)

	_, ok = tile.Float("missing")
	assert.False(t, ok)

	w1, ok := tile.Widget(1)
	require.True(t, ok)
	assert.Equal(t, 2010, w1.TxtID)
	assert.True(t, w1.HasValue)
	assert.Equal(t, 215.0, w1.Value)

	w2, ok := tile.Widget(2)
	require.True(t, ok)
	assert.False(t, w2.HasValue)

	_, ok = tile.Widget(3)
	assert.False(t, ok)
}

func TestModuleDataClone(t *testing.T) {
	d := ModuleData{
		UDID:        "u1",
		Zones:       map[int]Zone{1: {Zone: ZoneState{ID: 1}}},
		Tiles:       map[int]Tile{2: {ID: 2, Params: map[string]any{"widget1": map[string]any{"value": 1.0}}}},
		LastUpdate:  time.Unix(100, 0),
		FilterReset: time.Unix(50, 0),
	}
	c := d.Clone()
	c.Zones[3] = Zone{}
	c.Tiles[2].Params["widget1"].(map[string]any)["value"] = 2.0

	assert.Len(t, d.Zones, 1)
	assert.Equal(t, 1.0, d.Tiles[2].Params["widget1"].(map[string]any)["value"])
	assert.Equal(t, d.LastUpdate, c.LastUpdate)
	assert.Equal(t, d.FilterReset, c.FilterReset)

	empty := ModuleData{}.Clone()
	assert.NotNil(t, empty.Zones)
	assert.NotNil(t, empty.Tiles)
}

func TestSessionValid(t *testing.T) {
	assert.True(t, Session{UserID: "1", Token: "t"}.Valid())
	assert.False(t, Session{UserID: "1"}.Valid())
	assert.False(t, Session{}.Valid())
}
