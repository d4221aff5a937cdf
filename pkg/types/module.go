package types

import (
	"maps"
	"time"
)

// Module is a single controller as returned by the modules listing.
type Module struct {
	ID               int    `json:"id"`
	UDID             string `json:"udid"`
	Name             string `json:"name"`
	Type             string `json:"type"`
	Version          string `json:"version"`
	Default          bool   `json:"default"`
	ControllerStatus string `json:"controllerStatus"`
	ModuleStatus     string `json:"moduleStatus"`
}

// ModuleData is a point-in-time copy of the cached zones and tiles of one
// module. Callers own the maps; mutating them never affects the cache.
type ModuleData struct {
	UDID       string       `json:"udid"`
	Zones      map[int]Zone `json:"zones"`
	Tiles      map[int]Tile `json:"tiles"`
	LastUpdate time.Time    `json:"lastUpdate"`

	// FilterReset is when the recuperation filter was last reset through
	// this bridge. It is zero if no reset was recorded.
	FilterReset time.Time `json:"filterReset,omitzero"`
}

// Clone returns a deep copy of the module data.
func (d ModuleData) Clone() ModuleData {
	c := ModuleData{
		UDID:        d.UDID,
		Zones:       maps.Clone(d.Zones),
		Tiles:       make(map[int]Tile, len(d.Tiles)),
		LastUpdate:  d.LastUpdate,
		FilterReset: d.FilterReset,
	}
	if c.Zones == nil {
		c.Zones = map[int]Zone{}
	}
	for id, t := range d.Tiles {
		c.Tiles[id] = t.Clone()
	}
	return c
}

// Translations maps vendor text ids to localized strings.
type Translations map[int]string
