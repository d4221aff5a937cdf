package types

import (
	"fmt"
	"strconv"
)

// Tile type codes used by the controller.
const (
	TileTypeTemperature     = 1
	TileTypeFireSensor      = 2
	TileTypeTemperatureCH   = 6
	TileTypeRelay           = 11
	TileTypeAdditionalPump  = 21
	TileTypeFan             = 22
	TileTypeValve           = 23
	TileTypeMixingValve     = 24
	TileTypeFuelSupply      = 31
	TileTypeText            = 40
	TileTypeSoftwareVersion = 50
	TileTypeRecuperation    = 122
)

// Tile is a generic widget of a module. Params is free-form and interpreted
// per tile type.
type Tile struct {
	ID         int            `json:"id"`
	ParentID   int            `json:"parentId"`
	Type       int            `json:"type"`
	MenuID     int            `json:"menuId"`
	Visibility bool           `json:"visibility"`
	Params     map[string]any `json:"params"`
}

// Widget is a sub-object of a tile, usually named widget1 or widget2.
type Widget struct {
	TxtID    int
	Value    float64
	HasValue bool
	Unit     int
	Type     int
}

// Clone returns a deep copy of the tile.
func (t Tile) Clone() Tile {
	c := t
	if t.Params != nil {
		c.Params = cloneValue(t.Params).(map[string]any)
	}
	return c
}

// Float returns the numeric param with the given key.
func (t Tile) Float(key string) (float64, bool) {
	return toFloat(t.Params[key])
}

// Int returns the numeric param with the given key truncated to an int.
func (t Tile) Int(key string) (int, bool) {
	f, ok := t.Float(key)
	return int(f), ok
}

// Bool returns the boolean param with the given key. Numeric params are
// treated as true when non-zero.
func (t Tile) Bool(key string) (bool, bool) {
	switch v := t.Params[key].(type) {
	case bool:
		return v, true
	default:
		f, ok := toFloat(v)
		return f != 0, ok
	}
}

// String returns the param with the given key formatted as a string.
func (t Tile) String(key string) (string, bool) {
	v, ok := t.Params[key]
	if !ok || v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	return fmt.Sprint(v), true
}

// Widget returns widget n (1 or 2) of the tile.
func (t Tile) Widget(n int) (Widget, bool) {
	m, ok := t.Params["widget"+strconv.Itoa(n)].(map[string]any)
	if !ok {
		return Widget{}, false
	}
	var w Widget
	if f, ok := toFloat(m["txtId"]); ok {
		w.TxtID = int(f)
	}
	if f, ok := toFloat(m["unit"]); ok {
		w.Unit = int(f)
	}
	if f, ok := toFloat(m["type"]); ok {
		w.Type = int(f)
	}
	w.Value, w.HasValue = toFloat(m["value"])
	return w, true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, e := range x {
			m[k] = cloneValue(e)
		}
		return m
	case []any:
		s := make([]any, len(x))
		for i, e := range x {
			s[i] = cloneValue(e)
		}
		return s
	default:
		return v
	}
}
