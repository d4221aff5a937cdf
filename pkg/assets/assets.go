// Package assets resolves presentation data for tiles: the variant a tile
// type maps to, its icon and its name in the vendor text table. A Lookup is
// built once at startup and passed to whoever needs it.
package assets

import (
	_ "embed"
	"fmt"
	"strconv"

	"github.com/techbridge/techbridge/pkg/types"
	"gopkg.in/yaml.v3"
)

//go:embed assets.yaml
var assetsYAML []byte

// Kind is the closed set of tile variants.
type Kind string

const (
	KindUnknown         Kind = ""
	KindTemperature     Kind = "temperature"
	KindFireSensor      Kind = "fire_sensor"
	KindWidget          Kind = "widget"
	KindRelay           Kind = "relay"
	KindPump            Kind = "pump"
	KindFan             Kind = "fan"
	KindValve           Kind = "valve"
	KindMixingValve     Kind = "mixing_valve"
	KindFuelSupply      Kind = "fuel_supply"
	KindText            Kind = "text"
	KindSoftwareVersion Kind = "software_version"
	KindRecuperation    Kind = "recuperation"
)

var kinds = map[Kind]bool{
	KindTemperature:     true,
	KindFireSensor:      true,
	KindWidget:          true,
	KindRelay:           true,
	KindPump:            true,
	KindFan:             true,
	KindValve:           true,
	KindMixingValve:     true,
	KindFuelSupply:      true,
	KindText:            true,
	KindSoftwareVersion: true,
	KindRecuperation:    true,
}

type tileType struct {
	Kind  Kind   `yaml:"kind"`
	Icon  string `yaml:"icon"`
	TxtID int    `yaml:"txt_id"`
}

type table struct {
	DefaultIcon       string           `yaml:"default_icon"`
	IconsByID         map[int]string   `yaml:"icons_by_id"`
	TileTypes         map[int]tileType `yaml:"tile_types"`
	RecuperationFlows []int            `yaml:"recuperation_flow_txt_ids"`
}

func parseTable(b []byte) (table, error) {
	var t table
	if err := yaml.Unmarshal(b, &t); err != nil {
		return table{}, fmt.Errorf("parsing asset table: %w", err)
	}
	if t.DefaultIcon == "" {
		return table{}, fmt.Errorf("asset table has no default_icon")
	}
	for id, tt := range t.TileTypes {
		if !kinds[tt.Kind] {
			return table{}, fmt.Errorf("tile type %d has unknown kind %q", id, tt.Kind)
		}
	}
	return t, nil
}

// Lookup is immutable once built and safe for concurrent use.
type Lookup struct {
	language string
	table    table
	texts    types.Translations
	flows    map[int]bool
}

// New builds a Lookup from the embedded table and the text table of
// language. texts is copied.
func New(language string, texts types.Translations) (*Lookup, error) {
	t, err := parseTable(assetsYAML)
	if err != nil {
		return nil, err
	}
	l := &Lookup{
		language: language,
		table:    t,
		texts:    make(types.Translations, len(texts)),
		flows:    make(map[int]bool, len(t.RecuperationFlows)),
	}
	for id, s := range texts {
		l.texts[id] = s
	}
	for _, id := range t.RecuperationFlows {
		l.flows[id] = true
	}
	return l, nil
}

// Language returns the language of the text table.
func (l *Lookup) Language() string {
	return l.language
}

// Kind returns the variant of a tile type, KindUnknown if it has none.
func (l *Lookup) Kind(tileType int) Kind {
	return l.table.TileTypes[tileType].Kind
}

// Text returns the text for a vendor text id. Unknown ids render as
// "txtId <id>".
func (l *Lookup) Text(txtID int) string {
	if txtID != 0 {
		if s, ok := l.texts[txtID]; ok {
			return s
		}
	}
	return "txtId " + strconv.Itoa(txtID)
}

// TextID is the reverse of Text.
func (l *Lookup) TextID(text string) (int, bool) {
	if text == "" {
		return 0, false
	}
	best, found := 0, false
	// several ids can share a text, pick the lowest for stable results
	for id, s := range l.texts {
		if s == text && (!found || id < best) {
			best, found = id, true
		}
	}
	return best, found
}

// TypeName returns the name of a tile type, "type <n>" if it has none.
func (l *Lookup) TypeName(tileType int) string {
	tt, ok := l.table.TileTypes[tileType]
	if !ok || tt.TxtID == 0 {
		return "type " + strconv.Itoa(tileType)
	}
	return l.Text(tt.TxtID)
}

// TileName returns the display name of a tile. Tiles that carry their own
// header text use it, the rest are named by type.
func (l *Lookup) TileName(t types.Tile) string {
	if id, ok := t.Int("headerId"); ok && id != 0 {
		return l.Text(id)
	}
	if w, ok := t.Widget(1); ok && l.Kind(t.Type) == KindWidget && w.TxtID != 0 {
		return l.Text(w.TxtID)
	}
	return l.TypeName(t.Type)
}

// IconByID returns the icon for a vendor icon id.
func (l *Lookup) IconByID(id int) string {
	if icon, ok := l.table.IconsByID[id]; ok {
		return icon
	}
	return l.table.DefaultIcon
}

// Icon returns the icon of a tile, preferring the tile's own iconId.
func (l *Lookup) Icon(t types.Tile) string {
	if id, ok := t.Int("iconId"); ok {
		if icon, ok := l.table.IconsByID[id]; ok {
			return icon
		}
	}
	if tt, ok := l.table.TileTypes[t.Type]; ok && tt.Icon != "" {
		return tt.Icon
	}
	return l.table.DefaultIcon
}

// IsRecuperationFlow returns true if the widget text id reports recuperation
// air flow.
func (l *Lookup) IsRecuperationFlow(txtID int) bool {
	return l.flows[txtID]
}

// HasRecuperation returns true if any tile shows the module drives a
// recuperation unit.
func (l *Lookup) HasRecuperation(tiles map[int]types.Tile) bool {
	for _, t := range tiles {
		switch l.Kind(t.Type) {
		case KindRecuperation:
			return true
		case KindWidget:
			for n := 1; n <= 2; n++ {
				if w, ok := t.Widget(n); ok && l.IsRecuperationFlow(w.TxtID) {
					return true
				}
			}
		}
	}
	return false
}
