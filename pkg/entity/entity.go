// Package entity turns cached module data into flat entity descriptors for
// consumers such as the MQTT publisher and the HTTP API. Zones and each tile
// kind are handled by one entry of a dispatch table; the cache itself never
// interprets tiles.
package entity

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/techbridge/techbridge/pkg/assets"
	"github.com/techbridge/techbridge/pkg/tech"
	"github.com/techbridge/techbridge/pkg/types"
)

// Platform is the kind of entity a consumer should create.
type Platform string

const (
	PlatformSensor       Platform = "sensor"
	PlatformBinarySensor Platform = "binary_sensor"
	PlatformClimate      Platform = "climate"
	PlatformFan          Platform = "fan"
	PlatformNumber       Platform = "number"
	PlatformSelect       Platform = "select"
	PlatformSwitch       Platform = "switch"
	PlatformButton       Platform = "button"
)

// Entity describes one value or control of a module.
type Entity struct {
	UniqueID    string         `json:"uniqueId"`
	Platform    Platform       `json:"platform"`
	Name        string         `json:"name"`
	Icon        string         `json:"icon,omitempty"`
	DeviceClass string         `json:"deviceClass,omitempty"`
	Unit        string         `json:"unit,omitempty"`
	Value       any            `json:"value"`
	Attributes  map[string]any `json:"attributes,omitempty"`

	ZoneID int `json:"zoneId,omitempty"`
	TileID int `json:"tileId,omitempty"`

	// Command, when set, is the write operation that controls this entity.
	Command tech.Command `json:"command,omitempty"`
	// Press is the value sent when a button is pressed.
	Press   int      `json:"press,omitempty"`
	Min     int      `json:"min,omitempty"`
	Max     int      `json:"max,omitempty"`
	Options []string `json:"options,omitempty"`
}

// Numeric returns the entity value as a float64 if it is a number.
func (e Entity) Numeric() (float64, bool) {
	switch v := e.Value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

// GearOptions are the options of the gear selects, indexed by gear.
var GearOptions = []string{"Stop", "Gear 1", "Gear 2", "Gear 3"}

type builder struct {
	lookup *assets.Lookup
	udid   string
}

func (b *builder) id(parts ...any) string {
	s := b.udid
	for _, p := range parts {
		s += "_" + fmt.Sprint(p)
	}
	return s
}

type tileFunc func(b *builder, t types.Tile) []Entity

// variants maps every tile kind to the function describing it.
var variants = map[assets.Kind]tileFunc{
	assets.KindTemperature:     temperatureTile,
	assets.KindFireSensor:      workingStatusTile,
	assets.KindRelay:           workingStatusTile,
	assets.KindPump:            workingStatusTile,
	assets.KindWidget:          widgetTile,
	assets.KindFan:             fanTile,
	assets.KindValve:           valveTile,
	assets.KindMixingValve:     valveTile,
	assets.KindFuelSupply:      fuelSupplyTile,
	assets.KindText:            textTile,
	assets.KindSoftwareVersion: versionTile,
	assets.KindRecuperation:    recuperationTile,
}

// Build returns the entities of a module sorted by unique id. Tiles of
// unknown kinds are skipped.
func Build(lookup *assets.Lookup, d types.ModuleData) []Entity {
	b := &builder{lookup: lookup, udid: d.UDID}
	var out []Entity
	for _, z := range d.Zones {
		out = append(out, b.zone(z)...)
	}
	for _, t := range d.Tiles {
		fn, ok := variants[lookup.Kind(t.Type)]
		if !ok {
			continue
		}
		for _, e := range fn(b, t) {
			e.TileID = t.ID
			out = append(out, e)
		}
	}
	if lookup.HasRecuperation(d.Tiles) {
		out = append(out, b.recuperationControls()...)
		out = append(out, b.filterStatus(d)...)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UniqueID < out[j].UniqueID
	})
	return out
}

func (b *builder) zone(z types.Zone) []Entity {
	id := z.ID()
	name := z.Name()
	if name == "" {
		name = "Zone " + strconv.Itoa(id)
	}

	climate := Entity{
		UniqueID: b.id("zone", id, "climate"),
		Platform: PlatformClimate,
		Name:     name,
		Icon:     "mdi:thermostat",
		Unit:     "°C",
		ZoneID:   id,
		Attributes: map[string]any{
			"on":      z.On(),
			"heating": z.Heating(),
			"mode":    z.Mode.Mode,
		},
	}
	if v, ok := z.CurrentTemperature(); ok {
		climate.Value = v
	}
	if v, ok := z.TargetTemperature(); ok {
		climate.Attributes["target"] = v
	}
	out := []Entity{climate}

	if v, ok := z.CurrentTemperature(); ok {
		out = append(out, Entity{
			UniqueID:    b.id("zone", id, "temperature"),
			Platform:    PlatformSensor,
			Name:        name + " Temperature",
			DeviceClass: "temperature",
			Unit:        "°C",
			Value:       v,
			ZoneID:      id,
		})
	}
	if v, ok := z.Humidity(); ok {
		out = append(out, Entity{
			UniqueID:    b.id("zone", id, "humidity"),
			Platform:    PlatformSensor,
			Name:        name + " Humidity",
			DeviceClass: "humidity",
			Unit:        "%",
			Value:       v,
			ZoneID:      id,
		})
	}
	if v, ok := z.BatteryLevel(); ok {
		out = append(out, Entity{
			UniqueID:    b.id("zone", id, "battery"),
			Platform:    PlatformSensor,
			Name:        name + " Battery",
			DeviceClass: "battery",
			Unit:        "%",
			Value:       v,
			ZoneID:      id,
		})
	}
	if s := z.Zone.SignalStrength; s != nil {
		out = append(out, Entity{
			UniqueID: b.id("zone", id, "signal"),
			Platform: PlatformSensor,
			Name:     name + " Signal Strength",
			Icon:     "mdi:signal",
			Value:    *s,
			ZoneID:   id,
		})
	}
	return out
}

func temperatureTile(b *builder, t types.Tile) []Entity {
	name := b.lookup.TileName(t)
	e := Entity{
		UniqueID:    b.id("tile", t.ID, "temperature"),
		Platform:    PlatformSensor,
		Name:        name,
		Icon:        b.lookup.Icon(t),
		DeviceClass: "temperature",
		Unit:        "°C",
	}
	if v, ok := t.Float("value"); ok {
		e.Value = v / 10
	}
	out := []Entity{e}
	if v, ok := t.Int("batteryLevel"); ok {
		out = append(out, Entity{
			UniqueID:    b.id("tile", t.ID, "battery"),
			Platform:    PlatformSensor,
			Name:        name + " Battery",
			DeviceClass: "battery",
			Unit:        "%",
			Value:       v,
		})
	}
	if v, ok := t.Int("signalStrength"); ok {
		out = append(out, Entity{
			UniqueID: b.id("tile", t.ID, "signal"),
			Platform: PlatformSensor,
			Name:     name + " Signal Strength",
			Icon:     "mdi:signal",
			Value:    v,
		})
	}
	return out
}

func workingStatusTile(b *builder, t types.Tile) []Entity {
	on, _ := t.Bool("workingStatus")
	return []Entity{{
		UniqueID: b.id("tile", t.ID, "binary"),
		Platform: PlatformBinarySensor,
		Name:     b.lookup.TileName(t),
		Icon:     b.lookup.Icon(t),
		Value:    on,
	}}
}

func widgetTile(b *builder, t types.Tile) []Entity {
	var out []Entity
	for n := 1; n <= 2; n++ {
		w, ok := t.Widget(n)
		if !ok || w.TxtID == 0 {
			continue
		}
		e := Entity{
			UniqueID: b.id("tile", t.ID, "widget"+strconv.Itoa(n)),
			Platform: PlatformSensor,
			Name:     b.lookup.Text(w.TxtID),
			Icon:     b.lookup.Icon(t),
		}
		if b.lookup.IsRecuperationFlow(w.TxtID) {
			e.Unit = "m³/h"
			if w.HasValue {
				e.Value = w.Value
			}
		} else {
			e.DeviceClass = "temperature"
			e.Unit = "°C"
			if w.HasValue {
				e.Value = w.Value / 10
			}
		}
		out = append(out, e)
	}
	return out
}

func fanTile(b *builder, t types.Tile) []Entity {
	gear, _ := t.Int("gear")
	return []Entity{{
		UniqueID: b.id("tile", t.ID, "fan"),
		Platform: PlatformSensor,
		Name:     b.lookup.TileName(t),
		Icon:     b.lookup.Icon(t),
		Value:    gear,
	}}
}

func valveTile(b *builder, t types.Tile) []Entity {
	name := b.lookup.TileName(t)
	if n, ok := t.Int("valveNumber"); ok {
		name += " " + strconv.Itoa(n)
	}
	e := Entity{
		UniqueID: b.id("tile", t.ID, "valve"),
		Platform: PlatformSensor,
		Name:     name,
		Icon:     b.lookup.Icon(t),
		Unit:     "%",
	}
	if v, ok := t.Int("openingPercentage"); ok {
		e.Value = v
	}
	attrs := map[string]any{}
	for _, key := range []string{"currentTemp", "returnTemp"} {
		if v, ok := t.Float(key); ok {
			attrs[key] = v / 10
		}
	}
	if v, ok := t.Float("setTempCorrection"); ok {
		attrs["setTempCorrection"] = v
	}
	if v, ok := t.Float("setTemp"); ok {
		attrs["setTemp"] = v
	}
	for _, key := range []string{"valvePump", "boilerProtection", "returnProtection"} {
		if s, ok := t.String(key); ok {
			attrs[key] = s == "1"
		}
	}
	if len(attrs) > 0 {
		e.Attributes = attrs
	}
	return []Entity{e}
}

func fuelSupplyTile(b *builder, t types.Tile) []Entity {
	e := Entity{
		UniqueID:    b.id("tile", t.ID, "fuel"),
		Platform:    PlatformSensor,
		Name:        b.lookup.TileName(t),
		Icon:        b.lookup.Icon(t),
		DeviceClass: "battery",
		Unit:        "%",
	}
	if v, ok := t.Int("percentage"); ok {
		e.Value = v
	}
	return []Entity{e}
}

func textTile(b *builder, t types.Tile) []Entity {
	e := Entity{
		UniqueID: b.id("tile", t.ID, "text"),
		Platform: PlatformSensor,
		Name:     b.lookup.TileName(t),
		Icon:     b.lookup.Icon(t),
	}
	if id, ok := t.Int("statusId"); ok {
		e.Value = b.lookup.Text(id)
	}
	return []Entity{e}
}

func versionTile(b *builder, t types.Tile) []Entity {
	e := Entity{
		UniqueID: b.id("tile", t.ID, "version"),
		Platform: PlatformSensor,
		Name:     b.lookup.TileName(t),
		Icon:     b.lookup.Icon(t),
	}
	if v, ok := t.String("version"); ok {
		e.Value = v
	}
	return []Entity{e}
}

func recuperationTile(b *builder, t types.Tile) []Entity {
	gear, _ := t.Int("gear")
	return []Entity{{
		UniqueID: b.id("tile", t.ID, "recuperation"),
		Platform: PlatformFan,
		Name:     b.lookup.TileName(t),
		Icon:     b.lookup.Icon(t),
		Value:    gear,
		Command:  tech.CommandRecuperationSpeed,
		Min:      tech.GearMin,
		Max:      tech.GearMax,
	}}
}

// recuperationControls returns the write-only controls of a recuperation
// unit. Their current values are not part of the module payload.
func (b *builder) recuperationControls() []Entity {
	number := func(key, name, unit string, cmd tech.Command, lo, hi int) Entity {
		return Entity{
			UniqueID: b.id("recuperation", key),
			Platform: PlatformNumber,
			Name:     name,
			Unit:     unit,
			Command:  cmd,
			Min:      lo,
			Max:      hi,
		}
	}
	return []Entity{
		{
			UniqueID: b.id("recuperation", "gear"),
			Platform: PlatformSelect,
			Name:     "Recuperation Gear",
			Icon:     "mdi:speedometer",
			Command:  tech.CommandGearDirect,
			Options:  GearOptions,
		},
		{
			UniqueID: b.id("recuperation", "fan_mode"),
			Platform: PlatformSelect,
			Name:     "Fan Mode (Timed)",
			Icon:     "mdi:fan-speed",
			Command:  tech.CommandFanGear,
			Options:  GearOptions,
		},
		number("party_mode", "Party Mode Duration", "min", tech.CommandPartyMode, tech.PartyModeMinMinutes, tech.PartyModeMaxMinutes),
		number("filter_alarm", "Filter Alarm", "d", tech.CommandFilterAlarm, tech.FilterAlarmMinDays, tech.FilterAlarmMaxDays),
		number("co2_threshold", "CO2 Threshold", "ppm", tech.CommandCO2Threshold, tech.CO2MinPPM, tech.CO2MaxPPM),
		number("hysteresis", "Hysteresis", "%", tech.CommandHysteresis, tech.HysteresisMinPercent, tech.HysteresisMaxPercent),
		number("ventilation_room", "Room Ventilation", "%", tech.CommandVentilationRoomParameter, tech.VentilationMinPercent, tech.VentilationMaxPercent),
		number("ventilation_bathroom", "Bathroom Ventilation", "%", tech.CommandVentilationBathroomParameter, tech.VentilationMinPercent, tech.VentilationMaxPercent),
		{
			UniqueID: b.id("recuperation", "flow_balancing"),
			Platform: PlatformSwitch,
			Name:     "Flow Balancing",
			Icon:     "mdi:scale-balance",
			Command:  tech.CommandFlowBalancing,
		},
		{
			UniqueID: b.id("recuperation", "reset_filter"),
			Platform: PlatformButton,
			Name:     "Reset Filter",
			Icon:     "mdi:air-filter",
			Command:  tech.CommandResetFilter,
		},
		{
			UniqueID: b.id("recuperation", "party_30"),
			Platform: PlatformButton,
			Name:     "Party 30 min",
			Icon:     "mdi:party-popper",
			Command:  tech.CommandPartyMode,
			Press:    30,
		},
		{
			UniqueID: b.id("recuperation", "party_60"),
			Platform: PlatformButton,
			Name:     "Party 60 min",
			Icon:     "mdi:party-popper",
			Command:  tech.CommandPartyMode,
			Press:    60,
		},
	}
}

// FilterReplacementNeeded reports whether at least FilterAlarmMaxDays whole
// days passed between the filter reset and now. A filter without a recorded
// reset counts as new.
func FilterReplacementNeeded(reset, now time.Time) bool {
	if reset.IsZero() {
		return false
	}
	days := int(now.Sub(reset) / (24 * time.Hour))
	return days >= tech.FilterAlarmMaxDays
}

// filterStatus is evaluated at the last update of the module, not at build
// time, so the same data always builds the same entities.
func (b *builder) filterStatus(d types.ModuleData) []Entity {
	var reset any
	if !d.FilterReset.IsZero() {
		reset = d.FilterReset.UTC().Format(time.RFC3339)
	}
	return []Entity{
		{
			UniqueID:    b.id("recuperation", "filter_reset_date"),
			Platform:    PlatformSensor,
			Name:        "Filter Reset Date",
			Icon:        "mdi:calendar-refresh",
			DeviceClass: "timestamp",
			Value:       reset,
		},
		{
			UniqueID:    b.id("filter_replacement_needed"),
			Platform:    PlatformBinarySensor,
			Name:        "Filter Replacement Needed",
			Icon:        "mdi:air-filter-outline",
			DeviceClass: "problem",
			Value:       FilterReplacementNeeded(d.FilterReset, d.LastUpdate),
		},
	}
}
