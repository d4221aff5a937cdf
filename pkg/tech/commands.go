package tech

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"

	"github.com/techbridge/techbridge/pkg/log"
	"github.com/techbridge/techbridge/pkg/metrics"
	"github.com/techbridge/techbridge/pkg/types"
)

// Command names a write operation that takes a single integer value.
type Command string

const (
	CommandFanGear                      Command = "fan_gear"
	CommandPartyMode                    Command = "party_mode"
	CommandFilterAlarm                  Command = "filter_alarm"
	CommandCO2Threshold                 Command = "co2_threshold"
	CommandHysteresis                   Command = "hysteresis"
	CommandFlowBalancing                Command = "flow_balancing"
	CommandGearDirect                   Command = "gear_direct"
	CommandVentilationRoomParameter     Command = "ventilation_room"
	CommandVentilationBathroomParameter Command = "ventilation_bathroom"
	CommandRecuperationSpeed            Command = "recuperation_speed"
	CommandResetFilter                  Command = "reset_filter"
)

// Ranges accepted by the write operations.
const (
	PartyModeMinMinutes   = 15
	PartyModeMaxMinutes   = 720
	FilterAlarmMinDays    = 1
	FilterAlarmMaxDays    = 365
	CO2MinPPM             = 400
	CO2MaxPPM             = 2000
	HysteresisMinPercent  = 5
	HysteresisMaxPercent  = 10
	VentilationMinPercent = 10
	VentilationMaxPercent = 90
	GearMin               = 0
	GearMax               = 3
)

// constTempTime is the number of minutes a constant temperature override
// lasts when set through SetConstTemp.
const constTempTime = 60

// control is a single vendor control point written through the menu
// endpoints.
type control struct {
	menu Menu
	ido  int
}

var (
	controlFanGear           = control{MenuUser, 1920}
	controlPartyMode         = control{MenuUser, 1918}
	controlGearDirect        = control{MenuUser, 1919}
	controlRecuperationSpeed = control{MenuUser, 1930}
	controlFilterAlarm       = control{MenuInstaller, 1921}
	controlCO2Threshold      = control{MenuInstaller, 1922}
	controlHysteresis        = control{MenuInstaller, 1923}
	controlFlowBalancing     = control{MenuInstaller, 1924}
	controlVentilationRoom   = control{MenuInstaller, 1925}
	controlVentilationBath   = control{MenuInstaller, 1926}
	controlResetFilter       = control{MenuInstaller, 1929}
)

// speedFlow describes the air flow in m³/h that a recuperation gear runs at.
type speedFlow struct {
	control  control
	min, max int
	fallback int
}

var speedFlows = map[int]speedFlow{
	1: {control{MenuInstaller, 1931}, 50, 200, 150},
	2: {control{MenuInstaller, 1932}, 100, 350, 250},
	3: {control{MenuInstaller, 1933}, 200, 500, 350},
}

// DefaultSpeedFlows returns the air flow used for each recuperation gear when
// none is configured.
func DefaultSpeedFlows() map[int]int {
	flows := make(map[int]int, len(speedFlows))
	for gear, sf := range speedFlows {
		flows[gear] = sf.fallback
	}
	return flows
}

type valueBody struct {
	Value int `json:"value"`
}

func checkRange(field string, v, lo, hi int, unit string) error {
	if v < lo || v > hi {
		return errInvalid(field, fmt.Sprintf("must be between %d and %d %s", lo, hi, unit))
	}
	return nil
}

func zonesPath(uid, udid string) string {
	return modulePath(uid, udid) + "/zones"
}

// setControl validates the session and posts value to a control point. The
// check function runs after the session check and before any network call.
func (c *Client) setControl(ctx context.Context, name Command, udid string, ctl control, value int, check func() error) (json.RawMessage, error) {
	uid, err := c.userID()
	if err != nil {
		return nil, err
	}
	if check != nil {
		if err := check(); err != nil {
			metrics.Commands.WithLabelValues(string(name), "invalid").Inc()
			return nil, err
		}
	}
	return c.postCommand(ctx, name, controlPath(uid, udid, ctl.menu, ctl.ido), valueBody{Value: value})
}

func (c *Client) postCommand(ctx context.Context, name Command, path string, body any) (json.RawMessage, error) {
	log.Ctx(ctx).DebugContext(ctx, "sending tech command", slog.String("command", string(name)), slog.String("path", path))
	var res json.RawMessage
	err := c.post(ctx, path, body, &res)
	metrics.Commands.WithLabelValues(string(name), metrics.Result(err)).Inc()
	if err != nil {
		return nil, err
	}
	return res, nil
}

// SetZone turns a zone on or off.
func (c *Client) SetZone(ctx context.Context, udid string, zoneID int, on bool) (json.RawMessage, error) {
	uid, err := c.userID()
	if err != nil {
		return nil, err
	}
	state := types.ZoneStateOff
	if on {
		state = types.ZoneStateOn
	}
	body := map[string]any{
		"zone": map[string]any{
			"id":        zoneID,
			"zoneState": state,
		},
	}
	return c.postCommand(ctx, "zone_state", zonesPath(uid, udid), body)
}

// SetConstTemp sets a constant target temperature in °C on a zone for
// constTempTime minutes. The zone must be known to the cache since its mode id
// is part of the request.
func (c *Client) SetConstTemp(ctx context.Context, udid string, zoneID int, celsius float64) (json.RawMessage, error) {
	uid, err := c.userID()
	if err != nil {
		return nil, err
	}
	if math.IsNaN(celsius) || math.IsInf(celsius, 0) {
		return nil, errInvalid("temperature", "must be a finite number")
	}
	z, err := c.Zone(ctx, udid, zoneID)
	if err != nil {
		return nil, err
	}
	body := map[string]any{
		"mode": types.ZoneMode{
			ID:             z.Mode.ID,
			ParentID:       zoneID,
			Mode:           "constantTemp",
			ConstTempTime:  constTempTime,
			SetTemperature: int(math.Round(celsius * 10)),
			ScheduleIndex:  0,
		},
	}
	return c.postCommand(ctx, "zone_temperature", zonesPath(uid, udid), body)
}

// SetFanGear sets the timed fan mode of a recuperation unit. Gear 0 stops the
// fan.
func (c *Client) SetFanGear(ctx context.Context, udid string, gear int) (json.RawMessage, error) {
	return c.setControl(ctx, CommandFanGear, udid, controlFanGear, gear, func() error {
		return checkRange("gear", gear, GearMin, GearMax, "")
	})
}

// SetPartyMode starts party mode for the given number of minutes.
func (c *Client) SetPartyMode(ctx context.Context, udid string, minutes int) (json.RawMessage, error) {
	return c.setControl(ctx, CommandPartyMode, udid, controlPartyMode, minutes, func() error {
		return checkRange("duration", minutes, PartyModeMinMinutes, PartyModeMaxMinutes, "minutes")
	})
}

// SetFilterAlarm sets the number of days after which the filter alarm fires.
func (c *Client) SetFilterAlarm(ctx context.Context, udid string, days int) (json.RawMessage, error) {
	return c.setControl(ctx, CommandFilterAlarm, udid, controlFilterAlarm, days, func() error {
		return checkRange("days", days, FilterAlarmMinDays, FilterAlarmMaxDays, "days")
	})
}

// SetCO2Threshold sets the CO2 concentration above which ventilation boosts.
func (c *Client) SetCO2Threshold(ctx context.Context, udid string, ppm int) (json.RawMessage, error) {
	return c.setControl(ctx, CommandCO2Threshold, udid, controlCO2Threshold, ppm, func() error {
		return checkRange("threshold", ppm, CO2MinPPM, CO2MaxPPM, "ppm")
	})
}

// SetHysteresis sets the ventilation hysteresis.
func (c *Client) SetHysteresis(ctx context.Context, udid string, percent int) (json.RawMessage, error) {
	return c.setControl(ctx, CommandHysteresis, udid, controlHysteresis, percent, func() error {
		return checkRange("hysteresis", percent, HysteresisMinPercent, HysteresisMaxPercent, "percent")
	})
}

// SetFlowBalancing enables or disables flow balancing.
func (c *Client) SetFlowBalancing(ctx context.Context, udid string, enabled bool) (json.RawMessage, error) {
	v := 0
	if enabled {
		v = 1
	}
	return c.setControl(ctx, CommandFlowBalancing, udid, controlFlowBalancing, v, nil)
}

// SetGearDirect switches the recuperation gear immediately.
func (c *Client) SetGearDirect(ctx context.Context, udid string, gear int) (json.RawMessage, error) {
	return c.setControl(ctx, CommandGearDirect, udid, controlGearDirect, gear, func() error {
		return checkRange("gear", gear, GearMin, GearMax, "")
	})
}

// SetVentilationRoomParameter sets the room ventilation parameter.
func (c *Client) SetVentilationRoomParameter(ctx context.Context, udid string, percent int) (json.RawMessage, error) {
	return c.setControl(ctx, CommandVentilationRoomParameter, udid, controlVentilationRoom, percent, func() error {
		return checkRange("percent", percent, VentilationMinPercent, VentilationMaxPercent, "percent")
	})
}

// SetVentilationBathroomParameter sets the bathroom ventilation parameter.
func (c *Client) SetVentilationBathroomParameter(ctx context.Context, udid string, percent int) (json.RawMessage, error) {
	return c.setControl(ctx, CommandVentilationBathroomParameter, udid, controlVentilationBath, percent, func() error {
		return checkRange("percent", percent, VentilationMinPercent, VentilationMaxPercent, "percent")
	})
}

// SetRecuperationSpeed switches the recuperation unit to a gear. For gears
// above 0 the air flow for that gear is written first, taken from flows or
// DefaultSpeedFlows when flows has no entry. The response of the final gear
// write is returned.
func (c *Client) SetRecuperationSpeed(ctx context.Context, udid string, speed int, flows map[int]int) (json.RawMessage, error) {
	uid, err := c.userID()
	if err != nil {
		return nil, err
	}
	if err := checkRange("speed", speed, GearMin, GearMax, ""); err != nil {
		return nil, err
	}
	for gear, flow := range flows {
		sf, ok := speedFlows[gear]
		if !ok {
			return nil, errInvalid("speed", "must be between 1 and 3 for a flow value")
		}
		if err := checkRange("flow"+strconv.Itoa(gear), flow, sf.min, sf.max, "m³/h"); err != nil {
			return nil, err
		}
	}

	if speed > 0 {
		sf := speedFlows[speed]
		flow, ok := flows[speed]
		if !ok {
			flow = sf.fallback
		}
		_, err := c.postCommand(ctx, CommandRecuperationSpeed, controlPath(uid, udid, sf.control.menu, sf.control.ido), valueBody{Value: flow})
		if err != nil {
			return nil, err
		}
	}
	ctl := controlRecuperationSpeed
	return c.postCommand(ctx, CommandRecuperationSpeed, controlPath(uid, udid, ctl.menu, ctl.ido), valueBody{Value: speed})
}

// ResetFilter acknowledges a filter change and restarts the filter counter.
func (c *Client) ResetFilter(ctx context.Context, udid string) (json.RawMessage, error) {
	return c.setControl(ctx, CommandResetFilter, udid, controlResetFilter, 1, nil)
}

// Run executes a single value command by name. Boolean commands treat any
// non-zero value as true and ResetFilter ignores the value.
func (c *Client) Run(ctx context.Context, udid string, cmd Command, value int) (json.RawMessage, error) {
	switch cmd {
	case CommandFanGear:
		return c.SetFanGear(ctx, udid, value)
	case CommandPartyMode:
		return c.SetPartyMode(ctx, udid, value)
	case CommandFilterAlarm:
		return c.SetFilterAlarm(ctx, udid, value)
	case CommandCO2Threshold:
		return c.SetCO2Threshold(ctx, udid, value)
	case CommandHysteresis:
		return c.SetHysteresis(ctx, udid, value)
	case CommandFlowBalancing:
		return c.SetFlowBalancing(ctx, udid, value != 0)
	case CommandGearDirect:
		return c.SetGearDirect(ctx, udid, value)
	case CommandVentilationRoomParameter:
		return c.SetVentilationRoomParameter(ctx, udid, value)
	case CommandVentilationBathroomParameter:
		return c.SetVentilationBathroomParameter(ctx, udid, value)
	case CommandRecuperationSpeed:
		return c.SetRecuperationSpeed(ctx, udid, value, nil)
	case CommandResetFilter:
		return c.ResetFilter(ctx, udid)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, cmd)
	}
}
