package types

// Zone state values reported by the controller.
const (
	ZoneStateOn           = "zoneOn"
	ZoneStateOff          = "zoneOff"
	ZoneStateUnregistered = "zoneUnregistered"
	ZoneStateNoAlarm      = "noAlarm"
)

// Zone is a single element of a module's zone list. Temperatures are reported
// in tenths of a degree Celsius.
type Zone struct {
	Zone        ZoneState       `json:"zone"`
	Description ZoneDescription `json:"description"`
	Mode        ZoneMode        `json:"mode"`
}

// ZoneState holds the live readings of a zone.
type ZoneState struct {
	ID                 int       `json:"id"`
	ParentID           int       `json:"parentId"`
	Visibility         bool      `json:"visibility"`
	SetTemperature     *int      `json:"setTemperature"`
	CurrentTemperature *int      `json:"currentTemperature"`
	Humidity           *int      `json:"humidity"`
	BatteryLevel       *int      `json:"batteryLevel"`
	SignalStrength     *int      `json:"signalStrength"`
	ZoneState          string    `json:"zoneState"`
	Flags              ZoneFlags `json:"flags"`
}

// ZoneFlags holds auxiliary state of a zone.
type ZoneFlags struct {
	RelayState string `json:"relayState"`
}

// ZoneDescription is the user-facing description of a zone.
type ZoneDescription struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	StyleID   int    `json:"styleId"`
	StyleIcon string `json:"styleIcon"`
}

// ZoneMode is the operating mode of a zone. The id is needed to change the
// constant temperature.
type ZoneMode struct {
	ID             int    `json:"id"`
	ParentID       int    `json:"parentId"`
	Mode           string `json:"mode"`
	ConstTempTime  int    `json:"constTempTime"`
	SetTemperature int    `json:"setTemperature"`
	ScheduleIndex  int    `json:"scheduleIndex"`
}

// ID returns the zone id.
func (z Zone) ID() int {
	return z.Zone.ID
}

// Name returns the zone name.
func (z Zone) Name() string {
	return z.Description.Name
}

// On returns true if the zone is switched on.
func (z Zone) On() bool {
	return z.Zone.ZoneState == ZoneStateOn
}

// Heating returns true if the zone relay is currently on.
func (z Zone) Heating() bool {
	return z.Zone.Flags.RelayState == "on"
}

// CurrentTemperature returns the current temperature in degrees Celsius.
func (z Zone) CurrentTemperature() (float64, bool) {
	return tenths(z.Zone.CurrentTemperature)
}

// TargetTemperature returns the set temperature in degrees Celsius.
func (z Zone) TargetTemperature() (float64, bool) {
	return tenths(z.Zone.SetTemperature)
}

// Humidity returns the relative humidity in percent. The controller reports
// zones without a humidity sensor as a non-positive value.
func (z Zone) Humidity() (int, bool) {
	if z.Zone.Humidity == nil || *z.Zone.Humidity <= 0 {
		return 0, false
	}
	return *z.Zone.Humidity, true
}

// BatteryLevel returns the battery level in percent of a wireless sensor.
func (z Zone) BatteryLevel() (int, bool) {
	if z.Zone.BatteryLevel == nil || *z.Zone.BatteryLevel < 0 {
		return 0, false
	}
	return *z.Zone.BatteryLevel, true
}

func tenths(v *int) (float64, bool) {
	if v == nil {
		return 0, false
	}
	return float64(*v) / 10, true
}
