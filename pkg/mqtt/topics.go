package mqtt

import (
	"strconv"
	"strings"

	"github.com/techbridge/techbridge/pkg/entity"
)

// DefaultTopicPrefix is the root of every topic.
const DefaultTopicPrefix = "techbridge"

const (
	statusOnline  = "online"
	statusOffline = "offline"
)

// Topics builds the topic names under a prefix:
//
//	<prefix>/status                                bridge online/offline
//	<prefix>/<udid>/availability                   module online/offline
//	<prefix>/<udid>/<platform>/<uniqueID>/state    entity state (retained)
//	<prefix>/<udid>/zone/<zoneID>/set              zone command
//	<prefix>/<udid>/command/<command>/set          control command
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return strings.TrimSuffix(t.Prefix, "/")
}

// Status is the bridge status topic.
func (t Topics) Status() string {
	return t.prefix() + "/status"
}

// Availability is the availability topic of a module.
func (t Topics) Availability(udid string) string {
	return t.prefix() + "/" + udid + "/availability"
}

// State is the state topic of an entity.
func (t Topics) State(udid string, platform entity.Platform, uniqueID string) string {
	return t.prefix() + "/" + udid + "/" + string(platform) + "/" + uniqueID + "/state"
}

// ZoneSetFilter matches zone commands of every module.
func (t Topics) ZoneSetFilter() string {
	return t.prefix() + "/+/zone/+/set"
}

// CommandSetFilter matches control commands of every module.
func (t Topics) CommandSetFilter() string {
	return t.prefix() + "/+/command/+/set"
}

// ZoneSet is the command topic of a zone.
func (t Topics) ZoneSet(udid string, zoneID int) string {
	return t.prefix() + "/" + udid + "/zone/" + strconv.Itoa(zoneID) + "/set"
}

// CommandSet is the command topic of a control.
func (t Topics) CommandSet(udid, command string) string {
	return t.prefix() + "/" + udid + "/command/" + command + "/set"
}

// parseSet splits a set topic into its module, kind ("zone" or "command")
// and target.
func (t Topics) parseSet(topic string) (udid, kind, target string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.prefix()+"/")
	if !found {
		return "", "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 4 || parts[3] != "set" || parts[0] == "" || parts[2] == "" {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}
