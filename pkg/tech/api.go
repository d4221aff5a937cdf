package tech

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strconv"

	"github.com/techbridge/techbridge/pkg/log"
	"github.com/techbridge/techbridge/pkg/types"
)

// Menu selects the menu a control point lives in.
type Menu string

const (
	// MenuUser is the end-user menu.
	MenuUser Menu = "MU"
	// MenuInstaller is the installer/service menu.
	MenuInstaller Menu = "MI"
)

// DefaultLanguage is used for translations when the requested language is
// not offered by the API. The API answers 400 for unknown languages.
const DefaultLanguage = "en"

// SupportedLanguages lists the translation packs served by the API.
var SupportedLanguages = []string{
	"bg", "cs", "da", "de", "el", "en", "es", "et", "fi", "fr", "hr", "hu",
	"it", "lt", "lv", "nl", "no", "pl", "pt", "ro", "ru", "sk", "sl", "sv",
	"tr", "uk",
}

// SupportedLanguage returns lang if the API serves it, otherwise
// DefaultLanguage.
func SupportedLanguage(lang string) string {
	if slices.Contains(SupportedLanguages, lang) {
		return lang
	}
	return DefaultLanguage
}

func modulesPath(uid string) string {
	return "users/" + uid + "/modules"
}

func modulePath(uid, udid string) string {
	return modulesPath(uid) + "/" + udid
}

// ListModules returns the modules registered to the account.
func (c *Client) ListModules(ctx context.Context) ([]types.Module, error) {
	uid, err := c.userID()
	if err != nil {
		return nil, err
	}
	var res []types.Module
	if err := c.get(ctx, modulesPath(uid), &res); err != nil {
		return nil, err
	}
	return res, nil
}

// ModuleData returns the full, unfiltered module payload. It does not touch
// the cache.
func (c *Client) ModuleData(ctx context.Context, udid string) (json.RawMessage, error) {
	uid, err := c.userID()
	if err != nil {
		return nil, err
	}
	var res json.RawMessage
	if err := c.get(ctx, modulePath(uid, udid), &res); err != nil {
		return nil, err
	}
	return res, nil
}

// Translations returns the text table for lang, falling back to
// DefaultLanguage for languages the API does not serve.
func (c *Client) Translations(ctx context.Context, lang string) (types.Translations, error) {
	if _, err := c.userID(); err != nil {
		return nil, err
	}
	supported := SupportedLanguage(lang)
	if supported != lang {
		log.Ctx(ctx).DebugContext(ctx, "language not supported, using default", slog.String("language", lang))
	}

	var res struct {
		Status string            `json:"status"`
		Data   map[string]string `json:"data"`
	}
	if err := c.get(ctx, "i18n/"+supported, &res); err != nil {
		return nil, err
	}
	t := make(types.Translations, len(res.Data))
	for k, v := range res.Data {
		id, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		t[id] = v
	}
	return t, nil
}

func controlPath(uid, udid string, menu Menu, ido int) string {
	return fmt.Sprintf("%s/menu/%s/ido/%d", modulePath(uid, udid), menu, ido)
}

// ReadControl returns the current value of a single control point.
func (c *Client) ReadControl(ctx context.Context, udid string, menu Menu, ido int) (float64, error) {
	uid, err := c.userID()
	if err != nil {
		return 0, err
	}
	var res struct {
		Value json.Number `json:"value"`
	}
	if err := c.get(ctx, controlPath(uid, udid, menu, ido), &res); err != nil {
		return 0, err
	}
	v, err := res.Value.Float64()
	if err != nil {
		return 0, fmt.Errorf("invalid control value %q: %w", res.Value, err)
	}
	return v, nil
}

type modulePayload struct {
	Zones struct {
		Elements []json.RawMessage `json:"elements"`
	} `json:"zones"`
	Tiles []*types.Tile `json:"tiles"`
}

type zoneElement struct {
	Zone        json.RawMessage       `json:"zone"`
	Description types.ZoneDescription `json:"description"`
	Mode        types.ZoneMode        `json:"mode"`
}

// zoneKeys records which optional keys a zone object carried.
type zoneKeys struct {
	Visibility *bool   `json:"visibility"`
	ZoneState  *string `json:"zoneState"`
}

// fetchModule downloads the module payload and returns only the zones and
// tiles that belong in the cache. Null elements, elements without a zone
// object, zones missing the visibility or state keys and unregistered zones
// are dropped, as are invisible tiles.
func (c *Client) fetchModule(ctx context.Context, udid string) ([]types.Zone, []types.Tile, error) {
	raw, err := c.ModuleData(ctx, udid)
	if err != nil {
		return nil, nil, err
	}
	var payload modulePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, nil, fmt.Errorf("failed to decode module %s: %w", udid, err)
	}

	zones := make([]types.Zone, 0, len(payload.Zones.Elements))
	for _, el := range payload.Zones.Elements {
		if isNull(el) {
			continue
		}
		var ze zoneElement
		if err := json.Unmarshal(el, &ze); err != nil {
			return nil, nil, fmt.Errorf("failed to decode zone element: %w", err)
		}
		if isNull(ze.Zone) {
			continue
		}
		var keys zoneKeys
		if err := json.Unmarshal(ze.Zone, &keys); err != nil {
			return nil, nil, fmt.Errorf("failed to decode zone: %w", err)
		}
		if keys.Visibility == nil || keys.ZoneState == nil || *keys.ZoneState == types.ZoneStateUnregistered {
			continue
		}
		z := types.Zone{Description: ze.Description, Mode: ze.Mode}
		if err := json.Unmarshal(ze.Zone, &z.Zone); err != nil {
			return nil, nil, fmt.Errorf("failed to decode zone: %w", err)
		}
		zones = append(zones, z)
	}

	tiles := make([]types.Tile, 0, len(payload.Tiles))
	for _, t := range payload.Tiles {
		if t == nil || !t.Visibility {
			continue
		}
		tiles = append(tiles, *t)
	}

	log.Ctx(ctx).DebugContext(
		ctx,
		"fetched module data",
		slog.String("udid", udid),
		slog.Int("zones", len(zones)),
		slog.Int("tiles", len(tiles)),
	)
	return zones, tiles, nil
}

func isNull(b json.RawMessage) bool {
	return len(b) == 0 || string(b) == "null"
}
