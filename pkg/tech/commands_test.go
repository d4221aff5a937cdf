package tech

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/techbridge/techbridge/pkg/tech/techmock"
	"github.com/techbridge/techbridge/pkg/types"
)

func controlURL(menu Menu, ido int) string {
	return testModuleURL + "/menu/" + string(menu) + "/ido/" + strconv.Itoa(ido)
}

func requireStatus(t *testing.T, err error, status int) {
	t.Helper()
	var ae *APIError
	require.True(t, errors.As(err, &ae), "expected an APIError, got %v", err)
	assert.Equal(t, status, ae.StatusCode)
}

func TestSetPartyMode(t *testing.T) {
	ctx := context.Background()

	t.Run("below minimum", func(t *testing.T) {
		c, mt := newMockClient(t, authedOption())
		_, err := c.SetPartyMode(ctx, testUDID, 10)
		requireStatus(t, err, http.StatusBadRequest)
		var ae *APIError
		require.True(t, errors.As(err, &ae))
		assert.Equal(t, "duration must be between 15 and 720 minutes", ae.Status)
		assert.Equal(t, 0, mt.GetTotalCallCount())
	})

	t.Run("above maximum", func(t *testing.T) {
		c, mt := newMockClient(t, authedOption())
		_, err := c.SetPartyMode(ctx, testUDID, 721)
		requireStatus(t, err, http.StatusBadRequest)
		assert.Equal(t, 0, mt.GetTotalCallCount())
	})

	t.Run("valid", func(t *testing.T) {
		c, mt := newMockClient(t, authedOption())
		mt.RegisterResponder(http.MethodPost, controlURL(MenuUser, 1918), func(r *http.Request) (*http.Response, error) {
			assert.Equal(t, map[string]any{"value": 60.0}, readBody(t, r))
			return httpmock.NewStringResponse(http.StatusOK, `{"status":"ok"}`), nil
		})

		res, err := c.SetPartyMode(ctx, testUDID, 60)
		require.NoError(t, err)
		assert.JSONEq(t, `{"status":"ok"}`, string(res))
		assert.Equal(t, 1, mt.GetTotalCallCount())
	})
}

func TestValueCommands(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		call    func(c *Client, v int) error
		menu    Menu
		ido     int
		valid   []int
		invalid []int
	}{
		{
			name:    "FanGear",
			call:    func(c *Client, v int) error { _, err := c.SetFanGear(ctx, testUDID, v); return err },
			menu:    MenuUser,
			ido:     1920,
			valid:   []int{0, 3},
			invalid: []int{-1, 4},
		},
		{
			name:    "FilterAlarm",
			call:    func(c *Client, v int) error { _, err := c.SetFilterAlarm(ctx, testUDID, v); return err },
			menu:    MenuInstaller,
			ido:     1921,
			valid:   []int{1, 365},
			invalid: []int{0, 366},
		},
		{
			name:    "CO2Threshold",
			call:    func(c *Client, v int) error { _, err := c.SetCO2Threshold(ctx, testUDID, v); return err },
			menu:    MenuInstaller,
			ido:     1922,
			valid:   []int{400, 2000},
			invalid: []int{399, 2001},
		},
		{
			name:    "Hysteresis",
			call:    func(c *Client, v int) error { _, err := c.SetHysteresis(ctx, testUDID, v); return err },
			menu:    MenuInstaller,
			ido:     1923,
			valid:   []int{5, 10},
			invalid: []int{4, 11},
		},
		{
			name:  "FlowBalancing",
			call:  func(c *Client, v int) error { _, err := c.SetFlowBalancing(ctx, testUDID, v != 0); return err },
			menu:  MenuInstaller,
			ido:   1924,
			valid: []int{0, 1},
		},
		{
			name:    "GearDirect",
			call:    func(c *Client, v int) error { _, err := c.SetGearDirect(ctx, testUDID, v); return err },
			menu:    MenuUser,
			ido:     1919,
			valid:   []int{0, 2},
			invalid: []int{5},
		},
		{
			name: "VentilationRoom",
			call: func(c *Client, v int) error {
				_, err := c.SetVentilationRoomParameter(ctx, testUDID, v)
				return err
			},
			menu:    MenuInstaller,
			ido:     1925,
			valid:   []int{10, 90},
			invalid: []int{9, 91},
		},
		{
			name: "VentilationBathroom",
			call: func(c *Client, v int) error {
				_, err := c.SetVentilationBathroomParameter(ctx, testUDID, v)
				return err
			},
			menu:    MenuInstaller,
			ido:     1926,
			valid:   []int{10, 90},
			invalid: []int{9, 91},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, mt := newMockClient(t, authedOption())
			var got []float64
			mt.RegisterResponder(http.MethodPost, controlURL(tt.menu, tt.ido), func(r *http.Request) (*http.Response, error) {
				got = append(got, readBody(t, r)["value"].(float64))
				return httpmock.NewStringResponse(http.StatusOK, `{}`), nil
			})

			for _, v := range tt.invalid {
				requireStatus(t, tt.call(c, v), http.StatusBadRequest)
			}
			assert.Equal(t, 0, mt.GetTotalCallCount())

			var want []float64
			for _, v := range tt.valid {
				require.NoError(t, tt.call(c, v))
				want = append(want, float64(v))
			}
			assert.Equal(t, want, got)
		})
	}
}

func TestSetConstTemp(t *testing.T) {
	ctx := context.Background()
	c, mt := newMockClient(t, authedOption())
	mt.RegisterResponder(http.MethodGet, testModuleURL, httpmock.NewStringResponder(http.StatusOK,
		payloadJSON(t, []any{techmock.Zone(7, "Office", types.ZoneStateOn, 200, 210)}, nil)))
	mt.RegisterResponder(http.MethodPost, testModuleURL+"/zones", func(r *http.Request) (*http.Response, error) {
		assert.Equal(t, map[string]any{
			"mode": map[string]any{
				"id":             1007.0,
				"parentId":       7.0,
				"mode":           "constantTemp",
				"constTempTime":  60.0,
				"setTemperature": 216.0,
				"scheduleIndex":  0.0,
			},
		}, readBody(t, r))
		return httpmock.NewStringResponse(http.StatusOK, `{"status":"ok"}`), nil
	})

	_, err := c.SetConstTemp(ctx, testUDID, 7, 21.56)
	require.NoError(t, err)

	_, err = c.SetConstTemp(ctx, testUDID, 99, 21)
	assert.ErrorIs(t, err, ErrZoneNotFound)

	_, err = c.SetConstTemp(ctx, testUDID, 7, math.NaN())
	requireStatus(t, err, http.StatusBadRequest)

	info := mt.GetCallCountInfo()
	assert.Equal(t, 1, info["GET "+testModuleURL])
	assert.Equal(t, 1, info["POST "+testModuleURL+"/zones"])
}

func TestSetZone(t *testing.T) {
	c, mt := newMockClient(t, authedOption())
	mt.RegisterResponder(http.MethodPost, testModuleURL+"/zones", func(r *http.Request) (*http.Response, error) {
		assert.Equal(t, map[string]any{
			"zone": map[string]any{"id": 3.0, "zoneState": "zoneOff"},
		}, readBody(t, r))
		return httpmock.NewStringResponse(http.StatusOK, `{"status":"ok"}`), nil
	})

	_, err := c.SetZone(context.Background(), testUDID, 3, false)
	require.NoError(t, err)
	assert.Equal(t, 1, mt.GetTotalCallCount(), "setting a zone does not need the cache")
}

func TestSetRecuperationSpeed(t *testing.T) {
	ctx := context.Background()
	srv := techmock.New()
	defer srv.Close()
	c := New(WithBaseURL(srv.BaseURL()), WithHTTPClient(srv.Client()))
	_, err := c.Authenticate(ctx, "user", "pass")
	require.NoError(t, err)

	t.Run("default flow", func(t *testing.T) {
		_, err := c.SetRecuperationSpeed(ctx, testUDID, 2, nil)
		require.NoError(t, err)
		flow, ok := srv.Control(testUDID, "MI", 1932)
		require.True(t, ok)
		assert.Equal(t, 250, flow)
		speed, ok := srv.Control(testUDID, "MU", 1930)
		require.True(t, ok)
		assert.Equal(t, 2, speed)
	})

	t.Run("configured flow", func(t *testing.T) {
		_, err := c.SetRecuperationSpeed(ctx, testUDID, 3, map[int]int{3: 480})
		require.NoError(t, err)
		flow, _ := srv.Control(testUDID, "MI", 1933)
		assert.Equal(t, 480, flow)
	})

	t.Run("stop skips flow", func(t *testing.T) {
		before := len(srv.Requests())
		_, err := c.SetRecuperationSpeed(ctx, testUDID, 0, nil)
		require.NoError(t, err)
		assert.Len(t, srv.Requests(), before+1)
		speed, _ := srv.Control(testUDID, "MU", 1930)
		assert.Equal(t, 0, speed)
	})

	t.Run("invalid", func(t *testing.T) {
		before := len(srv.Requests())
		_, err := c.SetRecuperationSpeed(ctx, testUDID, 4, nil)
		requireStatus(t, err, http.StatusBadRequest)
		_, err = c.SetRecuperationSpeed(ctx, testUDID, 1, map[int]int{1: 900})
		requireStatus(t, err, http.StatusBadRequest)
		_, err = c.SetRecuperationSpeed(ctx, testUDID, 1, map[int]int{4: 100})
		requireStatus(t, err, http.StatusBadRequest)
		assert.Len(t, srv.Requests(), before)
	})
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	srv := techmock.New()
	defer srv.Close()
	c := New(WithBaseURL(srv.BaseURL()), WithHTTPClient(srv.Client()))
	_, err := c.Authenticate(ctx, "user", "pass")
	require.NoError(t, err)

	_, err = c.Run(ctx, testUDID, CommandCO2Threshold, 900)
	require.NoError(t, err)
	v, ok := srv.Control(testUDID, "MI", 1922)
	require.True(t, ok)
	assert.Equal(t, 900, v)

	_, err = c.Run(ctx, testUDID, CommandResetFilter, 0)
	require.NoError(t, err)
	v, _ = srv.Control(testUDID, "MI", 1929)
	assert.Equal(t, 1, v)

	_, err = c.Run(ctx, testUDID, Command("self_destruct"), 1)
	assert.ErrorIs(t, err, ErrUnknownCommand)

	_, err = c.Run(ctx, testUDID, CommandPartyMode, 5)
	requireStatus(t, err, http.StatusBadRequest)
}

func TestDefaultSpeedFlows(t *testing.T) {
	assert.Equal(t, map[int]int{1: 150, 2: 250, 3: 350}, DefaultSpeedFlows())
}
