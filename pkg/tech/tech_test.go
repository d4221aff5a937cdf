package tech

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/techbridge/techbridge/pkg/tech/techmock"
	"github.com/techbridge/techbridge/pkg/types"
)

const (
	testBaseURL = "https://emodul.test/api/v1/"
	testUDID    = "abc123"
)

// newMockClient returns a client whose requests go to an httpmock transport.
// Requests without a registered responder answer 500 and are still counted.
func newMockClient(t *testing.T, opts ...Option) (*Client, *httpmock.MockTransport) {
	t.Helper()
	mt := httpmock.NewMockTransport()
	mt.RegisterNoResponder(httpmock.NewStringResponder(http.StatusInternalServerError, "no responder"))
	opts = append([]Option{
		WithBaseURL(testBaseURL),
		WithHTTPClient(&http.Client{Transport: mt}),
	}, opts...)
	return New(opts...), mt
}

func authedOption() Option {
	return WithSession(types.Session{UserID: "1", Token: "tok"})
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		srv := techmock.New()
		defer srv.Close()

		c := New(WithBaseURL(srv.BaseURL()), WithHTTPClient(srv.Client()))
		assert.False(t, c.Authenticated())

		ok, err := c.Authenticate(ctx, "user", "pass")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.True(t, c.Authenticated())
		assert.Equal(t, types.Session{UserID: "1234", Token: "token-1234"}, c.Session())

		reqs := srv.Requests()
		require.Len(t, reqs, 1)
		assert.Equal(t, "/authentication", reqs[0].Path)
		assert.JSONEq(t, `{"username":"user","password":"pass"}`, string(reqs[0].Body))
	})

	t.Run("wrong password", func(t *testing.T) {
		srv := techmock.New()
		defer srv.Close()

		c := New(WithBaseURL(srv.BaseURL()), WithHTTPClient(srv.Client()), authedOption())
		ok, err := c.Authenticate(ctx, "user", "nope")
		require.Error(t, err)
		assert.False(t, ok)

		var le *LoginError
		require.True(t, errors.As(err, &le))
		assert.Equal(t, http.StatusUnauthorized, le.StatusCode)
		assert.Equal(t, "Unauthorized", le.Status)
		assert.True(t, IsUnauthorized(err))

		var ae *APIError
		require.True(t, errors.As(err, &ae), "login error should unwrap to the transport error")
		assert.Equal(t, http.StatusUnauthorized, ae.StatusCode)

		// the previous session is kept when the exchange itself fails
		assert.True(t, c.Authenticated())
	})

	t.Run("transport error is login error", func(t *testing.T) {
		c, mt := newMockClient(t)
		mt.RegisterResponder(http.MethodPost, testBaseURL+"authentication",
			httpmock.NewStringResponder(http.StatusForbidden, "Forbidden"))

		ok, err := c.Authenticate(ctx, "user", "pass")
		assert.False(t, ok)
		var le *LoginError
		require.True(t, errors.As(err, &le))
		assert.Equal(t, http.StatusUnauthorized, le.StatusCode)
		assert.Equal(t, http.StatusUnauthorized, StatusCode(err))
	})

	t.Run("not authenticated", func(t *testing.T) {
		c, mt := newMockClient(t, authedOption())
		mt.RegisterResponder(http.MethodPost, testBaseURL+"authentication",
			httpmock.NewStringResponder(http.StatusOK, `{"authenticated":false}`))

		ok, err := c.Authenticate(ctx, "user", "pass")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.False(t, c.Authenticated())
		assert.Equal(t, types.Session{}, c.Session())
	})

	t.Run("string user id", func(t *testing.T) {
		c, mt := newMockClient(t)
		mt.RegisterResponder(http.MethodPost, testBaseURL+"authentication",
			httpmock.NewStringResponder(http.StatusOK, `{"authenticated":true,"user_id":"u-9","token":"t"}`))

		ok, err := c.Authenticate(ctx, "user", "pass")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "u-9", c.Session().UserID)
	})

	t.Run("missing token", func(t *testing.T) {
		c, mt := newMockClient(t)
		mt.RegisterResponder(http.MethodPost, testBaseURL+"authentication",
			httpmock.NewStringResponder(http.StatusOK, `{"authenticated":true,"user_id":5}`))

		ok, err := c.Authenticate(ctx, "user", "pass")
		require.NoError(t, err)
		assert.False(t, ok, "a session without a token is never valid")
		assert.False(t, c.Authenticated())
	})
}

func TestRestore(t *testing.T) {
	c := New()
	assert.False(t, c.Restore(types.Session{UserID: "1"}))
	assert.False(t, c.Authenticated())

	assert.True(t, c.Restore(types.Session{UserID: "1", Token: "t"}))
	assert.True(t, c.Authenticated())
	assert.Equal(t, "t", c.Session().Token)
}

func TestAuthGate(t *testing.T) {
	ctx := context.Background()
	c, mt := newMockClient(t)

	calls := map[string]func() error{
		"ListModules": func() error { _, err := c.ListModules(ctx); return err },
		"ModuleData":  func() error { _, err := c.ModuleData(ctx, testUDID); return err },
		"Translations": func() error {
			_, err := c.Translations(ctx, "en")
			return err
		},
		"ReadControl": func() error { _, err := c.ReadControl(ctx, testUDID, MenuUser, 1918); return err },
		"Refresh":     func() error { _, err := c.Refresh(ctx, testUDID); return err },
		"Update":      func() error { _, err := c.Update(ctx, testUDID); return err },
		"Zones":       func() error { _, err := c.Zones(ctx, testUDID); return err },
		"Tiles":       func() error { _, err := c.Tiles(ctx, testUDID); return err },
		"Zone":        func() error { _, err := c.Zone(ctx, testUDID, 1); return err },
		"Tile":        func() error { _, err := c.Tile(ctx, testUDID, 1); return err },
		"SetZone":     func() error { _, err := c.SetZone(ctx, testUDID, 1, true); return err },
		"SetConstTemp": func() error {
			_, err := c.SetConstTemp(ctx, testUDID, 1, 21)
			return err
		},
		"SetFanGear":   func() error { _, err := c.SetFanGear(ctx, testUDID, 1); return err },
		"SetPartyMode": func() error { _, err := c.SetPartyMode(ctx, testUDID, 60); return err },
		// out of range values still fail with 401 first
		"SetPartyMode Invalid": func() error { _, err := c.SetPartyMode(ctx, testUDID, 1); return err },
		"SetFilterAlarm":       func() error { _, err := c.SetFilterAlarm(ctx, testUDID, 90); return err },
		"SetCO2Threshold":      func() error { _, err := c.SetCO2Threshold(ctx, testUDID, 800); return err },
		"SetHysteresis":        func() error { _, err := c.SetHysteresis(ctx, testUDID, 5); return err },
		"SetFlowBalancing":     func() error { _, err := c.SetFlowBalancing(ctx, testUDID, true); return err },
		"SetGearDirect":        func() error { _, err := c.SetGearDirect(ctx, testUDID, 2); return err },
		"SetVentilationRoomParameter": func() error {
			_, err := c.SetVentilationRoomParameter(ctx, testUDID, 50)
			return err
		},
		"SetVentilationBathroomParameter": func() error {
			_, err := c.SetVentilationBathroomParameter(ctx, testUDID, 50)
			return err
		},
		"SetRecuperationSpeed": func() error {
			_, err := c.SetRecuperationSpeed(ctx, testUDID, 2, nil)
			return err
		},
		"ResetFilter": func() error { _, err := c.ResetFilter(ctx, testUDID); return err },
	}

	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			err := call()
			var ae *APIError
			require.True(t, errors.As(err, &ae), "expected an APIError, got %v", err)
			assert.Equal(t, http.StatusUnauthorized, ae.StatusCode)
			assert.Equal(t, "Unauthorized", ae.Status)
			assert.True(t, IsUnauthorized(err))
		})
	}
	assert.Equal(t, 0, mt.GetTotalCallCount(), "no request may be sent without a session")
}

func TestTransport(t *testing.T) {
	ctx := context.Background()

	t.Run("headers", func(t *testing.T) {
		c, mt := newMockClient(t, authedOption())
		mt.RegisterResponder(http.MethodGet, testBaseURL+"users/1/modules", func(r *http.Request) (*http.Response, error) {
			assert.Equal(t, "application/json", r.Header.Get("Accept"))
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			return httpmock.NewStringResponse(http.StatusOK, `[{"id":7,"udid":"abc123","name":"L-8","version":"1.0"}]`), nil
		})

		modules, err := c.ListModules(ctx)
		require.NoError(t, err)
		require.Len(t, modules, 1)
		assert.Equal(t, types.Module{ID: 7, UDID: "abc123", Name: "L-8", Version: "1.0"}, modules[0])
	})

	t.Run("no bearer on login", func(t *testing.T) {
		c, mt := newMockClient(t, authedOption())
		mt.RegisterResponder(http.MethodPost, testBaseURL+"authentication", func(r *http.Request) (*http.Response, error) {
			assert.Empty(t, r.Header.Get("Authorization"))
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			return httpmock.NewStringResponse(http.StatusOK, `{"authenticated":true,"user_id":1,"token":"new"}`), nil
		})
		ok, err := c.Authenticate(ctx, "u", "p")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "new", c.Session().Token)
	})

	t.Run("error carries raw body", func(t *testing.T) {
		c, mt := newMockClient(t, authedOption())
		mt.RegisterResponder(http.MethodGet, testBaseURL+"users/1/modules",
			httpmock.NewStringResponder(http.StatusForbidden, `{"error":"forbidden"}`))

		_, err := c.ListModules(ctx)
		var ae *APIError
		require.True(t, errors.As(err, &ae))
		assert.Equal(t, http.StatusForbidden, ae.StatusCode)
		assert.Equal(t, `{"error":"forbidden"}`, ae.Status)
		assert.False(t, IsUnauthorized(err))
		assert.Equal(t, 1, mt.GetTotalCallCount(), "errors are never retried")
	})

	t.Run("invalid json", func(t *testing.T) {
		c, mt := newMockClient(t, authedOption())
		mt.RegisterResponder(http.MethodGet, testBaseURL+"users/1/modules",
			httpmock.NewStringResponder(http.StatusOK, `not json`))

		_, err := c.ListModules(ctx)
		require.Error(t, err)
		assert.Equal(t, 0, StatusCode(err))
	})
}

func TestRejectedToken(t *testing.T) {
	ctx := context.Background()

	c, mt := newMockClient(t, authedOption())
	mt.RegisterResponder(http.MethodGet, testBaseURL+"users/1/modules",
		httpmock.NewStringResponder(http.StatusUnauthorized, `{"error":"expired"}`))
	_, err := c.ListModules(ctx)
	token, ok := RejectedToken(fmt.Errorf("wrapped: %w", err))
	assert.True(t, ok)
	assert.Equal(t, "tok", token)

	// refused locally, no session was held
	_, err = New(WithBaseURL(testBaseURL)).ListModules(ctx)
	token, ok = RejectedToken(err)
	assert.True(t, ok)
	assert.Empty(t, token)

	_, ok = RejectedToken(&APIError{StatusCode: http.StatusForbidden})
	assert.False(t, ok)
	_, ok = RejectedToken(&LoginError{StatusCode: http.StatusUnauthorized})
	assert.False(t, ok)
	_, ok = RejectedToken(nil)
	assert.False(t, ok)
}

func TestTranslations(t *testing.T) {
	ctx := context.Background()

	t.Run("fallback", func(t *testing.T) {
		c, mt := newMockClient(t, authedOption())
		mt.RegisterResponder(http.MethodGet, testBaseURL+"i18n/en",
			httpmock.NewStringResponder(http.StatusOK, `{"status":"success","data":{"117":"Fuel level","x":"skipped"}}`))

		tr, err := c.Translations(ctx, "xx")
		require.NoError(t, err)
		assert.Equal(t, types.Translations{117: "Fuel level"}, tr)
		assert.Equal(t, 1, mt.GetCallCountInfo()["GET "+testBaseURL+"i18n/en"])
	})

	t.Run("supported", func(t *testing.T) {
		c, mt := newMockClient(t, authedOption())
		mt.RegisterResponder(http.MethodGet, testBaseURL+"i18n/pl",
			httpmock.NewStringResponder(http.StatusOK, `{"status":"success","data":{"1":"Temperatura"}}`))

		tr, err := c.Translations(ctx, "pl")
		require.NoError(t, err)
		assert.Equal(t, "Temperatura", tr[1])
	})
}

func TestReadControl(t *testing.T) {
	c, mt := newMockClient(t, authedOption())
	mt.RegisterResponder(http.MethodGet, testBaseURL+"users/1/modules/abc123/menu/MI/ido/1922",
		httpmock.NewStringResponder(http.StatusOK, `{"value":850}`))

	v, err := c.ReadControl(context.Background(), testUDID, MenuInstaller, 1922)
	require.NoError(t, err)
	assert.Equal(t, 850.0, v)
}

func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	srv := techmock.New()
	defer srv.Close()
	srv.AddModule(
		types.Module{ID: 1, UDID: testUDID, Name: "L-X"},
		[]any{
			techmock.Zone(101, "Living room", types.ZoneStateOff, 205, 210),
		},
		[]any{
			techmock.Tile(1, types.TileTypeTemperature, true, map[string]any{"value": 215}),
			techmock.Tile(2, types.TileTypeFan, false, nil),
		},
	)

	c := New(WithBaseURL(srv.BaseURL()), WithHTTPClient(srv.Client()))
	ok, err := c.Authenticate(ctx, "user", "pass")
	require.NoError(t, err)
	require.True(t, ok)

	tiles, err := c.Tiles(ctx, testUDID)
	require.NoError(t, err)
	assert.Len(t, tiles, 1)
	assert.Contains(t, tiles, 1)
	assert.Equal(t, 1, srv.Count(http.MethodGet, srv.ModulePath(testUDID)))

	res, err := c.SetZone(ctx, testUDID, 101, true)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok"}`, string(res))

	reqs := srv.Requests()
	last := reqs[len(reqs)-1]
	assert.Equal(t, http.MethodPost, last.Method)
	assert.Equal(t, srv.ModulePath(testUDID)+"/zones", last.Path)
	assert.JSONEq(t, `{"zone":{"id":101,"zoneState":"zoneOn"}}`, string(last.Body))

	// the write is not reflected locally until the next fetch
	z, err := c.Zone(ctx, testUDID, 101)
	require.NoError(t, err)
	assert.False(t, z.On())
	d, err := c.Update(ctx, testUDID)
	require.NoError(t, err)
	assert.True(t, d.Zones[101].On())
}

func readBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	b, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	return m
}
