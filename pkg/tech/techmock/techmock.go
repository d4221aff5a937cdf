// Package techmock runs an in-process fake of the eModul API. It keeps the
// state of each module so writes are visible on the next read, and records
// every request it serves.
package techmock

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"github.com/techbridge/techbridge/pkg/types"
)

// Request is a request served by the fake.
type Request struct {
	Method string
	Path   string
	Body   []byte
}

type module struct {
	info  types.Module
	zones []any
	tiles []any
}

// Server is a fake eModul API.
type Server struct {
	*httptest.Server

	Username string
	Password string
	UserID   int
	Token    string

	mu           sync.Mutex
	modules      map[string]*module
	order        []string
	controls     map[string]int
	translations map[string]map[string]string
	requests     []Request
	fail         map[string]int
}

// New starts a fake with one account (user "user", password "pass") and no
// modules. Close it when done.
func New() *Server {
	s := &Server{
		Username:     "user",
		Password:     "pass",
		UserID:       1234,
		Token:        "token-1234",
		modules:      map[string]*module{},
		controls:     map[string]int{},
		translations: map[string]map[string]string{"en": {}},
		fail:         map[string]int{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /authentication", s.handleLogin)
	mux.HandleFunc("GET /users/{uid}/modules", s.authed(s.handleModules))
	mux.HandleFunc("GET /users/{uid}/modules/{udid}", s.authed(s.handleModule))
	mux.HandleFunc("POST /users/{uid}/modules/{udid}/zones", s.authed(s.handleZones))
	mux.HandleFunc("GET /users/{uid}/modules/{udid}/menu/{menu}/ido/{ido}", s.authed(s.handleReadControl))
	mux.HandleFunc("POST /users/{uid}/modules/{udid}/menu/{menu}/ido/{ido}", s.authed(s.handleWriteControl))
	mux.HandleFunc("GET /i18n/{lang}", s.authed(s.handleTranslations))

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(strings.NewReader(string(body)))

		s.mu.Lock()
		s.requests = append(s.requests, Request{Method: r.Method, Path: r.URL.Path, Body: body})
		status := s.fail[r.URL.Path]
		s.mu.Unlock()

		if status != 0 {
			http.Error(w, http.StatusText(status), status)
			return
		}
		mux.ServeHTTP(w, r)
	}))
	return s
}

// SetToken replaces the token handed out on login. Sessions holding the old
// token are rejected from then on.
func (s *Server) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Token = token
}

// BaseURL returns the URL to configure the client with.
func (s *Server) BaseURL() string {
	return s.URL + "/"
}

// AddModule registers a module. zones are zone elements and tiles are tile
// objects as the API returns them, see Zone and Tile.
func (s *Server) AddModule(info types.Module, zones []any, tiles []any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.modules[info.UDID]; !ok {
		s.order = append(s.order, info.UDID)
	}
	s.modules[info.UDID] = &module{info: info, zones: zones, tiles: tiles}
}

// SetModuleData replaces the zones and tiles of an existing module.
func (s *Server) SetModuleData(udid string, zones []any, tiles []any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.modules[udid]
	if !ok {
		m = &module{info: types.Module{UDID: udid}}
		s.modules[udid] = m
		s.order = append(s.order, udid)
	}
	m.zones = zones
	m.tiles = tiles
}

// SetTranslations sets the text table served for lang.
func (s *Server) SetTranslations(lang string, data map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.translations[lang] = data
}

// Fail makes every request to path answer with status until cleared with a
// status of 0.
func (s *Server) Fail(path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		delete(s.fail, path)
		return
	}
	s.fail[path] = status
}

// Control returns the last value written to a control point.
func (s *Server) Control(udid, menu string, ido int) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.controls[controlKey(udid, menu, strconv.Itoa(ido))]
	return v, ok
}

// Requests returns a copy of the requests served so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Count returns how many requests matched method and path.
func (s *Server) Count(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, r := range s.requests {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

// ModulePath returns the path of a module for the fake's user.
func (s *Server) ModulePath(udid string) string {
	return "/users/" + strconv.Itoa(s.UserID) + "/modules/" + udid
}

func controlKey(udid, menu, ido string) string {
	return udid + "/" + menu + "/" + ido
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) authed(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		token := s.Token
		s.mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer "+token {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if uid := r.PathValue("uid"); uid != "" && uid != strconv.Itoa(s.UserID) {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		h(w, r)
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Username != s.Username || req.Password != s.Password {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	s.mu.Lock()
	token := s.Token
	s.mu.Unlock()
	writeJSON(w, map[string]any{
		"authenticated": true,
		"user_id":       s.UserID,
		"token":         token,
	})
}

func (s *Server) handleModules(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	list := make([]types.Module, 0, len(s.order))
	for _, udid := range s.order {
		list = append(list, s.modules[udid].info)
	}
	s.mu.Unlock()
	writeJSON(w, list)
}

func (s *Server) handleModule(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	m, ok := s.modules[r.PathValue("udid")]
	var payload map[string]any
	if ok {
		payload = map[string]any{
			"zones": map[string]any{"elements": m.zones},
			"tiles": m.tiles,
		}
	}
	// encode under the lock since writes mutate the element maps
	b, err := json.Marshal(payload)
	s.mu.Unlock()
	if !ok {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(b)
}

func (s *Server) handleZones(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Zone *struct {
			ID        int    `json:"id"`
			ZoneState string `json:"zoneState"`
		} `json:"zone"`
		Mode *types.ZoneMode `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.modules[r.PathValue("udid")]
	if !ok {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	var id int
	switch {
	case req.Zone != nil:
		id = req.Zone.ID
	case req.Mode != nil:
		id = req.Mode.ParentID
	default:
		http.Error(w, "zone or mode is required", http.StatusBadRequest)
		return
	}

	for _, el := range m.zones {
		e, ok := el.(map[string]any)
		if !ok {
			continue
		}
		z, ok := e["zone"].(map[string]any)
		if !ok || toInt(z["id"]) != id {
			continue
		}
		if req.Zone != nil {
			z["zoneState"] = req.Zone.ZoneState
		}
		if req.Mode != nil {
			z["setTemperature"] = req.Mode.SetTemperature
			e["mode"] = req.Mode
		}
		writeJSON(w, map[string]any{"status": "ok"})
		return
	}
	http.Error(w, "zone not found", http.StatusBadRequest)
}

func (s *Server) handleReadControl(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	v, ok := s.controls[controlKey(r.PathValue("udid"), r.PathValue("menu"), r.PathValue("ido"))]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{"value": v})
}

func (s *Server) handleWriteControl(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Value *int `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Value == nil {
		http.Error(w, "value is required", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.controls[controlKey(r.PathValue("udid"), r.PathValue("menu"), r.PathValue("ido"))] = *req.Value
	s.mu.Unlock()
	writeJSON(w, map[string]any{"status": "ok", "value": *req.Value})
}

func (s *Server) handleTranslations(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	data, ok := s.translations[r.PathValue("lang")]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]any{"status": "success", "data": data})
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	}
	return -1
}

// Zone returns a zone element as the API returns it. Temperatures are in
// tenths of a degree.
func Zone(id int, name, state string, current, target int) map[string]any {
	return map[string]any{
		"zone": map[string]any{
			"id":                 id,
			"parentId":           0,
			"visibility":         true,
			"currentTemperature": current,
			"setTemperature":     target,
			"humidity":           45,
			"batteryLevel":       80,
			"signalStrength":     3,
			"zoneState":          state,
			"flags":              map[string]any{"relayState": "off"},
		},
		"description": map[string]any{
			"id":        id,
			"name":      name,
			"styleId":   1,
			"styleIcon": "",
		},
		"mode": map[string]any{
			"id":             id + 1000,
			"parentId":       id,
			"mode":           "timeLimit",
			"constTempTime":  0,
			"setTemperature": target,
			"scheduleIndex":  0,
		},
	}
}

// Tile returns a tile object as the API returns it.
func Tile(id, tileType int, visible bool, params map[string]any) map[string]any {
	if params == nil {
		params = map[string]any{}
	}
	return map[string]any{
		"id":         id,
		"parentId":   0,
		"type":       tileType,
		"menuId":     0,
		"visibility": visible,
		"params":     params,
	}
}
