package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/techbridge/techbridge/pkg/bridge"
	"github.com/techbridge/techbridge/pkg/coordinator"
	"github.com/techbridge/techbridge/pkg/entity"
	"github.com/techbridge/techbridge/pkg/log"
	"github.com/techbridge/techbridge/pkg/tech"
	"github.com/techbridge/techbridge/pkg/types"
)

// maxBodyBytes limits command request bodies.
const maxBodyBytes = 1 << 20

type moduleView struct {
	types.Module
	State      coordinator.State `json:"state"`
	LastUpdate *time.Time        `json:"lastUpdate,omitempty"`
	Error      string            `json:"error,omitempty"`
}

func newModuleView(m *bridge.Module) moduleView {
	v := moduleView{
		Module: m.Info,
		State:  m.Coordinator.State(),
	}
	if d := m.Coordinator.Data(); !d.LastUpdate.IsZero() {
		v.LastUpdate = &d.LastUpdate
	}
	if err := m.Coordinator.Err(); err != nil {
		v.Error = err.Error()
	}
	return v
}

// statusFor maps an error to the HTTP status returned to the caller.
func statusFor(err error) int {
	switch {
	case errors.Is(err, bridge.ErrUnknownModule),
		errors.Is(err, tech.ErrZoneNotFound),
		errors.Is(err, tech.ErrTileNotFound),
		errors.Is(err, tech.ErrUnknownCommand):
		return http.StatusNotFound
	case tech.IsUnauthorized(err), errors.Is(err, coordinator.ErrReauthRequired):
		return http.StatusUnauthorized
	case tech.StatusCode(err) == http.StatusBadRequest:
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled):
		// client went away
		return 499
	default:
		return http.StatusBadGateway
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		log.Ctx(ctx).ErrorContext(ctx, msg, slog.Any("error", err))
	} else {
		log.Ctx(ctx).WarnContext(ctx, msg, slog.Any("error", err))
	}
	writeJSONError(w, err.Error(), code)
}

func (s *Server) handleListModules(w http.ResponseWriter, r *http.Request) {
	modules := s.bridge.Modules()
	views := make([]moduleView, 0, len(modules))
	for _, m := range modules {
		views = append(views, newModuleView(m))
	}
	writeJSON(w, views)
}

// moduleData returns the cached data of a module, fetching it first if it
// is stale.
func (s *Server) moduleData(ctx context.Context, udid string) (types.ModuleData, error) {
	if _, err := s.bridge.Module(udid); err != nil {
		return types.ModuleData{}, err
	}
	c := s.bridge.Client()
	if _, err := c.Refresh(ctx, udid); err != nil {
		return types.ModuleData{}, err
	}
	d, _ := c.Snapshot(udid)
	d.FilterReset = s.bridge.FilterReset(udid)
	return d, nil
}

func (s *Server) handleGetModule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	udid := r.PathValue("udid")
	m, err := s.bridge.Module(udid)
	if err != nil {
		writeError(ctx, w, "unknown module", err)
		return
	}
	d, err := s.moduleData(ctx, udid)
	if err != nil {
		writeError(ctx, w, "failed to get module data", err)
		return
	}
	writeJSON(w, struct {
		Module moduleView       `json:"module"`
		Data   types.ModuleData `json:"data"`
	}{newModuleView(m), d})
}

func (s *Server) handleZones(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	d, err := s.moduleData(ctx, r.PathValue("udid"))
	if err != nil {
		writeError(ctx, w, "failed to get zones", err)
		return
	}
	writeJSON(w, d.Zones)
}

func (s *Server) handleTiles(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	d, err := s.moduleData(ctx, r.PathValue("udid"))
	if err != nil {
		writeError(ctx, w, "failed to get tiles", err)
		return
	}
	writeJSON(w, d.Tiles)
}

func (s *Server) handleEntities(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	d, err := s.moduleData(ctx, r.PathValue("udid"))
	if err != nil {
		writeError(ctx, w, "failed to get entities", err)
		return
	}
	writeJSON(w, entity.Build(s.bridge.Lookup(), d))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	udid := r.PathValue("udid")
	m, err := s.bridge.Module(udid)
	if err != nil {
		writeError(ctx, w, "unknown module", err)
		return
	}
	if err := m.Coordinator.Refresh(ctx); err != nil {
		writeError(ctx, w, "refresh failed", err)
		return
	}
	writeJSON(w, m.Coordinator.Data())
}

type zoneRequest struct {
	On          *bool    `json:"on"`
	Temperature *float64 `json:"temperature"`
}

type commandRequest struct {
	Value *int `json:"value"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, dest any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return errors.New("empty request body")
	}
	return json.Unmarshal(body, dest)
}

func (s *Server) handleZoneCommand(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	udid := r.PathValue("udid")
	if _, err := s.bridge.Module(udid); err != nil {
		writeError(ctx, w, "unknown module", err)
		return
	}
	zoneID, err := strconv.Atoi(r.PathValue("zoneID"))
	if err != nil {
		writeJSONError(w, "invalid zone id", http.StatusBadRequest)
		return
	}
	var req zoneRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSONError(w, "invalid request: "+err.Error(), http.StatusBadRequest)
		return
	}

	var res json.RawMessage
	switch {
	case req.On != nil && req.Temperature == nil:
		res, err = s.bridge.SetZone(ctx, udid, zoneID, *req.On)
	case req.Temperature != nil && req.On == nil:
		res, err = s.bridge.SetConstTemp(ctx, udid, zoneID, *req.Temperature)
	default:
		writeJSONError(w, "exactly one of on or temperature is required", http.StatusBadRequest)
		return
	}
	if err != nil {
		writeError(ctx, w, "zone command failed", err)
		return
	}
	s.afterCommand(ctx, udid, res, w)
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	udid := r.PathValue("udid")
	if _, err := s.bridge.Module(udid); err != nil {
		writeError(ctx, w, "unknown module", err)
		return
	}
	cmd := tech.Command(r.PathValue("command"))
	var req commandRequest
	if err := decodeBody(w, r, &req); err != nil && cmd != tech.CommandResetFilter {
		writeJSONError(w, "invalid request: "+err.Error(), http.StatusBadRequest)
		return
	}
	value := 0
	if req.Value != nil {
		value = *req.Value
	} else if cmd != tech.CommandResetFilter {
		writeJSONError(w, "value is required", http.StatusBadRequest)
		return
	}

	res, err := s.bridge.Command(ctx, udid, cmd, value)
	if err != nil {
		writeError(ctx, w, "command failed", err)
		return
	}
	email, _ := ctx.Value(emailContextKey).(string)
	log.Ctx(ctx).InfoContext(ctx, "command executed", slog.String("command", string(cmd)), slog.Int("value", value), slog.String("by", email))
	s.afterCommand(ctx, udid, res, w)
}

// afterCommand refreshes the module so subscribers see the change and
// returns the vendor response.
func (s *Server) afterCommand(ctx context.Context, udid string, res json.RawMessage, w http.ResponseWriter) {
	if err := s.bridge.Refresh(ctx, udid); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "refresh after command failed", slog.Any("error", err))
	}
	if len(res) == 0 {
		res = json.RawMessage("null")
	}
	writeJSON(w, struct {
		Result json.RawMessage `json:"result"`
	}{res})
}
