package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/oikomaticz/oikomaticz-core/internal/audit"
	"github.com/oikomaticz/oikomaticz-core/internal/device"
	"github.com/oikomaticz/oikomaticz-core/internal/rx"
)

// defaultHistoryWindow is used when /history gets no since parameter.
const defaultHistoryWindow = 24 * time.Hour

// deviceView adds display fields to a device.
type deviceView struct {
	*device.Device
	TypeName string `json:"type_name"`
}

func viewOf(d *device.Device) deviceView {
	return deviceView{Device: d, TypeName: d.Type.String()}
}

type updateDeviceRequest struct {
	Name       *string            `json:"name,omitempty"`
	Used       *bool              `json:"used,omitempty"`
	Protected  *bool              `json:"protected,omitempty"`
	SwitchType *device.SwitchType `json:"switch_type,omitempty"`
	Options    map[string]string  `json:"options,omitempty"`
}

// commandRequest carries either a switch command or a setpoint.
type commandRequest struct {
	SwitchCmd string   `json:"switchcmd,omitempty"`
	Level     *int     `json:"level,omitempty"`
	Setpoint  *float64 `json:"setpoint,omitempty"`
}

type valueRequest struct {
	NValue int    `json:"nvalue"`
	SValue string `json:"svalue"`
}

// parseIdx reads the {idx} URL parameter.
func parseIdx(w http.ResponseWriter, r *http.Request) (int64, bool) {
	idx, err := strconv.ParseInt(chi.URLParam(r, "idx"), 10, 64)
	if err != nil || idx <= 0 {
		writeBadRequest(w, "idx must be a positive integer")
		return 0, false
	}
	return idx, true
}

// handleListDevices returns devices, optionally filtered by hardware,
// type and used flag.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter device.Filter

	if v := q.Get("hardware"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, "hardware must be an integer")
			return
		}
		filter.HardwareID = id
	}
	if v := q.Get("type"); v != "" {
		t, err := strconv.ParseUint(v, 0, 8)
		if err != nil {
			writeBadRequest(w, "type must be a device type code")
			return
		}
		filter.Type = device.Type(t)
	}
	filter.UsedOnly = q.Get("used") == "true"

	devices := s.devices.List(r.Context(), filter)
	views := make([]deviceView, len(devices))
	for i := range devices {
		views[i] = viewOf(&devices[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": views,
		"count":   len(views),
	})
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	idx, ok := parseIdx(w, r)
	if !ok {
		return
	}
	d, err := s.devices.Get(r.Context(), idx)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(d))
}

// handleUpdateDevice patches the user-editable device fields.
func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	idx, ok := parseIdx(w, r)
	if !ok {
		return
	}
	var req updateDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	d, err := s.devices.Get(r.Context(), idx)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if req.Name != nil {
		d.Name = *req.Name
	}
	if req.Used != nil {
		d.Used = *req.Used
	}
	if req.Protected != nil {
		d.Protected = *req.Protected
	}
	if req.SwitchType != nil {
		d.SwitchType = *req.SwitchType
	}
	if req.Options != nil {
		d.Options = req.Options
	}

	if err := s.devices.Update(r.Context(), d); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.record(r, audit.ActionUpdate, audit.EntityDevice, strconv.FormatInt(idx, 10), map[string]any{
		"name": d.Name, "used": d.Used, "protected": d.Protected,
	})
	writeJSON(w, http.StatusOK, viewOf(d))
}

// handleDeviceCommand sends a switch command or setpoint to the device's
// hardware.
func (s *Server) handleDeviceCommand(w http.ResponseWriter, r *http.Request) {
	idx, ok := parseIdx(w, r)
	if !ok {
		return
	}
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	cmd, err := req.command()
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if cmd.Kind == "" {
		writeBadRequest(w, "switchcmd or setpoint is required")
		return
	}

	if err := s.worker.SendCommand(r.Context(), idx, cmd); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "ok",
		"idx":    idx,
	})
}

// command converts the request. A zero Kind means nothing was requested.
func (req commandRequest) command() (rx.Command, error) {
	switch {
	case req.SwitchCmd != "":
		action, err := rx.ParseSwitchAction(req.SwitchCmd)
		if err != nil {
			return rx.Command{}, err
		}
		cmd := rx.Command{Kind: rx.CommandSwitch, Action: action}
		if action == rx.ActionSetLevel {
			if req.Level == nil {
				return rx.Command{}, rx.ErrUnsupportedCommand
			}
			cmd.Level = *req.Level
		}
		return cmd, nil
	case req.Setpoint != nil:
		return rx.Command{Kind: rx.CommandSetpoint, Setpoint: *req.Setpoint}, nil
	default:
		return rx.Command{}, nil
	}
}

// handleSetDeviceValue stores a value directly, like a virtual sensor
// update.
func (s *Server) handleSetDeviceValue(w http.ResponseWriter, r *http.Request) {
	idx, ok := parseIdx(w, r)
	if !ok {
		return
	}
	var req valueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if _, err := s.devices.Get(r.Context(), idx); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if err := s.worker.UpdateDevice(idx, req.NValue, req.SValue); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "queued",
		"idx":    idx,
	})
}

// handleDeviceHistory returns samples in [since, until). Times are RFC 3339.
func (s *Server) handleDeviceHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "history is not enabled")
		return
	}
	idx, ok := parseIdx(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	now := time.Now()
	since := now.Add(-defaultHistoryWindow)
	var until time.Time

	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, "since must be RFC 3339")
			return
		}
		since = t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, "until must be RFC 3339")
			return
		}
		until = t
	}
	limit, _ := strconv.Atoi(q.Get("limit")) //nolint:errcheck // Invalid means default

	if _, err := s.devices.Get(r.Context(), idx); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	samples, err := s.history.Range(r.Context(), idx, since, until, limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if samples == nil {
		samples = []device.Sample{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"idx":     idx,
		"samples": samples,
		"count":   len(samples),
	})
}
