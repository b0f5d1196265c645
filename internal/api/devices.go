package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-hap/internal/device"
)

// deviceView is a registered device with its mapping state.
type deviceView struct {
	device.Snapshot
	Mapping      *device.MappingInfo `json:"mapping,omitempty"`
	Accessorized bool                `json:"accessorized"`
	Unmappable   bool                `json:"unmappable"`
	Errors       map[string]int      `json:"errors,omitempty"`
}

// capabilityResponse is the body of GET .../capabilities/{capability}.
type capabilityResponse struct {
	DeviceID   string `json:"device_id"`
	Capability string `json:"capability"`
	Value      any    `json:"value"`
}

// handleListDevices returns every registered device.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	unmappable := make(map[string]struct{})
	for _, id := range s.bridge.Engine().Unmappable() {
		unmappable[id] = struct{}{}
	}

	snapshots := s.bridge.Registry().Snapshots()
	views := make([]deviceView, 0, len(snapshots))
	for _, snap := range snapshots {
		_, failed := unmappable[snap.ID]
		views = append(views, s.deviceView(snap, failed))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": views,
		"count":   len(views),
	})
}

// handleGetDevice returns one registered device.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, ok := s.bridge.Registry().Snapshot(id)
	if !ok {
		writeNotFound(w, "device "+id+" not found")
		return
	}
	failed := false
	for _, u := range s.bridge.Engine().Unmappable() {
		if u == id {
			failed = true
			break
		}
	}
	writeJSON(w, http.StatusOK, s.deviceView(snap, failed))
}

// handleDeviceDiagnostics returns the diagnostics of one mapped device.
func (s *Server) handleDeviceDiagnostics(w http.ResponseWriter, r *http.Request) {
	md, err := s.bridge.Engine().Device(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, md.Diagnostics())
}

// handleGetCapability reads a capability through the State Manager.
func (s *Server) handleGetCapability(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	capability := chi.URLParam(r, "capability")
	md, err := s.bridge.Engine().Device(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !md.Descriptor().HasCapability(capability) {
		writeNotFound(w, "capability "+capability+" not declared by "+id)
		return
	}
	v, ok := md.State().GetState(r.Context(), capability)
	if !ok {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "capability "+capability+" unavailable")
		return
	}
	writeJSON(w, http.StatusOK, capabilityResponse{DeviceID: id, Capability: capability, Value: v})
}

// handleForgetMapping drops the mapping of a device and any unmappable
// verdict, so the next announcement maps it from scratch.
func (s *Server) handleForgetMapping(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.bridge.Engine().ForgetDevice(id) {
		writeNotFound(w, "device "+id+" has no mapping")
		return
	}
	if err := s.bridge.Registry().ClearMapping(r.Context(), id); err != nil {
		s.logger.Warn("failed to clear stored mapping", "device_id", id, "error", err)
	}
	s.logger.Info("mapping forgotten via API", "device_id", id)
	writeJSON(w, http.StatusOK, map[string]string{"device_id": id, "status": "forgotten"})
}

// handleRemap maps a known device again.
func (s *Server) handleRemap(w http.ResponseWriter, r *http.Request) {
	md, err := s.bridge.Remap(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, md.Diagnostics())
}

// handleDiagnostics returns engine-wide diagnostics.
func (s *Server) handleDiagnostics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.bridge.Engine().Diagnostics())
}

func (s *Server) deviceView(snap device.Snapshot, unmappable bool) deviceView {
	v := deviceView{Snapshot: snap, Unmappable: unmappable}
	if info, ok := s.bridge.Registry().Mapping(snap.ID); ok {
		v.Mapping = &info
	}
	if md, err := s.bridge.Engine().Device(snap.ID); err == nil {
		v.Accessorized = md.Accessory() != nil
	}
	if errs := s.bridge.Registry().Errors(snap.ID); len(errs) > 0 {
		v.Errors = errs
	}
	return v
}
