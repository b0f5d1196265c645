package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-hap/internal/hap"
)

// characteristicResponse is the body of characteristic reads and writes.
type characteristicResponse struct {
	AccessoryID    string `json:"accessory_id"`
	IID            uint64 `json:"iid"`
	Characteristic string `json:"characteristic"`
	Value          any    `json:"value"`
}

// setCharacteristicRequest is the body of PUT .../characteristics/{iid}.
type setCharacteristicRequest struct {
	Value any `json:"value"`
}

// handleListAccessories returns every accessorized device.
func (s *Server) handleListAccessories(w http.ResponseWriter, _ *http.Request) {
	accessories := s.bridge.Engine().Accessories()
	writeJSON(w, http.StatusOK, map[string]any{
		"accessories": accessories,
		"count":       len(accessories),
	})
}

// handleGetAccessory returns one accessory graph.
func (s *Server) handleGetAccessory(w http.ResponseWriter, r *http.Request) {
	a, ok := s.accessory(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// handleGetCharacteristic serves a controller read through the read handler.
func (s *Server) handleGetCharacteristic(w http.ResponseWriter, r *http.Request) {
	a, c, ok := s.characteristic(w, r)
	if !ok {
		return
	}
	v, err := c.HandleGet(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, characteristicResponse{
		AccessoryID:    a.ID,
		IID:            c.IID(),
		Characteristic: c.Type.String(),
		Value:          v,
	})
}

// handleSetCharacteristic serves a controller write through the write handler.
func (s *Server) handleSetCharacteristic(w http.ResponseWriter, r *http.Request) {
	a, c, ok := s.characteristic(w, r)
	if !ok {
		return
	}

	var req setCharacteristicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Value == nil {
		writeBadRequest(w, "value is required")
		return
	}

	if err := c.HandleSet(r.Context(), req.Value); err != nil {
		s.logger.Debug("characteristic write rejected",
			"accessory_id", a.ID, "iid", c.IID(), "error", err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, characteristicResponse{
		AccessoryID:    a.ID,
		IID:            c.IID(),
		Characteristic: c.Type.String(),
		Value:          c.Value(),
	})
}

// accessory resolves {id} to an accessorized device, writing the error
// response itself when it cannot.
func (s *Server) accessory(w http.ResponseWriter, r *http.Request) (*hap.Accessory, bool) {
	id := chi.URLParam(r, "id")
	md, err := s.bridge.Engine().Device(id)
	if err != nil {
		writeDomainError(w, err)
		return nil, false
	}
	a := md.Accessory()
	if a == nil {
		writeNotFound(w, "device "+id+" is not accessorized")
		return nil, false
	}
	return a, true
}

// characteristic resolves {id} and {iid}.
func (s *Server) characteristic(w http.ResponseWriter, r *http.Request) (*hap.Accessory, *hap.Characteristic, bool) {
	iid, err := strconv.ParseUint(chi.URLParam(r, "iid"), 10, 64)
	if err != nil {
		writeBadRequest(w, "iid must be a positive integer")
		return nil, nil, false
	}
	a, ok := s.accessory(w, r)
	if !ok {
		return nil, nil, false
	}
	c, ok := a.CharacteristicByIID(iid)
	if !ok {
		writeNotFound(w, "characteristic "+strconv.FormatUint(iid, 10)+" not found")
		return nil, nil, false
	}
	return a, c, true
}
