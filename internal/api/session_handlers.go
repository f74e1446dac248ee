package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lorawan-replay/replay-server/internal/gate"
	"github.com/lorawan-replay/replay-server/internal/models"
	"github.com/lorawan-replay/replay-server/internal/storage"
	"github.com/lorawan-replay/replay-server/pkg/lorawan"
)

// ========== Device session handlers ==========

// HandleListSessions lists device sessions. Keys are never echoed
// back; only their presence is reported.
func (s *RESTServer) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.deps.Store.ListSessions(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]map[string]interface{}, 0, len(sessions))
	for _, session := range sessions {
		out = append(out, sessionView(session))
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": out,
		"total":    len(out),
	})
}

// HandlePutSession creates or replaces a device session
func (s *RESTServer) HandlePutSession(w http.ResponseWriter, r *http.Request) {
	if s.gateOperation(w, r, gate.OpKeyChange) != nil {
		return
	}

	var req struct {
		DevAddr string `json:"devAddr" validate:"required,hex=4"`
		Name    string `json:"name" validate:"max=64"`
		NwkSKey string `json:"nwkSKey" validate:"required,hex=16"`
		AppSKey string `json:"appSKey" validate:"required,hex=16"`
		FCnt    uint32 `json:"frameCounter"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	devAddr, err := lorawan.ParseDevAddr(req.DevAddr)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid devAddr")
		return
	}
	nwk, err := lorawan.ParseAES128Key(req.NwkSKey)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid nwkSKey")
		return
	}
	app, err := lorawan.ParseAES128Key(req.AppSKey)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid appSKey")
		return
	}

	session := &models.DeviceSession{
		DevAddr:  devAddr,
		Name:     req.Name,
		NwkSKey:  nwk,
		AppSKey:  app,
		LastFCnt: req.FCnt,
	}
	if err := s.deps.Store.PutSession(r.Context(), session); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.deps.Auditor.Record(models.EventKeyChange, s.actor(r), map[string]any{
		"dev_addr": devAddr.String(),
	})
	s.respondJSON(w, http.StatusCreated, sessionView(session))
}

// HandleGetSession returns one device session
func (s *RESTServer) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	devAddr, err := lorawan.ParseDevAddr(chi.URLParam(r, "dev_addr"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid devAddr")
		return
	}

	session, err := s.deps.Store.GetSession(r.Context(), devAddr)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "session not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, sessionView(session))
}

// HandleDeleteSession deletes a device session
func (s *RESTServer) HandleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if s.gateOperation(w, r, gate.OpKeyChange) != nil {
		return
	}

	devAddr, err := lorawan.ParseDevAddr(chi.URLParam(r, "dev_addr"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid devAddr")
		return
	}

	if err := s.deps.Store.DeleteSession(r.Context(), devAddr); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "session not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.deps.Auditor.Record(models.EventKeyChange, s.actor(r), map[string]any{
		"dev_addr": devAddr.String(),
		"deleted":  true,
	})
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func sessionView(session *models.DeviceSession) map[string]interface{} {
	return map[string]interface{}{
		"devAddr":      session.DevAddr.String(),
		"name":         session.Name,
		"frameCounter": session.LastFCnt,
		"hasKeys":      true,
		"updatedAt":    session.UpdatedAt,
	}
}
