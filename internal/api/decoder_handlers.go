package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lorawan-replay/replay-server/internal/gate"
	"github.com/lorawan-replay/replay-server/internal/models"
	"github.com/lorawan-replay/replay-server/internal/sandbox"
	"github.com/lorawan-replay/replay-server/internal/storage"
)

const maxDecoderScriptBytes = 256 << 10

// ========== Decoder handlers ==========

// HandleListDecoders lists registered decoders plus the built-in
func (s *RESTServer) HandleListDecoders(w http.ResponseWriter, r *http.Request) {
	decoders, err := s.deps.Store.ListDecoders(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := []map[string]interface{}{
		{"name": sandbox.BuiltinRaw, "source": string(models.DecoderBuiltin)},
	}
	for _, decoder := range decoders {
		out = append(out, map[string]interface{}{
			"id":        decoder.ID,
			"name":      decoder.Name,
			"source":    string(decoder.Source),
			"createdAt": decoder.CreatedAt,
			"updatedAt": decoder.UpdatedAt,
		})
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"decoders": out,
		"total":    len(out),
	})
}

// HandleCreateDecoder registers an uploaded JavaScript decoder
func (s *RESTServer) HandleCreateDecoder(w http.ResponseWriter, r *http.Request) {
	if s.gateOperation(w, r, gate.OpDecoderUpload) != nil {
		return
	}

	var req struct {
		Name   string `json:"name" validate:"required,min=1,max=64"`
		Script string `json:"script" validate:"required"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Script) > maxDecoderScriptBytes {
		s.respondError(w, http.StatusBadRequest, "script too large")
		return
	}
	if req.Name == sandbox.BuiltinRaw {
		s.respondError(w, http.StatusConflict, "name is reserved")
		return
	}

	decoder := &models.Decoder{
		Name:   req.Name,
		Source: models.DecoderUpload,
		Script: req.Script,
	}
	if err := s.deps.Store.CreateDecoder(r.Context(), decoder); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			s.respondError(w, http.StatusConflict, "decoder already exists")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.deps.Auditor.Record(models.EventDecoderUpload, s.actor(r), map[string]any{
		"name": decoder.Name,
		"size": len(decoder.Script),
	})
	s.respondJSON(w, http.StatusCreated, decoder)
}

// HandleGetDecoder returns one decoder including its script
func (s *RESTServer) HandleGetDecoder(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == sandbox.BuiltinRaw {
		s.respondJSON(w, http.StatusOK, map[string]interface{}{
			"name":   sandbox.BuiltinRaw,
			"source": string(models.DecoderBuiltin),
		})
		return
	}

	decoder, err := s.deps.Store.GetDecoder(r.Context(), name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "decoder not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, decoder)
}

// HandleDeleteDecoder removes an uploaded decoder
func (s *RESTServer) HandleDeleteDecoder(w http.ResponseWriter, r *http.Request) {
	if s.gateOperation(w, r, gate.OpDecoderUpload) != nil {
		return
	}

	name := chi.URLParam(r, "name")
	if name == sandbox.BuiltinRaw {
		s.respondError(w, http.StatusBadRequest, "built-in decoders cannot be deleted")
		return
	}

	if err := s.deps.Store.DeleteDecoder(r.Context(), name); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "decoder not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
