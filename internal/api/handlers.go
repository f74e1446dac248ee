package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// ========== Health ==========

// HandleHealth reports liveness
func (s *RESTServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"name":    s.config.Server.Name,
		"version": s.config.Server.Version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// ========== Auth handlers ==========

// HandleLogin handles user login
func (s *RESTServer) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := s.deps.Store.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		s.respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	if !s.auth.VerifyPassword(req.Password, user.PasswordHash) {
		s.respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	if !user.IsActive {
		s.respondError(w, http.StatusForbidden, "account is disabled")
		return
	}

	accessToken, refreshToken, err := s.auth.GenerateTokenPair(user)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to generate tokens")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"expires_in":    int(s.config.JWT.AccessTokenTTL.Seconds()),
		"token_type":    "Bearer",
	})
}

// HandleRefresh handles token refresh
func (s *RESTServer) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token" validate:"required"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	accessToken, refreshToken, err := s.auth.RefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		s.respondError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"expires_in":    int(s.config.JWT.AccessTokenTTL.Seconds()),
		"token_type":    "Bearer",
	})
}

// ========== Response helpers ==========

// respondJSON responds with JSON
func (s *RESTServer) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}

// respondError responds with error
func (s *RESTServer) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{
		"error": message,
	})
}
