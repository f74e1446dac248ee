package api

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lorawan-replay/replay-server/internal/gate"
	"github.com/lorawan-replay/replay-server/internal/models"
	"github.com/lorawan-replay/replay-server/internal/replay"
)

// ========== Decode handlers ==========

// HandleDecodeLog runs the decode pipeline over a stored log
func (s *RESTServer) HandleDecodeLog(w http.ResponseWriter, r *http.Request) {
	if s.gateOperation(w, r, gate.OpDecode) != nil {
		return
	}

	// body is optional; an empty body means the raw built-in
	var req struct {
		Decoder string `json:"decoder"`
		Limit   int    `json:"limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id := chi.URLParam(r, "id")
	entries, err := s.loadEntries(id)
	if err != nil {
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	}
	if req.Limit > 0 && req.Limit < len(entries) {
		entries = entries[:req.Limit]
	}

	records := s.deps.Pipeline.Run(r.Context(), entries, req.Decoder)

	s.deps.Auditor.Record(models.EventDecode, s.actor(r), map[string]any{
		"log_id":  id,
		"decoder": req.Decoder,
		"records": len(records),
	})
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"logId":   id,
		"records": records,
		"total":   len(records),
	})
}

// HandleExportLog exports a decode run as JSON or CSV
func (s *RESTServer) HandleExportLog(w http.ResponseWriter, r *http.Request) {
	if s.gateOperation(w, r, gate.OpDecode) != nil {
		return
	}

	id := chi.URLParam(r, "id")
	entries, err := s.loadEntries(id)
	if err != nil {
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	}

	decoder := r.URL.Query().Get("decoder")
	records := s.deps.Pipeline.Run(r.Context(), entries, decoder)

	switch r.URL.Query().Get("format") {
	case "", "json":
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%s.json", id))
		s.respondJSON(w, http.StatusOK, records)

	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%s.csv", id))

		cw := csv.NewWriter(w)
		cw.Write([]string{"index", "gateway_eui", "timestamp", "dev_addr",
			"fcnt", "fport", "payload_hex", "mic_valid", "error"})
		for _, rec := range records {
			cw.Write([]string{
				strconv.Itoa(rec.Index),
				rec.GatewayEUI,
				strconv.FormatFloat(rec.Timestamp, 'f', -1, 64),
				rec.DevAddr,
				strconv.FormatUint(uint64(rec.FCnt), 10),
				strconv.Itoa(rec.FPort),
				rec.PayloadHex,
				strconv.FormatBool(rec.MICValid),
				rec.Error,
			})
		}
		cw.Flush()

	default:
		s.respondError(w, http.StatusBadRequest, "unsupported format")
	}
}

// ========== Replay handlers ==========

// HandleStartReplay starts a replay job for a stored log
func (s *RESTServer) HandleStartReplay(w http.ResponseWriter, r *http.Request) {
	if s.gateOperation(w, r, gate.OpReplay) != nil {
		return
	}

	var req struct {
		Target  string `json:"target" validate:"required"`
		DelayMs int    `json:"delayMs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := chi.URLParam(r, "id")
	entries, err := s.loadEntries(id)
	if err != nil {
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	}

	job, err := s.deps.Replays.Start(entries, req.Target,
		time.Duration(req.DelayMs)*time.Millisecond)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.deps.Auditor.Record(models.EventReplay, s.actor(r), map[string]any{
		"log_id": id,
		"job_id": job.ID,
		"target": req.Target,
	})
	s.respondJSON(w, http.StatusAccepted, job.Result())
}

// HandleGetReplay returns a replay job's state
func (s *RESTServer) HandleGetReplay(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Replays.Get(chi.URLParam(r, "job_id"))
	if err != nil {
		s.respondError(w, http.StatusNotFound, "replay job not found")
		return
	}
	s.respondJSON(w, http.StatusOK, job.Result())
}

// HandleStopReplay stops a running replay job
func (s *RESTServer) HandleStopReplay(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if err := s.deps.Replays.Stop(jobID); err != nil {
		switch {
		case errors.Is(err, replay.ErrJobNotFound):
			s.respondError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, replay.ErrJobNotRunning):
			s.respondError(w, http.StatusConflict, err.Error())
		default:
			s.respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	job, err := s.deps.Replays.Get(jobID)
	if err != nil {
		s.respondError(w, http.StatusNotFound, "replay job not found")
		return
	}
	s.respondJSON(w, http.StatusOK, job.Result())
}

// HandleResumeReplay resumes a stopped replay job from its cursor
func (s *RESTServer) HandleResumeReplay(w http.ResponseWriter, r *http.Request) {
	if s.gateOperation(w, r, gate.OpReplay) != nil {
		return
	}

	jobID := chi.URLParam(r, "job_id")
	if err := s.deps.Replays.Resume(jobID); err != nil {
		switch {
		case errors.Is(err, replay.ErrJobNotFound):
			s.respondError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, replay.ErrJobNotResumable):
			s.respondError(w, http.StatusConflict, err.Error())
		default:
			s.respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	job, err := s.deps.Replays.Get(jobID)
	if err != nil {
		s.respondError(w, http.StatusNotFound, "replay job not found")
		return
	}
	s.respondJSON(w, http.StatusOK, job.Result())
}
