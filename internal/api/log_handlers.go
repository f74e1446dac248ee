package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-replay/replay-server/internal/gate"
	"github.com/lorawan-replay/replay-server/internal/loggen"
	"github.com/lorawan-replay/replay-server/internal/logstore"
	"github.com/lorawan-replay/replay-server/internal/models"
	"github.com/lorawan-replay/replay-server/internal/scanner"
	"github.com/lorawan-replay/replay-server/pkg/lorawan"
)

const maxUploadBytes = 64 << 20

// ========== Stored log handlers ==========

// HandleListLogs lists stored logs
func (s *RESTServer) HandleListLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := s.deps.Logs.List()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"logs":  logs,
		"total": len(logs),
	})
}

// HandleUploadLog stores an uploaded traffic log. Accepts multipart
// form data (field "file") or a raw body.
func (s *RESTServer) HandleUploadLog(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	var (
		src  io.Reader = r.Body
		name           = r.URL.Query().Get("name")
	)
	if err := r.ParseMultipartForm(maxUploadBytes); err == nil {
		file, header, ferr := r.FormFile("file")
		if ferr != nil {
			s.respondError(w, http.StatusBadRequest, "missing file field")
			return
		}
		defer file.Close()
		src = file
		if name == "" {
			name = header.Filename
		}
	}

	stored, err := s.deps.Logs.Save(name, src)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().Str("id", stored.ID).Str("name", stored.Name).
		Int64("size", stored.Size).Msg("log uploaded")
	s.respondJSON(w, http.StatusCreated, stored)
}

// HandleGetLog returns stored log metadata
func (s *RESTServer) HandleGetLog(w http.ResponseWriter, r *http.Request) {
	stored, err := s.deps.Logs.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusNotFound, "log not found")
		return
	}
	s.respondJSON(w, http.StatusOK, stored)
}

// HandleDeleteLog deletes a stored log
func (s *RESTServer) HandleDeleteLog(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if path, err := s.deps.Logs.Path(id); err == nil {
		s.deps.Scans.Invalidate(path)
	}
	if err := s.deps.Logs.Delete(id); err != nil {
		s.respondError(w, http.StatusNotFound, "log not found")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// HandleScanLog summarizes a stored log
func (s *RESTServer) HandleScanLog(w http.ResponseWriter, r *http.Request) {
	if s.gateOperation(w, r, gate.OpScan) != nil {
		return
	}

	id := chi.URLParam(r, "id")
	path, err := s.deps.Logs.Path(id)
	if err != nil {
		s.respondError(w, http.StatusNotFound, "log not found")
		return
	}

	if summary, ok := s.deps.Scans.Get(path); ok {
		s.respondJSON(w, http.StatusOK, summary)
		return
	}

	file, err := s.deps.Logs.Open(id)
	if err != nil {
		s.respondError(w, http.StatusNotFound, "log not found")
		return
	}
	defer file.Close()

	summary, err := scanner.Summarize(id, logstore.Parse(file))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.deps.Scans.Put(path, summary)

	s.deps.Auditor.Record(models.EventScan, s.actor(r), map[string]any{
		"log_id":  id,
		"entries": summary.TotalEntries,
	})
	s.respondJSON(w, http.StatusOK, summary)
}

// HandleGenerateLog synthesizes a test log with valid ABP uplinks
func (s *RESTServer) HandleGenerateLog(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name       string `json:"name"`
		GatewayEUI string `json:"gatewayEui" validate:"required,hex=8"`
		Entries    int    `json:"entries"`
		IntervalMs int    `json:"intervalMs"`
		Devices    []struct {
			DevAddr string `json:"devAddr"`
			NwkSKey string `json:"nwkSKey"`
			AppSKey string `json:"appSKey"`
			FPort   uint8  `json:"fPort"`
		} `json:"devices"`
		RegisterSessions bool `json:"registerSessions"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Devices) == 0 {
		s.respondError(w, http.StatusBadRequest, "at least one device is required")
		return
	}
	if req.Entries <= 0 {
		req.Entries = 10
	}
	if req.Entries > 100000 {
		s.respondError(w, http.StatusBadRequest, "too many entries")
		return
	}
	if req.IntervalMs <= 0 {
		req.IntervalMs = 10000
	}

	gatewayEUI, err := lorawan.ParseEUI64(req.GatewayEUI)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid gateway EUI")
		return
	}

	devices := make([]*loggen.Device, 0, len(req.Devices))
	for _, d := range req.Devices {
		devAddr, err := lorawan.ParseDevAddr(d.DevAddr)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid devAddr: "+d.DevAddr)
			return
		}
		nwk, err := lorawan.ParseAES128Key(d.NwkSKey)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid nwkSKey for "+d.DevAddr)
			return
		}
		app, err := lorawan.ParseAES128Key(d.AppSKey)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid appSKey for "+d.DevAddr)
			return
		}
		fPort := d.FPort
		if fPort == 0 {
			fPort = 1
		}
		devices = append(devices, &loggen.Device{
			DevAddr: devAddr, NwkSKey: nwk, AppSKey: app, FPort: fPort,
		})
	}

	var buf bytes.Buffer
	err = loggen.Generate(&buf, loggen.Options{
		GatewayEUI: gatewayEUI,
		Devices:    devices,
		Entries:    req.Entries,
		Interval:   time.Duration(req.IntervalMs) * time.Millisecond,
	})
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if req.RegisterSessions {
		for _, device := range devices {
			err := s.deps.Store.PutSession(r.Context(), &models.DeviceSession{
				DevAddr: device.DevAddr,
				Name:    "generated",
				NwkSKey: device.NwkSKey,
				AppSKey: device.AppSKey,
			})
			if err != nil {
				s.respondError(w, http.StatusInternalServerError, err.Error())
				return
			}
		}
	}

	name := req.Name
	if name == "" {
		name = "generated.jsonl"
	}
	stored, err := s.deps.Logs.Save(name, &buf)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, stored)
}

// loadEntries parses every line of a stored log
func (s *RESTServer) loadEntries(id string) ([]*models.LogEntry, error) {
	file, err := s.deps.Logs.Open(id)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	entries, err := logstore.Parse(file).All()
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, errors.New("log is empty")
	}
	return entries, nil
}
