package api

import (
	"github.com/go-chi/chi/v5"
)

// setupAPIRoutes sets up API v1 routes
func (s *RESTServer) setupAPIRoutes(r chi.Router) {
	// Health check
	r.Get("/health", s.HandleHealth)

	// Auth routes (public)
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.HandleLogin)
		r.Post("/refresh", s.HandleRefresh)
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		// Stored logs
		r.Route("/logs", func(r chi.Router) {
			r.Get("/", s.HandleListLogs)
			r.Post("/", s.HandleUploadLog)
			r.Post("/generate", s.HandleGenerateLog)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.HandleGetLog)
				r.Delete("/", s.HandleDeleteLog)
				r.Get("/scan", s.HandleScanLog)
				r.Post("/decode", s.HandleDecodeLog)
				r.Get("/export", s.HandleExportLog)
				r.Post("/replay", s.HandleStartReplay)
			})
		})

		// Replay jobs
		r.Route("/replays", func(r chi.Router) {
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", s.HandleGetReplay)
				r.Post("/stop", s.HandleStopReplay)
				r.Post("/resume", s.HandleResumeReplay)
			})
		})

		// Device sessions (ABP keys)
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.HandleListSessions)
			r.Post("/", s.HandlePutSession)
			r.Route("/{dev_addr}", func(r chi.Router) {
				r.Get("/", s.HandleGetSession)
				r.Delete("/", s.HandleDeleteSession)
			})
		})

		// Payload decoders
		r.Route("/decoders", func(r chi.Router) {
			r.Get("/", s.HandleListDecoders)
			r.Post("/", s.HandleCreateDecoder)
			r.Route("/{name}", func(r chi.Router) {
				r.Get("/", s.HandleGetDecoder)
				r.Delete("/", s.HandleDeleteDecoder)
			})
		})
	})
}
