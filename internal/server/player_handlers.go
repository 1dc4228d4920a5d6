package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/zsiec/camview/internal/errors"
	"github.com/zsiec/camview/internal/player/media"
)

type startRequest struct {
	URL string `json:"url"`
}

type modeRequest struct {
	Playback *bool    `json:"playback,omitempty"`
	Speed    *float64 `json:"speed,omitempty"`
	Reverse  bool     `json:"reverse,omitempty"`
	Hidden   *bool    `json:"hidden,omitempty"`
}

type captureRequest struct {
	DurationSeconds float64 `json:"duration_seconds"`
}

type actionResponse struct {
	Status string `json:"status"`
}

// artifactResponse describes a saved artifact; the bytes are fetched from
// URL.
type artifactResponse struct {
	Name        string    `json:"name"`
	ContentType string    `json:"content_type"`
	Size        int       `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
	URL         string    `json:"url"`
}

func newArtifactResponse(a media.Artifact) artifactResponse {
	return artifactResponse{
		Name:        a.Name,
		ContentType: a.ContentType,
		Size:        len(a.Data),
		CreatedAt:   a.CreatedAt,
		URL:         "/api/v1/artifacts/" + a.Name,
	}
}

func (s *Server) registerPlayerRoutes(api *mux.Router) {
	api.HandleFunc("/player", s.handleDestroy).Methods(http.MethodDelete)
	if s.events != nil {
		api.Handle("/player/events", s.events).Methods(http.MethodGet)
	}

	p := api.PathPrefix("/player").Subrouter()
	p.Use(s.timeoutMiddleware(s.config.WriteTimeout))

	p.HandleFunc("/start", s.handleStart).Methods(http.MethodPost)
	p.HandleFunc("/pause", s.handleAction("paused", func(ctx context.Context) error { return s.player.Pause() })).Methods(http.MethodPost)
	p.HandleFunc("/restart", s.handleAction("restarted", s.player.Restart)).Methods(http.MethodPost)
	p.HandleFunc("/stop", s.handleAction("stopped", func(ctx context.Context) error { return s.player.Stop() })).Methods(http.MethodPost)
	p.HandleFunc("/mode", s.handleMode).Methods(http.MethodPut)
	p.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	p.HandleFunc("/snapshot", s.handleSnapshot).Methods(http.MethodPost)
	p.HandleFunc("/capture", s.handleStartCapture).Methods(http.MethodPost)
	p.HandleFunc("/capture", s.handleStopCapture).Methods(http.MethodDelete)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.URL == "" {
		s.writeError(w, r, errors.NewValidationError("url is required"))
		return
	}

	if err := s.player.Start(r.Context(), req.URL); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, actionResponse{Status: "starting"})
}

// handleAction adapts a player operation without a request body.
func (s *Server) handleAction(status string, op func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := op(r.Context()); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, actionResponse{Status: status})
	}
}

func (s *Server) handleDestroy(w http.ResponseWriter, r *http.Request) {
	s.player.Destroy()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Speed != nil && *req.Speed <= 0 {
		s.writeError(w, r, errors.NewValidationError("speed must be positive"))
		return
	}

	if req.Playback != nil {
		if err := s.player.SetPlayMode(*req.Playback); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	if req.Speed != nil {
		if err := s.player.SetSpeed(*req.Speed, req.Reverse); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	if req.Hidden != nil {
		if err := s.player.SetHidden(*req.Hidden); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	s.handleStatus(w, r)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.player.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	art, err := s.player.Snapshot(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, newArtifactResponse(art))
}

func (s *Server) handleStartCapture(w http.ResponseWriter, r *http.Request) {
	var req captureRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.DurationSeconds < 0 {
		s.writeError(w, r, errors.NewValidationError("duration_seconds cannot be negative"))
		return
	}

	d := time.Duration(req.DurationSeconds * float64(time.Second))
	if err := s.player.StartCapture(d); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, actionResponse{Status: "capturing"})
}

func (s *Server) handleStopCapture(w http.ResponseWriter, r *http.Request) {
	art, err := s.player.StopAndExportCapture(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, newArtifactResponse(art))
}
