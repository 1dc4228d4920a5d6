package server

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

func (s *Server) registerArtifactRoutes(api *mux.Router) {
	api.HandleFunc("/artifacts", s.handleListArtifacts).Methods(http.MethodGet)
	api.HandleFunc("/artifacts/{name}", s.handleGetArtifact).Methods(http.MethodGet, http.MethodHead)
	api.HandleFunc("/artifacts/{name}", s.handleDeleteArtifact).Methods(http.MethodDelete)
}

func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	infos, err := s.artifacts.List()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"artifacts": infos,
		"count":     len(infos),
	})
}

func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	f, info, err := s.artifacts.Open(name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", info.ContentType)
	w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(info.Name))
	http.ServeContent(w, r, info.Name, info.CreatedAt, f)
}

func (s *Server) handleDeleteArtifact(w http.ResponseWriter, r *http.Request) {
	if err := s.artifacts.Delete(mux.Vars(r)["name"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
