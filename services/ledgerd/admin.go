package ledgerd

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"stakeledger/native/common"
)

// AdminServer exposes HTTP endpoints for operator controls.
type AdminServer struct {
	service *Service
	hub     *Hub
	mux     chi.Router
}

// NewAdminServer constructs a server wrapping the provided service.
func NewAdminServer(service *Service, hub *Hub) *AdminServer {
	mux := chi.NewRouter()
	server := &AdminServer{service: service, hub: hub, mux: mux}
	mux.Post("/pause", server.handlePause)
	mux.Post("/resume", server.handleResume)
	mux.Get("/status", server.handleStatus)
	return server
}

// ServeHTTP implements http.Handler.
func (s *AdminServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type pauseRequest struct {
	Module string `json:"module"`
}

func (s *AdminServer) decodeModule(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req pauseRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request")
			return "", false
		}
	}
	module := strings.ToLower(strings.TrimSpace(req.Module))
	switch module {
	case "", common.ModuleAll, common.ModuleStaking, common.ModuleRevenue:
	default:
		writeError(w, http.StatusBadRequest, "unknown module")
		return "", false
	}
	return module, true
}

func (s *AdminServer) handlePause(w http.ResponseWriter, r *http.Request) {
	module, ok := s.decodeModule(w, r)
	if !ok {
		return
	}
	s.service.SetPause(module, true)
	w.WriteHeader(http.StatusNoContent)
}

func (s *AdminServer) handleResume(w http.ResponseWriter, r *http.Request) {
	module, ok := s.decodeModule(w, r)
	if !ok {
		return
	}
	s.service.SetPause(module, false)
	w.WriteHeader(http.StatusNoContent)
}

// Status summarises the operator-visible daemon state.
type Status struct {
	Paused      []string `json:"paused"`
	Pools       int      `json:"pools"`
	Subscribers int      `json:"subscribers"`
}

func (s *AdminServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	pools, err := s.service.Pools()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "status unavailable")
		return
	}
	writeJSON(w, http.StatusOK, Status{
		Paused:      s.service.Pauses().Snapshot(),
		Pools:       len(pools),
		Subscribers: s.hub.Subscribers(),
	})
}
