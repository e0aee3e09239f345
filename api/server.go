package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/wricardo/mcp-training/tictactoe/game/dispatch"
	"github.com/wricardo/mcp-training/tictactoe/game/engine"
	"github.com/wricardo/mcp-training/tictactoe/game/service"
	"github.com/wricardo/mcp-training/tictactoe/game/session"
	"github.com/wricardo/mcp-training/tictactoe/transport/websocket"
)

// StatsSource reports dispatcher counters
type StatsSource interface {
	Stats() dispatch.Stats
}

// Server is the read-only inspection API plus the WebSocket upgrade route
type Server struct {
	service   service.GameService
	registry  *session.Registry
	gateway   *websocket.Gateway
	stats     StatsSource
	router    *mux.Router
	startedAt time.Time
}

// StatsResponse is the body of GET /api/stats
type StatsResponse struct {
	Connections int            `json:"connections"`
	BoundConns  int            `json:"bound_connections"`
	OpenGames   int            `json:"open_games"`
	Dispatcher  dispatch.Stats `json:"dispatcher"`
	StartedAt   time.Time      `json:"started_at"`
	Uptime      string         `json:"uptime"`
}

// NewServer creates a new API server
func NewServer(gameService service.GameService, registry *session.Registry, gateway *websocket.Gateway, stats StatsSource) *Server {
	s := &Server{
		service:   gameService,
		registry:  registry,
		gateway:   gateway,
		stats:     stats,
		router:    mux.NewRouter(),
		startedAt: time.Now(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api", s.handleIndex).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/games", s.handleListOpenGames).Methods("GET")
	api.HandleFunc("/games/{id}", s.handleGetGame).Methods("GET")
	api.HandleFunc("/connections", s.handleListConnections).Methods("GET")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")

	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")

	if s.gateway != nil {
		s.router.HandleFunc("/ws", s.gateway.ServeWS)
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"name": "tictactoe",
		"endpoints": []string{
			"GET /api/games",
			"GET /api/games/{id}",
			"GET /api/connections",
			"GET /api/stats",
			"GET /healthz",
			"GET /ws?clientId=<id>",
		},
	})
}

// Game Handlers

func (s *Server) handleListOpenGames(w http.ResponseWriter, r *http.Request) {
	games, err := s.service.ListOpen(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		if limit < len(games) {
			games = games[:limit]
		}
	}

	summaries := make([]engine.Summary, 0, len(games))
	for _, g := range games {
		summaries = append(summaries, g.Summary())
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"games": summaries,
		"total": len(summaries),
	})
}

func (s *Server) handleGetGame(w http.ResponseWriter, r *http.Request) {
	gameID := mux.Vars(r)["id"]

	game, err := s.service.Get(r.Context(), gameID)
	if err != nil {
		if reason, ok := service.RejectionReason(err); ok && reason == service.ReasonGameNotFound {
			respondError(w, http.StatusNotFound, "game not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, game.Summary())
}

// Connection Handlers

func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	entries := s.registry.Entries()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"connections": entries,
		"total":       len(entries),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	open, err := s.service.ListOpen(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := StatsResponse{
		Connections: s.registry.Count(),
		OpenGames:   len(open),
		StartedAt:   s.startedAt,
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}
	for _, e := range s.registry.Entries() {
		if e.Bound() {
			resp.BoundConns++
		}
	}
	if s.stats != nil {
		resp.Dispatcher = s.stats.Stats()
	}

	respondJSON(w, http.StatusOK, resp)
}

// Health check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}
