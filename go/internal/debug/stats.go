package debug

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
)

// StatsSource reports component statistics as a JSON-serializable map.
type StatsSource interface {
	Stats() map[string]interface{}
}

// Server exposes session statistics on a local HTTP endpoint so operators and
// test harnesses can observe a running headless client.
type Server struct {
	source StatsSource
	server *http.Server
}

// NewServer returns a debug server for source listening on addr.
func NewServer(addr string, source StatsSource) *Server {
	s := &Server{source: source}

	router := mux.NewRouter()
	router.HandleFunc("/debug/stats", s.handleStats).Methods(http.MethodGet)
	router.HandleFunc("/debug/healthz", s.handleHealth).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	s.server = &http.Server{
		Addr:    addr,
		Handler: c.Handler(router),
	}
	return s
}

// ListenAndServe blocks serving the debug endpoint.
func (s *Server) ListenAndServe() error {
	log.Info().Str("addr", s.server.Addr).Msg("debug endpoint listening")
	return s.server.ListenAndServe()
}

// Close shuts the endpoint down.
func (s *Server) Close() error {
	return s.server.Close()
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.source.Stats()); err != nil {
		log.Error().Err(err).Msg("failed to encode stats")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
