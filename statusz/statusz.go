// Package statusz serves the state of every cache over HTTP.
//
//	GET /stores           every holder's stores
//	GET /stores/{holder}  one holder's stores
//	GET /debug/vars       expvar, including the cache counters
package statusz

import (
	"context"
	"encoding/json"
	"expvar"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"

	"github.com/ts4z/contentqueue/datastore"
	"github.com/ts4z/contentqueue/he"
	"github.com/ts4z/contentqueue/middleware"
)

type Config struct {
	Holders        map[string]*datastore.Holder
	AllowedOrigins []string
	Clock          clockwork.Clock
}

type Server struct {
	holders map[string]*datastore.Holder
	clock   clockwork.Clock
	mux     *http.ServeMux
	handler http.Handler
}

func New(cfg *Config) *Server {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	s := &Server{
		holders: cfg.Holders,
		clock:   clock,
		mux:     http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /stores", s.handleStores)
	s.mux.HandleFunc("GET /stores/{holder}", s.handleHolder)
	s.mux.Handle("GET /debug/vars", expvar.Handler())

	corsMW := cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet},
	})
	s.handler = middleware.NewRequestLogger(corsMW.Handler(s.mux), clock)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

type storesResponse struct {
	Now     time.Time                                    `json:"now"`
	Holders map[string]map[string]datastore.SnapshotInfo `json:"holders"`
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("statusz: can't write response: %v", err)
	}
}

func (s *Server) handleStores(w http.ResponseWriter, r *http.Request) {
	resp := storesResponse{
		Now:     s.clock.Now(),
		Holders: make(map[string]map[string]datastore.SnapshotInfo, len(s.holders)),
	}
	for name, h := range s.holders {
		resp.Holders[name] = h.Snapshots()
	}
	writeJSON(w, resp)
}

func (s *Server) handleHolder(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("holder")
	h, ok := s.holders[name]
	if !ok {
		he.SendErrorToHTTPClient(w, "show stores", he.HTTPCodedErrorf(http.StatusNotFound, "no holder %q", name))
		return
	}
	writeJSON(w, h.Snapshots())
}

// Serve listens on addr until ctx is done.
func (s *Server) Serve(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      s,
		BaseContext:  func(net.Listener) context.Context { return ctx },
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	log.Printf("statusz: listening on %s", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
