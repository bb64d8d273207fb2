// Package web provides an HTTP status server for the ecu-trigger daemon.
package web

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"

	"github.com/sweeney/ecu-trigger/internal/status"
)

// ToothLogger gives the server access to the decoder's tooth logger.
type ToothLogger interface {
	StartToothLogger() error
	StopToothLogger() error
	DrainToothLog() []uint32
}

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	teeth      ToothLogger
}

// New creates a Server that reads state from the given tracker. teeth may
// be nil, in which case the tooth log endpoints answer 404.
func New(addr string, tracker *status.Tracker, teeth ToothLogger) *Server {
	s := &Server{tracker: tracker, teeth: teeth}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	mux.HandleFunc("/toothlog.json", s.handleToothLog)
	mux.HandleFunc("/toothlog/start", s.handleToothLogControl(true))
	mux.HandleFunc("/toothlog/stop", s.handleToothLogControl(false))

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(status.FormatJSON(snap))
}

// ToothLogJSON is the body of /toothlog.json.
type ToothLogJSON struct {
	Gaps []uint32 `json:"gaps_us"`
}

func (s *Server) handleToothLog(w http.ResponseWriter, r *http.Request) {
	if s.teeth == nil {
		http.NotFound(w, r)
		return
	}
	gaps := s.teeth.DrainToothLog()
	if gaps == nil {
		gaps = []uint32{}
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	json.NewEncoder(w).Encode(ToothLogJSON{Gaps: gaps})
}

func (s *Server) handleToothLogControl(start bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.teeth == nil {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var err error
		if start {
			err = s.teeth.StartToothLogger()
		} else {
			err = s.teeth.StopToothLogger()
		}
		if err != nil {
			log.Printf("web: tooth logger: %v", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
