// File: internal/control/server.go

// Package control is the local HTTP adapter for external control surfaces.
// It issues start/stop/state/export commands to the coordinator over the
// bus, never touching recording state directly, and streams log changes to
// websocket observers.
package control

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webtrace-cli/internal/recorder"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Server exposes the recording control API.
type Server struct {
	client *recorder.Client
	stream *Stream
	logger *zap.Logger
	http   *http.Server
}

// NewServer builds the control server for the given listen address.
func NewServer(listen string, client *recorder.Client, stream *Stream, logger *zap.Logger) *Server {
	s := &Server{
		client: client,
		stream: stream,
		logger: logger.Named("control"),
	}

	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/recording/start", s.handleStart).Methods(http.MethodPost)
	api.HandleFunc("/recording/stop", s.handleStop).Methods(http.MethodPost)
	api.HandleFunc("/recording/state", s.handleState).Methods(http.MethodGet)
	api.HandleFunc("/recording/export", s.handleExport).Methods(http.MethodGet)
	api.HandleFunc("/stream", s.stream.Handle).Methods(http.MethodGet)

	s.http = &http.Server{
		Addr:         listen,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.http.Handler
}

// ListenAndServe blocks serving the API until Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info("Control surface listening.", zap.String("addr", s.http.Addr))
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the server and disconnects stream observers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stream.Close()
	return s.http.Shutdown(ctx)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.client.Start(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.client.Stop(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	state, err := s.client.State(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	export, err := s.client.Export(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"data": export})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Debug("Response encoding failed.", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.logger.Warn("Control request failed.", zap.Error(err))
	s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}
