// Package server exposes the voice agent's HTTP/WebSocket control surface:
// health, state, diagnostics, and process memory stats over REST, plus a
// raw PCM audio channel over WebSocket — grounded on the chi-router + JSON
// handler style used elsewhere in the stack.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lokutor-ai/voice-orchestrator/pkg/orchestrator"
	"github.com/lokutor-ai/voice-orchestrator/pkg/persistence"
)

// StreamProvider supplies the ManagedStream backing the current
// conversation. main wires this to the single long-lived stream the CLI or
// service keeps open; it may return nil before a session has started.
type StreamProvider func() *orchestrator.ManagedStream

// Server is the control-surface HTTP server: health/state/diagnostics over
// REST, and a binary audio relay over WebSocket.
type Server struct {
	addr    string
	orch    *orchestrator.Orchestrator
	stream  StreamProvider
	pool    *persistence.Pool
	logger  orchestrator.Logger
	httpSrv *http.Server
}

// New builds a Server. pool may be a blank-DSN (inert) persistence.Pool if
// no database is configured.
func New(addr string, orch *orchestrator.Orchestrator, stream StreamProvider, pool *persistence.Pool, logger orchestrator.Logger) *Server {
	if logger == nil {
		logger = &orchestrator.NoOpLogger{}
	}
	return &Server{addr: addr, orch: orch, stream: stream, pool: pool, logger: logger}
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/health", s.handleHealth)
	r.Get("/state", s.handleState)
	r.Get("/diagnostics", s.handleDiagnostics)
	r.Get("/memory", s.handleMemory)
	r.Get("/ws/audio", s.handleAudioWS)

	return r
}

// Start runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully within 5 seconds.
func (s *Server) Start(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:         s.addr,
		Handler:      s.router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("starting control surface", "addr", s.addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	ms := s.stream()
	if ms == nil {
		writeJSON(w, http.StatusOK, map[string]string{"state": "NO_SESSION"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": ms.State()})
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	diag := map[string]interface{}{
		"providers": s.orch.GetProviders(),
		"config":    s.orch.GetConfig(),
	}
	if s.pool != nil {
		stats := s.pool.Stats()
		diag["db_pool_total"] = stats.Total
		diag["db_pool_free"] = stats.Idle
		diag["db_pool_in_use"] = stats.InUse
	}
	if ms := s.stream(); ms != nil {
		diag["state"] = ms.State()
		diag["latency_ms"] = ms.GetLatencyBreakdown()
	}
	writeJSON(w, http.StatusOK, diag)
}

// handleMemory reports a process memory snapshot for operators watching
// for leaks across long-lived sessions; it has nothing to do with the
// pgvector-backed conversational memory store, which has no "browse
// everything" operation by design.
func (s *Server) handleMemory(w http.ResponseWriter, r *http.Request) {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alloc_bytes":       stats.Alloc,
		"total_alloc_bytes": stats.TotalAlloc,
		"sys_bytes":         stats.Sys,
		"heap_objects":      stats.HeapObjects,
		"num_gc":            stats.NumGC,
		"goroutines":        runtime.NumGoroutine(),
	})
}

// handleAudioWS relays raw PCM frames between the caller and the active
// ManagedStream: inbound binary messages are fed to ms.Write, and the
// stream's AudioChunk/transcript events are pushed back as JSON/binary
// frames, mirroring ManagedStream's existing event-channel contract.
func (s *Server) handleAudioWS(w http.ResponseWriter, r *http.Request) {
	ms := s.stream()
	if ms == nil {
		http.Error(w, "no active session", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()

	go s.relayEvents(ctx, conn, ms)

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if msgType != websocket.MessageBinary {
			continue
		}
		if err := ms.Write(data); err != nil {
			s.logger.Warn("audio write failed", "error", err)
			return
		}
	}
}

func (s *Server) relayEvents(ctx context.Context, conn *websocket.Conn, ms *orchestrator.ManagedStream) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ms.Events():
			if !ok {
				return
			}
			if ev.Type == orchestrator.AudioChunk {
				if pcm, ok := ev.Data.([]byte); ok {
					if err := conn.Write(ctx, websocket.MessageBinary, pcm); err != nil {
						return
					}
					continue
				}
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
