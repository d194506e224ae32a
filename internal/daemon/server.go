package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/kilnhq/kiln/internal/action"
	"github.com/kilnhq/kiln/internal/lock"
	"github.com/kilnhq/kiln/internal/log"
	"github.com/kilnhq/kiln/internal/pathmap"
)

const (
	// maxRunBodyBytes caps the accepted run-data document size.
	maxRunBodyBytes = 64 * 1024

	// shutdownTimeout bounds how long a stop waits for an in-flight render
	// handler before the listener is torn down.
	shutdownTimeout = 30 * time.Second
)

// ServerOptions configure one daemon instance.
type ServerOptions struct {
	ConnectionFile      string
	InitDataURI         string
	PathMappingRulesURI string
}

// Server is the long-lived daemon process: it owns the renderer, serves the
// local control API, and publishes the connection file once ready.
type Server struct {
	opts     ServerOptions
	renderer *Renderer
	token    string
	logger   *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
}

// RunMessage is one line of the run endpoint's NDJSON response stream:
// progress updates while the render is in flight, then a final line carrying
// the report.
type RunMessage struct {
	Progress *int          `json:"progress,omitempty"`
	Report   *RenderReport `json:"report,omitempty"`
	Failed   bool          `json:"failed,omitempty"`
}

// NewServer parses and validates the init data and path mapping rules, and
// arms the renderer. No process is listening yet; call Run.
func NewServer(opts ServerOptions) (*Server, error) {
	if opts.ConnectionFile == "" {
		return nil, fmt.Errorf("connection file path is required")
	}
	if opts.InitDataURI == "" {
		return nil, fmt.Errorf("init data reference is required")
	}

	initBytes, err := ReadDataURI(opts.InitDataURI)
	if err != nil {
		return nil, fmt.Errorf("read init data: %w", err)
	}
	init, err := ParseInitData(initBytes)
	if err != nil {
		return nil, err
	}

	var rules *pathmap.Rules
	if opts.PathMappingRulesURI != "" {
		path := strings.TrimPrefix(opts.PathMappingRulesURI, "file://")
		rules, err = pathmap.Load(path)
		if err != nil {
			return nil, err
		}
	} else {
		rules = &pathmap.Rules{}
	}

	renderer, err := NewRenderer(init, rules, action.NewProcessRunner())
	if err != nil {
		return nil, err
	}

	return &Server{
		opts:     opts,
		renderer: renderer,
		token:    uuid.NewString(),
		logger:   log.WithComponent("daemon"),
		stopCh:   make(chan struct{}),
	}, nil
}

// Run serves the control API until a stop request or context cancellation,
// then removes the connection file. The connection file is written only after
// the listener is accepting, so its existence means the daemon is ready.
func (s *Server) Run(ctx context.Context) error {
	pidLock, err := lock.AcquirePIDLock(s.opts.ConnectionFile + ".lock")
	if err != nil {
		return fmt.Errorf("another daemon owns this connection file: %w", err)
	}
	defer func() { _ = pidLock.Release() }()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	server := &http.Server{
		Handler:     s.routes(),
		ReadTimeout: 10 * time.Second,
		// Renders are long; the write timeout must outlive them.
		WriteTimeout: 24 * time.Hour,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	conn := &ConnectionFile{
		PID:       os.Getpid(),
		Address:   listener.Addr().String(),
		Token:     s.token,
		StartedAt: time.Now().UTC(),
	}
	if err := WriteConnectionFile(s.opts.ConnectionFile, conn); err != nil {
		_ = server.Close()
		return err
	}
	defer func() { _ = RemoveConnectionFile(s.opts.ConnectionFile) }()

	s.logger.Info("daemon ready", "address", conn.Address, "pid", conn.PID,
		"scene", s.renderer.InitData().SceneFile)

	select {
	case <-ctx.Done():
		s.logger.Info("daemon context cancelled, shutting down")
	case <-s.stopCh:
		s.logger.Info("stop requested, shutting down")
	case err := <-errCh:
		return fmt.Errorf("control server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("daemon shutdown: %w", err)
	}
	return nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(s.requireToken)
		r.Post("/run", s.handleRun)
		r.Post("/stop", s.handleStop)
	})

	return r
}

// requireToken checks the bearer token from the connection file.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		auth := req.Header.Get("Authorization")
		if auth != "Bearer "+s.token {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
			return
		}
		next.ServeHTTP(w, req)
	})
}

// handleRun renders one frame synchronously. The request body is the
// run-data YAML document; the response is an NDJSON stream of RunMessage
// lines so callers see progress before the render completes.
func (s *Server) handleRun(w http.ResponseWriter, req *http.Request) {
	body, err := io.ReadAll(io.LimitReader(req.Body, maxRunBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read body: " + err.Error()})
		return
	}

	run, err := ParseRunData(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	var mu sync.Mutex
	enc := json.NewEncoder(w)
	emit := func(msg RunMessage) {
		mu.Lock()
		defer mu.Unlock()
		if err := enc.Encode(msg); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	report, err := s.renderer.RenderFrame(req.Context(), *run.Frame, func(pct int) {
		emit(RunMessage{Progress: &pct})
	})
	if err != nil {
		s.logger.Error("render failed", "frame", *run.Frame, "error", err)
	}
	emit(RunMessage{
		Report: report,
		Failed: report.Failed(s.renderer.InitData()),
	})
}

// handleStop acknowledges, then triggers shutdown. In-flight renders finish
// within the shutdown timeout.
func (s *Server) handleStop(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopping"})

	// Stop must stay idempotent under concurrent requests.
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
