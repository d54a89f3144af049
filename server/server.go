// Package server exposes the decompile pipeline as an HTTP/JSON
// service. A single worker goroutine owns the pipeline; handlers may
// run concurrently but every pipeline call is serialized through it.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/tliron/commonlog"

	"github.com/chazu/tcldis"
	"github.com/chazu/tcldis/cache"

	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("tcldis.server")

// Server is the HTTP decompile service wrapping a pipeline.
type Server struct {
	worker *Worker
	store  *cache.Store
	mux    *http.ServeMux
}

// Option configures a Server.
type Option func(*Server)

// WithCache enables the decompile result cache.
func WithCache(store *cache.Store) Option {
	return func(s *Server) { s.store = store }
}

// New creates a Server wrapping the given pipeline.
func New(p *tcldis.Pipeline, opts ...Option) *Server {
	s := &Server{
		worker: NewWorker(p),
		mux:    http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mux.HandleFunc("POST /v1/decompile", s.handleDecompile)
	s.mux.HandleFunc("POST /v1/disassemble", s.handleDisassemble)
	s.mux.HandleFunc("GET /v1/health", s.handleHealth)
	return s
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe starts serving on the given address and blocks.
func (s *Server) ListenAndServe(addr string) error {
	log.Noticef("listening on %s", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}

// Stop shuts down the pipeline worker.
func (s *Server) Stop() {
	s.worker.Stop()
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

type decompileRequest struct {
	Source string `json:"source"`
}

type decompileResponse struct {
	Success   bool            `json:"success"`
	Steps     json.RawMessage `json:"steps,omitempty"`
	Stage     *int            `json:"stage,omitempty"`
	StageName string          `json:"stage_name,omitempty"`
	Error     string          `json:"error,omitempty"`
	Cached    bool            `json:"cached,omitempty"`
}

func (s *Server) handleDecompile(w http.ResponseWriter, r *http.Request) {
	var req decompileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Source == "" {
		writeError(w, http.StatusBadRequest, "source is required")
		return
	}

	if s.store != nil {
		if steps, err := s.store.Get(req.Source); err == nil {
			log.Debugf("cache hit for %s", cache.Key(req.Source))
			writeJSON(w, decompileResponse{
				Success: true,
				Steps:   json.RawMessage(steps),
				Cached:  true,
			})
			return
		} else if !errors.Is(err, cache.ErrNotFound) {
			log.Errorf("cache read: %v", err)
		}
	}

	value, err := s.worker.Do(func(p *tcldis.Pipeline) interface{} {
		out, err := p.Decompile(req.Source)
		if err != nil {
			return stageFailure(err)
		}
		return decompileResponse{Success: true, Steps: json.RawMessage(out)}
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := value.(decompileResponse)
	if resp.Success && s.store != nil {
		if err := s.store.Put(req.Source, string(resp.Steps)); err != nil {
			log.Errorf("cache write: %v", err)
		}
	}
	writeJSON(w, resp)
}

type disassembleRequest struct {
	Source string `json:"source"`
}

type disassembleResponse struct {
	Success   bool   `json:"success"`
	Listing   string `json:"listing,omitempty"`
	Stage     *int   `json:"stage,omitempty"`
	StageName string `json:"stage_name,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (s *Server) handleDisassemble(w http.ResponseWriter, r *http.Request) {
	var req disassembleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Source == "" {
		writeError(w, http.StatusBadRequest, "source is required")
		return
	}

	value, err := s.worker.Do(func(p *tcldis.Pipeline) interface{} {
		listing, err := p.Disassemble(req.Source)
		if err != nil {
			resp := stageFailure(err)
			return disassembleResponse{
				Success:   false,
				Stage:     resp.Stage,
				StageName: resp.StageName,
				Error:     resp.Error,
			}
		}
		return disassembleResponse{Success: true, Listing: listing}
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, value.(disassembleResponse))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// stageFailure maps a pipeline error into a failure response carrying
// the stage ordinal.
func stageFailure(err error) decompileResponse {
	resp := decompileResponse{Success: false, Error: err.Error()}
	var stageErr *tcldis.StageError
	if errors.As(err, &stageErr) {
		stage := int(stageErr.Stage)
		resp.Stage = &stage
		resp.StageName = stageErr.Stage.String()
	}
	return resp
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
