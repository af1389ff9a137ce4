package remote

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"

	"github.com/sattrk/telarc/internal/archive/fetch"
	"github.com/sattrk/telarc/internal/errors"
	"github.com/sattrk/telarc/internal/logging"
	"github.com/sattrk/telarc/internal/metrics"
)

// ServerConfig tunes the HTTP surface.
type ServerConfig struct {
	// Listen is the bind address, e.g. "0.0.0.0:9440".
	Listen string

	// ReadTimeout and IdleTimeout guard the connection; WriteTimeout
	// must cover the engine answering a wide window.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// MaxBodyBytes caps one request body. Argument payloads are small;
	// anything larger is a misdirected upload.
	MaxBodyBytes int64
}

// DefaultServerConfig returns the production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Listen:       "0.0.0.0:9440",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  2 * time.Minute,
		MaxBodyBytes: 1 << 20,
	}
}

// envelope is the execute response wrapper: exactly one of Result or
// Err is set.
type envelope struct {
	Result json.RawMessage `json:"result,omitempty"`
	Err    *wireError      `json:"error,omitempty"`
}

type wireError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Server exposes a query engine over HTTP. Each operation is a POST of
// its JSON arguments to /api/v1/execute/{fn}; the reply envelope holds
// either the result or a kind-tagged error.
type Server struct {
	engine *fetch.Engine
	cfg    ServerConfig
	router *mux.Router
	http   *http.Server
	nextID atomic.Uint64
}

// NewServer builds a server over an engine. Zero config fields fall
// back to DefaultServerConfig.
func NewServer(engine *fetch.Engine, cfg ServerConfig) *Server {
	def := DefaultServerConfig()
	if cfg.Listen == "" {
		cfg.Listen = def.Listen
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}

	s := &Server{engine: engine, cfg: cfg}

	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/execute/{fn}", s.handleExecute).Methods(http.MethodPost)
	api.HandleFunc("/channels", s.handleChannels).Methods(http.MethodGet)
	api.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router = r

	s.http = &http.Server{
		Addr:         cfg.Listen,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Router returns the route table, for mounting extra endpoints or
// serving through a test listener.
func (s *Server) Router() *mux.Router { return s.router }

// Run serves until Shutdown. A closed listener is a clean exit.
func (s *Server) Run() error {
	log.Info("listening", "address", s.cfg.Listen)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info("shutting down")
	return s.http.Shutdown(ctx)
}

// ================================================================
// Handlers
// ================================================================

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	fn := mux.Vars(r)["fn"]
	id := s.nextID.Add(1)
	ctx := logging.ContextWithRequestID(r.Context(), id)
	began := time.Now()

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	result, err := s.execute(ctx, fn, r.Body)

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.RemoteRequests.WithLabelValues(fn, outcome).Inc()

	if err != nil {
		log.Warn("execute failed",
			"request_id", id,
			"fn", fn,
			"kind", errors.KindOf(err),
			"error", err,
			"elapsed", time.Since(began))
		s.fail(w, err)
		return
	}

	log.Debug("execute served", "request_id", id, "fn", fn, "elapsed", time.Since(began))
	writeJSON(w, http.StatusOK, envelope{Result: result})
}

func (s *Server) execute(ctx context.Context, fn string, body io.Reader) (json.RawMessage, error) {
	switch fn {
	case FnFetch:
		var args fetchArgs
		if err := decodeArgs(body, &args); err != nil {
			return nil, err
		}
		req, err := args.request()
		if err != nil {
			return nil, err
		}
		ts, err := s.engine.Fetch(ctx, req)
		if err != nil {
			return nil, err
		}
		return marshalResult(packSeries(ts))

	case FnFetchMany:
		var args manyArgs
		if err := decodeArgs(body, &args); err != nil {
			return nil, err
		}
		req, err := args.request()
		if err != nil {
			return nil, err
		}
		results, err := s.engine.FetchMany(ctx, req)
		if err != nil {
			return nil, err
		}
		out := make([]*wireSeries, len(results))
		for i, ts := range results {
			out[i] = packSeries(ts)
		}
		return marshalResult(out)

	case FnInterpolate:
		var args interpolateArgs
		if err := decodeArgs(body, &args); err != nil {
			return nil, err
		}
		aligned, err := s.engine.Interpolate(ctx, args.request())
		if err != nil {
			return nil, err
		}
		return marshalResult(packAligned(aligned))

	default:
		return nil, errors.Wrapf(errors.ErrInvalidArgument, "unknown function %q", fn)
	}
}

// channelInfo is one row of the channel listing.
type channelInfo struct {
	Msid    string `json:"msid"`
	Content string `json:"content"`
	DType   string `json:"dtype"`
	Width   int    `json:"width,omitempty"`
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("pattern")
	if pattern == "" {
		pattern = "*"
	}

	chans, err := s.engine.Registry().Glob(pattern, 0)
	if err != nil && !errors.IsNotFound(err) {
		s.fail(w, err)
		return
	}

	out := make([]channelInfo, len(chans))
	for i, ch := range chans {
		out[i] = channelInfo{
			Msid:    ch.Msid,
			Content: ch.Content,
			DType:   ch.DType.String(),
			Width:   ch.Width,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"channels": s.engine.Registry().Len(),
	})
}

// ================================================================
// Plumbing
// ================================================================

func decodeArgs(body io.Reader, v any) error {
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return errors.Wrapf(errors.ErrInvalidArgument, "decode arguments: %v", err)
	}
	return nil
}

// fail writes the kind-tagged error envelope with a status mapped from
// the kind.
func (s *Server) fail(w http.ResponseWriter, err error) {
	kind := errors.KindOf(err)
	writeJSON(w, statusOf(kind), envelope{
		Err: &wireError{Kind: kind, Message: err.Error()},
	})
}

func statusOf(kind string) int {
	switch kind {
	case errors.KindInvalid, errors.KindAmbiguous:
		return http.StatusBadRequest
	case errors.KindUnknownChannel, errors.KindNoCatalog, errors.KindNoData:
		return http.StatusNotFound
	case errors.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("encode response", "error", err)
	}
}
