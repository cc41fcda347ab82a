package httpapi

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/wippyai/ffi-bridge/buffer"
	"github.com/wippyai/ffi-bridge/dispatch"
	"github.com/wippyai/ffi-bridge/errors"
	"github.com/wippyai/ffi-bridge/handle"
	"github.com/wippyai/ffi-bridge/schema"
)

// StatusHeader carries the dispatch status of a raw call.
const StatusHeader = "X-Ffi-Status"

// Options configures the HTTP bridge.
type Options struct {
	// Gatherer serves the metrics route. nil disables it.
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
	// MetricsPath is where metrics are mounted.
	MetricsPath string
	// MaxBodyBytes caps request bodies.
	MaxBodyBytes int64
}

// DefaultOptions returns the default server options.
func DefaultOptions() Options {
	return Options{
		MetricsPath:  "/metrics",
		MaxBodyBytes: 4 << 20,
	}
}

// Server exposes a dispatch table over HTTP.
type Server struct {
	table *dispatch.Table
	log   *zap.Logger
	opts  Options
}

// New creates a server for table.
func New(table *dispatch.Table, opts Options) *Server {
	def := DefaultOptions()
	if opts.MetricsPath == "" {
		opts.MetricsPath = def.MetricsPath
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = def.MaxBodyBytes
	}
	log := opts.Logger
	if log == nil {
		log = Logger()
	}
	return &Server{table: table, log: log, opts: opts}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(loggingMiddleware(s.log, s.opts.MetricsPath))
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/call/{operation}", s.handleCall)
		r.Post("/lower/{type}", s.handleLower)
		r.Post("/lift/{type}", s.handleLift)
		r.Get("/operations", s.handleOperations)
		r.Get("/schema", s.handleSchema)
		r.Delete("/handles/{handle}", s.handleRelease)
	})

	if s.opts.Gatherer != nil {
		r.Handle(s.opts.MetricsPath, promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// handleCall passes the request body to the operation as its argument
// buffer and writes the result buffer back.
func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "operation")
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	out, status, err := s.table.Call(r.Context(), name, buffer.New(body))
	w.Header().Set(StatusHeader, status.String())
	if status == dispatch.StatusInternal {
		httpStatus := http.StatusBadRequest
		if kind, _ := errors.KindOf(err); kind == errors.KindUnknownOperation {
			httpStatus = http.StatusNotFound
		}
		writeError(w, httpStatus, code(err), err.Error())
		return
	}
	defer func() {
		if out.Live() {
			_ = out.Free()
		}
	}()

	data, err := out.Bytes()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "moved_buffer", err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleLower encodes a JSON value as the type in the URL.
func (s *Server) handleLower(w http.ResponseWriter, r *http.Request) {
	t, err := s.parseType(r)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown_type", err.Error())
		return
	}
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	out, err := s.table.Compiler().Lower(t, v)
	if err != nil {
		httpStatus := http.StatusUnprocessableEntity
		if errors.IsRange(err) {
			httpStatus = http.StatusBadRequest
		}
		writeError(w, httpStatus, code(err), err.Error())
		return
	}
	data, _ := out.Bytes()
	_ = out.Free()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleLift decodes a raw buffer as the type in the URL and returns it as
// JSON.
func (s *Server) handleLift(w http.ResponseWriter, r *http.Request) {
	t, err := s.parseType(r)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown_type", err.Error())
		return
	}
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	v, err := s.table.Compiler().Lift(t, buffer.New(body))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, code(err), err.Error())
		return
	}
	data, err := json.Marshal(map[string]any{"value": v})
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "unrepresentable",
			schema.FormatType(t)+" value has no JSON form: "+err.Error())
		return
	}
	writeRawJSON(w, http.StatusOK, data)
}

// parseType resolves the {type} URL parameter. Types like "sequence<u8>"
// arrive percent-encoded.
func (s *Server) parseType(r *http.Request) (*schema.Type, error) {
	text, err := url.PathUnescape(chi.URLParam(r, "type"))
	if err != nil {
		return nil, errors.Wrap(errors.PhaseBridge, errors.KindInvalidInput, err, "type parameter")
	}
	return s.table.Compiler().Schema().ParseType(text)
}

type operationInfo struct {
	Name      string   `json:"name"`
	Kind      string   `json:"kind"`
	Signature string   `json:"signature"`
	Docs      []string `json:"docs,omitempty"`
}

func (s *Server) handleOperations(w http.ResponseWriter, _ *http.Request) {
	descs := s.table.Descriptors()
	ops := make([]operationInfo, 0, len(descs))
	for _, d := range descs {
		ops = append(ops, operationInfo{
			Name:      d.Name,
			Kind:      d.Kind.String(),
			Signature: d.Signature(),
			Docs:      d.Docs,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"operations": ops})
}

func (s *Server) handleSchema(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, s.table.Compiler().Schema().Describe())
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	raw, err := strconv.ParseUint(chi.URLParam(r, "handle"), 10, 64)
	if err != nil || raw == 0 {
		writeError(w, http.StatusBadRequest, "invalid_handle", "handle must be a positive integer")
		return
	}
	if err := s.table.Registry().Release(handle.Handle(raw)); err != nil {
		writeError(w, http.StatusNotFound, code(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", err.Error())
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return nil, false
	}
	return body, true
}

func loggingMiddleware(log *zap.Logger, metricsPath string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			// Skip logging for health checks and metrics
			if r.URL.Path == "/health" || r.URL.Path == metricsPath {
				return
			}

			log.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("ffi_status", ww.Header().Get(StatusHeader)))
		})
	}
}

// code names an error for clients: the error kind when there is one.
func code(err error) string {
	if kind, ok := errors.KindOf(err); ok {
		return string(kind)
	}
	return "internal"
}

// writeJSON encodes data before touching the response, so an encoding
// failure is still reported with an error status.
func writeJSON(w http.ResponseWriter, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		body = []byte(`{"error":{"code":"internal","message":"response encoding failed"}}`)
		status = http.StatusInternalServerError
	}
	writeRawJSON(w, status, body)
}

func writeRawJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
