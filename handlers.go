package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/shelfsense/shelf-monitor/config"
	"github.com/shelfsense/shelf-monitor/models"
)

type AppState struct {
	Settings *config.Settings
	Analyzer *Analyzer
	Pool     *UpstreamPool
	Metrics  *Metrics
	Logger   *slog.Logger
}

type ErrorResponse struct {
	Code           string `json:"code"`
	Message        string `json:"message"`
	Details        string `json:"details,omitempty"`
	UpstreamStatus int    `json:"upstream_status,omitempty"`
}

type HealthResponse struct {
	Status string `json:"status"`
	Model  string `json:"model"`
}

// route is one entry of the server's route table. Prefix routes match every
// path below Path.
type route struct {
	Name    string
	Method  string
	Path    string
	Prefix  bool
	Handler http.Handler
}

func (s *AppState) routes() []route {
	imagesDir := noListingFS{http.Dir(s.Settings.Server.ImagesDir)}

	return []route{
		{Name: "index", Method: http.MethodGet, Path: "/", Handler: handleIndex(s.Settings.Server.IndexPath, s.Logger)},
		{Name: "health", Method: http.MethodGet, Path: "/health", Handler: s.handleHealth()},
		{Name: "analyze", Method: http.MethodPost, Path: "/analyze-image", Handler: s.handleAnalyzeImage()},
		{Name: "metrics", Method: http.MethodGet, Path: "/metrics", Handler: s.Metrics.Handler()},
		{Name: "images", Method: http.MethodGet, Path: "/images/", Prefix: true,
			Handler: http.StripPrefix("/images/", http.FileServer(imagesDir))},
	}
}

// noListingFS hides directories that have no index.html, so the file server
// answers 404 instead of listing them.
type noListingFS struct {
	fs http.FileSystem
}

func (n noListingFS) Open(name string) (http.File, error) {
	f, err := n.fs.Open(name)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if !info.IsDir() {
		return f, nil
	}

	index, err := n.fs.Open(path.Join(name, "index.html"))
	if err != nil {
		f.Close()
		return nil, os.ErrNotExist
	}
	index.Close()
	return f, nil
}

// newRouter installs the route table on a fresh router.
func newRouter(table []route, logger *slog.Logger) *mux.Router {
	r := mux.NewRouter()
	for _, rt := range table {
		var m *mux.Route
		if rt.Prefix {
			m = r.PathPrefix(rt.Path).Handler(rt.Handler)
		} else {
			m = r.Handle(rt.Path, rt.Handler)
		}
		m.Methods(rt.Method, http.MethodOptions).Name(rt.Name)
	}

	r.Use(requestLogger(logger), corsMiddleware)
	return r
}

type ctxKey int

const requestIDKey ctxKey = iota

func requestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

func requestLogger(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			id := r.Header.Get("X-Request-ID")
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", id)

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))

			logger.Info("request",
				"request_id", id,
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration", time.Since(start),
			)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *AppState) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		sendJSON(w, http.StatusOK, HealthResponse{
			Status: "healthy",
			Model:  s.Settings.Inference.ModelEndpoint,
		})
	}
}

func (s *AppState) handleAnalyzeImage() http.HandlerFunc {
	maxBytes := s.Settings.Server.MaxUploadBytes()

	return func(w http.ResponseWriter, r *http.Request) {
		startTotal := time.Now()
		timings := &models.ProcessingTimings{RequestID: requestIDFrom(r.Context())}

		if r.ContentLength > maxBytes {
			s.Metrics.RecordOutcome(OutcomeInvalidInput)
			sendErrorResponse(w, "payload_too_large", MsgPayloadTooLarge, nil, http.StatusRequestEntityTooLarge)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		if err := r.ParseMultipartForm(maxBytes); err != nil {
			s.Metrics.RecordOutcome(OutcomeInvalidInput)
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				sendErrorResponse(w, "payload_too_large", MsgPayloadTooLarge, err, http.StatusRequestEntityTooLarge)
				return
			}
			sendErrorResponse(w, "invalid_request", "Failed to parse form", err, http.StatusBadRequest)
			return
		}

		readStart := time.Now()
		file, header, err := r.FormFile("file")
		if err != nil {
			s.Metrics.RecordOutcome(OutcomeInvalidInput)
			sendErrorResponse(w, "invalid_request", MsgNoFile, err, http.StatusBadRequest)
			return
		}
		defer file.Close()

		upload := Upload{
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
		}

		if raw := r.FormValue("confidence"); raw != "" {
			c, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				s.Metrics.RecordOutcome(OutcomeInvalidInput)
				sendErrorResponse(w, string(KindInvalidInput), MsgInvalidConfidence, err, http.StatusBadRequest)
				return
			}
			upload.Confidence = &c
		}

		// Reject before reading the body when the declared type is wrong.
		if err := checkContentType(upload.ContentType); err != nil {
			s.Metrics.RecordOutcome(OutcomeInvalidInput)
			sendAnalysisError(w, err)
			return
		}

		upload.Data, err = io.ReadAll(file)
		timings.Read = time.Since(readStart)
		if err != nil {
			sendErrorResponse(w, "invalid_request", "Failed to read file", err, http.StatusBadRequest)
			return
		}

		report, err := s.Analyzer.Analyze(r.Context(), upload, timings)
		timings.Total = time.Since(startTotal)
		logTimings(s.Logger, timings)

		if err != nil {
			s.Logger.Error("analysis failed", "request_id", timings.RequestID, "error", err)
			sendAnalysisError(w, err)
			return
		}

		sendJSON(w, http.StatusOK, report)
	}
}

func sendAnalysisError(w http.ResponseWriter, err error) {
	var aerr *AnalysisError
	if !errors.As(err, &aerr) {
		sendErrorResponse(w, "internal_error", "Unexpected error", err, http.StatusInternalServerError)
		return
	}

	resp := ErrorResponse{
		Code:           string(aerr.Kind),
		Message:        aerr.Message,
		UpstreamStatus: aerr.UpstreamStatus,
	}
	if aerr.Cause != nil {
		resp.Details = aerr.Cause.Error()
	}
	sendJSON(w, aerr.HTTPStatus(), resp)
}

func sendErrorResponse(w http.ResponseWriter, code, message string, cause error, status int) {
	resp := ErrorResponse{Code: code, Message: message}
	if cause != nil {
		resp.Details = cause.Error()
	}
	sendJSON(w, status, resp)
}

func sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
