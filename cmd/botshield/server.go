package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/qaforge/botshield/internal/application"
	"github.com/qaforge/botshield/internal/domain"
)

// maxRequestBody bounds the classify payload. History-bearing requests
// are large but bounded; anything past this is abuse.
const maxRequestBody = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

func newRouter(engine *application.ConsensusEngine, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(chimiddleware.Recoverer)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/classify", handleClassify(engine))
		r.Get("/status", handleStatus(engine))
		r.Get("/accuracy", handleAccuracy(engine))
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func handleClassify(engine *application.ConsensusEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req domain.DetectionRequest
		body := http.MaxBytesReader(w, r.Body, maxRequestBody)
		if err := json.NewDecoder(body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
			return
		}
		if req.ClientID == "" {
			req.ClientID = r.RemoteAddr
		}

		verdict, err := engine.Classify(r.Context(), &req)
		switch {
		case errors.Is(err, domain.ErrInvalidPriority):
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		case errors.Is(err, domain.ErrInvalidInput):
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		case err != nil:
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "classification failed"})
			return
		}
		writeJSON(w, http.StatusOK, verdict)
	}
}

func handleStatus(engine *application.ConsensusEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, engine.GetSystemStatus())
	}
}

func handleAccuracy(engine *application.ConsensusEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, engine.GetAccuracyReport())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// requestLogger logs one line per request with status and duration.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", chimiddleware.GetReqID(r.Context())),
			)
		})
	}
}
