// Package server exposes the ingestion pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/lead-intake/internal/ingest"
)

// APIKeyHeader carries the source credential.
const APIKeyHeader = "X-API-Key"

// Ingester runs an authenticated request through the pipeline.
type Ingester interface {
	Ingest(ctx context.Context, req ingest.Request) (*ingest.Result, error)
}

// Pinger reports store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options tune the router.
type Options struct {
	MaxBodyBytes int64
	CORSOrigins  []string
}

type handler struct {
	ing     Ingester
	pinger  Pinger
	maxBody int64
}

// NewRouter builds the HTTP API.
func NewRouter(ing Ingester, pinger Pinger, opts Options) http.Handler {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	h := &handler{ing: ing, pinger: pinger, maxBody: opts.MaxBodyBytes}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", APIKeyHeader},
			MaxAge:         300,
		}))
	}

	r.Get("/health", h.health)
	r.Post("/ingest/{sourceId}", h.ingest)
	return r
}

type ingestResponse struct {
	Success     bool   `json:"success"`
	ContactID   string `json:"contact_id"`
	LeadEventID string `json:"lead_event_id"`
	DealID      string `json:"deal_id,omitempty"`
}

func (h *handler) ingest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Payload too large")
			return
		}
		writeError(w, http.StatusBadRequest, ingest.MsgInvalidJSON)
		return
	}

	res, err := h.ing.Ingest(r.Context(), ingest.Request{
		SourceID: chi.URLParam(r, "sourceId"),
		APIKey:   r.Header.Get(APIKeyHeader),
		Body:     body,
	})
	if err != nil {
		var ie *ingest.Error
		if !errors.As(err, &ie) {
			zap.L().Error("server: unclassified ingest error", zap.Error(err))
			writeError(w, http.StatusInternalServerError, ingest.MsgInternal)
			return
		}
		writeError(w, ie.Kind.HTTPStatus(), ie.Message)
		return
	}

	resp := ingestResponse{Success: true, ContactID: res.ContactID, LeadEventID: res.LeadEventID}
	if res.DealID != nil {
		resp.DealID = *res.DealID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if h.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.pinger.Ping(ctx); err != nil {
			zap.L().Warn("server: health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("server: write response", zap.Error(err))
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
