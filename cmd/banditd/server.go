package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/fractal-lba/bayesbandit/internal/metrics"
	"github.com/fractal-lba/bayesbandit/internal/service"
	"github.com/fractal-lba/bayesbandit/pkg/bandit"
)

// Server exposes one hosted bandit over HTTP
type Server struct {
	svc      *service.Service
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	limiter  *rate.Limiter
	logger   *slog.Logger

	metricsAuth struct {
		enabled  bool
		user     string
		password string
	}
}

// pullRequest is the optional body of /v1/pull
type pullRequest struct {
	Context []float64 `json:"context,omitempty"`
}

type updateRequest struct {
	Arm     string    `json:"arm,omitempty"`
	Ticket  string    `json:"ticket,omitempty"`
	Value   *float64  `json:"value"`
	Context []float64 `json:"context,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Arm   string `json:"arm,omitempty"`
}

// routes builds the HTTP mux
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/v1/pull", s.endpoint("pull", http.MethodPost, s.handlePull))
	mux.Handle("/v1/update", s.endpoint("update", http.MethodPost, s.handleUpdate))
	mux.Handle("/v1/arms", s.endpoint("arms", http.MethodGet, s.handleArms))
	mux.Handle("/v1/report", s.endpoint("report", http.MethodGet, s.handleReport))
	mux.Handle("/v1/checkpoint", s.endpoint("checkpoint", http.MethodPost, s.handleCheckpoint))
	mux.Handle("/metrics", s.metricsHandler())
	mux.HandleFunc("/health", handleHealth)
	return mux
}

// endpoint applies method checks, rate limiting and request counting
func (s *Server) endpoint(route, method string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			s.metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		}()

		if r.Method != method {
			writeError(rec, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
			return
		}
		if !s.limiter.Allow() {
			rec.Header().Set("Retry-After", "1")
			writeError(rec, http.StatusTooManyRequests, errorResponse{Error: "too many requests"})
			return
		}
		h(rec, r)
	})
}

func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, errorResponse{Error: "failed to read body"})
		return
	}
	var req pullRequest
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON"})
			return
		}
	}

	res, err := s.svc.PullAt(r.Context(), req.Context)
	if err != nil {
		status := errorStatus(err)
		if res.Arm != "" {
			// the arm was chosen but its action failed
			status = http.StatusBadGateway
		}
		s.logger.Warn("pull failed", "arm", res.Arm, "error", err)
		writeError(w, status, errorResponse{Error: err.Error(), Arm: res.Arm})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1MB limit
	if err != nil {
		writeError(w, http.StatusBadRequest, errorResponse{Error: "failed to read body"})
		return
	}

	var req updateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON"})
		return
	}
	if req.Value == nil {
		writeError(w, http.StatusBadRequest, errorResponse{Error: "value is required"})
		return
	}
	if (req.Arm == "") == (req.Ticket == "") {
		writeError(w, http.StatusBadRequest, errorResponse{Error: "exactly one of arm or ticket is required"})
		return
	}

	if req.Ticket != "" {
		err = s.svc.UpdateTicketAt(r.Context(), req.Ticket, req.Context, *req.Value)
	} else {
		err = s.svc.UpdateAt(r.Context(), req.Arm, req.Context, *req.Value)
	}
	if err != nil {
		writeError(w, errorStatus(err), errorResponse{Error: err.Error(), Arm: req.Arm})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleArms(w http.ResponseWriter, r *http.Request) {
	status, err := s.svc.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Report())
}

func (s *Server) handleCheckpoint(w http.ResponseWriter, r *http.Request) {
	digest, err := s.svc.Checkpoint(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"digest": digest})
}

func (s *Server) metricsHandler() http.Handler {
	handler := promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})

	if !s.metricsAuth.enabled {
		return handler
	}

	// Wrap with Basic Auth
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != s.metricsAuth.user || pass != s.metricsAuth.password {
			w.Header().Set("WWW-Authenticate", `Basic realm="Metrics"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// errorStatus maps bandit errors to HTTP status codes
func errorStatus(err error) int {
	switch {
	case errors.Is(err, bandit.ErrUnknownArm), errors.Is(err, bandit.ErrUnknownTicket):
		return http.StatusNotFound
	case errors.Is(err, bandit.ErrInvalidObservation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, bandit.ErrContextRequired),
		errors.Is(err, bandit.ErrContextNotSupported),
		errors.Is(err, bandit.ErrInvalidContext):
		return http.StatusBadRequest
	case errors.Is(err, bandit.ErrEmptyArmSet):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, resp errorResponse) {
	writeJSON(w, status, resp)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
