// Package api exposes the intent pipeline over HTTP and MCP. The HTTP
// surface is deliberately thin: request decoding, auth, and JSON encoding
// around the pipeline, trainer, and classifier.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/intale-ai/intentd/internal/distill"
	"github.com/intale-ai/intentd/internal/intent"
	"github.com/intale-ai/intentd/internal/metrics"
	"github.com/intale-ai/intentd/internal/pipeline"
	"github.com/intale-ai/intentd/internal/student"
)

const maxRequestBodySize = 1 << 20 // 1MB

// IntentResolver is the pipeline surface the API layer calls.
type IntentResolver interface {
	Resolve(ctx context.Context, text string, reqContext map[string]string) intent.Result
	Mode() pipeline.Mode
}

// Trainer is the distillation surface exposed over the management routes.
type Trainer interface {
	TrainOnce(ctx context.Context) (distill.Report, error)
	Evaluate(limit int) (distill.Evaluation, error)
	Stats() (distill.Info, error)
}

// OracleInfo reports oracle reachability for the status endpoint.
type OracleInfo interface {
	IsAvailable() bool
	Model() string
}

// Deps holds everything the HTTP and MCP layers need.
type Deps struct {
	Resolver   IntentResolver
	Trainer    Trainer
	Classifier *student.Classifier
	Oracle     OracleInfo
	Metrics    *metrics.Collector
	// Token guards all /v1 routes. Empty disables auth.
	Token string
	// TimeoutS is the configured pipeline deadline, reported in status.
	TimeoutS float64
}

// NewHandler builds the HTTP router. /health and /metrics are always open;
// the /v1 routes require the bearer token when one is configured.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Get("/metrics", metrics.Handler(deps.Metrics))

	r.Group(func(g chi.Router) {
		g.Use(BearerAuth(deps.Token))
		g.Post("/v1/intent", handleIntent(deps))
		g.Post("/v1/train", handleTrain(deps))
		g.Post("/v1/evaluate", handleEvaluate(deps))
		g.Post("/v1/reload", handleReload(deps))
		g.Get("/v1/status", handleStatus(deps))
		g.Get("/v1/train/stats", handleTrainStats(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// IntentRequest is the body of POST /v1/intent.
type IntentRequest struct {
	Text    string            `json:"text"`
	Context map[string]string `json:"context,omitempty"`
}

func handleIntent(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req IntentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Text) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "text is required")
			return
		}

		res := deps.Resolver.Resolve(r.Context(), req.Text, req.Context)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(res)
	}
}

func handleTrain(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := deps.Trainer.TrainOnce(r.Context())
		if errors.Is(err, distill.ErrTrainingInProgress) {
			httpError(w, http.StatusConflict, "conflict", "a training run is already in progress")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "training failed: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(report)
	}
}

func handleEvaluate(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if s := r.URL.Query().Get("limit"); s != "" {
			v, err := strconv.Atoi(s)
			if err != nil || v < 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "limit must be a non-negative integer")
				return
			}
			limit = v
		}

		eval, err := deps.Trainer.Evaluate(limit)
		if err != nil {
			httpError(w, http.StatusConflict, "conflict", "evaluation unavailable: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(eval)
	}
}

// ReloadResponse is the body of POST /v1/reload. A failed reload is not an
// HTTP error: the previous model keeps serving and the response says so.
type ReloadResponse struct {
	Reloaded bool   `json:"reloaded"`
	Version  string `json:"version,omitempty"`
	Error    string `json:"error,omitempty"`
}

func handleReload(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := ReloadResponse{Reloaded: true}
		if err := deps.Classifier.Reload(); err != nil {
			resp.Reloaded = false
			resp.Error = err.Error()
		}
		resp.Version = deps.Classifier.Version()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

// StatusResponse is the body of GET /v1/status.
type StatusResponse struct {
	Mode     string           `json:"mode"`
	TimeoutS float64          `json:"intent_timeout_s"`
	Oracle   OracleStatus     `json:"oracle"`
	Student  StudentStatus    `json:"student"`
	Metrics  metrics.Snapshot `json:"metrics"`
}

type OracleStatus struct {
	Available bool   `json:"available"`
	Model     string `json:"model,omitempty"`
}

type StudentStatus struct {
	Available  bool   `json:"available"`
	Version    string `json:"version,omitempty"`
	LabelCount int    `json:"label_count"`
}

func handleStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(statusPayload(deps))
	}
}

func statusPayload(deps Deps) StatusResponse {
	return StatusResponse{
		Mode:     string(deps.Resolver.Mode()),
		TimeoutS: deps.TimeoutS,
		Oracle: OracleStatus{
			Available: deps.Oracle.IsAvailable(),
			Model:     deps.Oracle.Model(),
		},
		Student: StudentStatus{
			Available:  deps.Classifier.IsAvailable(),
			Version:    deps.Classifier.Version(),
			LabelCount: len(deps.Classifier.Classes()),
		},
		Metrics: deps.Metrics.Snapshot(),
	}
}

func handleTrainStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info, err := deps.Trainer.Stats()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "collecting training stats: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(info)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
