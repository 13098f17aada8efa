// Package api exposes batch scoring, results and rule management over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/harrier/internal/batch"
	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/ingest"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/rules"
	"github.com/opensource-finance/harrier/internal/worker"
)

// DefaultMaxUploadBytes caps an uploaded batch when no limit is configured.
const DefaultMaxUploadBytes = 32 << 20

// BatchRunner scores and persists a batch. batch.Processor implements it.
type BatchRunner interface {
	Run(ctx context.Context, batchID string, txs []domain.Transaction) (*batch.Result, error)
}

// WorkerStats reports the state of the async worker. worker.Worker implements it.
type WorkerStats interface {
	GetStats() worker.Stats
}

// Deps are the collaborators a Handler needs. Cache, Bus and Worker are optional.
type Deps struct {
	Repo   domain.Repository
	Cache  domain.Cache
	Bus    domain.EventBus
	Engine *rules.Engine
	Runner BatchRunner
	Worker WorkerStats

	// AsyncEnabled reports whether a worker consumes submitted batches.
	AsyncEnabled bool

	MaxUploadBytes int64
	Version        string
}

// Handler holds dependencies for API handlers.
type Handler struct {
	repo           domain.Repository
	cache          domain.Cache
	bus            domain.EventBus
	engine         *rules.Engine
	runner         BatchRunner
	worker         WorkerStats
	asyncEnabled   bool
	maxUploadBytes int64
	version        string
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = DefaultMaxUploadBytes
	}
	return &Handler{
		repo:           deps.Repo,
		cache:          deps.Cache,
		bus:            deps.Bus,
		engine:         deps.Engine,
		runner:         deps.Runner,
		worker:         deps.Worker,
		asyncEnabled:   deps.AsyncEnabled,
		maxUploadBytes: deps.MaxUploadBytes,
		version:        deps.Version,
	}
}

// BatchRequest is the JSON body accepted by POST /batches. The server reads it
// field by field, so a malformed or negative field is defaulted like a CSV cell.
type BatchRequest struct {
	BatchID      string               `json:"batchId,omitempty"`
	Transactions []domain.Transaction `json:"transactions"`
}

// BatchResponse is returned by a synchronous POST /batches.
type BatchResponse struct {
	Summary domain.BatchSummary        `json:"summary"`
	Results []domain.ScoredTransaction `json:"results"`
	Skipped int                        `json:"skipped,omitempty"`
	TraceID string                     `json:"traceId,omitempty"`
}

// AcceptedResponse is returned by POST /batches?async=true.
type AcceptedResponse struct {
	BatchID string `json:"batchId"`
	Count   int    `json:"count"`
	Status  string `json:"status"`
}

// SubmitBatch handles POST /batches. The body is a CSV upload (raw text/csv or
// a multipart "file" field) or JSON. With ?async=true the batch is queued on
// the event bus and 202 is returned with the batch id.
func (h *Handler) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	batchID, txs, skipped, err := h.readBatch(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody(fmt.Sprintf("batch exceeds %d bytes", tooLarge.Limit)))
			return
		}
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	if batchID == "" {
		batchID = uuid.New().String()
	}

	async, _ := strconv.ParseBool(r.URL.Query().Get("async"))
	if async {
		h.submitAsync(w, r, batchID, txs)
		return
	}

	if h.runner == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("batch processor not available"))
		return
	}

	res, err := h.runner.Run(ctx, batchID, txs)
	if err != nil {
		slog.Error("batch failed", "batch_id", batchID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to process batch"))
		return
	}

	writeJSON(w, http.StatusOK, BatchResponse{
		Summary: res.Summary,
		Results: res.Results,
		Skipped: skipped,
		TraceID: GetTraceID(ctx),
	})
}

func (h *Handler) submitAsync(w http.ResponseWriter, r *http.Request, batchID string, txs []domain.Transaction) {
	if h.bus == nil || !h.asyncEnabled {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("async processing is disabled"))
		return
	}

	// Ids are assigned here so the caller can poll /results/{id}.
	txs = batch.Prepare(txs, time.Now())

	submission := domain.BatchSubmission{BatchID: batchID, Transactions: txs}
	if err := bus.PublishJSON(r.Context(), h.bus, domain.TopicBatchSubmitted, submission); err != nil {
		slog.Error("failed to queue batch", "batch_id", batchID, "error", err)
		msg := "failed to queue batch"
		if errors.Is(err, bus.ErrBufferFull) {
			msg = "batch queue is full, retry later"
		}
		writeJSON(w, http.StatusServiceUnavailable, errorBody(msg))
		return
	}

	slog.Info("batch queued", "batch_id", batchID, "count", len(txs))
	writeJSON(w, http.StatusAccepted, AcceptedResponse{
		BatchID: batchID,
		Count:   len(txs),
		Status:  "queued",
	})
}

func (h *Handler) readBatch(r *http.Request) (batchID string, txs []domain.Transaction, skipped int, err error) {
	batchID = r.URL.Query().Get("batchId")

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		parsed, err := ingest.ParseJSON(r.Body, slog.Default())
		if err != nil {
			return "", nil, 0, err
		}
		if batchID == "" {
			batchID = parsed.BatchID
		}
		return batchID, parsed.Transactions(), parsed.Skipped, nil

	case "multipart/form-data":
		file, _, err := r.FormFile("file")
		if err != nil {
			return "", nil, 0, fmt.Errorf("multipart field \"file\" is required: %w", err)
		}
		defer file.Close()
		return readCSV(batchID, file)

	default:
		return readCSV(batchID, r.Body)
	}
}

func readCSV(batchID string, body io.Reader) (string, []domain.Transaction, int, error) {
	parsed, err := ingest.Parse(body, slog.Default())
	if err != nil {
		return "", nil, 0, err
	}
	return batchID, parsed.Transactions(), parsed.Skipped, nil
}

// ListResults handles GET /results?q=&verdict=&limit=.
func (h *Handler) ListResults(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("repository not available"))
		return
	}

	q := r.URL.Query()
	filter := domain.ResultFilter{Query: q.Get("q")}

	if v := q.Get("verdict"); v != "" {
		verdict := domain.Verdict(strings.ToUpper(v))
		if verdict != domain.VerdictFraud && verdict != domain.VerdictSafe {
			writeJSON(w, http.StatusBadRequest, errorBody("verdict must be FRAUD or SAFE"))
			return
		}
		filter.Verdict = verdict
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeJSON(w, http.StatusBadRequest, errorBody("limit must be a non-negative integer"))
			return
		}
		filter.Limit = limit
	}

	results, err := h.repo.ListResults(r.Context(), filter)
	if err != nil {
		writeError(w, "failed to list results", err)
		return
	}
	if results == nil {
		results = []domain.ScoredTransaction{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"count":   len(results),
	})
}

// GetResult handles GET /results/{id}.
func (h *Handler) GetResult(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("repository not available"))
		return
	}

	res, err := h.repo.GetResult(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "failed to get result", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListRules returns the rules the engine evaluates, built-in and expression.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	expressions := h.engine.GetLoadedRules()
	names := h.engine.Names()

	writeJSON(w, http.StatusOK, map[string]any{
		"active":      names,
		"expressions": expressions,
		"count":       len(names),
	})
}

// GetRule retrieves a stored expression rule by id.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("repository not available"))
		return
	}

	rule, err := h.repo.GetRuleConfig(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "failed to get rule", err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// CreateRuleRequest is the request body for creating an expression rule.
type CreateRuleRequest struct {
	ID           string `json:"id,omitempty"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	Version      string `json:"version,omitempty"`
	Expression   string `json:"expression"`
	Contribution int    `json:"contribution"`
	Reason       string `json:"reason,omitempty"`
	Enabled      *bool  `json:"enabled,omitempty"`
}

// CreateRule validates an expression rule and saves it.
// The rule becomes active after POST /rules/reload.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON request body"))
		return
	}

	if req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("name and expression are required"))
		return
	}

	ruleConfig := &domain.RuleConfig{
		ID:           req.ID,
		Name:         req.Name,
		Description:  req.Description,
		Version:      req.Version,
		Expression:   req.Expression,
		Contribution: req.Contribution,
		Reason:       req.Reason,
		Enabled:      req.Enabled == nil || *req.Enabled,
	}
	if ruleConfig.ID == "" {
		ruleConfig.ID = uuid.New().String()
	}
	if ruleConfig.Version == "" {
		ruleConfig.Version = "1.0.0"
	}
	if ruleConfig.Reason == "" {
		ruleConfig.Reason = ruleConfig.Name
	}

	if err := h.engine.ValidateRule(ruleConfig); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid rule: "+err.Error()))
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("repository not available"))
		return
	}
	if err := h.repo.SaveRuleConfig(ctx, ruleConfig); err != nil {
		writeError(w, "failed to save rule", err)
		return
	}

	slog.Info("rule created", "id", ruleConfig.ID, "name", ruleConfig.Name)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":    ruleConfig,
		"message": "Rule saved. Call POST /rules/reload to apply changes.",
	})
}

// ReloadRules swaps the engine's expression rules for the stored set.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("repository not available"))
		return
	}

	stored, err := h.repo.ListRuleConfigs(r.Context())
	if err != nil {
		writeError(w, "failed to load rules", err)
		return
	}

	if err := h.engine.ReloadRules(stored); err != nil {
		slog.Error("failed to reload rules into engine", "error", err)
		writeJSON(w, http.StatusUnprocessableEntity, errorBody("failed to reload rules: "+err.Error()))
		return
	}

	loaded := len(h.engine.GetLoadedRules())
	slog.Info("rules reloaded from database", "stored", len(stored), "loaded", loaded)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   loaded,
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "healthy"
	checks := map[string]string{}

	check := func(name string, ping func(context.Context) error) {
		if err := ping(ctx); err != nil {
			checks[name] = err.Error()
			status = "degraded"
			return
		}
		checks[name] = "ok"
	}

	if h.repo != nil {
		check("repository", h.repo.Ping)
	}
	if h.cache != nil {
		check("cache", h.cache.Ping)
	}
	if h.bus != nil {
		check("eventBus", h.bus.Ping)
	}

	body := map[string]any{
		"status":  status,
		"version": h.version,
		"checks":  checks,
	}
	if h.worker != nil {
		body["worker"] = h.worker.GetStats()
	}
	writeJSON(w, http.StatusOK, body)
}

// Ready reports whether the server can score batches.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.runner == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false})
		return
	}
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false, "error": err.Error()})
			return
		}
	}

	body := map[string]any{"ready": true}
	if h.engine != nil {
		body["rules"] = h.engine.RulesCount()
	}
	writeJSON(w, http.StatusOK, body)
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

// writeError maps repository errors to status codes.
func writeError(w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, repository.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	default:
		slog.Error(msg, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody(msg))
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
