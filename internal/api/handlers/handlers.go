// Package handlers exposes the import flow over HTTP: the provider
// callback, token exchange, account discovery, per-stage configuration and
// the sync trigger.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/fireledger/importer/internal/api/middleware"
	"github.com/fireledger/importer/internal/importer"
	"github.com/fireledger/importer/internal/importjob"
	"github.com/fireledger/importer/internal/ledger"
	"github.com/fireledger/importer/internal/provider"
)

// JobCreator mints new import jobs.
type JobCreator interface {
	NewJob(ctx context.Context, userID string) (*importjob.Job, error)
}

// BatchReader exposes the transaction batch a finished run produced.
type BatchReader interface {
	Transactions(key string) []ledger.Transaction
}

// BatchSink receives the finished batch for durable storage. Optional.
type BatchSink interface {
	Store(ctx context.Context, userID, jobKey string, batch []ledger.Transaction) error
}

// ImportHandler handles the import endpoints.
type ImportHandler struct {
	flow       *importer.Flow
	dispatcher *importer.Dispatcher
	engine     *importer.Engine
	jobs       importjob.Repository
	creator    JobCreator
	batches    BatchReader
	sink       BatchSink // nil disables durable batch storage
	log        zerolog.Logger
}

// NewImportHandler creates a new import handler. sink may be nil.
func NewImportHandler(flow *importer.Flow, dispatcher *importer.Dispatcher, engine *importer.Engine, jobs importjob.Repository, creator JobCreator, batches BatchReader, sink BatchSink, log zerolog.Logger) *ImportHandler {
	return &ImportHandler{
		flow:       flow,
		dispatcher: dispatcher,
		engine:     engine,
		jobs:       jobs,
		creator:    creator,
		batches:    batches,
		sink:       sink,
		log:        log,
	}
}

// Callback handles GET /import/callback?code=&state=
// The provider redirects here after external authorization.
func (h *ImportHandler) Callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	job, err := h.flow.CompleteAuthorization(r.Context(), query.Get("code"), query.Get("state"))
	if err != nil {
		h.writeFailure(w, err, "Authorization callback failed")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"job_key": job.Key,
		"stage":   string(job.Stage),
		"status":  string(job.Status),
	})
}

// ExchangeToken handles POST /import/token
func (h *ImportHandler) ExchangeToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PublicToken string `json:"public_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.PublicToken == "" {
		middleware.WriteError(w, http.StatusBadRequest, "public_token is required")
		return
	}

	userID := middleware.UserIDFromContext(r.Context())
	tokenKey, err := h.flow.ExchangePublicToken(r.Context(), userID, req.PublicToken)
	if err != nil {
		h.writeFailure(w, err, "Token exchange failed")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"token_key": tokenKey,
	})
}

// Accounts handles GET /import/accounts?job=<key>
func (h *ImportHandler) Accounts(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	jobKey := r.URL.Query().Get("job")

	institutions, err := h.flow.DiscoverAccounts(r.Context(), userID, jobKey)
	if err != nil {
		h.writeFailure(w, err, "Account discovery failed")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"institutions": institutions,
		"count":        len(institutions),
	})
}

// CreateJob handles POST /import/jobs
func (h *ImportHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		middleware.WriteError(w, http.StatusUnauthorized, "An authenticated user is required")
		return
	}

	job, err := h.creator.NewJob(r.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to create import job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to create import job")
		return
	}

	h.log.Info().Str("job", job.Key).Str("user", userID).Msg("Import job created")
	middleware.WriteJSON(w, http.StatusCreated, map[string]string{
		"job_key": job.Key,
		"stage":   string(job.Stage),
		"status":  string(job.Status),
	})
}

// GetConfiguration handles GET /import/jobs/{key}/configuration
//
// Stages whose completeness condition already holds advance on the spot,
// so the response always describes the first stage that still needs user
// input, or reports the job ready.
func (h *ImportHandler) GetConfiguration(w http.ResponseWriter, r *http.Request, jobKey string) {
	ctx := r.Context()

	job, ok := h.findJob(w, ctx, jobKey)
	if !ok {
		return
	}

	for {
		handler, err := h.dispatcher.HandlerFor(job)
		if errors.Is(err, importer.ErrJobReady) {
			middleware.WriteJSON(w, http.StatusOK, map[string]any{
				"job_key": job.Key,
				"stage":   string(job.Stage),
				"ready":   true,
			})
			return
		}
		if err != nil {
			h.writeFailure(w, err, "Stage dispatch failed")
			return
		}

		done, err := handler.ConfigurationComplete(ctx)
		if err != nil {
			h.writeFailure(w, err, "Stage completeness check failed")
			return
		}
		if !done {
			data, err := handler.NextData(ctx)
			if err != nil {
				h.writeFailure(w, err, "Stage data failed")
				return
			}
			middleware.WriteJSON(w, http.StatusOK, map[string]any{
				"job_key": job.Key,
				"stage":   string(job.Stage),
				"view":    handler.NextView(),
				"data":    data,
			})
			return
		}
		// Completed stages advanced the job; resolve the new stage.
	}
}

// PostConfiguration handles POST /import/jobs/{key}/configuration
func (h *ImportHandler) PostConfiguration(w http.ResponseWriter, r *http.Request, jobKey string) {
	ctx := r.Context()

	var data map[string]any
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	job, ok := h.findJob(w, ctx, jobKey)
	if !ok {
		return
	}

	handler, err := h.dispatcher.HandlerFor(job)
	if errors.Is(err, importer.ErrJobReady) {
		middleware.WriteError(w, http.StatusConflict, "Import job is already fully configured")
		return
	}
	if err != nil {
		h.writeFailure(w, err, "Stage dispatch failed")
		return
	}

	messages, err := handler.ConfigureJob(ctx, data)
	if err != nil {
		h.writeFailure(w, err, "Stage configuration failed")
		return
	}
	if !messages.Empty() {
		middleware.WriteJSON(w, http.StatusOK, map[string]any{
			"success":  false,
			"messages": messages.All(),
		})
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"stage":   string(job.Stage),
	})
}

// Run handles POST /import/jobs/{key}/run
func (h *ImportHandler) Run(w http.ResponseWriter, r *http.Request, jobKey string) {
	ctx := r.Context()

	job, ok := h.findJob(w, ctx, jobKey)
	if !ok {
		return
	}
	if job.Stage != importjob.StageGoForImport {
		middleware.WriteError(w, http.StatusConflict, "Import job is not fully configured")
		return
	}

	if err := h.engine.Run(ctx, job); err != nil {
		h.writeFailure(w, err, "Sync run failed")
		return
	}

	batch := h.batches.Transactions(job.Key)
	if h.sink != nil {
		if err := h.sink.Store(ctx, job.UserID, job.Key, batch); err != nil {
			h.log.Error().Err(err).Str("job", job.Key).Msg("Failed to store batch")
			middleware.WriteError(w, http.StatusInternalServerError, "Failed to store imported transactions")
			return
		}
	}

	h.log.Info().Str("job", job.Key).Int("transactions", len(batch)).Msg("Sync run finished")
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"job_key":      job.Key,
		"status":       string(job.Status),
		"transactions": len(batch),
	})
}

// findJob resolves a job key, writing the error response on failure.
func (h *ImportHandler) findJob(w http.ResponseWriter, ctx context.Context, key string) (*importjob.Job, bool) {
	if key == "" {
		middleware.WriteError(w, http.StatusBadRequest, "Job key is required")
		return nil, false
	}
	job, err := h.jobs.FindByKey(ctx, key)
	if err != nil {
		h.log.Error().Err(err).Str("job", key).Msg("Failed to load job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to load job")
		return nil, false
	}
	if job == nil {
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return nil, false
	}
	return job, true
}

// writeFailure maps domain errors onto HTTP responses.
func (h *ImportHandler) writeFailure(w http.ResponseWriter, err error, logMsg string) {
	h.log.Error().Err(err).Msg(logMsg)

	var (
		unsupported   *importjob.ErrUnsupportedStage
		unknownExt    *importer.UnknownExternalAccountError
		notImportable *importer.NotImportableError
		upstreamErr   *provider.UpstreamError
	)
	switch {
	case errors.Is(err, importer.ErrInvalidAuthorizationCode),
		errors.Is(err, importer.ErrNoAccountsDiscovered):
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, importer.ErrUnknownJob):
		middleware.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, importer.ErrUnauthorized):
		middleware.WriteError(w, http.StatusUnauthorized, err.Error())
	case errors.As(err, &unsupported), errors.As(err, &unknownExt), errors.As(err, &notImportable):
		middleware.WriteError(w, http.StatusConflict, err.Error())
	case errors.As(err, &upstreamErr):
		middleware.WriteError(w, http.StatusBadGateway, "Provider request failed")
	default:
		middleware.WriteError(w, http.StatusInternalServerError, "Internal server error")
	}
}
