package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"tally/internal/ledger"
	"tally/internal/models"
	"tally/internal/ratelimit"
	"tally/internal/reconcile"
	"tally/internal/tags"

	"github.com/gorilla/mux"
)

// defaultSearchLimit bounds tag listings when the client does not ask for a
// specific page size.
const (
	defaultSearchLimit = 50
	maxSearchLimit     = 100
)

// Handlers contains HTTP handlers for the tally API
type Handlers struct {
	tagService *tags.Service
	ledger     ledger.Ledger
	checker    ratelimit.Checker
	sweeper    *reconcile.Sweeper
	reportDir  string
	version    string

	// counterPing probes the shared counter store for health reporting.
	// nil when no counter store is configured.
	counterPing func(ctx context.Context) error
}

// NewHandlers creates a new handlers instance
func NewHandlers(tagService *tags.Service, l ledger.Ledger, checker ratelimit.Checker, sweeper *reconcile.Sweeper, reportDir, version string, counterPing func(ctx context.Context) error) *Handlers {
	return &Handlers{
		tagService:  tagService,
		ledger:      l,
		checker:     checker,
		sweeper:     sweeper,
		reportDir:   reportDir,
		version:     version,
		counterPing: counterPing,
	}
}

// SyncPostTags handles tag replacement for a post
// PUT /api/v1/posts/{owner_id}/tags
func (h *Handlers) SyncPostTags(w http.ResponseWriter, r *http.Request) {
	h.syncTags(w, r, ledger.OwnerPost)
}

// SyncActivityTags handles tag replacement for an activity
// PUT /api/v1/activities/{owner_id}/tags
func (h *Handlers) SyncActivityTags(w http.ResponseWriter, r *http.Request) {
	h.syncTags(w, r, ledger.OwnerActivity)
}

func (h *Handlers) syncTags(w http.ResponseWriter, r *http.Request, kind ledger.OwnerKind) {
	vars := mux.Vars(r)
	ownerID := vars["owner_id"]

	var req models.SyncTagsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, "Invalid JSON body")
		return
	}

	tagIDs, err := h.tagService.SyncTagsForOwner(r.Context(), kind, ownerID, req.Tags)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, models.SyncTagsResponse{TagIDs: tagIDs})
}

// ListTags handles tag search and listing requests
// GET /api/v1/tags?q=...&limit=...
func (h *Handlers) ListTags(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")

	limit := defaultSearchLimit
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		if parsed, err := strconv.Atoi(limitParam); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	var found []*ledger.Tag
	err := h.ledger.InTx(r.Context(), func(ctx context.Context, tx ledger.Tx) error {
		var err error
		found, err = tx.SearchTags(ctx, query, limit)
		return err
	})
	if err != nil {
		slog.Error("Tag search failed", "query", query, "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "Failed to search tags")
		return
	}

	response := models.ListTagsResponse{
		Tags:       make([]models.TagResponse, 0, len(found)),
		TotalCount: len(found),
	}
	for _, tag := range found {
		response.Tags = append(response.Tags, models.TagResponse{
			ID:              tag.ID,
			Name:            tag.Name,
			Slug:            tag.Slug,
			Color:           tag.Color,
			PostsCount:      tag.PostsCount,
			ActivitiesCount: tag.ActivitiesCount,
		})
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// CheckRate handles rate-limit decisions for other platform services
// POST /api/v1/ratelimit/check
//
// The caller charges quota on behalf of its own request; a denied decision
// still answers 200 here because the HTTP exchange itself succeeded.
func (h *Handlers) CheckRate(w http.ResponseWriter, r *http.Request) {
	var req models.RateCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, "Invalid JSON body")
		return
	}
	if req.ResourceClass == "" || req.Action == "" {
		h.writeErrorResponse(w, http.StatusUnprocessableEntity, models.ErrorCodeValidation, "resource_class and action are required")
		return
	}

	decision := h.checker.Check(r.Context(), req.ResourceClass, req.Action, ratelimit.Subjects{
		UserID: req.UserID,
		IP:     req.IP,
	})

	h.writeJSONResponse(w, http.StatusOK, models.RateCheckResponse{
		Allowed:           decision.Allowed,
		Backend:           string(decision.Backend),
		Limit:             decision.Limit,
		Remaining:         decision.Remaining,
		RetryAfterSeconds: decision.RetryAfterSeconds(),
	})
}

// Reconcile triggers a full reconciliation sweep
// POST /admin/reconcile
func (h *Handlers) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.sweeper.ReconcileAll(r.Context())
	if err != nil {
		slog.Error("Reconciliation sweep failed", "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "Reconciliation sweep failed")
		return
	}

	reportPath := ""
	if h.reportDir != "" {
		reportPath, err = report.WriteFile(h.reportDir)
		if err != nil {
			// The sweep itself committed; a report write failure is worth a
			// log line, not a 500.
			slog.Warn("Failed to write reconciliation report", "dir", h.reportDir, "error", err)
		}
	}

	h.writeJSONResponse(w, http.StatusOK, struct {
		Report     *reconcile.Report `json:"report"`
		ReportPath string            `json:"report_path,omitempty"`
	}{Report: report, ReportPath: reportPath})
}

// HealthCheck handles health check requests
// GET /health
//
// A dead ledger makes the service unhealthy (503). A dead counter store only
// degrades it: rate limiting keeps working on the local fallback.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := models.NewHealthCheckResponse(models.StatusHealthy)
	response.Version = h.version

	statusCode := http.StatusOK

	if err := h.ledger.Ping(r.Context()); err != nil {
		response.Status = models.StatusUnhealthy
		response.AddComponent("ledger", models.StatusUnhealthy, err.Error())
		statusCode = http.StatusServiceUnavailable
	} else {
		response.AddComponent("ledger", models.StatusHealthy, "Ledger is operational")
	}

	if h.counterPing != nil {
		if err := h.counterPing(r.Context()); err != nil {
			if response.Status == models.StatusHealthy {
				response.Status = models.StatusDegraded
			}
			response.AddComponent("counter_store", models.StatusUnhealthy, err.Error())
		} else {
			response.AddComponent("counter_store", models.StatusHealthy, "Counter store is operational")
		}
	}

	h.writeJSONResponse(w, statusCode, response)
}

// writeServiceError maps a tags.ServiceError to its HTTP shape, hiding
// internals for anything unrecognized.
func (h *Handlers) writeServiceError(w http.ResponseWriter, err error) {
	var svcErr *tags.ServiceError
	if errors.As(err, &svcErr) {
		h.writeErrorResponse(w, svcErr.StatusCode, svcErr.Code, svcErr.Message)
		return
	}
	slog.Error("Unexpected service error", "error", err)
	h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "Internal server error")
}

// writeJSONResponse writes a JSON response
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already written; nothing left to send the client.
		fmt.Printf("Error encoding JSON response: %v\n", err)
	}
}

// writeErrorResponse writes an error response
func (h *Handlers) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) {
	errorResp := models.NewErrorResponse(message, errorCode)
	h.writeJSONResponse(w, statusCode, errorResp)
}
