/*
handlers.go - HTTP API handlers for the rates engine

PURPOSE:
  Exposes council management, extract import and the property/bill
  catalog over REST. Handles HTTP request/response and JSON
  serialization, and delegates to rates.Importer.

ENDPOINTS:
  Councils:
    GET    /api/councils                                   List councils
    POST   /api/councils                                   Create or update council
    GET    /api/councils/{id}                              Get council

  Imports:
    POST   /api/councils/{id}/periods/{period}/import      Import extract from body
             ?header=true   first row is a header
             ?reset=true    Refresh (reset first) instead of Import
             ?format=xlsx   body is a workbook (also via Content-Type)
             ?async=true    hand a refresh to the worker, 202 Accepted
    DELETE /api/councils/{id}/periods/{period}             Reset scope
    GET    /api/import-runs?council=&limit=                Import history

  Catalog:
    GET    /api/councils/{id}/periods/{period}/properties
    GET    /api/councils/{id}/periods/{period}/bills

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Missing council/period, unreadable body
  - 401: Missing or wrong admin token
  - 404: Council not found
  - 409: Unresolvable storage constraint, refresh already queued
  - 415: Unsupported extract format
  - 422: Council inactive
  - 500: Internal errors

AUTH:
  Mutating routes require "Authorization: Bearer <RATES_ADMIN_TOKEN>" when
  a token is configured. Reads are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/warp/rates-engine/extract"
	"github.com/warp/rates-engine/jobs"
	"github.com/warp/rates-engine/rates"
)

// DefaultMaxUpload bounds an extract request body.
const DefaultMaxUpload = 64 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is everything the API reads and writes. *sqlite.Store satisfies it.
type Store interface {
	rates.Store
	rates.CatalogStore
	rates.CouncilStore
	rates.RunRecorder
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    Store
	Importer *rates.Importer

	// AdminToken guards mutating routes; empty disables the check.
	AdminToken string

	// Queue and UploadDir enable ?async=true. Both must be set.
	Queue     jobs.Enqueuer
	UploadDir string

	MaxUpload int64

	// Track currently loaded demo scenario
	scenarioMu      sync.RWMutex
	currentScenario string
}

// NewHandler creates a new handler with the given store and importer.
func NewHandler(store Store, importer *rates.Importer) *Handler {
	return &Handler{
		Store:     store,
		Importer:  importer,
		MaxUpload: DefaultMaxUpload,
	}
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

// RequireAdmin rejects requests without the configured bearer token.
func (h *Handler) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.AdminToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(h.AdminToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "Admin token required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// COUNCIL HANDLERS
// =============================================================================

// ListCouncils returns all councils.
func (h *Handler) ListCouncils(w http.ResponseWriter, r *http.Request) {
	councils, err := h.Store.ListCouncils(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list councils", err)
		return
	}

	dtos := make([]CouncilDTO, len(councils))
	for i, c := range councils {
		dtos[i] = toCouncilDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCouncil returns a single council.
func (h *Handler) GetCouncil(w http.ResponseWriter, r *http.Request) {
	council, ok := h.loadCouncil(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toCouncilDTO(*council))
}

// CreateCouncil creates or updates a council.
func (h *Handler) CreateCouncil(w http.ResponseWriter, r *http.Request) {
	var req CreateCouncilRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "Name is required", nil)
		return
	}

	council := rates.Council{
		ID:        rates.CouncilID(req.ID),
		Name:      req.Name,
		ShortName: req.ShortName,
		Email:     req.Email,
		Active:    req.Active == nil || *req.Active,
		CreatedAt: time.Now().UTC(),
	}
	if council.ID == "" {
		council.ID = rates.CouncilID(uuid.NewString())
	}
	if err := council.ID.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid council id", err)
		return
	}

	if err := h.Store.SaveCouncil(r.Context(), council); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save council", err)
		return
	}
	writeJSON(w, http.StatusCreated, toCouncilDTO(council))
}

// =============================================================================
// IMPORT HANDLERS
// =============================================================================

// ImportExtract imports the request body into (council, period).
func (h *Handler) ImportExtract(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.loadScope(w, r, true)
	if !ok {
		return
	}

	q := r.URL.Query()
	header := queryBool(q.Get("header"))
	reset := queryBool(q.Get("reset"))
	format, err := requestFormat(r)
	if err != nil {
		writeError(w, http.StatusUnsupportedMediaType, "Unsupported extract format", err)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxUpload()))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read extract", err)
		return
	}

	if queryBool(q.Get("async")) {
		h.enqueueRefresh(w, r.Context(), scope, body, format, header)
		return
	}

	rows, err := extract.New(bytes.NewReader(body), format, extract.Options{Header: header})
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read extract", err)
		return
	}

	var summary rates.Summary
	if reset {
		summary, err = h.Importer.Refresh(r.Context(), scope, rows)
	} else {
		summary, err = h.Importer.Import(r.Context(), scope, rows)
	}
	if err != nil {
		writeDomainError(w, "Import failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(summary))
}

// enqueueRefresh stores the extract under UploadDir and queues a refresh.
func (h *Handler) enqueueRefresh(w http.ResponseWriter, ctx context.Context, scope rates.Scope, body []byte, format extract.Format, header bool) {
	if h.Queue == nil || h.UploadDir == "" {
		writeError(w, http.StatusNotImplemented, "Background imports are not configured", nil)
		return
	}

	// Scope values stay out of the name; the task payload carries them.
	path := filepath.Join(h.UploadDir, fmt.Sprintf("refresh-%s.%s", uuid.NewString(), format))
	if err := os.WriteFile(path, body, 0o600); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to store extract", err)
		return
	}

	taskID, err := jobs.EnqueueRefresh(ctx, h.Queue, jobs.RefreshPayload{
		CouncilID: string(scope.Council.ID),
		Period:    string(scope.Period),
		Path:        path,
		Header:      header,
		RemoveAfter: true,
	})
	if err != nil {
		os.Remove(path)
		if errors.Is(err, jobs.ErrRefreshPending) {
			writeError(w, http.StatusConflict, "Refresh already queued", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to queue refresh", err)
		return
	}
	writeJSON(w, http.StatusAccepted, QueuedDTO{TaskID: taskID, Status: "queued"})
}

// ResetScope deletes every bill, payer and property in (council, period).
func (h *Handler) ResetScope(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.loadScope(w, r, false)
	if !ok {
		return
	}

	result, err := h.Importer.Reset(r.Context(), scope)
	if err != nil {
		writeDomainError(w, "Reset failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toResetDTO(result))
}

// ListImportRuns returns import history, newest first.
// GET /api/import-runs
func (h *Handler) ListImportRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))

	runs, err := h.Store.ListImportRuns(r.Context(), rates.CouncilID(q.Get("council")), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list import runs", err)
		return
	}

	dtos := make([]ImportRunDTO, 0, len(runs))
	for _, run := range runs {
		dtos = append(dtos, toImportRunDTO(run))
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": dtos})
}

// =============================================================================
// CATALOG HANDLERS
// =============================================================================

// ListProperties returns the scope's properties.
func (h *Handler) ListProperties(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.loadScope(w, r, false)
	if !ok {
		return
	}

	props, err := h.Store.ListProperties(r.Context(), scope)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list properties", err)
		return
	}
	dtos := make([]PropertyDTO, len(props))
	for i, p := range props {
		dtos[i] = toPropertyDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListBills returns the scope's billing records.
func (h *Handler) ListBills(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.loadScope(w, r, false)
	if !ok {
		return
	}

	bills, err := h.Store.ListBills(r.Context(), scope)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list bills", err)
		return
	}
	dtos := make([]BillDTO, len(bills))
	for i, b := range bills {
		dtos[i] = toBillDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) loadCouncil(w http.ResponseWriter, r *http.Request) (*rates.Council, bool) {
	id := chi.URLParam(r, "id")
	council, err := h.Store.GetCouncil(r.Context(), rates.CouncilID(id))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get council", err)
		return nil, false
	}
	if council == nil {
		writeError(w, http.StatusNotFound, "Council not found", nil)
		return nil, false
	}
	return council, true
}

// loadScope resolves {id} and {period}. Writes into an inactive council are
// refused when requireActive is set; reads and resets are still allowed.
func (h *Handler) loadScope(w http.ResponseWriter, r *http.Request, requireActive bool) (rates.Scope, bool) {
	council, ok := h.loadCouncil(w, r)
	if !ok {
		return rates.Scope{}, false
	}
	if requireActive && !council.Active {
		writeError(w, http.StatusUnprocessableEntity, "Council is inactive", rates.ErrCouncilInactive)
		return rates.Scope{}, false
	}

	scope := rates.Scope{Council: *council, Period: rates.RatingPeriod(strings.TrimSpace(chi.URLParam(r, "period")))}
	if err := scope.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid scope", err)
		return rates.Scope{}, false
	}
	return scope, true
}

func (h *Handler) maxUpload() int64 {
	if h.MaxUpload <= 0 {
		return DefaultMaxUpload
	}
	return h.MaxUpload
}

func requestFormat(r *http.Request) (extract.Format, error) {
	if f := r.URL.Query().Get("format"); f != "" {
		return extract.FormatOf("extract." + f)
	}
	if strings.Contains(r.Header.Get("Content-Type"), "spreadsheetml") {
		return extract.FormatXLSX, nil
	}
	return extract.FormatCSV, nil
}

func queryBool(s string) bool {
	b, _ := strconv.ParseBool(s)
	return b
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps rates errors to HTTP statuses.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case rates.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	case rates.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case rates.IsConstraintViolation(err):
		writeError(w, http.StatusConflict, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
