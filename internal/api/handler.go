package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/opensource-finance/listingrisk/internal/assessment"
	"github.com/opensource-finance/listingrisk/internal/classifier"
	"github.com/opensource-finance/listingrisk/internal/domain"
	"github.com/opensource-finance/listingrisk/internal/jobs"
	"github.com/opensource-finance/listingrisk/internal/repository"
	"github.com/opensource-finance/listingrisk/internal/rules"
	"github.com/opensource-finance/listingrisk/internal/training"
	"github.com/opensource-finance/listingrisk/internal/verification"
	"github.com/opensource-finance/listingrisk/internal/worker"
)

// Deps are the services behind the HTTP surface. Engine, Cache, Bus and
// Worker are optional.
type Deps struct {
	Repo       domain.Repository
	Cache      domain.Cache
	Bus        domain.EventBus
	Assessment *assessment.Service
	Engine     *rules.Engine
	Predictor  *classifier.Predictor
	Trainer    *jobs.TrainingRunner
	Worker     *worker.Worker
	Version    string

	// AssessOnIngest runs a synchronous assessment after POST /listings.
	AssessOnIngest bool
}

// Handler holds dependencies for API handlers.
type Handler struct {
	Deps
	validate *validator.Validate
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		Deps:     deps,
		validate: validator.New(),
	}
}

// ListingResponse is returned by POST /listings.
type ListingResponse struct {
	Listing    *domain.Listing        `json:"listing"`
	Assessment *domain.RiskAssessment `json:"assessment,omitempty"`
}

// CreateListing ingests a listing. With ?assess=true, or when the server
// assesses on ingest, the assessment is returned too.
func (h *Handler) CreateListing(w http.ResponseWriter, r *http.Request) {
	var req domain.ListingRequest
	if !h.decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	l := req.ToListing()
	if err := h.Assessment.Ingest(ctx, l); err != nil {
		writeError(w, err, "failed to ingest listing")
		return
	}

	resp := ListingResponse{Listing: l}
	if h.AssessOnIngest || r.URL.Query().Get("assess") == "true" {
		a, err := h.Assessment.Assess(ctx, l, nil)
		if err != nil {
			slog.Error("assessment after ingest failed", "listing_id", l.ID, "error", err)
			writeError(w, err, "failed to assess listing")
			return
		}
		resp.Assessment = a
	}

	writeJSON(w, http.StatusCreated, resp)
}

// ListListings returns the newest listings. ?limit= caps the count.
func (h *Handler) ListListings(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	listings, err := h.Repo.ListListings(r.Context(), limit)
	if err != nil {
		writeError(w, err, "failed to list listings")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"listings": listings,
		"count":    len(listings),
	})
}

// GetListing retrieves a listing by ID.
func (h *Handler) GetListing(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	l, err := h.Repo.GetListing(r.Context(), id)
	if err != nil {
		writeError(w, err, "listing not found")
		return
	}

	writeJSON(w, http.StatusOK, l)
}

// AssessRequest is the optional body for POST /listings/{id}/assess.
type AssessRequest struct {
	Documents []domain.DocumentResult `json:"documents" validate:"dive"`
}

// AssessListing assesses a stored listing. Supplied document results resolve
// and write back the verification status.
func (h *Handler) AssessListing(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req AssessRequest
	if r.ContentLength != 0 {
		if !h.decode(w, r, &req) {
			return
		}
	}

	a, err := h.Assessment.AssessByID(r.Context(), id, req.Documents)
	if err != nil {
		slog.Error("assessment failed", "listing_id", id, "error", err)
		writeError(w, err, "failed to assess listing")
		return
	}

	writeJSON(w, http.StatusOK, a)
}

// BatchRequest is the body for POST /assessments/batch.
type BatchRequest struct {
	ListingIDs []string `json:"listingIds" validate:"required,min=1,max=500,dive,required"`
}

// AssessBatch assesses stored listings concurrently. Per-listing failures,
// including unknown ids, are reported in the results.
func (h *Handler) AssessBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if !h.decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	results := make([]assessment.BatchResult, len(req.ListingIDs))
	var found []*domain.Listing
	var slots []int
	for i, id := range req.ListingIDs {
		l, err := h.Repo.GetListing(ctx, id)
		if err != nil {
			results[i] = assessment.BatchResult{ListingID: id, Error: err.Error()}
			continue
		}
		found = append(found, l)
		slots = append(slots, i)
	}

	for i, res := range h.Assessment.AssessBatch(ctx, found) {
		results[slots[i]] = res
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"count":   len(results),
	})
}

// GetAssessment retrieves a stored assessment.
func (h *Handler) GetAssessment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	a, err := h.Repo.GetAssessment(r.Context(), id)
	if err != nil {
		writeError(w, err, "assessment not found")
		return
	}

	writeJSON(w, http.StatusOK, a)
}

// FeaturesResponse pairs the vector with its column names.
type FeaturesResponse struct {
	Features domain.FeatureVector `json:"features"`
	Names    []string             `json:"names"`
}

// ExtractFeatures returns the feature vector for a listing without storing it.
func (h *Handler) ExtractFeatures(w http.ResponseWriter, r *http.Request) {
	var req domain.ListingRequest
	if !h.decode(w, r, &req) {
		return
	}

	writeJSON(w, http.StatusOK, FeaturesResponse{
		Features: h.Assessment.Features().Extract(req.ToListing()),
		Names:    domain.FeatureNames[:],
	})
}

// AnalyzeMarket returns the market context for a listing without storing it.
func (h *Handler) AnalyzeMarket(w http.ResponseWriter, r *http.Request) {
	var req domain.ListingRequest
	if !h.decode(w, r, &req) {
		return
	}

	writeJSON(w, http.StatusOK, h.Assessment.Market().Analyze(req.ToListing()))
}

// ResolveRequest is the body for POST /verification/resolve.
type ResolveRequest struct {
	Documents   []domain.DocumentResult     `json:"documents" validate:"dive"`
	FraudResult *domain.FraudAnalysisResult `json:"fraudResult"`
}

// ResolveStatus resolves the overall verification status.
func (h *Handler) ResolveStatus(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if !h.decode(w, r, &req) {
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": verification.Resolve(req.Documents, req.FraudResult),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	ctx := r.Context()

	if h.Repo != nil {
		if err := h.Repo.Ping(ctx); err != nil {
			status = "degraded"
		}
	}
	if h.Cache != nil {
		if err := h.Cache.Ping(ctx); err != nil {
			status = "degraded"
		}
	}
	if h.Bus != nil {
		if err := h.Bus.Ping(ctx); err != nil {
			status = "degraded"
		}
	}

	resp := map[string]any{
		"status":  status,
		"version": h.Version,
	}
	if h.Worker != nil {
		resp["worker"] = h.Worker.GetStats()
	}

	writeJSON(w, http.StatusOK, resp)
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	modelLoaded := h.Predictor != nil && h.Predictor.Model() != nil
	writeJSON(w, http.StatusOK, map[string]any{
		"ready":       true,
		"modelLoaded": modelLoaded,
	})
}

// decode reads and validates a JSON body, writing a 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": validationMessage(err),
		})
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	return fmt.Sprintf("field %s failed validation %q", fe.Namespace(), fe.Tag())
}

// statusFor maps sentinel errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, domain.ErrModelNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, training.ErrInsufficientData):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes msg with the status for err. Internal errors are not echoed.
func writeError(w http.ResponseWriter, err error, msg string) {
	status := statusFor(err)
	body := map[string]string{"error": msg}
	if status != http.StatusInternalServerError {
		body["detail"] = err.Error()
	}
	writeJSON(w, status, body)
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
