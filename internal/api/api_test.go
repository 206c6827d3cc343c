package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/opensource-finance/listingrisk/internal/assessment"
	"github.com/opensource-finance/listingrisk/internal/bus"
	"github.com/opensource-finance/listingrisk/internal/classifier"
	"github.com/opensource-finance/listingrisk/internal/domain"
	"github.com/opensource-finance/listingrisk/internal/jobs"
	"github.com/opensource-finance/listingrisk/internal/market"
	"github.com/opensource-finance/listingrisk/internal/modelstore"
	"github.com/opensource-finance/listingrisk/internal/repository"
	"github.com/opensource-finance/listingrisk/internal/rules"
	"github.com/opensource-finance/listingrisk/internal/training"
	"github.com/opensource-finance/listingrisk/internal/worker"
)

type fixedAnalyzer struct {
	result domain.FraudAnalysisResult
}

func (f fixedAnalyzer) Assess(ctx context.Context, l *domain.Listing, mc domain.MarketContext) domain.FraudAnalysisResult {
	return f.result
}

// createTestServer wires the full stack against a temp SQLite database and model directory.
func createTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(dir, "api-test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	engine, _ := rules.NewEngine(nil, 5)
	store, err := modelstore.NewFileStore(filepath.Join(dir, "models"), 0)
	if err != nil {
		t.Fatalf("failed to create model store: %v", err)
	}
	predictor := classifier.NewPredictor(store)

	svc := assessment.NewService(repo, market.New(market.DefaultTable()),
		fixedAnalyzer{result: domain.FraudAnalysisResult{
			SuspiciousScore: 0.1,
			RiskLevel:       domain.RiskLow,
			Source:          domain.SourceFallback,
		}},
		assessment.WithRules(engine, rules.DefaultVelocityWindow),
	)

	runner := jobs.NewTrainingRunner(repo, store, predictor, training.NewTrainer("1.0.0"), nil, 42)

	cfg := domain.ServerConfig{Host: "localhost", Port: 8080, ReadTimeout: 30, WriteTimeout: 30}
	return NewServer(cfg, Deps{
		Repo:       repo,
		Assessment: svc,
		Engine:     engine,
		Predictor:  predictor,
		Trainer:    runner,
		Version:    "test-v1",
	})
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			if err := json.NewEncoder(&buf).Encode(b); err != nil {
				t.Fatalf("failed to encode body: %v", err)
			}
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to parse response %q: %v", rr.Body.String(), err)
	}
}

func listingRequest(id string) domain.ListingRequest {
	return domain.ListingRequest{
		ID:        id,
		OwnerID:   "owner-" + id,
		Price:     14_000_000,
		Bedrooms:  2,
		Bathrooms: 2,
		FloorArea: 1000,
		Location:  "Westlands, Nairobi",
		Amenities: []string{"parking", "gym"},
		YearBuilt: 2019,
	}
}

func TestListingEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("CreateListing", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/listings", listingRequest("listing-001"))
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
		}
		var resp ListingResponse
		decodeBody(t, rr, &resp)
		if resp.Listing.ID != "listing-001" || resp.Listing.VerificationStatus != domain.StatusPending {
			t.Errorf("unexpected listing: %+v", resp.Listing)
		}
		if resp.Assessment != nil {
			t.Error("did not expect an assessment without ?assess=true")
		}
	})

	t.Run("CreateAndAssess", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/listings?assess=true", listingRequest("listing-002"))
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
		}
		var resp ListingResponse
		decodeBody(t, rr, &resp)
		if resp.Assessment == nil || resp.Assessment.RiskTier != domain.RiskLow {
			t.Errorf("expected low risk assessment, got %+v", resp.Assessment)
		}
	})

	t.Run("ValidationFailure", func(t *testing.T) {
		req := listingRequest("bad")
		req.OwnerID = ""
		rr := do(t, server, http.MethodPost, "/listings", req)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rr.Code)
		}
	})

	t.Run("TrustOutOfRange", func(t *testing.T) {
		req := listingRequest("bad-trust")
		trust := 1.5
		req.OwnerTrustScore = &trust
		rr := do(t, server, http.MethodPost, "/listings", req)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rr.Code)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/listings", "not-json")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rr.Code)
		}
	})

	t.Run("GetListing", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/listings/listing-001", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		var l domain.Listing
		decodeBody(t, rr, &l)
		if l.Location != "Westlands, Nairobi" {
			t.Errorf("unexpected location %q", l.Location)
		}
	})

	t.Run("GetListingNotFound", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/listings/missing", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rr.Code)
		}
	})

	t.Run("ListListings", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/listings?limit=10", nil)
		var resp struct {
			Count int `json:"count"`
		}
		decodeBody(t, rr, &resp)
		if resp.Count != 2 {
			t.Errorf("expected 2 listings, got %d", resp.Count)
		}

		if rr := do(t, server, http.MethodGet, "/listings?limit=abc", nil); rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for bad limit, got %d", rr.Code)
		}
	})

	t.Run("AssessWithDocuments", func(t *testing.T) {
		body := AssessRequest{Documents: []domain.DocumentResult{
			{Type: "title_deed", IsVerified: true, Confidence: 0.9},
			{Type: "id_card", IsVerified: true, Confidence: 0.8},
		}}
		rr := do(t, server, http.MethodPost, "/listings/listing-001/assess", body)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var a domain.RiskAssessment
		decodeBody(t, rr, &a)
		if a.Status != domain.StatusVerified {
			t.Errorf("expected verified, got %s", a.Status)
		}

		rr = do(t, server, http.MethodGet, "/assessments/"+a.ID, nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected stored assessment, got %d", rr.Code)
		}

		rr = do(t, server, http.MethodGet, "/listings/listing-001", nil)
		var l domain.Listing
		decodeBody(t, rr, &l)
		if l.VerificationStatus != domain.StatusVerified {
			t.Errorf("expected status written back, got %s", l.VerificationStatus)
		}
	})

	t.Run("AssessNotFound", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/listings/missing/assess", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rr.Code)
		}
	})

	t.Run("AssessInvalidConfidence", func(t *testing.T) {
		body := AssessRequest{Documents: []domain.DocumentResult{{IsVerified: true, Confidence: 3}}}
		rr := do(t, server, http.MethodPost, "/listings/listing-001/assess", body)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rr.Code)
		}
	})

	t.Run("AssessBatch", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/assessments/batch", BatchRequest{
			ListingIDs: []string{"listing-002", "missing", "listing-001"},
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var resp struct {
			Results []assessment.BatchResult `json:"results"`
		}
		decodeBody(t, rr, &resp)
		if len(resp.Results) != 3 {
			t.Fatalf("expected 3 results, got %d", len(resp.Results))
		}
		if resp.Results[0].ListingID != "listing-002" || resp.Results[0].Assessment == nil {
			t.Errorf("unexpected first result: %+v", resp.Results[0])
		}
		if resp.Results[1].ListingID != "missing" || resp.Results[1].Error == "" {
			t.Errorf("expected error for unknown listing: %+v", resp.Results[1])
		}
		if resp.Results[2].ListingID != "listing-001" || resp.Results[2].Assessment == nil {
			t.Errorf("unexpected last result: %+v", resp.Results[2])
		}
	})

	t.Run("AssessmentNotFound", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/assessments/missing", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rr.Code)
		}
	})
}

func TestPipelineEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("Features", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/features", listingRequest("f1"))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		var resp FeaturesResponse
		decodeBody(t, rr, &resp)
		if len(resp.Features) != domain.FeatureCount || len(resp.Names) != domain.FeatureCount {
			t.Errorf("expected %d features and names, got %d/%d", domain.FeatureCount, len(resp.Features), len(resp.Names))
		}
	})

	t.Run("Market", func(t *testing.T) {
		req := listingRequest("m1")
		req.Price = 1_000_000
		rr := do(t, server, http.MethodPost, "/market", req)
		var mc domain.MarketContext
		decodeBody(t, rr, &mc)
		if mc.Baseline != "Westlands" || !mc.IsUnderpriced {
			t.Errorf("expected underpriced Westlands listing, got %+v", mc)
		}
	})

	t.Run("ResolveStatus", func(t *testing.T) {
		tests := []struct {
			name string
			req  ResolveRequest
			want domain.VerificationStatus
		}{
			{"NoDocuments", ResolveRequest{}, domain.StatusPending},
			{"Verified", ResolveRequest{
				Documents: []domain.DocumentResult{{IsVerified: true, Confidence: 0.9}},
			}, domain.StatusVerified},
			{"Failed", ResolveRequest{
				Documents:   []domain.DocumentResult{{IsVerified: false, Confidence: 0.9}},
				FraudResult: &domain.FraudAnalysisResult{RiskLevel: domain.RiskLow},
			}, domain.StatusFailed},
			{"Suspicious", ResolveRequest{
				FraudResult: &domain.FraudAnalysisResult{IsSuspicious: true, RiskLevel: domain.RiskHigh},
			}, domain.StatusSuspicious},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				rr := do(t, server, http.MethodPost, "/verification/resolve", tt.req)
				var resp struct {
					Status domain.VerificationStatus `json:"status"`
				}
				decodeBody(t, rr, &resp)
				if resp.Status != tt.want {
					t.Errorf("expected %s, got %s", tt.want, resp.Status)
				}
			})
		}
	})
}

func TestModelEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("NoModelYet", func(t *testing.T) {
		if rr := do(t, server, http.MethodGet, "/models/current", nil); rr.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rr.Code)
		}
		if rr := do(t, server, http.MethodPost, "/models/reload", nil); rr.Code != http.StatusNotFound {
			t.Errorf("expected 404 on reload, got %d", rr.Code)
		}
	})

	t.Run("InsufficientData", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/models/train", nil)
		if rr.Code != http.StatusUnprocessableEntity {
			t.Errorf("expected 422, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("PredictWithoutModel", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/predict", PredictRequest{Features: make(domain.FeatureVector, domain.FeatureCount)})
		var resp struct {
			Prediction domain.Prediction `json:"prediction"`
		}
		decodeBody(t, rr, &resp)
		if resp.Prediction.Probability != 0.5 || resp.Prediction.Prediction {
			t.Errorf("expected uninformative prediction, got %+v", resp.Prediction)
		}
	})

	t.Run("TrainAndServe", func(t *testing.T) {
		for i := 0; i < 12; i++ {
			rr := do(t, server, http.MethodPost, "/listings", listingRequest(fmt.Sprintf("train-%02d", i)))
			if rr.Code != http.StatusCreated {
				t.Fatalf("ingest failed: %d", rr.Code)
			}
		}

		rr := do(t, server, http.MethodPost, "/training/examples", TrainingExamplesRequest{Limit: 100})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var built struct {
			Built int `json:"built"`
		}
		decodeBody(t, rr, &built)
		if built.Built != 12 {
			t.Errorf("expected 12 examples, got %d", built.Built)
		}

		rr = do(t, server, http.MethodPost, "/models/train", nil)
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
		}
		var res jobs.Result
		decodeBody(t, rr, &res)
		if res.Model.Seed != 42 || res.Model.SampleSize != 9 || res.Metrics.TestSize != 3 {
			t.Errorf("unexpected training result: seed=%d train=%d test=%d",
				res.Model.Seed, res.Model.SampleSize, res.Metrics.TestSize)
		}

		rr = do(t, server, http.MethodGet, "/models/current", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}

		rr = do(t, server, http.MethodPost, "/models/reload", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected 200 on reload, got %d", rr.Code)
		}

		fv := make(domain.FeatureVector, domain.FeatureCount)
		fv[domain.FeaturePrice] = 250
		rr = do(t, server, http.MethodPost, "/predict", PredictRequest{Features: fv})
		var resp struct {
			Prediction domain.Prediction `json:"prediction"`
		}
		decodeBody(t, rr, &resp)
		if resp.Prediction.Probability != 0.75 || !resp.Prediction.Prediction {
			t.Errorf("expected {0.75 true}, got %+v", resp.Prediction)
		}
	})

	t.Run("PredictFromListing", func(t *testing.T) {
		req := listingRequest("p1")
		rr := do(t, server, http.MethodPost, "/predict", PredictRequest{Listing: &req})
		if rr.Code != http.StatusOK {
			t.Errorf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("PredictWrongLength", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/predict", PredictRequest{Features: domain.FeatureVector{1, 2, 3}})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rr.Code)
		}
	})
}

func TestRuleEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("InvalidExpression", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/rules", CreateRuleRequest{
			ID: "bad", Name: "Bad", Expression: "price >>> 1", Enabled: true,
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rr.Code)
		}
	})

	t.Run("MissingFields", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/rules", CreateRuleRequest{ID: "x"})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rr.Code)
		}
	})

	t.Run("CreateReloadAndApply", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/rules", CreateRuleRequest{
			ID:         "underpriced",
			Name:       "Underpriced listing",
			Expression: "is_underpriced",
			Weight:     1,
			Enabled:    true,
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
		}

		var list struct {
			Count int `json:"count"`
		}
		decodeBody(t, do(t, server, http.MethodGet, "/rules", nil), &list)
		if list.Count != 0 {
			t.Errorf("expected rule not applied before reload, got %d", list.Count)
		}

		rr = do(t, server, http.MethodPost, "/rules/reload", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		decodeBody(t, do(t, server, http.MethodGet, "/rules", nil), &list)
		if list.Count != 1 {
			t.Errorf("expected 1 loaded rule, got %d", list.Count)
		}

		if rr := do(t, server, http.MethodGet, "/rules/underpriced", nil); rr.Code != http.StatusOK {
			t.Errorf("expected 200 for loaded rule, got %d", rr.Code)
		}
		if rr := do(t, server, http.MethodGet, "/rules/unknown", nil); rr.Code != http.StatusNotFound {
			t.Errorf("expected 404 for unknown rule, got %d", rr.Code)
		}

		req := listingRequest("cheap")
		req.Price = 1_000_000
		rr = do(t, server, http.MethodPost, "/listings?assess=true", req)
		var resp ListingResponse
		decodeBody(t, rr, &resp)
		if resp.Assessment == nil || !resp.Assessment.IsFraud {
			t.Errorf("expected failed rule to flag the listing, got %+v", resp.Assessment)
		}
	})
}

func TestHealthEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("HealthCheck", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/health", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
		var resp map[string]any
		decodeBody(t, rr, &resp)
		if resp["status"] != "healthy" || resp["version"] != "test-v1" {
			t.Errorf("unexpected health response: %v", resp)
		}
		if _, ok := resp["worker"]; ok {
			t.Error("worker stats reported without a worker")
		}
	})

	t.Run("HealthReportsWorker", func(t *testing.T) {
		eventBus := bus.NewChannelBus(10)
		t.Cleanup(func() { eventBus.Close() })

		w := worker.NewWorker(eventBus, server.Handler().Assessment)
		if err := w.Start(worker.Config{WorkerCount: 2}); err != nil {
			t.Fatalf("failed to start worker: %v", err)
		}
		t.Cleanup(func() { w.Stop() })

		deps := server.Handler().Deps
		deps.Bus = eventBus
		deps.Worker = w
		withWorker := NewServer(domain.ServerConfig{}, deps)

		rr := do(t, withWorker, http.MethodGet, "/health", nil)
		var resp struct {
			Status string       `json:"status"`
			Worker worker.Stats `json:"worker"`
		}
		decodeBody(t, rr, &resp)
		if resp.Status != "healthy" {
			t.Errorf("expected healthy, got %s", resp.Status)
		}
		if resp.Worker.SubscriptionCount != 1 || len(resp.Worker.Topics) != 1 || resp.Worker.Topics[0] != domain.TopicListingIngested {
			t.Errorf("unexpected worker stats: %+v", resp.Worker)
		}
	})

	t.Run("ReadyCheck", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/ready", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("Metrics", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/metrics", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("TracingMiddlewareSetsRequestID", func(t *testing.T) {
		var capturedRequestID string

		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v, ok := r.Context().Value(RequestIDKey).(string); ok {
				capturedRequestID = v
			}
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedRequestID == "" {
			t.Error("expected request ID to be set")
		}
		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID response header")
		}
	})

	t.Run("TracingMiddlewareKeepsRequestID", func(t *testing.T) {
		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "req-123")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if got := rr.Header().Get(RequestIDHeader); got != "req-123" {
			t.Errorf("expected req-123, got %q", got)
		}
	})

	t.Run("CORSPreflight", func(t *testing.T) {
		handler := CORSMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("preflight must not reach the handler")
		}))
		req := httptest.NewRequest(http.MethodOptions, "/listings", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusNoContent {
			t.Errorf("expected 204, got %d", rr.Code)
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})
}
