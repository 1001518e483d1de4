package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/citestack/citestack-worker/internal/config"
	"github.com/citestack/citestack-worker/internal/models"
	"github.com/citestack/citestack-worker/internal/repository"
	"github.com/citestack/citestack-worker/internal/service"
)

type mockCaptureAPI struct {
	captureURLFunc   func(ctx context.Context, userID, rawURL string, collectionID *string) (*service.CaptureResult, error)
	capturePasteFunc func(ctx context.Context, userID, text string, title, collectionID *string) (*service.CaptureResult, error)
	reEnrichFunc     func(ctx context.Context, userID, itemID string) (*service.CaptureResult, error)
	compareFunc      func(ctx context.Context, userID string, itemIDs []string) (*models.Comparison, *repository.InsufficientCreditsError, error)

	captureCalls int
}

func freshResult(id string) *service.CaptureResult {
	return &service.CaptureResult{
		Item:  &models.Item{ID: id, UserID: "user-1", SourceType: models.SourceTypeURL, Status: models.ItemStatusCaptured},
		JobID: "job-1",
	}
}

func (m *mockCaptureAPI) CaptureURL(ctx context.Context, userID, rawURL string, collectionID *string) (*service.CaptureResult, error) {
	m.captureCalls++
	if m.captureURLFunc != nil {
		return m.captureURLFunc(ctx, userID, rawURL, collectionID)
	}
	return freshResult("item-1"), nil
}

func (m *mockCaptureAPI) CapturePaste(ctx context.Context, userID, text string, title, collectionID *string) (*service.CaptureResult, error) {
	m.captureCalls++
	if m.capturePasteFunc != nil {
		return m.capturePasteFunc(ctx, userID, text, title, collectionID)
	}
	return freshResult("item-2"), nil
}

func (m *mockCaptureAPI) CaptureFile(ctx context.Context, userID, filename, mimeType string, data []byte, collectionID *string) (*service.CaptureResult, error) {
	m.captureCalls++
	return freshResult("item-3"), nil
}

func (m *mockCaptureAPI) ReEnrich(ctx context.Context, userID, itemID string) (*service.CaptureResult, error) {
	if m.reEnrichFunc != nil {
		return m.reEnrichFunc(ctx, userID, itemID)
	}
	return &service.CaptureResult{Item: &models.Item{ID: itemID}, JobID: "job-9"}, nil
}

func (m *mockCaptureAPI) Compare(ctx context.Context, userID string, itemIDs []string) (*models.Comparison, *repository.InsufficientCreditsError, error) {
	if m.compareFunc != nil {
		return m.compareFunc(ctx, userID, itemIDs)
	}
	return &models.Comparison{ID: "cmp-1", UserID: userID, ItemIDs: models.StringList(itemIDs), Status: models.ComparisonStatusQueued}, nil, nil
}

type mockItemReader struct {
	getOwnedFunc func(ctx context.Context, userID, itemID string) (*models.Item, error)
}

func (m *mockItemReader) GetOwned(ctx context.Context, userID, itemID string) (*models.Item, error) {
	if m.getOwnedFunc != nil {
		return m.getOwnedFunc(ctx, userID, itemID)
	}
	return nil, repository.ErrItemNotFound
}

type mockJobReader struct{}

func (m *mockJobReader) GetByID(ctx context.Context, jobID string) (*models.Job, error) {
	if jobID != "job-1" {
		return nil, repository.ErrJobNotFound
	}
	return &models.Job{ID: "job-1", UserID: "user-1", Type: models.JobTypeEnrichItem, Status: models.JobStatusSucceeded}, nil
}

func (m *mockJobReader) ListRecent(ctx context.Context, userID string, limit int) ([]models.Job, error) {
	return []models.Job{{ID: "job-1", UserID: userID, Type: models.JobTypeEnrichItem, Status: models.JobStatusSucceeded}}, nil
}

type mockComparisonReader struct{}

func (m *mockComparisonReader) GetOwned(ctx context.Context, userID, id string) (*models.Comparison, error) {
	return nil, repository.ErrComparisonNotFound
}

type mockCreditReader struct {
	grants []int64
}

func (m *mockCreditReader) GetBalance(ctx context.Context, userID string) (*repository.Balance, error) {
	return &repository.Balance{Balance: 42, MonthlyGrant: 50, Plan: models.PlanFree}, nil
}

func (m *mockCreditReader) ListLedger(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error) {
	return []models.LedgerEntry{{ID: "l1", UserID: userID, Delta: -2, Reason: models.ReasonEnrichFull}}, nil
}

func (m *mockCreditReader) Grant(ctx context.Context, userID string, amount int64, reason string, refs repository.EntryRefs) error {
	m.grants = append(m.grants, amount)
	return nil
}

type mockIdempotencyStore struct {
	records map[string]*models.IdempotencyRecord
}

func newMockIdempotencyStore() *mockIdempotencyStore {
	return &mockIdempotencyStore{records: make(map[string]*models.IdempotencyRecord)}
}

func (m *mockIdempotencyStore) Get(ctx context.Context, userID, key string) (*models.IdempotencyRecord, error) {
	return m.records[userID+"/"+key], nil
}

func (m *mockIdempotencyStore) Put(ctx context.Context, userID, key string, status int, body []byte) error {
	m.records[userID+"/"+key] = &models.IdempotencyRecord{UserID: userID, Key: key, Status: status, Body: body}
	return nil
}

type mockQueueRunner struct {
	ran bool
}

func (m *mockQueueRunner) RunOnce(ctx context.Context) error {
	m.ran = true
	return nil
}

type serverFixture struct {
	server  *Server
	capture *mockCaptureAPI
	items   *mockItemReader
	credits *mockCreditReader
	idem    *mockIdempotencyStore
	runner  *mockQueueRunner
}

func newTestServer() *serverFixture {
	f := &serverFixture{
		capture: &mockCaptureAPI{},
		items:   &mockItemReader{},
		credits: &mockCreditReader{},
		idem:    newMockIdempotencyStore(),
		runner:  &mockQueueRunner{},
	}
	cfg := &config.Config{ListenAddr: ":0", AdminSecret: "topsecret"}
	f.server = New(f.capture, f.items, &mockJobReader{}, &mockComparisonReader{}, f.credits, f.idem, f.runner, cfg)
	return f
}

func doRequest(t *testing.T, f *serverFixture, method, path string, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("X-User-ID", "user-1")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealth_NoAuthRequired(t *testing.T) {
	f := newTestServer()
	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestAPI_RequiresUserHeader(t *testing.T) {
	f := newTestServer()
	req := httptest.NewRequest("GET", "/api/jobs", nil)
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestCaptureURL_Created(t *testing.T) {
	f := newTestServer()
	rec := doRequest(t, f, "POST", "/api/capture/url", `{"url":"https://example.com/a"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Item struct {
			ID string `json:"id"`
		} `json:"item"`
		Deduped bool   `json:"deduped"`
		JobID   string `json:"job_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response JSON: %v", err)
	}
	if resp.Item.ID != "item-1" || resp.Deduped || resp.JobID != "job-1" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestCaptureURL_DedupReturns200(t *testing.T) {
	f := newTestServer()
	f.capture.captureURLFunc = func(ctx context.Context, userID, rawURL string, collectionID *string) (*service.CaptureResult, error) {
		return &service.CaptureResult{Item: &models.Item{ID: "item-1"}, Deduped: true}, nil
	}
	rec := doRequest(t, f, "POST", "/api/capture/url", `{"url":"https://example.com/a"}`, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for dedup hit, got %d", rec.Code)
	}
}

func TestCaptureURL_MissingURL(t *testing.T) {
	f := newTestServer()
	rec := doRequest(t, f, "POST", "/api/capture/url", `{}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestCaptureURL_ValidationErrorIs400(t *testing.T) {
	f := newTestServer()
	f.capture.captureURLFunc = func(ctx context.Context, userID, rawURL string, collectionID *string) (*service.CaptureResult, error) {
		return nil, service.NewValidationError("invalid URL: unsupported scheme")
	}
	rec := doRequest(t, f, "POST", "/api/capture/url", `{"url":"ftp://example.com"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a rejected request, got %d", rec.Code)
	}
}

func TestCaptureURL_InfraErrorIs500(t *testing.T) {
	f := newTestServer()
	f.capture.captureURLFunc = func(ctx context.Context, userID, rawURL string, collectionID *string) (*service.CaptureResult, error) {
		return nil, errors.New("failed to enqueue extraction: connection refused")
	}
	rec := doRequest(t, f, "POST", "/api/capture/url", `{"url":"https://example.com/a"}`, nil)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 for a store failure, got %d", rec.Code)
	}
}

func TestCapturePaste_ShortfallInBody(t *testing.T) {
	f := newTestServer()
	f.capture.capturePasteFunc = func(ctx context.Context, userID, text string, title, collectionID *string) (*service.CaptureResult, error) {
		return &service.CaptureResult{
			Item:            &models.Item{ID: "item-2", Status: models.ItemStatusExtracted},
			CreditShortfall: &repository.InsufficientCreditsError{Required: 2, Balance: 1},
		}, nil
	}
	rec := doRequest(t, f, "POST", "/api/capture/paste", `{"text":"some notes"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "credit_shortfall") {
		t.Errorf("expected credit_shortfall in body: %s", rec.Body.String())
	}
}

func TestIdempotency_ReplaysCachedResponse(t *testing.T) {
	f := newTestServer()
	headers := map[string]string{"Idempotency-Key": "cap-123"}

	first := doRequest(t, f, "POST", "/api/capture/url", `{"url":"https://example.com/a"}`, headers)
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", first.Code)
	}

	second := doRequest(t, f, "POST", "/api/capture/url", `{"url":"https://example.com/a"}`, headers)
	if second.Code != http.StatusCreated {
		t.Fatalf("expected replayed 201, got %d", second.Code)
	}
	if second.Header().Get("Idempotency-Replayed") != "true" {
		t.Error("expected replay marker header")
	}
	if second.Body.String() != first.Body.String() {
		t.Error("replayed body differs from original")
	}
	if f.capture.captureCalls != 1 {
		t.Errorf("expected capture executed once, got %d", f.capture.captureCalls)
	}
}

func TestIdempotency_InvalidKeyRejected(t *testing.T) {
	f := newTestServer()
	headers := map[string]string{"Idempotency-Key": "bad key with spaces"}
	rec := doRequest(t, f, "POST", "/api/capture/url", `{"url":"https://example.com/a"}`, headers)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid key, got %d", rec.Code)
	}
}

func TestGetItem_NotFound(t *testing.T) {
	f := newTestServer()
	rec := doRequest(t, f, "GET", "/api/items/nope", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestGetItem_OwnedByOtherUserIsNotFound(t *testing.T) {
	f := newTestServer()
	f.items.getOwnedFunc = func(ctx context.Context, userID, itemID string) (*models.Item, error) {
		if userID != "owner" {
			return nil, repository.ErrItemNotFound
		}
		return &models.Item{ID: itemID, UserID: "owner"}, nil
	}
	rec := doRequest(t, f, "GET", "/api/items/item-1", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for another user's item, got %d", rec.Code)
	}
}

func TestGetJob_Owned(t *testing.T) {
	f := newTestServer()
	rec := doRequest(t, f, "GET", "/api/jobs/job-1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response JSON: %v", err)
	}
	if resp.ID != "job-1" || resp.Status != string(models.JobStatusSucceeded) {
		t.Errorf("unexpected job response: %+v", resp)
	}
}

func TestGetJob_OwnedByOtherUserIsNotFound(t *testing.T) {
	f := newTestServer()
	req := httptest.NewRequest("GET", "/api/jobs/job-1", nil)
	req.Header.Set("X-User-ID", "user-2")
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for another user's job, got %d", rec.Code)
	}
}

func TestGetJob_NotFound(t *testing.T) {
	f := newTestServer()
	rec := doRequest(t, f, "GET", "/api/jobs/nope", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestCompare_Shortfall(t *testing.T) {
	f := newTestServer()
	f.capture.compareFunc = func(ctx context.Context, userID string, itemIDs []string) (*models.Comparison, *repository.InsufficientCreditsError, error) {
		return nil, &repository.InsufficientCreditsError{Required: 1, Balance: 0}, nil
	}
	rec := doRequest(t, f, "POST", "/api/compare", `{"item_ids":["a","b"]}`, nil)
	if rec.Code != http.StatusPaymentRequired {
		t.Errorf("expected 402, got %d", rec.Code)
	}
}

func TestAccountUsage(t *testing.T) {
	f := newTestServer()
	rec := doRequest(t, f, "GET", "/api/account/usage", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Balance      int64 `json:"balance"`
		MonthlyGrant int64 `json:"monthly_grant"`
		Ledger       []struct {
			Delta int64 `json:"delta"`
		} `json:"ledger"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response JSON: %v", err)
	}
	if resp.Balance != 42 || resp.MonthlyGrant != 50 || len(resp.Ledger) != 1 {
		t.Errorf("unexpected usage response: %+v", resp)
	}
}

func TestAdminRunJobs_RequiresSecret(t *testing.T) {
	f := newTestServer()

	rec := doRequest(t, f, "POST", "/api/admin/jobs/run", "", nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 without secret, got %d", rec.Code)
	}
	if f.runner.ran {
		t.Error("runner should not run without the secret")
	}

	rec = doRequest(t, f, "POST", "/api/admin/jobs/run", "", map[string]string{"X-Admin-Secret": "topsecret"})
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 with secret, got %d", rec.Code)
	}
	if !f.runner.ran {
		t.Error("expected runner to run")
	}
}

func TestAdminGrant(t *testing.T) {
	f := newTestServer()
	headers := map[string]string{"X-Admin-Secret": "topsecret"}

	rec := doRequest(t, f, "POST", "/api/admin/credits/grant", `{"user_id":"user-2","amount":10}`, headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(f.credits.grants) != 1 || f.credits.grants[0] != 10 {
		t.Errorf("expected one grant of 10, got %v", f.credits.grants)
	}

	rec = doRequest(t, f, "POST", "/api/admin/credits/grant", `{"user_id":"user-2","amount":-5}`, headers)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for negative amount, got %d", rec.Code)
	}

	rec = doRequest(t, f, "POST", "/api/admin/credits/grant", `{"user_id":"user-2","amount":5,"reason":"monthly_grant"}`, headers)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for reserved reason, got %d", rec.Code)
	}
}

func TestAdminDisabledWithoutSecret(t *testing.T) {
	f := newTestServer()
	f.server.cfg.AdminSecret = ""

	rec := doRequest(t, f, "POST", "/api/admin/jobs/run", "", map[string]string{"X-Admin-Secret": ""})
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 when admin is disabled, got %d", rec.Code)
	}
}
