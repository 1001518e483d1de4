package service

import (
	"context"
	"time"

	"github.com/citestack/citestack-worker/internal/models"
	"github.com/citestack/citestack-worker/internal/openrouter"
	"github.com/citestack/citestack-worker/internal/repository"
)

type mockJobQueue struct {
	enqueueFunc         func(ctx context.Context, userID string, itemID *string, jobType models.JobType, payload models.JSONB, runAfter *time.Time) (string, error)
	hasActiveEnrichFunc func(ctx context.Context, itemID string) (bool, error)

	enqueued []models.JobType
}

func (m *mockJobQueue) Enqueue(ctx context.Context, userID string, itemID *string, jobType models.JobType, payload models.JSONB, runAfter *time.Time) (string, error) {
	m.enqueued = append(m.enqueued, jobType)
	if m.enqueueFunc != nil {
		return m.enqueueFunc(ctx, userID, itemID, jobType, payload, runAfter)
	}
	return "job-1", nil
}

func (m *mockJobQueue) HasActiveEnrich(ctx context.Context, itemID string) (bool, error) {
	if m.hasActiveEnrichFunc != nil {
		return m.hasActiveEnrichFunc(ctx, itemID)
	}
	return false, nil
}

type mockCreditGate struct {
	tryDebitFunc func(ctx context.Context, userID string, amount int64, reason string, refs repository.EntryRefs) error
	grantFunc    func(ctx context.Context, userID string, amount int64, reason string, refs repository.EntryRefs) error

	debits []int64
	grants []int64
}

func (m *mockCreditGate) TryDebit(ctx context.Context, userID string, amount int64, reason string, refs repository.EntryRefs) error {
	if m.tryDebitFunc != nil {
		if err := m.tryDebitFunc(ctx, userID, amount, reason, refs); err != nil {
			return err
		}
	}
	m.debits = append(m.debits, amount)
	return nil
}

func (m *mockCreditGate) Grant(ctx context.Context, userID string, amount int64, reason string, refs repository.EntryRefs) error {
	if m.grantFunc != nil {
		if err := m.grantFunc(ctx, userID, amount, reason, refs); err != nil {
			return err
		}
	}
	m.grants = append(m.grants, amount)
	return nil
}

type mockItemStore struct {
	createFunc            func(ctx context.Context, item *models.Item) error
	getByIDFunc           func(ctx context.Context, itemID string) (*models.Item, error)
	getOwnedFunc          func(ctx context.Context, userID, itemID string) (*models.Item, error)
	findByFingerprintFunc func(ctx context.Context, userID string, sourceType models.SourceType, fp string) (*models.Item, error)
	markExtractedFunc     func(ctx context.Context, itemID string, content repository.ExtractedContent) error
	markEnrichedFunc      func(ctx context.Context, itemID string, out repository.EnrichmentOutput) error

	created      []*models.Item
	touched      []string
	failed       map[string]string
	clearedError []string
	filePaths    map[string]string
	attached     []string
	titled       map[string]string
	deleted      []string
}

func newMockItemStore() *mockItemStore {
	return &mockItemStore{
		failed:    make(map[string]string),
		filePaths: make(map[string]string),
		titled:    make(map[string]string),
	}
}

func (m *mockItemStore) Create(ctx context.Context, item *models.Item) error {
	if m.createFunc != nil {
		if err := m.createFunc(ctx, item); err != nil {
			return err
		}
	}
	m.created = append(m.created, item)
	return nil
}

func (m *mockItemStore) GetByID(ctx context.Context, itemID string) (*models.Item, error) {
	if m.getByIDFunc != nil {
		return m.getByIDFunc(ctx, itemID)
	}
	return nil, repository.ErrItemNotFound
}

func (m *mockItemStore) GetOwned(ctx context.Context, userID, itemID string) (*models.Item, error) {
	if m.getOwnedFunc != nil {
		return m.getOwnedFunc(ctx, userID, itemID)
	}
	return nil, repository.ErrItemNotFound
}

func (m *mockItemStore) FindByFingerprint(ctx context.Context, userID string, sourceType models.SourceType, fp string) (*models.Item, error) {
	if m.findByFingerprintFunc != nil {
		return m.findByFingerprintFunc(ctx, userID, sourceType, fp)
	}
	return nil, repository.ErrItemNotFound
}

func (m *mockItemStore) TouchLastSaved(ctx context.Context, itemID string) error {
	m.touched = append(m.touched, itemID)
	return nil
}

func (m *mockItemStore) SetFilePath(ctx context.Context, itemID, path string) error {
	m.filePaths[itemID] = path
	return nil
}

func (m *mockItemStore) ClearError(ctx context.Context, itemID string) error {
	m.clearedError = append(m.clearedError, itemID)
	return nil
}

func (m *mockItemStore) Delete(ctx context.Context, itemID string) error {
	m.deleted = append(m.deleted, itemID)
	return nil
}

func (m *mockItemStore) AttachToCollection(ctx context.Context, userID, collectionID, itemID string) error {
	m.attached = append(m.attached, collectionID+":"+itemID)
	return nil
}

func (m *mockItemStore) MarkExtracted(ctx context.Context, itemID string, content repository.ExtractedContent) error {
	if m.markExtractedFunc != nil {
		return m.markExtractedFunc(ctx, itemID, content)
	}
	return nil
}

func (m *mockItemStore) MarkEnriched(ctx context.Context, itemID string, out repository.EnrichmentOutput) error {
	if m.markEnrichedFunc != nil {
		return m.markEnrichedFunc(ctx, itemID, out)
	}
	return nil
}

func (m *mockItemStore) SetSuggestedTitleAsTitle(ctx context.Context, itemID, title string) error {
	m.titled[itemID] = title
	return nil
}

func (m *mockItemStore) MarkFailed(ctx context.Context, itemID, msg string) error {
	m.failed[itemID] = msg
	return nil
}

type mockFileStore struct {
	uploadFunc   func(ctx context.Context, key string, data []byte, contentType string) error
	downloadFunc func(ctx context.Context, key string) ([]byte, error)

	uploads map[string][]byte
	deleted []string
}

func newMockFileStore() *mockFileStore {
	return &mockFileStore{uploads: make(map[string][]byte)}
}

func (m *mockFileStore) ObjectKey(userID, itemID, filename string) string {
	return "items/" + userID + "/" + itemID + "/" + filename
}

func (m *mockFileStore) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	if m.uploadFunc != nil {
		if err := m.uploadFunc(ctx, key, data, contentType); err != nil {
			return err
		}
	}
	m.uploads[key] = data
	return nil
}

func (m *mockFileStore) Delete(ctx context.Context, key string) error {
	m.deleted = append(m.deleted, key)
	delete(m.uploads, key)
	return nil
}

func (m *mockFileStore) Download(ctx context.Context, key string) ([]byte, error) {
	if m.downloadFunc != nil {
		return m.downloadFunc(ctx, key)
	}
	if data, ok := m.uploads[key]; ok {
		return data, nil
	}
	return nil, repository.ErrItemNotFound
}

type mockComparisonStore struct {
	createFunc func(ctx context.Context, c *models.Comparison) error

	created       []*models.Comparison
	running       []string
	succeeded     map[string]models.JSONB
	failedReasons map[string]string
}

func newMockComparisonStore() *mockComparisonStore {
	return &mockComparisonStore{
		succeeded:     make(map[string]models.JSONB),
		failedReasons: make(map[string]string),
	}
}

func (m *mockComparisonStore) Create(ctx context.Context, c *models.Comparison) error {
	if m.createFunc != nil {
		if err := m.createFunc(ctx, c); err != nil {
			return err
		}
	}
	m.created = append(m.created, c)
	return nil
}

func (m *mockComparisonStore) GetOwned(ctx context.Context, userID, id string) (*models.Comparison, error) {
	for _, c := range m.created {
		if c.ID == id && c.UserID == userID {
			return c, nil
		}
	}
	return nil, repository.ErrComparisonNotFound
}

func (m *mockComparisonStore) MarkRunning(ctx context.Context, id string) error {
	m.running = append(m.running, id)
	return nil
}

func (m *mockComparisonStore) MarkSucceeded(ctx context.Context, id string, result models.JSONB) error {
	m.succeeded[id] = result
	return nil
}

func (m *mockComparisonStore) MarkFailed(ctx context.Context, id, errMsg string) error {
	m.failedReasons[id] = errMsg
	return nil
}

type mockEnricher struct {
	enrichFunc func(ctx context.Context, text string, mode openrouter.EnrichMode) (*openrouter.EnrichResult, error)
}

func (m *mockEnricher) EnrichText(ctx context.Context, text string, mode openrouter.EnrichMode) (*openrouter.EnrichResult, error) {
	if m.enrichFunc != nil {
		return m.enrichFunc(ctx, text, mode)
	}
	return &openrouter.EnrichResult{
		Abstract: "An abstract.",
		Bullets:  []string{"a point"},
		Tags:     []string{"go"},
	}, nil
}

type mockComparer struct {
	compareFunc func(ctx context.Context, sources []openrouter.CompareSource) (*openrouter.CompareResult, error)
}

func (m *mockComparer) CompareItems(ctx context.Context, sources []openrouter.CompareSource) (*openrouter.CompareResult, error) {
	if m.compareFunc != nil {
		return m.compareFunc(ctx, sources)
	}
	return &openrouter.CompareResult{
		CommonThemes: []string{"a theme"},
		Differences:  []string{"a difference"},
	}, nil
}

type mockPageFetcher struct {
	fetchFunc func(ctx context.Context, url string) ([]byte, error)
}

func (m *mockPageFetcher) FetchPage(ctx context.Context, url string) ([]byte, error) {
	if m.fetchFunc != nil {
		return m.fetchFunc(ctx, url)
	}
	return nil, nil
}
