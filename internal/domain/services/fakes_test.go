package services

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/athebyme/gomarket-platform/marketplace-service/internal/adapters/logger"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/adapters/storage/memory"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/domain/mapping"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/domain/models"
	"github.com/athebyme/gomarket-platform/marketplace-service/pkg/interfaces"
)

var errUnreachable = errors.New("connection refused")

type fakeRules map[string]*models.CategoryMapping

func (f fakeRules) RulesFor(_ context.Context, categoryKey string) (*models.CategoryMapping, error) {
	return f[categoryKey], nil
}

type fakeSpecSource struct {
	mu    sync.Mutex
	sets  map[string]models.SpecSet
	err   error
	calls int
}

func (f *fakeSpecSource) FetchSpec(_ context.Context, categoryKey string) (models.SpecSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.sets[categoryKey], nil
}

func (f *fakeSpecSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSubmitTransport struct {
	mu       sync.Mutex
	failures int // сколько первых вызовов завершатся ошибкой
	emptyID  bool
	calls    int
	sent     []*models.Envelope
}

func (f *fakeSubmitTransport) Submit(_ context.Context, envelope *models.Envelope) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return "", fmt.Errorf("%w: 503 service unavailable", models.ErrTransport)
	}
	if f.emptyID {
		return "", nil
	}
	f.sent = append(f.sent, envelope)
	return "sub-" + envelope.Header.SubmissionContext, nil
}

// remoteFeed - состояние одной отправки на стороне маркетплейса
type remoteFeed struct {
	outcomes  []models.ItemOutcome
	declared  int
	succeeded int
	failed    int
	shortPage bool // отдать на одну запись меньше на первой странице
}

type fakeStatusTransport struct {
	mu    sync.Mutex
	feeds map[string]*remoteFeed
	err   error
	calls int
}

func newFakeStatus() *fakeStatusTransport {
	return &fakeStatusTransport{feeds: make(map[string]*remoteFeed)}
}

func (f *fakeStatusTransport) set(submissionID string, feed *remoteFeed) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feeds[submissionID] = feed
}

func (f *fakeStatusTransport) GetStatus(_ context.Context, submissionID string, offset, limit int) (*models.StatusPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	feed, ok := f.feeds[submissionID]
	if !ok {
		return &models.StatusPage{SubmissionID: submissionID}, nil
	}

	end := offset + limit
	if end > len(feed.outcomes) {
		end = len(feed.outcomes)
	}
	if offset > end {
		offset = end
	}
	if feed.shortPage && offset == 0 && end > 0 {
		end--
	}
	return &models.StatusPage{
		SubmissionID: submissionID,
		Declared:     feed.declared,
		Succeeded:    feed.succeeded,
		Failed:       feed.failed,
		Processing:   feed.declared - feed.succeeded - feed.failed,
		ItemOutcomes: append([]models.ItemOutcome(nil), feed.outcomes[offset:end]...),
	}, nil
}

type recordingEvents struct {
	mu     sync.Mutex
	events []models.FeedEvent
}

func (r *recordingEvents) PublishFeedEvent(_ context.Context, event models.FeedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingEvents) types() []models.FeedEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.FeedEventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func nopLogger() interfaces.LoggerPort {
	return logger.NewNop()
}

func seedCodes(store *memory.Storage, n int) {
	codes := make([]string, n)
	for i := range codes {
		codes[i] = fmt.Sprintf("0008%08d", i)
	}
	store.SeedIdentifiers(codes...)
}

func bootCategory() *models.CategoryMapping {
	return &models.CategoryMapping{
		Key:            "boots",
		MarketplaceKey: "Boots",
		Rules: []models.MappingRule{
			{TargetField: "item_name", Strategy: models.PassthroughField{Field: models.ProductFieldName}},
			{TargetField: "upc", Strategy: models.Computed{Function: models.ComputedIdentifier}},
			{TargetField: "condition", Strategy: models.SourceAttribute{Key: "condition"}},
			{TargetField: "main_image", Strategy: models.Computed{Function: models.ComputedPrimaryImage}},
		},
	}
}

func bootSpecSet() models.SpecSet {
	return models.SpecSet{
		"item_name":  {Name: "item_name", Kind: models.FieldKindText, Required: true},
		"upc":        {Name: "upc", Kind: models.FieldKindText, Required: true},
		"condition":  {Name: "condition", Kind: models.FieldKindSelect, Required: true, AllowedValues: []string{"New", "Used"}, DefaultValue: "New"},
		"main_image": {Name: "main_image", Kind: models.FieldKindText, Required: true},
	}
}

func bootProduct(key string) *models.Product {
	return &models.Product{
		Key:         key,
		Name:        "Hiking Boot " + key,
		SKU:         "SKU-" + key,
		Price:       49.5,
		Status:      "publish",
		CategoryKey: "boots",
		ImageURL:    "https://cdn.example.com/" + key + ".jpg",
	}
}

type builderFixture struct {
	store     *memory.Storage
	specs     *fakeSpecSource
	events    *recordingEvents
	allocator *Allocator
	builder   *FeedBuilder
}

func newBuilderFixture(codes int, cfg BuilderConfig) *builderFixture {
	store := memory.New()
	seedCodes(store, codes)
	specs := &fakeSpecSource{sets: map[string]models.SpecSet{"Boots": bootSpecSet()}}
	events := &recordingEvents{}
	log := nopLogger()

	provider := NewSpecProvider(specs, nil, SpecProviderConfig{}, log, nil)
	allocator := NewAllocator(store, log, nil)
	builder := NewFeedBuilder(FeedBuilderDeps{
		Products:  store,
		Rules:     fakeRules{"boots": bootCategory()},
		Specs:     provider,
		Allocator: allocator,
		Store:     store,
		Events:    events,
		Logger:    log,
	}, mapping.DefaultConfig(), cfg)

	return &builderFixture{store: store, specs: specs, events: events, allocator: allocator, builder: builder}
}

func (f *builderFixture) addProducts(keys ...string) {
	for _, k := range keys {
		f.store.PutProduct(bootProduct(k))
	}
}

func productKeys(n int) []string {
	keys := make([]string, n)
	for i := range keys {
		keys[i] = fmt.Sprintf("p-%03d", i)
	}
	return keys
}

// fakeCache - общий кэш в памяти с теми же правилами блокировок, что у Redis
type fakeCache struct {
	mu     sync.Mutex
	values map[string][]byte
	locks  map[string]bool
	gets   int
}

func newFakeCache() *fakeCache {
	return &fakeCache{values: make(map[string][]byte), locks: make(map[string]bool)}
}

func (c *fakeCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	v, ok := c.values[key]
	if !ok {
		return nil, nil
	}
	return v, nil
}

func (c *fakeCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
	return nil
}

func (c *fakeCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
	return nil
}

func (c *fakeCache) DeleteByPattern(_ context.Context, pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.values {
		if ok, _ := path.Match(pattern, k); ok {
			delete(c.values, k)
		}
	}
	return nil
}

func (c *fakeCache) Lock(_ context.Context, key string, _ time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locks[key] {
		return false, nil
	}
	c.locks[key] = true
	return true, nil
}

func (c *fakeCache) Unlock(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.locks, key)
	return nil
}

func (c *fakeCache) Close() error { return nil }

func (c *fakeCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.values[key]
	return ok
}
