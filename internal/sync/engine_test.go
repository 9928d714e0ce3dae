package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"fuelgrid/internal/models"
)

type fakeResolver struct {
	refs map[int64]models.StationRef
	errs map[int64]error
}

func (f *fakeResolver) Resolve(_ context.Context, tradingPointID int64) (models.StationRef, error) {
	if err, ok := f.errs[tradingPointID]; ok {
		return models.StationRef{}, err
	}
	ref, ok := f.refs[tradingPointID]
	if !ok {
		return models.StationRef{}, fmt.Errorf("no ref for %d", tradingPointID)
	}
	return ref, nil
}

type fetchWindow struct {
	from, to time.Time
}

type fakeFetcher struct {
	mu      sync.Mutex
	records map[string][]map[string]any
	errs    map[string]error
	windows []fetchWindow
	gate    chan struct{}
}

func (f *fakeFetcher) Transactions(_ context.Context, _, stationID string, from, to time.Time) ([]map[string]any, error) {
	f.mu.Lock()
	f.windows = append(f.windows, fetchWindow{from: from, to: to})
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err, ok := f.errs[stationID]; ok {
		return nil, err
	}
	return f.records[stationID], nil
}

type fakeStore struct {
	mu        sync.Mutex
	persisted map[int64]map[string]struct{}
	unkeyed   int
	batchErr  error
	recordErr map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{persisted: map[int64]map[string]struct{}{}}
}

func (f *fakeStore) ExistingExternalIDs(_ context.Context, tradingPointID int64) (map[string]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make(map[string]struct{}, len(f.persisted[tradingPointID]))
	for id := range f.persisted[tradingPointID] {
		ids[id] = struct{}{}
	}
	return ids, nil
}

func (f *fakeStore) UpsertBatch(_ context.Context, ops []models.Operation, force bool) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.batchErr != nil {
		return 0, f.batchErr
	}
	written := 0
	for _, op := range ops {
		if f.write(op, force) {
			written++
		}
	}
	return written, nil
}

func (f *fakeStore) UpsertOne(_ context.Context, op models.Operation, force bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.recordErr[op.ExternalTransactionID]; ok {
		return false, err
	}
	return f.write(op, force), nil
}

// write mirrors the upsert semantics: unkeyed rows always insert, keyed rows
// conflict-skip unless forced.
func (f *fakeStore) write(op models.Operation, force bool) bool {
	if op.ExternalTransactionID == "" {
		f.unkeyed++
		return true
	}
	ids, ok := f.persisted[op.TradingPointID]
	if !ok {
		ids = map[string]struct{}{}
		f.persisted[op.TradingPointID] = ids
	}
	if _, exists := ids[op.ExternalTransactionID]; exists && !force {
		return false
	}
	ids[op.ExternalTransactionID] = struct{}{}
	return true
}

func (f *fakeStore) seed(tradingPointID int64, ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.persisted[tradingPointID]
	if !ok {
		set = map[string]struct{}{}
		f.persisted[tradingPointID] = set
	}
	for _, id := range ids {
		set[id] = struct{}{}
	}
}

type fakeLister struct {
	points []models.TradingPoint
}

func (f *fakeLister) ActiveTradingPoints(context.Context) ([]models.TradingPoint, error) {
	return f.points, nil
}

type fakeState struct {
	mu        sync.Mutex
	lastRun   any
	successes map[int64]time.Time
}

func newFakeState() *fakeState {
	return &fakeState{successes: map[int64]time.Time{}}
}

func (f *fakeState) SaveLastRun(_ context.Context, result any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastRun = result
	return nil
}

func (f *fakeState) SetLastSuccess(_ context.Context, tradingPointID int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.successes[tradingPointID] = at
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []Event
}

func (f *fakePublisher) Publish(event Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakePublisher) stages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var stages []string
	for _, e := range f.events {
		stages = append(stages, e.Stage)
	}
	return stages
}

func record(id string, total float64) map[string]any {
	return map[string]any{
		"transaction_id": id,
		"dt":             "2026-08-20T10:30:00Z",
		"fuel_name":      "AI-95",
		"volume":         40.5,
		"price":          1.25,
		"total":          total,
		"payment":        "card",
		"status":         "ok",
	}
}

type testEnv struct {
	engine    *Engine
	resolver  *fakeResolver
	fetcher   *fakeFetcher
	store     *fakeStore
	state     *fakeState
	publisher *fakePublisher
}

func newTestEnv(points ...int64) *testEnv {
	env := &testEnv{
		resolver:  &fakeResolver{refs: map[int64]models.StationRef{}, errs: map[int64]error{}},
		fetcher:   &fakeFetcher{records: map[string][]map[string]any{}, errs: map[string]error{}},
		store:     newFakeStore(),
		state:     newFakeState(),
		publisher: &fakePublisher{},
	}
	lister := &fakeLister{}
	for _, id := range points {
		env.resolver.refs[id] = models.StationRef{SystemID: "sys-1", StationID: fmt.Sprintf("st-%d", id)}
		lister.points = append(lister.points, models.TradingPoint{ID: id, Active: true})
	}
	env.engine = NewEngine(env.resolver, env.fetcher, env.store, lister, env.state, env.publisher, Config{BatchSize: 2}, zap.NewNop())
	env.engine.sleep = func(context.Context, time.Duration) error { return nil }
	return env
}

func TestSyncTwoStationScenario(t *testing.T) {
	env := newTestEnv(1, 2)
	env.fetcher.records["st-1"] = []map[string]any{record("a1", 10), record("a2", 20), record("a3", 30)}
	env.fetcher.records["st-2"] = []map[string]any{record("b1", 40), record("b2", 50)}
	env.store.seed(2, "b1")

	result, err := env.engine.Sync(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if result.RecordsFetched != 5 {
		t.Fatalf("fetched = %d, want 5", result.RecordsFetched)
	}
	if result.RecordsSynced != 4 {
		t.Fatalf("synced = %d, want 4", result.RecordsSynced)
	}
	if result.RecordsSkipped != 1 {
		t.Fatalf("skipped = %d, want 1", result.RecordsSkipped)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}
	if result.StationsProcessed != 2 {
		t.Fatalf("stations = %d, want 2", result.StationsProcessed)
	}
	if !result.Success {
		t.Fatal("expected successful run")
	}
}

func TestSyncSecondRunSkipsEverything(t *testing.T) {
	env := newTestEnv(1)
	env.fetcher.records["st-1"] = []map[string]any{record("a1", 10), record("a2", 20), record("a3", 30)}

	first, err := env.engine.Sync(context.Background(), Options{})
	if err != nil {
		t.Fatalf("first Sync: %v", err)
	}
	if first.RecordsSynced != 3 {
		t.Fatalf("first run synced = %d, want 3", first.RecordsSynced)
	}

	second, err := env.engine.Sync(context.Background(), Options{})
	if err != nil {
		t.Fatalf("second Sync: %v", err)
	}
	if second.RecordsSynced != 0 {
		t.Fatalf("second run synced = %d, want 0", second.RecordsSynced)
	}
	if second.RecordsSkipped != 3 {
		t.Fatalf("second run skipped = %d, want 3", second.RecordsSkipped)
	}
	if !second.Success {
		t.Fatal("a run with nothing new is still a success")
	}
}

func TestSyncPartialFailureContainment(t *testing.T) {
	env := newTestEnv(1, 2, 3)
	env.fetcher.records["st-1"] = []map[string]any{record("a1", 10)}
	env.fetcher.errs["st-2"] = errors.New("fetch transactions: GET /v1/transactions returned status 503")
	env.fetcher.records["st-3"] = []map[string]any{record("c1", 30)}

	result, err := env.engine.Sync(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if result.RecordsSynced != 2 {
		t.Fatalf("synced = %d, want 2", result.RecordsSynced)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("errors = %v, want exactly one", result.Errors)
	}
	if result.Errors[0].RecordID != "station:2" {
		t.Fatalf("error attributed to %q, want station:2", result.Errors[0].RecordID)
	}
	if result.StationsProcessed != 3 {
		t.Fatalf("stations = %d, want 3", result.StationsProcessed)
	}

	env.state.mu.Lock()
	defer env.state.mu.Unlock()
	if _, ok := env.state.successes[2]; ok {
		t.Fatal("failed station must not be marked successful")
	}
	if _, ok := env.state.successes[1]; !ok {
		t.Fatal("healthy station must be marked successful")
	}
}

func TestSyncRejectsConcurrentRun(t *testing.T) {
	env := newTestEnv(1)
	gate := make(chan struct{})
	env.fetcher.gate = gate
	env.fetcher.records["st-1"] = []map[string]any{record("a1", 10)}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = env.engine.Sync(context.Background(), Options{})
	}()

	// Wait for the first run to reach the fetch suspension point.
	deadline := time.After(2 * time.Second)
	for !env.engine.Running() {
		select {
		case <-deadline:
			t.Fatal("first run never started")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	_, err := env.engine.Sync(context.Background(), Options{})
	if !errors.Is(err, ErrSyncAlreadyRunning) {
		t.Fatalf("expected ErrSyncAlreadyRunning, got %v", err)
	}

	close(gate)
	<-done
	if env.engine.Running() {
		t.Fatal("running flag must clear after the run")
	}
}

func TestSyncForceRepersistsDuplicates(t *testing.T) {
	env := newTestEnv(1)
	env.fetcher.records["st-1"] = []map[string]any{record("a1", 10), record("a2", 20)}
	env.store.seed(1, "a1", "a2")

	result, err := env.engine.Sync(context.Background(), Options{ForceSync: true})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if result.RecordsSynced != 2 {
		t.Fatalf("synced = %d, want 2 with force", result.RecordsSynced)
	}
	if result.RecordsSkipped != 0 {
		t.Fatalf("skipped = %d, want 0 with force", result.RecordsSkipped)
	}
}

func TestSyncFallsBackToSingleRecordsOnBatchFailure(t *testing.T) {
	env := newTestEnv(1)
	env.fetcher.records["st-1"] = []map[string]any{record("a1", 10), record("a2", 20)}
	env.store.batchErr = errors.New("malformed row")
	env.store.recordErr = map[string]error{"a2": errors.New("value out of range")}

	result, err := env.engine.Sync(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if result.RecordsSynced != 1 {
		t.Fatalf("synced = %d, want 1", result.RecordsSynced)
	}
	if len(result.Errors) != 1 || result.Errors[0].RecordID != "a2" {
		t.Fatalf("errors = %v, want one for a2", result.Errors)
	}
}

func TestSyncUnkeyedRecordsAlwaysPersist(t *testing.T) {
	env := newTestEnv(1)
	unkeyed := map[string]any{"fuel_name": "DT", "volume": 10.0, "total": 15.0}
	env.fetcher.records["st-1"] = []map[string]any{unkeyed, unkeyed}

	result, err := env.engine.Sync(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if result.RecordsSynced != 2 {
		t.Fatalf("synced = %d, want 2 (unkeyed records never dedup)", result.RecordsSynced)
	}
}

func TestSyncDefaultsWindowToLastSevenDays(t *testing.T) {
	env := newTestEnv(1)
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	env.engine.now = func() time.Time { return now }
	env.fetcher.records["st-1"] = nil

	if _, err := env.engine.Sync(context.Background(), Options{}); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(env.fetcher.windows) != 1 {
		t.Fatalf("expected one fetch, got %d", len(env.fetcher.windows))
	}
	window := env.fetcher.windows[0]
	if !window.to.Equal(now) {
		t.Fatalf("window end = %v, want %v", window.to, now)
	}
	if !window.from.Equal(now.Add(-7 * 24 * time.Hour)) {
		t.Fatalf("window start = %v, want 7 days before end", window.from)
	}
}

func TestSyncEmptyFetchIsSuccess(t *testing.T) {
	env := newTestEnv(1)
	env.fetcher.records["st-1"] = nil

	result, err := env.engine.Sync(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if !result.Success || len(result.Errors) != 0 {
		t.Fatalf("expected clean success, got %+v", result)
	}
}

func TestSyncPublishesProgress(t *testing.T) {
	env := newTestEnv(1)
	env.fetcher.records["st-1"] = []map[string]any{record("a1", 10)}

	if _, err := env.engine.Sync(context.Background(), Options{}); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	stages := env.publisher.stages()
	if len(stages) == 0 || stages[len(stages)-1] != "done" {
		t.Fatalf("expected final done event, got %v", stages)
	}
	if !containsStage(stages, "persisting") || !containsStage(stages, "station_done") {
		t.Fatalf("missing progress stages: %v", stages)
	}
}

func containsStage(stages []string, want string) bool {
	return strings.Contains(strings.Join(stages, ","), want)
}
