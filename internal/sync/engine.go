package sync

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"fuelgrid/internal/models"
)

// ErrSyncAlreadyRunning is returned when a run is requested while another is
// in flight. The guard is process-level: the upstream API and the write path
// are shared resources.
var ErrSyncAlreadyRunning = errors.New("sync: run already in progress")

const (
	defaultWindow       = 7 * 24 * time.Hour
	defaultBatchSize    = 200
	defaultBatchPause   = 200 * time.Millisecond
	defaultStationPause = 500 * time.Millisecond
)

// StationResolver maps a trading point to the external identifier pair.
type StationResolver interface {
	Resolve(ctx context.Context, tradingPointID int64) (models.StationRef, error)
}

// TransactionFetcher pulls raw transaction records for one station.
type TransactionFetcher interface {
	Transactions(ctx context.Context, systemID, stationID string, from, to time.Time) ([]map[string]any, error)
}

// OperationStore persists transformed operations idempotently, keyed by
// (trading point, external transaction id).
type OperationStore interface {
	ExistingExternalIDs(ctx context.Context, tradingPointID int64) (map[string]struct{}, error)
	UpsertBatch(ctx context.Context, ops []models.Operation, force bool) (int, error)
	UpsertOne(ctx context.Context, op models.Operation, force bool) (bool, error)
}

// StationLister enumerates the trading points in scope for a full run.
type StationLister interface {
	ActiveTradingPoints(ctx context.Context) ([]models.TradingPoint, error)
}

// StateStore records run outcomes for the dashboard; may be nil.
type StateStore interface {
	SaveLastRun(ctx context.Context, result any) error
	SetLastSuccess(ctx context.Context, tradingPointID int64, at time.Time) error
}

// Publisher fans progress events out to dashboard clients; may be nil.
type Publisher interface {
	Publish(event Event)
}

// Config tunes batching and pacing.
type Config struct {
	BatchSize    int
	BatchPause   time.Duration
	StationPause time.Duration
}

// Engine orchestrates fetch, transform, dedup and batch persist per station.
// All mutable run state lives on the instance; two engines never share state.
type Engine struct {
	resolver  StationResolver
	fetcher   TransactionFetcher
	store     OperationStore
	stations  StationLister
	state     StateStore
	publisher Publisher
	logger    *zap.Logger
	cfg       Config

	running atomic.Bool
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time
}

// NewEngine builds a sync engine.
func NewEngine(resolver StationResolver, fetcher TransactionFetcher, store OperationStore, stations StationLister, state StateStore, publisher Publisher, cfg Config, logger *zap.Logger) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.BatchPause <= 0 {
		cfg.BatchPause = defaultBatchPause
	}
	if cfg.StationPause <= 0 {
		cfg.StationPause = defaultStationPause
	}
	return &Engine{
		resolver:  resolver,
		fetcher:   fetcher,
		store:     store,
		stations:  stations,
		state:     state,
		publisher: publisher,
		logger:    logger,
		cfg:       cfg,
		sleep:     sleepCtx,
		now:       time.Now,
	}
}

// Running reports whether a run is in flight.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Sync executes one run. Station and record failures are accumulated into the
// result; only a concurrent-run attempt or a completely unusable station
// scope comes back as an error.
func (e *Engine) Sync(ctx context.Context, opts Options) (*Result, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrSyncAlreadyRunning
	}
	defer e.running.Store(false)

	from, to := e.window(opts)
	points, err := e.scope(ctx, opts)
	if err != nil {
		return nil, err
	}

	result := &Result{StartedAt: e.now(), Errors: []RecordError{}}
	e.logger.Info("sync run started",
		zap.Int("stations", len(points)),
		zap.Time("from", from),
		zap.Time("to", to),
		zap.Bool("force", opts.ForceSync),
	)

	for i, pointID := range points {
		e.syncStation(ctx, result, pointID, from, to, opts.ForceSync)
		result.StationsProcessed++
		e.publish(Event{Stage: "station_done", TradingPointID: pointID, Fetched: result.RecordsFetched, Synced: result.RecordsSynced, Skipped: result.RecordsSkipped, Errors: len(result.Errors)})
		if i < len(points)-1 {
			if err := e.sleep(ctx, e.cfg.StationPause); err != nil {
				result.addError(fmt.Sprintf("station:%d", pointID), err.Error())
				break
			}
		}
	}

	result.FinishedAt = e.now()
	result.Success = result.RecordsSynced > 0 || len(result.Errors) == 0

	if e.state != nil {
		if err := e.state.SaveLastRun(ctx, result); err != nil {
			e.logger.Warn("failed to save run result", zap.Error(err))
		}
	}
	e.publish(Event{Stage: "done", Fetched: result.RecordsFetched, Synced: result.RecordsSynced, Skipped: result.RecordsSkipped, Errors: len(result.Errors)})
	e.logger.Info("sync run finished",
		zap.Int("stations_processed", result.StationsProcessed),
		zap.Int("fetched", result.RecordsFetched),
		zap.Int("synced", result.RecordsSynced),
		zap.Int("skipped", result.RecordsSkipped),
		zap.Int("errors", len(result.Errors)),
	)
	return result, nil
}

func (e *Engine) syncStation(ctx context.Context, result *Result, pointID int64, from, to time.Time, force bool) {
	stationKey := fmt.Sprintf("station:%d", pointID)

	ref, err := e.resolver.Resolve(ctx, pointID)
	if err != nil {
		result.addError(stationKey, err.Error())
		return
	}

	raw, err := e.fetcher.Transactions(ctx, ref.SystemID, ref.StationID, from, to)
	if err != nil {
		result.addError(stationKey, err.Error())
		return
	}
	result.RecordsFetched += len(raw)
	e.publish(Event{Stage: "fetched", TradingPointID: pointID, Fetched: result.RecordsFetched, Synced: result.RecordsSynced, Skipped: result.RecordsSkipped, Errors: len(result.Errors)})
	if len(raw) == 0 {
		e.markSuccess(ctx, pointID)
		return
	}

	existing := map[string]struct{}{}
	if !force {
		existing, err = e.store.ExistingExternalIDs(ctx, pointID)
		if err != nil {
			result.addError(stationKey, fmt.Sprintf("load persisted ids: %v", err))
			return
		}
	}

	var pending []models.Operation
	for _, record := range raw {
		op := transformRecord(record, pointID, ref)
		// A record with no determinable external id is non-deduplicable and
		// always persisted: a possible duplicate beats dropped revenue data.
		if !force && op.ExternalTransactionID != "" {
			if _, seen := existing[op.ExternalTransactionID]; seen {
				result.RecordsSkipped++
				continue
			}
			existing[op.ExternalTransactionID] = struct{}{}
		}
		pending = append(pending, op)
	}

	errorsBefore := len(result.Errors)
	for start := 0; start < len(pending); start += e.cfg.BatchSize {
		end := start + e.cfg.BatchSize
		if end > len(pending) {
			end = len(pending)
		}
		e.persistBatch(ctx, result, pending[start:end], force)
		e.publish(Event{Stage: "persisting", TradingPointID: pointID, Fetched: result.RecordsFetched, Synced: result.RecordsSynced, Skipped: result.RecordsSkipped, Errors: len(result.Errors)})
		if end < len(pending) {
			if err := e.sleep(ctx, e.cfg.BatchPause); err != nil {
				result.addError(stationKey, err.Error())
				return
			}
		}
	}

	if len(result.Errors) == errorsBefore {
		e.markSuccess(ctx, pointID)
	}
}

// persistBatch upserts one batch; when the whole statement fails it falls
// back to one record at a time so a single bad record does not sacrifice the
// rest of the batch.
func (e *Engine) persistBatch(ctx context.Context, result *Result, batch []models.Operation, force bool) {
	written, err := e.store.UpsertBatch(ctx, batch, force)
	if err == nil {
		result.RecordsSynced += written
		result.RecordsSkipped += len(batch) - written
		return
	}

	e.logger.Warn("batch upsert failed, retrying records individually",
		zap.Int("batch_size", len(batch)),
		zap.Error(err),
	)
	for _, op := range batch {
		wrote, err := e.store.UpsertOne(ctx, op, force)
		if err != nil {
			result.addError(recordKey(op), err.Error())
			continue
		}
		if wrote {
			result.RecordsSynced++
		} else {
			result.RecordsSkipped++
		}
	}
}

func (e *Engine) markSuccess(ctx context.Context, pointID int64) {
	if e.state == nil {
		return
	}
	if err := e.state.SetLastSuccess(ctx, pointID, e.now()); err != nil {
		e.logger.Warn("failed to record last success", zap.Int64("trading_point_id", pointID), zap.Error(err))
	}
}

func (e *Engine) window(opts Options) (time.Time, time.Time) {
	to := opts.EndDate
	if to.IsZero() {
		to = e.now()
	}
	from := opts.StartDate
	if from.IsZero() {
		from = to.Add(-defaultWindow)
	}
	return from, to
}

func (e *Engine) scope(ctx context.Context, opts Options) ([]int64, error) {
	if opts.StationID != 0 {
		return []int64{opts.StationID}, nil
	}
	points, err := e.stations.ActiveTradingPoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("sync: list trading points: %w", err)
	}
	ids := make([]int64, 0, len(points))
	for _, p := range points {
		ids = append(ids, p.ID)
	}
	return ids, nil
}

func (e *Engine) publish(event Event) {
	if e.publisher != nil {
		e.publisher.Publish(event)
	}
}

func recordKey(op models.Operation) string {
	if op.ExternalTransactionID != "" {
		return op.ExternalTransactionID
	}
	return fmt.Sprintf("station:%d:unkeyed", op.TradingPointID)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
