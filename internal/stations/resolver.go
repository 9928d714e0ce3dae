package stations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"fuelgrid/internal/models"
	"fuelgrid/internal/repository"
)

const cacheTTL = 5 * time.Minute

var (
	// ErrTradingPointNotFound mirrors the repository sentinel for callers of
	// the resolver.
	ErrTradingPointNotFound = repository.ErrTradingPointNotFound
	// ErrNetworkNotFound mirrors the repository sentinel.
	ErrNetworkNotFound = repository.ErrNetworkNotFound
	// ErrExternalIDMissing is returned when the trading point or its network
	// has a blank external identifier. Distinct from the not-found errors
	// because the fix is filling a field, not creating a record.
	ErrExternalIDMissing = errors.New("stations: external id missing")
)

// Directory provides the reference data the resolver joins.
type Directory interface {
	TradingPoint(ctx context.Context, id int64) (*models.TradingPoint, error)
	Network(ctx context.Context, id int64) (*models.Network, error)
}

type cacheEntry struct {
	ref       models.StationRef
	expiresAt time.Time
}

// Resolver maps an internal trading point id to the external system/station
// identifier pair. Successful lookups are cached for five minutes; failures
// are never cached so a fixed record is picked up immediately.
type Resolver struct {
	directory Directory
	now       func() time.Time

	mu    sync.Mutex
	cache map[int64]cacheEntry
}

// NewResolver builds a resolver with an empty cache.
func NewResolver(directory Directory) *Resolver {
	return &Resolver{
		directory: directory,
		now:       time.Now,
		cache:     make(map[int64]cacheEntry),
	}
}

// Resolve returns the external identifier pair for the trading point.
func (r *Resolver) Resolve(ctx context.Context, tradingPointID int64) (models.StationRef, error) {
	if ref, ok := r.cached(tradingPointID); ok {
		return ref, nil
	}

	point, err := r.directory.TradingPoint(ctx, tradingPointID)
	if err != nil {
		return models.StationRef{}, err
	}
	network, err := r.directory.Network(ctx, point.NetworkID)
	if err != nil {
		return models.StationRef{}, err
	}

	systemID := strings.TrimSpace(network.ExternalID)
	stationID := strings.TrimSpace(point.ExternalID)
	if systemID == "" {
		return models.StationRef{}, fmt.Errorf("%w: network %d", ErrExternalIDMissing, network.ID)
	}
	if stationID == "" {
		return models.StationRef{}, fmt.Errorf("%w: trading point %d", ErrExternalIDMissing, point.ID)
	}

	ref := models.StationRef{SystemID: systemID, StationID: stationID}
	r.store(tradingPointID, ref)
	return ref, nil
}

func (r *Resolver) cached(tradingPointID int64) (models.StationRef, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.cache[tradingPointID]
	if !ok || r.now().After(entry.expiresAt) {
		delete(r.cache, tradingPointID)
		return models.StationRef{}, false
	}
	return entry.ref, true
}

func (r *Resolver) store(tradingPointID int64, ref models.StationRef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[tradingPointID] = cacheEntry{ref: ref, expiresAt: r.now().Add(cacheTTL)}
}
