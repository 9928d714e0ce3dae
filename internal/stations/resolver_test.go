package stations

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fuelgrid/internal/models"
	"fuelgrid/internal/repository"
)

type fakeDirectory struct {
	mu         sync.Mutex
	points     map[int64]*models.TradingPoint
	networks   map[int64]*models.Network
	pointCalls int
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		points:   map[int64]*models.TradingPoint{},
		networks: map[int64]*models.Network{},
	}
}

func (f *fakeDirectory) TradingPoint(_ context.Context, id int64) (*models.TradingPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pointCalls++
	point, ok := f.points[id]
	if !ok {
		return nil, repository.ErrTradingPointNotFound
	}
	return point, nil
}

func (f *fakeDirectory) Network(_ context.Context, id int64) (*models.Network, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	network, ok := f.networks[id]
	if !ok {
		return nil, repository.ErrNetworkNotFound
	}
	return network, nil
}

func (f *fakeDirectory) lookupCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pointCalls
}

func seedStation(dir *fakeDirectory) {
	dir.points[1] = &models.TradingPoint{ID: 1, NetworkID: 10, ExternalID: "st-7", Active: true}
	dir.networks[10] = &models.Network{ID: 10, ExternalID: "sys-1"}
}

func TestResolveJoinsExternalIdentifiers(t *testing.T) {
	dir := newFakeDirectory()
	seedStation(dir)
	resolver := NewResolver(dir)

	ref, err := resolver.Resolve(context.Background(), 1)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ref.SystemID != "sys-1" || ref.StationID != "st-7" {
		t.Fatalf("unexpected ref: %+v", ref)
	}
}

func TestResolveDistinguishesFailures(t *testing.T) {
	dir := newFakeDirectory()
	dir.points[2] = &models.TradingPoint{ID: 2, NetworkID: 99, ExternalID: "st-2"}
	dir.points[3] = &models.TradingPoint{ID: 3, NetworkID: 10, ExternalID: "  "}
	dir.networks[10] = &models.Network{ID: 10, ExternalID: "sys-1"}
	resolver := NewResolver(dir)

	if _, err := resolver.Resolve(context.Background(), 42); !errors.Is(err, ErrTradingPointNotFound) {
		t.Fatalf("expected ErrTradingPointNotFound, got %v", err)
	}
	if _, err := resolver.Resolve(context.Background(), 2); !errors.Is(err, ErrNetworkNotFound) {
		t.Fatalf("expected ErrNetworkNotFound, got %v", err)
	}
	if _, err := resolver.Resolve(context.Background(), 3); !errors.Is(err, ErrExternalIDMissing) {
		t.Fatalf("expected ErrExternalIDMissing, got %v", err)
	}
}

func TestResolveCachesSuccessfulLookups(t *testing.T) {
	dir := newFakeDirectory()
	seedStation(dir)
	resolver := NewResolver(dir)

	for i := 0; i < 3; i++ {
		if _, err := resolver.Resolve(context.Background(), 1); err != nil {
			t.Fatalf("Resolve %d: %v", i, err)
		}
	}
	if n := dir.lookupCount(); n != 1 {
		t.Fatalf("expected a single directory lookup, got %d", n)
	}
}

func TestResolveCacheExpires(t *testing.T) {
	dir := newFakeDirectory()
	seedStation(dir)
	resolver := NewResolver(dir)

	current := time.Now()
	resolver.now = func() time.Time { return current }

	if _, err := resolver.Resolve(context.Background(), 1); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	current = current.Add(cacheTTL + time.Second)
	if _, err := resolver.Resolve(context.Background(), 1); err != nil {
		t.Fatalf("Resolve after expiry: %v", err)
	}
	if n := dir.lookupCount(); n != 2 {
		t.Fatalf("expected cache expiry to force a second lookup, got %d", n)
	}
}

func TestResolveDoesNotCacheFailures(t *testing.T) {
	dir := newFakeDirectory()
	resolver := NewResolver(dir)

	if _, err := resolver.Resolve(context.Background(), 1); err == nil {
		t.Fatal("expected failure for unknown trading point")
	}

	// Fixing the data upstream must take effect immediately.
	seedStation(dir)
	ref, err := resolver.Resolve(context.Background(), 1)
	if err != nil {
		t.Fatalf("Resolve after fix: %v", err)
	}
	if ref.StationID != "st-7" {
		t.Fatalf("unexpected ref: %+v", ref)
	}
}
