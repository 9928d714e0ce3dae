package repository

import (
	"context"
	"database/sql"
	"errors"

	"fuelgrid/internal/models"
)

var (
	// ErrTradingPointNotFound is returned when a trading point id has no row.
	ErrTradingPointNotFound = errors.New("repository: trading point not found")
	// ErrNetworkNotFound is returned when a network id has no row.
	ErrNetworkNotFound = errors.New("repository: network not found")
)

// StationRepository reads trading point and network reference data.
type StationRepository struct {
	db *sql.DB
}

// NewStationRepository returns repository.
func NewStationRepository(db *sql.DB) *StationRepository {
	return &StationRepository{db: db}
}

// TradingPoint loads a trading point by id.
func (r *StationRepository) TradingPoint(ctx context.Context, id int64) (*models.TradingPoint, error) {
	const query = `
		SELECT id, network_id, name, COALESCE(external_id, ''), active
		FROM trading_points
		WHERE id = $1
	`
	var tp models.TradingPoint
	err := r.db.QueryRowContext(ctx, query, id).Scan(&tp.ID, &tp.NetworkID, &tp.Name, &tp.ExternalID, &tp.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTradingPointNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tp, nil
}

// Network loads a network by id.
func (r *StationRepository) Network(ctx context.Context, id int64) (*models.Network, error) {
	const query = `
		SELECT id, name, COALESCE(external_id, '')
		FROM networks
		WHERE id = $1
	`
	var n models.Network
	err := r.db.QueryRowContext(ctx, query, id).Scan(&n.ID, &n.Name, &n.ExternalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNetworkNotFound
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// ActiveTradingPoints returns every active trading point in declared order.
func (r *StationRepository) ActiveTradingPoints(ctx context.Context) ([]models.TradingPoint, error) {
	const query = `
		SELECT id, network_id, name, COALESCE(external_id, ''), active
		FROM trading_points
		WHERE active = TRUE
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []models.TradingPoint
	for rows.Next() {
		var tp models.TradingPoint
		if err := rows.Scan(&tp.ID, &tp.NetworkID, &tp.Name, &tp.ExternalID, &tp.Active); err != nil {
			return nil, err
		}
		points = append(points, tp)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return points, nil
}
