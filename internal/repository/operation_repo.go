package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"fuelgrid/internal/models"
)

// OperationRepository persists fuel sale operations.
type OperationRepository struct {
	db *sql.DB
}

// NewOperationRepository returns repository.
func NewOperationRepository(db *sql.DB) *OperationRepository {
	return &OperationRepository{db: db}
}

const operationColumns = `external_transaction_id, trading_point_id, fuel_type, quantity, price, total_cost, payment_method, status, start_time, metadata`

// ExistingExternalIDs loads all non-null external transaction ids already
// persisted for the trading point. Loaded once per station per sync run.
func (r *OperationRepository) ExistingExternalIDs(ctx context.Context, tradingPointID int64) (map[string]struct{}, error) {
	const query = `
		SELECT external_transaction_id
		FROM operations
		WHERE trading_point_id = $1 AND external_transaction_id IS NOT NULL
	`
	rows, err := r.db.QueryContext(ctx, query, tradingPointID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// UpsertBatch writes operations in one statement keyed by
// (trading_point_id, external_transaction_id). Without force a duplicate key
// is a no-op skip; with force the existing row is overwritten. Returns the
// number of rows actually written.
func (r *OperationRepository) UpsertBatch(ctx context.Context, ops []models.Operation, force bool) (int, error) {
	if len(ops) == 0 {
		return 0, nil
	}

	args := make([]any, 0, len(ops)*10)
	placeholders := make([]string, 0, len(ops))
	for i, op := range ops {
		base := i * 10
		placeholders = append(placeholders, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10))

		metadata, err := marshalMetadata(op.Metadata)
		if err != nil {
			return 0, fmt.Errorf("repository: encode metadata: %w", err)
		}
		args = append(args,
			nullableID(op.ExternalTransactionID),
			op.TradingPointID,
			op.FuelType,
			op.Quantity,
			op.Price,
			op.TotalCost,
			op.PaymentMethod,
			op.Status,
			op.StartTime,
			metadata,
		)
	}

	query := fmt.Sprintf(`
		INSERT INTO operations (%s)
		VALUES %s
		%s
	`, operationColumns, strings.Join(placeholders, ", "), conflictClause(force))

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

// UpsertOne writes a single operation; used as the per-record fallback when a
// batch statement fails. Returns false when the row was skipped as a duplicate.
func (r *OperationRepository) UpsertOne(ctx context.Context, op models.Operation, force bool) (bool, error) {
	written, err := r.UpsertBatch(ctx, []models.Operation{op}, force)
	if err != nil {
		return false, err
	}
	return written > 0, nil
}

// ListByTradingPoint returns latest operations for the dashboard.
func (r *OperationRepository) ListByTradingPoint(ctx context.Context, tradingPointID int64, limit int) ([]models.Operation, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`
		SELECT id, %s, created_at, updated_at
		FROM operations
		WHERE trading_point_id = $1
		ORDER BY start_time DESC
		LIMIT $2
	`, operationColumns)

	rows, err := r.db.QueryContext(ctx, query, tradingPointID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []models.Operation
	for rows.Next() {
		var op models.Operation
		var externalID sql.NullString
		var metadata []byte
		if err := rows.Scan(
			&op.ID,
			&externalID,
			&op.TradingPointID,
			&op.FuelType,
			&op.Quantity,
			&op.Price,
			&op.TotalCost,
			&op.PaymentMethod,
			&op.Status,
			&op.StartTime,
			&metadata,
			&op.CreatedAt,
			&op.UpdatedAt,
		); err != nil {
			return nil, err
		}
		op.ExternalTransactionID = externalID.String
		if len(metadata) > 0 {
			_ = json.Unmarshal(metadata, &op.Metadata)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ops, nil
}

func conflictClause(force bool) string {
	if force {
		return `
		ON CONFLICT (trading_point_id, external_transaction_id) WHERE external_transaction_id IS NOT NULL
		DO UPDATE SET
			fuel_type = EXCLUDED.fuel_type,
			quantity = EXCLUDED.quantity,
			price = EXCLUDED.price,
			total_cost = EXCLUDED.total_cost,
			payment_method = EXCLUDED.payment_method,
			status = EXCLUDED.status,
			start_time = EXCLUDED.start_time,
			metadata = EXCLUDED.metadata,
			updated_at = NOW()`
	}
	return `
		ON CONFLICT (trading_point_id, external_transaction_id) WHERE external_transaction_id IS NOT NULL
		DO NOTHING`
}

func nullableID(id string) any {
	if strings.TrimSpace(id) == "" {
		return nil
	}
	return id
}

func marshalMetadata(metadata map[string]any) (any, error) {
	if len(metadata) == 0 {
		return nil, nil
	}
	return json.Marshal(metadata)
}
