package models

import "time"

// Operation is a persisted fuel sale at a trading point. Records imported
// from the external trading network carry the upstream transaction id in
// ExternalTransactionID; manually entered records leave it empty.
type Operation struct {
	ID                    int64          `json:"id"`
	ExternalTransactionID string         `json:"external_transaction_id,omitempty"`
	TradingPointID        int64          `json:"trading_point_id"`
	FuelType              string         `json:"fuel_type"`
	Quantity              float64        `json:"quantity"`
	Price                 float64        `json:"price"`
	TotalCost             float64        `json:"total_cost"`
	PaymentMethod         string         `json:"payment_method"`
	Status                string         `json:"status"`
	StartTime             time.Time      `json:"start_time"`
	Metadata              map[string]any `json:"metadata,omitempty"`
	CreatedAt             time.Time      `json:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at"`
}
