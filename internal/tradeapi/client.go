package tradeapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"fuelgrid/internal/transport"
)

const dateFormat = "2006-01-02"

// Client wraps the trading network's transaction endpoint.
type Client struct {
	transport *transport.Client
	logger    *zap.Logger
}

// NewClient returns trade API client.
func NewClient(t *transport.Client, logger *zap.Logger) *Client {
	return &Client{transport: t, logger: logger}
}

// Transactions fetches raw transaction records for one station and window.
// The upstream payload is either a bare array or an object wrapping the array
// under "transactions" or "data"; all three shapes are accepted.
func (c *Client) Transactions(ctx context.Context, systemID, stationID string, from, to time.Time) ([]map[string]any, error) {
	resp, err := c.transport.Execute(ctx, transport.DestinationTradeAPI, transport.Request{
		Method: http.MethodGet,
		Path:   "/v1/transactions",
		Query: []transport.QueryParam{
			{Key: "system", Value: systemID},
			{Key: "station", Value: stationID},
			{Key: "dt_beg", Value: from.Format(dateFormat)},
			{Key: "dt_end", Value: to.Format(dateFormat)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("tradeapi: fetch transactions: %w", err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("tradeapi: fetch transactions: %s", resp.Error)
	}

	records, ok := extractRecords(resp.Data)
	if !ok {
		c.logger.Warn("unexpected transactions payload shape",
			zap.String("system", systemID),
			zap.String("station", stationID),
		)
		return nil, fmt.Errorf("tradeapi: unexpected payload shape for station %s", stationID)
	}
	return records, nil
}

// extractRecords resolves the three historical payload shapes: a bare array,
// {"transactions": [...]}, or {"data": [...]}.
func extractRecords(data any) ([]map[string]any, bool) {
	switch payload := data.(type) {
	case nil:
		return nil, true
	case []any:
		return toRecordList(payload)
	case map[string]any:
		if list, ok := payload["transactions"].([]any); ok {
			return toRecordList(list)
		}
		if list, ok := payload["data"].([]any); ok {
			return toRecordList(list)
		}
		return nil, false
	default:
		return nil, false
	}
}

func toRecordList(list []any) ([]map[string]any, bool) {
	records := make([]map[string]any, 0, len(list))
	for _, item := range list {
		record, ok := item.(map[string]any)
		if !ok {
			// A non-object entry degrades to an empty record rather than
			// failing the batch.
			record = map[string]any{}
		}
		records = append(records, record)
	}
	return records, true
}
