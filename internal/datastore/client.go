package datastore

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"fuelgrid/internal/models"
	"fuelgrid/internal/transport"
)

// Client is the HTTP implementation of the operation store, used when
// persistence lives behind the internal data-store service instead of a
// local database. Duplicate-key conflicts are reported by the service as
// skipped rows, matching the repository's no-op semantics.
type Client struct {
	transport *transport.Client
	logger    *zap.Logger
}

// NewClient returns data-store client.
func NewClient(t *transport.Client, logger *zap.Logger) *Client {
	return &Client{transport: t, logger: logger}
}

// ExistingExternalIDs fetches persisted external ids for a trading point.
func (c *Client) ExistingExternalIDs(ctx context.Context, tradingPointID int64) (map[string]struct{}, error) {
	resp, err := c.transport.Execute(ctx, transport.DestinationDatastore, transport.Request{
		Method: http.MethodGet,
		Path:   "/v1/operations/external-ids",
		Query: []transport.QueryParam{
			{Key: "tradingPoint", Value: strconv.FormatInt(tradingPointID, 10)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("datastore: load external ids: %w", err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("datastore: load external ids: %s", resp.Error)
	}

	ids := make(map[string]struct{})
	list, _ := resp.Data.([]any)
	for _, item := range list {
		if id, ok := item.(string); ok && id != "" {
			ids[id] = struct{}{}
		}
	}
	return ids, nil
}

type batchRequest struct {
	Operations []models.Operation `json:"operations"`
	Force      bool               `json:"force"`
}

// UpsertBatch posts one batch; the service answers with how many rows it
// actually wrote.
func (c *Client) UpsertBatch(ctx context.Context, ops []models.Operation, force bool) (int, error) {
	if len(ops) == 0 {
		return 0, nil
	}
	resp, err := c.transport.Execute(ctx, transport.DestinationDatastore, transport.Request{
		Method: http.MethodPost,
		Path:   "/v1/operations/batch",
		Body:   batchRequest{Operations: ops, Force: force},
	})
	if err != nil {
		return 0, fmt.Errorf("datastore: upsert batch: %w", err)
	}
	if !resp.Success {
		return 0, fmt.Errorf("datastore: upsert batch: %s", resp.Error)
	}
	return writtenCount(resp.Data, len(ops)), nil
}

// UpsertOne posts a single operation; the per-record fallback path.
func (c *Client) UpsertOne(ctx context.Context, op models.Operation, force bool) (bool, error) {
	written, err := c.UpsertBatch(ctx, []models.Operation{op}, force)
	if err != nil {
		return false, err
	}
	return written > 0, nil
}

func writtenCount(data any, fallback int) int {
	payload, ok := data.(map[string]any)
	if !ok {
		return fallback
	}
	if n, ok := payload["written"].(float64); ok {
		return int(n)
	}
	return fallback
}
