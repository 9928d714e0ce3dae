package sync

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"fuelgrid/internal/models"
)

// Field name variants the trading API has used across schema revisions. Each
// extractor takes the first variant present; an absent or malformed field
// degrades that record's data, it never fails the batch.
var (
	externalIDKeys = []string{"id", "transaction_id", "transactionId", "guid"}
	timestampKeys  = []string{"dt", "timestamp", "date_time", "dateTime", "date"}
	fuelKeys       = []string{"fuel", "fuel_name", "fuelName", "product", "service"}
	quantityKeys   = []string{"volume", "quantity", "qty", "litres"}
	priceKeys      = []string{"price", "unit_price", "unitPrice"}
	totalKeys      = []string{"total", "sum", "total_sum", "cost"}
	paymentKeys    = []string{"payment", "payment_type", "paymentMethod", "pay_type"}
	statusKeys     = []string{"status", "state"}
)

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// paymentMethods maps upstream payment codes to the internal vocabulary.
var paymentMethods = map[string]string{
	"0":         "cash",
	"cash":      "cash",
	"1":         "card",
	"card":      "card",
	"bank_card": "card",
	"2":         "fuel_card",
	"fuel_card": "fuel_card",
	"fleet":     "fuel_card",
	"3":         "mobile",
	"online":    "mobile",
	"mobile":    "mobile",
}

const defaultPaymentMethod = "other"

// statuses maps upstream state codes to the internal vocabulary.
var statuses = map[string]string{
	"0":         "completed",
	"ok":        "completed",
	"done":      "completed",
	"success":   "completed",
	"completed": "completed",
	"1":         "in_progress",
	"active":    "in_progress",
	"progress":  "in_progress",
	"2":         "cancelled",
	"cancel":    "cancelled",
	"canceled":  "cancelled",
	"cancelled": "cancelled",
	"storno":    "cancelled",
}

const defaultStatus = "completed"

// transformRecord converts one raw upstream record into an internal
// operation. Fields that cannot be extracted fall back to zero values and are
// listed under metadata.degraded_fields so data-quality gaps stay visible.
func transformRecord(raw map[string]any, tradingPointID int64, ref models.StationRef) models.Operation {
	var degraded []string

	externalID := pickString(raw, externalIDKeys)
	startTime, ok := pickTime(raw, timestampKeys)
	if !ok {
		degraded = append(degraded, "start_time")
	}
	fuelType := pickString(raw, fuelKeys)
	if fuelType == "" {
		degraded = append(degraded, "fuel_type")
	}
	quantity, ok := pickFloat(raw, quantityKeys)
	if !ok {
		degraded = append(degraded, "quantity")
	}
	price, ok := pickFloat(raw, priceKeys)
	if !ok {
		degraded = append(degraded, "price")
	}
	total, ok := pickFloat(raw, totalKeys)
	if !ok {
		degraded = append(degraded, "total_cost")
	}

	metadata := map[string]any{
		"source":  "trade-api",
		"system":  ref.SystemID,
		"station": ref.StationID,
	}
	if len(degraded) > 0 {
		metadata["degraded_fields"] = degraded
	}

	return models.Operation{
		ExternalTransactionID: externalID,
		TradingPointID:        tradingPointID,
		FuelType:              fuelType,
		Quantity:              quantity,
		Price:                 price,
		TotalCost:             total,
		PaymentMethod:         mapPaymentMethod(pickString(raw, paymentKeys)),
		Status:                mapStatus(pickString(raw, statusKeys)),
		StartTime:             startTime,
		Metadata:              metadata,
	}
}

func mapPaymentMethod(code string) string {
	if mapped, ok := paymentMethods[strings.ToLower(strings.TrimSpace(code))]; ok {
		return mapped
	}
	return defaultPaymentMethod
}

func mapStatus(code string) string {
	if mapped, ok := statuses[strings.ToLower(strings.TrimSpace(code))]; ok {
		return mapped
	}
	return defaultStatus
}

func pickString(raw map[string]any, keys []string) string {
	for _, key := range keys {
		value, ok := raw[key]
		if !ok || value == nil {
			continue
		}
		switch v := value.(type) {
		case string:
			if trimmed := strings.TrimSpace(v); trimmed != "" {
				return trimmed
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			return strconv.FormatBool(v)
		default:
			return fmt.Sprintf("%v", v)
		}
	}
	return ""
}

func pickFloat(raw map[string]any, keys []string) (float64, bool) {
	for _, key := range keys {
		value, ok := raw[key]
		if !ok || value == nil {
			continue
		}
		switch v := value.(type) {
		case float64:
			return v, true
		case string:
			if parsed, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(v), ",", "."), 64); err == nil {
				return parsed, true
			}
		}
	}
	return 0, false
}

func pickTime(raw map[string]any, keys []string) (time.Time, bool) {
	for _, key := range keys {
		value, ok := raw[key]
		if !ok || value == nil {
			continue
		}
		switch v := value.(type) {
		case string:
			for _, layout := range timestampLayouts {
				if parsed, err := time.Parse(layout, strings.TrimSpace(v)); err == nil {
					return parsed, true
				}
			}
		case float64:
			// unix seconds
			if v > 0 {
				return time.Unix(int64(v), 0).UTC(), true
			}
		}
	}
	return time.Time{}, false
}
