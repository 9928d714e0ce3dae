package sync

import (
	"testing"
	"time"

	"fuelgrid/internal/models"
)

var testRef = models.StationRef{SystemID: "sys-1", StationID: "st-7"}

func TestTransformExtractsCanonicalFields(t *testing.T) {
	op := transformRecord(map[string]any{
		"transaction_id": "tx-100",
		"dt":             "2026-08-20T10:30:00Z",
		"fuel_name":      "AI-95",
		"volume":         40.5,
		"price":          1.25,
		"total":          50.62,
		"payment":        "card",
		"status":         "ok",
	}, 7, testRef)

	if op.ExternalTransactionID != "tx-100" {
		t.Fatalf("external id = %q", op.ExternalTransactionID)
	}
	if op.TradingPointID != 7 {
		t.Fatalf("trading point = %d", op.TradingPointID)
	}
	want := time.Date(2026, 8, 20, 10, 30, 0, 0, time.UTC)
	if !op.StartTime.Equal(want) {
		t.Fatalf("start time = %v", op.StartTime)
	}
	if op.FuelType != "AI-95" || op.Quantity != 40.5 || op.Price != 1.25 || op.TotalCost != 50.62 {
		t.Fatalf("unexpected fields: %+v", op)
	}
	if op.PaymentMethod != "card" || op.Status != "completed" {
		t.Fatalf("vocabulary mapping failed: %s / %s", op.PaymentMethod, op.Status)
	}
	if _, degraded := op.Metadata["degraded_fields"]; degraded {
		t.Fatal("fully-populated record must not be marked degraded")
	}
}

func TestTransformAcceptsFieldNameVariants(t *testing.T) {
	cases := []struct {
		name string
		raw  map[string]any
	}{
		{"legacy", map[string]any{"id": "tx-1", "timestamp": "2026-08-20 10:30:00", "fuel": "DT", "quantity": "12.5", "unit_price": "1.10", "sum": "13.75"}},
		{"camel", map[string]any{"transactionId": "tx-1", "dateTime": "2026-08-20T10:30:00", "fuelName": "DT", "qty": 12.5, "unitPrice": 1.10, "cost": 13.75}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			op := transformRecord(tc.raw, 1, testRef)
			if op.ExternalTransactionID != "tx-1" {
				t.Fatalf("external id = %q", op.ExternalTransactionID)
			}
			if op.StartTime.IsZero() {
				t.Fatal("timestamp variant not extracted")
			}
			if op.FuelType != "DT" {
				t.Fatalf("fuel = %q", op.FuelType)
			}
			if op.Quantity != 12.5 || op.Price != 1.10 || op.TotalCost != 13.75 {
				t.Fatalf("numeric variants not extracted: %+v", op)
			}
		})
	}
}

func TestTransformDegradesMissingFieldsToZero(t *testing.T) {
	op := transformRecord(map[string]any{"transaction_id": "tx-2"}, 1, testRef)

	if op.Quantity != 0 || op.Price != 0 || op.TotalCost != 0 {
		t.Fatalf("expected zero fallbacks, got %+v", op)
	}
	if op.FuelType != "" {
		t.Fatalf("expected empty fuel type, got %q", op.FuelType)
	}
	if !op.StartTime.IsZero() {
		t.Fatalf("expected zero start time, got %v", op.StartTime)
	}

	degraded, ok := op.Metadata["degraded_fields"].([]string)
	if !ok || len(degraded) != 5 {
		t.Fatalf("expected all five extracted fields flagged, got %v", op.Metadata["degraded_fields"])
	}
}

func TestTransformMalformedValuesDegradeNotFail(t *testing.T) {
	op := transformRecord(map[string]any{
		"transaction_id": "tx-3",
		"dt":             "not a date",
		"volume":         "many litres",
		"price":          nil,
		"total":          "12,50",
	}, 1, testRef)

	if op.Quantity != 0 {
		t.Fatalf("malformed quantity should degrade to 0, got %v", op.Quantity)
	}
	// Comma decimal separators show up in older payloads and must parse.
	if op.TotalCost != 12.5 {
		t.Fatalf("total = %v, want 12.5", op.TotalCost)
	}
	if !op.StartTime.IsZero() {
		t.Fatalf("malformed timestamp should degrade, got %v", op.StartTime)
	}
}

func TestVocabularyMapsFallThroughToDefaults(t *testing.T) {
	cases := []struct {
		payment, status         string
		wantPayment, wantStatus string
	}{
		{"1", "0", "card", "completed"},
		{"fleet", "storno", "fuel_card", "cancelled"},
		{"CASH", "Active", "cash", "in_progress"},
		{"crypto-voucher", "exploded", "other", "completed"},
		{"", "", "other", "completed"},
	}

	for _, tc := range cases {
		if got := mapPaymentMethod(tc.payment); got != tc.wantPayment {
			t.Errorf("payment %q -> %q, want %q", tc.payment, got, tc.wantPayment)
		}
		if got := mapStatus(tc.status); got != tc.wantStatus {
			t.Errorf("status %q -> %q, want %q", tc.status, got, tc.wantStatus)
		}
	}
}

func TestTransformUnixTimestamp(t *testing.T) {
	op := transformRecord(map[string]any{"transaction_id": "tx-4", "dt": float64(1756600000)}, 1, testRef)
	if op.StartTime.IsZero() {
		t.Fatal("unix timestamp not extracted")
	}
}
