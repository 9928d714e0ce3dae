package tradeapi

import "testing"

func TestExtractRecordsAcceptsAllPayloadShapes(t *testing.T) {
	entry := map[string]any{"id": "t1"}

	cases := []struct {
		name    string
		payload any
		want    int
		ok      bool
	}{
		{"bare array", []any{entry, entry}, 2, true},
		{"transactions wrapper", map[string]any{"transactions": []any{entry}}, 1, true},
		{"data wrapper", map[string]any{"data": []any{entry, entry, entry}}, 3, true},
		{"empty body", nil, 0, true},
		{"unknown object", map[string]any{"items": []any{entry}}, 0, false},
		{"scalar", "oops", 0, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			records, ok := extractRecords(tc.payload)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if len(records) != tc.want {
				t.Fatalf("records = %d, want %d", len(records), tc.want)
			}
		})
	}
}

func TestExtractRecordsToleratesNonObjectEntries(t *testing.T) {
	records, ok := extractRecords([]any{map[string]any{"id": "t1"}, "garbage", 42.0})
	if !ok {
		t.Fatal("expected shape to be accepted")
	}
	if len(records) != 3 {
		t.Fatalf("records = %d, want 3", len(records))
	}
	if len(records[1]) != 0 || len(records[2]) != 0 {
		t.Fatal("non-object entries must degrade to empty records")
	}
}
