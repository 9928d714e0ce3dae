package sync

import "time"

// Options controls one sync invocation. A zero StationID means every active
// trading point; zero dates default to the last seven days ending now.
// ForceSync bypasses dedup by external id and re-persists everything.
type Options struct {
	StationID int64     `json:"station_id,omitempty"`
	StartDate time.Time `json:"start_date,omitempty"`
	EndDate   time.Time `json:"end_date,omitempty"`
	ForceSync bool      `json:"force_sync,omitempty"`
}

// RecordError is one accumulated failure, attributable to a station or a
// single record.
type RecordError struct {
	RecordID string `json:"record_id"`
	Message  string `json:"message"`
}

// Result is the transient outcome of one run. A run always completes and
// reports what succeeded and what did not; there is no failed terminal state.
type Result struct {
	Success           bool          `json:"success"`
	StationsProcessed int           `json:"stations_processed"`
	RecordsFetched    int           `json:"records_fetched"`
	RecordsSynced     int           `json:"records_synced"`
	RecordsSkipped    int           `json:"records_skipped"`
	Errors            []RecordError `json:"errors"`
	StartedAt         time.Time     `json:"started_at"`
	FinishedAt        time.Time     `json:"finished_at"`
}

func (r *Result) addError(recordID, message string) {
	r.Errors = append(r.Errors, RecordError{RecordID: recordID, Message: message})
}

// Event is a progress notification published while a run is in flight.
type Event struct {
	Stage          string `json:"stage"`
	TradingPointID int64  `json:"trading_point_id,omitempty"`
	Fetched        int    `json:"fetched"`
	Synced         int    `json:"synced"`
	Skipped        int    `json:"skipped"`
	Errors         int    `json:"errors"`
}
