package models

// Network is a trading network the dashboard manages stations for.
type Network struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	ExternalID string `json:"external_id"`
}

// TradingPoint is an internal station record tied to a network.
type TradingPoint struct {
	ID         int64  `json:"id"`
	NetworkID  int64  `json:"network_id"`
	Name       string `json:"name"`
	ExternalID string `json:"external_id"`
	Active     bool   `json:"active"`
}

// StationRef is the identifier pair the external trading API scopes queries by.
type StationRef struct {
	SystemID  string `json:"system_id"`
	StationID string `json:"station_id"`
}
