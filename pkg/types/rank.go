package types

import "time"

// SignalFCRD is the signal name carried by FCR-D state change payloads.
const SignalFCRD = "fcrd"

// FCRDSnapshot is one observation of the FCR-D state.
type FCRDSnapshot struct {
	State string `json:"state"`
	Info  string `json:"info"`
	Date  string `json:"date"`
}

// SignalPayload is dispatched when the FCR-D state changes.
type SignalPayload struct {
	Signal string     `json:"signal"`
	Data   SignalData `json:"data"`
}

// SignalData holds the previous and the new FCR-D state.
type SignalData struct {
	CurrentFCRD FCRDSnapshot `json:"current_fcrd"`
	NewFCRD     FCRDSnapshot `json:"new_fcrd"`
}

// RankReport is the daily report sent to the rank endpoint.
type RankReport struct {
	DisplayName        string  `json:"display_name"`
	DSO                string  `json:"dso"`
	ElectricityCompany string  `json:"electricity_company"`
	ElectricityArea    string  `json:"electricity_area"`
	InstalledPower     float64 `json:"installed_power"`
	TodayNetIncome     float64 `json:"today_net_income"`
	ResellerID         int     `json:"reseller_id"`
	Reporter           string  `json:"reporter"`
}

// RankHistoryReport backfills a date range to the rank endpoint.
type RankHistoryReport struct {
	DisplayName        string            `json:"display_name"`
	DSO                string            `json:"dso"`
	ElectricityCompany string            `json:"electricity_company"`
	ElectricityArea    string            `json:"electricity_area"`
	InstalledPower     float64           `json:"installed_power"`
	ResellerID         int               `json:"reseller_id"`
	Reporter           string            `json:"reporter"`
	HistoricalData     []RankHistoryItem `json:"historical_data"`
}

// RankHistoryItem is the net income of a single past day.
type RankHistoryItem struct {
	Date      string  `json:"date"`
	NetIncome float64 `json:"net_income"`
}

// RankPush records one attempt to push to the rank endpoint.
type RankPush struct {
	ID             string    `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	TodayNetIncome float64   `json:"todayNetIncome"`
	Manual         bool      `json:"manual,omitempty"`
	Success        bool      `json:"success"`
	Error          string    `json:"error,omitempty"`
}

// EntryState is the part of the coordinator state that survives restarts.
type EntryState struct {
	LastRankPush time.Time `json:"lastRankPush"`
	// RankPushOffset is the per-installation minute offset, kept stable so a
	// restart does not move the push window.
	RankPushOffset int `json:"rankPushOffset"`
}
