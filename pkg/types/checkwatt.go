package types

import "time"

// CustomerDetails is the account and meter metadata returned by the remote
// account API.
type CustomerDetails struct {
	ID            string  `json:"Id"`
	FirstName     string  `json:"FirstName"`
	LastName      string  `json:"LastName"`
	StreetAddress string  `json:"StreetAddress"`
	ZipCode       string  `json:"ZipCode"`
	City          string  `json:"City"`
	Meters        []Meter `json:"Meter"`
}

// Meter is one installation registered on the account.
type Meter struct {
	ID                     int64                `json:"Id"`
	DisplayName            string               `json:"DisplayName"`
	FacilityID             string               `json:"FacilityId"`
	ResellerID             int                  `json:"ResellerId"`
	EnergyTradingCompanyID int                  `json:"ElhandelsbolagId"`
	BatteryRegistration    *BatteryRegistration `json:"BatteryRegistration,omitempty"`
}

// BatteryRegistration carries the grid registration of the battery asset.
type BatteryRegistration struct {
	DSO               string  `json:"Dso"`
	ChargePeakACKW    float64 `json:"BatteryPowerChargeAC"`
	ChargePeakDCKW    float64 `json:"BatteryPowerChargeDC"`
	DischargePeakACKW float64 `json:"BatteryPowerDischargeAC"`
	DischargePeakDCKW float64 `json:"BatteryPowerDischargeDC"`
}

// PrimaryMeter returns the first meter on the account, which is the one the
// integration reports on.
func (c CustomerDetails) PrimaryMeter() (Meter, bool) {
	if len(c.Meters) == 0 {
		return Meter{}, false
	}
	return c.Meters[0], true
}

// DisplayName is the name shown for the installation, falling back to the
// street address.
func (c CustomerDetails) DisplayName() string {
	if m, ok := c.PrimaryMeter(); ok && m.DisplayName != "" {
		return m.DisplayName
	}
	return c.StreetAddress
}

// DSO returns the distribution system operator if the battery is registered.
func (c CustomerDetails) DSO() (string, bool) {
	m, ok := c.PrimaryMeter()
	if !ok || m.BatteryRegistration == nil || m.BatteryRegistration.DSO == "" {
		return "", false
	}
	return m.BatteryRegistration.DSO, true
}

// EnergyFlow is the live power flow of the installation. Power is in W.
type EnergyFlow struct {
	BatteryPowerW float64 `json:"BatteryNow"`
	GridPowerW    float64 `json:"GridNow"`
	SolarPowerW   float64 `json:"SolarNow"`
	BatterySOC    float64 `json:"BatterySoC"`
}

// MeterStatus is the state of the CM10 controller and its FCR-D service.
type MeterStatus struct {
	Status    string     `json:"Status"`
	UnderTest bool       `json:"UnderTest"`
	Version   string     `json:"Version"`
	FCRD      FCRDStatus `json:"FcrD"`
}

// FCRDStatus is the reported frequency containment reserve state.
type FCRDStatus struct {
	State string `json:"State"`
	Info  string `json:"Info"`
	Date  string `json:"Date"`
}

// Known FCR-D states.
const (
	FCRDActivated      = "ACTIVATED"
	FCRDDeactivated    = "DEACTIVATE"
	FCRDFailActivation = "FAIL ACTIVATION"
)

// RevenueDay is the net FCR-D revenue for a single day.
type RevenueDay struct {
	Date       string  `json:"Date"` // YYYY-MM-DD
	NetRevenue float64 `json:"NetRevenue"`
}

// PowerTotals are lifetime energy counters in Wh.
type PowerTotals struct {
	SolarWh       float64 `json:"TotalSolar"`
	ChargingWh    float64 `json:"TotalCharging"`
	DischargingWh float64 `json:"TotalDischarging"`
	ImportWh      float64 `json:"TotalImport"`
	ExportWh      float64 `json:"TotalExport"`
}

// SpotPrice is one hourly spot price excluding VAT, in currency/kWh.
type SpotPrice struct {
	Start time.Time `json:"Start"`
	Value float64   `json:"Value"`
}

// EnergyTradingCompany is an energy provider known to the remote API.
type EnergyTradingCompany struct {
	ID          int    `json:"Id"`
	DisplayName string `json:"DisplayName"`
}
