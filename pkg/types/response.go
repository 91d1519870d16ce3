package types

// Response is the record produced by one refresh. Optional groups are nil when
// the feature flag behind them is off or the data was not fetched.
type Response struct {
	ID             string `json:"id"`
	FirstName      string `json:"firstname"`
	LastName       string `json:"lastname"`
	Address        string `json:"address"`
	Zip            string `json:"zip"`
	City           string `json:"city"`
	DisplayName    string `json:"display_name"`
	EnergyProvider string `json:"energy_provider"`
	ResellerID     int    `json:"reseller_id"`

	DSO *string `json:"dso,omitempty"`

	Power *PowerMetrics `json:"power,omitempty"`

	DailyRevenue   *DailyRevenue   `json:"daily_revenue,omitempty"`
	MonthlyRevenue *MonthlyRevenue `json:"monthly_revenue,omitempty"`
	AnnualRevenue  *float64        `json:"annual_net_revenue,omitempty"`

	UpdateTime     string `json:"update_time"`
	NextUpdateTime string `json:"next_update_time"`

	Details *DetailedMetrics `json:"details,omitempty"`
	Meter   *MeterMetrics    `json:"meter,omitempty"`
}

// PowerMetrics are refreshed every tick from the live energy flow.
type PowerMetrics struct {
	BatteryPower    float64 `json:"battery_power"`
	GridPower       float64 `json:"grid_power"`
	SolarPower      float64 `json:"solar_power"`
	BatterySOC      float64 `json:"battery_soc"`
	ChargePeakAC    float64 `json:"charge_peak_ac"`
	ChargePeakDC    float64 `json:"charge_peak_dc"`
	DischargePeakAC float64 `json:"discharge_peak_ac"`
	DischargePeakDC float64 `json:"discharge_peak_dc"`
	// MonthlyGridPeakPower is only known once the monetary fetch ran.
	MonthlyGridPeakPower *float64 `json:"monthly_grid_peak_power,omitempty"`
}

// DailyRevenue is today's and tomorrow's net revenue.
type DailyRevenue struct {
	Today    float64 `json:"today_net_revenue"`
	Tomorrow float64 `json:"tomorrow_net_revenue"`
}

// MonthlyRevenue is the month to date revenue with its projections.
type MonthlyRevenue struct {
	Net          float64 `json:"monthly_net_revenue"`
	Estimate     float64 `json:"month_estimate"`
	DailyAverage float64 `json:"daily_average"`
}

// DetailedMetrics are only present with the show_details option.
type DetailedMetrics struct {
	TotalSolarEnergy       float64 `json:"total_solar_energy"`
	TotalChargingEnergy    float64 `json:"total_charging_energy"`
	TotalDischargingEnergy float64 `json:"total_discharging_energy"`
	TotalImportEnergy      float64 `json:"total_import_energy"`
	TotalExportEnergy      float64 `json:"total_export_energy"`
	SpotPrice              float64 `json:"spot_price"`
	PriceZone              string  `json:"price_zone"`
}

// MeterMetrics are only present with the cm10_sensor option.
type MeterMetrics struct {
	CM10Status  string `json:"cm10_status"`
	CM10Version string `json:"cm10_version"`
	FCRDStatus  string `json:"fcr_d_status"`
	FCRDInfo    string `json:"fcr_d_info"`
	FCRDDate    string `json:"fcr_d_date"`
}

// Fields flattens the response into the named-field mapping that entities and
// the state API work with. Absent groups contribute no keys.
func (r Response) Fields() map[string]any {
	f := map[string]any{
		"id":               r.ID,
		"firstname":        r.FirstName,
		"lastname":         r.LastName,
		"address":          r.Address,
		"zip":              r.Zip,
		"city":             r.City,
		"display_name":     r.DisplayName,
		"energy_provider":  r.EnergyProvider,
		"reseller_id":      r.ResellerID,
		"update_time":      r.UpdateTime,
		"next_update_time": r.NextUpdateTime,
	}
	if r.DSO != nil {
		f["dso"] = *r.DSO
	}
	if p := r.Power; p != nil {
		f["battery_power"] = p.BatteryPower
		f["grid_power"] = p.GridPower
		f["solar_power"] = p.SolarPower
		f["battery_soc"] = p.BatterySOC
		f["charge_peak_ac"] = p.ChargePeakAC
		f["charge_peak_dc"] = p.ChargePeakDC
		f["discharge_peak_ac"] = p.DischargePeakAC
		f["discharge_peak_dc"] = p.DischargePeakDC
		if p.MonthlyGridPeakPower != nil {
			f["monthly_grid_peak_power"] = *p.MonthlyGridPeakPower
		}
	}
	if d := r.DailyRevenue; d != nil {
		f["today_net_revenue"] = d.Today
		f["tomorrow_net_revenue"] = d.Tomorrow
	}
	if m := r.MonthlyRevenue; m != nil {
		f["monthly_net_revenue"] = m.Net
		f["month_estimate"] = m.Estimate
		f["daily_average"] = m.DailyAverage
	}
	if r.AnnualRevenue != nil {
		f["annual_net_revenue"] = *r.AnnualRevenue
	}
	if d := r.Details; d != nil {
		f["total_solar_energy"] = d.TotalSolarEnergy
		f["total_charging_energy"] = d.TotalChargingEnergy
		f["total_discharging_energy"] = d.TotalDischargingEnergy
		f["total_import_energy"] = d.TotalImportEnergy
		f["total_export_energy"] = d.TotalExportEnergy
		f["spot_price"] = d.SpotPrice
		f["price_zone"] = d.PriceZone
	}
	if m := r.Meter; m != nil {
		f["cm10_status"] = m.CM10Status
		f["cm10_version"] = m.CM10Version
		f["fcr_d_status"] = m.FCRDStatus
		f["fcr_d_info"] = m.FCRDInfo
		f["fcr_d_date"] = m.FCRDDate
	}
	return f
}
