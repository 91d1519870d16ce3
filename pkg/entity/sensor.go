package entity

import (
	"strings"

	"github.com/cwbridge/cwbridge/pkg/checkwatt"
	"github.com/cwbridge/cwbridge/pkg/types"
)

// Attribute keys.
const (
	AttrStreetAddress   = "street_address"
	AttrZipCode         = "zip_code"
	AttrCity            = "city"
	AttrDisplayName     = "display_name"
	AttrDSO             = "dso"
	AttrEnergyProvider  = "energy_provider"
	AttrUpdateTime      = "last_update"
	AttrNextUpdateTime  = "next_update"
	AttrTomorrowRevenue = "tomorrow_net_revenue"
	AttrMonthEstimate   = "month_estimate"
	AttrDailyAverage    = "daily_average"
	AttrBatteryPower    = "battery_power"
	AttrGridPower       = "grid_power"
	AttrSolarPower      = "solar_power"
	AttrChargePeakAC    = "charge_peak_ac"
	AttrChargePeakDC    = "charge_peak_dc"
	AttrDischargePeakAC = "discharge_peak_ac"
	AttrDischargePeakDC = "discharge_peak_dc"
	AttrMonthlyPeak     = "monthly_grid_peak_power"
	AttrCM10Version     = "cm10_version"
	AttrFCRDStatus      = "fcr_d_status"
	AttrFCRDInfo        = "fcr_d_info"
	AttrFCRDDate        = "fcr_d_date"
	AttrPriceZone       = "price_zone"
	AttrVAT             = "vat"
)

// VATRate is the Swedish VAT applied to the spot price.
const VATRate = 1.25

const currency = "SEK"

var (
	dailyDescription = Description{
		Key:            "daily_yield",
		Name:           "CheckWatt Daily Yield",
		Icon:           "mdi:account-cash",
		DeviceClass:    "monetary",
		Unit:           currency,
		StateClass:     "total",
		TranslationKey: "daily_yield_sensor",
	}
	monthlyDescription = Description{
		Key:            "monthly_yield",
		Name:           "CheckWatt Monthly Yield",
		Icon:           "mdi:account-cash-outline",
		DeviceClass:    "monetary",
		Unit:           currency,
		StateClass:     "total",
		TranslationKey: "monthly_yield_sensor",
	}
	annualDescription = Description{
		Key:            "annual_yield",
		Name:           "CheckWatt Annual Yield",
		Icon:           "mdi:account-cash-outline",
		DeviceClass:    "monetary",
		Unit:           currency,
		StateClass:     "total",
		TranslationKey: "annual_yield_sensor",
	}
	batteryDescription = Description{
		Key:            "battery_soc",
		Name:           "CheckWatt Battery SoC",
		DeviceClass:    "battery",
		Unit:           "%",
		StateClass:     "measurement",
		TranslationKey: "battery_soc_sensor",
	}
	cm10Description = Description{
		Key:            "cm10",
		Name:           "CheckWatt CM10 Status",
		Icon:           "mdi:raspberry-pi",
		TranslationKey: "cm10_sensor",
	}
	spotPriceDescription = Description{
		Key:            "spot_price",
		Name:           "Spot Price",
		Icon:           "mdi:chart-line",
		DeviceClass:    "monetary",
		Unit:           currency + "/kWh",
		StateClass:     "total",
		TranslationKey: "spot_price_sensor",
	}
	spotPriceVATDescription = Description{
		Key:            "spot_price_vat",
		Name:           "Spot Price incl. VAT",
		Icon:           "mdi:chart-multiple",
		DeviceClass:    "monetary",
		Unit:           currency + "/kWh",
		StateClass:     "total",
		TranslationKey: "spot_price_vat_sensor",
	}
)

type energyDescription struct {
	Description
	value func(d *types.DetailedMetrics) float64
}

func energy(key, name, icon string, value func(d *types.DetailedMetrics) float64) energyDescription {
	return energyDescription{
		Description: Description{
			Key:            key,
			Name:           name,
			Icon:           icon,
			DeviceClass:    "energy",
			Unit:           "kWh",
			StateClass:     "total_increasing",
			TranslationKey: key + "_sensor",
		},
		value: value,
	}
}

var energyDescriptions = []energyDescription{
	energy("solar", "Solar Energy", "mdi:solar-power-variant-outline", func(d *types.DetailedMetrics) float64 { return d.TotalSolarEnergy }),
	energy("charging", "Battery Charging Energy", "mdi:home-battery", func(d *types.DetailedMetrics) float64 { return d.TotalChargingEnergy }),
	energy("discharging", "Battery Discharging Energy", "mdi:home-battery-outline", func(d *types.DetailedMetrics) float64 { return d.TotalDischargingEnergy }),
	energy("import", "Import Energy", "mdi:transmission-tower-export", func(d *types.DetailedMetrics) float64 { return d.TotalImportEnergy }),
	energy("export", "Export Energy", "mdi:transmission-tower-import", func(d *types.DetailedMetrics) float64 { return d.TotalExportEnergy }),
}

// DailySensor shows today's net revenue.
type DailySensor struct {
	base
}

func newDailySensor(resp types.Response) *DailySensor {
	b := newBase(resp, dailyDescription)
	b.uniqueID = "checkwattUid_" + resp.ID
	return &DailySensor{base: b}
}

// NativeValue implements HasNativeValue.
func (s *DailySensor) NativeValue(resp types.Response) (any, bool) {
	if resp.DailyRevenue == nil {
		return nil, false
	}
	return checkwatt.Round(resp.DailyRevenue.Today, 2), true
}

// ExtraAttributes implements HasExtraAttributes.
func (s *DailySensor) ExtraAttributes(resp types.Response) map[string]any {
	attrs := map[string]any{
		AttrDisplayName:    resp.DisplayName,
		AttrStreetAddress:  resp.Address,
		AttrZipCode:        resp.Zip,
		AttrCity:           resp.City,
		AttrEnergyProvider: resp.EnergyProvider,
		AttrUpdateTime:     resp.UpdateTime,
		AttrNextUpdateTime: resp.NextUpdateTime,
	}
	if resp.DSO != nil {
		attrs[AttrDSO] = *resp.DSO
	}
	if resp.DailyRevenue != nil {
		attrs[AttrTomorrowRevenue] = checkwatt.Round(resp.DailyRevenue.Tomorrow, 2)
	}
	return attrs
}

// MonthlySensor shows the month to date net revenue.
type MonthlySensor struct {
	base
}

func newMonthlySensor(resp types.Response) *MonthlySensor {
	b := newBase(resp, monthlyDescription)
	b.uniqueID = "checkwattUid_Monthly_" + resp.ID
	return &MonthlySensor{base: b}
}

// NativeValue implements HasNativeValue.
func (s *MonthlySensor) NativeValue(resp types.Response) (any, bool) {
	if resp.MonthlyRevenue == nil {
		return nil, false
	}
	return checkwatt.Round(resp.MonthlyRevenue.Net, 2), true
}

// ExtraAttributes implements HasExtraAttributes.
func (s *MonthlySensor) ExtraAttributes(resp types.Response) map[string]any {
	attrs := map[string]any{}
	if m := resp.MonthlyRevenue; m != nil {
		attrs[AttrMonthEstimate] = checkwatt.Round(m.Estimate, 2)
		attrs[AttrDailyAverage] = checkwatt.Round(m.DailyAverage, 2)
	}
	return attrs
}

// AnnualSensor shows the year to date net revenue.
type AnnualSensor struct {
	base
}

func newAnnualSensor(resp types.Response) *AnnualSensor {
	b := newBase(resp, annualDescription)
	b.uniqueID = "checkwattUid_Annual_" + resp.ID
	return &AnnualSensor{base: b}
}

// NativeValue implements HasNativeValue.
func (s *AnnualSensor) NativeValue(resp types.Response) (any, bool) {
	if resp.AnnualRevenue == nil {
		return nil, false
	}
	return checkwatt.Round(*resp.AnnualRevenue, 2), true
}

// BatterySensor shows the battery state of charge with the live power flow
// as attributes.
type BatterySensor struct {
	base
}

func newBatterySensor(resp types.Response) *BatterySensor {
	return &BatterySensor{base: newBase(resp, batteryDescription)}
}

// NativeValue implements HasNativeValue.
func (s *BatterySensor) NativeValue(resp types.Response) (any, bool) {
	if resp.Power == nil {
		return nil, false
	}
	return resp.Power.BatterySOC, true
}

// ExtraAttributes implements HasExtraAttributes.
func (s *BatterySensor) ExtraAttributes(resp types.Response) map[string]any {
	attrs := map[string]any{}
	p := resp.Power
	if p == nil {
		return attrs
	}
	attrs[AttrBatteryPower] = p.BatteryPower
	attrs[AttrGridPower] = p.GridPower
	attrs[AttrSolarPower] = p.SolarPower
	attrs[AttrChargePeakAC] = p.ChargePeakAC
	attrs[AttrChargePeakDC] = p.ChargePeakDC
	attrs[AttrDischargePeakAC] = p.DischargePeakAC
	attrs[AttrDischargePeakDC] = p.DischargePeakDC
	if p.MonthlyGridPeakPower != nil {
		attrs[AttrMonthlyPeak] = *p.MonthlyGridPeakPower
	}
	return attrs
}

// CM10Sensor shows the state of the CM10 controller.
type CM10Sensor struct {
	base
}

func newCM10Sensor(resp types.Response) *CM10Sensor {
	return &CM10Sensor{base: newBase(resp, cm10Description)}
}

// NativeValue implements HasNativeValue.
func (s *CM10Sensor) NativeValue(resp types.Response) (any, bool) {
	if resp.Meter == nil || resp.Meter.CM10Status == "" {
		return nil, false
	}
	return capitalize(resp.Meter.CM10Status), true
}

// ExtraAttributes implements HasExtraAttributes.
func (s *CM10Sensor) ExtraAttributes(resp types.Response) map[string]any {
	attrs := map[string]any{}
	m := resp.Meter
	if m == nil {
		return attrs
	}
	attrs[AttrCM10Version] = m.CM10Version
	attrs[AttrFCRDStatus] = m.FCRDStatus
	attrs[AttrFCRDInfo] = m.FCRDInfo
	attrs[AttrFCRDDate] = m.FCRDDate
	return attrs
}

// capitalize upper-cases the first letter and lower-cases the rest.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

// EnergySensor shows a lifetime energy counter in kWh.
type EnergySensor struct {
	base
	value func(d *types.DetailedMetrics) float64
}

func newEnergySensor(resp types.Response, d energyDescription) *EnergySensor {
	return &EnergySensor{base: newBase(resp, d.Description), value: d.value}
}

// NativeValue implements HasNativeValue.
func (s *EnergySensor) NativeValue(resp types.Response) (any, bool) {
	if resp.Details == nil {
		return nil, false
	}
	return checkwatt.Round(s.value(resp.Details)/1000, 2), true
}

// SpotPriceSensor shows the current spot price, optionally including VAT.
type SpotPriceSensor struct {
	base
	incVAT bool
}

func newSpotPriceSensor(resp types.Response, d Description, incVAT bool) *SpotPriceSensor {
	return &SpotPriceSensor{base: newBase(resp, d), incVAT: incVAT}
}

// NativeValue implements HasNativeValue.
func (s *SpotPriceSensor) NativeValue(resp types.Response) (any, bool) {
	if resp.Details == nil {
		return nil, false
	}
	v := resp.Details.SpotPrice
	if s.incVAT {
		v *= VATRate
	}
	return checkwatt.Round(v, 3), true
}

// ExtraAttributes implements HasExtraAttributes.
func (s *SpotPriceSensor) ExtraAttributes(resp types.Response) map[string]any {
	attrs := map[string]any{}
	if resp.Details == nil {
		return attrs
	}
	attrs[AttrPriceZone] = resp.Details.PriceZone
	if s.incVAT {
		attrs[AttrVAT] = "25%"
	}
	return attrs
}
