package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cwbridge/cwbridge/pkg/checkwatt"
	"github.com/cwbridge/cwbridge/pkg/log"
	"github.com/cwbridge/cwbridge/pkg/rank"
	"github.com/cwbridge/cwbridge/pkg/types"
)

// ErrInvalidAuth means the stored credentials were rejected and the user has
// to re-authenticate. It is never retried.
var ErrInvalidAuth = errors.New("invalid authentication, re-authentication required")

// UpdateFailedError is returned when one of the fetch steps failed. The next
// tick retries.
type UpdateFailedError struct {
	Step string
	Err  error
}

func (e *UpdateFailedError) Error() string {
	return "unknown error " + e.Step
}

func (e *UpdateFailedError) Unwrap() error {
	return e.Err
}

// Fetch steps as reported in UpdateFailedError.
const (
	StepLogin           = "login"
	StepCustomerDetails = "customer details"
	StepEnergyFlow      = "energy flow"
	StepMeterStatus     = "meter status"
	StepRevenue         = "revenue"
	StepPeakPower       = "peak power"
	StepEnergyProvider  = "energy provider"
	StepPriceZone       = "price zone"
	StepPowerTotals     = "power totals"
	StepSpotPrice       = "spot price"
)

// TimeLayout is used for the update timestamps in the response.
const TimeLayout = "2006-01-02 15:04:05"

// Defaults for Config.
const (
	DefaultMonetaryInterval = 15
	DefaultRankHour         = 11
)

// SignalName is the dispatcher signal FCR-D changes for a customer are sent on.
func SignalName(customerID string) string {
	return fmt.Sprintf("checkwatt_%s_signal", customerID)
}

// Signaler delivers FCR-D change payloads.
type Signaler interface {
	Send(ctx context.Context, signal string, payload types.SignalPayload) error
}

// Config is the per-entry configuration of a Coordinator.
type Config struct {
	Options types.Options

	// MonetaryInterval is the number of ticks between monetary fetches.
	MonetaryInterval int
	// RankHour is the local hour after which the daily rank push may happen.
	RankHour int
	Location *time.Location

	// OnRankPush is called after every rank push attempt.
	OnRankPush func(ctx context.Context, push types.RankPush)
}

// Coordinator turns one tick into a Response.
type Coordinator struct {
	creds   types.Credentials
	client  checkwatt.Client
	pusher  rank.Pusher
	signals Signaler
	cfg     Config
}

// New returns a Coordinator for one account.
func New(creds types.Credentials, client checkwatt.Client, pusher rank.Pusher, signals Signaler, cfg Config) *Coordinator {
	if cfg.MonetaryInterval <= 0 {
		cfg.MonetaryInterval = DefaultMonetaryInterval
	}
	if cfg.RankHour <= 0 {
		cfg.RankHour = DefaultRankHour
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Coordinator{
		creds:   creds,
		client:  client,
		pusher:  pusher,
		signals: signals,
		cfg:     cfg,
	}
}

// Options returns the options the coordinator runs with.
func (c *Coordinator) Options() types.Options {
	return c.cfg.Options
}

// Refresh runs one tick. Every fetch step is a precondition for the next; the
// first failure aborts the tick and returns the incoming state unchanged.
func (c *Coordinator) Refresh(ctx context.Context, st State, now time.Time) (types.Response, State, error) {
	opts := c.cfg.Options
	now = now.In(c.cfg.Location)
	boot := !st.Booted
	prev := st

	sess, err := c.client.Login(ctx, c.creds)
	if err != nil {
		if errors.Is(err, checkwatt.ErrInvalidAuth) {
			log.Ctx(ctx).ErrorContext(ctx, "checkwatt rejected credentials", slog.Any("error", err))
			return types.Response{}, prev, fmt.Errorf("%w: %w", ErrInvalidAuth, err)
		}
		return c.failed(ctx, prev, StepLogin, err)
	}
	defer sess.Close()

	customer, err := sess.CustomerDetails(ctx)
	if err != nil {
		return c.failed(ctx, prev, StepCustomerDetails, err)
	}
	meter, _ := customer.PrimaryMeter()

	flow, err := sess.EnergyFlow(ctx)
	if err != nil {
		return c.failed(ctx, prev, StepEnergyFlow, err)
	}

	var meterStatus *types.MeterStatus
	if opts.CM10Sensor {
		ms, err := sess.MeterStatus(ctx)
		if err != nil {
			return c.failed(ctx, prev, StepMeterStatus, err)
		}
		meterStatus = &ms
	}

	if !boot {
		st.MonetaryCountdown--
		if st.MonetaryCountdown <= 0 {
			log.Ctx(ctx).DebugContext(ctx, "fetching monetary values")
			rev, peak, err := c.fetchMonetary(ctx, sess, now)
			if err != nil {
				return types.Response{}, prev, err
			}
			st.Revenue = &rev
			st.MonthPeakPower = &peak
			st.MonetaryCountdown = c.cfg.MonetaryInterval
		}
	}

	if boot {
		etc, err := sess.EnergyTradingCompany(ctx, meter.EnergyTradingCompanyID)
		if err != nil {
			return c.failed(ctx, prev, StepEnergyProvider, err)
		}
		st.EnergyProvider = etc.DisplayName
		st.CustomerID = customer.ID
		if meterStatus != nil {
			st.FCRD = snapshot(meterStatus.FCRD)
		}
		st.MonetaryCountdown = 0
		st.Booted = true
	}

	var priceZone string
	if opts.PushToRank || opts.ShowDetails {
		priceZone, err = sess.PriceZone(ctx)
		if err != nil {
			return c.failed(ctx, prev, StepPriceZone, err)
		}
	}

	var details *types.DetailedMetrics
	if opts.ShowDetails {
		totals, err := sess.PowerTotals(ctx, now)
		if err != nil {
			return c.failed(ctx, prev, StepPowerTotals, err)
		}
		prices, err := sess.SpotPrices(ctx, priceZone, now)
		if err != nil {
			return c.failed(ctx, prev, StepSpotPrice, err)
		}
		spot, ok := checkwatt.SpotPriceAt(prices, now)
		if !ok {
			return c.failed(ctx, prev, StepSpotPrice, fmt.Errorf("no spot price for %s", now.Format(TimeLayout)))
		}
		details = &types.DetailedMetrics{
			TotalSolarEnergy:       totals.SolarWh,
			TotalChargingEnergy:    totals.ChargingWh,
			TotalDischargingEnergy: totals.DischargingWh,
			TotalImportEnergy:      totals.ImportWh,
			TotalExportEnergy:      totals.ExportWh,
			SpotPrice:              spot,
			PriceZone:              priceZone,
		}
	}

	if opts.PushToRank && c.shouldPushRank(st, now) {
		report := c.rankReport(customer, st.EnergyProvider, priceZone, st.Revenue.Today)
		if c.pushRank(ctx, report, now, false) {
			st.LastRankPush = now
		}
	}

	resp := buildResponse(customer, meter, flow, st, now, c.cfg.MonetaryInterval)
	resp.Details = details
	if meterStatus != nil {
		resp.Meter = &types.MeterMetrics{
			CM10Status:  checkwatt.CM10Status(*meterStatus),
			CM10Version: meterStatus.Version,
			FCRDStatus:  meterStatus.FCRD.State,
			FCRDInfo:    meterStatus.FCRD.Info,
			FCRDDate:    meterStatus.FCRD.Date,
		}
	}

	if meterStatus != nil && !boot {
		st = c.detectFCRDChange(ctx, st, snapshot(meterStatus.FCRD))
	}

	return resp, st, nil
}

func (c *Coordinator) failed(ctx context.Context, st State, step string, err error) (types.Response, State, error) {
	return types.Response{}, st, stepFailed(ctx, step, err)
}

func stepFailed(ctx context.Context, step string, err error) error {
	log.Ctx(ctx).ErrorContext(ctx, "refresh step failed", slog.String("step", step), slog.Any("error", err))
	return &UpdateFailedError{Step: step, Err: err}
}

func (c *Coordinator) fetchMonetary(ctx context.Context, sess checkwatt.Session, now time.Time) (checkwatt.Revenue, float64, error) {
	yearStart := time.Date(now.Year(), 1, 1, 0, 0, 0, 0, now.Location())
	rows, err := sess.Revenue(ctx, yearStart, now.AddDate(0, 0, 1))
	if err != nil {
		return checkwatt.Revenue{}, 0, stepFailed(ctx, StepRevenue, err)
	}
	peak, err := sess.MonthPeakPower(ctx, now)
	if err != nil {
		return checkwatt.Revenue{}, 0, stepFailed(ctx, StepPeakPower, err)
	}
	return checkwatt.ComputeRevenue(rows, now), peak, nil
}

// shouldPushRank reports whether the daily rank push is due: revenue must have
// been computed during this boot, the local time must be past the rank hour
// plus the offset, and no push may have succeeded today.
func (c *Coordinator) shouldPushRank(st State, now time.Time) bool {
	if st.Revenue == nil {
		return false
	}
	local := now.In(c.cfg.Location)
	threshold := time.Date(local.Year(), local.Month(), local.Day(), c.cfg.RankHour, st.RankOffset, 0, 0, c.cfg.Location)
	if local.Before(threshold) {
		return false
	}
	if st.LastRankPush.IsZero() {
		return true
	}
	last := st.LastRankPush.In(c.cfg.Location)
	return last.Year() != local.Year() || last.YearDay() != local.YearDay()
}

func (c *Coordinator) rankReport(customer types.CustomerDetails, energyProvider, priceZone string, today float64) types.RankReport {
	meter, _ := customer.PrimaryMeter()
	dso, _ := customer.DSO()
	name := c.cfg.Options.RankName
	if name == "" {
		name = customer.DisplayName()
	}
	return types.RankReport{
		DisplayName:        name,
		DSO:                dso,
		ElectricityCompany: energyProvider,
		ElectricityArea:    priceZone,
		InstalledPower:     checkwatt.InstalledPower(meter.BatteryRegistration),
		TodayNetIncome:     today,
		ResellerID:         meter.ResellerID,
		Reporter:           rank.ReporterName,
	}
}

// pushRank pushes the report and records the attempt. It returns whether the
// push succeeded; failures never propagate.
func (c *Coordinator) pushRank(ctx context.Context, report types.RankReport, now time.Time, manual bool) bool {
	err := c.pusher.Push(ctx, report)
	push := types.RankPush{
		ID:             uuid.NewString(),
		Timestamp:      now,
		TodayNetIncome: report.TodayNetIncome,
		Manual:         manual,
		Success:        err == nil,
	}
	if err != nil {
		push.Error = err.Error()
	}
	if c.cfg.OnRankPush != nil {
		c.cfg.OnRankPush(ctx, push)
	}
	return err == nil
}

func (c *Coordinator) detectFCRDChange(ctx context.Context, st State, fresh types.FCRDSnapshot) State {
	if fresh.State == st.FCRD.State {
		return st
	}
	payload := types.SignalPayload{
		Signal: types.SignalFCRD,
		Data: types.SignalData{
			CurrentFCRD: st.FCRD,
			NewFCRD:     fresh,
		},
	}
	if err := c.signals.Send(ctx, SignalName(st.CustomerID), payload); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to dispatch fcr-d change", slog.Any("error", err))
		return st
	}
	log.Ctx(ctx).InfoContext(
		ctx,
		"fcr-d state changed",
		slog.String("from", st.FCRD.State),
		slog.String("to", fresh.State),
	)
	st.FCRD = fresh
	return st
}

func snapshot(s types.FCRDStatus) types.FCRDSnapshot {
	return types.FCRDSnapshot{State: s.State, Info: s.Info, Date: s.Date}
}

func buildResponse(customer types.CustomerDetails, meter types.Meter, flow types.EnergyFlow, st State, now time.Time, interval int) types.Response {
	resp := types.Response{
		ID:             customer.ID,
		FirstName:      customer.FirstName,
		LastName:       customer.LastName,
		Address:        customer.StreetAddress,
		Zip:            customer.ZipCode,
		City:           customer.City,
		DisplayName:    customer.DisplayName(),
		EnergyProvider: st.EnergyProvider,
		ResellerID:     meter.ResellerID,
		UpdateTime:     now.Format(TimeLayout),
		NextUpdateTime: now.Add(time.Duration(interval) * time.Minute).Format(TimeLayout),
	}
	if dso, ok := customer.DSO(); ok {
		resp.DSO = &dso
	}

	power := &types.PowerMetrics{
		BatteryPower:         flow.BatteryPowerW,
		GridPower:            flow.GridPowerW,
		SolarPower:           flow.SolarPowerW,
		BatterySOC:           flow.BatterySOC,
		MonthlyGridPeakPower: st.MonthPeakPower,
	}
	if reg := meter.BatteryRegistration; reg != nil {
		power.ChargePeakAC = reg.ChargePeakACKW
		power.ChargePeakDC = reg.ChargePeakDCKW
		power.DischargePeakAC = reg.DischargePeakACKW
		power.DischargePeakDC = reg.DischargePeakDCKW
	}
	resp.Power = power

	if r := st.Revenue; r != nil {
		resp.DailyRevenue = &types.DailyRevenue{Today: r.Today, Tomorrow: r.Tomorrow}
		resp.MonthlyRevenue = &types.MonthlyRevenue{Net: r.Month, Estimate: r.MonthEstimate, DailyAverage: r.DailyAverage}
		year := r.Year
		resp.AnnualRevenue = &year
	}
	return resp
}
