package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cwbridge/cwbridge/pkg/checkwatt"
	"github.com/cwbridge/cwbridge/pkg/log"
	"github.com/cwbridge/cwbridge/pkg/types"
)

// Service result texts.
const (
	StatusLoginFailed     = "Failed to login."
	StatusPushSucceeded   = "Data successfully sent to CheckWattRank"
	StatusPushFailed      = "Failed to update to CheckWattRank"
	StatusCustomerFailed  = "Failed to fetch customer details"
	StatusPriceZoneFailed = "Failed to fetch price zone"
	StatusRevenueFailed   = "Failed to fetch revenue"
	StatusHistoryEmpty    = "No historical data in range"
)

const dateLayout = "2006-01-02"

// HistoryResult is returned by the update_history service.
type HistoryResult struct {
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
	Status      string `json:"status"`
	StoredItems int    `json:"stored_items"`
	TotalItems  int    `json:"total_items"`
}

// PushResult is returned by the push_checkwatt_rank service.
type PushResult struct {
	Result string `json:"result"`
}

type serviceSession struct {
	sess           checkwatt.Session
	customer       types.CustomerDetails
	priceZone      string
	energyProvider string
}

// openServiceSession logs in and fetches what every rank report needs. The
// returned status is non-empty when a step failed; only ErrInvalidAuth is
// returned as an error.
func (c *Coordinator) openServiceSession(ctx context.Context) (*serviceSession, string, error) {
	sess, err := c.client.Login(ctx, c.creds)
	if err != nil {
		if errors.Is(err, checkwatt.ErrInvalidAuth) {
			return nil, "", fmt.Errorf("%w: %w", ErrInvalidAuth, err)
		}
		log.Ctx(ctx).WarnContext(ctx, "service login failed", slog.Any("error", err))
		return nil, StatusLoginFailed, nil
	}

	ss := &serviceSession{sess: sess}
	ss.customer, err = sess.CustomerDetails(ctx)
	if err != nil {
		sess.Close()
		log.Ctx(ctx).ErrorContext(ctx, "failed to fetch customer details", slog.Any("error", err))
		return nil, StatusCustomerFailed, nil
	}
	ss.priceZone, err = sess.PriceZone(ctx)
	if err != nil {
		sess.Close()
		log.Ctx(ctx).ErrorContext(ctx, "failed to fetch price zone", slog.Any("error", err))
		return nil, StatusPriceZoneFailed, nil
	}
	meter, _ := ss.customer.PrimaryMeter()
	etc, err := sess.EnergyTradingCompany(ctx, meter.EnergyTradingCompanyID)
	if err != nil {
		// the report is still useful without the company name
		log.Ctx(ctx).WarnContext(ctx, "failed to fetch energy provider", slog.Any("error", err))
	}
	ss.energyProvider = etc.DisplayName
	return ss, "", nil
}

// PushRank performs a manual one-shot push of today's revenue. It bypasses
// the daily gate.
func (c *Coordinator) PushRank(ctx context.Context, now time.Time) (PushResult, error) {
	now = now.In(c.cfg.Location)
	ss, status, err := c.openServiceSession(ctx)
	if err != nil {
		return PushResult{}, err
	}
	if status != "" {
		return PushResult{Result: status}, nil
	}
	defer ss.sess.Close()

	rows, err := ss.sess.Revenue(ctx, now, now.AddDate(0, 0, 1))
	if err != nil {
		return PushResult{Result: fmt.Sprintf("Failed to update CheckWattRank: %v", stepFailed(ctx, StepRevenue, err))}, nil
	}
	rev := checkwatt.ComputeRevenue(rows, now)

	report := c.rankReport(ss.customer, ss.energyProvider, ss.priceZone, rev.Today)
	if !c.pushRank(ctx, report, now, true) {
		return PushResult{Result: StatusPushFailed}, nil
	}
	return PushResult{Result: StatusPushSucceeded}, nil
}

// UpdateHistory backfills the rank endpoint with the daily revenue of the
// inclusive date range.
func (c *Coordinator) UpdateHistory(ctx context.Context, start, end time.Time) (HistoryResult, error) {
	res := HistoryResult{
		StartDate: start.Format(dateLayout),
		EndDate:   end.Format(dateLayout),
	}
	if end.Before(start) {
		return res, fmt.Errorf("end date %s is before start date %s", res.EndDate, res.StartDate)
	}

	ss, status, err := c.openServiceSession(ctx)
	if err != nil {
		return res, err
	}
	if status != "" {
		res.Status = status
		return res, nil
	}
	defer ss.sess.Close()

	rows, err := ss.sess.Revenue(ctx, start, end)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to fetch revenue", slog.Any("error", err))
		res.Status = StatusRevenueFailed
		return res, nil
	}
	if len(rows) == 0 {
		res.Status = StatusHistoryEmpty
		return res, nil
	}

	base := c.rankReport(ss.customer, ss.energyProvider, ss.priceZone, 0)
	report := types.RankHistoryReport{
		DisplayName:        base.DisplayName,
		DSO:                base.DSO,
		ElectricityCompany: base.ElectricityCompany,
		ElectricityArea:    base.ElectricityArea,
		InstalledPower:     base.InstalledPower,
		ResellerID:         base.ResellerID,
		Reporter:           base.Reporter,
	}
	for _, row := range rows {
		report.HistoricalData = append(report.HistoricalData, types.RankHistoryItem{
			Date:      row.Date,
			NetIncome: row.NetRevenue,
		})
	}

	hr, err := c.pusher.PushHistory(ctx, report)
	res.StoredItems = hr.StoredItems
	res.TotalItems = hr.TotalItems
	if err != nil {
		res.Status = fmt.Sprintf("Failed to update CheckWattRank: %v", err)
		return res, nil
	}
	res.Status = StatusPushSucceeded
	return res, nil
}
