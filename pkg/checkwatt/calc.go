package checkwatt

import (
	"math"
	"strings"
	"time"

	"github.com/cwbridge/cwbridge/pkg/types"
)

// Revenue is the set of monetary aggregates derived from daily revenue rows.
type Revenue struct {
	Today         float64
	Tomorrow      float64
	Month         float64
	MonthEstimate float64
	DailyAverage  float64
	Year          float64
}

// ComputeRevenue aggregates revenue rows that cover at least the current year
// up to tomorrow. Apart from tomorrow, rows outside the current year are
// ignored.
func ComputeRevenue(rows []types.RevenueDay, now time.Time) Revenue {
	today := now.Format(dateLayout)
	tomorrow := now.AddDate(0, 0, 1).Format(dateLayout)

	var r Revenue
	var daysWithData int
	for _, row := range rows {
		d, err := time.ParseInLocation(dateLayout, row.Date, now.Location())
		if err != nil {
			continue
		}
		// tomorrow may already be next year
		if row.Date == tomorrow {
			r.Tomorrow = row.NetRevenue
			continue
		}
		if d.Year() != now.Year() || row.Date > today {
			continue
		}
		if row.Date == today {
			r.Today = row.NetRevenue
		}
		r.Year += row.NetRevenue
		if d.Month() == now.Month() {
			r.Month += row.NetRevenue
			daysWithData++
		}
	}
	if daysWithData > 0 {
		r.DailyAverage = r.Month / float64(daysWithData)
		r.MonthEstimate = r.DailyAverage * float64(DaysInMonth(now))
	}
	return r
}

// DaysInMonth returns the number of days in the month of t.
func DaysInMonth(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
}

// SpotPriceAt returns the price of the hour containing t.
func SpotPriceAt(prices []types.SpotPrice, t time.Time) (float64, bool) {
	hour := t.Truncate(time.Hour)
	for _, p := range prices {
		if p.Start.Equal(hour) || (!p.Start.After(t) && p.Start.Add(time.Hour).After(t)) {
			return p.Value, true
		}
	}
	return 0, false
}

// InstalledPower is the lower of the charge and discharge AC peaks in kW.
func InstalledPower(reg *types.BatteryRegistration) float64 {
	if reg == nil {
		return 0
	}
	return math.Min(reg.ChargePeakACKW, reg.DischargePeakACKW)
}

// CM10 controller states.
const (
	CM10Offline     = "Offline"
	CM10TestPending = "Test Pending"
	CM10Active      = "Active"
)

// CM10Status maps the raw meter status onto the controller state shown to
// the user.
func CM10Status(ms types.MeterStatus) string {
	switch {
	case strings.EqualFold(ms.Status, "offline"):
		return CM10Offline
	case ms.UnderTest:
		return CM10TestPending
	default:
		return CM10Active
	}
}

// Round rounds v to the given number of decimals.
func Round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
