package checkwatt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cwbridge/cwbridge/pkg/types"
)

func TestComputeRevenue(t *testing.T) {
	now := time.Date(2024, 4, 10, 12, 0, 0, 0, time.UTC)
	rows := []types.RevenueDay{
		{Date: "2023-12-31", NetRevenue: 1000},
		{Date: "2024-03-31", NetRevenue: 50},
		{Date: "2024-04-01", NetRevenue: 10},
		{Date: "2024-04-09", NetRevenue: 20},
		{Date: "2024-04-10", NetRevenue: 30},
		{Date: "2024-04-11", NetRevenue: 40},
	}

	r := ComputeRevenue(rows, now)
	assert.Equal(t, 30.0, r.Today)
	assert.Equal(t, 40.0, r.Tomorrow)
	assert.Equal(t, 60.0, r.Month)
	assert.Equal(t, 20.0, r.DailyAverage)
	assert.Equal(t, 600.0, r.MonthEstimate)
	assert.Equal(t, 110.0, r.Year)

	t.Run("no rows", func(t *testing.T) {
		r := ComputeRevenue(nil, now)
		assert.Equal(t, Revenue{}, r)
	})

	t.Run("new year eve", func(t *testing.T) {
		eve := time.Date(2024, 12, 31, 12, 0, 0, 0, time.UTC)
		r := ComputeRevenue([]types.RevenueDay{
			{Date: "2024-12-31", NetRevenue: 10},
			{Date: "2025-01-01", NetRevenue: 7},
		}, eve)
		assert.Equal(t, 10.0, r.Today)
		assert.Equal(t, 7.0, r.Tomorrow)
		assert.Equal(t, 10.0, r.Year)
		assert.Equal(t, 10.0, r.Month)
	})
}

func TestDaysInMonth(t *testing.T) {
	assert.Equal(t, 29, DaysInMonth(time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 31, DaysInMonth(time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 30, DaysInMonth(time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)))
}

func TestSpotPriceAt(t *testing.T) {
	base := time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC)
	prices := []types.SpotPrice{
		{Start: base.Add(13 * time.Hour), Value: 0.5},
		{Start: base.Add(14 * time.Hour), Value: 0.75},
	}

	v, ok := SpotPriceAt(prices, base.Add(14*time.Hour+25*time.Minute))
	assert.True(t, ok)
	assert.Equal(t, 0.75, v)

	_, ok = SpotPriceAt(prices, base.Add(20*time.Hour))
	assert.False(t, ok)
}

func TestInstalledPower(t *testing.T) {
	assert.Equal(t, 0.0, InstalledPower(nil))
	assert.Equal(t, 9.0, InstalledPower(&types.BatteryRegistration{ChargePeakACKW: 10, DischargePeakACKW: 9}))
}

func TestCM10Status(t *testing.T) {
	assert.Equal(t, CM10Offline, CM10Status(types.MeterStatus{Status: "offline", UnderTest: true}))
	assert.Equal(t, CM10TestPending, CM10Status(types.MeterStatus{Status: "online", UnderTest: true}))
	assert.Equal(t, CM10Active, CM10Status(types.MeterStatus{Status: "online"}))
}

func TestRound(t *testing.T) {
	assert.Equal(t, 1.23, Round(1.234, 2))
	assert.Equal(t, 0.125, Round(0.12549, 3))
	assert.Equal(t, 12.0, Round(12.0, 2))
}
