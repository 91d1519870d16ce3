package checkwatt

import (
	"context"
	"errors"
	"time"

	"github.com/cwbridge/cwbridge/pkg/types"
)

// ErrInvalidAuth is returned when the remote account rejects the credentials.
var ErrInvalidAuth = errors.New("invalid authentication")

// Client logs in to the remote account API.
type Client interface {
	// Login authenticates and returns a session bound to the account. It
	// returns ErrInvalidAuth when the credentials were rejected.
	Login(ctx context.Context, creds types.Credentials) (Session, error)
}

// Session is an authenticated connection to one account. A session is used
// for a single refresh and then closed.
type Session interface {
	CustomerDetails(ctx context.Context) (types.CustomerDetails, error)
	EnergyFlow(ctx context.Context) (types.EnergyFlow, error)
	MeterStatus(ctx context.Context) (types.MeterStatus, error)
	PriceZone(ctx context.Context) (string, error)

	// Revenue returns the daily net revenue rows for the inclusive date range.
	Revenue(ctx context.Context, from, to time.Time) ([]types.RevenueDay, error)
	// MonthPeakPower returns the highest grid import peak of the month in kW.
	MonthPeakPower(ctx context.Context, month time.Time) (float64, error)
	EnergyTradingCompany(ctx context.Context, id int) (types.EnergyTradingCompany, error)

	// PowerTotals returns the lifetime energy counters up to the given time.
	PowerTotals(ctx context.Context, to time.Time) (types.PowerTotals, error)
	// SpotPrices returns the hourly spot prices of the zone for the day.
	SpotPrices(ctx context.Context, zone string, day time.Time) ([]types.SpotPrice, error)

	Close()
}
