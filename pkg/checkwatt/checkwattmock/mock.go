package checkwattmock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/cwbridge/cwbridge/pkg/checkwatt"
	"github.com/cwbridge/cwbridge/pkg/types"
)

type MockClient struct {
	mock.Mock
}

var _ checkwatt.Client = (*MockClient)(nil)

func (m *MockClient) Login(ctx context.Context, creds types.Credentials) (checkwatt.Session, error) {
	args := m.Called(ctx, creds)
	if s, ok := args.Get(0).(checkwatt.Session); ok {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

type MockSession struct {
	mock.Mock
}

var _ checkwatt.Session = (*MockSession)(nil)

func (m *MockSession) CustomerDetails(ctx context.Context) (types.CustomerDetails, error) {
	args := m.Called(ctx)
	return args.Get(0).(types.CustomerDetails), args.Error(1)
}

func (m *MockSession) EnergyFlow(ctx context.Context) (types.EnergyFlow, error) {
	args := m.Called(ctx)
	return args.Get(0).(types.EnergyFlow), args.Error(1)
}

func (m *MockSession) MeterStatus(ctx context.Context) (types.MeterStatus, error) {
	args := m.Called(ctx)
	return args.Get(0).(types.MeterStatus), args.Error(1)
}

func (m *MockSession) PriceZone(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockSession) Revenue(ctx context.Context, from, to time.Time) ([]types.RevenueDay, error) {
	args := m.Called(ctx, from, to)
	if rows, ok := args.Get(0).([]types.RevenueDay); ok {
		return rows, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSession) MonthPeakPower(ctx context.Context, month time.Time) (float64, error) {
	args := m.Called(ctx, month)
	return args.Get(0).(float64), args.Error(1)
}

func (m *MockSession) EnergyTradingCompany(ctx context.Context, id int) (types.EnergyTradingCompany, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(types.EnergyTradingCompany), args.Error(1)
}

func (m *MockSession) PowerTotals(ctx context.Context, to time.Time) (types.PowerTotals, error) {
	args := m.Called(ctx, to)
	return args.Get(0).(types.PowerTotals), args.Error(1)
}

func (m *MockSession) SpotPrices(ctx context.Context, zone string, day time.Time) ([]types.SpotPrice, error) {
	args := m.Called(ctx, zone, day)
	if prices, ok := args.Get(0).([]types.SpotPrice); ok {
		return prices, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSession) Close() {
	m.Called()
}
