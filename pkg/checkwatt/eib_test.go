package checkwatt

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbridge/cwbridge/pkg/types"
)

func TestEIB(t *testing.T) {
	creds := types.Credentials{Username: "user@example.com", Password: "pass"}

	t.Run("Login Flow", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/user/LoginEiB" {
				u, p, ok := r.BasicAuth()
				require.True(t, ok)
				assert.Equal(t, "user@example.com", u)
				assert.Equal(t, "pass", p)
				assert.Equal(t, "eib", r.URL.Query().Get("audience"))
				json.NewEncoder(w).Encode(map[string]any{"JwtToken": "fake-token-123"})
				return
			}
			http.Error(w, "not found", 404)
		}))
		defer ts.Close()

		sess, err := NewEIB(ts.Client(), ts.URL).Login(context.Background(), creds)
		require.NoError(t, err)
		assert.Equal(t, "fake-token-123", sess.(*eibSession).token)
	})

	t.Run("Invalid Auth", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer ts.Close()

		_, err := NewEIB(ts.Client(), ts.URL).Login(context.Background(), creds)
		assert.True(t, errors.Is(err, ErrInvalidAuth))

		_, err = NewEIB(ts.Client(), ts.URL).Login(context.Background(), types.Credentials{Username: "u"})
		assert.True(t, errors.Is(err, ErrInvalidAuth))
	})

	t.Run("Relogin On Expired Token", func(t *testing.T) {
		var logins int
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/user/LoginEiB":
				logins++
				if logins == 1 {
					json.NewEncoder(w).Encode(map[string]any{"JwtToken": "old"})
				} else {
					json.NewEncoder(w).Encode(map[string]any{"JwtToken": "new"})
				}
			case "/controlpanel/energyflow":
				if r.Header.Get("Authorization") != "Bearer new" {
					w.WriteHeader(http.StatusUnauthorized)
					return
				}
				json.NewEncoder(w).Encode(map[string]any{
					"BatteryNow": -1200.0,
					"GridNow":    300.0,
					"SolarNow":   2500.0,
					"BatterySoC": 55.0,
				})
			default:
				http.Error(w, "not found", 404)
			}
		}))
		defer ts.Close()

		sess, err := NewEIB(ts.Client(), ts.URL).Login(context.Background(), creds)
		require.NoError(t, err)
		f, err := sess.EnergyFlow(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, logins)
		assert.Equal(t, -1200.0, f.BatteryPowerW)
		assert.Equal(t, 55.0, f.BatterySOC)
	})

	t.Run("Customer And Meter", func(t *testing.T) {
		var customerCalls int
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/user/LoginEiB":
				json.NewEncoder(w).Encode(map[string]any{"JwtToken": "tok"})
			case "/controlpanel/CustomerDetail":
				customerCalls++
				json.NewEncoder(w).Encode(map[string]any{
					"Id":            "4711",
					"StreetAddress": "Storgatan 1",
					"Meter":         []map[string]any{{"Id": 99, "ResellerId": 32}},
				})
			case "/asset/status":
				assert.Equal(t, "99", r.URL.Query().Get("meterId"))
				json.NewEncoder(w).Encode(map[string]any{
					"Status":  "online",
					"Version": "1.2.3",
					"FcrD":    map[string]any{"State": "ACTIVATED", "Info": "57.00/0.50 %", "Date": "2024-04-10 06:00:00"},
				})
			case "/ems/pricezone":
				w.Write([]byte(`"SE3"`))
			default:
				http.Error(w, "not found", 404)
			}
		}))
		defer ts.Close()

		sess, err := NewEIB(ts.Client(), ts.URL).Login(context.Background(), creds)
		require.NoError(t, err)
		c, err := sess.CustomerDetails(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "4711", c.ID)

		ms, err := sess.MeterStatus(context.Background())
		require.NoError(t, err)
		assert.Equal(t, types.FCRDActivated, ms.FCRD.State)
		assert.Equal(t, "1.2.3", ms.Version)
		assert.Equal(t, 1, customerCalls, "customer details should be cached")

		zone, err := sess.PriceZone(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "SE3", zone)
	})

	t.Run("Revenue And Totals", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/user/LoginEiB":
				json.NewEncoder(w).Encode(map[string]any{"JwtToken": "tok"})
			case "/ems/revenue":
				assert.Equal(t, "2024-01-01", r.URL.Query().Get("fromdate"))
				assert.Equal(t, "2024-04-11", r.URL.Query().Get("todate"))
				json.NewEncoder(w).Encode([]map[string]any{
					{"Date": "2024-04-10", "NetRevenue": 12.5},
				})
			case "/datagrouping/series":
				json.NewEncoder(w).Encode(map[string]any{
					"Grouping": "delta",
					"Meters": []map[string]any{
						{"InterfaceType": "Solar", "Measurements": []map[string]any{{"Value": 1000.0}, {"Value": 500.0}}},
						{"InterfaceType": "Import", "Measurements": []map[string]any{{"Value": 250.0}}},
					},
				})
			default:
				http.Error(w, "not found", 404)
			}
		}))
		defer ts.Close()

		sess, err := NewEIB(ts.Client(), ts.URL).Login(context.Background(), creds)
		require.NoError(t, err)
		rows, err := sess.Revenue(context.Background(), time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 4, 11, 0, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, 12.5, rows[0].NetRevenue)

		totals, err := sess.PowerTotals(context.Background(), time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		assert.Equal(t, 1500.0, totals.SolarWh)
		assert.Equal(t, 250.0, totals.ImportWh)
	})

	t.Run("Server Error", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/user/LoginEiB" {
				json.NewEncoder(w).Encode(map[string]any{"JwtToken": "tok"})
				return
			}
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer ts.Close()

		sess, err := NewEIB(ts.Client(), ts.URL).Login(context.Background(), creds)
		require.NoError(t, err)
		_, err = sess.EnergyFlow(context.Background())
		assert.Error(t, err)
		assert.False(t, errors.Is(err, ErrInvalidAuth))
	})
}
