package checkwatt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/cwbridge/cwbridge/pkg/common"
	"github.com/cwbridge/cwbridge/pkg/log"
	"github.com/cwbridge/cwbridge/pkg/types"
)

const eibLoginPath = "user/LoginEiB"

const dateLayout = "2006-01-02"

// EIB implements Client for the EnergyInBalance API.
type EIB struct {
	client  *http.Client
	baseURL string
}

// Configured sets up the EnergyInBalance client.
// It uses lflag to register command-line flags for configuration.
func Configured() *EIB {
	apiURL := lflag.String("checkwatt-api-url", "https://api.checkwatt.se", "URL for the CheckWatt EnergyInBalance API")
	timeout := lflag.Duration("checkwatt-timeout", 30*time.Second, "Timeout for requests to the EnergyInBalance API")

	e := &EIB{}
	lflag.Do(func() {
		e.client = common.HTTPClient(*timeout)
		e.baseURL = *apiURL
	})
	return e
}

// NewEIB returns a client for the given base URL.
func NewEIB(client *http.Client, baseURL string) *EIB {
	return &EIB{client: client, baseURL: baseURL}
}

type loginResult struct {
	JwtToken     string `json:"JwtToken"`
	RefreshToken string `json:"RefreshToken"`
}

// Login implements Client.
func (e *EIB) Login(ctx context.Context, creds types.Credentials) (Session, error) {
	if err := creds.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAuth, err)
	}
	s := &eibSession{
		eib:   e,
		creds: creds,
	}
	if err := s.login(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

type eibSession struct {
	eib   *EIB
	creds types.Credentials

	mu       sync.Mutex
	token    string
	customer *types.CustomerDetails
}

func (s *eibSession) login(ctx context.Context) error {
	params := url.Values{}
	params.Set("audience", "eib")
	req, err := s.newPostJSONRequest(ctx, eibLoginPath, params, map[string]string{
		"OneTimePassword": "",
	})
	if err != nil {
		return err
	}
	req.SetBasicAuth(s.creds.Username, s.creds.Password)

	var res loginResult
	if err := s.doRequest(req, &res); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "checkwatt login failed", slog.Any("error", err))
		return err
	}
	if res.JwtToken == "" {
		return fmt.Errorf("%w: empty token", ErrInvalidAuth)
	}
	log.Ctx(ctx).DebugContext(ctx, "checkwatt login success", slog.String("username", s.creds.Username))

	s.mu.Lock()
	s.token = res.JwtToken
	s.mu.Unlock()
	return nil
}

func (s *eibSession) newGetRequest(ctx context.Context, endpoint string, params url.Values) (*http.Request, error) {
	u, err := url.Parse(s.eib.baseURL)
	if err != nil {
		return nil, err
	}
	u.Path, err = url.JoinPath(u.Path, endpoint)
	if err != nil {
		return nil, err
	}

	u.RawQuery = params.Encode()
	return http.NewRequestWithContext(ctx, "GET", u.String(), nil)
}

func (s *eibSession) newPostJSONRequest(ctx context.Context, endpoint string, params url.Values, data any) (*http.Request, error) {
	u, err := url.Parse(s.eib.baseURL)
	if err != nil {
		return nil, err
	}
	u.Path, err = url.JoinPath(u.Path, endpoint)
	if err != nil {
		return nil, err
	}
	u.RawQuery = params.Encode()

	body, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (s *eibSession) doRequest(req *http.Request, dest any) error {
	isLogin := strings.HasSuffix(req.URL.Path, eibLoginPath)

	// we try up to 2 times because the token might have expired
	for i := 0; i < 2; i++ {
		if !isLogin {
			s.mu.Lock()
			req.Header.Set("Authorization", "Bearer "+s.token)
			s.mu.Unlock()
		}
		req.Header.Set("Accept", "application/json")

		resp, err := s.eib.client.Do(req)
		if err != nil {
			return err
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return err
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			if isLogin {
				return ErrInvalidAuth
			}
			if i > 0 {
				return fmt.Errorf("%w: status %d after re-login", ErrInvalidAuth, resp.StatusCode)
			}
			log.Ctx(req.Context()).DebugContext(req.Context(), "checkwatt token expired")
			if err := s.login(req.Context()); err != nil {
				return err
			}
			if req.GetBody != nil {
				if req.Body, err = req.GetBody(); err != nil {
					return err
				}
			}
			continue
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			log.Ctx(req.Context()).ErrorContext(
				req.Context(),
				"checkwatt api error",
				slog.Int("status", resp.StatusCode),
				slog.String("path", req.URL.Path),
				slog.String("body", string(body)),
			)
			return fmt.Errorf("status %d", resp.StatusCode)
		}

		if dest == nil {
			return nil
		}
		if str, ok := dest.(*string); ok {
			// some endpoints answer with a bare string, quoted or not
			var quoted string
			if err := json.Unmarshal(body, &quoted); err == nil {
				*str = quoted
			} else {
				*str = strings.TrimSpace(string(body))
			}
			return nil
		}
		if err := json.Unmarshal(body, dest); err != nil {
			log.Ctx(req.Context()).ErrorContext(req.Context(), "failed to decode checkwatt response", slog.Any("error", err), slog.String("body", string(body)))
			return fmt.Errorf("failed to decode checkwatt response: %w", err)
		}
		return nil
	}
	return errors.New("checkwatt request retries exhausted")
}

func (s *eibSession) get(ctx context.Context, endpoint string, params url.Values, dest any) error {
	req, err := s.newGetRequest(ctx, endpoint, params)
	if err != nil {
		return err
	}
	if err := s.doRequest(req, dest); err != nil {
		return fmt.Errorf("%s failed: %w", endpoint, err)
	}
	return nil
}

func (s *eibSession) primaryMeter(ctx context.Context) (types.Meter, error) {
	c, err := s.CustomerDetails(ctx)
	if err != nil {
		return types.Meter{}, err
	}
	m, ok := c.PrimaryMeter()
	if !ok {
		return types.Meter{}, errors.New("account has no meters")
	}
	return m, nil
}

// CustomerDetails implements Session. The result is cached for the lifetime
// of the session.
func (s *eibSession) CustomerDetails(ctx context.Context) (types.CustomerDetails, error) {
	s.mu.Lock()
	cached := s.customer
	s.mu.Unlock()
	if cached != nil {
		return *cached, nil
	}

	var c types.CustomerDetails
	if err := s.get(ctx, "controlpanel/CustomerDetail", nil, &c); err != nil {
		return types.CustomerDetails{}, err
	}
	s.mu.Lock()
	s.customer = &c
	s.mu.Unlock()
	return c, nil
}

// EnergyFlow implements Session.
func (s *eibSession) EnergyFlow(ctx context.Context) (types.EnergyFlow, error) {
	var f types.EnergyFlow
	if err := s.get(ctx, "controlpanel/energyflow", nil, &f); err != nil {
		return types.EnergyFlow{}, err
	}
	return f, nil
}

// MeterStatus implements Session.
func (s *eibSession) MeterStatus(ctx context.Context) (types.MeterStatus, error) {
	m, err := s.primaryMeter(ctx)
	if err != nil {
		return types.MeterStatus{}, err
	}
	params := url.Values{}
	params.Set("meterId", strconv.FormatInt(m.ID, 10))
	var ms types.MeterStatus
	if err := s.get(ctx, "asset/status", params, &ms); err != nil {
		return types.MeterStatus{}, err
	}
	return ms, nil
}

// PriceZone implements Session.
func (s *eibSession) PriceZone(ctx context.Context) (string, error) {
	var zone string
	if err := s.get(ctx, "ems/pricezone", nil, &zone); err != nil {
		return "", err
	}
	if zone == "" {
		return "", errors.New("empty price zone")
	}
	return zone, nil
}

// Revenue implements Session.
func (s *eibSession) Revenue(ctx context.Context, from, to time.Time) ([]types.RevenueDay, error) {
	params := url.Values{}
	params.Set("fromdate", from.Format(dateLayout))
	params.Set("todate", to.Format(dateLayout))
	var rows []types.RevenueDay
	if err := s.get(ctx, "ems/revenue", params, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

type monthPeakResult struct {
	HourPeak float64 `json:"HourPeak"`
}

// MonthPeakPower implements Session.
func (s *eibSession) MonthPeakPower(ctx context.Context, month time.Time) (float64, error) {
	m, err := s.primaryMeter(ctx)
	if err != nil {
		return 0, err
	}
	first := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, month.Location())
	params := url.Values{}
	params.Set("meterId", strconv.FormatInt(m.ID, 10))
	params.Set("fromdate", first.Format(dateLayout))
	params.Set("todate", first.AddDate(0, 1, 0).Format(dateLayout))
	var res monthPeakResult
	if err := s.get(ctx, "ems/service/peakpower", params, &res); err != nil {
		return 0, err
	}
	return res.HourPeak, nil
}

// EnergyTradingCompany implements Session.
func (s *eibSession) EnergyTradingCompany(ctx context.Context, id int) (types.EnergyTradingCompany, error) {
	var list []types.EnergyTradingCompany
	if err := s.get(ctx, "controlpanel/elhandelsbolag", nil, &list); err != nil {
		return types.EnergyTradingCompany{}, err
	}
	for _, c := range list {
		if c.ID == id {
			return c, nil
		}
	}
	return types.EnergyTradingCompany{}, fmt.Errorf("unknown energy trading company: %d", id)
}

type seriesResult struct {
	Grouping string `json:"Grouping"`
	Meters   []struct {
		InterfaceType string  `json:"InterfaceType"`
		Measurements  []struct {
			Value float64 `json:"Value"`
		} `json:"Measurements"`
	} `json:"Meters"`
}

// PowerTotals implements Session.
func (s *eibSession) PowerTotals(ctx context.Context, to time.Time) (types.PowerTotals, error) {
	params := url.Values{}
	params.Set("grouping", "delta")
	params.Set("fromdate", "2020-01-01")
	params.Set("todate", to.AddDate(0, 0, 1).Format(dateLayout))
	params.Add("meterId", "Solar")
	params.Add("meterId", "BatteryCharging")
	params.Add("meterId", "BatteryDischarging")
	params.Add("meterId", "Import")
	params.Add("meterId", "Export")
	var res seriesResult
	if err := s.get(ctx, "datagrouping/series", params, &res); err != nil {
		return types.PowerTotals{}, err
	}

	var t types.PowerTotals
	for _, m := range res.Meters {
		var sum float64
		for _, v := range m.Measurements {
			sum += v.Value
		}
		switch m.InterfaceType {
		case "Solar":
			t.SolarWh = sum
		case "BatteryCharging":
			t.ChargingWh = sum
		case "BatteryDischarging":
			t.DischargingWh = sum
		case "Import":
			t.ImportWh = sum
		case "Export":
			t.ExportWh = sum
		}
	}
	return t, nil
}

// SpotPrices implements Session.
func (s *eibSession) SpotPrices(ctx context.Context, zone string, day time.Time) ([]types.SpotPrice, error) {
	params := url.Values{}
	params.Set("zone", zone)
	params.Set("fromdate", day.Format(dateLayout))
	params.Set("todate", day.AddDate(0, 0, 1).Format(dateLayout))
	var prices []types.SpotPrice
	if err := s.get(ctx, "ems/spotprice", params, &prices); err != nil {
		return nil, err
	}
	return prices, nil
}

// Close implements Session.
func (s *eibSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.customer = nil
}
