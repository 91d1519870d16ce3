package rank

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/cwbridge/cwbridge/pkg/common"
	"github.com/cwbridge/cwbridge/pkg/log"
	"github.com/cwbridge/cwbridge/pkg/types"
)

// ReporterName identifies this integration to the rank endpoint.
const ReporterName = "HomeAssistantV2"

// PushTimeout bounds every request to the rank endpoint.
const PushTimeout = 10 * time.Second

// ErrPushFailed is returned for any push that did not get a 2xx answer.
var ErrPushFailed = errors.New("rank push failed")

// Pusher sends reports to the rank endpoint.
type Pusher interface {
	Push(ctx context.Context, report types.RankReport) error
	PushHistory(ctx context.Context, report types.RankHistoryReport) (HistoryResult, error)
}

// HistoryResult is the outcome of a history backfill.
type HistoryResult struct {
	StoredItems int
	TotalItems  int
}

// Reporter implements Pusher over HTTP.
type Reporter struct {
	client     *http.Client
	pushURL    string
	historyURL string
}

// Configured sets up the rank reporter.
// It uses lflag to register command-line flags for configuration.
func Configured() *Reporter {
	pushURL := lflag.String("rank-push-url", "https://checkwattrank.netlify.app/.netlify/functions/publishToSheet", "URL the daily rank report is posted to")
	historyURL := lflag.String("rank-history-url", "https://checkwattrank.netlify.app/.netlify/functions/publishHistory", "URL rank history backfills are posted to")

	r := &Reporter{}
	lflag.Do(func() {
		r.client = common.HTTPClient(PushTimeout)
		r.pushURL = *pushURL
		r.historyURL = *historyURL
	})
	return r
}

// NewReporter returns a reporter posting to the given URLs.
func NewReporter(client *http.Client, pushURL, historyURL string) *Reporter {
	return &Reporter{client: client, pushURL: pushURL, historyURL: historyURL}
}

// Push sends the daily report. Failures are logged and returned, never
// retried.
func (r *Reporter) Push(ctx context.Context, report types.RankReport) error {
	if report.Reporter == "" {
		report.Reporter = ReporterName
	}
	body, err := r.post(ctx, r.pushURL, report)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to push to rank", slog.Any("error", err))
		return err
	}
	log.Ctx(ctx).InfoContext(
		ctx,
		"pushed to rank",
		slog.String("displayName", report.DisplayName),
		slog.Float64("todayNetIncome", report.TodayNetIncome),
		slog.String("response", string(body)),
	)
	return nil
}

type historyResponse struct {
	Count int `json:"count"`
}

// PushHistory sends a backfill of past days.
func (r *Reporter) PushHistory(ctx context.Context, report types.RankHistoryReport) (HistoryResult, error) {
	if report.Reporter == "" {
		report.Reporter = ReporterName
	}
	res := HistoryResult{TotalItems: len(report.HistoricalData)}
	body, err := r.post(ctx, r.historyURL, report)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to push rank history", slog.Any("error", err))
		return res, err
	}

	var hr historyResponse
	if err := json.Unmarshal(body, &hr); err == nil {
		res.StoredItems = hr.Count
	} else {
		// plain text answers mean everything was accepted
		res.StoredItems = res.TotalItems
	}
	log.Ctx(ctx).InfoContext(
		ctx,
		"pushed rank history",
		slog.Int("stored", res.StoredItems),
		slog.Int("total", res.TotalItems),
	)
	return res, nil
}

func (r *Reporter) post(ctx context.Context, u string, data any) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, PushTimeout)
	defer cancel()

	b, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", u, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPushFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPushFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return body, fmt.Errorf("%w: status %d", ErrPushFailed, resp.StatusCode)
	}
	return body, nil
}
