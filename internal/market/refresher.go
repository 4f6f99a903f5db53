// Package market fetches daily quote data from an upstream provider
// and keeps the local candle store current.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/finsight-ai/finsight/internal/core"
	"github.com/finsight-ai/finsight/internal/events"
	"github.com/finsight-ai/finsight/internal/hub"
	"github.com/finsight-ai/finsight/internal/logging"
)

const maxQuoteBody = 4 << 20 // 4MB

// MarketStore is the slice of the store the refresher needs.
type MarketStore interface {
	ListStocks(ctx context.Context, keyword string, limit, offset int) ([]core.Stock, int, error)
	GetStock(ctx context.Context, code string) (*core.Stock, error)
	UpsertCandles(ctx context.Context, stockID int64, candles []core.Candle) error
	UpsertFinancial(ctx context.Context, stockID int64, fin core.Financial) error
}

// Config controls the refresher.
type Config struct {
	// QuoteURL is the provider endpoint. The stock code is appended as
	// a `code` query parameter. Empty disables refreshing.
	QuoteURL string
	// RequestsPerSecond paces provider requests. Zero or negative means
	// unpaced.
	RequestsPerSecond float64
	// RequestTimeout bounds a single quote fetch.
	RequestTimeout time.Duration
	// Days is how many trailing daily candles to request.
	Days int
}

// Refresher pulls daily candles for every known stock.
type Refresher struct {
	cfg      Config
	store    MarketStore
	client   *http.Client
	limiter  *rate.Limiter
	progress *hub.Hub
	registry *hub.Registry
	logger   *logging.Logger
}

// quoteCandle is the provider's wire shape for one daily bar.
type quoteCandle struct {
	Date     string  `json:"date"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
	Turnover float64 `json:"turnover"`
}

// quoteFinancial is the provider's wire shape for the optional
// fundamentals block riding along with a quote response.
type quoteFinancial struct {
	Date      string  `json:"date"`
	PE        float64 `json:"pe"`
	PB        float64 `json:"pb"`
	MarketCap float64 `json:"market_cap"`
	ROE       float64 `json:"roe"`
}

type quoteResponse struct {
	Code      string          `json:"code"`
	Candles   []quoteCandle   `json:"candles"`
	Financial *quoteFinancial `json:"financial,omitempty"`
}

// NewRefresher creates a refresher. progress and registry may be nil
// when no one is watching.
func NewRefresher(cfg Config, store MarketStore, progress *hub.Hub, registry *hub.Registry, logger *logging.Logger) *Refresher {
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if cfg.Days <= 0 {
		cfg.Days = 60
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &Refresher{
		cfg:      cfg,
		store:    store,
		client:   &http.Client{Timeout: cfg.RequestTimeout},
		limiter:  limiter,
		progress: progress,
		registry: registry,
		logger:   logger,
	}
}

// Run refreshes every stock's quotes each interval until ctx is
// cancelled. A failed run is logged and the loop keeps going. Returns
// immediately when refreshing is not configured.
func (r *Refresher) Run(ctx context.Context, interval time.Duration) error {
	if r.cfg.QuoteURL == "" || interval <= 0 {
		r.logger.Info("scheduled quote refresh disabled")
		return nil
	}

	r.logger.Info("scheduled quote refresh started", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			taskID := "refresh-" + uuid.NewString()
			if err := r.RefreshAll(ctx, taskID); err != nil && ctx.Err() == nil {
				r.logger.Warn("scheduled quote refresh failed", "task_id", taskID, "error", err)
			}
		}
	}
}

// RefreshAll fetches candles for every stored stock, reporting progress
// under taskID. Individual stock failures are logged and skipped; the
// run fails only when no stock could be refreshed.
func (r *Refresher) RefreshAll(ctx context.Context, taskID string) error {
	if r.cfg.QuoteURL == "" {
		return core.ErrInput("MISSING_QUOTE_URL", "market.quote_url is not configured")
	}

	stocks, _, err := r.store.ListStocks(ctx, "", 10000, 0)
	if err != nil {
		return fmt.Errorf("listing stocks for refresh: %w", err)
	}
	if len(stocks) == 0 {
		r.logger.Info("no stocks to refresh")
		return nil
	}

	if r.registry != nil {
		r.registry.Register(taskID, len(stocks))
	}
	r.publish(taskID, events.NewInfoEvent(taskID,
		fmt.Sprintf("refreshing quotes for %d stocks", len(stocks)), events.DetailStart))

	refreshed := 0
	var lastErr error
	for i, stock := range stocks {
		if err := ctx.Err(); err != nil {
			r.finish(taskID, refreshed, err)
			return err
		}

		if err := r.refreshOne(ctx, stock); err != nil {
			lastErr = err
			r.logger.Warn("quote refresh failed", "code", stock.Code, "error", err)
			r.publish(taskID, events.NewWarningEvent(taskID, "",
				fmt.Sprintf("refresh failed for %s: %v", stock.Code, err)))
		} else {
			refreshed++
		}

		if r.registry != nil {
			r.registry.Progress(taskID, i+1, len(stocks))
		}
		r.publish(taskID, events.NewInfoEvent(taskID,
			fmt.Sprintf("refreshed %d/%d", i+1, len(stocks)), ""))
	}

	if refreshed == 0 {
		err := fmt.Errorf("no stocks refreshed: %w", lastErr)
		r.finish(taskID, refreshed, err)
		return err
	}
	r.finish(taskID, refreshed, nil)
	return nil
}

// RefreshStock fetches and stores quotes for a single code.
func (r *Refresher) RefreshStock(ctx context.Context, code string) error {
	if r.cfg.QuoteURL == "" {
		return core.ErrInput("MISSING_QUOTE_URL", "market.quote_url is not configured")
	}
	stock, err := r.store.GetStock(ctx, code)
	if err != nil {
		return err
	}
	return r.refreshOne(ctx, *stock)
}

// refreshOne fetches and stores candles, plus the fundamentals
// snapshot when the provider sends one, for a single stock.
func (r *Refresher) refreshOne(ctx context.Context, stock core.Stock) error {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	candles, fin, err := r.fetchQuotes(ctx, stock.Code)
	if err != nil {
		return err
	}
	if err := r.store.UpsertCandles(ctx, stock.ID, candles); err != nil {
		return err
	}
	if fin != nil {
		if err := r.store.UpsertFinancial(ctx, stock.ID, *fin); err != nil {
			return err
		}
	}
	return nil
}

// fetchQuotes requests daily candles for one code from the provider.
func (r *Refresher) fetchQuotes(ctx context.Context, code string) ([]core.Candle, *core.Financial, error) {
	u, err := url.Parse(r.cfg.QuoteURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing quote url: %w", err)
	}
	q := u.Query()
	q.Set("code", code)
	q.Set("days", fmt.Sprintf("%d", r.cfg.Days))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("building quote request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, nil, core.ErrNetwork("quote provider unreachable").WithCause(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxQuoteBody))
	if err != nil {
		return nil, nil, core.ErrNetwork("reading quote response").WithCause(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, core.ErrProvider("QUOTE_STATUS",
			fmt.Sprintf("quote provider returned status %d", resp.StatusCode))
	}

	var parsed quoteResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, nil, core.ErrParse("malformed quote response").WithCause(err)
	}

	candles := make([]core.Candle, 0, len(parsed.Candles))
	for _, c := range parsed.Candles {
		candles = append(candles, core.Candle{
			Date:       c.Date,
			Resolution: "1d",
			Open:       c.Open,
			High:       c.High,
			Low:        c.Low,
			Close:      c.Close,
			Volume:     c.Volume,
			Turnover:   c.Turnover,
		})
	}

	var fin *core.Financial
	if parsed.Financial != nil {
		fin = &core.Financial{
			Date:      parsed.Financial.Date,
			PE:        parsed.Financial.PE,
			PB:        parsed.Financial.PB,
			MarketCap: parsed.Financial.MarketCap,
			ROE:       parsed.Financial.ROE,
		}
	}
	return candles, fin, nil
}

func (r *Refresher) finish(taskID string, refreshed int, err error) {
	if err != nil {
		if r.registry != nil {
			r.registry.Fail(taskID, err)
		}
		r.publish(taskID, events.NewErrorEvent(taskID, "", err))
		return
	}
	if r.registry != nil {
		r.registry.Complete(taskID)
	}
	r.publish(taskID, events.NewCompleteEvent(taskID, refreshed, 0,
		fmt.Sprintf("refreshed quotes for %d stocks", refreshed)))
}

func (r *Refresher) publish(taskID string, ev events.Event) {
	if r.progress != nil {
		r.progress.Publish(taskID, ev)
	}
}
