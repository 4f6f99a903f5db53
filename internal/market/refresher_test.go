package market

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsight-ai/finsight/internal/core"
	"github.com/finsight-ai/finsight/internal/events"
	"github.com/finsight-ai/finsight/internal/hub"
	"github.com/finsight-ai/finsight/internal/logging"
)

// memStore is an in-memory MarketStore for refresher tests.
type memStore struct {
	mu         sync.Mutex
	stocks     []core.Stock
	candles    map[int64][]core.Candle
	financials map[int64]core.Financial
}

func (m *memStore) ListStocks(_ context.Context, _ string, _, _ int) ([]core.Stock, int, error) {
	return m.stocks, len(m.stocks), nil
}

func (m *memStore) GetStock(_ context.Context, code string) (*core.Stock, error) {
	for _, s := range m.stocks {
		if s.Code == code {
			st := s
			return &st, nil
		}
	}
	return nil, core.ErrNotFound("stock", code)
}

func (m *memStore) UpsertCandles(_ context.Context, stockID int64, candles []core.Candle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.candles == nil {
		m.candles = make(map[int64][]core.Candle)
	}
	m.candles[stockID] = append(m.candles[stockID], candles...)
	return nil
}

func (m *memStore) UpsertFinancial(_ context.Context, stockID int64, fin core.Financial) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.financials == nil {
		m.financials = make(map[int64]core.Financial)
	}
	m.financials[stockID] = fin
	return nil
}

func (m *memStore) candleCount(stockID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.candles[stockID])
}

func quoteServer(t *testing.T, fail map[string]int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		if status, ok := fail[code]; ok {
			w.WriteHeader(status)
			return
		}
		_ = json.NewEncoder(w).Encode(quoteResponse{
			Code: code,
			Candles: []quoteCandle{
				{Date: "2026-08-20", Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 100},
				{Date: "2026-08-21", Open: 10.5, High: 12, Low: 10, Close: 11.5, Volume: 150},
			},
			Financial: &quoteFinancial{
				Date: "2026-08-21", PE: 30.5, PB: 8.1, MarketCap: 2.1e12, ROE: 0.31,
			},
		})
	}))
}

func TestRefreshAllStoresCandles(t *testing.T) {
	srv := quoteServer(t, nil)
	defer srv.Close()

	st := &memStore{stocks: []core.Stock{
		{ID: 1, Code: "600519", Name: "Moutai"},
		{ID: 2, Code: "000858", Name: "Wuliangye"},
	}}
	registry := hub.NewRegistry()
	r := NewRefresher(Config{QuoteURL: srv.URL}, st, nil, registry, logging.NewNop())

	require.NoError(t, r.RefreshAll(context.Background(), "refresh-1"))

	assert.Len(t, st.candles[1], 2)
	assert.Len(t, st.candles[2], 2)
	assert.Equal(t, "1d", st.candles[1][0].Resolution)
	assert.Equal(t, 30.5, st.financials[1].PE)

	state, err := registry.Status("refresh-1")
	require.NoError(t, err)
	assert.Equal(t, hub.StatusCompleted, state.Status)
	assert.Equal(t, 2, state.Current)
}

func TestRefreshStockSingle(t *testing.T) {
	srv := quoteServer(t, nil)
	defer srv.Close()

	st := &memStore{stocks: []core.Stock{{ID: 7, Code: "600519", Name: "Moutai"}}}
	r := NewRefresher(Config{QuoteURL: srv.URL}, st, nil, nil, logging.NewNop())

	require.NoError(t, r.RefreshStock(context.Background(), "600519"))
	assert.Len(t, st.candles[7], 2)
	assert.Equal(t, "2026-08-21", st.financials[7].Date)

	err := r.RefreshStock(context.Background(), "000000")
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatNotFound))
}

func TestRefreshStockRequiresQuoteURL(t *testing.T) {
	r := NewRefresher(Config{}, &memStore{}, nil, nil, logging.NewNop())

	err := r.RefreshStock(context.Background(), "600519")
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))
}

func TestRunRefreshesOnSchedule(t *testing.T) {
	srv := quoteServer(t, nil)
	defer srv.Close()

	st := &memStore{stocks: []core.Stock{{ID: 1, Code: "600519"}}}
	r := NewRefresher(Config{QuoteURL: srv.URL}, st, nil, hub.NewRegistry(), logging.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := r.Run(ctx, 40*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// At least two ticks completed; each stores two candles.
	assert.GreaterOrEqual(t, st.candleCount(1), 4)
}

func TestRunDisabledWithoutQuoteURL(t *testing.T) {
	r := NewRefresher(Config{}, &memStore{}, nil, nil, logging.NewNop())
	assert.NoError(t, r.Run(context.Background(), time.Hour))

	srv := quoteServer(t, nil)
	defer srv.Close()
	r = NewRefresher(Config{QuoteURL: srv.URL}, &memStore{}, nil, nil, logging.NewNop())
	assert.NoError(t, r.Run(context.Background(), 0))
}

func TestRefreshAllSkipsFailedStocks(t *testing.T) {
	srv := quoteServer(t, map[string]int{"000858": http.StatusInternalServerError})
	defer srv.Close()

	st := &memStore{stocks: []core.Stock{
		{ID: 1, Code: "600519"},
		{ID: 2, Code: "000858"},
	}}
	progress := hub.New(logging.NewNop(), hub.WithBufferSize(32))
	sub := progress.SubscribeStream("refresh-1")
	registry := hub.NewRegistry()
	r := NewRefresher(Config{QuoteURL: srv.URL}, st, progress, registry, logging.NewNop())

	require.NoError(t, r.RefreshAll(context.Background(), "refresh-1"))
	progress.UnsubscribeStream(sub)

	assert.Len(t, st.candles[1], 2)
	assert.Empty(t, st.candles[2])

	warnings, completes := 0, 0
	for ev := range sub.Events() {
		switch ev.EventType() {
		case events.TypeWarning:
			warnings++
		case events.TypeComplete:
			completes++
		}
	}
	assert.Equal(t, 1, warnings)
	assert.Equal(t, 1, completes)
}

func TestRefreshAllFailsWhenNothingRefreshed(t *testing.T) {
	srv := quoteServer(t, map[string]int{"600519": http.StatusBadGateway})
	defer srv.Close()

	st := &memStore{stocks: []core.Stock{{ID: 1, Code: "600519"}}}
	registry := hub.NewRegistry()
	r := NewRefresher(Config{QuoteURL: srv.URL}, st, nil, registry, logging.NewNop())

	err := r.RefreshAll(context.Background(), "refresh-1")
	require.Error(t, err)

	state, stErr := registry.Status("refresh-1")
	require.NoError(t, stErr)
	assert.Equal(t, hub.StatusFailed, state.Status)
	assert.NotEmpty(t, state.Error)
}

func TestRefreshAllRequiresQuoteURL(t *testing.T) {
	r := NewRefresher(Config{}, &memStore{}, nil, nil, logging.NewNop())

	err := r.RefreshAll(context.Background(), "refresh-1")
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))
}

func TestRefreshAllNoStocksIsNoop(t *testing.T) {
	srv := quoteServer(t, nil)
	defer srv.Close()

	r := NewRefresher(Config{QuoteURL: srv.URL}, &memStore{}, nil, nil, logging.NewNop())
	assert.NoError(t, r.RefreshAll(context.Background(), "refresh-1"))
}
