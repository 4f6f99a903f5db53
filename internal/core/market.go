package core

import (
	"fmt"
	"strings"
)

// Stock identifies a listed security.
type Stock struct {
	ID       int64  `json:"id"`
	Code     string `json:"code"`
	Name     string `json:"name"`
	Exchange string `json:"exchange,omitempty"`
	Industry string `json:"industry,omitempty"`
}

// Candle is one OHLCV record for a stock at a given resolution.
type Candle struct {
	StockID    int64   `json:"-"`
	Date       string  `json:"date"` // YYYY-MM-DD
	Resolution string  `json:"resolution"`
	Open       float64 `json:"open"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	Close      float64 `json:"close"`
	Volume     float64 `json:"volume"`
	Turnover   float64 `json:"turnover"`
}

// Financial is the latest headline-fundamentals snapshot for a stock.
// One row per stock; each refresh replaces the previous snapshot.
type Financial struct {
	StockID   int64   `json:"-"`
	Date      string  `json:"date"` // YYYY-MM-DD the snapshot refers to
	PE        float64 `json:"pe"`
	PB        float64 `json:"pb"`
	MarketCap float64 `json:"market_cap"`
	ROE       float64 `json:"roe"`
}

// FactSheetLimit caps how many recent candles go into an analysis
// prompt to bound its size.
const FactSheetLimit = 20

// FormatFactSheet renders recent candles (newest first) as the text
// block fed to the analysis prompts. Empty input yields a placeholder
// so prompts stay well-formed.
func FormatFactSheet(candles []Candle) string {
	if len(candles) == 0 {
		return "price data unavailable"
	}
	if len(candles) > FactSheetLimit {
		candles = candles[:FactSheetLimit]
	}
	lines := make([]string, 0, len(candles))
	for _, c := range candles {
		lines = append(lines, fmt.Sprintf(
			"date: %s, open: %.2f, high: %.2f, low: %.2f, close: %.2f, volume: %.0f",
			c.Date, c.Open, c.High, c.Low, c.Close, c.Volume))
	}
	return strings.Join(lines, "\n")
}
