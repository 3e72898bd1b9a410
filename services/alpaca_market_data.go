package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"delta-trader/interfaces"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/jpillora/backoff"
	"github.com/sirupsen/logrus"
)

// AlpacaMarketDataService fetches option quotes and chains from Alpaca's
// options data endpoints and underlying quotes through the marketdata
// client.
type AlpacaMarketDataService struct {
	apiKey    string
	secretKey string
	baseURL   string
	logger    *logrus.Logger
	client    *http.Client
	stocks    *marketdata.Client
}

// NewAlpacaMarketDataService creates a new Alpaca market data service.
func NewAlpacaMarketDataService(apiKey, secretKey string) *AlpacaMarketDataService {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	return &AlpacaMarketDataService{
		apiKey:    apiKey,
		secretKey: secretKey,
		baseURL:   "https://data.alpaca.markets",
		logger:    logger,
		client:    &http.Client{Timeout: 30 * time.Second},
		stocks: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    apiKey,
			APISecret: secretKey,
		}),
	}
}

// alpacaOptionSnapshots is the v1beta1 options snapshot response.
type alpacaOptionSnapshots struct {
	Snapshots map[string]alpacaOptionSnapshot `json:"snapshots"`
}

type alpacaOptionSnapshot struct {
	LatestQuote *alpacaQuote  `json:"latestQuote"`
	LatestTrade *alpacaTrade  `json:"latestTrade"`
	Greeks      *alpacaGreeks `json:"greeks"` // may be absent
	ImpliedVol  float64       `json:"impliedVolatility"`
}

type alpacaQuote struct {
	Timestamp time.Time `json:"t"`
	BidPrice  float64   `json:"bp"`
	AskPrice  float64   `json:"ap"`
	BidSize   int       `json:"bs"`
	AskSize   int       `json:"as"`
}

type alpacaTrade struct {
	Timestamp time.Time `json:"t"`
	Price     float64   `json:"p"`
	Size      int       `json:"s"`
}

type alpacaGreeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
	Rho   float64 `json:"rho"`
}

// GetContractQuote gets the latest snapshot for a single option contract.
// A missing Greeks block is returned as a nil Greeks pointer, never an
// error.
func (s *AlpacaMarketDataService) GetContractQuote(ctx context.Context, contractSymbol string) (*interfaces.OptionsQuote, error) {
	url := fmt.Sprintf("%s/v1beta1/options/snapshots?symbols=%s", s.baseURL, contractSymbol)

	var snapshots alpacaOptionSnapshots
	if err := s.getJSON(ctx, url, &snapshots); err != nil {
		return nil, fmt.Errorf("failed to fetch snapshot: %w", err)
	}

	snap, ok := snapshots.Snapshots[contractSymbol]
	if !ok {
		return nil, fmt.Errorf("no snapshot data for %s", contractSymbol)
	}

	return s.toQuote(contractSymbol, snap), nil
}

// GetUnderlyingQuote gets the latest trade and prior close for the
// underlying stock.
func (s *AlpacaMarketDataService) GetUnderlyingQuote(ctx context.Context, symbol string) (*interfaces.UnderlyingQuote, error) {
	snapshot, err := s.stocks.GetSnapshot(symbol, marketdata.GetSnapshotRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch underlying snapshot: %w", err)
	}

	quote := &interfaces.UnderlyingQuote{Symbol: symbol}
	if snapshot.LatestTrade != nil {
		quote.Last = snapshot.LatestTrade.Price
	}
	if snapshot.PrevDailyBar != nil {
		quote.Close = snapshot.PrevDailyBar.Close
	}
	return quote, nil
}

// GetOptionChain fetches the full options snapshot for an underlying and
// assembles the chain view. IV rank is not exposed by the data API and is
// filled in by the market-condition feed.
func (s *AlpacaMarketDataService) GetOptionChain(ctx context.Context, underlying string) (*interfaces.OptionChain, error) {
	underQuote, err := s.GetUnderlyingQuote(ctx, underlying)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/v1beta1/options/snapshots/%s?feed=indicative&limit=1000", s.baseURL, underlying)

	var snapshots alpacaOptionSnapshots
	if err := s.getJSON(ctx, url, &snapshots); err != nil {
		return nil, fmt.Errorf("failed to fetch option chain: %w", err)
	}

	now := time.Now()
	chain := &interfaces.OptionChain{
		UnderlyingSymbol: underlying,
		UnderlyingPrice:  underQuote.Last,
		FetchedAt:        now,
	}

	seenExpirations := make(map[string]time.Time)
	for symbol, snap := range snapshots.Snapshots {
		contract, err := s.toContract(symbol, underlying, snap, underQuote.Last, now)
		if err != nil {
			s.logger.WithError(err).WithField("symbol", symbol).Debug("Skipping unparseable contract")
			continue
		}

		if contract.ContractType == "call" {
			chain.Calls = append(chain.Calls, contract)
		} else {
			chain.Puts = append(chain.Puts, contract)
		}
		seenExpirations[contract.ExpirationDate.Format("2006-01-02")] = contract.ExpirationDate
	}

	for _, exp := range seenExpirations {
		chain.Expirations = append(chain.Expirations, exp)
	}

	s.logger.WithFields(logrus.Fields{
		"underlying":  underlying,
		"calls":       len(chain.Calls),
		"puts":        len(chain.Puts),
		"expirations": len(chain.Expirations),
	}).Debug("Fetched option chain")

	return chain, nil
}

// GetRecentBars fetches the trailing daily bars for an underlying,
// newest last. The lookback is padded for weekends and holidays, then
// trimmed to the requested count.
func (s *AlpacaMarketDataService) GetRecentBars(ctx context.Context, symbol string, days int) ([]*interfaces.Bar, error) {
	start := time.Now().AddDate(0, 0, -(days*7/5 + 5))
	raw, err := s.stocks.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     start,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch bars: %w", err)
	}

	if len(raw) > days {
		raw = raw[len(raw)-days:]
	}

	bars := make([]*interfaces.Bar, len(raw))
	for i, b := range raw {
		bars[i] = &interfaces.Bar{
			Symbol:    symbol,
			Timestamp: b.Timestamp,
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    int64(b.Volume),
		}
	}
	return bars, nil
}

func (s *AlpacaMarketDataService) toQuote(symbol string, snap alpacaOptionSnapshot) *interfaces.OptionsQuote {
	quote := &interfaces.OptionsQuote{Symbol: symbol, Timestamp: time.Now()}
	if snap.LatestQuote != nil {
		quote.Bid = snap.LatestQuote.BidPrice
		quote.Ask = snap.LatestQuote.AskPrice
		quote.Timestamp = snap.LatestQuote.Timestamp
	}
	if snap.LatestTrade != nil {
		quote.Last = snap.LatestTrade.Price
	}
	if snap.Greeks != nil {
		quote.Greeks = &interfaces.Greeks{
			Delta: snap.Greeks.Delta,
			Gamma: snap.Greeks.Gamma,
			Theta: snap.Greeks.Theta,
			Vega:  snap.Greeks.Vega,
			Rho:   snap.Greeks.Rho,
			MidIV: snap.ImpliedVol,
		}
	}
	return quote
}

func (s *AlpacaMarketDataService) toContract(symbol, underlying string, snap alpacaOptionSnapshot, underlyingPrice float64, now time.Time) (*interfaces.OptionContract, error) {
	strike, expiration, contractType, err := parseOCCSymbol(symbol, underlying)
	if err != nil {
		return nil, err
	}

	contract := &interfaces.OptionContract{
		Symbol:           symbol,
		UnderlyingSymbol: underlying,
		ContractType:     contractType,
		StrikePrice:      strike,
		ExpirationDate:   expiration,
		DTE:              marketCloseDTE(now, expiration),
	}

	if snap.LatestQuote != nil {
		contract.Bid = snap.LatestQuote.BidPrice
		contract.Ask = snap.LatestQuote.AskPrice
	}
	if snap.LatestTrade != nil {
		contract.LastPrice = snap.LatestTrade.Price
	}
	if snap.Greeks != nil {
		contract.Delta = snap.Greeks.Delta
		contract.Gamma = snap.Greeks.Gamma
		contract.Theta = snap.Greeks.Theta
		contract.Vega = snap.Greeks.Vega
		contract.Rho = snap.Greeks.Rho
	}
	contract.ImpliedVolatility = snap.ImpliedVol

	intrinsic := underlyingPrice - strike
	if contractType == "put" {
		intrinsic = strike - underlyingPrice
	}
	if intrinsic < 0 {
		intrinsic = 0
	}
	contract.IntrinsicValue = intrinsic
	if mid := contract.MidPrice(); mid > intrinsic {
		contract.TimeValue = mid - intrinsic
	}

	return contract, nil
}

// parseOCCSymbol splits an OCC option symbol (e.g. "AAPL240621C00195000")
// into strike, expiration and type.
func parseOCCSymbol(symbol, underlying string) (float64, time.Time, string, error) {
	if len(symbol) < len(underlying)+15 {
		return 0, time.Time{}, "", fmt.Errorf("symbol %q too short for OCC format", symbol)
	}

	rest := symbol[len(underlying):]
	dateStr := rest[:6]
	typeChar := rest[6]
	strikeStr := rest[7:]

	expiration, err := time.Parse("060102", dateStr)
	if err != nil {
		return 0, time.Time{}, "", fmt.Errorf("bad expiration in %q: %w", symbol, err)
	}

	strikeRaw, err := strconv.ParseInt(strikeStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, "", fmt.Errorf("bad strike in %q: %w", symbol, err)
	}

	contractType := "call"
	if typeChar == 'P' {
		contractType = "put"
	} else if typeChar != 'C' {
		return 0, time.Time{}, "", fmt.Errorf("bad contract type %q in %q", typeChar, symbol)
	}

	return float64(strikeRaw) / 1000.0, expiration, contractType, nil
}

// getJSON performs an authenticated GET with retries on transient
// failures.
func (s *AlpacaMarketDataService) getJSON(ctx context.Context, url string, out interface{}) error {
	b := &backoff.Backoff{
		Min:    250 * time.Millisecond,
		Max:    2 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(b.Duration()):
			}
		}

		req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
		if err != nil {
			return err
		}
		req.Header.Set("APCA-API-KEY-ID", s.apiKey)
		req.Header.Set("APCA-API-SECRET-KEY", s.secretKey)

		resp, err := s.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			lastErr = fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
			continue
		}
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	}

	return lastErr
}
