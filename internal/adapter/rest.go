package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/cache"
	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/model"
	"github.com/SpartanDigitalDotNet/Livermore-sub006/internal/timeframe"
)

// KlineFetcher fetches recent closed 5m candles over REST, ascending.
type KlineFetcher interface {
	Fetch(ctx context.Context, symbol string, bars int) ([]model.Candle, error)
}

// Bridge fulfils the backfill contract over a REST kline endpoint: after a
// successful Backfill the tier-1 series for (symbol, timeframe) holds at
// least the requested bars. Higher timeframes are aggregated from 5m.
type Bridge struct {
	exchangeID int
	fetcher    KlineFetcher
	candles    *cache.CandleStore
	log        *slog.Logger
}

// NewBridge builds a Backfiller for one exchange.
func NewBridge(exchangeID int, fetcher KlineFetcher, client *cache.Client, log *slog.Logger) *Bridge {
	return &Bridge{
		exchangeID: exchangeID,
		fetcher:    fetcher,
		candles:    cache.NewCandleStore(client),
		log:        log,
	}
}

var _ model.Backfiller = (*Bridge)(nil)

func (b *Bridge) Backfill(ctx context.Context, symbol, tf string, bars int) error {
	tfMs, err := timeframe.ToMs(tf)
	if err != nil {
		return err
	}
	sourceMs, _ := timeframe.ToMs("5m")
	factor := int(tfMs / sourceMs)
	if factor < 1 {
		return fmt.Errorf("backfill %s: %w", tf, timeframe.ErrInvalidTimeframe)
	}

	fetched, err := b.fetcher.Fetch(ctx, symbol, bars*factor)
	if err != nil {
		return fmt.Errorf("backfill fetch %s %s: %w", symbol, tf, err)
	}

	series := fetched
	if tf != "5m" {
		series, err = timeframe.Aggregate(fetched, "5m", tf)
		if err != nil {
			return fmt.Errorf("backfill aggregate %s %s: %w", symbol, tf, err)
		}
	}

	written := 0
	for _, c := range series {
		ok, err := b.candles.AddIfNewer(ctx, b.exchangeID, c)
		if err != nil {
			return fmt.Errorf("backfill write %s %s: %w", symbol, tf, err)
		}
		if ok {
			written++
		}
	}
	b.log.Info("backfill complete",
		slog.String("symbol", symbol),
		slog.String("timeframe", tf),
		slog.Int("fetched", len(fetched)),
		slog.Int("written", written))
	return nil
}

// ── Coinbase fetcher ──

// CoinbaseKlines reads the public Advanced Trade candle endpoint.
type CoinbaseKlines struct {
	RESTURL string
	HTTP    *http.Client
}

func (f *CoinbaseKlines) Fetch(ctx context.Context, symbol string, bars int) ([]model.Candle, error) {
	now := time.Now().UTC()
	start := now.Add(-time.Duration(bars) * 5 * time.Minute)
	endpoint := fmt.Sprintf("%s/api/v3/brokerage/market/products/%s/candles?granularity=FIVE_MINUTE&start=%d&end=%d",
		f.RESTURL, url.PathEscape(symbol), start.Unix(), now.Unix())

	body, err := getJSON(ctx, f.httpClient(), endpoint)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Candles []cbCandle `json:"candles"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode candles: %w", err)
	}

	out := make([]model.Candle, 0, len(resp.Candles))
	for _, nc := range resp.Candles {
		nc.ProductID = symbol
		c, err := normaliseCoinbaseCandle(nc, 0)
		if err != nil {
			continue
		}
		out = append(out, c)
	}
	// Coinbase returns newest first.
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

func (f *CoinbaseKlines) httpClient() *http.Client {
	if f.HTTP != nil {
		return f.HTTP
	}
	return http.DefaultClient
}

// ── Binance fetcher ──

// BinanceKlines reads the public Spot kline endpoint.
type BinanceKlines struct {
	RESTURL string
	HTTP    *http.Client
}

func (f *BinanceKlines) Fetch(ctx context.Context, symbol string, bars int) ([]model.Candle, error) {
	endpoint := fmt.Sprintf("%s/api/v3/klines?symbol=%s&interval=5m&limit=%d",
		f.RESTURL, binanceSymbol(symbol), bars)

	body, err := getJSON(ctx, f.httpClient(), endpoint)
	if err != nil {
		return nil, err
	}

	// Each row: [openTime, open, high, low, close, volume, closeTime, ...]
	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}

	out := make([]model.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		var openTime int64
		if err := json.Unmarshal(row[0], &openTime); err != nil {
			continue
		}
		fields := make([]float64, 5)
		bad := false
		for i := 0; i < 5; i++ {
			var s string
			if err := json.Unmarshal(row[i+1], &s); err != nil {
				bad = true
				break
			}
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				bad = true
				break
			}
			fields[i] = v
		}
		if bad {
			continue
		}
		out = append(out, model.Candle{
			Timestamp: openTime,
			Symbol:    symbol,
			Timeframe: "5m",
			Open:      fields[0],
			High:      fields[1],
			Low:       fields[2],
			Close:     fields[3],
			Volume:    fields[4],
		})
	}
	return out, nil
}

func (f *BinanceKlines) httpClient() *http.Client {
	if f.HTTP != nil {
		return f.HTTP
	}
	return http.DefaultClient
}

func getJSON(ctx context.Context, client *http.Client, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http %d from %s", resp.StatusCode, endpoint)
	}
	return io.ReadAll(resp.Body)
}
