package datasource

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
)

// Binance reads account size and instrument constraints from the Binance
// spot API. Instrument metadata rarely changes and is cached per symbol.
type Binance struct {
	client *binance.Client
	asset  string

	mu    sync.Mutex
	cache map[string]Fees
}

// NewBinance builds a datasource reading balances of the given quote asset
// (e.g. USDT).
func NewBinance(apiKey, apiSecret, asset string) *Binance {
	return &Binance{
		client: binance.NewClient(apiKey, apiSecret),
		asset:  strings.ToUpper(strings.TrimSpace(asset)),
		cache:  make(map[string]Fees),
	}
}

func (b *Binance) AccountSize(ctx context.Context) (decimal.Decimal, error) {
	acc, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("binance account query failed: %w", err)
	}
	for _, bal := range acc.Balances {
		if !strings.EqualFold(bal.Asset, b.asset) {
			continue
		}
		free, err := decimal.NewFromString(bal.Free)
		if err != nil {
			return decimal.Zero, fmt.Errorf("binance balance parse failed (%s): %w", bal.Free, err)
		}
		locked, err := decimal.NewFromString(bal.Locked)
		if err != nil {
			return decimal.Zero, fmt.Errorf("binance balance parse failed (%s): %w", bal.Locked, err)
		}
		return free.Add(locked), nil
	}
	return decimal.Zero, fmt.Errorf("binance account holds no %s", b.asset)
}

func (b *Binance) FeeAndPrecisions(ctx context.Context, symbol string) (Fees, error) {
	b.mu.Lock()
	cached, ok := b.cache[symbol]
	b.mu.Unlock()
	if ok {
		return cached, nil
	}

	acc, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return Fees{}, fmt.Errorf("binance account query failed: %w", err)
	}
	// Commission is reported in basis points.
	fee := decimal.New(acc.TakerCommission, -4)

	info, err := b.client.NewExchangeInfoService().Symbol(symbol).Do(ctx)
	if err != nil {
		return Fees{}, fmt.Errorf("binance exchange info failed for %s: %w", symbol, err)
	}
	var fees Fees
	fees.Fee = fee
	found := false
	for _, sym := range info.Symbols {
		if !strings.EqualFold(sym.Symbol, symbol) {
			continue
		}
		found = true
		if lot := sym.LotSizeFilter(); lot != nil {
			minQty, err := decimal.NewFromString(lot.MinQuantity)
			if err != nil {
				return Fees{}, fmt.Errorf("binance lot size parse failed (%s): %w", lot.MinQuantity, err)
			}
			fees.MinSize = minQty
			fees.SizePrecision = stepPrecision(lot.StepSize)
		}
		if pf := sym.PriceFilter(); pf != nil {
			fees.PricePrecision = stepPrecision(pf.TickSize)
		}
		break
	}
	if !found {
		return Fees{}, fmt.Errorf("binance does not list symbol %s", symbol)
	}

	b.mu.Lock()
	b.cache[symbol] = fees
	b.mu.Unlock()
	return fees, nil
}

// stepPrecision converts a filter step like "0.00100000" to the number of
// meaningful decimal places (3).
func stepPrecision(step string) int32 {
	step = strings.TrimRight(strings.TrimSpace(step), "0")
	idx := strings.Index(step, ".")
	if idx < 0 {
		return 0
	}
	return int32(len(step) - idx - 1)
}
