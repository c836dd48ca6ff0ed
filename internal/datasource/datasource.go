// Package datasource provides account and instrument metadata to the
// portfolio manager.
package datasource

import (
	"context"

	"github.com/shopspring/decimal"
)

// Fees bundles an instrument's trading fee and precision constraints.
type Fees struct {
	Fee            decimal.Decimal
	MinSize        decimal.Decimal
	SizePrecision  int32
	PricePrecision int32
}

// Datasource answers the queries position sizing depends on. Calls may hit
// the network, so they take a context and can fail.
type Datasource interface {
	AccountSize(ctx context.Context) (decimal.Decimal, error)
	FeeAndPrecisions(ctx context.Context, symbol string) (Fees, error)
}
