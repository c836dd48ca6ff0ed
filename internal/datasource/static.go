package datasource

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Static serves fixed values. Used in tests and dry runs where no exchange
// connection exists.
type Static struct {
	Account decimal.Decimal
	Fees    map[string]Fees
	Default Fees
}

func NewStatic(account decimal.Decimal, def Fees) *Static {
	return &Static{
		Account: account,
		Fees:    make(map[string]Fees),
		Default: def,
	}
}

func (s *Static) AccountSize(_ context.Context) (decimal.Decimal, error) {
	if !s.Account.IsPositive() {
		return decimal.Zero, fmt.Errorf("static datasource has no account size")
	}
	return s.Account, nil
}

func (s *Static) FeeAndPrecisions(_ context.Context, symbol string) (Fees, error) {
	if f, ok := s.Fees[symbol]; ok {
		return f, nil
	}
	return s.Default, nil
}
