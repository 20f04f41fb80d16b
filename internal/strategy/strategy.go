/*

Package strategy contains the low-level LP conversion routines the workers
delegate to. Each strategy operates on the worker's operating account: add
variants turn base (and optionally farm) tokens sitting there into pool LP,
close variants turn LP back into base tokens and leave them in the account
for the vault to settle against the debt.

*/

package strategy

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/leverfarm/dnv/internal/amm"
	"github.com/leverfarm/dnv/internal/bank"
	"github.com/leverfarm/dnv/internal/types"
)

var (
	ErrInsufficientLP      = errors.New("strategy: minted LP below minimum")
	ErrInsufficientReceive = errors.New("strategy: received amount below minimum")
	ErrUnknownStrategy     = errors.New("strategy: unknown strategy kind")
)

// Context binds a strategy set to one farming pool.
type Context struct {
	Bank      *bank.Keeper
	Router    *amm.Router
	PoolID    string
	BaseDenom string
	FarmDenom string
	LPDenom   string
}

// Strategy converts tokens in the worker's operating account per the
// payload. account holds the tokens to convert; owner is the position owner
// for strategies that pull from or refund to them; debt is the position's
// debt value after the current work call's borrow.
type Strategy interface {
	Kind() types.StrategyKind
	Execute(account, owner string, debt sdkmath.Int, payload types.StrategyPayload) error
}

// NewSet returns all strategy variants for the given pool context, keyed by
// kind.
func NewSet(ctx Context) map[types.StrategyKind]Strategy {
	return map[types.StrategyKind]Strategy{
		types.StrategyAddBaseOnly:        &AddBaseOnly{ctx},
		types.StrategyAddTwoSides:        &AddTwoSidesOptimal{ctx},
		types.StrategyLiquidate:          &Liquidate{ctx},
		types.StrategyPartialClose:       &PartialCloseLiquidate{ctx},
		types.StrategyPartialCloseNoSwap: &PartialCloseMinimizeTrading{ctx},
	}
}

// reserves returns the pool reserves ordered (base, farm).
func (c Context) reserves() (base, farmRes sdkmath.Int, err error) {
	base, farmRes, _, err = c.Router.ReservesOf(c.PoolID, c.BaseDenom)
	return base, farmRes, err
}

func wrapMin(err error, got, want sdkmath.Int) error {
	return fmt.Errorf("%w: got %s, want at least %s", err, got, want)
}
