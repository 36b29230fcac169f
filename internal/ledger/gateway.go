package ledger

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// MinimumLedger is the balance a new ledger is created with.
var MinimumLedger = decimal.NewFromInt(3)

// Gateway messages.
const (
	MsgLedgerExists  = "Ledger already exists."
	MsgLedgerCreated = "Ledger created with 3 OG minimum."
)

// Observer receives one outcome per gateway operation.
type Observer interface {
	ObserveLedger(op, outcome string)
}

// Status is the operator's ledger state.
type Status struct {
	Address      string `json:"address"`
	LedgerExists bool   `json:"ledgerExists"`
	LedgerInfo   *Info  `json:"ledgerInfo"`
}

// CreateResult reports what CreateLedgerIfMissing did.
type CreateResult struct {
	Created bool   `json:"created"`
	Message string `json:"message"`
}

// DepositResult reports a successful deposit.
type DepositResult struct {
	Deposited decimal.Decimal `json:"deposited"`
	Message   string          `json:"message"`
}

// Gateway runs the ledger steps taken once a visitor is verified.
type Gateway struct {
	broker   Broker
	observer Observer
	log      zerolog.Logger
}

// NewGateway creates a Gateway. observer may be nil.
func NewGateway(b Broker, observer Observer, log zerolog.Logger) *Gateway {
	return &Gateway{broker: b, observer: observer, log: log.With().Str("component", "ledger").Logger()}
}

// Address is the operator wallet address.
func (g *Gateway) Address() string { return g.broker.Address() }

// Status reports whether the ledger exists. A missing ledger is not an error.
func (g *Gateway) Status(ctx context.Context) (Status, error) {
	st := Status{Address: g.broker.Address()}
	info, err := g.lookup(ctx)
	if err != nil {
		g.done("status", err)
		return Status{}, err
	}
	st.LedgerExists = info != nil
	st.LedgerInfo = info
	g.done("status", nil)
	return st, nil
}

// CreateLedgerIfMissing creates the ledger with MinimumLedger unless it
// already exists.
func (g *Gateway) CreateLedgerIfMissing(ctx context.Context) (CreateResult, error) {
	info, err := g.lookup(ctx)
	if err != nil {
		g.done("create", err)
		return CreateResult{}, err
	}
	if info != nil {
		g.done("create", nil)
		return CreateResult{Created: false, Message: MsgLedgerExists}, nil
	}
	if err := g.broker.AddLedger(ctx, MinimumLedger); err != nil {
		g.done("create", err)
		return CreateResult{}, fmt.Errorf("add ledger: %w", err)
	}
	g.log.Info().Str("address", g.broker.Address()).Str("amount", MinimumLedger.String()).Msg("ledger_created")
	g.done("create", nil)
	return CreateResult{Created: true, Message: MsgLedgerCreated}, nil
}

// DepositFund adds amount to the ledger. amount must be positive.
func (g *Gateway) DepositFund(ctx context.Context, amount decimal.Decimal) (DepositResult, error) {
	if !amount.IsPositive() {
		g.done("deposit", ErrInvalidAmount)
		return DepositResult{}, ErrInvalidAmount
	}
	if err := g.broker.DepositFund(ctx, amount); err != nil {
		g.done("deposit", err)
		return DepositResult{}, fmt.Errorf("deposit fund: %w", err)
	}
	g.log.Info().Str("address", g.broker.Address()).Str("amount", amount.String()).Msg("ledger_deposit")
	g.done("deposit", nil)
	return DepositResult{
		Deposited: amount,
		Message:   fmt.Sprintf("Deposited %s OG into ledger.", amount.String()),
	}, nil
}

// ParseAmount parses a positive decimal amount.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil || !d.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// lookup returns nil, nil when the ledger does not exist.
func (g *Gateway) lookup(ctx context.Context) (*Info, error) {
	info, err := g.broker.GetLedger(ctx)
	if err == nil {
		return info, nil
	}
	if IsLedgerNotExists(err) {
		return nil, nil
	}
	return nil, fmt.Errorf("get ledger: %w", err)
}

func (g *Gateway) done(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		g.log.Warn().Err(err).Str("op", op).Msg("ledger_op_failed")
	}
	if g.observer != nil {
		g.observer.ObserveLedger(op, outcome)
	}
}
