package domain

import "time"

// EscrowStatus is the lifecycle state of an on-chain escrow account.
type EscrowStatus string

const (
	EscrowStatusCreated   EscrowStatus = "CREATED"
	EscrowStatusFunded    EscrowStatus = "FUNDED"
	EscrowStatusReleased  EscrowStatus = "RELEASED"
	EscrowStatusCancelled EscrowStatus = "CANCELLED"
)

// IsTerminal reports whether no further transition out of the status is allowed.
func (s EscrowStatus) IsTerminal() bool {
	return s == EscrowStatusReleased || s == EscrowStatusCancelled
}

// TokenTypeUSDC is the only token the escrow program settles in.
const TokenTypeUSDC = "USDC"

// Escrow represents one row of the escrows read model, keyed by the
// on-chain escrow account address.
//
// Amount is the escrowed amount in raw token units carried as decimal
// text. It is never parsed into a float or machine integer: the value is
// passed through to a NUMERIC column unchanged.
type Escrow struct {
	EscrowAddress           string       // PRIMARY KEY
	TradeID                 int64        // trade this escrow is a leg of
	SellerAddress           string
	BuyerAddress            string
	TokenType               string       // constant "USDC"
	Amount                  string       // unsigned decimal text
	Status                  EscrowStatus
	Sequential              bool         // part of a chained trade
	SequentialEscrowAddress *string      // follow-on escrow (nullable)
	CreatedAt               time.Time
	DepositTimestamp        *time.Time   // set when funded
	UpdatedAt               time.Time
}
