// Package exchange defines the gateway contract to the external exchange
// collaborator. The decision core never talks to an exchange wire protocol
// directly; it only consumes this interface.
package exchange

import (
	"context"
	"strings"
	"time"
)

// Order sides accepted by the gateway.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Order statuses reported by the gateway.
const (
	OrderStatusFilled   = "FILLED"
	OrderStatusNew      = "NEW"
	OrderStatusRejected = "REJECTED"
)

// Balance is a single asset position as reported by the exchange.
type Balance struct {
	Asset  string  `json:"asset"`
	Amount float64 `json:"amount"`
	Value  float64 `json:"value"` // valuation in home currency
}

// OrderResult is the gateway's acknowledgement of a placed order.
type OrderResult struct {
	OrderID  string    `json:"order_id"`
	Status   string    `json:"status"`
	Pair     string    `json:"pair"`
	Side     string    `json:"side"`
	Amount   float64   `json:"amount"`
	PlacedAt time.Time `json:"placed_at"`
}

// BaseAsset extracts the base asset from a pair like "BTC/USDT" or "BTCUSDT".
func BaseAsset(pair string) string {
	if i := strings.IndexAny(pair, "/-_"); i > 0 {
		return pair[:i]
	}
	for _, quote := range []string{"USDT", "USDC", "BUSD", "EUR", "USD"} {
		if strings.HasSuffix(pair, quote) && len(pair) > len(quote) {
			return pair[:len(pair)-len(quote)]
		}
	}
	return pair
}

// Gateway is the exchange collaborator contract. Calls may block on network
// I/O and are never assumed to complete within a fixed bound; callers bound
// them with a context deadline.
type Gateway interface {
	// GetPortfolio returns current balances with home-currency valuations.
	GetPortfolio(ctx context.Context) ([]Balance, error)
	// PlaceOrder submits a market order for the given notional amount.
	PlaceOrder(ctx context.Context, pair, side string, amount float64) (*OrderResult, error)
	// CancelAllOrders cancels every open order, returning the count cancelled.
	CancelAllOrders(ctx context.Context) (int, error)
}
