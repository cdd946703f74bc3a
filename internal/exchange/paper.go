package exchange

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// PaperGateway simulates the exchange in dry mode. Orders fill instantly at
// the configured price and balances are adjusted in memory. No network I/O.
type PaperGateway struct {
	mu         sync.RWMutex
	quote      string
	balances   map[string]float64 // asset -> quantity
	prices     map[string]float64 // asset -> price in home currency
	openOrders int
	logger     zerolog.Logger
}

// NewPaperGateway creates a paper gateway seeded with the given quantities
// and prices. quote is the home currency asset (e.g. "USDT"), always priced 1.
func NewPaperGateway(quote string, balances, prices map[string]float64, logger zerolog.Logger) *PaperGateway {
	g := &PaperGateway{
		quote:    quote,
		balances: make(map[string]float64, len(balances)),
		prices:   make(map[string]float64, len(prices)),
		logger:   logger.With().Str("component", "paper_gateway").Logger(),
	}
	for a, q := range balances {
		g.balances[a] = q
	}
	for a, p := range prices {
		g.prices[a] = p
	}
	g.prices[quote] = 1.0
	return g
}

// SetPrice updates the simulated price for an asset.
func (g *PaperGateway) SetPrice(asset string, price float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prices[asset] = price
}

// GetPortfolio returns the simulated balances with valuations.
func (g *PaperGateway) GetPortfolio(ctx context.Context) ([]Balance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	balances := make([]Balance, 0, len(g.balances))
	for asset, qty := range g.balances {
		price := g.prices[asset]
		balances = append(balances, Balance{
			Asset:  asset,
			Amount: qty,
			Value:  qty * price,
		})
	}
	return balances, nil
}

// PlaceOrder fills a simulated market order for a notional amount in the
// home currency, moving quantity between the quote balance and the base asset.
func (g *PaperGateway) PlaceOrder(ctx context.Context, pair, side string, amount float64) (*OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, fmt.Errorf("invalid order amount %.2f for %s", amount, pair)
	}

	base := strings.TrimSuffix(pair, g.quote)

	g.mu.Lock()
	defer g.mu.Unlock()

	price, ok := g.prices[base]
	if !ok || price <= 0 {
		return nil, fmt.Errorf("no price for asset %s", base)
	}
	qty := amount / price

	switch side {
	case SideBuy:
		if g.balances[g.quote] < amount {
			return nil, fmt.Errorf("insufficient %s balance for buy of %.2f", g.quote, amount)
		}
		g.balances[g.quote] -= amount
		g.balances[base] += qty
	case SideSell:
		if g.balances[base] < qty {
			return nil, fmt.Errorf("insufficient %s balance for sell of %.8f", base, qty)
		}
		g.balances[base] -= qty
		g.balances[g.quote] += amount
	default:
		return nil, fmt.Errorf("unknown order side %q", side)
	}

	result := &OrderResult{
		OrderID:  uuid.New().String(),
		Status:   OrderStatusFilled,
		Pair:     pair,
		Side:     side,
		Amount:   amount,
		PlacedAt: time.Now(),
	}

	g.logger.Info().
		Str("pair", pair).
		Str("side", side).
		Float64("amount", amount).
		Float64("price", price).
		Msg("paper order filled")

	return result, nil
}

// CancelAllOrders is a no-op for the paper gateway; market orders fill
// immediately so there is never anything resting.
func (g *PaperGateway) CancelAllOrders(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	n := g.openOrders
	g.openOrders = 0
	return n, nil
}
