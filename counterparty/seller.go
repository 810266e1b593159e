package counterparty

import (
	"context"

	"github.com/wxlim/dealbroker/domain"
	"github.com/wxlim/dealbroker/guard"
	"github.com/wxlim/dealbroker/inventory"
	"github.com/wxlim/dealbroker/llm"
)

// SellerPolicy maximizes unit price and never deals below the floor derived
// from the price list. The decider already clamps to floor; the service
// clamps again through GuardInput, so a misbehaving model cannot leak a
// below-floor price onto the wire.
type SellerPolicy struct {
	decider *llm.Decider
	book    *inventory.SellerBook
}

// NewSellerPolicy creates the seller decision policy.
func NewSellerPolicy(decider *llm.Decider, book *inventory.SellerBook) *SellerPolicy {
	return &SellerPolicy{decider: decider, book: book}
}

func (p *SellerPolicy) Name() string { return "Kumar" }

func (p *SellerPolicy) CounterStatus() domain.ReplyStatus { return domain.ReplyOffer }

func (p *SellerPolicy) RejectContent() string {
	return "Rejecting: cannot meet requested price."
}

// Decide implements Policy.
func (p *SellerPolicy) Decide(ctx context.Context, task *domain.Task, inbound domain.Message, history []domain.Message, offered *float64) (domain.Decision, error) {
	rec := p.book.Lookup(task.SKU)
	return p.decider.DecideSeller(ctx, llm.SellerContext{
		SKU:            task.SKU,
		Quantity:       task.Quantity,
		BuyerPrice:     offered,
		UnitPrice:      rec.UnitPrice,
		MaxDiscountPct: rec.MaxDiscountPct,
		Constraints:    task.Constraints,
		PartnerMessage: inbound.Content,
		History:        history,
	})
}

// GuardInput implements Policy. The floor here is the hard invariant the
// service enforces regardless of what the decider returned.
func (p *SellerPolicy) GuardInput(task *domain.Task, d domain.Decision, offered *float64) guard.Input {
	rec := p.book.Lookup(task.SKU)
	return guard.Input{
		Role:       "seller",
		Action:     string(d.Action),
		Price:      d.Price,
		Floor:      rec.Floor(),
		BuyerPrice: offered,
		Quantity:   task.Quantity,
	}
}
