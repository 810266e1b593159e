package counterparty

import (
	"context"
	"sync"

	"github.com/wxlim/dealbroker/domain"
	"github.com/wxlim/dealbroker/guard"
	"github.com/wxlim/dealbroker/inventory"
	"github.com/wxlim/dealbroker/llm"
)

// Buyer acceptance band: an offer within either tolerance of the target is
// taken, whichever condition is satisfied first.
const (
	acceptAbsTolerance = 40.0
	acceptRelTolerance = 0.025

	// repeatAdjustStep nudges a counter that would repeat the previous one.
	repeatAdjustStep = 5.0
)

// BuyerPolicy minimizes unit price subject to fulfilling the reorder
// quantity. The acceptance band and the no-repeated-counter rule are
// enforced here deterministically; the model only shapes prices outside
// the band.
type BuyerPolicy struct {
	decider *llm.Decider
	book    *inventory.BuyerBook

	mu          sync.Mutex
	lastCounter map[string]float64
}

// NewBuyerPolicy creates the buyer decision policy.
func NewBuyerPolicy(decider *llm.Decider, book *inventory.BuyerBook) *BuyerPolicy {
	return &BuyerPolicy{
		decider:     decider,
		book:        book,
		lastCounter: make(map[string]float64),
	}
}

func (p *BuyerPolicy) Name() string { return "MayLim" }

func (p *BuyerPolicy) CounterStatus() domain.ReplyStatus { return domain.ReplyCounter }

func (p *BuyerPolicy) RejectContent() string {
	return "Rejecting offer: insufficient data to decide."
}

// Decide implements Policy.
func (p *BuyerPolicy) Decide(ctx context.Context, task *domain.Task, inbound domain.Message, history []domain.Message, offered *float64) (domain.Decision, error) {
	rec := p.book.Lookup(task.SKU)
	quantity := rec.ReorderAmount
	if quantity <= 0 {
		quantity = task.Quantity
	}

	// Acceptance band check comes first: a price inside the band is taken
	// without consulting the model.
	if offered != nil && task.TargetPrice != nil && withinBand(*offered, *task.TargetPrice) {
		price := *offered
		return domain.Decision{
			Action:             domain.ActionAccept,
			Price:              &price,
			Rationale:          "Offer is within the acceptance band of the target price.",
			TranscriptResponse: "Okay lah, this price can accept already.",
		}, nil
	}

	d, err := p.decider.DecideBuyer(ctx, llm.BuyerContext{
		SKU:            task.SKU,
		Quantity:       quantity,
		OfferedPrice:   offered,
		TargetPrice:    task.TargetPrice,
		Constraints:    task.Constraints,
		Stock:          rec.Stock,
		ReorderAmount:  rec.ReorderAmount,
		PartnerMessage: inbound.Content,
		History:        history,
	})
	if err != nil {
		return domain.Decision{}, err
	}

	if d.Action == domain.ActionCounter && d.Price != nil {
		d = p.adjustRepeat(task.TaskID, d, offered)
	}
	return d, nil
}

// adjustRepeat keeps the policy from repeating an identical counter for the
// same task. The adjusted counter moves toward the partner's price but
// never past it.
func (p *BuyerPolicy) adjustRepeat(taskID string, d domain.Decision, offered *float64) domain.Decision {
	p.mu.Lock()
	defer p.mu.Unlock()

	price := *d.Price
	if last, seen := p.lastCounter[taskID]; seen && last == price {
		price += repeatAdjustStep
		if offered != nil && price > *offered {
			price = *offered
		}
		d.Price = &price
	}
	p.lastCounter[taskID] = price
	return d
}

// GuardInput implements Policy. The buyer carries no floor.
func (p *BuyerPolicy) GuardInput(task *domain.Task, d domain.Decision, offered *float64) guard.Input {
	return guard.Input{
		Role:     "buyer",
		Action:   string(d.Action),
		Price:    d.Price,
		Quantity: task.Quantity,
	}
}

func withinBand(offered, target float64) bool {
	return offered <= target+acceptAbsTolerance || offered <= target*(1+acceptRelTolerance)
}
