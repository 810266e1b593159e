package broker

import (
	"context"
	"fmt"
	"log"
	"math"

	"github.com/wxlim/dealbroker/agentclient"
	"github.com/wxlim/dealbroker/config"
	"github.com/wxlim/dealbroker/domain"
	"github.com/wxlim/dealbroker/llm"
	"github.com/wxlim/dealbroker/priceparse"
	"github.com/wxlim/dealbroker/store"
)

// Default task parameters for a negotiation session.
const (
	DefaultSubject     = "Bulk purchase negotiation"
	DefaultSKU         = "MACBOOK-PRO-14"
	DefaultQuantity    = 20
	DefaultTargetPrice = 1789.0
	DefaultTurnLimit   = 7

	Currency = "USD"
)

// Recovery constants for unparseable replies. Their values carry no derived
// meaning; they are preserved configuration, not policy.
const (
	// FallbackOpeningQuote stands in when the seller's opening quote has no
	// parseable price.
	FallbackOpeningQuote = 1900.0
	// FallbackFloorPrice bounds the synthesized buyer counter from below.
	FallbackFloorPrice = 1500.0
	// FallbackDecrement is subtracted from the current price to synthesize
	// a buyer counter when the buyer's reply has no parseable price.
	FallbackDecrement = 10.0
)

const (
	brokerRole           = "broker"
	historySummaryWindow = 4
)

// Concluder produces the broker's closing summary. Implemented by
// llm.Decider; the negotiator falls back to a deterministic conclusion when
// it fails.
type Concluder interface {
	Conclude(ctx context.Context, transcript []domain.Message, artifact *domain.Artifact) (llm.Conclusion, error)
}

// Negotiator drives negotiation sessions against the two counterparties.
type Negotiator struct {
	cfg       *config.Config
	agents    *agentclient.Client
	concluder Concluder
	store     store.Store
	registry  *Registry
}

// NewNegotiator creates the orchestrator.
func NewNegotiator(cfg *config.Config, agents *agentclient.Client, concluder Concluder, st store.Store, registry *Registry) *Negotiator {
	return &Negotiator{
		cfg:       cfg,
		agents:    agents,
		concluder: concluder,
		store:     st,
		registry:  registry,
	}
}

// Registry returns the session registry.
func (n *Negotiator) Registry() *Registry { return n.registry }

// Start creates a fresh session and runs the negotiation to completion.
// The session is always returned, whatever its final status.
func (n *Negotiator) Start(ctx context.Context) *Session {
	sess := n.registry.Create()
	n.run(ctx, sess)
	return sess
}

// run is the session state machine: idle -> running -> {error, completed}.
// Agreement is distinguished by artifact presence, not by a separate
// terminal status.
func (n *Negotiator) run(ctx context.Context, sess *Session) {
	sess.setStatus(domain.SessionStatusRunning)

	turnBudget := n.cfg.TurnLimit
	if turnBudget <= 0 {
		turnBudget = DefaultTurnLimit
	}
	target := DefaultTargetPrice
	task := &domain.Task{
		Subject:     DefaultSubject,
		SKU:         DefaultSKU,
		Quantity:    DefaultQuantity,
		TargetPrice: &target,
		Constraints: map[string]interface{}{"turn_limit": turnBudget},
	}
	log.Printf("start session=%s sku=%s qty=%d target=%.2f constraints=%v",
		sess.ID(), task.SKU, task.Quantity, target, task.Constraints)

	// Seed the transcript with the buyer stating intent and target price.
	sess.Append(domain.Message{
		Role: "MayLim",
		Content: fmt.Sprintf("We want to buy %d units of %s. Our target unit price is $%.2f. Can you quote your best price?",
			task.Quantity, task.SKU, target),
		Rationale: "State requirement and target to anchor negotiation.",
		TranscriptResponse: fmt.Sprintf("Hello boss, need %d units, can do at $%.2f ah?",
			task.Quantity, target),
	})

	buyerTaskID, err := n.agents.CreateTask(ctx, n.cfg.BuyerURL, task)
	if err != nil {
		log.Printf("ERROR: session=%s buyer task creation failed: %v", sess.ID(), err)
		n.abort(ctx, sess, "buyer (MayLim)")
		return
	}
	sellerTaskID, err := n.agents.CreateTask(ctx, n.cfg.SellerURL, task)
	if err != nil {
		log.Printf("ERROR: session=%s seller task creation failed: %v", sess.ID(), err)
		n.abort(ctx, sess, "seller (Kumar)")
		return
	}

	// Opening quote from the seller. A transport failure here is fatal to
	// the session; a retry could duplicate task side effects on the remote
	// counterparty.
	openReply, err := n.agents.SendMessage(ctx, n.cfg.SellerURL, sellerTaskID, &domain.Message{
		Role: brokerRole,
		Content: fmt.Sprintf("Request quote for %d units of %s.\nHistory:\n%s",
			task.Quantity, task.SKU, sess.historySummary(historySummaryWindow)),
	})
	if err != nil {
		log.Printf("ERROR: session=%s opening quote failed: %v", sess.ID(), err)
		n.abort(ctx, sess, "seller (Kumar)")
		return
	}
	sess.Append(openReply.Reply)
	log.Printf("recv seller role=%s content=%q", openReply.Reply.Role, openReply.Reply.Content)

	currentPrice, ok := priceparse.Extract(openReply.Reply.Content)
	if !ok {
		currentPrice = FallbackOpeningQuote
	}

	// The loop bound comes from the task constraint both parties were handed.
	turnLimit := task.TurnLimit(DefaultTurnLimit)
	var priceAgreed *float64

	for turn := 0; turn < turnLimit; {
		// Forward the seller's current price to the buyer.
		buyerReply, err := n.agents.SendMessage(ctx, n.cfg.BuyerURL, buyerTaskID, &domain.Message{
			Role: brokerRole,
			Content: fmt.Sprintf("Seller offer: $%.2f\nHistory:\n%s",
				currentPrice, sess.historySummary(historySummaryWindow)),
		})
		if err != nil {
			log.Printf("ERROR: session=%s buyer call failed: %v", sess.ID(), err)
			n.abort(ctx, sess, "buyer (MayLim)")
			return
		}
		sess.Append(buyerReply.Reply)
		log.Printf("recv buyer role=%s status=%s content=%q", buyerReply.Reply.Role, buyerReply.Status, buyerReply.Reply.Content)

		if buyerReply.Status == domain.ReplyAccepted {
			agreed := currentPrice
			if p, ok := priceparse.Extract(buyerReply.Reply.Content); ok {
				agreed = p
			}
			priceAgreed = &agreed
			sess.Append(domain.Message{
				Role:               brokerRole,
				Content:            "Broker: buyer accepted. Proceed paperwork.",
				Rationale:          "Conclusion after buyer acceptance.",
				TranscriptResponse: "Okay la, both parties agree, I'll draft PO and invoice.",
			})
			break
		}
		if buyerReply.Status == domain.ReplyReject {
			// Not fatal: the seller may still move in the same turn.
			sess.Append(domain.Message{
				Role:               brokerRole,
				Content:            "Broker: buyer rejected. Cannot proceed.",
				Rationale:          "Conclusion after buyer rejection.",
				TranscriptResponse: "Cannot proceed la, buyer cannot meet price, we pause and follow up.",
			})
		}

		counterPrice, ok := priceparse.Extract(buyerReply.Reply.Content)
		if !ok {
			counterPrice = math.Max(currentPrice-FallbackDecrement, FallbackFloorPrice)
		}

		// Forward the buyer's counter to the seller.
		sellerReply, err := n.agents.SendMessage(ctx, n.cfg.SellerURL, sellerTaskID, &domain.Message{
			Role: brokerRole,
			Content: fmt.Sprintf("Buyer counter: $%.2f\nHistory:\n%s",
				counterPrice, sess.historySummary(historySummaryWindow)),
		})
		if err != nil {
			log.Printf("ERROR: session=%s seller call failed: %v", sess.ID(), err)
			n.abort(ctx, sess, "seller (Kumar)")
			return
		}
		sess.Append(sellerReply.Reply)
		log.Printf("recv seller role=%s status=%s content=%q", sellerReply.Reply.Role, sellerReply.Status, sellerReply.Reply.Content)

		if sellerReply.Status == domain.ReplyAccepted {
			agreed := counterPrice
			if p, ok := priceparse.Extract(sellerReply.Reply.Content); ok {
				agreed = p
			}
			priceAgreed = &agreed
			sess.Append(domain.Message{
				Role:               brokerRole,
				Content:            "Broker: seller accepted. Proceed paperwork.",
				Rationale:          "Conclusion after seller acceptance.",
				TranscriptResponse: "Okay la, both parties agree, I'll draft PO and invoice.",
			})
			break
		}
		if sellerReply.Status == domain.ReplyReject {
			sess.Append(domain.Message{
				Role:               brokerRole,
				Content:            "Broker: seller rejected. Cannot proceed.",
				Rationale:          "Conclusion after seller rejection.",
				TranscriptResponse: "Cannot proceed la, seller cannot meet price, we pause and follow up.",
			})
		}

		// Keep the previous price when the seller's reply has no parseable
		// price.
		if next, ok := priceparse.Extract(sellerReply.Reply.Content); ok {
			currentPrice = next
		}

		turn++
		if turn >= turnLimit {
			sess.Append(domain.Message{
				Role:               brokerRole,
				Content:            "Broker: turn limit reached. No agreement.",
				Rationale:          "No-overlap or stalled negotiation at cutoff.",
				TranscriptResponse: "Aiyo, time up la, no agreement this round.",
			})
			break
		}
	}

	if priceAgreed != nil {
		artifact := &domain.Artifact{
			Type: "quote",
			Data: domain.QuoteData{
				SKU:       task.SKU,
				Quantity:  task.Quantity,
				UnitPrice: *priceAgreed,
				Total:     round2(*priceAgreed * float64(task.Quantity)),
				Currency:  Currency,
			},
		}
		sess.setArtifact(artifact)
		log.Printf("final artifact session=%s sku=%s qty=%d unit_price=%.2f total=%.2f",
			sess.ID(), artifact.Data.SKU, artifact.Data.Quantity, artifact.Data.UnitPrice, artifact.Data.Total)

		if err := n.store.SaveArtifact(ctx, sess.ID(), artifact); err != nil {
			log.Printf("ERROR: session=%s artifact save failed: %v", sess.ID(), err)
		}

		// Trailing conclusion message, the one append allowed after the
		// artifact exists.
		snap := sess.Snapshot()
		concl, err := n.concluder.Conclude(ctx, snap.Transcript, artifact)
		if err != nil {
			log.Printf("ERROR: session=%s conclusion failed, using fallback: %v", sess.ID(), err)
			concl = llm.FallbackConclusion()
		}
		sess.Append(domain.Message{
			Role:               brokerRole,
			Content:            concl.Content,
			Rationale:          concl.Rationale,
			TranscriptResponse: concl.TranscriptResponse,
		})
	}

	sess.setStatus(domain.SessionStatusCompleted)
	n.persist(ctx, sess)
}

// abort terminates the session on a transport failure: one broker failure
// message, error status, best-effort persist, no retry.
func (n *Negotiator) abort(ctx context.Context, sess *Session, who string) {
	sess.Append(domain.Message{
		Role:               brokerRole,
		Content:            fmt.Sprintf("Cannot proceed: %s did not respond in time.", who),
		Rationale:          "Intervention: broker halted flow due to timeout.",
		TranscriptResponse: fmt.Sprintf("Cannot proceed, %s agent got issue.", who),
	})
	sess.setStatus(domain.SessionStatusError)
	n.persist(ctx, sess)
}

// persist saves the transcript best-effort; a storage failure never alters
// the session outcome.
func (n *Negotiator) persist(ctx context.Context, sess *Session) {
	snap := sess.Snapshot()
	if err := n.store.SaveTranscript(ctx, snap.SessionID, snap.Status, snap.Transcript); err != nil {
		log.Printf("ERROR: session=%s transcript save failed: %v", snap.SessionID, err)
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
