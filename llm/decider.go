package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/wxlim/dealbroker/domain"
)

// Fallback values used when the model returns something unusable. These are
// interpretation-gap fallbacks, not error paths: a malformed reply still
// yields a usable decision.
const (
	// FallbackCounterPrice is the buyer-side counter used when neither the
	// model nor the partner message carries a price.
	FallbackCounterPrice = 1900.0
)

// Decider produces structured negotiation decisions from an LLM. All output
// is treated as untrusted: callers enforce their own numeric invariants on
// the returned decision.
type Decider struct {
	client      Client
	model       string
	temperature float64
	maxTokens   int
}

// NewDecider creates a decider on top of a chat completion client.
func NewDecider(client Client, model string, temperature float64, maxTokens int) *Decider {
	return &Decider{
		client:      client,
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
	}
}

// BuyerContext carries the inputs for a buyer-side decision.
type BuyerContext struct {
	SKU            string
	Quantity       int
	OfferedPrice   *float64
	TargetPrice    *float64
	Constraints    map[string]interface{}
	Stock          int
	ReorderAmount  int
	PartnerMessage string
	History        []domain.Message
}

// SellerContext carries the inputs for a seller-side decision.
type SellerContext struct {
	SKU            string
	Quantity       int
	BuyerPrice     *float64
	UnitPrice      float64
	MaxDiscountPct float64
	Constraints    map[string]interface{}
	PartnerMessage string
	History        []domain.Message
}

// Floor is the seller's minimum acceptable unit price.
func (in SellerContext) Floor() float64 {
	return in.UnitPrice * (1 - in.MaxDiscountPct)
}

// Conclusion is the broker's closing summary of a finished negotiation.
type Conclusion struct {
	Content            string `json:"content"`
	Rationale          string `json:"rationale"`
	TranscriptResponse string `json:"transcript_response"`
}

const buyerSystemPrompt = "You are MayLim, procurement for Company A. Your goals: minimize unit price while ensuring " +
	"the requested quantity can be fulfilled. You must obey constraints (turn limits, price floors/ceilings).\n" +
	"Local inventory for the SKU is included in the user message.\n" +
	"Write the rationale in Manglish (friendly, <= 2 sentences). Also produce a one-line transcript_response (Manglish, polite).\n" +
	"Do not repeat the exact same counter more than once; if the partner repeats the same price, either accept per rules or adjust slightly.\n" +
	"Acceptance rule: If seller price within +$40 or within +2.5% of target_price, you MAY accept.\n" +
	"Respond ONLY strict JSON: {\"action\": \"accept|counter|reject\", \"price\": number|null, \"rationale\": string, \"transcript_response\": string}."

// DecideBuyer asks the model for a buyer decision. A transport or API error
// is returned to the caller; a malformed payload degrades to a deterministic
// counter instead.
func (d *Decider) DecideBuyer(ctx context.Context, in BuyerContext) (domain.Decision, error) {
	userPrompt := fmt.Sprintf(
		"SKU: %s\nQuantity: %d\nSeller offered price: %s\nTarget price (if any): %s\nConstraints: %s\n"+
			"Inventory: {\"sku\": %q, \"stock\": %d, \"reorder_amount\": %d}\n\n"+
			"Partner message: %s\nHistory JSON (recent turns): %s\n\n"+
			"Decide to accept or counter. If countering, propose a single numeric unit price.",
		in.SKU, in.Quantity, formatOptPrice(in.OfferedPrice), formatOptPrice(in.TargetPrice),
		marshalConstraints(in.Constraints), in.SKU, in.Stock, in.ReorderAmount,
		in.PartnerMessage, historyJSON(in.History),
	)

	content, err := d.complete(ctx, buyerSystemPrompt, userPrompt)
	if err != nil {
		return domain.Decision{}, err
	}

	fallbackPrice := FallbackCounterPrice
	if in.OfferedPrice != nil {
		fallbackPrice = *in.OfferedPrice
	}
	fallback := domain.Decision{
		Action:             domain.ActionCounter,
		Price:              &fallbackPrice,
		Rationale:          "fallback",
		TranscriptResponse: "Can give better price ah?",
	}
	return parseDecision(content, fallback), nil
}

// DecideSeller asks the model for a seller decision. Any returned price is
// clamped up to the floor before the decision is handed back; the
// counterparty service clamps again independently.
func (d *Decider) DecideSeller(ctx context.Context, in SellerContext) (domain.Decision, error) {
	floor := in.Floor()
	systemPrompt := fmt.Sprintf(
		"You are Kumar, sales agent for Company B. Objective: maximize unit price; NEVER go below floor "+
			"(floor = unit_price*(1-max_discount_pct) = %.2f). Honor constraints (turn limits).\n"+
			"Local pricing for the SKU is included in the user message.\n"+
			"Style for transcript_response: Tamil Manglish, friendly, concise (<=1 sentence). Avoid robotic/formal phrases like 'Thank you for...'.\n"+
			"Content must be formal/precise (e.g., 'Offer: $1899.00', 'Accepted at $1799.00').\n"+
			"If rejecting, give a clear reason in rationale (floor, stock, policy); transcript_response stays polite Manglish. If countering, price MUST be >= floor.\n"+
			"Respond ONLY strict JSON: {\"action\": \"accept|counter|reject\", \"price\": number|null, \"rationale\": string, \"transcript_response\": string}.",
		floor,
	)
	userPrompt := fmt.Sprintf(
		"SKU: %s\nQuantity: %d\nBuyer offered price: %s\nList unit price: %v\nMax discount pct: %v (floor %.2f)\nConstraints: %s\n\n"+
			"Partner message: %s\nHistory JSON (recent turns): %s\n\n"+
			"Decide to accept or counter. If countering, propose a single numeric unit price not below floor.",
		in.SKU, in.Quantity, formatOptPrice(in.BuyerPrice), in.UnitPrice, in.MaxDiscountPct, floor,
		marshalConstraints(in.Constraints), in.PartnerMessage, historyJSON(in.History),
	)

	content, err := d.complete(ctx, systemPrompt, userPrompt)
	if err != nil {
		return domain.Decision{}, err
	}

	fallbackPrice := in.UnitPrice
	if in.BuyerPrice != nil && *in.BuyerPrice > fallbackPrice {
		fallbackPrice = *in.BuyerPrice
	}
	if fallbackPrice < floor {
		fallbackPrice = floor
	}
	fallback := domain.Decision{
		Action:             domain.ActionCounter,
		Price:              &fallbackPrice,
		Rationale:          "fallback",
		TranscriptResponse: "Boss, this price cannot la, we keep above floor.",
	}
	decision := parseDecision(content, fallback)

	// Enforce seller floor in case the model violates it.
	if decision.Price != nil && *decision.Price < floor {
		clamped := floor
		decision.Price = &clamped
	}
	return decision, nil
}

const concludeSystemPrompt = "You are the broker. Summarize if the negotiation concluded with a valid agreement (price & quantity present). " +
	"If agreed, say to proceed with paperwork; else advise retry or abort. Write a short rationale and a polite transcript_response. " +
	"Respond ONLY JSON: {\"content\": string, \"rationale\": string, \"transcript_response\": string}."

// Conclude asks the model for a closing broker summary. On any failure the
// caller should fall back to FallbackConclusion.
func (d *Decider) Conclude(ctx context.Context, transcript []domain.Message, artifact *domain.Artifact) (Conclusion, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"transcript": transcript,
		"artifact":   artifact,
	})
	if err != nil {
		return Conclusion{}, fmt.Errorf("failed to marshal conclusion input: %w", err)
	}

	content, err := d.complete(ctx, concludeSystemPrompt, string(payload))
	if err != nil {
		return Conclusion{}, err
	}

	var c Conclusion
	if err := json.Unmarshal([]byte(stripFences(content)), &c); err != nil || c.Content == "" {
		return Conclusion{
			Content:            "Broker conclusion: proceed with paperwork if artifact is present, else retry.",
			Rationale:          "Fallback parse.",
			TranscriptResponse: "Okay la, we move forward if all set.",
		}, nil
	}
	return c, nil
}

// FallbackConclusion is the deterministic conclusion used when the model is
// unavailable.
func FallbackConclusion() Conclusion {
	return Conclusion{
		Content:            "Broker conclusion: agreement reached, proceed with paperwork.",
		Rationale:          "Default fallback, model unavailable.",
		TranscriptResponse: "Okay team, we proceed with PO and invoice, can?",
	}
}

func (d *Decider) complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	resp, err := d.client.CreateChatCompletion(ctx, &ChatCompletionRequest{
		Model:       d.model,
		Temperature: &d.temperature,
		MaxTokens:   &d.maxTokens,
		Messages: []ChatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message == nil {
		return "", fmt.Errorf("empty completion response")
	}
	return resp.Choices[0].Message.Content, nil
}

// parseDecision parses the strict-JSON decision payload, coercing the action
// and price fields. Malformed payloads yield the fallback decision.
func parseDecision(content string, fallback domain.Decision) domain.Decision {
	var raw struct {
		Action             string      `json:"action"`
		Price              interface{} `json:"price"`
		Rationale          string      `json:"rationale"`
		TranscriptResponse string      `json:"transcript_response"`
	}
	if err := json.Unmarshal([]byte(stripFences(content)), &raw); err != nil {
		return fallback
	}

	action := domain.DecisionAction(strings.ToLower(strings.TrimSpace(raw.Action)))
	switch action {
	case domain.ActionAccept, domain.ActionCounter, domain.ActionReject:
	default:
		return fallback
	}

	d := domain.Decision{
		Action:             action,
		Rationale:          raw.Rationale,
		TranscriptResponse: raw.TranscriptResponse,
	}
	switch v := raw.Price.(type) {
	case float64:
		d.Price = &v
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			d.Price = &f
		}
	}
	return d
}

// stripFences removes a markdown code fence around a JSON payload, which some
// models add despite the strict-JSON instruction.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// historyJSON renders the bounded history window as compact JSON, mirroring
// what the counterparties see in their prompt.
func historyJSON(history []domain.Message) string {
	compact := make([]map[string]string, 0, len(history))
	for _, m := range history {
		compact = append(compact, map[string]string{
			"role":      m.Role,
			"content":   m.Content,
			"rationale": m.Rationale,
		})
	}
	b, err := json.Marshal(compact)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func formatOptPrice(p *float64) string {
	if p == nil {
		return "unknown"
	}
	return strconv.FormatFloat(*p, 'f', 2, 64)
}

func marshalConstraints(c map[string]interface{}) string {
	if c == nil {
		return "{}"
	}
	b, err := json.Marshal(c)
	if err != nil {
		return "{}"
	}
	return string(b)
}
