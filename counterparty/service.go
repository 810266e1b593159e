package counterparty

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/wxlim/dealbroker/domain"
	"github.com/wxlim/dealbroker/guard"
	"github.com/wxlim/dealbroker/priceparse"
)

// historyWindow is the number of recent turns handed to the decision policy.
const historyWindow = 4

// Service is a stateful per-task message handler wrapping a decision
// policy. Decision failures of any kind are converted into a reject reply;
// they never surface as errors to the transport.
type Service struct {
	name   string
	policy Policy
	guard  *guard.Engine

	mu    sync.Mutex
	tasks map[string]*taskState
}

type taskState struct {
	task     *domain.Task
	messages []domain.Message
}

// NewService creates a counterparty service. name identifies the service in
// logs; the persona on outbound messages comes from the policy.
func NewService(name string, policy Policy, g *guard.Engine) *Service {
	return &Service{
		name:   name,
		policy: policy,
		guard:  g,
		tasks:  make(map[string]*taskState),
	}
}

// CreateTask allocates a local task id with an empty message log. The task
// is referenced, not copied, across all turns of the negotiation.
func (s *Service) CreateTask(task *domain.Task) string {
	localID := "task_" + uuid.New().String()[:8]
	cp := *task
	cp.TaskID = localID

	s.mu.Lock()
	s.tasks[localID] = &taskState{task: &cp}
	s.mu.Unlock()

	log.Printf("%s: task %s created sku=%s qty=%d", s.name, localID, cp.SKU, cp.Quantity)
	return localID
}

// HandleMessage appends the inbound message to the task log, runs the
// decision policy over the bounded history window, enforces the role's hard
// rules, and translates the result into a reply message plus status tag.
func (s *Service) HandleMessage(ctx context.Context, taskID string, msg domain.Message) (domain.Message, domain.ReplyStatus) {
	s.mu.Lock()
	st, ok := s.tasks[taskID]
	if !ok {
		st = &taskState{task: &domain.Task{TaskID: taskID}}
		s.tasks[taskID] = st
	}
	st.messages = append(st.messages, msg)
	history := lastN(st.messages, historyWindow)
	task := st.task
	s.mu.Unlock()

	offered := extractOffered(msg.Content)

	d, err := s.policy.Decide(ctx, task, msg, history, offered)
	if err != nil {
		log.Printf("ERROR: %s: decision failed for task %s: %v", s.name, taskID, err)
		return s.rejectReply(domain.Decision{
			Rationale:          "Decision engine unavailable, cannot evaluate the offer now.",
			TranscriptResponse: "Paiseh, system hiccup a bit, can wait a while?",
		}), domain.ReplyReject
	}

	d = s.enforce(ctx, task, d, offered)

	switch d.Action {
	case domain.ActionAccept:
		price := d.Price
		if price == nil {
			price = offered
		}
		content := "Accepted the offer."
		if price != nil {
			content = fmt.Sprintf("Accepted at $%.2f for %d units.", *price, task.Quantity)
		}
		reply := domain.Message{
			Role:               s.policy.Name(),
			Content:            content,
			Rationale:          d.Rationale,
			TranscriptResponse: d.TranscriptResponse,
		}
		log.Printf("%s: task %s status=accepted content=%q", s.name, taskID, reply.Content)
		return reply, domain.ReplyAccepted

	case domain.ActionCounter:
		if d.Price == nil {
			// A counter without a price cannot be expressed on the wire.
			log.Printf("%s: task %s counter without price, degrading to reject", s.name, taskID)
			return s.rejectReply(d), domain.ReplyReject
		}
		label := "Counter"
		if s.policy.CounterStatus() == domain.ReplyOffer {
			label = "Offer"
		}
		reply := domain.Message{
			Role:               s.policy.Name(),
			Content:            fmt.Sprintf("%s: $%.2f", label, *d.Price),
			Rationale:          d.Rationale,
			TranscriptResponse: d.TranscriptResponse,
		}
		log.Printf("%s: task %s status=%s content=%q", s.name, taskID, s.policy.CounterStatus(), reply.Content)
		return reply, s.policy.CounterStatus()

	default:
		log.Printf("%s: task %s status=reject", s.name, taskID)
		return s.rejectReply(d), domain.ReplyReject
	}
}

// enforce applies the role's hard business rules to an untrusted decision:
// the rego guard verdict first, then the direct invariants so the rules hold
// even if the guard itself is unavailable.
func (s *Service) enforce(ctx context.Context, task *domain.Task, d domain.Decision, offered *float64) domain.Decision {
	in := s.policy.GuardInput(task, d, offered)

	// A seller accept needs a concrete buyer offer; degrade to a counter at
	// the known price, or reject outright, before the guard sees it.
	if in.Role == "seller" && d.Action == domain.ActionAccept && offered == nil {
		if d.Price != nil {
			d.Action = domain.ActionCounter
		} else {
			d.Action = domain.ActionReject
		}
		in = s.policy.GuardInput(task, d, offered)
	}

	if s.guard != nil {
		verdict, err := s.guard.Evaluate(ctx, in)
		if err != nil {
			log.Printf("ERROR: %s: guard evaluation failed: %v", s.name, err)
		} else {
			switch verdict {
			case guard.VerdictClamp:
				clamped := in.Floor
				d.Price = &clamped
			case guard.VerdictReject:
				d.Action = domain.ActionReject
			}
		}
	}

	// Floor clamp, independent of the guard.
	if in.Floor > 0 && d.Action != domain.ActionReject && d.Price != nil && *d.Price < in.Floor {
		clamped := in.Floor
		d.Price = &clamped
	}

	return d
}

func (s *Service) rejectReply(d domain.Decision) domain.Message {
	rationale := d.Rationale
	if rationale == "" {
		rationale = "No usable decision for this offer."
	}
	speak := d.TranscriptResponse
	if speak == "" {
		speak = "Sorry ah boss, this one cannot work out."
	}
	return domain.Message{
		Role:               s.policy.Name(),
		Content:            s.policy.RejectContent(),
		Rationale:          rationale,
		TranscriptResponse: speak,
	}
}

// extractOffered pulls the partner's price out of the message content. The
// parsed value is a fallback signal only; the authoritative price is
// whatever the decision states explicitly. An explicit quote request on the
// first line carries no offer.
func extractOffered(content string) *float64 {
	firstLine := content
	if idx := strings.IndexByte(content, '\n'); idx >= 0 {
		firstLine = content[:idx]
	}
	if strings.Contains(strings.ToLower(firstLine), "request quote") {
		return nil
	}
	if v, ok := priceparse.Extract(content); ok {
		return &v
	}
	return nil
}
