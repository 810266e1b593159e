// Package counterparty implements the negotiating parties: a stateful
// per-task message service wrapping a decision policy, with the hard
// business rules enforced at the service boundary rather than trusted to
// the policy.
package counterparty

import (
	"context"

	"github.com/wxlim/dealbroker/domain"
	"github.com/wxlim/dealbroker/guard"
)

// Policy is a per-turn decision policy for one negotiating role. Policies
// may consult an external model and are therefore untrusted: the service
// re-checks every decision against the role's hard rules.
type Policy interface {
	// Name is the persona role stamped on outbound messages.
	Name() string
	// CounterStatus is the wire tag for a counter-offer in this role's
	// vocabulary ("counter" for buyers, "offer" for sellers).
	CounterStatus() domain.ReplyStatus
	// RejectContent is the formal reject line for this role.
	RejectContent() string
	// Decide produces a decision for the inbound message. offered is the
	// price parsed out of the partner's message, if any.
	Decide(ctx context.Context, task *domain.Task, inbound domain.Message, history []domain.Message, offered *float64) (domain.Decision, error)
	// GuardInput binds the decision to the role's invariants for the
	// decision guard.
	GuardInput(task *domain.Task, d domain.Decision, offered *float64) guard.Input
}

// lastN returns the trailing window of msgs, oldest first.
func lastN(msgs []domain.Message, n int) []domain.Message {
	if len(msgs) <= n {
		return append([]domain.Message(nil), msgs...)
	}
	return append([]domain.Message(nil), msgs[len(msgs)-n:]...)
}
