// Package domain defines the core domain models for the negotiation broker.
package domain

import "encoding/json"

// SessionStatus represents the status of a negotiation session.
type SessionStatus string

const (
	SessionStatusIdle      SessionStatus = "idle"
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusAccepted  SessionStatus = "accepted"
	SessionStatusRejected  SessionStatus = "rejected"
	SessionStatusError     SessionStatus = "error"
	SessionStatusCompleted SessionStatus = "completed"
)

// Terminal reports whether the status is a terminal state.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionStatusAccepted, SessionStatusRejected, SessionStatusError, SessionStatusCompleted:
		return true
	}
	return false
}

// ReplyStatus is the wire-level status tag on a counterparty reply.
// Buyers answer with accepted/counter/reject, sellers with accepted/offer/reject.
type ReplyStatus string

const (
	ReplyAccepted ReplyStatus = "accepted"
	ReplyCounter  ReplyStatus = "counter"
	ReplyOffer    ReplyStatus = "offer"
	ReplyReject   ReplyStatus = "reject"
)

// DecisionAction is the unified internal action vocabulary. Role-specific
// wire tags ("counter" vs "offer") are applied only at the transport edge.
type DecisionAction string

const (
	ActionAccept  DecisionAction = "accept"
	ActionCounter DecisionAction = "counter"
	ActionReject  DecisionAction = "reject"
)

// Part is an optional structured attachment on a message.
type Part struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Message is a single transcript entry. Once appended to a transcript it is
// never mutated.
type Message struct {
	Role               string `json:"role"`
	Content            string `json:"content"`
	Rationale          string `json:"rationale,omitempty"`
	TranscriptResponse string `json:"transcript_response,omitempty"`
	Parts              []Part `json:"parts,omitempty"`
}

// Task describes one negotiation assignment handed to a counterparty.
type Task struct {
	TaskID      string                 `json:"task_id,omitempty"`
	Subject     string                 `json:"subject"`
	SKU         string                 `json:"sku"`
	Quantity    int                    `json:"quantity"`
	TargetPrice *float64               `json:"target_price,omitempty"`
	Constraints map[string]interface{} `json:"constraints,omitempty"`
	Context     map[string]interface{} `json:"context,omitempty"`
}

// TurnLimit reads the turn_limit constraint, falling back to def when the
// constraint bag does not carry a usable integer.
func (t *Task) TurnLimit(def int) int {
	if t == nil || t.Constraints == nil {
		return def
	}
	switch v := t.Constraints["turn_limit"].(type) {
	case int:
		return v
	case float64:
		// JSON numbers decode as float64
		return int(v)
	}
	return def
}

// Decision is the transient output of a decision policy. It is consumed
// immediately by the counterparty service and never persisted on its own.
type Decision struct {
	Action             DecisionAction `json:"action"`
	Price              *float64       `json:"price,omitempty"`
	Rationale          string         `json:"rationale,omitempty"`
	TranscriptResponse string         `json:"transcript_response,omitempty"`
}

// QuoteData is the structured payload of a quote artifact.
type QuoteData struct {
	SKU       string  `json:"sku"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
	Total     float64 `json:"total"`
	Currency  string  `json:"currency"`
}

// Artifact is the final agreement record, created exactly once per session
// and only when a price is agreed.
type Artifact struct {
	Type string    `json:"type"`
	Data QuoteData `json:"data"`
}

// Snapshot is the externally visible view of a session.
type Snapshot struct {
	SessionID  string        `json:"session_id"`
	Status     SessionStatus `json:"status"`
	Transcript []Message     `json:"transcript"`
	Artifact   *Artifact     `json:"artifact,omitempty"`
}

// CreateTaskResponse is returned by a counterparty on task creation.
type CreateTaskResponse struct {
	TaskID string `json:"task_id"`
}

// MessageRequest is the inbound payload on the counterparty message endpoint.
type MessageRequest struct {
	TaskID  string  `json:"task_id"`
	Message Message `json:"message"`
}

// MessageReply pairs a counterparty's reply message with its status tag.
type MessageReply struct {
	Reply  Message     `json:"reply"`
	Status ReplyStatus `json:"status"`
}
