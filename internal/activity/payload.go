package activity

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dispatchboard/dispatchboard-backend/pkg/enums"
)

// Payload is the typed body of a record. Each action type has exactly one
// payload variant; the variant is stored as JSON next to the flat snapshots.
//
// CreatedPayload, InvoiceCreatedPayload and CommentPayload are appended by the
// services that own job, invoice and comment writes. Those services live
// outside this repository and reach the ledger through Service.AppendTx;
// nothing here produces those three action types itself.
type Payload interface {
	Action() enums.ActionType
}

// CreatedPayload accompanies ActionCreated.
type CreatedPayload struct {
	Title string `json:"title"`
}

// Assignee names one side of a reassignment.
type Assignee struct {
	Kind string    `json:"kind"`
	ID   uuid.UUID `json:"id"`
}

// AssignmentPayload accompanies ActionAssignment. From is nil for a first assignment.
type AssignmentPayload struct {
	From *Assignee `json:"from,omitempty"`
	To   *Assignee `json:"to,omitempty"`
}

// StatusChangePayload accompanies ActionStatusChange.
type StatusChangePayload struct {
	From enums.WorkStatus `json:"from"`
	To   enums.WorkStatus `json:"to"`
}

// StatusRequestPayload accompanies ActionStatusRequest.
type StatusRequestPayload struct {
	Message string `json:"message,omitempty"`
}

// StatusResponsePayload accompanies ActionStatusResponse.
type StatusResponsePayload struct {
	RequestID uuid.UUID         `json:"request_id"`
	Message   string            `json:"message,omitempty"`
	Status    *enums.WorkStatus `json:"status,omitempty"`
}

// DeadlineApproachingPayload accompanies ActionDeadlineApproaching.
type DeadlineApproachingPayload struct {
	Deadline  time.Time `json:"deadline"`
	Lookahead string    `json:"lookahead"`
}

// InvoiceCreatedPayload accompanies ActionInvoiceCreated.
type InvoiceCreatedPayload struct {
	InvoiceID   uuid.UUID `json:"invoice_id"`
	AmountCents int64     `json:"amount_cents"`
}

// CommentPayload accompanies ActionComment.
type CommentPayload struct {
	Body string `json:"body"`
}

func (CreatedPayload) Action() enums.ActionType             { return enums.ActionCreated }
func (AssignmentPayload) Action() enums.ActionType          { return enums.ActionAssignment }
func (StatusChangePayload) Action() enums.ActionType        { return enums.ActionStatusChange }
func (StatusRequestPayload) Action() enums.ActionType       { return enums.ActionStatusRequest }
func (StatusResponsePayload) Action() enums.ActionType      { return enums.ActionStatusResponse }
func (DeadlineApproachingPayload) Action() enums.ActionType { return enums.ActionDeadlineApproaching }
func (InvoiceCreatedPayload) Action() enums.ActionType      { return enums.ActionInvoiceCreated }
func (CommentPayload) Action() enums.ActionType             { return enums.ActionComment }

var payloadFactories = map[enums.ActionType]func() Payload{
	enums.ActionCreated:             func() Payload { return &CreatedPayload{} },
	enums.ActionAssignment:          func() Payload { return &AssignmentPayload{} },
	enums.ActionStatusChange:        func() Payload { return &StatusChangePayload{} },
	enums.ActionStatusRequest:       func() Payload { return &StatusRequestPayload{} },
	enums.ActionStatusResponse:      func() Payload { return &StatusResponsePayload{} },
	enums.ActionDeadlineApproaching: func() Payload { return &DeadlineApproachingPayload{} },
	enums.ActionInvoiceCreated:      func() Payload { return &InvoiceCreatedPayload{} },
	enums.ActionComment:             func() Payload { return &CommentPayload{} },
}

// EncodePayload serializes p after checking it belongs to action.
func EncodePayload(action enums.ActionType, p Payload) (json.RawMessage, error) {
	if p == nil {
		return nil, nil
	}
	if p.Action() != action {
		return nil, fmt.Errorf("payload for %s attached to %s record", p.Action(), action)
	}
	return json.Marshal(p)
}

// DecodePayload parses raw into the variant registered for action.
// It returns nil for records written without a payload.
func DecodePayload(action enums.ActionType, raw json.RawMessage) (Payload, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	factory, ok := payloadFactories[action]
	if !ok {
		return nil, fmt.Errorf("no payload variant for action %q", action)
	}
	p := factory()
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", action, err)
	}
	return p, nil
}
