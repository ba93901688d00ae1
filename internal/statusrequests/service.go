package statusrequests

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dispatchboard/dispatchboard-backend/internal/activity"
	"github.com/dispatchboard/dispatchboard-backend/internal/assignments"
	"github.com/dispatchboard/dispatchboard-backend/internal/directory"
	"github.com/dispatchboard/dispatchboard-backend/pkg/db"
	"github.com/dispatchboard/dispatchboard-backend/pkg/enums"
	pkgerrors "github.com/dispatchboard/dispatchboard-backend/pkg/errors"
	"github.com/dispatchboard/dispatchboard-backend/pkg/logger"
	"github.com/dispatchboard/dispatchboard-backend/pkg/pagination"
)

// RequestInput asks the current assignee of Entity for an update.
type RequestInput struct {
	Entity  directory.EntityRef
	ActorID uuid.UUID
	Notes   string
}

// RespondInput answers a status request.
type RespondInput struct {
	RequestID   uuid.UUID
	ResponderID uuid.UUID
	Notes       string
	Status      *enums.WorkStatus
}

// Service runs the request/response exchange on top of the ledger.
type Service interface {
	Request(ctx context.Context, input RequestInput) (activity.Record, error)
	Respond(ctx context.Context, input RespondInput) (activity.AppendResult, error)
	Pending(ctx context.Context, userID uuid.UUID, page pagination.Params) (*activity.QueryResult, error)
}

type service struct {
	tx       db.TxRunner
	ledger   activity.Service
	resolver assignments.Resolver
	logg     *logger.Logger
}

// NewService wires the status request protocol.
func NewService(tx db.TxRunner, ledger activity.Service, resolver assignments.Resolver, logg *logger.Logger) (Service, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction runner required")
	}
	if ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "activity service required")
	}
	if resolver == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "assignment resolver required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{tx: tx, ledger: ledger, resolver: resolver, logg: logg}, nil
}

// Request resolves the entity's assignee and records a status_request
// addressed to them. Nothing is written when resolution fails.
func (s *service) Request(ctx context.Context, input RequestInput) (activity.Record, error) {
	if input.ActorID == uuid.Nil {
		return activity.Record{}, pkgerrors.New(pkgerrors.CodeValidation, "actor id required")
	}

	target, err := s.resolver.Resolve(ctx, input.Entity)
	if err != nil {
		if assignments.IsUnresolved(err) {
			logCtx := s.logg.WithFields(ctx, map[string]any{
				"entity_type": input.Entity.Type,
				"entity_id":   input.Entity.ID.String(),
			})
			s.logg.Warn(logCtx, "status request not sent: no assignee")
		}
		return activity.Record{}, err
	}
	if target.UserID == input.ActorID {
		return activity.Record{}, pkgerrors.New(pkgerrors.CodeValidation, "cannot request a status update from yourself")
	}

	notes := strings.TrimSpace(input.Notes)
	result, err := s.ledger.Append(ctx, activity.AppendInput{
		Entity:          input.Entity,
		CompanyID:       &target.CompanyID,
		Action:          enums.ActionStatusRequest,
		ActorUserID:     input.ActorID,
		RecipientUserID: &target.UserID,
		Notes:           optional(notes),
		Payload:         activity.StatusRequestPayload{Message: notes},
	})
	if err != nil {
		return activity.Record{}, err
	}
	return result.Record, nil
}

// Respond records the answer addressed back to the requester and marks the
// request read, in one transaction. Only the request's recipient may answer.
// Answering the same request twice returns the first response unchanged.
func (s *service) Respond(ctx context.Context, input RespondInput) (activity.AppendResult, error) {
	if input.RequestID == uuid.Nil || input.ResponderID == uuid.Nil {
		return activity.AppendResult{}, pkgerrors.New(pkgerrors.CodeValidation, "request id and responder id required")
	}
	if input.Status != nil && !input.Status.IsValid() {
		return activity.AppendResult{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown status %q", *input.Status))
	}

	original, err := s.ledger.Get(ctx, input.RequestID)
	if err != nil {
		return activity.AppendResult{}, err
	}
	if original.ActionType != enums.ActionStatusRequest {
		return activity.AppendResult{}, pkgerrors.New(pkgerrors.CodeValidation, "record is not a status request")
	}
	if original.RecipientUserID == nil || *original.RecipientUserID != input.ResponderID {
		return activity.AppendResult{}, pkgerrors.New(pkgerrors.CodeForbidden, "only the requested user can respond")
	}

	notes := strings.TrimSpace(input.Notes)
	var result activity.AppendResult
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		result, err = s.ledger.AppendTx(ctx, tx, activity.AppendInput{
			Entity:          directory.EntityRef{Type: original.EntityType, ID: original.EntityID},
			CompanyID:       original.CompanyID,
			Action:          enums.ActionStatusResponse,
			ActorUserID:     input.ResponderID,
			RecipientUserID: &original.ActorUserID,
			Notes:           optional(notes),
			NewValue:        statusValue(input.Status),
			Payload: activity.StatusResponsePayload{
				RequestID: original.ID,
				Message:   notes,
				Status:    input.Status,
			},
			InReplyTo: &original.ID,
			DedupeKey: "status_response:" + original.ID.String(),
		})
		if err != nil {
			return err
		}
		_, err = s.ledger.MarkReadTx(ctx, tx, input.ResponderID, original.ID)
		return err
	})
	if err != nil {
		return activity.AppendResult{}, err
	}
	return result, nil
}

// Pending lists requests addressed to userID that have no response yet,
// newest first. Reading a request in the inbox does not clear it here.
func (s *service) Pending(ctx context.Context, userID uuid.UUID, page pagination.Params) (*activity.QueryResult, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	return s.ledger.Query(ctx, activity.Filter{
		RecipientID: &userID,
		Actions:     []enums.ActionType{enums.ActionStatusRequest},
		Unanswered:  true,
		Page:        page,
	})
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func statusValue(status *enums.WorkStatus) *string {
	if status == nil {
		return nil
	}
	v := string(*status)
	return &v
}
