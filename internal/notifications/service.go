package notifications

import (
	"context"

	"github.com/google/uuid"

	"github.com/dispatchboard/dispatchboard-backend/internal/activity"
	"github.com/dispatchboard/dispatchboard-backend/internal/directory"
	"github.com/dispatchboard/dispatchboard-backend/pkg/enums"
	pkgerrors "github.com/dispatchboard/dispatchboard-backend/pkg/errors"
	"github.com/dispatchboard/dispatchboard-backend/pkg/logger"
	"github.com/dispatchboard/dispatchboard-backend/pkg/pagination"
)

// Service is a user's inbox: the ledger records addressed to them.
type Service interface {
	List(ctx context.Context, params ListParams) (*ListResult, error)
	UnreadCount(ctx context.Context, userID uuid.UUID) (int64, error)
	MarkRead(ctx context.Context, userID, recordID uuid.UUID) error
	MarkAllRead(ctx context.Context, userID uuid.UUID) (int, error)
}

type service struct {
	ledger activity.Service
	dir    directory.Repository
	logg   *logger.Logger
}

// ListParams configures pagination for the inbox.
type ListParams struct {
	UserID     uuid.UUID
	Limit      int
	Cursor     string
	UnreadOnly bool
	Actions    []enums.ActionType
}

// Item is an inbox entry with the actor's display name attached.
type Item struct {
	activity.Record
	ActorName string `json:"actor_name"`
}

// ListResult wraps returned notifications and the cursor for the next page.
type ListResult struct {
	Items  []Item `json:"items"`
	Cursor string `json:"cursor"`
}

// NewService wires notifications dependencies.
func NewService(ledger activity.Service, dir directory.Repository, logg *logger.Logger) (Service, error) {
	if ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "activity service required")
	}
	if dir == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "directory repository required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{ledger: ledger, dir: dir, logg: logg}, nil
}

func (s *service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	if params.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}

	page, err := s.ledger.Query(ctx, activity.Filter{
		RecipientID: &params.UserID,
		Actions:     params.Actions,
		UnreadOnly:  params.UnreadOnly,
		Page: pagination.Params{
			Limit:  params.Limit,
			Cursor: params.Cursor,
			Order:  pagination.OrderDesc,
		},
	})
	if err != nil {
		return nil, err
	}

	names := map[uuid.UUID]string{}
	items := make([]Item, 0, len(page.Items))
	for _, record := range page.Items {
		name, ok := names[record.ActorUserID]
		if !ok {
			name, err = s.dir.UserDisplayName(ctx, record.ActorUserID)
			if err != nil {
				// A deleted actor should not hide the notification.
				s.logg.Warn(s.logg.WithField(ctx, "actor_user_id", record.ActorUserID.String()), "actor name lookup failed")
				name = ""
			}
			names[record.ActorUserID] = name
		}
		items = append(items, Item{Record: record, ActorName: name})
	}

	return &ListResult{Items: items, Cursor: page.Cursor}, nil
}

func (s *service) UnreadCount(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.ledger.UnreadCount(ctx, userID)
}

func (s *service) MarkRead(ctx context.Context, userID, recordID uuid.UUID) error {
	if recordID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "notification id required")
	}
	return s.ledger.MarkRead(ctx, userID, recordID)
}

func (s *service) MarkAllRead(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.ledger.MarkAllRead(ctx, userID)
}
