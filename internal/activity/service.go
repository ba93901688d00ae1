package activity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dispatchboard/dispatchboard-backend/internal/directory"
	"github.com/dispatchboard/dispatchboard-backend/pkg/db"
	"github.com/dispatchboard/dispatchboard-backend/pkg/db/models"
	"github.com/dispatchboard/dispatchboard-backend/pkg/enums"
	pkgerrors "github.com/dispatchboard/dispatchboard-backend/pkg/errors"
	"github.com/dispatchboard/dispatchboard-backend/pkg/logger"
	"github.com/dispatchboard/dispatchboard-backend/pkg/outbox"
	"github.com/dispatchboard/dispatchboard-backend/pkg/outbox/payloads"
	"github.com/dispatchboard/dispatchboard-backend/pkg/pagination"
)

const (
	sequenceConstraint = "activity_records_entity_sequence_key"
	appendSavepoint    = "activity_append"
	maxAppendAttempts  = 5
)

// Record is the shape callers and subscribers see.
type Record = payloads.ActivityRecord

// AppendInput describes one record to add to the ledger.
type AppendInput struct {
	Entity      directory.EntityRef
	CompanyID   *uuid.UUID
	Action      enums.ActionType
	ActorUserID uuid.UUID
	// RecipientUserID must be set for actions that notify somebody.
	RecipientUserID  *uuid.UUID
	Notes            *string
	OldValue         *string
	NewValue         *string
	Payload          Payload
	DeadlineNotified bool
	InReplyTo        *uuid.UUID
	// DedupeKey makes the append conditional: a second append with the same
	// key is a no-op that returns the first record.
	DedupeKey string
}

// AppendResult is the stored record. Suppressed is true when DedupeKey
// matched an existing record and nothing new was written.
type AppendResult struct {
	Record     Record
	Suppressed bool
}

// Filter narrows a ledger query. Zero-valued fields do not filter.
type Filter struct {
	Entity      *directory.EntityRef
	CompanyID   *uuid.UUID
	RecipientID *uuid.UUID
	ActorID     *uuid.UUID
	Actions     []enums.ActionType
	UnreadOnly  bool
	// Unanswered keeps only records no status_response points at.
	Unanswered bool
	Page       pagination.Params
}

// QueryResult is one page of records and the cursor of the next page.
type QueryResult struct {
	Items  []Record `json:"items"`
	Cursor string   `json:"cursor"`
}

// Service is the append-only activity ledger.
type Service interface {
	Append(ctx context.Context, input AppendInput) (AppendResult, error)
	AppendTx(ctx context.Context, tx *gorm.DB, input AppendInput) (AppendResult, error)
	Get(ctx context.Context, id uuid.UUID) (Record, error)
	Query(ctx context.Context, filter Filter) (*QueryResult, error)
	MarkRead(ctx context.Context, recipientID, id uuid.UUID) error
	MarkReadTx(ctx context.Context, tx *gorm.DB, recipientID, id uuid.UUID) (bool, error)
	MarkAllRead(ctx context.Context, recipientID uuid.UUID) (int, error)
	UnreadCount(ctx context.Context, recipientID uuid.UUID) (int64, error)
	HasDedupeKey(ctx context.Context, key string) (bool, error)
}

// ServiceParams wires the ledger.
type ServiceParams struct {
	DB        db.TxRunner
	Repo      Repository
	Directory directory.Repository
	Outbox    outbox.Emitter
	Logger    *logger.Logger
	Clock     func() time.Time
}

type service struct {
	tx   db.TxRunner
	repo Repository
	dir  directory.Repository
	out  outbox.Emitter
	logg *logger.Logger
	now  func() time.Time
}

// NewService validates dependencies and returns the ledger service.
func NewService(p ServiceParams) (Service, error) {
	switch {
	case p.DB == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction runner required")
	case p.Repo == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "activity repository required")
	case p.Directory == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "directory repository required")
	case p.Outbox == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "outbox emitter required")
	}
	logg := p.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	clock := p.Clock
	if clock == nil {
		clock = time.Now
	}
	return &service{tx: p.DB, repo: p.Repo, dir: p.Directory, out: p.Outbox, logg: logg, now: clock}, nil
}

func (s *service) Append(ctx context.Context, input AppendInput) (AppendResult, error) {
	var result AppendResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		result, err = s.AppendTx(ctx, tx, input)
		return err
	})
	return result, err
}

// AppendTx writes the record and its outbox event using tx. Callers that
// mutate domain rows in the same transaction get all-or-nothing behaviour.
func (s *service) AppendTx(ctx context.Context, tx *gorm.DB, input AppendInput) (AppendResult, error) {
	if tx == nil {
		return AppendResult{}, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if err := validateAppend(input); err != nil {
		return AppendResult{}, err
	}
	payload, err := EncodePayload(input.Action, input.Payload)
	if err != nil {
		return AppendResult{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payload")
	}

	repo := s.repo.WithTx(tx)
	dedupeKey := strings.TrimSpace(input.DedupeKey)
	if dedupeKey != "" {
		existing, err := repo.FindByDedupeKey(ctx, dedupeKey)
		switch {
		case err == nil:
			return s.suppressed(ctx, *existing), nil
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return AppendResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check dedupe key")
		}
	}

	companyID := input.CompanyID
	if companyID == nil {
		id, err := s.dir.WithTx(tx).CompanyOf(ctx, input.Entity)
		if err != nil {
			return AppendResult{}, err
		}
		companyID = &id
	}

	record := models.ActivityRecord{
		ID:               uuid.New(),
		EntityType:       input.Entity.Type,
		EntityID:         input.Entity.ID,
		CompanyID:        companyID,
		ActionType:       input.Action,
		ActorUserID:      input.ActorUserID,
		RecipientUserID:  input.RecipientUserID,
		Notes:            input.Notes,
		OldValue:         input.OldValue,
		NewValue:         input.NewValue,
		Payload:          payload,
		NotificationType: notificationTypeFor(input),
		DeadlineNotified: input.DeadlineNotified,
		InReplyTo:        input.InReplyTo,
	}
	if dedupeKey != "" {
		record.DedupeKey = &dedupeKey
	}

	if err := s.insertSequenced(ctx, tx, repo, &record); err != nil {
		if errors.Is(err, ErrDuplicateSuppressed) {
			existing, findErr := repo.FindByDedupeKey(ctx, dedupeKey)
			if findErr != nil {
				return AppendResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "load suppressed record")
			}
			return s.suppressed(ctx, *existing), nil
		}
		return AppendResult{}, err
	}

	wire := payloads.FromModel(record)
	if err := s.out.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventActivityRecorded,
		AggregateType: enums.AggregateActivityRecord,
		AggregateID:   record.ID,
		Actor:         &outbox.ActorRef{UserID: record.ActorUserID, CompanyID: companyID},
		Data:          wire,
		OccurredAt:    record.CreatedAt,
	}); err != nil {
		return AppendResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue activity event")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"record_id":   record.ID.String(),
		"entity_type": record.EntityType,
		"entity_id":   record.EntityID.String(),
		"action_type": record.ActionType,
		"sequence":    record.Sequence,
	})
	s.logg.Info(logCtx, "activity recorded")
	return AppendResult{Record: wire}, nil
}

// insertSequenced assigns the next per-entity sequence and a created_at
// strictly after the previous record, retrying when a concurrent append took
// the same sequence. Each attempt runs under a savepoint so a collision does
// not poison the surrounding transaction.
func (s *service) insertSequenced(ctx context.Context, tx *gorm.DB, repo Repository, record *models.ActivityRecord) error {
	var lastErr error
	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		last, err := repo.LastPosition(ctx, record.EntityType, record.EntityID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load entity sequence")
		}
		record.Sequence = last.Sequence + 1
		record.CreatedAt = s.now().UTC().Truncate(time.Microsecond)
		if !last.CreatedAt.IsZero() && !record.CreatedAt.After(last.CreatedAt) {
			record.CreatedAt = last.CreatedAt.UTC().Add(time.Microsecond)
		}

		if err := tx.SavePoint(appendSavepoint).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "open savepoint")
		}
		err = repo.Insert(ctx, record)
		if err == nil || errors.Is(err, ErrDuplicateSuppressed) {
			return err
		}
		if rbErr := tx.RollbackTo(appendSavepoint).Error; rbErr != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, rbErr, "rollback savepoint")
		}
		if !db.IsUniqueViolation(err, sequenceConstraint) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert activity record")
		}
		// A dedupe collision surfaces as a unique violation on drivers that
		// ignore ON CONFLICT targets; check before retrying the sequence.
		if record.DedupeKey != nil {
			if exists, hasErr := repo.HasDedupeKey(ctx, *record.DedupeKey); hasErr == nil && exists {
				return ErrDuplicateSuppressed
			}
		}
		lastErr = err
	}
	return pkgerrors.Wrap(pkgerrors.CodeConflict, lastErr, "could not assign activity sequence")
}

func (s *service) suppressed(ctx context.Context, existing models.ActivityRecord) AppendResult {
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"record_id":  existing.ID.String(),
		"dedupe_key": deref(existing.DedupeKey),
	})
	s.logg.Debug(logCtx, "activity append suppressed by dedupe key")
	return AppendResult{Record: payloads.FromModel(existing), Suppressed: true}
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (Record, error) {
	if id == uuid.Nil {
		return Record{}, pkgerrors.New(pkgerrors.CodeValidation, "record id required")
	}
	row, err := s.repo.Get(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, pkgerrors.New(pkgerrors.CodeNotFound, "activity record not found")
	}
	if err != nil {
		return Record{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load activity record")
	}
	return payloads.FromModel(*row), nil
}

func (s *service) Query(ctx context.Context, filter Filter) (*QueryResult, error) {
	params := listParams{
		CompanyID:   filter.CompanyID,
		RecipientID: filter.RecipientID,
		ActorID:     filter.ActorID,
		Actions:     filter.Actions,
		UnreadOnly:  filter.UnreadOnly,
		Unanswered:  filter.Unanswered,
		Limit:       filter.Page.Limit,
		Order:       filter.Page.Order,
	}
	for _, action := range filter.Actions {
		if !action.IsValid() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown action type %q", action))
		}
	}
	if filter.Entity != nil {
		if !filter.Entity.Type.IsValid() || filter.Entity.ID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid entity reference")
		}
		params.EntityType = &filter.Entity.Type
		params.EntityID = &filter.Entity.ID
	}
	if filter.Page.Cursor != "" {
		cursor, err := pagination.ParseCursor(filter.Page.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		params.Cursor = cursor
	}
	rows, err := s.repo.List(ctx, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list activity records")
	}
	rows, next := pagination.Trim(rows, filter.Page.Limit, func(r models.ActivityRecord) pagination.Cursor {
		return pagination.Cursor{CreatedAt: r.CreatedAt, ID: r.ID}
	})

	items := make([]Record, 0, len(rows))
	for _, row := range rows {
		items = append(items, payloads.FromModel(row))
	}
	return &QueryResult{Items: items, Cursor: next}, nil
}

func (s *service) MarkRead(ctx context.Context, recipientID, id uuid.UUID) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := s.MarkReadTx(ctx, tx, recipientID, id)
		return err
	})
}

// MarkReadTx flips is_read on a record addressed to recipientID. It reports
// whether the flag changed; marking an already read record is a no-op.
func (s *service) MarkReadTx(ctx context.Context, tx *gorm.DB, recipientID, id uuid.UUID) (bool, error) {
	if recipientID == uuid.Nil {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "recipient id required")
	}
	if id == uuid.Nil {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "record id required")
	}

	now := s.now().UTC()
	result, err := s.repo.WithTx(tx).MarkRead(ctx, id, recipientID, now)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark activity read")
	}
	if !result.Found {
		return false, pkgerrors.New(pkgerrors.CodeNotFound, "activity record not found")
	}
	if !result.Updated {
		return false, nil
	}
	if err := s.emitRead(ctx, tx, recipientID, id, []uuid.UUID{id}, now); err != nil {
		return false, err
	}
	return true, nil
}

func (s *service) MarkAllRead(ctx context.Context, recipientID uuid.UUID) (int, error) {
	if recipientID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "recipient id required")
	}
	var count int
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		now := s.now().UTC()
		ids, err := s.repo.WithTx(tx).MarkAllRead(ctx, recipientID, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark activity read")
		}
		count = len(ids)
		if count == 0 {
			return nil
		}
		return s.emitRead(ctx, tx, recipientID, recipientID, ids, now)
	})
	return count, err
}

func (s *service) emitRead(ctx context.Context, tx *gorm.DB, recipientID, aggregateID uuid.UUID, ids []uuid.UUID, at time.Time) error {
	err := s.out.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventActivityRead,
		AggregateType: enums.AggregateActivityRecord,
		AggregateID:   aggregateID,
		Actor:         &outbox.ActorRef{UserID: recipientID},
		Data:          payloads.ActivityRead{RecipientUserID: recipientID, RecordIDs: ids, ReadAt: at},
		OccurredAt:    at,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue read event")
	}
	return nil
}

func (s *service) UnreadCount(ctx context.Context, recipientID uuid.UUID) (int64, error) {
	if recipientID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "recipient id required")
	}
	count, err := s.repo.UnreadCount(ctx, recipientID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count unread activity")
	}
	return count, nil
}

func (s *service) HasDedupeKey(ctx context.Context, key string) (bool, error) {
	if strings.TrimSpace(key) == "" {
		return false, nil
	}
	ok, err := s.repo.HasDedupeKey(ctx, key)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check dedupe key")
	}
	return ok, nil
}

func validateAppend(input AppendInput) error {
	switch {
	case !input.Entity.Type.IsValid():
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown entity type %q", input.Entity.Type))
	case input.Entity.ID == uuid.Nil:
		return pkgerrors.New(pkgerrors.CodeValidation, "entity id required")
	case !input.Action.IsValid():
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown action type %q", input.Action))
	case input.ActorUserID == uuid.Nil:
		return pkgerrors.New(pkgerrors.CodeValidation, "actor user id required")
	}
	if input.Action.RequiresRecipient() && (input.RecipientUserID == nil || *input.RecipientUserID == uuid.Nil) {
		return pkgerrors.New(pkgerrors.CodeUnresolvedRecipient, fmt.Sprintf("%s record needs a recipient", input.Action)).
			WithDetails(map[string]any{
				"entity_type": input.Entity.Type,
				"entity_id":   input.Entity.ID,
			})
	}
	if input.InReplyTo != nil && input.Action != enums.ActionStatusResponse {
		return pkgerrors.New(pkgerrors.CodeValidation, "in_reply_to is only valid on status responses")
	}
	return nil
}

func notificationTypeFor(input AppendInput) enums.NotificationType {
	if input.Entity.Type == enums.EntityChat {
		return enums.NotificationTypeChat
	}
	return input.Action.NotificationType()
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
