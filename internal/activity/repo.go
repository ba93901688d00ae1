package activity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dispatchboard/dispatchboard-backend/pkg/db/models"
	"github.com/dispatchboard/dispatchboard-backend/pkg/enums"
	"github.com/dispatchboard/dispatchboard-backend/pkg/pagination"
)

// ErrDuplicateSuppressed is returned by Insert when a record with the same
// dedupe key already exists. Callers treat it as a successful no-op.
var ErrDuplicateSuppressed = errors.New("activity record suppressed by dedupe key")

// Repository persists activity records. Nothing here updates a record
// except the read flag.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	LastPosition(ctx context.Context, entityType enums.EntityType, entityID uuid.UUID) (position, error)
	Insert(ctx context.Context, record *models.ActivityRecord) error
	Get(ctx context.Context, id uuid.UUID) (*models.ActivityRecord, error)
	FindByDedupeKey(ctx context.Context, key string) (*models.ActivityRecord, error)
	HasDedupeKey(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, params listParams) ([]models.ActivityRecord, error)
	MarkRead(ctx context.Context, id, recipientID uuid.UUID, now time.Time) (markResult, error)
	MarkAllRead(ctx context.Context, recipientID uuid.UUID, now time.Time) ([]uuid.UUID, error)
	UnreadCount(ctx context.Context, recipientID uuid.UUID) (int64, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns an activity repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

// position is the tail of one entity's record sequence.
type position struct {
	Sequence  int64
	CreatedAt time.Time
}

type listParams struct {
	EntityType  *enums.EntityType
	EntityID    *uuid.UUID
	CompanyID   *uuid.UUID
	RecipientID *uuid.UUID
	ActorID     *uuid.UUID
	Actions     []enums.ActionType
	UnreadOnly  bool
	Unanswered  bool
	Limit       int
	Cursor      *pagination.Cursor
	Order       pagination.Order
}

type markResult struct {
	Updated bool
	Found   bool
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) LastPosition(ctx context.Context, entityType enums.EntityType, entityID uuid.UUID) (position, error) {
	var rows []models.ActivityRecord
	err := r.db.WithContext(ctx).
		Select("sequence, created_at").
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("sequence DESC").
		Limit(1).
		Find(&rows).Error
	if err != nil || len(rows) == 0 {
		return position{}, err
	}
	return position{Sequence: rows[0].Sequence, CreatedAt: rows[0].CreatedAt}, nil
}

func (r *repositoryImpl) Insert(ctx context.Context, record *models.ActivityRecord) error {
	if record.DedupeKey == nil {
		return r.db.WithContext(ctx).Create(record).Error
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "dedupe_key"}},
			DoNothing: true,
		}).
		Create(record)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrDuplicateSuppressed
	}
	return nil
}

func (r *repositoryImpl) Get(ctx context.Context, id uuid.UUID) (*models.ActivityRecord, error) {
	var record models.ActivityRecord
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repositoryImpl) FindByDedupeKey(ctx context.Context, key string) (*models.ActivityRecord, error) {
	var record models.ActivityRecord
	if err := r.db.WithContext(ctx).Where("dedupe_key = ?", key).First(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repositoryImpl) HasDedupeKey(ctx context.Context, key string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.ActivityRecord{}).
		Where("dedupe_key = ?", key).
		Count(&count).Error
	return count > 0, err
}

func (r *repositoryImpl) List(ctx context.Context, params listParams) ([]models.ActivityRecord, error) {
	query := r.db.WithContext(ctx).Model(&models.ActivityRecord{})
	if params.EntityType != nil {
		query = query.Where("entity_type = ?", *params.EntityType)
	}
	if params.EntityID != nil {
		query = query.Where("entity_id = ?", *params.EntityID)
	}
	// company_id is stamped on every append.
	if params.CompanyID != nil {
		query = query.Where("company_id = ?", *params.CompanyID)
	}
	if params.RecipientID != nil {
		query = query.Where("recipient_user_id = ?", *params.RecipientID)
	}
	if params.ActorID != nil {
		query = query.Where("actor_user_id = ?", *params.ActorID)
	}
	if len(params.Actions) > 0 {
		query = query.Where("action_type IN ?", params.Actions)
	}
	if params.UnreadOnly {
		query = query.Where("is_read = ?", false)
	}
	if params.Unanswered {
		query = query.Where(
			"NOT EXISTS (SELECT 1 FROM activity_records AS replies WHERE replies.in_reply_to = activity_records.id AND replies.action_type = ?)",
			enums.ActionStatusResponse,
		)
	}

	direction := "DESC"
	if params.Order == pagination.OrderAsc {
		direction = "ASC"
	}
	if params.Cursor != nil {
		op := "<"
		if direction == "ASC" {
			op = ">"
		}
		query = query.Where("(created_at, id) "+op+" (?, ?)", params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var records []models.ActivityRecord
	err := query.
		Order("created_at " + direction).
		Order("id " + direction).
		Limit(pagination.LimitWithBuffer(params.Limit)).
		Find(&records).Error
	return records, err
}

func (r *repositoryImpl) MarkRead(ctx context.Context, id, recipientID uuid.UUID, now time.Time) (markResult, error) {
	result := r.db.WithContext(ctx).
		Model(&models.ActivityRecord{}).
		Where("id = ? AND recipient_user_id = ? AND is_read = ?", id, recipientID, false).
		UpdateColumns(map[string]any{"is_read": true, "read_at": now})
	if result.Error != nil {
		return markResult{}, result.Error
	}
	if result.RowsAffected > 0 {
		return markResult{Updated: true, Found: true}, nil
	}

	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.ActivityRecord{}).
		Where("id = ? AND recipient_user_id = ?", id, recipientID).
		Count(&count).Error; err != nil {
		return markResult{}, err
	}
	return markResult{Found: count > 0}, nil
}

// MarkAllRead flips every unread record for recipientID and returns their ids.
func (r *repositoryImpl) MarkAllRead(ctx context.Context, recipientID uuid.UUID, now time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.ActivityRecord{}).
		Where("recipient_user_id = ? AND is_read = ?", recipientID, false).
		Pluck("id", &ids).Error
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	err = r.db.WithContext(ctx).
		Model(&models.ActivityRecord{}).
		Where("id IN ? AND is_read = ?", ids, false).
		UpdateColumns(map[string]any{"is_read": true, "read_at": now}).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repositoryImpl) UnreadCount(ctx context.Context, recipientID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.ActivityRecord{}).
		Where("recipient_user_id = ? AND is_read = ?", recipientID, false).
		Count(&count).Error
	return count, err
}
