package chatrooms

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dispatchboard/dispatchboard-backend/pkg/db/models"
	"github.com/dispatchboard/dispatchboard-backend/pkg/enums"
)

// errRoomTaken means a concurrent caller created the same scoped room first.
var errRoomTaken = errors.New("chat room already exists for scope")

// Repository persists rooms and memberships.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByScope(ctx context.Context, scope scope) (*models.ChatRoom, error)
	Create(ctx context.Context, room *models.ChatRoom) error
	Get(ctx context.Context, id uuid.UUID) (*models.ChatRoom, error)
	AddParticipant(ctx context.Context, participant *models.ChatParticipant) (bool, error)
	IsParticipant(ctx context.Context, roomID, userID uuid.UUID) (bool, error)
	ListParticipants(ctx context.Context, roomID uuid.UUID) ([]models.ChatParticipant, error)
	ListRoomsForUser(ctx context.Context, userID uuid.UUID) ([]models.ChatRoom, error)
}

type scope struct {
	EntityType enums.EntityType
	EntityID   uuid.UUID
	RoomType   enums.RoomType
	PairKey    string
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a chat room repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) FindByScope(ctx context.Context, s scope) (*models.ChatRoom, error) {
	var room models.ChatRoom
	err := r.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ? AND room_type = ? AND pair_key = ?", s.EntityType, s.EntityID, s.RoomType, s.PairKey).
		First(&room).Error
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// Create inserts room unless its scope is already taken, in which case it
// returns errRoomTaken and writes nothing.
func (r *repositoryImpl) Create(ctx context.Context, room *models.ChatRoom) error {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "entity_type"}, {Name: "entity_id"}, {Name: "room_type"}, {Name: "pair_key"},
			},
			DoNothing: true,
		}).
		Create(room)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errRoomTaken
	}
	return nil
}

func (r *repositoryImpl) Get(ctx context.Context, id uuid.UUID) (*models.ChatRoom, error) {
	var room models.ChatRoom
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&room).Error; err != nil {
		return nil, err
	}
	return &room, nil
}

// AddParticipant reports whether a new membership row was written.
func (r *repositoryImpl) AddParticipant(ctx context.Context, participant *models.ChatParticipant) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "room_id"}, {Name: "user_id"}},
			DoNothing: true,
		}).
		Create(participant)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repositoryImpl) IsParticipant(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.ChatParticipant{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Count(&count).Error
	return count > 0, err
}

func (r *repositoryImpl) ListParticipants(ctx context.Context, roomID uuid.UUID) ([]models.ChatParticipant, error) {
	var rows []models.ChatParticipant
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("joined_at ASC").
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repositoryImpl) ListRoomsForUser(ctx context.Context, userID uuid.UUID) ([]models.ChatRoom, error) {
	var rows []models.ChatRoom
	err := r.db.WithContext(ctx).
		Where("id IN (?)", r.db.Model(&models.ChatParticipant{}).Select("room_id").Where("user_id = ?", userID)).
		Order("created_at DESC").
		Find(&rows).Error
	return rows, err
}
