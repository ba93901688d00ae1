package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/dispatchboard/dispatchboard-backend/pkg/enums"
)

// ChatRoom is a conversation scoped to an entity. Private rooms carry the
// ordered participant pair in PairKey; shared rooms leave it empty.
type ChatRoom struct {
	ID         uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	CompanyID  uuid.UUID        `gorm:"column:company_id;type:uuid;not null"`
	EntityType enums.EntityType `gorm:"column:entity_type;type:text;not null"`
	EntityID   uuid.UUID        `gorm:"column:entity_id;type:uuid;not null"`
	RoomType   enums.RoomType   `gorm:"column:room_type;type:text;not null"`
	PairKey    string           `gorm:"column:pair_key;type:text;not null"`
	Name       string           `gorm:"column:name;type:text;not null"`
	CreatedBy  *uuid.UUID       `gorm:"column:created_by;type:uuid"`
	CreatedAt  time.Time        `gorm:"column:created_at;type:timestamptz;not null"`
}

// ChatParticipant is one membership row; (room_id, user_id) is unique.
type ChatParticipant struct {
	ID       uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	RoomID   uuid.UUID `gorm:"column:room_id;type:uuid;not null"`
	UserID   uuid.UUID `gorm:"column:user_id;type:uuid;not null"`
	JoinedAt time.Time `gorm:"column:joined_at;type:timestamptz;not null"`
}
