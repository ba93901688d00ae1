package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/dispatchboard/dispatchboard-backend/pkg/enums"
)

// ActivityRecord is one append-only ledger entry. Only IsRead and ReadAt change after insert.
type ActivityRecord struct {
	ID               uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	EntityType       enums.EntityType       `gorm:"column:entity_type;type:text;not null"`
	EntityID         uuid.UUID              `gorm:"column:entity_id;type:uuid;not null"`
	CompanyID        *uuid.UUID             `gorm:"column:company_id;type:uuid"`
	Sequence         int64                  `gorm:"column:sequence;not null"`
	ActionType       enums.ActionType       `gorm:"column:action_type;type:text;not null"`
	ActorUserID      uuid.UUID              `gorm:"column:actor_user_id;type:uuid;not null"`
	RecipientUserID  *uuid.UUID             `gorm:"column:recipient_user_id;type:uuid"`
	Notes            *string                `gorm:"column:notes;type:text"`
	OldValue         *string                `gorm:"column:old_value;type:text"`
	NewValue         *string                `gorm:"column:new_value;type:text"`
	Payload          json.RawMessage        `gorm:"column:payload;type:jsonb"`
	NotificationType enums.NotificationType `gorm:"column:notification_type;type:text;not null"`
	DeadlineNotified bool                   `gorm:"column:deadline_notified;not null"`
	IsRead           bool                   `gorm:"column:is_read;not null"`
	ReadAt           *time.Time             `gorm:"column:read_at;type:timestamptz"`
	InReplyTo        *uuid.UUID             `gorm:"column:in_reply_to;type:uuid"`
	DedupeKey        *string                `gorm:"column:dedupe_key;type:text"`
	CreatedAt        time.Time              `gorm:"column:created_at;type:timestamptz;not null"`
}

// TableName pins the table name.
func (ActivityRecord) TableName() string { return "activity_records" }
