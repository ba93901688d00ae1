package payloads

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/dispatchboard/dispatchboard-backend/pkg/db/models"
	"github.com/dispatchboard/dispatchboard-backend/pkg/enums"
)

// ActivityRecord is the wire shape of a ledger record. It travels in the
// outbox row, over the Redis bus channel and down the websocket stream.
type ActivityRecord struct {
	ID               uuid.UUID              `json:"id"`
	EntityType       enums.EntityType       `json:"entity_type"`
	EntityID         uuid.UUID              `json:"entity_id"`
	CompanyID        *uuid.UUID             `json:"company_id,omitempty"`
	Sequence         int64                  `json:"sequence"`
	ActionType       enums.ActionType       `json:"action_type"`
	ActorUserID      uuid.UUID              `json:"actor_user_id"`
	RecipientUserID  *uuid.UUID             `json:"recipient_user_id,omitempty"`
	Notes            *string                `json:"notes,omitempty"`
	OldValue         *string                `json:"old_value,omitempty"`
	NewValue         *string                `json:"new_value,omitempty"`
	Payload          json.RawMessage        `json:"payload,omitempty"`
	NotificationType enums.NotificationType `json:"notification_type"`
	DeadlineNotified bool                   `json:"deadline_notified"`
	IsRead           bool                   `json:"is_read"`
	ReadAt           *time.Time             `json:"read_at,omitempty"`
	InReplyTo        *uuid.UUID             `json:"in_reply_to,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
}

// FromModel copies a persisted record into its wire shape.
func FromModel(m models.ActivityRecord) ActivityRecord {
	return ActivityRecord{
		ID:               m.ID,
		EntityType:       m.EntityType,
		EntityID:         m.EntityID,
		CompanyID:        m.CompanyID,
		Sequence:         m.Sequence,
		ActionType:       m.ActionType,
		ActorUserID:      m.ActorUserID,
		RecipientUserID:  m.RecipientUserID,
		Notes:            m.Notes,
		OldValue:         m.OldValue,
		NewValue:         m.NewValue,
		Payload:          m.Payload,
		NotificationType: m.NotificationType,
		DeadlineNotified: m.DeadlineNotified,
		IsRead:           m.IsRead,
		ReadAt:           m.ReadAt,
		InReplyTo:        m.InReplyTo,
		CreatedAt:        m.CreatedAt,
	}
}

// ActivityRead announces that records addressed to RecipientUserID flipped to read.
// An empty RecordIDs list means every unread record up to ReadAt.
type ActivityRead struct {
	RecipientUserID uuid.UUID   `json:"recipient_user_id"`
	RecordIDs       []uuid.UUID `json:"record_ids,omitempty"`
	ReadAt          time.Time   `json:"read_at"`
}
