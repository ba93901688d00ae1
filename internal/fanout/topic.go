package fanout

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/dispatchboard/dispatchboard-backend/pkg/outbox/payloads"
)

// TopicKind is the dimension a subscriber filters records on.
type TopicKind string

const (
	TopicRecipient TopicKind = "recipient"
	TopicEntity    TopicKind = "entity"
	TopicCompany   TopicKind = "company"
)

// Topic selects records by recipient, by entity or by owning company.
type Topic struct {
	Kind TopicKind
	ID   uuid.UUID
}

func RecipientTopic(userID uuid.UUID) Topic { return Topic{Kind: TopicRecipient, ID: userID} }
func EntityTopic(entityID uuid.UUID) Topic  { return Topic{Kind: TopicEntity, ID: entityID} }
func CompanyTopic(companyID uuid.UUID) Topic {
	return Topic{Kind: TopicCompany, ID: companyID}
}

// ParseTopicKind converts raw input into a TopicKind.
func ParseTopicKind(value string) (TopicKind, error) {
	switch TopicKind(value) {
	case TopicRecipient, TopicEntity, TopicCompany:
		return TopicKind(value), nil
	}
	return "", fmt.Errorf("invalid topic %q", value)
}

func (t Topic) String() string {
	return string(t.Kind) + ":" + t.ID.String()
}

// Matches reports whether rec belongs on this topic.
func (t Topic) Matches(rec payloads.ActivityRecord) bool {
	switch t.Kind {
	case TopicRecipient:
		return rec.RecipientUserID != nil && *rec.RecipientUserID == t.ID
	case TopicEntity:
		return rec.EntityID == t.ID
	case TopicCompany:
		return rec.CompanyID != nil && *rec.CompanyID == t.ID
	}
	return false
}
