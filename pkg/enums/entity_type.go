package enums

import "fmt"

// EntityType identifies the kind of entity an activity record or chat room is about.
type EntityType string

const (
	EntityJob      EntityType = "job"
	EntityJobTask  EntityType = "job_task"
	EntityTeamTask EntityType = "team_task"
	EntityInvoice  EntityType = "invoice"
	EntityChat     EntityType = "chat"
	EntitySMS      EntityType = "sms"
)

var validEntityTypes = []EntityType{
	EntityJob,
	EntityJobTask,
	EntityTeamTask,
	EntityInvoice,
	EntityChat,
	EntitySMS,
}

// IsValid reports whether the value matches a known entity type.
func (e EntityType) IsValid() bool {
	for _, candidate := range validEntityTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// IsTask reports whether the entity is one of the task kinds.
func (e EntityType) IsTask() bool {
	return e == EntityJobTask || e == EntityTeamTask
}

// IsAssignable reports whether the entity carries assignment fields a recipient can be resolved from.
func (e EntityType) IsAssignable() bool {
	return e == EntityJob || e.IsTask() || e == EntityInvoice
}

// ParseEntityType converts raw input into EntityType.
func ParseEntityType(value string) (EntityType, error) {
	for _, candidate := range validEntityTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid entity type %q", value)
}
