package directory

import (
	"time"

	"github.com/google/uuid"

	"github.com/dispatchboard/dispatchboard-backend/pkg/enums"
)

// EntityRef points at one row of an entity table.
type EntityRef struct {
	Type enums.EntityType `json:"type"`
	ID   uuid.UUID        `json:"id"`
}

// Assignment is the current owner of a unit of work. Parent is set for tasks
// and invoices and names the owning job.
type Assignment struct {
	Entity    EntityRef
	CompanyID uuid.UUID
	VendorID  *uuid.UUID
	WorkerID  *uuid.UUID
	TeamID    *uuid.UUID
	Parent    *EntityRef
}

// IsEmpty reports whether no assignment field is set.
func (a Assignment) IsEmpty() bool {
	return a.VendorID == nil && a.WorkerID == nil && a.TeamID == nil
}

// SetCount reports how many assignment fields are set.
func (a Assignment) SetCount() int {
	n := 0
	for _, id := range []*uuid.UUID{a.VendorID, a.WorkerID, a.TeamID} {
		if id != nil {
			n++
		}
	}
	return n
}

// LinkedUser is a vendor or worker and the login account behind it, if any.
type LinkedUser struct {
	UserID *uuid.UUID
	Name   string
}

// DeadlineCandidate is an open work item whose deadline falls in a scan window.
type DeadlineCandidate struct {
	Entity    EntityRef
	CompanyID uuid.UUID
	Title     string
	Status    enums.WorkStatus
	Deadline  time.Time
}
