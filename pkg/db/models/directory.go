package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/dispatchboard/dispatchboard-backend/pkg/enums"
)

// Company is the tenant boundary.
type Company struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Name      string    `gorm:"column:name;type:text;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// User is a login account. PushEnabled mirrors the OS notification permission.
type User struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Email       string    `gorm:"column:email;type:text;not null"`
	FullName    string    `gorm:"column:full_name;type:text;not null"`
	PushEnabled bool      `gorm:"column:push_enabled;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

// CompanyMember links a user to a company with a role.
type CompanyMember struct {
	ID        uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	CompanyID uuid.UUID        `gorm:"column:company_id;type:uuid;not null"`
	UserID    uuid.UUID        `gorm:"column:user_id;type:uuid;not null"`
	Role      enums.MemberRole `gorm:"column:role;type:text;not null"`
	CreatedAt time.Time        `gorm:"column:created_at;autoCreateTime"`
}

// Vendor is a subcontractor. UserID is nil until the vendor accepts an invite.
type Vendor struct {
	ID        uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	CompanyID uuid.UUID  `gorm:"column:company_id;type:uuid;not null"`
	UserID    *uuid.UUID `gorm:"column:user_id;type:uuid"`
	Name      string     `gorm:"column:name;type:text;not null"`
	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime"`
}

// Worker belongs to a company and optionally a vendor.
type Worker struct {
	ID        uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	CompanyID uuid.UUID  `gorm:"column:company_id;type:uuid;not null"`
	VendorID  *uuid.UUID `gorm:"column:vendor_id;type:uuid"`
	UserID    *uuid.UUID `gorm:"column:user_id;type:uuid"`
	Name      string     `gorm:"column:name;type:text;not null"`
	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime"`
}

// Team groups workers under an optional head.
type Team struct {
	ID         uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	CompanyID  uuid.UUID  `gorm:"column:company_id;type:uuid;not null"`
	Name       string     `gorm:"column:name;type:text;not null"`
	TeamHeadID *uuid.UUID `gorm:"column:team_head_id;type:uuid"`
	CreatedAt  time.Time  `gorm:"column:created_at;autoCreateTime"`
}

// Assignment holds the three mutually exclusive assignment columns shared by
// jobs and tasks.
type Assignment struct {
	AssignedToVendorID *uuid.UUID `gorm:"column:assigned_to_vendor_id;type:uuid"`
	AssignedToWorkerID *uuid.UUID `gorm:"column:assigned_to_worker_id;type:uuid"`
	AssignedToTeamID   *uuid.UUID `gorm:"column:assigned_to_team_id;type:uuid"`
}

// IsEmpty reports whether no assignment column is set.
func (a Assignment) IsEmpty() bool {
	return a.AssignedToVendorID == nil && a.AssignedToWorkerID == nil && a.AssignedToTeamID == nil
}

// Job is the top-level unit of work.
type Job struct {
	ID         uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	CompanyID  uuid.UUID        `gorm:"column:company_id;type:uuid;not null"`
	Title      string           `gorm:"column:title;type:text;not null"`
	Status     enums.WorkStatus `gorm:"column:status;type:text;not null"`
	Deadline   *time.Time       `gorm:"column:deadline;type:timestamptz"`
	Assignment `gorm:"embedded"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// JobTask is a task directly under a job.
type JobTask struct {
	ID         uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	JobID      uuid.UUID        `gorm:"column:job_id;type:uuid;not null"`
	Title      string           `gorm:"column:title;type:text;not null"`
	Status     enums.WorkStatus `gorm:"column:status;type:text;not null"`
	Deadline   *time.Time       `gorm:"column:deadline;type:timestamptz"`
	Assignment `gorm:"embedded"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TeamTask is a task handed to a team within a job.
type TeamTask struct {
	ID         uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	JobID      uuid.UUID        `gorm:"column:job_id;type:uuid;not null"`
	Title      string           `gorm:"column:title;type:text;not null"`
	Status     enums.WorkStatus `gorm:"column:status;type:text;not null"`
	Deadline   *time.Time       `gorm:"column:deadline;type:timestamptz"`
	Assignment `gorm:"embedded"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// Invoice is billed against a job by a vendor.
type Invoice struct {
	ID          uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	CompanyID   uuid.UUID  `gorm:"column:company_id;type:uuid;not null"`
	JobID       uuid.UUID  `gorm:"column:job_id;type:uuid;not null"`
	VendorID    *uuid.UUID `gorm:"column:vendor_id;type:uuid"`
	AmountCents int64      `gorm:"column:amount_cents;not null"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
}
