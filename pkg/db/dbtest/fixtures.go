package dbtest

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/dispatchboard/dispatchboard-backend/pkg/db/models"
	"github.com/dispatchboard/dispatchboard-backend/pkg/enums"
)

// Fixtures inserts directory rows with generated ids.
type Fixtures struct {
	t  *testing.T
	db *gorm.DB
}

// NewFixtures binds fixture helpers to conn.
func NewFixtures(t *testing.T, conn *gorm.DB) *Fixtures {
	return &Fixtures{t: t, db: conn}
}

func (f *Fixtures) create(value any) {
	f.t.Helper()
	require.NoError(f.t, f.db.Create(value).Error)
}

// Company inserts a company.
func (f *Fixtures) Company(name string) models.Company {
	row := models.Company{ID: uuid.New(), Name: name}
	f.create(&row)
	return row
}

// User inserts a user with push alerts disabled.
func (f *Fixtures) User(fullName string) models.User {
	row := models.User{ID: uuid.New(), Email: uuid.NewString() + "@example.com", FullName: fullName}
	f.create(&row)
	return row
}

// Member adds userID to companyID with role.
func (f *Fixtures) Member(companyID, userID uuid.UUID, role enums.MemberRole) models.CompanyMember {
	row := models.CompanyMember{ID: uuid.New(), CompanyID: companyID, UserID: userID, Role: role}
	f.create(&row)
	return row
}

// Vendor inserts a vendor linked to userID (nil for an unlinked vendor).
func (f *Fixtures) Vendor(companyID uuid.UUID, userID *uuid.UUID, name string) models.Vendor {
	row := models.Vendor{ID: uuid.New(), CompanyID: companyID, UserID: userID, Name: name}
	f.create(&row)
	return row
}

// Worker inserts a worker linked to userID (nil for an unlinked worker).
func (f *Fixtures) Worker(companyID uuid.UUID, userID *uuid.UUID, name string) models.Worker {
	row := models.Worker{ID: uuid.New(), CompanyID: companyID, UserID: userID, Name: name}
	f.create(&row)
	return row
}

// Team inserts a team headed by headWorkerID (nil for a headless team).
func (f *Fixtures) Team(companyID uuid.UUID, headWorkerID *uuid.UUID, name string) models.Team {
	row := models.Team{ID: uuid.New(), CompanyID: companyID, TeamHeadID: headWorkerID, Name: name}
	f.create(&row)
	return row
}

// Job inserts a pending job with the given assignment and optional deadline.
func (f *Fixtures) Job(companyID uuid.UUID, assignment models.Assignment, deadline *time.Time) models.Job {
	row := models.Job{
		ID:         uuid.New(),
		CompanyID:  companyID,
		Title:      "job",
		Status:     enums.WorkStatusPending,
		Deadline:   utcPtr(deadline),
		Assignment: assignment,
	}
	f.create(&row)
	return row
}

// JobTask inserts a pending task under jobID.
func (f *Fixtures) JobTask(jobID uuid.UUID, assignment models.Assignment, deadline *time.Time) models.JobTask {
	row := models.JobTask{
		ID:         uuid.New(),
		JobID:      jobID,
		Title:      "task",
		Status:     enums.WorkStatusPending,
		Deadline:   utcPtr(deadline),
		Assignment: assignment,
	}
	f.create(&row)
	return row
}

// TeamTask inserts a pending team task under jobID.
func (f *Fixtures) TeamTask(jobID uuid.UUID, assignment models.Assignment, deadline *time.Time) models.TeamTask {
	row := models.TeamTask{
		ID:         uuid.New(),
		JobID:      jobID,
		Title:      "team task",
		Status:     enums.WorkStatusPending,
		Deadline:   utcPtr(deadline),
		Assignment: assignment,
	}
	f.create(&row)
	return row
}

// Invoice inserts an invoice billed against jobID.
func (f *Fixtures) Invoice(companyID, jobID uuid.UUID, vendorID *uuid.UUID) models.Invoice {
	row := models.Invoice{ID: uuid.New(), CompanyID: companyID, JobID: jobID, VendorID: vendorID, AmountCents: 1000}
	f.create(&row)
	return row
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
