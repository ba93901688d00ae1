package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dispatchboard/dispatchboard-backend/pkg/db/models"
	"github.com/dispatchboard/dispatchboard-backend/pkg/enums"
	pkgerrors "github.com/dispatchboard/dispatchboard-backend/pkg/errors"
)

// Repository is the read side of the company directory: who owns what, and
// which login account stands behind each vendor, worker and team.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	GetAssignment(ctx context.Context, ref EntityRef) (Assignment, error)
	GetVendorUser(ctx context.Context, vendorID uuid.UUID) (LinkedUser, error)
	GetWorkerUser(ctx context.Context, workerID uuid.UUID) (LinkedUser, error)
	GetTeamHead(ctx context.Context, teamID uuid.UUID) (*uuid.UUID, error)
	CompanyOf(ctx context.Context, ref EntityRef) (uuid.UUID, error)
	IsCompanyMember(ctx context.Context, companyID, userID uuid.UUID) (bool, error)
	UserDisplayName(ctx context.Context, userID uuid.UUID) (string, error)
	PushEnabled(ctx context.Context, userID uuid.UUID) (bool, error)
	FindDeadlineCandidates(ctx context.Context, from, to time.Time) ([]DeadlineCandidate, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a directory repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

type assignmentRow struct {
	CompanyID          uuid.UUID
	JobID              *uuid.UUID
	AssignedToVendorID *uuid.UUID
	AssignedToWorkerID *uuid.UUID
	AssignedToTeamID   *uuid.UUID
}

func (r *repositoryImpl) GetAssignment(ctx context.Context, ref EntityRef) (Assignment, error) {
	var (
		row   assignmentRow
		query *gorm.DB
	)
	db := r.db.WithContext(ctx)
	switch ref.Type {
	case enums.EntityJob:
		query = db.Table("jobs").
			Select("company_id, NULL AS job_id, assigned_to_vendor_id, assigned_to_worker_id, assigned_to_team_id").
			Where("id = ?", ref.ID)
	case enums.EntityJobTask, enums.EntityTeamTask:
		table := taskTable(ref.Type)
		query = db.Table(table+" t").
			Select("j.company_id, t.job_id, t.assigned_to_vendor_id, t.assigned_to_worker_id, t.assigned_to_team_id").
			Joins("JOIN jobs j ON j.id = t.job_id").
			Where("t.id = ?", ref.ID)
	case enums.EntityInvoice:
		query = db.Table("invoices").
			Select("company_id, job_id, NULL AS assigned_to_vendor_id, NULL AS assigned_to_worker_id, NULL AS assigned_to_team_id").
			Where("id = ?", ref.ID)
	default:
		return Assignment{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("entity type %q has no assignment", ref.Type))
	}

	result := query.Limit(1).Scan(&row)
	if result.Error != nil {
		return Assignment{}, result.Error
	}
	if result.RowsAffected == 0 {
		return Assignment{}, notFound(ref.Type, ref.ID)
	}

	assignment := Assignment{
		Entity:    ref,
		CompanyID: row.CompanyID,
		VendorID:  row.AssignedToVendorID,
		WorkerID:  row.AssignedToWorkerID,
		TeamID:    row.AssignedToTeamID,
	}
	if row.JobID != nil {
		assignment.Parent = &EntityRef{Type: enums.EntityJob, ID: *row.JobID}
	}
	return assignment, nil
}

func (r *repositoryImpl) GetVendorUser(ctx context.Context, vendorID uuid.UUID) (LinkedUser, error) {
	var vendor models.Vendor
	if err := r.db.WithContext(ctx).Select("id, user_id, name").Where("id = ?", vendorID).First(&vendor).Error; err != nil {
		return LinkedUser{}, translate(err, "vendor", vendorID)
	}
	return LinkedUser{UserID: vendor.UserID, Name: vendor.Name}, nil
}

func (r *repositoryImpl) GetWorkerUser(ctx context.Context, workerID uuid.UUID) (LinkedUser, error) {
	var worker models.Worker
	if err := r.db.WithContext(ctx).Select("id, user_id, name").Where("id = ?", workerID).First(&worker).Error; err != nil {
		return LinkedUser{}, translate(err, "worker", workerID)
	}
	return LinkedUser{UserID: worker.UserID, Name: worker.Name}, nil
}

func (r *repositoryImpl) GetTeamHead(ctx context.Context, teamID uuid.UUID) (*uuid.UUID, error) {
	var team models.Team
	if err := r.db.WithContext(ctx).Select("id, team_head_id").Where("id = ?", teamID).First(&team).Error; err != nil {
		return nil, translate(err, "team", teamID)
	}
	return team.TeamHeadID, nil
}

func (r *repositoryImpl) CompanyOf(ctx context.Context, ref EntityRef) (uuid.UUID, error) {
	if ref.Type == enums.EntityChat {
		var room models.ChatRoom
		if err := r.db.WithContext(ctx).Select("id, company_id").Where("id = ?", ref.ID).First(&room).Error; err != nil {
			return uuid.Nil, translate(err, string(ref.Type), ref.ID)
		}
		return room.CompanyID, nil
	}
	assignment, err := r.GetAssignment(ctx, ref)
	if err != nil {
		return uuid.Nil, err
	}
	return assignment.CompanyID, nil
}

func (r *repositoryImpl) IsCompanyMember(ctx context.Context, companyID, userID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.CompanyMember{}).
		Where("company_id = ? AND user_id = ?", companyID, userID).
		Count(&count).Error
	return count > 0, err
}

func (r *repositoryImpl) UserDisplayName(ctx context.Context, userID uuid.UUID) (string, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Select("id, full_name").Where("id = ?", userID).First(&user).Error; err != nil {
		return "", translate(err, "user", userID)
	}
	return user.FullName, nil
}

func (r *repositoryImpl) PushEnabled(ctx context.Context, userID uuid.UUID) (bool, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Select("id, push_enabled").Where("id = ?", userID).First(&user).Error; err != nil {
		return false, translate(err, "user", userID)
	}
	return user.PushEnabled, nil
}

type candidateRow struct {
	ID        uuid.UUID
	CompanyID uuid.UUID
	Title     string
	Status    enums.WorkStatus
	Deadline  time.Time
}

// FindDeadlineCandidates lists open jobs and tasks with from <= deadline <= to.
func (r *repositoryImpl) FindDeadlineCandidates(ctx context.Context, from, to time.Time) ([]DeadlineCandidate, error) {
	db := r.db.WithContext(ctx)
	from, to = from.UTC(), to.UTC()

	var out []DeadlineCandidate
	collect := func(entityType enums.EntityType, query *gorm.DB) error {
		var rows []candidateRow
		if err := query.Scan(&rows).Error; err != nil {
			return fmt.Errorf("scan %s deadlines: %w", entityType, err)
		}
		for _, row := range rows {
			out = append(out, DeadlineCandidate{
				Entity:    EntityRef{Type: entityType, ID: row.ID},
				CompanyID: row.CompanyID,
				Title:     row.Title,
				Status:    row.Status,
				Deadline:  row.Deadline.UTC(),
			})
		}
		return nil
	}

	if err := collect(enums.EntityJob, db.Table("jobs").
		Select("id, company_id, title, status, deadline").
		Where("deadline IS NOT NULL AND deadline >= ? AND deadline <= ?", from, to).
		Where("status NOT IN ?", enums.TerminalWorkStatuses).
		Order("deadline ASC")); err != nil {
		return nil, err
	}
	for _, entityType := range []enums.EntityType{enums.EntityJobTask, enums.EntityTeamTask} {
		query := db.Table(taskTable(entityType)+" t").
			Select("t.id, j.company_id, t.title, t.status, t.deadline").
			Joins("JOIN jobs j ON j.id = t.job_id").
			Where("t.deadline IS NOT NULL AND t.deadline >= ? AND t.deadline <= ?", from, to).
			Where("t.status NOT IN ?", enums.TerminalWorkStatuses).
			Order("t.deadline ASC")
		if err := collect(entityType, query); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func taskTable(entityType enums.EntityType) string {
	if entityType == enums.EntityTeamTask {
		return "team_tasks"
	}
	return "job_tasks"
}

func notFound(kind any, id uuid.UUID) error {
	return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("%s %s not found", kind, id))
}

func translate(err error, kind string, id uuid.UUID) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound(kind, id)
	}
	return err
}
