package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dispatchboard/dispatchboard-backend/internal/directory"
	"github.com/dispatchboard/dispatchboard-backend/pkg/db/models"
	"github.com/dispatchboard/dispatchboard-backend/pkg/enums"
	pkgerrors "github.com/dispatchboard/dispatchboard-backend/pkg/errors"
)

// Repository writes the mutable columns of jobs and tasks.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CurrentStatus(ctx context.Context, ref directory.EntityRef) (enums.WorkStatus, error)
	UpdateAssignment(ctx context.Context, ref directory.EntityRef, assignment models.Assignment, now time.Time) error
	UpdateStatus(ctx context.Context, ref directory.EntityRef, status enums.WorkStatus, now time.Time) error
	TargetCompany(ctx context.Context, kind AssigneeKind, id uuid.UUID) (uuid.UUID, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a work item repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) CurrentStatus(ctx context.Context, ref directory.EntityRef) (enums.WorkStatus, error) {
	table, err := workTable(ref.Type)
	if err != nil {
		return "", err
	}
	var statuses []enums.WorkStatus
	if err := r.db.WithContext(ctx).Table(table).Where("id = ?", ref.ID).Limit(1).Pluck("status", &statuses).Error; err != nil {
		return "", err
	}
	if len(statuses) == 0 {
		return "", pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("%s %s not found", ref.Type, ref.ID))
	}
	return statuses[0], nil
}

func (r *repositoryImpl) UpdateAssignment(ctx context.Context, ref directory.EntityRef, assignment models.Assignment, now time.Time) error {
	table, err := workTable(ref.Type)
	if err != nil {
		return err
	}
	return r.update(ctx, table, ref, map[string]any{
		"assigned_to_vendor_id": assignment.AssignedToVendorID,
		"assigned_to_worker_id": assignment.AssignedToWorkerID,
		"assigned_to_team_id":   assignment.AssignedToTeamID,
		"updated_at":            now,
	})
}

func (r *repositoryImpl) UpdateStatus(ctx context.Context, ref directory.EntityRef, status enums.WorkStatus, now time.Time) error {
	table, err := workTable(ref.Type)
	if err != nil {
		return err
	}
	return r.update(ctx, table, ref, map[string]any{"status": status, "updated_at": now})
}

func (r *repositoryImpl) update(ctx context.Context, table string, ref directory.EntityRef, columns map[string]any) error {
	result := r.db.WithContext(ctx).Table(table).Where("id = ?", ref.ID).UpdateColumns(columns)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("%s %s not found", ref.Type, ref.ID))
	}
	return nil
}

// TargetCompany returns the company a vendor, worker or team belongs to.
func (r *repositoryImpl) TargetCompany(ctx context.Context, kind AssigneeKind, id uuid.UUID) (uuid.UUID, error) {
	var table string
	switch kind {
	case AssigneeVendor:
		table = "vendors"
	case AssigneeWorker:
		table = "workers"
	case AssigneeTeam:
		table = "teams"
	default:
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown assignee kind %q", kind))
	}
	var ids []uuid.UUID
	if err := r.db.WithContext(ctx).Table(table).Where("id = ?", id).Limit(1).Pluck("company_id", &ids).Error; err != nil {
		return uuid.Nil, err
	}
	if len(ids) == 0 {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("%s %s not found", kind, id))
	}
	return ids[0], nil
}

func workTable(entityType enums.EntityType) (string, error) {
	switch entityType {
	case enums.EntityJob:
		return "jobs", nil
	case enums.EntityJobTask:
		return "job_tasks", nil
	case enums.EntityTeamTask:
		return "team_tasks", nil
	}
	return "", pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("entity type %q has no status or assignee", entityType))
}
