package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dispatchboard/dispatchboard-backend/internal/activity"
	"github.com/dispatchboard/dispatchboard-backend/internal/assignments"
	"github.com/dispatchboard/dispatchboard-backend/internal/directory"
	"github.com/dispatchboard/dispatchboard-backend/pkg/db"
	"github.com/dispatchboard/dispatchboard-backend/pkg/db/models"
	"github.com/dispatchboard/dispatchboard-backend/pkg/enums"
	pkgerrors "github.com/dispatchboard/dispatchboard-backend/pkg/errors"
	"github.com/dispatchboard/dispatchboard-backend/pkg/logger"
)

// AssigneeKind names which assignment column a reassignment sets.
type AssigneeKind string

const (
	AssigneeVendor AssigneeKind = "vendor"
	AssigneeWorker AssigneeKind = "worker"
	AssigneeTeam   AssigneeKind = "team"
)

// AssignInput moves an entity to a new assignee.
type AssignInput struct {
	Entity   directory.EntityRef
	Kind     AssigneeKind
	TargetID uuid.UUID
	ActorID  uuid.UUID
}

// StatusInput moves an entity to a new work status.
type StatusInput struct {
	Entity  directory.EntityRef
	Status  enums.WorkStatus
	ActorID uuid.UUID
}

// MutationResult is the ledger record written with the change. Notified is
// false when the new owner has no login account; the change still applies.
type MutationResult struct {
	Record   activity.Record `json:"record"`
	Notified bool            `json:"notified"`
}

// Service applies work item mutations and records them in the ledger in the
// same transaction.
type Service interface {
	Assign(ctx context.Context, input AssignInput) (MutationResult, error)
	ChangeStatus(ctx context.Context, input StatusInput) (MutationResult, error)
}

type service struct {
	tx     db.TxRunner
	repo   Repository
	dir    directory.Repository
	ledger activity.Service
	logg   *logger.Logger
	now    func() time.Time
}

// NewService wires work item mutations.
func NewService(tx db.TxRunner, repo Repository, dir directory.Repository, ledger activity.Service, logg *logger.Logger) (Service, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction runner required")
	}
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "jobs repository required")
	}
	if dir == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "directory repository required")
	}
	if ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "activity service required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{tx: tx, repo: repo, dir: dir, ledger: ledger, logg: logg, now: time.Now}, nil
}

func (s *service) Assign(ctx context.Context, input AssignInput) (MutationResult, error) {
	if input.ActorID == uuid.Nil || input.TargetID == uuid.Nil {
		return MutationResult{}, pkgerrors.New(pkgerrors.CodeValidation, "actor id and target id required")
	}
	next, err := assignmentFor(input.Kind, input.TargetID)
	if err != nil {
		return MutationResult{}, err
	}

	var result MutationResult
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		dir := s.dir.WithTx(tx)
		repo := s.repo.WithTx(tx)

		current, err := dir.GetAssignment(ctx, input.Entity)
		if err != nil {
			return err
		}
		targetCompany, err := repo.TargetCompany(ctx, input.Kind, input.TargetID)
		if err != nil {
			return err
		}
		if targetCompany != current.CompanyID {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("%s belongs to another company", input.Kind))
		}
		if err := repo.UpdateAssignment(ctx, input.Entity, next, s.now().UTC()); err != nil {
			return err
		}

		recipient, err := s.resolveTx(ctx, tx, input.Entity)
		if err != nil {
			return err
		}
		from := describe(current)
		to := &activity.Assignee{Kind: string(input.Kind), ID: input.TargetID}
		appended, err := s.ledger.AppendTx(ctx, tx, activity.AppendInput{
			Entity:          input.Entity,
			CompanyID:       &current.CompanyID,
			Action:          enums.ActionAssignment,
			ActorUserID:     input.ActorID,
			RecipientUserID: recipient,
			OldValue:        assigneeValue(from),
			NewValue:        assigneeValue(to),
			Payload:         activity.AssignmentPayload{From: from, To: to},
		})
		if err != nil {
			return err
		}
		result = MutationResult{Record: appended.Record, Notified: recipient != nil}
		return nil
	})
	return result, err
}

func (s *service) ChangeStatus(ctx context.Context, input StatusInput) (MutationResult, error) {
	if input.ActorID == uuid.Nil {
		return MutationResult{}, pkgerrors.New(pkgerrors.CodeValidation, "actor id required")
	}
	if !input.Status.IsValid() {
		return MutationResult{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown status %q", input.Status))
	}

	var result MutationResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := repo.CurrentStatus(ctx, input.Entity)
		if err != nil {
			return err
		}
		if current == input.Status {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("already %s", current))
		}
		if current.IsTerminal() {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot leave terminal status %s", current))
		}
		if err := repo.UpdateStatus(ctx, input.Entity, input.Status, s.now().UTC()); err != nil {
			return err
		}

		recipient, err := s.resolveTx(ctx, tx, input.Entity)
		if err != nil {
			return err
		}
		// The assignee changing their own status is not news to them.
		if recipient != nil && *recipient == input.ActorID {
			recipient = nil
		}
		oldValue, newValue := string(current), string(input.Status)
		appended, err := s.ledger.AppendTx(ctx, tx, activity.AppendInput{
			Entity:          input.Entity,
			Action:          enums.ActionStatusChange,
			ActorUserID:     input.ActorID,
			RecipientUserID: recipient,
			OldValue:        &oldValue,
			NewValue:        &newValue,
			Payload:         activity.StatusChangePayload{From: current, To: input.Status},
		})
		if err != nil {
			return err
		}
		result = MutationResult{Record: appended.Record, Notified: recipient != nil}
		return nil
	})
	return result, err
}

// resolveTx resolves the entity's owner against the transaction's view of the
// directory. An unresolved owner yields nil so the change is recorded feed-only.
func (s *service) resolveTx(ctx context.Context, tx *gorm.DB, ref directory.EntityRef) (*uuid.UUID, error) {
	resolver, err := assignments.NewResolver(s.dir.WithTx(tx), s.logg)
	if err != nil {
		return nil, err
	}
	target, err := resolver.Resolve(ctx, ref)
	if err != nil {
		if assignments.IsUnresolved(err) {
			logCtx := s.logg.WithFields(ctx, map[string]any{
				"entity_type": ref.Type,
				"entity_id":   ref.ID.String(),
			})
			s.logg.Info(logCtx, "no assignee to notify; recording change without recipient")
			return nil, nil
		}
		return nil, err
	}
	return &target.UserID, nil
}

func assignmentFor(kind AssigneeKind, id uuid.UUID) (models.Assignment, error) {
	switch kind {
	case AssigneeVendor:
		return models.Assignment{AssignedToVendorID: &id}, nil
	case AssigneeWorker:
		return models.Assignment{AssignedToWorkerID: &id}, nil
	case AssigneeTeam:
		return models.Assignment{AssignedToTeamID: &id}, nil
	}
	return models.Assignment{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown assignee kind %q", kind))
}

// describe names the assignee that wins precedence, or nil when unassigned.
func describe(a directory.Assignment) *activity.Assignee {
	switch {
	case a.VendorID != nil:
		return &activity.Assignee{Kind: string(AssigneeVendor), ID: *a.VendorID}
	case a.WorkerID != nil:
		return &activity.Assignee{Kind: string(AssigneeWorker), ID: *a.WorkerID}
	case a.TeamID != nil:
		return &activity.Assignee{Kind: string(AssigneeTeam), ID: *a.TeamID}
	}
	return nil
}

func assigneeValue(a *activity.Assignee) *string {
	if a == nil {
		return nil
	}
	v := a.Kind + ":" + a.ID.String()
	return &v
}
