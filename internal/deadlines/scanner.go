package deadlines

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/dispatchboard/dispatchboard-backend/internal/activity"
	"github.com/dispatchboard/dispatchboard-backend/internal/assignments"
	"github.com/dispatchboard/dispatchboard-backend/internal/directory"
	"github.com/dispatchboard/dispatchboard-backend/pkg/enums"
	pkgerrors "github.com/dispatchboard/dispatchboard-backend/pkg/errors"
	"github.com/dispatchboard/dispatchboard-backend/pkg/logger"
	"github.com/dispatchboard/dispatchboard-backend/pkg/metrics"
)

const defaultLookahead = 24 * time.Hour

// ScannerParams configure the deadline scanner.
type ScannerParams struct {
	Logger    *logger.Logger
	Directory directory.Repository
	Resolver  assignments.Resolver
	Ledger    activity.Service
	Metrics   *metrics.DeadlineMetrics
	Lookahead time.Duration
}

// Result tallies one scan.
type Result struct {
	Candidates int
	Emitted    int
	Suppressed int
	Skipped    int
	Failed     int
}

// Scanner alerts assignees about open work due within the lookahead window.
// It satisfies the cron job contract.
type Scanner struct {
	logg      *logger.Logger
	dir       directory.Repository
	resolver  assignments.Resolver
	ledger    activity.Service
	metrics   *metrics.DeadlineMetrics
	lookahead time.Duration
	now       func() time.Time
}

// NewScanner validates params and builds a scanner.
func NewScanner(params ScannerParams) (*Scanner, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Directory == nil {
		return nil, fmt.Errorf("directory repository required")
	}
	if params.Resolver == nil {
		return nil, fmt.Errorf("assignment resolver required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("activity service required")
	}
	lookahead := params.Lookahead
	if lookahead <= 0 {
		lookahead = defaultLookahead
	}
	return &Scanner{
		logg:      params.Logger,
		dir:       params.Directory,
		resolver:  params.Resolver,
		ledger:    params.Ledger,
		metrics:   params.Metrics,
		lookahead: lookahead,
		now:       time.Now,
	}, nil
}

func (s *Scanner) Name() string { return "deadline-scan" }

func (s *Scanner) Run(ctx context.Context) error {
	_, err := s.Scan(ctx)
	return err
}

// DedupeKey identifies the single deadline alert an entity may ever receive.
// The deadline value is not part of the key: rescheduling does not re-alert.
func DedupeKey(c directory.DeadlineCandidate) string {
	return fmt.Sprintf("%s:%s:%s", enums.ActionDeadlineApproaching, c.Entity.Type, c.Entity.ID)
}

// Scan alerts every open candidate due in [now, now+lookahead]. Candidates
// with nobody to notify are logged and skipped; other per-candidate failures
// are collected and returned together once every candidate was tried.
func (s *Scanner) Scan(ctx context.Context) (Result, error) {
	now := s.now().UTC()
	until := now.Add(s.lookahead)

	candidates, err := s.dir.FindDeadlineCandidates(ctx, now, until)
	if err != nil {
		return Result{}, fmt.Errorf("load deadline candidates: %w", err)
	}

	result := Result{Candidates: len(candidates)}
	var errs []error
	for _, candidate := range candidates {
		outcome, err := s.alert(ctx, candidate)
		s.metrics.Inc(string(candidate.Entity.Type), outcome)
		switch outcome {
		case metrics.DeadlineEmitted:
			result.Emitted++
		case metrics.DeadlineSuppressed:
			result.Suppressed++
		case metrics.DeadlineSkipped:
			result.Skipped++
		case metrics.DeadlineFailed:
			result.Failed++
			errs = append(errs, fmt.Errorf("%s %s: %w", candidate.Entity.Type, candidate.Entity.ID, err))
		}
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"window_start": now,
		"window_end":   until,
		"candidates":   result.Candidates,
		"emitted":      result.Emitted,
		"suppressed":   result.Suppressed,
		"skipped":      result.Skipped,
		"failed":       result.Failed,
	})
	s.logg.Info(logCtx, "deadline scan complete")
	return result, multierr.Combine(errs...)
}

func (s *Scanner) alert(ctx context.Context, c directory.DeadlineCandidate) (string, error) {
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"entity_type": c.Entity.Type,
		"entity_id":   c.Entity.ID.String(),
		"deadline":    c.Deadline,
	})
	if c.Status.IsTerminal() {
		return metrics.DeadlineSkipped, nil
	}

	key := DedupeKey(c)
	seen, err := s.ledger.HasDedupeKey(ctx, key)
	if err != nil {
		return metrics.DeadlineFailed, err
	}
	if seen {
		return metrics.DeadlineSuppressed, nil
	}

	target, err := s.resolver.Resolve(ctx, c.Entity)
	if err != nil {
		if assignments.IsUnresolved(err) || pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			s.logg.Warn(s.logg.WithField(logCtx, "reason", err.Error()), "deadline alert skipped: no recipient")
			return metrics.DeadlineSkipped, nil
		}
		return metrics.DeadlineFailed, err
	}

	deadline := c.Deadline.UTC().Format(time.RFC3339)
	notes := fmt.Sprintf("Deadline approaching for %q", c.Title)
	appended, err := s.ledger.Append(ctx, activity.AppendInput{
		Entity:           c.Entity,
		CompanyID:        &c.CompanyID,
		Action:           enums.ActionDeadlineApproaching,
		ActorUserID:      target.UserID,
		RecipientUserID:  &target.UserID,
		Notes:            &notes,
		NewValue:         &deadline,
		Payload:          activity.DeadlineApproachingPayload{Deadline: c.Deadline.UTC(), Lookahead: s.lookahead.String()},
		DeadlineNotified: true,
		DedupeKey:        key,
	})
	if err != nil {
		if assignments.IsUnresolved(err) {
			return metrics.DeadlineSkipped, nil
		}
		return metrics.DeadlineFailed, err
	}
	if appended.Suppressed {
		return metrics.DeadlineSuppressed, nil
	}
	s.logg.Info(s.logg.WithField(logCtx, "recipient_user_id", target.UserID.String()), "deadline alert recorded")
	return metrics.DeadlineEmitted, nil
}
