package fanout

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/dispatchboard/dispatchboard-backend/pkg/enums"
	"github.com/dispatchboard/dispatchboard-backend/pkg/logger"
	"github.com/dispatchboard/dispatchboard-backend/pkg/metrics"
	"github.com/dispatchboard/dispatchboard-backend/pkg/outbox/payloads"
)

const alertConsumer = "push-alerts"

// Alert outcomes.
const (
	AlertSent    = "sent"
	AlertSkipped = "skipped"
	AlertFailed  = "failed"
)

// AlertPublisher sends one OS-level alert message.
type AlertPublisher interface {
	PublishAlert(ctx context.Context, data []byte, attrs map[string]string) (string, error)
}

// PushPreferences reports whether a user allowed OS-level alerts.
type PushPreferences interface {
	PushEnabled(ctx context.Context, userID uuid.UUID) (bool, error)
}

// Claimer remembers which records already raised an alert.
type Claimer interface {
	Claim(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Release(ctx context.Context, consumer string, eventID uuid.UUID) error
}

// Alert is the message body handed to the push delivery service.
type Alert struct {
	RecordID         uuid.UUID              `json:"record_id"`
	RecipientUserID  uuid.UUID              `json:"recipient_user_id"`
	NotificationType enums.NotificationType `json:"notification_type"`
	EntityType       enums.EntityType       `json:"entity_type"`
	EntityID         uuid.UUID              `json:"entity_id"`
	Title            string                 `json:"title"`
	Body             string                 `json:"body,omitempty"`
}

// AlertDispatcherParams configure an AlertDispatcher.
type AlertDispatcherParams struct {
	Publisher   AlertPublisher
	Preferences PushPreferences
	Claims      Claimer
	Logger      *logger.Logger
	Metrics     *metrics.FanoutMetrics
	Enabled     bool
}

// AlertDispatcher raises a user-facing alert for records addressed to
// somebody. It is a side effect of delivery: failures never touch the ledger.
type AlertDispatcher struct {
	publisher AlertPublisher
	prefs     PushPreferences
	claims    Claimer
	logg      *logger.Logger
	metrics   *metrics.FanoutMetrics
	enabled   bool
}

// NewAlertDispatcher validates dependencies. A disabled dispatcher only needs a logger.
func NewAlertDispatcher(params AlertDispatcherParams) (*AlertDispatcher, error) {
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	if params.Enabled {
		switch {
		case params.Publisher == nil:
			return nil, fmt.Errorf("alert publisher required")
		case params.Preferences == nil:
			return nil, fmt.Errorf("push preferences required")
		case params.Claims == nil:
			return nil, fmt.Errorf("alert claims required")
		}
	}
	return &AlertDispatcher{
		publisher: params.Publisher,
		prefs:     params.Preferences,
		claims:    params.Claims,
		logg:      logg,
		metrics:   params.Metrics,
		enabled:   params.Enabled,
	}, nil
}

// Dispatch alerts rec's recipient at most once per record. It returns an
// error only when a retry could succeed.
func (d *AlertDispatcher) Dispatch(ctx context.Context, rec payloads.ActivityRecord) (string, error) {
	outcome, err := d.dispatch(ctx, rec)
	d.metrics.IncAlert(outcome)
	return outcome, err
}

func (d *AlertDispatcher) dispatch(ctx context.Context, rec payloads.ActivityRecord) (string, error) {
	if !d.enabled || rec.RecipientUserID == nil || rec.IsRead {
		return AlertSkipped, nil
	}
	recipient := *rec.RecipientUserID
	logCtx := d.logg.WithFields(ctx, map[string]any{
		"record_id":         rec.ID.String(),
		"recipient_user_id": recipient.String(),
	})

	allowed, err := d.prefs.PushEnabled(ctx, recipient)
	if err != nil {
		return AlertFailed, fmt.Errorf("load push preference: %w", err)
	}
	if !allowed {
		d.logg.Debug(logCtx, "push alerts disabled for recipient")
		return AlertSkipped, nil
	}

	claimed, err := d.claims.Claim(ctx, alertConsumer, rec.ID)
	if err != nil {
		return AlertFailed, fmt.Errorf("claim alert: %w", err)
	}
	if !claimed {
		d.logg.Debug(logCtx, "alert already sent for record")
		return AlertSkipped, nil
	}

	body, err := json.Marshal(buildAlert(rec))
	if err != nil {
		_ = d.claims.Release(ctx, alertConsumer, rec.ID)
		return AlertFailed, err
	}
	attrs := map[string]string{
		"recipient_user_id": recipient.String(),
		"notification_type": string(rec.NotificationType),
	}
	if _, err := d.publisher.PublishAlert(ctx, body, attrs); err != nil {
		if relErr := d.claims.Release(ctx, alertConsumer, rec.ID); relErr != nil {
			d.logg.Error(logCtx, "failed to release alert claim", relErr)
		}
		return AlertFailed, fmt.Errorf("publish alert: %w", err)
	}
	d.logg.Info(logCtx, "push alert sent")
	return AlertSent, nil
}

func buildAlert(rec payloads.ActivityRecord) Alert {
	alert := Alert{
		RecordID:         rec.ID,
		RecipientUserID:  *rec.RecipientUserID,
		NotificationType: rec.NotificationType,
		EntityType:       rec.EntityType,
		EntityID:         rec.EntityID,
		Title:            alertTitle(rec.ActionType),
	}
	if rec.Notes != nil {
		alert.Body = *rec.Notes
	}
	return alert
}

func alertTitle(action enums.ActionType) string {
	switch action {
	case enums.ActionStatusRequest:
		return "Status update requested"
	case enums.ActionStatusResponse:
		return "Status update received"
	case enums.ActionDeadlineApproaching:
		return "Deadline approaching"
	case enums.ActionAssignment:
		return "New assignment"
	case enums.ActionStatusChange:
		return "Status changed"
	case enums.ActionInvoiceCreated:
		return "New invoice"
	}
	return "New activity"
}
