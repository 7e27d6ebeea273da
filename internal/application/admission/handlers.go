package admission

import (
	"context"
	"fmt"

	"github.com/hotline/admissions/internal/domain/admission"
	"github.com/hotline/admissions/internal/domain/shared"
	"go.uber.org/zap"
)

// MessageTracker is the part of the router the tracking handler updates
type MessageTracker interface {
	Track(loc admission.MessageLocator, applicationID int64)
	Untrack(applicationID int64)
}

// TrackingHandler keeps the router's locator map in step with the
// applications: new review messages are tracked, decided stages untracked
type TrackingHandler struct {
	tracker MessageTracker
	logger  *zap.Logger
}

// NewTrackingHandler creates a new tracking handler
func NewTrackingHandler(tracker MessageTracker, logger *zap.Logger) *TrackingHandler {
	return &TrackingHandler{tracker: tracker, logger: logger}
}

// EventTypes returns the event types this handler is interested in
func (h *TrackingHandler) EventTypes() []string {
	return []string{
		admission.EventTypeApplicationSubmitted,
		admission.EventTypeApprovalDecided,
		admission.EventTypeVoteMessagePosted,
		admission.EventTypeRatificationDecided,
	}
}

// Handle processes an admission event
func (h *TrackingHandler) Handle(_ context.Context, event shared.DomainEvent) error {
	switch e := event.(type) {
	case *admission.ApplicationSubmittedEvent:
		return h.track(e.ApplicationID, e.ApprovalMessage)
	case *admission.VoteMessagePostedEvent:
		return h.track(e.ApplicationID, e.VoteMessage)
	case *admission.ApprovalDecidedEvent:
		// the vote message, if any, is tracked again when it is posted
		h.tracker.Untrack(e.ApplicationID)
	case *admission.RatificationDecidedEvent:
		h.tracker.Untrack(e.ApplicationID)
	default:
		h.logger.Error("unexpected event type", zap.String("actual", event.EventType()))
		return fmt.Errorf("unexpected event type: %s", event.EventType())
	}
	return nil
}

func (h *TrackingHandler) track(applicationID int64, locator string) error {
	loc, err := admission.ParseMessageLocator(locator)
	if err != nil {
		return err
	}
	h.tracker.Track(loc, applicationID)
	return nil
}

// EventEncoder turns a domain event into its stored form
type EventEncoder interface {
	Serialize(event shared.DomainEvent) ([]byte, error)
}

// AuditLogHandler writes every admission event to the log as JSON,
// giving staff a trail of what was decided and when
type AuditLogHandler struct {
	encoder EventEncoder
	logger  *zap.Logger
}

// NewAuditLogHandler creates a new audit log handler
func NewAuditLogHandler(encoder EventEncoder, logger *zap.Logger) *AuditLogHandler {
	return &AuditLogHandler{encoder: encoder, logger: logger.Named("audit")}
}

// EventTypes returns the event types this handler is interested in
func (h *AuditLogHandler) EventTypes() []string {
	return []string{
		admission.EventTypeApplicationSubmitted,
		admission.EventTypeApprovalDecided,
		admission.EventTypeVoteMessagePosted,
		admission.EventTypeRatificationDecided,
	}
}

// Handle logs the encoded event
func (h *AuditLogHandler) Handle(_ context.Context, event shared.DomainEvent) error {
	payload, err := h.encoder.Serialize(event)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event.EventType(), err)
	}
	h.logger.Info("Admission event",
		zap.String("event_id", event.EventID().String()),
		zap.String("event_type", event.EventType()),
		zap.Int64("application_id", event.AggregateID()),
		zap.Time("occurred_at", event.OccurredAt()),
		zap.ByteString("payload", payload),
	)
	return nil
}

var (
	_ shared.EventHandler = (*TrackingHandler)(nil)
	_ shared.EventHandler = (*AuditLogHandler)(nil)
	_ MessageTracker      = (*Router)(nil)
)
