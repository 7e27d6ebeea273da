package admission

import (
	"time"

	"github.com/hotline/admissions/internal/domain/shared"
)

// Aggregate type constant
const AggregateTypeApplication = "Application"

// Event type constants
const (
	EventTypeApplicationSubmitted = "ApplicationSubmitted"
	EventTypeApprovalDecided      = "ApprovalDecided"
	EventTypeVoteMessagePosted    = "VoteMessagePosted"
	EventTypeRatificationDecided  = "RatificationDecided"
)

// ApplicationSubmittedEvent is raised once the staff vote message is posted
type ApplicationSubmittedEvent struct {
	shared.BaseDomainEvent
	ApplicationID   int64  `json:"application_id"`
	CommunityName   string `json:"community_name"`
	RequesterID     string `json:"requester_id"`
	ApprovalMessage string `json:"approval_message"`
}

// NewApplicationSubmittedEvent creates a new ApplicationSubmittedEvent
func NewApplicationSubmittedEvent(app *Application) *ApplicationSubmittedEvent {
	return &ApplicationSubmittedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeApplicationSubmitted, AggregateTypeApplication, app.ID, app.SubmittedAt),
		ApplicationID:   app.ID,
		CommunityName:   app.CommunityName,
		RequesterID:     app.RequesterID,
		ApprovalMessage: app.ApprovalMessage.String(),
	}
}

// ApprovalDecidedEvent is raised when the staff vote is settled
type ApprovalDecidedEvent struct {
	shared.BaseDomainEvent
	ApplicationID   int64   `json:"application_id"`
	CommunityName   string  `json:"community_name"`
	Outcome         Outcome `json:"outcome"`
	Note            string  `json:"note,omitempty"`
	ApprovalMessage string  `json:"approval_message"`
}

// NewApprovalDecidedEvent creates a new ApprovalDecidedEvent
func NewApprovalDecidedEvent(app *Application, at time.Time) *ApprovalDecidedEvent {
	return &ApprovalDecidedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeApprovalDecided, AggregateTypeApplication, app.ID, at),
		ApplicationID:   app.ID,
		CommunityName:   app.CommunityName,
		Outcome:         app.ApprovalOutcome,
		Note:            app.DecisionNote,
		ApprovalMessage: app.ApprovalMessage.String(),
	}
}

// VoteMessagePostedEvent is raised when a public vote message is posted or replaced
type VoteMessagePostedEvent struct {
	shared.BaseDomainEvent
	ApplicationID int64  `json:"application_id"`
	VoteMessage   string `json:"vote_message"`
}

// NewVoteMessagePostedEvent creates a new VoteMessagePostedEvent
func NewVoteMessagePostedEvent(app *Application, at time.Time) *VoteMessagePostedEvent {
	return &VoteMessagePostedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeVoteMessagePosted, AggregateTypeApplication, app.ID, at),
		ApplicationID:   app.ID,
		VoteMessage:     app.VoteMessage.String(),
	}
}

// RatificationDecidedEvent is raised when the public vote is settled
type RatificationDecidedEvent struct {
	shared.BaseDomainEvent
	ApplicationID int64   `json:"application_id"`
	CommunityName string  `json:"community_name"`
	Outcome       Outcome `json:"outcome"`
	Approvals     int     `json:"approvals"`
	Denies        int     `json:"denies"`
	Note          string  `json:"note,omitempty"`
	VoteMessage   string  `json:"vote_message"`
	OpenFor       string  `json:"open_for"`
}

// NewRatificationDecidedEvent creates a new RatificationDecidedEvent
func NewRatificationDecidedEvent(app *Application, at time.Time) *RatificationDecidedEvent {
	return &RatificationDecidedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeRatificationDecided, AggregateTypeApplication, app.ID, at),
		ApplicationID:   app.ID,
		CommunityName:   app.CommunityName,
		Outcome:         app.VoteOutcome,
		Approvals:       app.Votes.Approvals,
		Denies:          app.Votes.Denies,
		Note:            app.DecisionNote,
		VoteMessage:     app.VoteMessage.String(),
		OpenFor:         at.Sub(app.SubmittedAt).Round(time.Minute).String(),
	}
}
