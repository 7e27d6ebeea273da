package admission

import (
	"fmt"
	"strings"
	"time"

	"github.com/hotline/admissions/internal/domain/shared"
)

// Application is an admission request for one community.
//
// The approval outcome and the vote (ratification) outcome each leave
// AWAITING at most once. The vote outcome can only be decided after the
// approval outcome is APPROVED. Everything else on the record is either the
// current tally or a marker that some side effect already happened.
type Application struct {
	shared.BaseAggregateRoot

	RequesterID   string
	CommunityID   string
	CommunityName string
	InviteCode    string
	Reason        string

	ApprovalOutcome   Outcome
	ApprovalMessage   MessageLocator
	SubmittedAt       time.Time
	ApprovalDecidedAt *time.Time

	VoteOutcome   Outcome
	VoteMessage   MessageLocator
	VoteDecidedAt *time.Time
	Votes         VoteResults

	DecisionNote string

	DiscussionChannelID string
	IssuedInviteCode    string
	RoleID              string

	// Side effect markers
	ApprovalAcknowledged bool
	ApprovalNotifiedAt   *time.Time
	VoteNotifiedAt       *time.Time
	DiscussionClosedAt   *time.Time
	PollFrozenAt         *time.Time
}

// SubmitParams carries the requester's answers
type SubmitParams struct {
	RequesterID   string
	CommunityID   string
	CommunityName string
	InviteCode    string
	Reason        string
}

// NewApplication creates an application awaiting staff approval
func NewApplication(p SubmitParams, now time.Time) (*Application, error) {
	if strings.TrimSpace(p.RequesterID) == "" {
		return nil, shared.NewDomainError("INVALID_REQUESTER", "Requester cannot be empty")
	}
	if strings.TrimSpace(p.CommunityID) == "" {
		return nil, shared.NewDomainError("INVALID_COMMUNITY", "Community ID cannot be empty")
	}
	name := strings.TrimSpace(p.CommunityName)
	if name == "" {
		return nil, shared.NewDomainError("INVALID_COMMUNITY_NAME", "Community name cannot be empty")
	}
	if len(name) > 100 {
		return nil, shared.NewDomainError("INVALID_COMMUNITY_NAME", "Community name cannot exceed 100 characters")
	}

	app := &Application{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(now),
		RequesterID:       p.RequesterID,
		CommunityID:       p.CommunityID,
		CommunityName:     name,
		InviteCode:        strings.TrimSpace(p.InviteCode),
		Reason:            strings.TrimSpace(p.Reason),
		ApprovalOutcome:   OutcomeAwaiting,
		VoteOutcome:       OutcomeAwaiting,
		SubmittedAt:       now,
		Votes:             EmptyVoteResults(),
	}
	return app, nil
}

// Stage returns the vote the application is currently in
func (a *Application) Stage() Stage {
	switch {
	case a.ApprovalOutcome == OutcomeAwaiting:
		return StageApproval
	case a.ApprovalOutcome == OutcomeApproved && a.VoteOutcome == OutcomeAwaiting:
		return StageRatification
	}
	return StageClosed
}

// IsOpen reports whether some vote is still running
func (a *Application) IsOpen() bool {
	return a.Stage() != StageClosed
}

// MessageFor returns the locator of the message that carries the stage's vote
func (a *Application) MessageFor(stage Stage) MessageLocator {
	switch stage {
	case StageApproval:
		return a.ApprovalMessage
	case StageRatification:
		return a.VoteMessage
	}
	return MessageLocator{}
}

// AttachApprovalMessage records where the staff vote was posted
func (a *Application) AttachApprovalMessage(loc MessageLocator) error {
	if loc.IsZero() {
		return shared.NewDomainError("INVALID_LOCATOR", "Approval message locator cannot be empty")
	}
	if !a.ApprovalMessage.IsZero() {
		return shared.ErrInvalidState.WithMessage("approval message already attached")
	}
	a.ApprovalMessage = loc
	a.touch()
	a.RecordEvent(NewApplicationSubmittedEvent(a))
	return nil
}

// AttachVoteMessage records where the public vote was posted
func (a *Application) AttachVoteMessage(loc MessageLocator, at time.Time) error {
	if loc.IsZero() {
		return shared.NewDomainError("INVALID_LOCATOR", "Vote message locator cannot be empty")
	}
	if a.Stage() != StageRatification {
		return shared.ErrInvalidState.WithMessage("vote message can only be attached while the public vote is open")
	}
	if !a.VoteMessage.IsZero() {
		return shared.ErrInvalidState.WithMessage("vote message already attached")
	}
	a.VoteMessage = loc
	a.touch()
	a.RecordEvent(NewVoteMessagePostedEvent(a, at))
	return nil
}

// DetachVoteMessage forgets a vote message that no longer exists, so a new
// one gets posted. The ledger is kept until the new message is tallied.
func (a *Application) DetachVoteMessage() (MessageLocator, error) {
	if a.Stage() != StageRatification {
		return MessageLocator{}, shared.ErrInvalidState.WithMessage("vote message can only be replaced while the public vote is open")
	}
	old := a.VoteMessage
	a.VoteMessage = MessageLocator{}
	a.touch()
	return old, nil
}

// RecordVotes stores a fresh tally of the public vote.
// It reports whether the ledger changed. A stored tally that disagrees with
// its own ledger is never overwritten.
func (a *Application) RecordVotes(votes VoteResults) (bool, error) {
	if err := a.Votes.CheckConsistency(); err != nil {
		return false, err
	}
	if err := votes.CheckConsistency(); err != nil {
		return false, err
	}
	if a.Stage() != StageRatification {
		return false, shared.ErrInvalidState.WithMessage("votes are only recorded while the public vote is open")
	}
	if a.Votes.Ledger != nil && a.Votes.Equal(votes) {
		return false, nil
	}
	a.Votes = votes
	a.touch()
	return true, nil
}

// DecideApproval settles the staff vote
func (a *Application) DecideApproval(outcome Outcome, note string, at time.Time) error {
	if !a.ApprovalOutcome.CanTransitionTo(outcome) {
		return shared.ErrInvalidState.WithMessage(fmt.Sprintf("cannot move approval from %s to %s", a.ApprovalOutcome, outcome))
	}
	a.ApprovalOutcome = outcome
	a.ApprovalDecidedAt = &at
	if note != "" {
		a.DecisionNote = note
	}
	a.touch()
	a.RecordEvent(NewApprovalDecidedEvent(a, at))
	return nil
}

// DenyMissingApprovalMessage denies an application whose staff vote message
// vanished. There is nothing left to acknowledge.
func (a *Application) DenyMissingApprovalMessage(at time.Time) error {
	if err := a.DecideApproval(OutcomeDenied, ReasonApprovalMsgMissing, at); err != nil {
		return err
	}
	a.ApprovalAcknowledged = true
	return nil
}

// DecideVote settles the public vote. votes may be nil for a manual decision.
func (a *Application) DecideVote(outcome Outcome, votes *VoteResults, note string, at time.Time) error {
	if a.ApprovalOutcome != OutcomeApproved {
		return shared.ErrInvalidState.WithMessage("public vote cannot be decided before staff approval")
	}
	if !a.VoteOutcome.CanTransitionTo(outcome) {
		return shared.ErrInvalidState.WithMessage(fmt.Sprintf("cannot move vote from %s to %s", a.VoteOutcome, outcome))
	}
	if votes != nil {
		if err := votes.CheckConsistency(); err != nil {
			return err
		}
		a.Votes = *votes
	}
	a.VoteOutcome = outcome
	a.VoteDecidedAt = &at
	if note != "" {
		a.DecisionNote = note
	}
	a.touch()
	a.RecordEvent(NewRatificationDecidedEvent(a, at))
	return nil
}

// MarkApprovalAcknowledged records the acknowledgement reaction on the staff message
func (a *Application) MarkApprovalAcknowledged() {
	a.ApprovalAcknowledged = true
	a.touch()
}

// MarkApprovalNotified records that the requester got the staff decision
func (a *Application) MarkApprovalNotified(at time.Time) {
	a.ApprovalNotifiedAt = &at
	a.touch()
}

// MarkDiscussionOpened records the discussion channel
func (a *Application) MarkDiscussionOpened(channelID string) error {
	if a.DiscussionChannelID != "" {
		return shared.ErrInvalidState.WithMessage("discussion channel already exists")
	}
	a.DiscussionChannelID = channelID
	a.touch()
	return nil
}

// MarkDiscussionClosed records that the discussion channel was locked
func (a *Application) MarkDiscussionClosed(at time.Time) {
	a.DiscussionClosedAt = &at
	a.touch()
}

// MarkInviteIssued records the invite created for an approved community
func (a *Application) MarkInviteIssued(code string) error {
	if a.IssuedInviteCode != "" {
		return shared.ErrInvalidState.WithMessage("invite already issued")
	}
	a.IssuedInviteCode = code
	a.touch()
	return nil
}

// MarkRoleProvisioned records the community role
func (a *Application) MarkRoleProvisioned(roleID string) error {
	if a.RoleID != "" {
		return shared.ErrInvalidState.WithMessage("role already provisioned")
	}
	a.RoleID = roleID
	a.touch()
	return nil
}

// MarkVoteNotified records that the requester got the public vote result
func (a *Application) MarkVoteNotified(at time.Time) {
	a.VoteNotifiedAt = &at
	a.touch()
}

// MarkPollFrozen records that voting reactions were replaced by the settled marker
func (a *Application) MarkPollFrozen(at time.Time) {
	a.PollFrozenAt = &at
	a.touch()
}

// DecidedAt returns when the application reached its current closed state
func (a *Application) DecidedAt() *time.Time {
	if a.VoteDecidedAt != nil {
		return a.VoteDecidedAt
	}
	return a.ApprovalDecidedAt
}

func (a *Application) touch() {
	a.UpdatedAt = time.Now()
}
