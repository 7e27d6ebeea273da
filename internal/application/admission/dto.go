package admission

import (
	"time"

	"github.com/hotline/admissions/internal/domain/admission"
)

// SubmitApplicationRequest represents a request to open a new application
type SubmitApplicationRequest struct {
	RequesterID   string `json:"requester_id" binding:"required,snowflake"`
	CommunityID   string `json:"community_id" binding:"required,snowflake"`
	CommunityName string `json:"community_name" binding:"required,min=1,max=100"`
	InviteCode    string `json:"invite_code" binding:"max=100"`
	Reason        string `json:"reason" binding:"max=2000"`
}

// DecisionRequest represents a manual staff decision
type DecisionRequest struct {
	Outcome string `json:"outcome" binding:"required,oneof=approved denied APPROVED DENIED approve deny"`
	Note    string `json:"note" binding:"max=500"`
}

// ListApplicationsRequest represents the query of an application listing
type ListApplicationsRequest struct {
	Approval    string `form:"approval"`
	Vote        string `form:"vote"`
	RequesterID string `form:"requester_id"`
	Open        bool   `form:"open"`
	Page        int    `form:"page" binding:"omitempty,min=1"`
	PageSize    int    `form:"page_size" binding:"omitempty,min=1,max=100"`
	OrderBy     string `form:"order_by"`
	OrderDir    string `form:"order_dir" binding:"omitempty,oneof=asc desc"`
}

// VotesResponse is the live count of an application's vote message
type VotesResponse struct {
	ApplicationID int64             `json:"application_id"`
	Stage         string            `json:"stage"`
	Message       string            `json:"message"`
	Approvals     int               `json:"approvals"`
	Denies        int               `json:"denies"`
	Voters        map[string]string `json:"voters"`
	Fingerprint   string            `json:"fingerprint"`
	Verdict       string            `json:"verdict"`
	Reason        string            `json:"reason"`
}

// ApplicationResponse represents an application in API responses
type ApplicationResponse struct {
	ID            int64  `json:"id"`
	RequesterID   string `json:"requester_id"`
	CommunityID   string `json:"community_id"`
	CommunityName string `json:"community_name"`
	InviteCode    string `json:"invite_code"`
	Reason        string `json:"reason"`
	Stage         string `json:"stage"`

	ApprovalOutcome   string     `json:"approval_outcome"`
	ApprovalMessage   string     `json:"approval_message,omitempty"`
	SubmittedAt       time.Time  `json:"submitted_at"`
	ApprovalDecidedAt *time.Time `json:"approval_decided_at,omitempty"`

	VoteOutcome   string     `json:"vote_outcome"`
	VoteMessage   string     `json:"vote_message,omitempty"`
	VoteDecidedAt *time.Time `json:"vote_decided_at,omitempty"`
	Approvals     int        `json:"approvals"`
	Denies        int        `json:"denies"`

	DecisionNote        string   `json:"decision_note,omitempty"`
	DiscussionChannelID string   `json:"discussion_channel_id,omitempty"`
	IssuedInviteCode    string   `json:"issued_invite_code,omitempty"`
	RoleID              string   `json:"role_id,omitempty"`
	PendingEffects      []string `json:"pending_effects"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version"`
}

// ReconcileReport summarizes one reconciliation pass
type ReconcileReport struct {
	Scanned       int           `json:"scanned"`
	Decided       int           `json:"decided"`
	Recovered     int           `json:"recovered"`
	DeniedMissing int           `json:"denied_missing"`
	Failed        int           `json:"failed"`
	Coalesced     int           `json:"coalesced"`
	Duration      time.Duration `json:"duration"`
}

// ToApplicationResponse converts a domain Application to ApplicationResponse
func ToApplicationResponse(app *admission.Application) ApplicationResponse {
	effects := app.PendingEffects()
	pending := make([]string, 0, len(effects))
	for _, e := range effects {
		pending = append(pending, e.String())
	}
	return ApplicationResponse{
		ID:                  app.ID,
		RequesterID:         app.RequesterID,
		CommunityID:         app.CommunityID,
		CommunityName:       app.CommunityName,
		InviteCode:          app.InviteCode,
		Reason:              app.Reason,
		Stage:               app.Stage().String(),
		ApprovalOutcome:     app.ApprovalOutcome.String(),
		ApprovalMessage:     app.ApprovalMessage.String(),
		SubmittedAt:         app.SubmittedAt,
		ApprovalDecidedAt:   app.ApprovalDecidedAt,
		VoteOutcome:         app.VoteOutcome.String(),
		VoteMessage:         app.VoteMessage.String(),
		VoteDecidedAt:       app.VoteDecidedAt,
		Approvals:           app.Votes.Approvals,
		Denies:              app.Votes.Denies,
		DecisionNote:        app.DecisionNote,
		DiscussionChannelID: app.DiscussionChannelID,
		IssuedInviteCode:    app.IssuedInviteCode,
		RoleID:              app.RoleID,
		PendingEffects:      pending,
		CreatedAt:           app.CreatedAt,
		UpdatedAt:           app.UpdatedAt,
		Version:             app.Version,
	}
}

// ToApplicationResponses converts a slice of applications
func ToApplicationResponses(apps []admission.Application) []ApplicationResponse {
	out := make([]ApplicationResponse, len(apps))
	for i := range apps {
		out[i] = ToApplicationResponse(&apps[i])
	}
	return out
}

func toVotesResponse(app *admission.Application, stage admission.Stage, loc admission.MessageLocator, votes admission.VoteResults, verdict admission.Verdict) VotesResponse {
	voters := make(map[string]string, len(votes.Ledger))
	for id, kind := range votes.Ledger {
		voters[id] = string(kind)
	}
	return VotesResponse{
		ApplicationID: app.ID,
		Stage:         stage.String(),
		Message:       loc.String(),
		Approvals:     votes.Approvals,
		Denies:        votes.Denies,
		Voters:        voters,
		Fingerprint:   votes.Fingerprint(),
		Verdict:       verdict.Outcome.String(),
		Reason:        verdict.Reason,
	}
}
