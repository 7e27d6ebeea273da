package models

import (
	"encoding/json"
	"time"

	"github.com/hotline/admissions/internal/domain/admission"
	"go.uber.org/zap"
)

// modelLogger resolves the global logger at call time so it picks up the one
// cmd/server installs
func modelLogger() *zap.Logger {
	return zap.L().Named("admission.models")
}

// ApplicationModel is the persistence model for the Application aggregate.
// Message locators are stored in their "channelId:messageId" form.
type ApplicationModel struct {
	AggregateModel
	RequesterID   string `gorm:"type:varchar(32);not null;index"`
	CommunityID   string `gorm:"type:varchar(32);not null"`
	CommunityName string `gorm:"type:varchar(100);not null"`
	InviteCode    string `gorm:"type:varchar(64)"`
	Reason        string `gorm:"type:text"`

	ApprovalOutcome   string     `gorm:"type:varchar(16);not null;default:'AWAITING';index"`
	ApprovalMessage   string     `gorm:"type:varchar(80);index"`
	SubmittedAt       time.Time  `gorm:"not null"`
	ApprovalDecidedAt *time.Time `gorm:"index"`

	VoteOutcome   string     `gorm:"type:varchar(16);not null;default:'AWAITING';index"`
	VoteMessage   string     `gorm:"type:varchar(80);index"`
	VoteDecidedAt *time.Time `gorm:"index"`
	VoteApprovals int        `gorm:"not null;default:0"`
	VoteDenies    int        `gorm:"not null;default:0"`
	LedgerJSON    string     `gorm:"column:vote_ledger;type:text;not null;default:'{}'"`

	DecisionNote string `gorm:"type:varchar(200)"`

	DiscussionChannelID string `gorm:"type:varchar(32)"`
	IssuedInviteCode    string `gorm:"type:varchar(32)"`
	RoleID              string `gorm:"type:varchar(32)"`

	ApprovalAcknowledged bool `gorm:"not null;default:false"`
	ApprovalNotifiedAt   *time.Time
	VoteNotifiedAt       *time.Time
	DiscussionClosedAt   *time.Time
	PollFrozenAt         *time.Time
}

// TableName returns the table name for GORM
func (ApplicationModel) TableName() string {
	return "applications"
}

// ToDomain converts the persistence model to a domain Application.
//
// Counts are taken from their own columns, not re-derived from the ledger,
// so a row whose counts drifted from its ledger, or whose ledger cannot be
// decoded, fails VoteResults.CheckConsistency. The review pipeline runs that
// check before tallying and leaves such a row untouched.
func (m *ApplicationModel) ToDomain() *admission.Application {
	app := &admission.Application{
		RequesterID:          m.RequesterID,
		CommunityID:          m.CommunityID,
		CommunityName:        m.CommunityName,
		InviteCode:           m.InviteCode,
		Reason:               m.Reason,
		ApprovalOutcome:      admission.Outcome(m.ApprovalOutcome),
		SubmittedAt:          m.SubmittedAt,
		ApprovalDecidedAt:    m.ApprovalDecidedAt,
		VoteOutcome:          admission.Outcome(m.VoteOutcome),
		VoteDecidedAt:        m.VoteDecidedAt,
		DecisionNote:         m.DecisionNote,
		DiscussionChannelID:  m.DiscussionChannelID,
		IssuedInviteCode:     m.IssuedInviteCode,
		RoleID:               m.RoleID,
		ApprovalAcknowledged: m.ApprovalAcknowledged,
		ApprovalNotifiedAt:   m.ApprovalNotifiedAt,
		VoteNotifiedAt:       m.VoteNotifiedAt,
		DiscussionClosedAt:   m.DiscussionClosedAt,
		PollFrozenAt:         m.PollFrozenAt,
	}
	m.PopulateAggregateRoot(&app.BaseAggregateRoot)

	app.ApprovalMessage = parseLocator(m.ID, "approval_message", m.ApprovalMessage)
	app.VoteMessage = parseLocator(m.ID, "vote_message", m.VoteMessage)

	app.Votes = admission.VoteResults{
		Approvals: m.VoteApprovals,
		Denies:    m.VoteDenies,
		Ledger:    make(map[string]admission.VoteKind),
	}
	if m.LedgerJSON != "" && m.LedgerJSON != "{}" {
		if err := json.Unmarshal([]byte(m.LedgerJSON), &app.Votes.Ledger); err != nil {
			modelLogger().Error("failed to parse vote_ledger JSON",
				zap.Int64("application_id", m.ID),
				zap.String("raw_json", m.LedgerJSON),
				zap.Error(err))
			app.Votes = admission.UnreadableVoteResults(m.VoteApprovals, m.VoteDenies, err)
		}
	}
	return app
}

// FromDomain populates the persistence model from a domain Application
func (m *ApplicationModel) FromDomain(app *admission.Application) {
	m.FromDomainAggregateRoot(app.BaseAggregateRoot)
	m.RequesterID = app.RequesterID
	m.CommunityID = app.CommunityID
	m.CommunityName = app.CommunityName
	m.InviteCode = app.InviteCode
	m.Reason = app.Reason
	m.ApprovalOutcome = string(app.ApprovalOutcome)
	m.ApprovalMessage = app.ApprovalMessage.String()
	m.SubmittedAt = app.SubmittedAt
	m.ApprovalDecidedAt = app.ApprovalDecidedAt
	m.VoteOutcome = string(app.VoteOutcome)
	m.VoteMessage = app.VoteMessage.String()
	m.VoteDecidedAt = app.VoteDecidedAt
	m.VoteApprovals = app.Votes.Approvals
	m.VoteDenies = app.Votes.Denies
	m.LedgerJSON = ledgerJSON(app.Votes.Ledger)
	m.DecisionNote = app.DecisionNote
	m.DiscussionChannelID = app.DiscussionChannelID
	m.IssuedInviteCode = app.IssuedInviteCode
	m.RoleID = app.RoleID
	m.ApprovalAcknowledged = app.ApprovalAcknowledged
	m.ApprovalNotifiedAt = app.ApprovalNotifiedAt
	m.VoteNotifiedAt = app.VoteNotifiedAt
	m.DiscussionClosedAt = app.DiscussionClosedAt
	m.PollFrozenAt = app.PollFrozenAt
}

// ApplicationModelFromDomain creates a new persistence model from a domain Application
func ApplicationModelFromDomain(app *admission.Application) *ApplicationModel {
	m := &ApplicationModel{}
	m.FromDomain(app)
	return m
}

// UpdateColumns returns the mutable columns for a versioned update.
// The caller adds the bumped version.
func (m *ApplicationModel) UpdateColumns() map[string]any {
	return map[string]any{
		"updated_at":            m.UpdatedAt,
		"approval_outcome":      m.ApprovalOutcome,
		"approval_message":      m.ApprovalMessage,
		"approval_decided_at":   m.ApprovalDecidedAt,
		"vote_outcome":          m.VoteOutcome,
		"vote_message":          m.VoteMessage,
		"vote_decided_at":       m.VoteDecidedAt,
		"vote_approvals":        m.VoteApprovals,
		"vote_denies":           m.VoteDenies,
		"vote_ledger":           m.LedgerJSON,
		"decision_note":         m.DecisionNote,
		"discussion_channel_id": m.DiscussionChannelID,
		"issued_invite_code":    m.IssuedInviteCode,
		"role_id":               m.RoleID,
		"approval_acknowledged": m.ApprovalAcknowledged,
		"approval_notified_at":  m.ApprovalNotifiedAt,
		"vote_notified_at":      m.VoteNotifiedAt,
		"discussion_closed_at":  m.DiscussionClosedAt,
		"poll_frozen_at":        m.PollFrozenAt,
	}
}

func ledgerJSON(ledger map[string]admission.VoteKind) string {
	if len(ledger) == 0 {
		return "{}"
	}
	// map keys are marshalled in sorted order, so equal ledgers give equal text
	b, err := json.Marshal(ledger)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func parseLocator(id int64, column, raw string) admission.MessageLocator {
	loc, err := admission.ParseMessageLocator(raw)
	if err != nil {
		modelLogger().Warn("failed to parse message locator",
			zap.Int64("application_id", id),
			zap.String("column", column),
			zap.String("raw", raw),
			zap.Error(err))
		return admission.MessageLocator{}
	}
	return loc
}
