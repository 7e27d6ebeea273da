package models

import (
	"testing"
	"time"

	"github.com/hotline/admissions/internal/domain/admission"
	"github.com/hotline/admissions/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestApplicationModel_TableName(t *testing.T) {
	assert.Equal(t, "applications", ApplicationModel{}.TableName())
	assert.Equal(t, "invites", InviteModel{}.TableName())
}

func TestApplicationModel_RoundTrip(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	app, err := admission.NewApplication(admission.SubmitParams{
		RequesterID:   "u1",
		CommunityID:   "c1",
		CommunityName: "Night Owls",
		Reason:        "we like late nights",
	}, now)
	require.NoError(t, err)
	app.ID = 7
	require.NoError(t, app.AttachApprovalMessage(admission.MessageLocator{ChannelID: "staff", MessageID: "m1"}))
	require.NoError(t, app.DecideApproval(admission.OutcomeApproved, "", now))
	require.NoError(t, app.AttachVoteMessage(admission.MessageLocator{ChannelID: "votes", MessageID: "m2"}, now))
	_, err = app.RecordVotes(admission.VoteResults{
		Approvals: 2,
		Denies:    1,
		Ledger:    map[string]admission.VoteKind{"a": admission.VoteApprove, "b": admission.VoteApprove, "c": admission.VoteDeny},
	})
	require.NoError(t, err)

	model := ApplicationModelFromDomain(app)
	assert.Equal(t, "staff:m1", model.ApprovalMessage)
	assert.Equal(t, "votes:m2", model.VoteMessage)
	assert.JSONEq(t, `{"a":"APPROVE","b":"APPROVE","c":"DENY"}`, model.LedgerJSON)

	back := model.ToDomain()
	assert.Equal(t, int64(7), back.ID)
	assert.Equal(t, app.Version, back.Version)
	assert.Equal(t, admission.OutcomeApproved, back.ApprovalOutcome)
	assert.Equal(t, admission.OutcomeAwaiting, back.VoteOutcome)
	assert.Equal(t, app.ApprovalMessage, back.ApprovalMessage)
	assert.Equal(t, app.VoteMessage, back.VoteMessage)
	assert.True(t, app.Votes.Equal(back.Votes))
	assert.NoError(t, back.Votes.CheckConsistency())
}

func TestApplicationModel_ToDomain_DriftedCounts(t *testing.T) {
	model := &ApplicationModel{
		ApprovalOutcome: "APPROVED",
		VoteOutcome:     "AWAITING",
		VoteApprovals:   5,
		LedgerJSON:      `{"a":"APPROVE"}`,
	}
	app := model.ToDomain()
	assert.Error(t, app.Votes.CheckConsistency())
}

func TestApplicationModel_ToDomain_BadJSON(t *testing.T) {
	model := &ApplicationModel{
		ApprovalOutcome: "AWAITING",
		VoteOutcome:     "AWAITING",
		ApprovalMessage: "not-a-locator",
		VoteApprovals:   3,
		LedgerJSON:      `{broken`,
	}
	core, logs := observer.New(zapcore.WarnLevel)
	defer zap.ReplaceGlobals(zap.New(core))()

	app := model.ToDomain()
	assert.True(t, app.ApprovalMessage.IsZero())
	assert.Empty(t, app.Votes.Ledger)
	assert.Equal(t, 3, app.Votes.Approvals)
	err := app.Votes.CheckConsistency()
	assert.ErrorIs(t, err, shared.ErrInvariantViolation)
	assert.Contains(t, err.Error(), "unreadable")

	assert.Equal(t, 1, logs.FilterMessage("failed to parse message locator").Len())
	ledgerLogs := logs.FilterMessage("failed to parse vote_ledger JSON").All()
	require.Len(t, ledgerLogs, 1)
	assert.Equal(t, zapcore.ErrorLevel, ledgerLogs[0].Level)
}

func TestInviteModel_RoundTrip(t *testing.T) {
	now := time.Now()
	inv, err := admission.NewInvite(3, "AbCd1234", 0, nil, now)
	require.NoError(t, err)

	back := InviteModelFromDomain(inv).ToDomain()
	assert.Equal(t, "AbCd1234", back.Code)
	assert.Equal(t, admission.DefaultInviteMaxUses, back.MaxUses)
	assert.Equal(t, int64(3), back.ApplicationID)
}
