package admission

import (
	"errors"
	"testing"
	"time"

	"github.com/hotline/admissions/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApplication(t *testing.T) *Application {
	t.Helper()
	app, err := NewApplication(SubmitParams{
		RequesterID:   "requester-1",
		CommunityID:   "guild-1",
		CommunityName: "  Café Hotline  ",
		InviteCode:    "abc123",
		Reason:        "friendly folks",
	}, testNow)
	require.NoError(t, err)
	app.ID = 42
	require.NoError(t, app.AttachApprovalMessage(MessageLocator{ChannelID: "staff", MessageID: "m1"}))
	app.PullEvents()
	return app
}

func approvedTestApplication(t *testing.T) *Application {
	t.Helper()
	app := newTestApplication(t)
	require.NoError(t, app.DecideApproval(OutcomeApproved, "", testNow))
	app.PullEvents()
	return app
}

func TestNewApplication(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		app := newTestApplication(t)
		assert.Equal(t, "Café Hotline", app.CommunityName)
		assert.Equal(t, OutcomeAwaiting, app.ApprovalOutcome)
		assert.Equal(t, OutcomeAwaiting, app.VoteOutcome)
		assert.Equal(t, StageApproval, app.Stage())
		assert.Equal(t, 1, app.Version)
	})

	tests := []struct {
		name   string
		params SubmitParams
		code   string
	}{
		{"missing requester", SubmitParams{CommunityID: "g", CommunityName: "n"}, "INVALID_REQUESTER"},
		{"missing community", SubmitParams{RequesterID: "r", CommunityName: "n"}, "INVALID_COMMUNITY"},
		{"blank name", SubmitParams{RequesterID: "r", CommunityID: "g", CommunityName: "  "}, "INVALID_COMMUNITY_NAME"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewApplication(tt.params, testNow)
			var domainErr *shared.DomainError
			require.ErrorAs(t, err, &domainErr)
			assert.Equal(t, tt.code, domainErr.Code)
		})
	}
}

func TestApplication_ApprovalIsDecidedOnce(t *testing.T) {
	app := newTestApplication(t)

	require.NoError(t, app.DecideApproval(OutcomeApproved, "", testNow))
	err := app.DecideApproval(OutcomeDenied, "", testNow)

	assert.ErrorIs(t, err, shared.ErrInvalidState)
	assert.Equal(t, OutcomeApproved, app.ApprovalOutcome)
	assert.Equal(t, StageRatification, app.Stage())
	require.Len(t, app.Events(), 1)
	assert.Equal(t, EventTypeApprovalDecided, app.Events()[0].EventType())
}

func TestApplication_VoteRequiresApproval(t *testing.T) {
	app := newTestApplication(t)

	err := app.DecideVote(OutcomeApproved, nil, "", testNow)

	assert.ErrorIs(t, err, shared.ErrInvalidState)
	assert.Equal(t, OutcomeAwaiting, app.VoteOutcome)
}

func TestApplication_DecideVote(t *testing.T) {
	app := approvedTestApplication(t)
	votes := votesOf(10, 2)

	require.NoError(t, app.DecideVote(OutcomeApproved, &votes, ReasonPlainApprove, testNow))

	assert.Equal(t, StageClosed, app.Stage())
	assert.Equal(t, 10, app.Votes.Approvals)
	events := app.Events()
	require.Len(t, events, 1)
	decided, ok := events[0].(*RatificationDecidedEvent)
	require.True(t, ok)
	assert.Equal(t, OutcomeApproved, decided.Outcome)
	assert.Equal(t, 2, decided.Denies)

	assert.ErrorIs(t, app.DecideVote(OutcomeDenied, nil, "", testNow), shared.ErrInvalidState)
}

func TestApplication_DecideVoteRejectsInconsistentLedger(t *testing.T) {
	app := approvedTestApplication(t)
	votes := VoteResults{Approvals: 5, Ledger: map[string]VoteKind{}}

	err := app.DecideVote(OutcomeApproved, &votes, "", testNow)

	assert.ErrorIs(t, err, shared.ErrInvariantViolation)
	assert.Equal(t, OutcomeAwaiting, app.VoteOutcome)
}

func TestApplication_RecordVotes(t *testing.T) {
	app := approvedTestApplication(t)

	changed, err := app.RecordVotes(votesOf(2, 1))
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = app.RecordVotes(votesOf(2, 1))
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = newTestApplication(t).RecordVotes(votesOf(1, 0))
	assert.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestApplication_RecordVotes_KeepsDriftedTally(t *testing.T) {
	tests := []struct {
		name   string
		stored VoteResults
	}{
		{"counts drifted from ledger", VoteResults{Approvals: 5, Ledger: map[string]VoteKind{}}},
		{"ledger unreadable", UnreadableVoteResults(2, 0, errors.New("invalid character 'b'"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := approvedTestApplication(t)
			app.Votes = tt.stored

			changed, err := app.RecordVotes(votesOf(1, 0))

			assert.ErrorIs(t, err, shared.ErrInvariantViolation)
			assert.False(t, changed)
			assert.Equal(t, tt.stored.Approvals, app.Votes.Approvals)
		})
	}
}

func TestApplication_DenyMissingApprovalMessage(t *testing.T) {
	app := newTestApplication(t)

	require.NoError(t, app.DenyMissingApprovalMessage(testNow))

	assert.Equal(t, OutcomeDenied, app.ApprovalOutcome)
	assert.Equal(t, ReasonApprovalMsgMissing, app.DecisionNote)
	assert.Equal(t, []Effect{EffectNotifyApproval}, app.PendingEffects())
	assert.Error(t, app.DenyMissingApprovalMessage(testNow))
}

func TestApplication_VoteMessageReplacement(t *testing.T) {
	app := approvedTestApplication(t)
	first := MessageLocator{ChannelID: "vote", MessageID: "v1"}
	second := MessageLocator{ChannelID: "vote", MessageID: "v2"}

	require.NoError(t, app.AttachVoteMessage(first, testNow))
	assert.ErrorIs(t, app.AttachVoteMessage(second, testNow), shared.ErrInvalidState)

	old, err := app.DetachVoteMessage()
	require.NoError(t, err)
	assert.Equal(t, first, old)
	assert.Contains(t, app.PendingEffects(), EffectPostPoll)

	require.NoError(t, app.AttachVoteMessage(second, testNow))
	assert.Equal(t, second, app.VoteMessage)
	assert.NotContains(t, app.PendingEffects(), EffectPostPoll)
}

func TestApplication_PendingEffects(t *testing.T) {
	now := testNow.Add(time.Minute)

	t.Run("awaiting approval owes nothing", func(t *testing.T) {
		assert.Empty(t, newTestApplication(t).PendingEffects())
	})

	t.Run("approval approved", func(t *testing.T) {
		app := approvedTestApplication(t)
		assert.Equal(t, []Effect{
			EffectAcknowledgeApproval, EffectPostPoll, EffectOpenDiscussion, EffectNotifyApproval,
		}, app.PendingEffects())

		app.MarkApprovalAcknowledged()
		require.NoError(t, app.AttachVoteMessage(MessageLocator{ChannelID: "vote", MessageID: "v1"}, now))
		require.NoError(t, app.MarkDiscussionOpened("disc-1"))
		app.MarkApprovalNotified(now)
		assert.Empty(t, app.PendingEffects())
	})

	t.Run("approval denied", func(t *testing.T) {
		app := newTestApplication(t)
		require.NoError(t, app.DecideApproval(OutcomeDenied, "", now))
		assert.Equal(t, []Effect{EffectAcknowledgeApproval, EffectNotifyApproval}, app.PendingEffects())
	})

	t.Run("vote approved", func(t *testing.T) {
		app := approvedTestApplication(t)
		app.MarkApprovalAcknowledged()
		app.MarkApprovalNotified(now)
		require.NoError(t, app.AttachVoteMessage(MessageLocator{ChannelID: "vote", MessageID: "v1"}, now))
		require.NoError(t, app.MarkDiscussionOpened("disc-1"))
		require.NoError(t, app.DecideVote(OutcomeApproved, nil, "", now))

		assert.Equal(t, []Effect{
			EffectIssueInvite, EffectProvisionRole, EffectCloseDiscussion, EffectNotifyVerdict, EffectFreezePoll,
		}, app.PendingEffects())

		require.NoError(t, app.MarkInviteIssued("CODE1234"))
		require.NoError(t, app.MarkRoleProvisioned("role-1"))
		app.MarkDiscussionClosed(now)
		app.MarkVoteNotified(now)
		app.MarkPollFrozen(now)
		assert.False(t, app.HasPendingEffects())
		assert.ErrorIs(t, app.MarkInviteIssued("OTHER"), shared.ErrInvalidState)
	})

	t.Run("vote denied", func(t *testing.T) {
		app := approvedTestApplication(t)
		app.MarkApprovalAcknowledged()
		app.MarkApprovalNotified(now)
		require.NoError(t, app.AttachVoteMessage(MessageLocator{ChannelID: "vote", MessageID: "v1"}, now))
		require.NoError(t, app.DecideVote(OutcomeDenied, nil, "", now))

		assert.Equal(t, []Effect{EffectNotifyVerdict, EffectFreezePoll}, app.PendingEffects())
	})
}
