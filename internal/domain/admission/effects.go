package admission

// Effect is an outward action owed by an application's current state
type Effect string

const (
	EffectAcknowledgeApproval Effect = "acknowledge_approval"
	EffectPostPoll            Effect = "post_poll"
	EffectOpenDiscussion      Effect = "open_discussion"
	EffectNotifyApproval      Effect = "notify_approval"
	EffectIssueInvite         Effect = "issue_invite"
	EffectProvisionRole       Effect = "provision_role"
	EffectCloseDiscussion     Effect = "close_discussion"
	EffectNotifyVerdict       Effect = "notify_verdict"
	EffectFreezePoll          Effect = "freeze_poll"
)

// String returns the string representation of Effect
func (e Effect) String() string {
	return string(e)
}

// PendingEffects lists the side effects the application still owes, in the
// order they should run. It is derived only from persisted fields, so a
// failed effect shows up again on the next pass.
func (a *Application) PendingEffects() []Effect {
	var effects []Effect

	switch a.ApprovalOutcome {
	case OutcomeApproved:
		if !a.ApprovalAcknowledged && !a.ApprovalMessage.IsZero() {
			effects = append(effects, EffectAcknowledgeApproval)
		}
		if a.VoteOutcome == OutcomeAwaiting {
			if a.VoteMessage.IsZero() {
				effects = append(effects, EffectPostPoll)
			}
			if a.DiscussionChannelID == "" {
				effects = append(effects, EffectOpenDiscussion)
			}
		}
		if a.ApprovalNotifiedAt == nil {
			effects = append(effects, EffectNotifyApproval)
		}
	case OutcomeDenied:
		if !a.ApprovalAcknowledged && !a.ApprovalMessage.IsZero() {
			effects = append(effects, EffectAcknowledgeApproval)
		}
		if a.ApprovalNotifiedAt == nil {
			effects = append(effects, EffectNotifyApproval)
		}
		return effects
	default:
		return effects
	}

	switch a.VoteOutcome {
	case OutcomeApproved:
		if a.IssuedInviteCode == "" {
			effects = append(effects, EffectIssueInvite)
		}
		if a.RoleID == "" {
			effects = append(effects, EffectProvisionRole)
		}
		effects = append(effects, a.settleEffects()...)
	case OutcomeDenied:
		effects = append(effects, a.settleEffects()...)
	}
	return effects
}

func (a *Application) settleEffects() []Effect {
	var effects []Effect
	if a.DiscussionChannelID != "" && a.DiscussionClosedAt == nil {
		effects = append(effects, EffectCloseDiscussion)
	}
	if a.VoteNotifiedAt == nil {
		effects = append(effects, EffectNotifyVerdict)
	}
	if a.PollFrozenAt == nil && !a.VoteMessage.IsZero() {
		effects = append(effects, EffectFreezePoll)
	}
	return effects
}

// HasPendingEffects reports whether any side effect is still owed
func (a *Application) HasPendingEffects() bool {
	return len(a.PendingEffects()) > 0
}
