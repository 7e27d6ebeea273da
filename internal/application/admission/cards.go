package admission

import (
	"fmt"
	"strconv"
	"time"

	"github.com/hotline/admissions/internal/domain/admission"
)

// approvalCard is the staff vote message posted on submission
func approvalCard(app *admission.Application) admission.Card {
	return admission.Card{
		Title:       "New Application Request From: " + mention(app.RequesterID),
		Description: app.CommunityName + "\n\n" + app.Reason,
		Fields: []admission.CardField{
			{Name: "Community ID", Value: app.CommunityID, Inline: true},
			{Name: "Invite", Value: app.InviteCode, Inline: true},
		},
		Footer:    "Application ID: " + strconv.FormatInt(app.ID, 10),
		Timestamp: app.SubmittedAt,
	}
}

// voteCard is the public vote message. It is edited as the tally moves.
func voteCard(app *admission.Application, now time.Time, window time.Duration) admission.Card {
	return admission.Card{
		Title:       app.CommunityName,
		Description: app.Reason,
		Fields: []admission.CardField{
			{Name: "Invite", Value: app.InviteCode, Inline: true},
			{Name: "Requester", Value: mention(app.RequesterID), Inline: true},
			{Name: "Votes", Value: strconv.Itoa(app.Votes.Total()), Inline: true},
		},
		Footer: fmt.Sprintf("Application ID: %d | Time Left: %s",
			app.ID, timeLeft(now, app.SubmittedAt.Add(window))),
		Timestamp: derefTime(app.ApprovalDecidedAt, app.SubmittedAt),
	}
}

// discussionCard opens the private discussion channel
func discussionCard(app *admission.Application) admission.Card {
	fields := []admission.CardField{
		{Name: "Requester", Value: mention(app.RequesterID), Inline: true},
		{Name: "Invite", Value: app.InviteCode, Inline: true},
	}
	if !app.VoteMessage.IsZero() {
		fields = append(fields, admission.CardField{Name: "Vote", Value: app.VoteMessage.String()})
	}
	return admission.Card{
		Title:       "Discussion: " + app.CommunityName,
		Description: app.Reason,
		Fields:      fields,
		Footer:      "Application ID: " + strconv.FormatInt(app.ID, 10),
		Timestamp:   app.SubmittedAt,
	}
}

// timeLeft renders the remaining review window, or "None" once it closed
func timeLeft(now, deadline time.Time) string {
	left := deadline.Sub(now)
	if left <= 0 {
		return "None"
	}
	left = left.Truncate(time.Minute)
	days := int(left / (24 * time.Hour))
	left -= time.Duration(days) * 24 * time.Hour
	hours := int(left / time.Hour)
	left -= time.Duration(hours) * time.Hour
	return fmt.Sprintf("%d days %d Hours %d Minutes", days, hours, int(left/time.Minute))
}

func mention(userID string) string {
	return "<@" + userID + ">"
}

func derefTime(t *time.Time, fallback time.Time) time.Time {
	if t == nil {
		return fallback
	}
	return *t
}

// approvalDecisionMessage is the DM sent when staff settle an application
func approvalDecisionMessage(app *admission.Application) string {
	if app.ApprovalOutcome == admission.OutcomeApproved {
		return fmt.Sprintf("Your application for %s has been approved by staff and is now up for a public vote.", app.CommunityName)
	}
	return fmt.Sprintf("Your application for %s has been denied", app.CommunityName)
}

// verdictMessage is the DM sent when the public vote is settled
func verdictMessage(app *admission.Application, inviteURL string, maxUses int) string {
	if app.VoteOutcome != admission.OutcomeApproved {
		return fmt.Sprintf("Your application for %s has been denied", app.CommunityName)
	}
	return fmt.Sprintf(`Your application for %s has passed!

Here is the permanent invite link for this.
Please pass this along to the people who want to join the server.
If you are also a member of this server, please click the link.

Please limit yourself to invite %d people. If you think you need more,
talk to the Discord Hotline Staff, and ask for permission.

%s
`, app.CommunityName, maxUses, inviteURL)
}
