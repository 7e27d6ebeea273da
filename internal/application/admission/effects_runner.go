package admission

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/hotline/admissions/internal/domain/admission"
	"github.com/hotline/admissions/internal/domain/shared"
	"github.com/hotline/admissions/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// EffectsRunner performs the side effects an application still owes and
// records each one on the aggregate as soon as it succeeded.
//
// A failed effect is logged and left pending; the next pipeline run or
// reconciliation pass tries it again. Outcomes are never rolled back.
type EffectsRunner struct {
	service *ReviewService
	logger  *zap.Logger
}

func newEffectsRunner(s *ReviewService) *EffectsRunner {
	return &EffectsRunner{service: s, logger: s.logger.Named("effects")}
}

// Run executes every pending effect of app in order
func (r *EffectsRunner) Run(ctx context.Context, app *admission.Application) error {
	var errs []error
	for _, effect := range app.PendingEffects() {
		err := r.runOne(ctx, app, effect)
		if err == nil {
			continue
		}
		if errors.Is(err, shared.ErrConcurrencyConflict) {
			// the aggregate is stale; whoever won will see the remaining effects
			return err
		}
		r.logger.Warn("Side effect failed",
			zap.Int64("application_id", app.ID),
			zap.String("effect", effect.String()),
			zap.Error(err),
		)
		errs = append(errs, fmt.Errorf("%s: %w", effect, err))
	}
	return errors.Join(errs...)
}

func (r *EffectsRunner) runOne(ctx context.Context, app *admission.Application, effect admission.Effect) error {
	ctx, span := telemetry.StartSpan(ctx, "effect."+effect.String(),
		telemetry.WithAttribute(telemetry.SpanAttrApplicationID, app.ID),
	)
	defer span.End()

	err := r.apply(ctx, app, effect)
	if err == nil {
		err = r.service.save(ctx, app)
	}
	if err != nil {
		telemetry.RecordError(span, err)
	}
	r.service.metrics.RecordEffect(ctx, effect.String(), err)
	return err
}

func (r *EffectsRunner) apply(ctx context.Context, app *admission.Application, effect admission.Effect) error {
	platform := r.service.platform
	now := r.service.engine.Now()

	switch effect {
	case admission.EffectAcknowledgeApproval:
		err := platform.AddReaction(ctx, app.ApprovalMessage, admission.EmojiAcknowledge)
		if err != nil && !errors.Is(err, shared.ErrMessageNotFound) {
			return err
		}
		app.MarkApprovalAcknowledged()
		return nil

	case admission.EffectPostPoll:
		return r.postPoll(ctx, app)

	case admission.EffectOpenDiscussion:
		channelID, err := platform.CreateDiscussionChannel(ctx,
			admission.ChannelSlug(app.CommunityName, "application-"+strconv.FormatInt(app.ID, 10)))
		if err != nil {
			return err
		}
		if err := app.MarkDiscussionOpened(channelID); err != nil {
			return err
		}
		if _, err := platform.PostCard(ctx, channelID, discussionCard(app)); err != nil {
			r.logger.Warn("Failed to post discussion card", zap.Int64("application_id", app.ID), zap.Error(err))
		}
		return nil

	case admission.EffectNotifyApproval:
		if err := r.notify(ctx, app, admission.StageApproval, approvalDecisionMessage(app)); err != nil {
			return err
		}
		app.MarkApprovalNotified(now)
		return nil

	case admission.EffectIssueInvite:
		return r.issueInvite(ctx, app)

	case admission.EffectProvisionRole:
		roleID, err := platform.CreateRole(ctx,
			admission.RoleName(app.CommunityName, "Community"+strconv.FormatInt(app.ID, 10)))
		if err != nil {
			return err
		}
		return app.MarkRoleProvisioned(roleID)

	case admission.EffectCloseDiscussion:
		if err := platform.CloseDiscussionChannel(ctx, app.DiscussionChannelID); err != nil {
			return err
		}
		app.MarkDiscussionClosed(now)
		return nil

	case admission.EffectNotifyVerdict:
		text, err := r.verdictText(ctx, app)
		if err != nil {
			return err
		}
		if err := r.notify(ctx, app, admission.StageRatification, text); err != nil {
			return err
		}
		app.MarkVoteNotified(now)
		return nil

	case admission.EffectFreezePoll:
		if err := r.freezePoll(ctx, app); err != nil {
			return err
		}
		app.MarkPollFrozen(now)
		return nil
	}
	return shared.ErrInvariantViolation.WithMessage("unknown effect " + effect.String())
}

// postPoll posts the public vote message and seeds it with ✅ and ❌
func (r *EffectsRunner) postPoll(ctx context.Context, app *admission.Application) error {
	s := r.service
	now := s.engine.Now()

	loc, err := s.platform.PostCard(ctx, s.config.VoteChannelID, voteCard(app, now, s.engine.Thresholds().ReviewWindow))
	if err != nil {
		return err
	}
	if err := app.AttachVoteMessage(loc, now); err != nil {
		return err
	}
	s.seedReactions(ctx, loc, admission.MessageSnapshot{Locator: loc})
	return nil
}

// notify sends a DM at most once per application and stage. The key is
// claimed first and released again if the send fails.
func (r *EffectsRunner) notify(ctx context.Context, app *admission.Application, stage admission.Stage, text string) error {
	s := r.service
	key := fmt.Sprintf("dm:%d:%s", app.ID, stage)

	claimed, err := s.store.MarkProcessed(ctx, key, s.config.NotificationTTL)
	switch {
	case err != nil:
		r.logger.Warn("Idempotency store unavailable, sending anyway", zap.String("key", key), zap.Error(err))
	case !claimed:
		r.logger.Debug("Notification already sent", zap.String("key", key))
		return nil
	}

	if err := s.platform.SendDirectMessage(ctx, app.RequesterID, text); err != nil {
		if ferr := s.store.Forget(ctx, key); ferr != nil {
			r.logger.Warn("Failed to release notification key", zap.String("key", key), zap.Error(ferr))
		}
		return err
	}
	r.logger.Info("Requester notified",
		zap.Int64("application_id", app.ID),
		zap.String("stage", stage.String()),
		zap.String("requester_id", app.RequesterID),
	)
	return nil
}

// issueInvite creates the application's invite, or adopts one that an
// earlier attempt stored before failing
func (r *EffectsRunner) issueInvite(ctx context.Context, app *admission.Application) error {
	s := r.service

	invite, err := s.invites.FindByApplication(ctx, app.ID)
	switch {
	case err == nil:
	case errors.Is(err, shared.ErrNotFound):
		code, err := s.newCode()
		if err != nil {
			return err
		}
		invite, err = admission.NewInvite(app.ID, code, s.config.InviteMaxUses, nil, s.engine.Now())
		if err != nil {
			return err
		}
		if err := s.invites.Save(ctx, invite); err != nil {
			if !errors.Is(err, shared.ErrAlreadyExists) {
				return err
			}
			if invite, err = s.invites.FindByApplication(ctx, app.ID); err != nil {
				return err
			}
		}
	default:
		return err
	}
	return app.MarkInviteIssued(invite.Code)
}

func (r *EffectsRunner) verdictText(ctx context.Context, app *admission.Application) (string, error) {
	s := r.service
	if app.VoteOutcome != admission.OutcomeApproved {
		return verdictMessage(app, "", 0), nil
	}
	if app.IssuedInviteCode == "" {
		return "", shared.ErrInvalidState.WithMessage("invite not issued yet")
	}
	invite, err := s.invites.FindByCode(ctx, app.IssuedInviteCode)
	if err != nil {
		return "", err
	}
	return verdictMessage(app, invite.URL(s.config.InviteBaseURL), invite.MaxUses), nil
}

// freezePoll swaps the voting reactions for the result and the settled marker.
// A message that is already gone has nothing left to freeze.
func (r *EffectsRunner) freezePoll(ctx context.Context, app *admission.Application) error {
	platform := r.service.platform
	result := admission.EmojiDeny
	if app.VoteOutcome == admission.OutcomeApproved {
		result = admission.EmojiApprove
	}

	steps := []func() error{
		func() error { return platform.RemoveAllReactions(ctx, app.VoteMessage) },
		func() error { return platform.AddReaction(ctx, app.VoteMessage, result) },
		func() error { return platform.AddReaction(ctx, app.VoteMessage, admission.EmojiSettled) },
	}
	for _, step := range steps {
		err := step()
		if errors.Is(err, shared.ErrMessageNotFound) {
			break
		}
		if err != nil {
			return err
		}
	}

	if !app.ApprovalMessage.IsZero() {
		err := platform.AddReaction(ctx, app.ApprovalMessage, admission.EmojiSettled)
		if err != nil && !errors.Is(err, shared.ErrMessageNotFound) {
			return err
		}
	}
	return nil
}
