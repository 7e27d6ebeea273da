package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hotline/admissions/internal/domain/admission"
	"github.com/hotline/admissions/internal/domain/shared"
	"github.com/hotline/admissions/internal/infrastructure/logger"
	"github.com/hotline/admissions/internal/infrastructure/telemetry"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
)

// What started a pipeline run
const (
	TriggerReaction  = "reaction"
	TriggerMessage   = "message"
	TriggerReconcile = "reconcile"
	TriggerManual    = "manual"
	TriggerSubmit    = "submit"
)

// RunResult is what a pipeline run did to an application
type RunResult string

const (
	ResultUnchanged     RunResult = "unchanged"
	ResultUpdated       RunResult = "updated"
	ResultDecided       RunResult = "decided"
	ResultRecovered     RunResult = "recovered"
	ResultDeniedMissing RunResult = "denied_missing"
	ResultCoalesced     RunResult = "coalesced"
	ResultError         RunResult = "error"
)

// ServiceConfig holds the guild layout and limits the review service works with
type ServiceConfig struct {
	ApprovalChannelID string
	VoteChannelID     string
	InviteBaseURL     string
	InviteMaxUses     int
	// RetryWindow is how long after a decision owed side effects are retried
	RetryWindow time.Duration
	// NotificationTTL is how long a sent DM is remembered by the idempotency store
	NotificationTTL time.Duration
}

func (c *ServiceConfig) applyDefaults() {
	if c.InviteMaxUses < 1 {
		c.InviteMaxUses = admission.DefaultInviteMaxUses
	}
	if c.RetryWindow <= 0 {
		c.RetryWindow = 7 * 24 * time.Hour
	}
	if c.NotificationTTL <= 0 {
		c.NotificationTTL = 30 * 24 * time.Hour
	}
}

// PassRunner runs a reconciliation pass on demand
type PassRunner interface {
	RunNow(ctx context.Context) (ReconcileReport, error)
}

// ReviewService drives applications through the approval and ratification votes
type ReviewService struct {
	apps       admission.ApplicationRepository
	invites    admission.InviteRepository
	platform   admission.Platform
	engine     *admission.DecisionEngine
	bus        shared.EventPublisher
	store      shared.IdempotencyStore
	metrics    *telemetry.ReviewMetrics
	logger     *zap.Logger
	config     ServiceConfig
	newCode    admission.CodeGenerator
	serializer *Serializer
	effects    *EffectsRunner
	reconciler *Reconciler
	passRunner PassRunner
}

// ReviewServiceOption configures optional collaborators
type ReviewServiceOption func(*ReviewService)

// WithReviewMetrics records decisions, pipeline runs and effects
func WithReviewMetrics(metrics *telemetry.ReviewMetrics) ReviewServiceOption {
	return func(s *ReviewService) {
		s.metrics = metrics
	}
}

// WithInviteCodeGenerator replaces the random invite code generator
func WithInviteCodeGenerator(gen admission.CodeGenerator) ReviewServiceOption {
	return func(s *ReviewService) {
		s.newCode = gen
	}
}

// NewReviewService creates a new review service
func NewReviewService(
	apps admission.ApplicationRepository,
	invites admission.InviteRepository,
	platform admission.Platform,
	engine *admission.DecisionEngine,
	bus shared.EventPublisher,
	store shared.IdempotencyStore,
	cfg ServiceConfig,
	logger *zap.Logger,
	opts ...ReviewServiceOption,
) (*ReviewService, error) {
	if cfg.ApprovalChannelID == "" || cfg.VoteChannelID == "" {
		return nil, shared.ErrConfigurationMissing.WithMessage("approval and vote channel ids are required")
	}
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &ReviewService{
		apps:       apps,
		invites:    invites,
		platform:   platform,
		engine:     engine,
		bus:        bus,
		store:      store,
		logger:     logger,
		config:     cfg,
		newCode:    admission.RandomInviteCode,
		serializer: NewSerializer(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		metrics, err := telemetry.NewReviewMetrics(noop.NewMeterProvider().Meter(telemetry.TracerName))
		if err != nil {
			return nil, err
		}
		s.metrics = metrics
	}

	s.effects = newEffectsRunner(s)
	s.reconciler = newReconciler(s)
	return s, nil
}

// Reconciler returns the reconciler bound to this service
func (s *ReviewService) Reconciler() *Reconciler {
	return s.reconciler
}

// SetPassRunner routes CheckOpenApplications through runner, normally the
// reconcile scheduler, so manual passes never overlap timed ones
func (s *ReviewService) SetPassRunner(runner PassRunner) {
	s.passRunner = runner
}

// Submit records a new application and posts the staff approval message
func (s *ReviewService) Submit(ctx context.Context, req SubmitApplicationRequest) (*ApplicationResponse, error) {
	app, err := admission.NewApplication(admission.SubmitParams{
		RequesterID:   req.RequesterID,
		CommunityID:   req.CommunityID,
		CommunityName: req.CommunityName,
		InviteCode:    req.InviteCode,
		Reason:        req.Reason,
	}, s.engine.Now())
	if err != nil {
		return nil, err
	}
	if err := s.apps.Save(ctx, app); err != nil {
		return nil, err
	}

	if err := s.postApprovalMessage(ctx, app); err != nil {
		s.logger.Warn("Approval message not posted, reconciliation will retry",
			zap.Int64("application_id", app.ID),
			zap.Error(err),
		)
	}

	s.logger.Info("Application submitted",
		zap.Int64("application_id", app.ID),
		zap.String("community", app.CommunityName),
		zap.String("requester_id", app.RequesterID),
	)
	response := ToApplicationResponse(app)
	return &response, nil
}

// GetApplication retrieves an application by id
func (s *ReviewService) GetApplication(ctx context.Context, id int64) (*ApplicationResponse, error) {
	app, err := s.apps.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	response := ToApplicationResponse(app)
	return &response, nil
}

// ListApplications lists applications with filtering and pagination
func (s *ReviewService) ListApplications(ctx context.Context, req ListApplicationsRequest) (shared.Paginated[ApplicationResponse], error) {
	filter := admission.DefaultApplicationFilter()
	if req.Page > 0 {
		filter.Page = req.Page
	}
	if req.PageSize > 0 {
		filter.PageSize = req.PageSize
	}
	if req.OrderBy != "" {
		filter.OrderBy = req.OrderBy
	}
	if req.OrderDir != "" {
		filter.OrderDir = req.OrderDir
	}
	if req.Approval != "" {
		outcome, ok := admission.ParseOutcome(req.Approval)
		if !ok {
			return shared.Paginated[ApplicationResponse]{}, shared.ErrInvalidInput.WithMessage("unknown approval outcome " + req.Approval)
		}
		filter.ApprovalOutcome = outcome
	}
	if req.Vote != "" {
		outcome, ok := admission.ParseOutcome(req.Vote)
		if !ok {
			return shared.Paginated[ApplicationResponse]{}, shared.ErrInvalidInput.WithMessage("unknown vote outcome " + req.Vote)
		}
		filter.VoteOutcome = outcome
	}
	filter.RequesterID = req.RequesterID
	if req.Open {
		filter.Filters["open"] = true
	}

	total, err := s.apps.Count(ctx, filter)
	if err != nil {
		return shared.Paginated[ApplicationResponse]{}, err
	}
	apps, err := s.apps.FindAll(ctx, filter)
	if err != nil {
		return shared.Paginated[ApplicationResponse]{}, err
	}
	return shared.NewPaginated(ToApplicationResponses(apps), total, filter.Page, filter.PageSize), nil
}

// ApproveOrDeny settles the application's open stage by hand, bypassing the tally.
// It waits for any pipeline run on the same application to finish first.
func (s *ReviewService) ApproveOrDeny(ctx context.Context, id int64, req DecisionRequest) (*ApplicationResponse, error) {
	outcome, ok := admission.ParseOutcome(req.Outcome)
	if !ok || !outcome.IsDecided() {
		return nil, shared.ErrInvalidInput.WithMessage("outcome must be approved or denied")
	}
	note := req.Note
	if note == "" {
		note = admission.ReasonManual
	}

	ctx = logger.WithTrigger(logger.WithApplicationID(ctx, id), TriggerManual)
	ctx, span := telemetry.StartServiceSpan(ctx, "ReviewService", "ApproveOrDeny",
		telemetry.WithAttribute(telemetry.SpanAttrApplicationID, id),
		telemetry.WithAttribute(telemetry.SpanAttrVerdict, outcome.String()),
	)
	defer span.End()

	var app *admission.Application
	err := s.serializer.Exclusive(ctx, id, func(ctx context.Context) error {
		var err error
		if app, err = s.apps.FindByID(ctx, id); err != nil {
			return err
		}

		now := s.engine.Now()
		stage := app.Stage()
		switch stage {
		case admission.StageApproval:
			err = app.DecideApproval(outcome, note, now)
		case admission.StageRatification:
			err = app.DecideVote(outcome, nil, note, now)
		default:
			err = shared.ErrInvalidState.WithMessage(fmt.Sprintf("application %d is already closed", id))
		}
		if err != nil {
			return err
		}
		if err := s.save(ctx, app); err != nil {
			return err
		}

		s.metrics.RecordDecision(ctx, stage.String(), outcome.String(), admission.ReasonManual)
		s.logger.Info("Application decided manually",
			zap.Int64("application_id", id),
			zap.String("stage", stage.String()),
			zap.String("outcome", outcome.String()),
			zap.String("note", note),
		)

		if err := s.effects.Run(ctx, app); err != nil {
			s.logger.Warn("Side effects incomplete, reconciliation will retry",
				zap.Int64("application_id", id),
				zap.Error(err),
			)
		}
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	response := ToApplicationResponse(app)
	return &response, nil
}

// GetVotes tallies the application's current vote message without changing anything
func (s *ReviewService) GetVotes(ctx context.Context, id int64) (*VotesResponse, error) {
	app, err := s.apps.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	stage := app.Stage()
	if stage == admission.StageClosed {
		stage = admission.StageApproval
		if !app.VoteMessage.IsZero() {
			stage = admission.StageRatification
		}
	}
	return s.votesFor(ctx, app, stage, app.MessageFor(stage))
}

// GetVotesByMessage tallies a review message identified by its locator
func (s *ReviewService) GetVotesByMessage(ctx context.Context, loc admission.MessageLocator) (*VotesResponse, error) {
	app, err := s.apps.FindByMessage(ctx, loc)
	if err != nil {
		return nil, err
	}
	stage := admission.StageApproval
	if app.VoteMessage == loc {
		stage = admission.StageRatification
	}
	return s.votesFor(ctx, app, stage, loc)
}

func (s *ReviewService) votesFor(ctx context.Context, app *admission.Application, stage admission.Stage, loc admission.MessageLocator) (*VotesResponse, error) {
	if loc.IsZero() {
		return nil, shared.ErrNotFound.WithMessage(fmt.Sprintf("application %d has no %s message", app.ID, stage))
	}
	snapshot, err := s.platform.FetchMessage(ctx, loc)
	if err != nil {
		return nil, err
	}
	ballot := admission.NewBallot(snapshot, s.platform.SelfID())
	verdict, err := s.engine.Decide(stage, ballot, app.SubmittedAt)
	if err != nil {
		return nil, err
	}
	votes := ballot.Votes
	response := toVotesResponse(app, stage, loc, votes, verdict)
	return &response, nil
}

// CheckOpenApplications runs a reconciliation pass immediately
func (s *ReviewService) CheckOpenApplications(ctx context.Context) (ReconcileReport, error) {
	if s.passRunner != nil {
		return s.passRunner.RunNow(ctx)
	}
	return s.reconciler.Reconcile(ctx)
}

// Refresh re-reads the application's vote message and applies whatever the
// tally says. Concurrent refreshes of one application are coalesced.
func (s *ReviewService) Refresh(ctx context.Context, id int64, trigger string) (RunResult, error) {
	var result RunResult
	ran, err := s.serializer.Trigger(ctx, id, func(ctx context.Context) error {
		r, err := s.run(ctx, id, trigger)
		// a follow-up run that changed nothing does not hide what the first one did
		if result == "" || r != ResultUnchanged {
			result = r
		}
		return err
	})
	if !ran {
		return ResultCoalesced, nil
	}
	return result, err
}

func (s *ReviewService) run(ctx context.Context, id int64, trigger string) (RunResult, error) {
	start := time.Now()
	ctx = logger.WithTrigger(logger.WithApplicationID(ctx, id), trigger)
	ctx, span := telemetry.StartServiceSpan(ctx, "ReviewService", "Refresh",
		telemetry.WithAttribute(telemetry.SpanAttrApplicationID, id),
		telemetry.WithAttribute(telemetry.SpanAttrTrigger, trigger),
	)
	defer span.End()

	result, err := s.pipeline(ctx, id)
	metricResult := string(result)
	if err != nil {
		telemetry.RecordError(span, err)
		metricResult = string(ResultError)
	}
	telemetry.SetAttributes(span, "pipeline.result", string(result))
	s.metrics.RecordPipelineRun(ctx, trigger, metricResult, time.Since(start))
	return result, err
}

// pipeline: fetch message, tally, decide, persist, then run owed side effects
func (s *ReviewService) pipeline(ctx context.Context, id int64) (RunResult, error) {
	app, err := s.apps.FindByID(ctx, id)
	if err != nil {
		return ResultError, err
	}
	if err := app.Votes.CheckConsistency(); err != nil {
		s.logger.Error("Stored tally is inconsistent, leaving application untouched",
			zap.Int64("application_id", id),
			zap.Int("approvals", app.Votes.Approvals),
			zap.Int("denies", app.Votes.Denies),
			zap.Error(err),
		)
		return ResultError, err
	}

	stage := app.Stage()
	if stage == admission.StageClosed {
		if !app.HasPendingEffects() {
			return ResultUnchanged, nil
		}
		return ResultUpdated, s.effects.Run(ctx, app)
	}

	loc := app.MessageFor(stage)
	if loc.IsZero() {
		return s.recoverUnposted(ctx, app, stage)
	}

	snapshot, err := s.platform.FetchMessage(ctx, loc)
	if errors.Is(err, shared.ErrMessageNotFound) {
		return s.handleMissingMessage(ctx, app, stage, loc)
	}
	if err != nil {
		return ResultError, err
	}
	s.seedReactions(ctx, loc, snapshot)

	ballot := admission.NewBallot(snapshot, s.platform.SelfID())
	votes := ballot.Votes
	verdict, err := s.engine.Decide(stage, ballot, app.SubmittedAt)
	if err != nil {
		s.logger.Error("Decision failed", zap.Int64("application_id", id), zap.Error(err))
		return ResultError, err
	}

	result := ResultUnchanged
	now := s.engine.Now()
	switch {
	case verdict.IsDecided() && stage == admission.StageApproval:
		err = app.DecideApproval(verdict.Outcome, "", now)
		result = ResultDecided
	case verdict.IsDecided():
		err = app.DecideVote(verdict.Outcome, &votes, "", now)
		result = ResultDecided
	case stage == admission.StageRatification:
		var changed bool
		if changed, err = app.RecordVotes(votes); changed {
			result = ResultUpdated
		}
	}
	if err != nil {
		s.logger.Error("Application rejected tally", zap.Int64("application_id", id), zap.Error(err))
		return ResultError, err
	}

	if result != ResultUnchanged {
		if err := s.save(ctx, app); err != nil {
			return ResultError, err
		}
	}

	log := s.logger.With(
		zap.Int64("application_id", id),
		zap.String("stage", stage.String()),
		zap.Int("approvals", votes.Approvals),
		zap.Int("denies", votes.Denies),
	)
	if result == ResultDecided {
		s.metrics.RecordDecision(ctx, stage.String(), verdict.Outcome.String(), verdict.Reason)
		log.Info("Stage decided", zap.String("outcome", verdict.Outcome.String()), zap.String("reason", verdict.Reason))
	} else {
		log.Debug("Stage still awaiting", zap.String("reason", verdict.Reason))
		if stage == admission.StageRatification && (result == ResultUpdated || logger.GetTrigger(ctx) == TriggerReconcile) {
			s.refreshVoteCard(ctx, app)
		}
	}

	if app.HasPendingEffects() {
		return result, s.effects.Run(ctx, app)
	}
	return result, nil
}

// recoverUnposted posts a review message that never made it out
func (s *ReviewService) recoverUnposted(ctx context.Context, app *admission.Application, stage admission.Stage) (RunResult, error) {
	if stage == admission.StageApproval {
		if err := s.postApprovalMessage(ctx, app); err != nil {
			return ResultError, err
		}
		return ResultRecovered, nil
	}
	return ResultRecovered, s.effects.Run(ctx, app)
}

// handleMissingMessage applies the policy for a review message that was deleted:
// a lost approval message denies the application, a lost vote message is reposted
func (s *ReviewService) handleMissingMessage(ctx context.Context, app *admission.Application, stage admission.Stage, loc admission.MessageLocator) (RunResult, error) {
	now := s.engine.Now()
	log := s.logger.With(zap.Int64("application_id", app.ID), zap.String("message", loc.String()))

	if stage == admission.StageApproval {
		if err := app.DenyMissingApprovalMessage(now); err != nil {
			return ResultError, err
		}
		if err := s.save(ctx, app); err != nil {
			return ResultError, err
		}
		s.metrics.RecordDecision(ctx, stage.String(), admission.OutcomeDenied.String(), admission.ReasonApprovalMsgMissing)
		log.Warn("Approval message missing, application denied")
		return ResultDeniedMissing, s.effects.Run(ctx, app)
	}

	if _, err := app.DetachVoteMessage(); err != nil {
		return ResultError, err
	}
	if err := s.save(ctx, app); err != nil {
		return ResultError, err
	}
	log.Warn("Vote message missing, posting a new one")
	return ResultRecovered, s.effects.Run(ctx, app)
}

func (s *ReviewService) postApprovalMessage(ctx context.Context, app *admission.Application) error {
	loc, err := s.platform.PostCard(ctx, s.config.ApprovalChannelID, approvalCard(app))
	if err != nil {
		return err
	}
	if err := app.AttachApprovalMessage(loc); err != nil {
		return err
	}
	if err := s.save(ctx, app); err != nil {
		return err
	}
	s.seedReactions(ctx, loc, admission.MessageSnapshot{Locator: loc})
	return nil
}

// seedReactions puts the bot's ✅ and ❌ back on a review message
func (s *ReviewService) seedReactions(ctx context.Context, loc admission.MessageLocator, snapshot admission.MessageSnapshot) {
	for _, emoji := range []string{admission.EmojiApprove, admission.EmojiDeny} {
		if snapshot.SelfReacted(emoji) {
			continue
		}
		if err := s.platform.AddReaction(ctx, loc, emoji); err != nil {
			s.logger.Warn("Failed to seed reaction",
				zap.String("message", loc.String()),
				zap.String("emoji", emoji),
				zap.Error(err),
			)
		}
	}
}

func (s *ReviewService) refreshVoteCard(ctx context.Context, app *admission.Application) {
	card := voteCard(app, s.engine.Now(), s.engine.Thresholds().ReviewWindow)
	if err := s.platform.EditCard(ctx, app.VoteMessage, card); err != nil {
		s.logger.Warn("Failed to refresh vote message",
			zap.Int64("application_id", app.ID),
			zap.String("message", app.VoteMessage.String()),
			zap.Error(err),
		)
	}
}

// save persists the application and then publishes its pending domain events.
// A failing subscriber is logged; the state change already happened.
func (s *ReviewService) save(ctx context.Context, app *admission.Application) error {
	if err := s.apps.Save(ctx, app); err != nil {
		return err
	}
	events := app.PullEvents()
	if len(events) == 0 || s.bus == nil {
		return nil
	}
	if err := s.bus.Publish(ctx, events...); err != nil {
		s.logger.Warn("Event subscribers failed",
			zap.Int64("application_id", app.ID),
			zap.Error(err),
		)
	}
	return nil
}
