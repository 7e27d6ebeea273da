package admission

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hotline/admissions/internal/domain/admission"
	"github.com/hotline/admissions/internal/domain/shared"
	"go.uber.org/zap"
)

// Refresher runs the review pipeline for one application
type Refresher interface {
	Refresh(ctx context.Context, id int64, trigger string) (RunResult, error)
}

// RouterConfig configures the event router
type RouterConfig struct {
	ApprovalChannelID string
	VoteChannelID     string
	SelfID            string
	// Debounce delays the handling of a newly created message
	Debounce time.Duration
	// HandlerTimeout bounds one pipeline run started by an event
	HandlerTimeout time.Duration
}

// Router turns gateway events into pipeline runs.
//
// Only the approval and vote channels are watched and the bot's own
// reactions are dropped. Reactions resolve their application through the
// Tracker, falling back to the repository. New messages are handled after
// Debounce so the poster has time to store the locator.
type Router struct {
	source    admission.EventSource
	refresher Refresher
	apps      admission.ApplicationRepository
	tracker   *Tracker
	config    RouterConfig
	logger    *zap.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
	wg      sync.WaitGroup
	running atomic.Bool
	base    context.Context
	cancel  context.CancelFunc
	stop    func()
}

// NewRouter creates a new event router
func NewRouter(source admission.EventSource, refresher Refresher, apps admission.ApplicationRepository, cfg RouterConfig, logger *zap.Logger) *Router {
	if cfg.Debounce < 0 {
		cfg.Debounce = 0
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		source:    source,
		refresher: refresher,
		apps:      apps,
		tracker:   NewTracker(),
		config:    cfg,
		logger:    logger.Named("router"),
		pending:   make(map[string]*time.Timer),
	}
}

// Start tracks the messages of every open application and begins listening
func (r *Router) Start(ctx context.Context) error {
	if r.running.Load() {
		return nil
	}
	for _, stage := range []admission.Stage{admission.StageApproval, admission.StageRatification} {
		open, err := r.apps.FindOpen(ctx, stage)
		if err != nil {
			return err
		}
		for i := range open {
			r.tracker.Track(open[i].MessageFor(stage), open[i].ID)
		}
	}

	r.base, r.cancel = context.WithCancel(context.WithoutCancel(ctx))
	r.running.Store(true)
	r.stop = r.source.Listen(r.Handle)
	r.logger.Info("Event router started", zap.Int("tracked_messages", r.tracker.Len()))
	return nil
}

// Stop stops listening, drops pending debounced messages and waits for
// in-flight runs until ctx ends
func (r *Router) Stop(ctx context.Context) error {
	if !r.running.CompareAndSwap(true, false) {
		return nil
	}
	r.stop()

	r.mu.Lock()
	for key, timer := range r.pending {
		timer.Stop()
		delete(r.pending, key)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	defer r.cancel()

	select {
	case <-done:
		r.logger.Info("Event router stopped")
		return nil
	case <-ctx.Done():
		r.logger.Warn("Event router stop timed out, cancelling in-flight runs")
		return ctx.Err()
	}
}

// Track registers a review message of an application
func (r *Router) Track(loc admission.MessageLocator, applicationID int64) {
	r.tracker.Track(loc, applicationID)
}

// Untrack forgets an application's messages and cancels their debounced handling
func (r *Router) Untrack(applicationID int64) {
	locs := r.tracker.Untrack(applicationID)

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, loc := range locs {
		if timer, ok := r.pending[loc.String()]; ok {
			timer.Stop()
			delete(r.pending, loc.String())
		}
	}
}

// Handle routes one gateway event
func (r *Router) Handle(ev admission.GatewayEvent) {
	if !r.running.Load() || !r.watched(ev.Locator.ChannelID) {
		return
	}
	switch ev.Kind {
	case admission.GatewayMessageCreated:
		r.debounce(ev.Locator)
	case admission.GatewayReactionAdded, admission.GatewayReactionRemoved:
		if ev.UserID == r.config.SelfID {
			return
		}
		if ev.Emoji != admission.EmojiApprove && ev.Emoji != admission.EmojiDeny {
			return
		}
		r.dispatch(ev.Locator, TriggerReaction)
	}
}

func (r *Router) watched(channelID string) bool {
	return channelID != "" && (channelID == r.config.ApprovalChannelID || channelID == r.config.VoteChannelID)
}

// debounce schedules a message; a second event for the same message restarts the delay
func (r *Router) debounce(loc admission.MessageLocator) {
	key := loc.String()

	r.mu.Lock()
	defer r.mu.Unlock()
	if timer, ok := r.pending[key]; ok {
		timer.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(r.config.Debounce, func() {
		r.mu.Lock()
		current := r.pending[key]
		if current == timer {
			delete(r.pending, key)
		}
		r.mu.Unlock()
		if current == timer {
			r.dispatch(loc, TriggerMessage)
		}
	})
	r.pending[key] = timer
}

// PendingMessages returns the number of messages waiting out their debounce
func (r *Router) PendingMessages() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Router) dispatch(loc admission.MessageLocator, trigger string) {
	// Stop flips running before taking mu, so no Add can race its Wait
	r.mu.Lock()
	if !r.running.Load() {
		r.mu.Unlock()
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(r.base, r.config.HandlerTimeout)
		defer cancel()

		id, ok := r.resolve(ctx, loc)
		if !ok {
			return
		}
		result, err := r.refresher.Refresh(ctx, id, trigger)
		if err != nil {
			r.logger.Warn("Pipeline run failed",
				zap.Int64("application_id", id),
				zap.String("message", loc.String()),
				zap.String("trigger", trigger),
				zap.Error(err),
			)
			return
		}
		r.logger.Debug("Pipeline run finished",
			zap.Int64("application_id", id),
			zap.String("trigger", trigger),
			zap.String("result", string(result)),
		)
	}()
}

// resolve finds the open application that owns loc
func (r *Router) resolve(ctx context.Context, loc admission.MessageLocator) (int64, bool) {
	if id, ok := r.tracker.Lookup(loc); ok {
		return id, true
	}
	app, err := r.apps.FindByMessage(ctx, loc)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			r.logger.Warn("Failed to resolve message", zap.String("message", loc.String()), zap.Error(err))
		}
		return 0, false
	}
	if !app.IsOpen() {
		return 0, false
	}
	r.tracker.Track(loc, app.ID)
	return app.ID, true
}
