package admission

import (
	"context"
	"maps"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/hotline/admissions/internal/domain/admission"
	"github.com/hotline/admissions/internal/domain/shared"
	"github.com/hotline/admissions/internal/infrastructure/cache"
	"github.com/hotline/admissions/internal/infrastructure/event"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	selfID          = "bot"
	approvalChannel = "approvals"
	voteChannel     = "votes"
)

// fakeMessage keeps reactions in the order they first appeared
type fakeMessage struct {
	channelID string
	order     []string
	users     map[string][]string
	me        map[string]bool
	card      admission.Card
}

type fakePlatform struct {
	mu       sync.Mutex
	messages map[string]*fakeMessage
	nextID   int

	posted      []admission.MessageLocator
	edits       int
	added       []string
	removedAll  []string
	dms         map[string][]string
	channels    []string
	closed      []string
	roles       []string
	fetches     int
	fetchErr    error
	failFetch   map[string]error
	dmErr       error
	postErr     error
	roleErr     error
	fetchHook   func()
	channelsSeq int
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		messages:  make(map[string]*fakeMessage),
		failFetch: make(map[string]error),
		dms:       make(map[string][]string),
	}
}

func (p *fakePlatform) SelfID() string { return selfID }

func (p *fakePlatform) FetchMessage(_ context.Context, loc admission.MessageLocator) (admission.MessageSnapshot, error) {
	p.mu.Lock()
	hook := p.fetchHook
	p.fetches++
	if p.fetchErr != nil {
		err := p.fetchErr
		p.mu.Unlock()
		return admission.MessageSnapshot{}, err
	}
	if err, ok := p.failFetch[loc.String()]; ok {
		p.mu.Unlock()
		return admission.MessageSnapshot{}, err
	}
	msg, ok := p.messages[loc.String()]
	if !ok {
		p.mu.Unlock()
		return admission.MessageSnapshot{}, shared.ErrMessageNotFound
	}
	snap := admission.MessageSnapshot{Locator: loc}
	for _, emoji := range msg.order {
		r := admission.ReactionSnapshot{Emoji: emoji, Me: msg.me[emoji]}
		if r.Me {
			r.Users = append(r.Users, admission.Voter{ID: selfID, Bot: true})
		}
		for _, u := range msg.users[emoji] {
			r.Users = append(r.Users, admission.Voter{ID: u})
		}
		r.Count = len(r.Users)
		if r.Count == 0 {
			continue
		}
		snap.Reactions = append(snap.Reactions, r)
	}
	p.mu.Unlock()

	if hook != nil {
		hook()
	}
	return snap, nil
}

func (p *fakePlatform) AddReaction(_ context.Context, loc admission.MessageLocator, emoji string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	msg, ok := p.messages[loc.String()]
	if !ok {
		return shared.ErrMessageNotFound
	}
	msg.addEmoji(emoji)
	msg.me[emoji] = true
	p.added = append(p.added, loc.String()+" "+emoji)
	return nil
}

func (p *fakePlatform) RemoveAllReactions(_ context.Context, loc admission.MessageLocator) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	msg, ok := p.messages[loc.String()]
	if !ok {
		return shared.ErrMessageNotFound
	}
	msg.order = nil
	msg.users = make(map[string][]string)
	msg.me = make(map[string]bool)
	p.removedAll = append(p.removedAll, loc.String())
	return nil
}

func (p *fakePlatform) PostCard(_ context.Context, channelID string, card admission.Card) (admission.MessageLocator, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.postErr != nil {
		return admission.MessageLocator{}, p.postErr
	}
	p.nextID++
	loc := admission.MessageLocator{ChannelID: channelID, MessageID: "m" + strconv.Itoa(p.nextID)}
	p.messages[loc.String()] = &fakeMessage{
		channelID: channelID,
		users:     make(map[string][]string),
		me:        make(map[string]bool),
		card:      card,
	}
	p.posted = append(p.posted, loc)
	return loc, nil
}

func (p *fakePlatform) EditCard(_ context.Context, loc admission.MessageLocator, card admission.Card) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	msg, ok := p.messages[loc.String()]
	if !ok {
		return shared.ErrMessageNotFound
	}
	msg.card = card
	p.edits++
	return nil
}

func (p *fakePlatform) SendDirectMessage(_ context.Context, userID, content string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dmErr != nil {
		return p.dmErr
	}
	p.dms[userID] = append(p.dms[userID], content)
	return nil
}

func (p *fakePlatform) CreateDiscussionChannel(_ context.Context, name string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channelsSeq++
	p.channels = append(p.channels, name)
	return "discussion-" + strconv.Itoa(p.channelsSeq), nil
}

func (p *fakePlatform) CloseDiscussionChannel(_ context.Context, channelID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = append(p.closed, channelID)
	return nil
}

func (p *fakePlatform) CreateRole(_ context.Context, name string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.roleErr != nil {
		return "", p.roleErr
	}
	p.roles = append(p.roles, name)
	return "role-" + name, nil
}

// react adds a user's reaction; unreact removes it
func (p *fakePlatform) react(loc admission.MessageLocator, user, emoji string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	msg := p.messages[loc.String()]
	msg.addEmoji(emoji)
	msg.users[emoji] = append(msg.users[emoji], user)
}

func (p *fakePlatform) reactMany(loc admission.MessageLocator, emoji string, n int, prefix string) {
	for i := range n {
		p.react(loc, prefix+strconv.Itoa(i), emoji)
	}
}

func (p *fakePlatform) unreact(loc admission.MessageLocator, user, emoji string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	msg := p.messages[loc.String()]
	users := msg.users[emoji]
	for i, u := range users {
		if u == user {
			msg.users[emoji] = append(users[:i:i], users[i+1:]...)
			return
		}
	}
}

func (p *fakePlatform) deleteMessage(loc admission.MessageLocator) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.messages, loc.String())
}

func (p *fakePlatform) cardOf(loc admission.MessageLocator) admission.Card {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.messages[loc.String()].card
}

func (p *fakePlatform) dmsTo(user string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.dms[user]...)
}

func (p *fakePlatform) postedIn(channelID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, loc := range p.posted {
		if loc.ChannelID == channelID {
			n++
		}
	}
	return n
}

func (m *fakeMessage) addEmoji(emoji string) {
	for _, e := range m.order {
		if e == emoji {
			return
		}
	}
	m.order = append(m.order, emoji)
}

// memApps is an in-memory ApplicationRepository with optimistic locking
type memApps struct {
	mu       sync.Mutex
	rows     map[int64]admission.Application
	next     int64
	saveErr  error
	findErrs int
}

func newMemApps() *memApps {
	return &memApps{rows: make(map[int64]admission.Application)}
}

func clone(app *admission.Application) admission.Application {
	cp := *app
	cp.Votes.Ledger = maps.Clone(app.Votes.Ledger)
	cp.PullEvents()
	return cp
}

func (r *memApps) FindByID(_ context.Context, id int64) (*admission.Application, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	cp := clone(&row)
	return &cp, nil
}

func (r *memApps) FindByMessage(_ context.Context, loc admission.MessageLocator) (*admission.Application, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.ApprovalMessage == loc || row.VoteMessage == loc {
			cp := clone(&row)
			return &cp, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *memApps) list(keep func(*admission.Application) bool) []admission.Application {
	var out []admission.Application
	for _, row := range r.rows {
		if keep(&row) {
			out = append(out, clone(&row))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *memApps) FindOpen(_ context.Context, stage admission.Stage) ([]admission.Application, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErrs > 0 {
		r.findErrs--
		return nil, shared.ErrExternalUnavailable
	}
	return r.list(func(a *admission.Application) bool { return a.Stage() == stage }), nil
}

func (r *memApps) FindDecidedSince(_ context.Context, since time.Time) ([]admission.Application, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.list(func(a *admission.Application) bool {
		at := a.DecidedAt()
		return !a.IsOpen() && at != nil && !at.Before(since)
	}), nil
}

func (r *memApps) matches(a *admission.Application, f admission.ApplicationFilter) bool {
	if f.ApprovalOutcome != "" && a.ApprovalOutcome != f.ApprovalOutcome {
		return false
	}
	if f.VoteOutcome != "" && a.VoteOutcome != f.VoteOutcome {
		return false
	}
	if f.RequesterID != "" && a.RequesterID != f.RequesterID {
		return false
	}
	if open, _ := f.Filters["open"].(bool); open && !a.IsOpen() {
		return false
	}
	return true
}

func (r *memApps) FindAll(_ context.Context, f admission.ApplicationFilter) ([]admission.Application, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := r.list(func(a *admission.Application) bool { return r.matches(a, f) })
	start := min(f.Offset(), len(all))
	end := min(start+f.PageSize, len(all))
	return all[start:end], nil
}

func (r *memApps) Count(_ context.Context, f admission.ApplicationFilter) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.list(func(a *admission.Application) bool { return r.matches(a, f) }))), nil
}

func (r *memApps) Save(_ context.Context, app *admission.Application) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	if app.IsNew() {
		r.next++
		app.ID = r.next
		r.rows[app.ID] = clone(app)
		return nil
	}
	stored, ok := r.rows[app.ID]
	if !ok {
		return shared.ErrNotFound
	}
	if stored.Version != app.Version {
		return shared.ErrConcurrencyConflict
	}
	app.IncrementVersion()
	r.rows[app.ID] = clone(app)
	return nil
}

func (r *memApps) get(t *testing.T, id int64) *admission.Application {
	t.Helper()
	app, err := r.FindByID(context.Background(), id)
	require.NoError(t, err)
	return app
}

// memInvites is an in-memory InviteRepository
type memInvites struct {
	mu     sync.Mutex
	byApp  map[int64]*admission.Invite
	next   int64
	saveFn func(*admission.Invite) error
}

func newMemInvites() *memInvites {
	return &memInvites{byApp: make(map[int64]*admission.Invite)}
}

func (r *memInvites) FindByCode(_ context.Context, code string) (*admission.Invite, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inv := range r.byApp {
		if inv.Code == code {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *memInvites) FindByApplication(_ context.Context, applicationID int64) (*admission.Invite, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.byApp[applicationID]
	if !ok {
		return nil, shared.ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (r *memInvites) Save(_ context.Context, invite *admission.Invite) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveFn != nil {
		if err := r.saveFn(invite); err != nil {
			return err
		}
	}
	if invite.IsNew() {
		if _, exists := r.byApp[invite.ApplicationID]; exists {
			return shared.ErrAlreadyExists
		}
		r.next++
		invite.ID = r.next
	}
	cp := *invite
	r.byApp[invite.ApplicationID] = &cp
	return nil
}

// fakeClock is a settable clock
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	svc      *ReviewService
	apps     *memApps
	invites  *memInvites
	platform *fakePlatform
	store    *cache.InMemoryIdempotencyStore
	bus      *event.InMemoryEventBus
	clock    *fakeClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		apps:     newMemApps(),
		invites:  newMemInvites(),
		platform: newFakePlatform(),
		store:    cache.NewInMemoryIdempotencyStore(time.Minute),
		bus:      event.NewInMemoryEventBus(zaptest.NewLogger(t)),
		clock:    &fakeClock{now: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)},
	}
	t.Cleanup(func() { _ = h.store.Close() })

	engine := admission.NewDecisionEngine(admission.DefaultThresholds(), h.clock.Now)
	codes := 0
	svc, err := NewReviewService(h.apps, h.invites, h.platform, engine, h.bus, h.store, ServiceConfig{
		ApprovalChannelID: approvalChannel,
		VoteChannelID:     voteChannel,
		InviteBaseURL:     "https://apply.hotline.gg",
	}, zaptest.NewLogger(t), WithInviteCodeGenerator(func() (string, error) {
		codes++
		return "CODE" + strconv.Itoa(codes), nil
	}))
	require.NoError(t, err)
	h.svc = svc
	return h
}

// submit opens an application and returns it with its approval message posted
func (h *harness) submit(t *testing.T, name string) *admission.Application {
	t.Helper()
	resp, err := h.svc.Submit(context.Background(), SubmitApplicationRequest{
		RequesterID:   "requester-" + name,
		CommunityID:   "guild-" + name,
		CommunityName: name,
		InviteCode:    "inv-" + name,
		Reason:        "we would like to join",
	})
	require.NoError(t, err)
	return h.apps.get(t, resp.ID)
}

func (h *harness) refresh(t *testing.T, id int64) RunResult {
	t.Helper()
	result, err := h.svc.Refresh(context.Background(), id, TriggerReaction)
	require.NoError(t, err)
	return result
}

// approve takes an application through staff approval
func (h *harness) approve(t *testing.T, name string) *admission.Application {
	t.Helper()
	app := h.submit(t, name)
	h.platform.react(app.ApprovalMessage, "staff-1", admission.EmojiApprove)
	require.Equal(t, ResultDecided, h.refresh(t, app.ID))
	return h.apps.get(t, app.ID)
}
