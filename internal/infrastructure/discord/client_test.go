package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/hotline/admissions/internal/domain/admission"
	"github.com/hotline/admissions/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeSession struct {
	messages  map[string]*discordgo.Message
	reactions map[string][]*discordgo.User // keyed by emoji

	added       []string
	removedAll  int
	sent        map[string]string
	edited      *discordgo.MessageEmbed
	posted      *discordgo.MessageEmbed
	channelData discordgo.GuildChannelCreateData
	deletedPerm string
	roleParams  *discordgo.RoleParams
	pageCalls   int

	err error
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		messages:  make(map[string]*discordgo.Message),
		reactions: make(map[string][]*discordgo.User),
		sent:      make(map[string]string),
	}
}

func (f *fakeSession) ChannelMessage(channelID, messageID string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	msg, ok := f.messages[channelID+":"+messageID]
	if !ok {
		return nil, &discordgo.RESTError{
			Response: &http.Response{StatusCode: http.StatusNotFound},
			Message:  &discordgo.APIErrorMessage{Code: discordgo.ErrCodeUnknownMessage, Message: "Unknown Message"},
		}
	}
	return msg, nil
}

func (f *fakeSession) MessageReactions(_, _, emojiID string, limit int, _, afterID string, _ ...discordgo.RequestOption) ([]*discordgo.User, error) {
	f.pageCalls++
	users := f.reactions[emojiID]
	start := 0
	if afterID != "" {
		for i, u := range users {
			if u.ID == afterID {
				start = i + 1
			}
		}
	}
	end := min(start+limit, len(users))
	return users[start:end], nil
}

func (f *fakeSession) MessageReactionAdd(_, _, emojiID string, _ ...discordgo.RequestOption) error {
	f.added = append(f.added, emojiID)
	return f.err
}

func (f *fakeSession) MessageReactionsRemoveAll(_, _ string, _ ...discordgo.RequestOption) error {
	f.removedAll++
	return f.err
}

func (f *fakeSession) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.posted = embed
	return &discordgo.Message{ID: "900", ChannelID: channelID}, nil
}

func (f *fakeSession) ChannelMessageEditEmbed(channelID, messageID string, embed *discordgo.MessageEmbed, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.edited = embed
	return &discordgo.Message{ID: messageID, ChannelID: channelID}, f.err
}

func (f *fakeSession) UserChannelCreate(recipientID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &discordgo.Channel{ID: "dm-" + recipientID}, nil
}

func (f *fakeSession) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.sent[channelID] = content
	return &discordgo.Message{ID: "1", ChannelID: channelID}, nil
}

func (f *fakeSession) GuildChannelCreateComplex(_ string, data discordgo.GuildChannelCreateData, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.channelData = data
	return &discordgo.Channel{ID: "chan-1", Name: data.Name}, f.err
}

func (f *fakeSession) ChannelPermissionDelete(_, targetID string, _ ...discordgo.RequestOption) error {
	f.deletedPerm = targetID
	return f.err
}

func (f *fakeSession) GuildRoleCreate(_ string, data *discordgo.RoleParams, _ ...discordgo.RequestOption) (*discordgo.Role, error) {
	f.roleParams = data
	if f.err != nil {
		return nil, f.err
	}
	return &discordgo.Role{ID: "role-1", Name: data.Name}, nil
}

func newTestClient(t *testing.T, session *fakeSession) *Client {
	return NewClient(session, ClientConfig{
		SelfID:               "bot",
		GuildID:              "guild",
		DiscussionCategoryID: "category",
		ServerOwnerRoleID:    "owners",
		CallTimeout:          time.Second,
	}, zaptest.NewLogger(t))
}

func users(ids ...string) []*discordgo.User {
	out := make([]*discordgo.User, 0, len(ids))
	for _, id := range ids {
		out = append(out, &discordgo.User{ID: id, Bot: id == "bot"})
	}
	return out
}

func TestFetchMessage(t *testing.T) {
	session := newFakeSession()
	session.messages["votes:42"] = &discordgo.Message{
		ID:        "42",
		ChannelID: "votes",
		Reactions: []*discordgo.MessageReactions{
			{Count: 3, Me: true, Emoji: &discordgo.Emoji{Name: admission.EmojiApprove}},
			{Count: 2, Emoji: &discordgo.Emoji{Name: admission.EmojiDeny}},
			{Count: 4, Emoji: &discordgo.Emoji{Name: "🎉"}},
		},
	}
	session.reactions[admission.EmojiApprove] = users("bot", "u1", "u2")
	session.reactions[admission.EmojiDeny] = users("u3", "u1")

	client := newTestClient(t, session)
	snap, err := client.FetchMessage(context.Background(), admission.MessageLocator{ChannelID: "votes", MessageID: "42"})
	require.NoError(t, err)

	require.Len(t, snap.Reactions, 3)
	assert.True(t, snap.Reactions[0].Me)
	assert.Equal(t, 2, snap.Reactions[0].EffectiveCount())
	assert.Len(t, snap.Reactions[1].Users, 2)
	assert.Empty(t, snap.Reactions[2].Users, "other emoji are not paged")

	votes := admission.Tally(snap, client.SelfID())
	assert.Equal(t, 1, votes.Approvals)
	assert.Equal(t, 2, votes.Denies)
}

func TestFetchMessage_PagesReactions(t *testing.T) {
	session := newFakeSession()
	session.messages["votes:1"] = &discordgo.Message{
		ID:        "1",
		ChannelID: "votes",
		Reactions: []*discordgo.MessageReactions{
			{Count: 250, Emoji: &discordgo.Emoji{Name: admission.EmojiApprove}},
		},
	}
	ids := make([]string, 250)
	for i := range ids {
		ids[i] = fmt.Sprintf("u%03d", i)
	}
	session.reactions[admission.EmojiApprove] = users(ids...)

	snap, err := newTestClient(t, session).FetchMessage(context.Background(), admission.MessageLocator{ChannelID: "votes", MessageID: "1"})
	require.NoError(t, err)
	assert.Len(t, snap.Reactions[0].Users, 250)
	assert.Equal(t, 3, session.pageCalls)
}

func TestFetchMessage_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr error
	}{
		{"unknown message", nil, shared.ErrMessageNotFound},
		{
			"unknown channel",
			&discordgo.RESTError{Message: &discordgo.APIErrorMessage{Code: discordgo.ErrCodeUnknownChannel}},
			shared.ErrMessageNotFound,
		},
		{
			"server error",
			&discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusBadGateway}},
			shared.ErrExternalUnavailable,
		},
		{"timeout", context.DeadlineExceeded, shared.ErrExternalUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := newFakeSession()
			session.err = tt.err
			_, err := newTestClient(t, session).FetchMessage(context.Background(), admission.MessageLocator{ChannelID: "c", MessageID: "m"})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestPostAndEditCard(t *testing.T) {
	session := newFakeSession()
	client := newTestClient(t, session)

	card := admission.Card{
		Title:     "Rust Hideout",
		Fields:    []admission.CardField{{Name: "Reason", Value: ""}, {Name: "Votes", Value: "3", Inline: true}},
		Footer:    "Application #7",
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	loc, err := client.PostCard(context.Background(), "votes", card)
	require.NoError(t, err)
	assert.Equal(t, "votes:900", loc.String())
	assert.Equal(t, "-", session.posted.Fields[0].Value)
	assert.Equal(t, "2026-03-01T12:00:00Z", session.posted.Timestamp)
	assert.Equal(t, "Application #7", session.posted.Footer.Text)

	card.Title = "Rust Hideout (edited)"
	require.NoError(t, client.EditCard(context.Background(), loc, card))
	assert.Equal(t, "Rust Hideout (edited)", session.edited.Title)
}

func TestSendDirectMessage(t *testing.T) {
	session := newFakeSession()
	require.NoError(t, newTestClient(t, session).SendDirectMessage(context.Background(), "u9", "hello"))
	assert.Equal(t, "hello", session.sent["dm-u9"])

	session.err = errors.New("cannot send messages to this user")
	err := newTestClient(t, session).SendDirectMessage(context.Background(), "u9", "hello")
	assert.ErrorIs(t, err, shared.ErrExternalUnavailable)
}

func TestDiscussionChannelLifecycle(t *testing.T) {
	session := newFakeSession()
	client := newTestClient(t, session)

	id, err := client.CreateDiscussionChannel(context.Background(), "rust-hideout")
	require.NoError(t, err)
	assert.Equal(t, "chan-1", id)
	assert.Equal(t, "category", session.channelData.ParentID)
	require.Len(t, session.channelData.PermissionOverwrites, 2)
	assert.Equal(t, "guild", session.channelData.PermissionOverwrites[0].ID)
	assert.Equal(t, "owners", session.channelData.PermissionOverwrites[1].ID)

	require.NoError(t, client.CloseDiscussionChannel(context.Background(), id))
	assert.Equal(t, "owners", session.deletedPerm)

	session.err = &discordgo.RESTError{Message: &discordgo.APIErrorMessage{Code: discordgo.ErrCodeUnknownChannel}}
	assert.NoError(t, client.CloseDiscussionChannel(context.Background(), id), "a deleted channel counts as closed")
}

func TestCreateRole(t *testing.T) {
	session := newFakeSession()
	id, err := newTestClient(t, session).CreateRole(context.Background(), "RustHideout")
	require.NoError(t, err)
	assert.Equal(t, "role-1", id)
	require.NotNil(t, session.roleParams.Permissions)
	assert.Zero(t, *session.roleParams.Permissions)
}

func TestReactions(t *testing.T) {
	session := newFakeSession()
	client := newTestClient(t, session)
	loc := admission.MessageLocator{ChannelID: "votes", MessageID: "1"}

	require.NoError(t, client.AddReaction(context.Background(), loc, admission.EmojiSettled))
	require.NoError(t, client.RemoveAllReactions(context.Background(), loc))
	assert.Equal(t, []string{admission.EmojiSettled}, session.added)
	assert.Equal(t, 1, session.removedAll)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab…", truncate("abcdef", 3))
}
