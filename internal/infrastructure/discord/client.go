package discord

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/hotline/admissions/internal/domain/admission"
	"github.com/hotline/admissions/internal/domain/shared"
	"go.uber.org/zap"
)

// reactionPageSize is the largest page the reactions endpoint returns
const reactionPageSize = 100

// RESTSession is the part of *discordgo.Session the client calls
type RESTSession interface {
	ChannelMessage(channelID, messageID string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	MessageReactions(channelID, messageID, emojiID string, limit int, beforeID, afterID string, options ...discordgo.RequestOption) ([]*discordgo.User, error)
	MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error
	MessageReactionsRemoveAll(channelID, messageID string, options ...discordgo.RequestOption) error
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditEmbed(channelID, messageID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	GuildChannelCreateComplex(guildID string, data discordgo.GuildChannelCreateData, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelPermissionDelete(channelID, targetID string, options ...discordgo.RequestOption) error
	GuildRoleCreate(guildID string, data *discordgo.RoleParams, options ...discordgo.RequestOption) (*discordgo.Role, error)
}

// ClientConfig holds the guild layout the client works in
type ClientConfig struct {
	SelfID               string
	GuildID              string
	DiscussionCategoryID string
	ServerOwnerRoleID    string
	CallTimeout          time.Duration
}

// Client implements admission.Platform over the Discord REST API
type Client struct {
	session RESTSession
	config  ClientConfig
	logger  *zap.Logger
}

var _ admission.Platform = (*Client)(nil)

// NewClient creates a new platform client
func NewClient(session RESTSession, cfg ClientConfig, logger *zap.Logger) *Client {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{session: session, config: cfg, logger: logger.Named("discord")}
}

// SelfID is the bot's user id
func (c *Client) SelfID() string {
	return c.config.SelfID
}

// call bounds one REST request with the configured per-call timeout
func (c *Client) call(ctx context.Context) (discordgo.RequestOption, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, c.config.CallTimeout)
	return discordgo.WithContext(ctx), cancel
}

// FetchMessage loads a message and the voters behind its approve and deny reactions
func (c *Client) FetchMessage(ctx context.Context, loc admission.MessageLocator) (admission.MessageSnapshot, error) {
	opt, cancel := c.call(ctx)
	defer cancel()

	msg, err := c.session.ChannelMessage(loc.ChannelID, loc.MessageID, opt)
	if err != nil {
		return admission.MessageSnapshot{}, mapError(err)
	}

	snapshot := admission.MessageSnapshot{Locator: loc, CreatedAt: msg.Timestamp}
	for _, r := range msg.Reactions {
		if r == nil || r.Emoji == nil {
			continue
		}
		reaction := admission.ReactionSnapshot{Emoji: r.Emoji.Name, Count: r.Count, Me: r.Me}
		if r.Emoji.Name == admission.EmojiApprove || r.Emoji.Name == admission.EmojiDeny {
			users, err := c.reactionUsers(ctx, loc, r.Emoji.APIName())
			if err != nil {
				return admission.MessageSnapshot{}, err
			}
			reaction.Users = users
		}
		snapshot.Reactions = append(snapshot.Reactions, reaction)
	}
	return snapshot, nil
}

// reactionUsers pages through every user that reacted with emoji
func (c *Client) reactionUsers(ctx context.Context, loc admission.MessageLocator, emoji string) ([]admission.Voter, error) {
	var (
		voters []admission.Voter
		after  string
	)
	for {
		opt, cancel := c.call(ctx)
		page, err := c.session.MessageReactions(loc.ChannelID, loc.MessageID, emoji, reactionPageSize, "", after, opt)
		cancel()
		if err != nil {
			return nil, mapError(err)
		}
		for _, u := range page {
			voters = append(voters, admission.Voter{ID: u.ID, Bot: u.Bot})
		}
		if len(page) < reactionPageSize {
			return voters, nil
		}
		after = page[len(page)-1].ID
	}
}

// AddReaction reacts to a message as the bot
func (c *Client) AddReaction(ctx context.Context, loc admission.MessageLocator, emoji string) error {
	opt, cancel := c.call(ctx)
	defer cancel()
	return mapError(c.session.MessageReactionAdd(loc.ChannelID, loc.MessageID, emoji, opt))
}

// RemoveAllReactions clears every reaction from a message
func (c *Client) RemoveAllReactions(ctx context.Context, loc admission.MessageLocator) error {
	opt, cancel := c.call(ctx)
	defer cancel()
	return mapError(c.session.MessageReactionsRemoveAll(loc.ChannelID, loc.MessageID, opt))
}

// PostCard sends card as an embed
func (c *Client) PostCard(ctx context.Context, channelID string, card admission.Card) (admission.MessageLocator, error) {
	opt, cancel := c.call(ctx)
	defer cancel()

	msg, err := c.session.ChannelMessageSendEmbed(channelID, toEmbed(card), opt)
	if err != nil {
		return admission.MessageLocator{}, mapError(err)
	}
	return admission.NewMessageLocator(msg.ChannelID, msg.ID)
}

// EditCard replaces the embed of an existing message
func (c *Client) EditCard(ctx context.Context, loc admission.MessageLocator, card admission.Card) error {
	opt, cancel := c.call(ctx)
	defer cancel()

	_, err := c.session.ChannelMessageEditEmbed(loc.ChannelID, loc.MessageID, toEmbed(card), opt)
	return mapError(err)
}

// SendDirectMessage opens a DM channel with the user and posts content
func (c *Client) SendDirectMessage(ctx context.Context, userID, content string) error {
	opt, cancel := c.call(ctx)
	defer cancel()

	channel, err := c.session.UserChannelCreate(userID, opt)
	if err != nil {
		return mapError(err)
	}
	if _, err := c.session.ChannelMessageSend(channel.ID, content, opt); err != nil {
		return mapError(err)
	}
	return nil
}

// CreateDiscussionChannel opens a text channel under the discussion category
// that only the server owner role can see
func (c *Client) CreateDiscussionChannel(ctx context.Context, name string) (string, error) {
	opt, cancel := c.call(ctx)
	defer cancel()

	channel, err := c.session.GuildChannelCreateComplex(c.config.GuildID, discordgo.GuildChannelCreateData{
		Name:     name,
		Type:     discordgo.ChannelTypeGuildText,
		ParentID: c.config.DiscussionCategoryID,
		PermissionOverwrites: []*discordgo.PermissionOverwrite{
			{
				// @everyone shares the guild id
				ID:   c.config.GuildID,
				Type: discordgo.PermissionOverwriteTypeRole,
				Deny: discordgo.PermissionViewChannel,
			},
			{
				ID:    c.config.ServerOwnerRoleID,
				Type:  discordgo.PermissionOverwriteTypeRole,
				Allow: discordgo.PermissionViewChannel | discordgo.PermissionSendMessages | discordgo.PermissionReadMessageHistory,
			},
		},
	}, opt)
	if err != nil {
		return "", mapError(err)
	}
	return channel.ID, nil
}

// CloseDiscussionChannel removes the server owner role's access, leaving the history in place
func (c *Client) CloseDiscussionChannel(ctx context.Context, channelID string) error {
	opt, cancel := c.call(ctx)
	defer cancel()

	err := mapError(c.session.ChannelPermissionDelete(channelID, c.config.ServerOwnerRoleID, opt))
	if errors.Is(err, shared.ErrMessageNotFound) {
		c.logger.Warn("Discussion channel already gone", zap.String("channel_id", channelID))
		return nil
	}
	return err
}

// CreateRole creates a role with no permissions
func (c *Client) CreateRole(ctx context.Context, name string) (string, error) {
	opt, cancel := c.call(ctx)
	defer cancel()

	var perms int64
	mentionable := false
	role, err := c.session.GuildRoleCreate(c.config.GuildID, &discordgo.RoleParams{
		Name:        name,
		Permissions: &perms,
		Mentionable: &mentionable,
	}, opt)
	if err != nil {
		return "", mapError(err)
	}
	if role == nil || role.ID == "" {
		return "", shared.ErrExternalUnavailable.WithMessage(fmt.Sprintf("role %q created without an id", name))
	}
	return role.ID, nil
}
