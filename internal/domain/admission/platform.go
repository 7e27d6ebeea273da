package admission

import (
	"context"
	"time"
)

// CardField is one labelled value on a card
type CardField struct {
	Name   string
	Value  string
	Inline bool
}

// Card is a rich message posted to a channel
type Card struct {
	Title       string
	Description string
	Fields      []CardField
	Footer      string
	Timestamp   time.Time
}

// Platform is the chat service that hosts the votes.
//
// FetchMessage returns shared.ErrMessageNotFound when the message is gone.
// Every other failure is reported as shared.ErrExternalUnavailable.
type Platform interface {
	// SelfID is the user id the bot reacts and posts as
	SelfID() string

	FetchMessage(ctx context.Context, loc MessageLocator) (MessageSnapshot, error)
	AddReaction(ctx context.Context, loc MessageLocator, emoji string) error
	RemoveAllReactions(ctx context.Context, loc MessageLocator) error

	PostCard(ctx context.Context, channelID string, card Card) (MessageLocator, error)
	EditCard(ctx context.Context, loc MessageLocator, card Card) error

	SendDirectMessage(ctx context.Context, userID, content string) error

	// CreateDiscussionChannel opens a text channel and returns its id
	CreateDiscussionChannel(ctx context.Context, name string) (string, error)
	// CloseDiscussionChannel hides the channel from the reviewers
	CloseDiscussionChannel(ctx context.Context, channelID string) error
	// CreateRole creates a role with no permissions and returns its id
	CreateRole(ctx context.Context, name string) (string, error)
}

// GatewayEventKind is the kind of a gateway notification
type GatewayEventKind string

const (
	GatewayMessageCreated  GatewayEventKind = "message_created"
	GatewayReactionAdded   GatewayEventKind = "reaction_added"
	GatewayReactionRemoved GatewayEventKind = "reaction_removed"
)

// GatewayEvent is a live notification about a message or its reactions
type GatewayEvent struct {
	Kind    GatewayEventKind
	Locator MessageLocator
	// UserID is the reacting user, or the author of a new message
	UserID string
	Emoji  string
}

// EventSource delivers gateway events until stop is called
type EventSource interface {
	Listen(handler func(GatewayEvent)) (stop func())
}
