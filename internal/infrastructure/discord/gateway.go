package discord

import (
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/hotline/admissions/internal/domain/admission"
)

// HandlerAdder is the event registration part of *discordgo.Session
type HandlerAdder interface {
	AddHandler(handler interface{}) func()
}

// Gateway implements admission.EventSource over discordgo event handlers
type Gateway struct {
	session HandlerAdder
}

var _ admission.EventSource = (*Gateway)(nil)

// NewGateway creates a new gateway event source
func NewGateway(session HandlerAdder) *Gateway {
	return &Gateway{session: session}
}

// Listen forwards message and reaction events to handler until stop is called
func (g *Gateway) Listen(handler func(admission.GatewayEvent)) (stop func()) {
	removers := []func(){
		g.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
			if ev, ok := messageCreated(m); ok {
				handler(ev)
			}
		}),
		g.session.AddHandler(func(_ *discordgo.Session, r *discordgo.MessageReactionAdd) {
			if r == nil {
				return
			}
			if ev, ok := reactionEvent(admission.GatewayReactionAdded, r.MessageReaction); ok {
				handler(ev)
			}
		}),
		g.session.AddHandler(func(_ *discordgo.Session, r *discordgo.MessageReactionRemove) {
			if r == nil {
				return
			}
			if ev, ok := reactionEvent(admission.GatewayReactionRemoved, r.MessageReaction); ok {
				handler(ev)
			}
		}),
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			for _, remove := range removers {
				remove()
			}
		})
	}
}

func messageCreated(m *discordgo.MessageCreate) (admission.GatewayEvent, bool) {
	if m == nil || m.Message == nil || m.ChannelID == "" || m.ID == "" {
		return admission.GatewayEvent{}, false
	}
	ev := admission.GatewayEvent{
		Kind:    admission.GatewayMessageCreated,
		Locator: admission.MessageLocator{ChannelID: m.ChannelID, MessageID: m.ID},
	}
	if m.Author != nil {
		ev.UserID = m.Author.ID
	}
	return ev, true
}

func reactionEvent(kind admission.GatewayEventKind, r *discordgo.MessageReaction) (admission.GatewayEvent, bool) {
	if r == nil || r.ChannelID == "" || r.MessageID == "" {
		return admission.GatewayEvent{}, false
	}
	return admission.GatewayEvent{
		Kind:    kind,
		Locator: admission.MessageLocator{ChannelID: r.ChannelID, MessageID: r.MessageID},
		UserID:  r.UserID,
		Emoji:   r.Emoji.Name,
	}, true
}
