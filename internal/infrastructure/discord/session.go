package discord

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/hotline/admissions/internal/domain/shared"
	"go.uber.org/zap"
)

// intents covers guild messages, their reactions and DMs
const intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsGuildMessageReactions |
	discordgo.IntentsDirectMessages

// Open connects a bot session and returns it with the bot's user id
func Open(token string, logger *zap.Logger) (*discordgo.Session, string, error) {
	if token == "" {
		return nil, "", shared.ErrConfigurationMissing.WithMessage("discord.token is required")
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Identify.Intents = intents
	session.StateEnabled = true

	if err := session.Open(); err != nil {
		return nil, "", shared.ErrExternalUnavailable.Wrap(fmt.Errorf("failed to open gateway: %w", err))
	}

	self, err := session.User("@me")
	if err != nil {
		_ = session.Close()
		return nil, "", mapError(err)
	}

	logger.Info("Discord session opened",
		zap.String("bot_id", self.ID),
		zap.String("bot_name", self.Username))
	return session, self.ID, nil
}
