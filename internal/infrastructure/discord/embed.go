package discord

import (
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/hotline/admissions/internal/domain/admission"
)

// embedColor is the accent used on review cards
const embedColor = 0x5865F2

// Discord rejects embeds over these limits
const (
	maxTitle       = 256
	maxDescription = 4096
	maxFields      = 25
	maxFieldName   = 256
	maxFieldValue  = 1024
	maxFooter      = 2048
)

func toEmbed(card admission.Card) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       truncate(card.Title, maxTitle),
		Description: truncate(card.Description, maxDescription),
		Color:       embedColor,
	}
	for i, f := range card.Fields {
		if i == maxFields {
			break
		}
		value := f.Value
		if value == "" {
			// empty field values are rejected
			value = "-"
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   truncate(f.Name, maxFieldName),
			Value:  truncate(value, maxFieldValue),
			Inline: f.Inline,
		})
	}
	if card.Footer != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: truncate(card.Footer, maxFooter)}
	}
	if !card.Timestamp.IsZero() {
		embed.Timestamp = card.Timestamp.UTC().Format(time.RFC3339)
	}
	return embed
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-1]) + "…"
}
