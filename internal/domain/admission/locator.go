package admission

import (
	"strings"

	"github.com/hotline/admissions/internal/domain/shared"
)

// MessageLocator identifies a chat message by channel and message id.
// Its string form is "channelId:messageId".
type MessageLocator struct {
	ChannelID string
	MessageID string
}

// NewMessageLocator creates a locator, rejecting empty parts
func NewMessageLocator(channelID, messageID string) (MessageLocator, error) {
	if channelID == "" || messageID == "" {
		return MessageLocator{}, shared.NewDomainError("INVALID_LOCATOR", "Message locator needs both a channel and a message id")
	}
	return MessageLocator{ChannelID: channelID, MessageID: messageID}, nil
}

// ParseMessageLocator parses the "channelId:messageId" form.
// An empty string yields the zero locator.
func ParseMessageLocator(s string) (MessageLocator, error) {
	if s == "" {
		return MessageLocator{}, nil
	}
	channelID, messageID, ok := strings.Cut(s, ":")
	if !ok {
		return MessageLocator{}, shared.NewDomainError("INVALID_LOCATOR", "Message locator must look like channelId:messageId")
	}
	return NewMessageLocator(channelID, messageID)
}

// IsZero reports whether the locator is unset
func (l MessageLocator) IsZero() bool {
	return l.ChannelID == "" && l.MessageID == ""
}

// String returns "channelId:messageId", or "" for the zero locator
func (l MessageLocator) String() string {
	if l.IsZero() {
		return ""
	}
	return l.ChannelID + ":" + l.MessageID
}
