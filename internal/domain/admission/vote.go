package admission

import "time"

// Emoji used on review messages
const (
	EmojiApprove     = "✅"
	EmojiDeny        = "❌"
	EmojiAcknowledge = "☑️"
	EmojiSettled     = "👌"
)

// Voter is a user that reacted to a message
type Voter struct {
	ID  string
	Bot bool
}

// ReactionSnapshot is the current state of one emoji on a message
type ReactionSnapshot struct {
	Emoji string
	// Count is the raw count reported by the platform, self included
	Count int
	// Me is true when the bot itself has reacted with this emoji
	Me    bool
	Users []Voter
}

// EffectiveCount is the raw count without the bot's own seed reaction
func (r ReactionSnapshot) EffectiveCount() int {
	n := r.Count
	if r.Me {
		n--
	}
	if n < 0 {
		return 0
	}
	return n
}

// MessageSnapshot is a freshly fetched message with its reactions in display order
type MessageSnapshot struct {
	Locator   MessageLocator
	CreatedAt time.Time
	Reactions []ReactionSnapshot
}

// Reaction returns the snapshot for emoji, if present
func (m MessageSnapshot) Reaction(emoji string) (ReactionSnapshot, bool) {
	for _, r := range m.Reactions {
		if r.Emoji == emoji {
			return r, true
		}
	}
	return ReactionSnapshot{}, false
}

// SelfReacted reports whether the bot has its own reaction for emoji
func (m MessageSnapshot) SelfReacted(emoji string) bool {
	r, ok := m.Reaction(emoji)
	return ok && r.Me
}
