package admission

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/hotline/admissions/internal/domain/shared"
)

// VoteResults is the outcome of tallying one message.
// Approvals and Denies are always derived from Ledger.
type VoteResults struct {
	Approvals int                 `json:"approvals"`
	Denies    int                 `json:"denies"`
	Ledger    map[string]VoteKind `json:"entries"`

	unreadable string
}

// UnreadableVoteResults stands in for a stored ledger that could not be
// decoded. It keeps the stored counts and never passes CheckConsistency.
func UnreadableVoteResults(approvals, denies int, cause error) VoteResults {
	reason := "unknown cause"
	if cause != nil {
		reason = cause.Error()
	}
	return VoteResults{Approvals: approvals, Denies: denies, unreadable: reason}
}

// EmptyVoteResults returns results with an initialized ledger
func EmptyVoteResults() VoteResults {
	return VoteResults{Ledger: make(map[string]VoteKind)}
}

// Tally builds VoteResults from the current reaction membership of a message.
//
// Only the approve and deny emoji count. The bot's own user and any other bot
// account are left out. The ledger is rebuilt from scratch on every call, so a
// voter who removed their reaction disappears. Reactions are walked in message
// order and a later emoji overwrites an earlier one for the same voter.
func Tally(snapshot MessageSnapshot, selfID string) VoteResults {
	results := EmptyVoteResults()
	for _, reaction := range snapshot.Reactions {
		var kind VoteKind
		switch reaction.Emoji {
		case EmojiApprove:
			kind = VoteApprove
		case EmojiDeny:
			kind = VoteDeny
		default:
			continue
		}
		for _, user := range reaction.Users {
			if user.Bot || user.ID == selfID || user.ID == "" {
				continue
			}
			results.Ledger[user.ID] = kind
		}
	}
	results.recount()
	return results
}

// NetCounts returns the per-emoji counts with the bot's seed reaction removed.
// The approval stage is decided on these raw counts (see Ballot).
func NetCounts(snapshot MessageSnapshot) (approvals, denies int) {
	if r, ok := snapshot.Reaction(EmojiApprove); ok {
		approvals = r.EffectiveCount()
	}
	if r, ok := snapshot.Reaction(EmojiDeny); ok {
		denies = r.EffectiveCount()
	}
	return approvals, denies
}

func (v *VoteResults) recount() {
	v.Approvals, v.Denies = 0, 0
	for _, kind := range v.Ledger {
		switch kind {
		case VoteApprove:
			v.Approvals++
		case VoteDeny:
			v.Denies++
		}
	}
}

// Total is the number of counted voters
func (v VoteResults) Total() int {
	return v.Approvals + v.Denies
}

// CheckConsistency verifies that the counts match the ledger
func (v VoteResults) CheckConsistency() error {
	if v.unreadable != "" {
		return shared.ErrInvariantViolation.WithMessage("stored vote ledger is unreadable: " + v.unreadable)
	}
	approvals, denies := 0, 0
	for voter, kind := range v.Ledger {
		switch kind {
		case VoteApprove:
			approvals++
		case VoteDeny:
			denies++
		default:
			return shared.ErrInvariantViolation.WithMessage(fmt.Sprintf("ledger entry for %s has unknown vote %q", voter, kind))
		}
	}
	if approvals != v.Approvals || denies != v.Denies {
		return shared.ErrInvariantViolation.WithMessage(fmt.Sprintf(
			"vote counts %d/%d disagree with ledger %d/%d", v.Approvals, v.Denies, approvals, denies))
	}
	return nil
}

// Fingerprint is a stable hash of the ledger, used to detect an unchanged tally
func (v VoteResults) Fingerprint() string {
	voters := make([]string, 0, len(v.Ledger))
	for voter := range v.Ledger {
		voters = append(voters, voter)
	}
	sort.Strings(voters)

	var b strings.Builder
	for _, voter := range voters {
		b.WriteString(voter)
		b.WriteByte('=')
		b.WriteString(string(v.Ledger[voter]))
		b.WriteByte('\n')
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Equal reports whether both results hold the same ledger
func (v VoteResults) Equal(other VoteResults) bool {
	return v.Approvals == other.Approvals && v.Denies == other.Denies && v.Fingerprint() == other.Fingerprint()
}
