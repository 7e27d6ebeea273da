package admission

import (
	"crypto/rand"
	"math/big"
	"strings"
	"time"

	"github.com/hotline/admissions/internal/domain/shared"
)

const (
	// DefaultInviteMaxUses is how many people one approved community may invite
	DefaultInviteMaxUses = 5
	// InviteCodeLength is the length of generated invite codes
	InviteCodeLength = 8

	inviteAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// Invite is the join link handed to a ratified community
type Invite struct {
	shared.BaseEntity
	Code          string
	MaxUses       int
	Uses          int
	Revoked       bool
	ExpiresAt     *time.Time
	ApplicationID int64
}

// CodeGenerator produces a new invite code
type CodeGenerator func() (string, error)

// NewInvite creates an invite for an approved application
func NewInvite(applicationID int64, code string, maxUses int, expiresAt *time.Time, now time.Time) (*Invite, error) {
	if applicationID == 0 {
		return nil, shared.NewDomainError("INVALID_APPLICATION", "Invite must belong to an application")
	}
	if strings.TrimSpace(code) == "" {
		return nil, shared.NewDomainError("INVALID_INVITE_CODE", "Invite code cannot be empty")
	}
	if maxUses < 1 {
		maxUses = DefaultInviteMaxUses
	}
	if expiresAt != nil && !expiresAt.After(now) {
		return nil, shared.NewDomainError("INVALID_EXPIRY", "Invite expiry must be in the future")
	}
	return &Invite{
		BaseEntity:    shared.NewBaseEntity(now),
		Code:          code,
		MaxUses:       maxUses,
		ExpiresAt:     expiresAt,
		ApplicationID: applicationID,
	}, nil
}

// IsUsable reports whether the invite can still admit someone
func (i *Invite) IsUsable(now time.Time) bool {
	if i.Revoked || i.Uses >= i.MaxUses {
		return false
	}
	return i.ExpiresAt == nil || now.Before(*i.ExpiresAt)
}

// URL joins the invite code to the public apply link
func (i *Invite) URL(base string) string {
	if base == "" {
		return i.Code
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + i.Code
}

// RandomInviteCode returns an InviteCodeLength code from crypto/rand
func RandomInviteCode() (string, error) {
	size := big.NewInt(int64(len(inviteAlphabet)))
	var b strings.Builder
	b.Grow(InviteCodeLength)
	for range InviteCodeLength {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", err
		}
		b.WriteByte(inviteAlphabet[n.Int64()])
	}
	return b.String(), nil
}
