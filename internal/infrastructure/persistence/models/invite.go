package models

import (
	"time"

	"github.com/hotline/admissions/internal/domain/admission"
)

// InviteModel is the persistence model for issued invites
type InviteModel struct {
	BaseModel
	Code          string     `gorm:"type:varchar(32);not null;uniqueIndex"`
	MaxUses       int        `gorm:"not null;default:5"`
	Uses          int        `gorm:"not null;default:0"`
	Revoked       bool       `gorm:"not null;default:false"`
	ExpiresAt     *time.Time `gorm:"index"`
	ApplicationID int64      `gorm:"not null;uniqueIndex"`
}

// TableName returns the table name for GORM
func (InviteModel) TableName() string {
	return "invites"
}

// ToDomain converts the persistence model to a domain Invite
func (m *InviteModel) ToDomain() *admission.Invite {
	return &admission.Invite{
		BaseEntity:    m.BaseModel.ToDomain(),
		Code:          m.Code,
		MaxUses:       m.MaxUses,
		Uses:          m.Uses,
		Revoked:       m.Revoked,
		ExpiresAt:     m.ExpiresAt,
		ApplicationID: m.ApplicationID,
	}
}

// FromDomain populates the persistence model from a domain Invite
func (m *InviteModel) FromDomain(i *admission.Invite) {
	m.FromDomainBaseEntity(i.BaseEntity)
	m.Code = i.Code
	m.MaxUses = i.MaxUses
	m.Uses = i.Uses
	m.Revoked = i.Revoked
	m.ExpiresAt = i.ExpiresAt
	m.ApplicationID = i.ApplicationID
}

// InviteModelFromDomain creates a new persistence model from a domain Invite
func InviteModelFromDomain(i *admission.Invite) *InviteModel {
	m := &InviteModel{}
	m.FromDomain(i)
	return m
}
