package persistence

import (
	"context"
	"errors"

	"github.com/hotline/admissions/internal/domain/admission"
	"github.com/hotline/admissions/internal/domain/shared"
	"github.com/hotline/admissions/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormInviteRepository implements InviteRepository using GORM
type GormInviteRepository struct {
	db *gorm.DB
}

// NewGormInviteRepository creates a new GormInviteRepository
func NewGormInviteRepository(db *gorm.DB) *GormInviteRepository {
	return &GormInviteRepository{db: db}
}

// FindByCode finds an invite by its code
func (r *GormInviteRepository) FindByCode(ctx context.Context, code string) (*admission.Invite, error) {
	return r.first(ctx, "code = ?", code)
}

// FindByApplication finds the invite issued for an application
func (r *GormInviteRepository) FindByApplication(ctx context.Context, applicationID int64) (*admission.Invite, error) {
	return r.first(ctx, "application_id = ?", applicationID)
}

func (r *GormInviteRepository) first(ctx context.Context, cond string, arg any) (*admission.Invite, error) {
	var model models.InviteModel
	if err := r.db.WithContext(ctx).Where(cond, arg).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Save creates or updates an invite. A second invite for the same
// application is rejected with ErrAlreadyExists.
func (r *GormInviteRepository) Save(ctx context.Context, invite *admission.Invite) error {
	model := models.InviteModelFromDomain(invite)
	db := r.db.WithContext(ctx)

	if invite.IsNew() {
		if err := db.Create(model).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return shared.ErrAlreadyExists
			}
			return err
		}
		invite.ID = model.ID
		return nil
	}
	return db.Save(model).Error
}

// Ensure GormInviteRepository implements InviteRepository
var _ admission.InviteRepository = (*GormInviteRepository)(nil)
