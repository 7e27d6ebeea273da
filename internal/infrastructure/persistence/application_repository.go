package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/hotline/admissions/internal/domain/admission"
	"github.com/hotline/admissions/internal/domain/shared"
	"github.com/hotline/admissions/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormApplicationRepository implements ApplicationRepository using GORM
type GormApplicationRepository struct {
	db *gorm.DB
}

// NewGormApplicationRepository creates a new GormApplicationRepository
func NewGormApplicationRepository(db *gorm.DB) *GormApplicationRepository {
	return &GormApplicationRepository{db: db}
}

// FindByID finds an application by its ID
func (r *GormApplicationRepository) FindByID(ctx context.Context, id int64) (*admission.Application, error) {
	var model models.ApplicationModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByMessage finds the application whose approval or vote message is loc
func (r *GormApplicationRepository) FindByMessage(ctx context.Context, loc admission.MessageLocator) (*admission.Application, error) {
	if loc.IsZero() {
		return nil, shared.ErrNotFound
	}
	key := loc.String()
	var model models.ApplicationModel
	if err := r.db.WithContext(ctx).
		Where("approval_message = ? OR vote_message = ?", key, key).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindOpen returns every application whose given stage is still awaiting, oldest first
func (r *GormApplicationRepository) FindOpen(ctx context.Context, stage admission.Stage) ([]admission.Application, error) {
	query := r.db.WithContext(ctx).Model(&models.ApplicationModel{})
	switch stage {
	case admission.StageApproval:
		query = query.Where("approval_outcome = ?", string(admission.OutcomeAwaiting))
	case admission.StageRatification:
		query = query.Where("approval_outcome = ? AND vote_outcome = ?",
			string(admission.OutcomeApproved), string(admission.OutcomeAwaiting))
	default:
		return nil, shared.ErrInvalidInput.WithMessage("no open applications in stage " + string(stage))
	}

	var rows []models.ApplicationModel
	if err := query.Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return toDomainApplications(rows), nil
}

// FindDecidedSince returns applications with a decision at or after since
func (r *GormApplicationRepository) FindDecidedSince(ctx context.Context, since time.Time) ([]admission.Application, error) {
	var rows []models.ApplicationModel
	if err := r.db.WithContext(ctx).
		Where("approval_decided_at >= ? OR vote_decided_at >= ?", since, since).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return toDomainApplications(rows), nil
}

// FindAll finds all applications matching the filter
func (r *GormApplicationRepository) FindAll(ctx context.Context, filter admission.ApplicationFilter) ([]admission.Application, error) {
	query := r.applyFilter(r.db.WithContext(ctx).Model(&models.ApplicationModel{}), filter)

	if filter.Page > 0 && filter.PageSize > 0 {
		query = query.Offset(filter.Offset()).Limit(filter.PageSize)
	}
	orderBy := ValidateSortField(filter.OrderBy, ApplicationSortFields, "created_at")
	query = query.Order(orderBy + " " + ValidateSortOrder(filter.OrderDir)).Order("id ASC")

	var rows []models.ApplicationModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return toDomainApplications(rows), nil
}

// Count counts applications matching the filter
func (r *GormApplicationRepository) Count(ctx context.Context, filter admission.ApplicationFilter) (int64, error) {
	var count int64
	if err := r.applyFilter(r.db.WithContext(ctx).Model(&models.ApplicationModel{}), filter).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Save inserts a new application or updates an existing one.
// Updates only land when the stored version matches the aggregate's; the
// version is bumped on success.
func (r *GormApplicationRepository) Save(ctx context.Context, app *admission.Application) error {
	model := models.ApplicationModelFromDomain(app)
	db := r.db.WithContext(ctx)

	if app.IsNew() {
		if err := db.Create(model).Error; err != nil {
			return err
		}
		app.ID = model.ID
		return nil
	}

	columns := model.UpdateColumns()
	columns["version"] = app.Version + 1

	result := db.Model(&models.ApplicationModel{}).
		Where("id = ? AND version = ?", app.ID, app.Version).
		Updates(columns)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var exists int64
		if err := db.Model(&models.ApplicationModel{}).Where("id = ?", app.ID).Count(&exists).Error; err != nil {
			return err
		}
		if exists == 0 {
			return shared.ErrNotFound
		}
		return shared.ErrConcurrencyConflict
	}
	app.IncrementVersion()
	return nil
}

func (r *GormApplicationRepository) applyFilter(query *gorm.DB, filter admission.ApplicationFilter) *gorm.DB {
	if filter.ApprovalOutcome != "" {
		query = query.Where("approval_outcome = ?", string(filter.ApprovalOutcome))
	}
	if filter.VoteOutcome != "" {
		query = query.Where("vote_outcome = ?", string(filter.VoteOutcome))
	}
	if filter.RequesterID != "" {
		query = query.Where("requester_id = ?", filter.RequesterID)
	}
	for key, value := range filter.Filters {
		switch key {
		case "community_id":
			query = query.Where("community_id = ?", value)
		case "open":
			if value == true {
				query = query.Where("approval_outcome = ? OR (approval_outcome = ? AND vote_outcome = ?)",
					string(admission.OutcomeAwaiting), string(admission.OutcomeApproved), string(admission.OutcomeAwaiting))
			}
		}
	}
	return query
}

func toDomainApplications(rows []models.ApplicationModel) []admission.Application {
	apps := make([]admission.Application, len(rows))
	for i := range rows {
		apps[i] = *rows[i].ToDomain()
	}
	return apps
}

// Ensure GormApplicationRepository implements ApplicationRepository
var _ admission.ApplicationRepository = (*GormApplicationRepository)(nil)
