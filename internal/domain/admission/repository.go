package admission

import (
	"context"
	"time"

	"github.com/hotline/admissions/internal/domain/shared"
)

// ApplicationFilter narrows application listings
type ApplicationFilter struct {
	shared.Filter
	ApprovalOutcome Outcome
	VoteOutcome     Outcome
	RequesterID     string
}

// DefaultApplicationFilter returns the first page, newest first
func DefaultApplicationFilter() ApplicationFilter {
	return ApplicationFilter{Filter: shared.DefaultFilter()}
}

// ApplicationRepository defines the interface for application persistence
type ApplicationRepository interface {
	// FindByID returns shared.ErrNotFound when no application has the id
	FindByID(ctx context.Context, id int64) (*Application, error)

	// FindByMessage finds the application whose approval or vote message is loc
	FindByMessage(ctx context.Context, loc MessageLocator) (*Application, error)

	// FindOpen returns every application whose given stage is still awaiting
	FindOpen(ctx context.Context, stage Stage) ([]Application, error)

	// FindDecidedSince returns applications decided at or after since
	FindDecidedSince(ctx context.Context, since time.Time) ([]Application, error)

	FindAll(ctx context.Context, filter ApplicationFilter) ([]Application, error)
	Count(ctx context.Context, filter ApplicationFilter) (int64, error)

	// Save inserts a new application or updates an existing one with an
	// optimistic version check (shared.ErrConcurrencyConflict on mismatch)
	Save(ctx context.Context, app *Application) error
}

// InviteRepository defines the interface for invite persistence
type InviteRepository interface {
	FindByCode(ctx context.Context, code string) (*Invite, error)
	FindByApplication(ctx context.Context, applicationID int64) (*Invite, error)
	Save(ctx context.Context, invite *Invite) error
}
