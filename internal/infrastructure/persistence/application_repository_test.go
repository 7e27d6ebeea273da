package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/hotline/admissions/internal/domain/admission"
	"github.com/hotline/admissions/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupAdmissionTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// every new connection would get its own empty in-memory database
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, AutoMigrate(db))
	return db
}

var repoNow = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

func newSubmitted(t *testing.T, requester, name string, msgID string) *admission.Application {
	app, err := admission.NewApplication(admission.SubmitParams{
		RequesterID:   requester,
		CommunityID:   "guild-" + requester,
		CommunityName: name,
	}, repoNow)
	require.NoError(t, err)
	require.NoError(t, app.AttachApprovalMessage(admission.MessageLocator{ChannelID: "staff", MessageID: msgID}))
	return app
}

func TestGormApplicationRepository_SaveAndFind(t *testing.T) {
	db := setupAdmissionTestDB(t)
	repo := NewGormApplicationRepository(db)
	ctx := context.Background()

	app := newSubmitted(t, "u1", "Night Owls", "m1")
	require.NoError(t, repo.Save(ctx, app))
	require.NotZero(t, app.ID)

	t.Run("by id", func(t *testing.T) {
		found, err := repo.FindByID(ctx, app.ID)
		require.NoError(t, err)
		assert.Equal(t, "Night Owls", found.CommunityName)
		assert.Equal(t, admission.OutcomeAwaiting, found.ApprovalOutcome)
		assert.Equal(t, 1, found.Version)
	})

	t.Run("by approval message", func(t *testing.T) {
		found, err := repo.FindByMessage(ctx, admission.MessageLocator{ChannelID: "staff", MessageID: "m1"})
		require.NoError(t, err)
		assert.Equal(t, app.ID, found.ID)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := repo.FindByID(ctx, 999)
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("unknown message", func(t *testing.T) {
		_, err := repo.FindByMessage(ctx, admission.MessageLocator{ChannelID: "staff", MessageID: "nope"})
		assert.ErrorIs(t, err, shared.ErrNotFound)

		_, err = repo.FindByMessage(ctx, admission.MessageLocator{})
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})
}

func TestGormApplicationRepository_OptimisticUpdate(t *testing.T) {
	db := setupAdmissionTestDB(t)
	repo := NewGormApplicationRepository(db)
	ctx := context.Background()

	app := newSubmitted(t, "u1", "Night Owls", "m1")
	require.NoError(t, repo.Save(ctx, app))

	first, err := repo.FindByID(ctx, app.ID)
	require.NoError(t, err)
	second, err := repo.FindByID(ctx, app.ID)
	require.NoError(t, err)

	require.NoError(t, first.DecideApproval(admission.OutcomeApproved, "", repoNow))
	require.NoError(t, repo.Save(ctx, first))
	assert.Equal(t, 2, first.Version)

	require.NoError(t, second.DecideApproval(admission.OutcomeDenied, "", repoNow))
	err = repo.Save(ctx, second)
	assert.ErrorIs(t, err, shared.ErrConcurrencyConflict)

	stored, err := repo.FindByID(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, admission.OutcomeApproved, stored.ApprovalOutcome)
	assert.Equal(t, 2, stored.Version)

	ghost := newSubmitted(t, "u9", "Ghosts", "m9")
	ghost.ID = 12345
	assert.ErrorIs(t, repo.Save(ctx, ghost), shared.ErrNotFound)
}

func TestGormApplicationRepository_VotesRoundTrip(t *testing.T) {
	db := setupAdmissionTestDB(t)
	repo := NewGormApplicationRepository(db)
	ctx := context.Background()

	app := newSubmitted(t, "u1", "Night Owls", "m1")
	require.NoError(t, app.DecideApproval(admission.OutcomeApproved, "", repoNow))
	require.NoError(t, app.AttachVoteMessage(admission.MessageLocator{ChannelID: "votes", MessageID: "v1"}, repoNow))
	votes := admission.VoteResults{
		Approvals: 1,
		Denies:    1,
		Ledger:    map[string]admission.VoteKind{"a": admission.VoteApprove, "b": admission.VoteDeny},
	}
	_, err := app.RecordVotes(votes)
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, app))

	found, err := repo.FindByMessage(ctx, admission.MessageLocator{ChannelID: "votes", MessageID: "v1"})
	require.NoError(t, err)
	assert.True(t, votes.Equal(found.Votes))
	assert.Equal(t, admission.StageRatification, found.Stage())
}

func TestGormApplicationRepository_FindOpenAndDecided(t *testing.T) {
	db := setupAdmissionTestDB(t)
	repo := NewGormApplicationRepository(db)
	ctx := context.Background()

	pending := newSubmitted(t, "u1", "Pending", "m1")
	require.NoError(t, repo.Save(ctx, pending))

	ratifying := newSubmitted(t, "u2", "Ratifying", "m2")
	require.NoError(t, ratifying.DecideApproval(admission.OutcomeApproved, "", repoNow))
	require.NoError(t, repo.Save(ctx, ratifying))

	denied := newSubmitted(t, "u3", "Denied", "m3")
	require.NoError(t, denied.DecideApproval(admission.OutcomeDenied, "", repoNow.Add(-48*time.Hour)))
	require.NoError(t, repo.Save(ctx, denied))

	open, err := repo.FindOpen(ctx, admission.StageApproval)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "Pending", open[0].CommunityName)

	open, err = repo.FindOpen(ctx, admission.StageRatification)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "Ratifying", open[0].CommunityName)

	_, err = repo.FindOpen(ctx, admission.StageClosed)
	assert.ErrorIs(t, err, shared.ErrInvalidInput)

	recent, err := repo.FindDecidedSince(ctx, repoNow.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "Ratifying", recent[0].CommunityName)
}

func TestGormApplicationRepository_FindAllAndCount(t *testing.T) {
	db := setupAdmissionTestDB(t)
	repo := NewGormApplicationRepository(db)
	ctx := context.Background()

	for i, name := range []string{"Alpha", "Bravo", "Charlie"} {
		app := newSubmitted(t, "u1", name, "m"+name)
		app.SubmittedAt = repoNow.Add(time.Duration(i) * time.Minute)
		require.NoError(t, repo.Save(ctx, app))
	}
	other := newSubmitted(t, "u2", "Delta", "mDelta")
	require.NoError(t, other.DecideApproval(admission.OutcomeDenied, "", repoNow))
	require.NoError(t, repo.Save(ctx, other))

	tests := []struct {
		name      string
		filter    func() admission.ApplicationFilter
		wantNames []string
		wantCount int64
	}{
		{
			name: "requester",
			filter: func() admission.ApplicationFilter {
				f := admission.DefaultApplicationFilter()
				f.RequesterID = "u1"
				f.OrderBy = "community_name"
				f.OrderDir = "asc"
				return f
			},
			wantNames: []string{"Alpha", "Bravo", "Charlie"},
			wantCount: 3,
		},
		{
			name: "approval outcome",
			filter: func() admission.ApplicationFilter {
				f := admission.DefaultApplicationFilter()
				f.ApprovalOutcome = admission.OutcomeDenied
				return f
			},
			wantNames: []string{"Delta"},
			wantCount: 1,
		},
		{
			name: "paged and sorted by submission",
			filter: func() admission.ApplicationFilter {
				f := admission.DefaultApplicationFilter()
				f.RequesterID = "u1"
				f.OrderBy = "submitted_at"
				f.OrderDir = "desc"
				f.Page = 2
				f.PageSize = 2
				return f
			},
			wantNames: []string{"Alpha"},
			wantCount: 3,
		},
		{
			name: "open only",
			filter: func() admission.ApplicationFilter {
				f := admission.DefaultApplicationFilter()
				f.Filters["open"] = true
				f.OrderBy = "community_name"
				f.OrderDir = "asc"
				return f
			},
			wantNames: []string{"Alpha", "Bravo", "Charlie"},
			wantCount: 3,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apps, err := repo.FindAll(ctx, tt.filter())
			require.NoError(t, err)
			names := make([]string, len(apps))
			for i := range apps {
				names[i] = apps[i].CommunityName
			}
			assert.Equal(t, tt.wantNames, names)

			count, err := repo.Count(ctx, tt.filter())
			require.NoError(t, err)
			assert.Equal(t, tt.wantCount, count)
		})
	}
}

func TestGormApplicationRepository_FindByID_Mock(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB, DriverName: "postgres"}), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	repo := NewGormApplicationRepository(gormDB)

	t.Run("maps a row", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{"id", "version", "requester_id", "community_id", "community_name",
			"approval_outcome", "approval_message", "vote_outcome", "vote_message", "vote_ledger"}).
			AddRow(5, 3, "u1", "g1", "Night Owls", "APPROVED", "staff:m1", "AWAITING", "votes:v1", "{}")
		mock.ExpectQuery(`SELECT \* FROM "applications" WHERE id = \$1 ORDER BY .* LIMIT .*`).
			WithArgs(int64(5), 1).
			WillReturnRows(rows)

		app, err := repo.FindByID(context.Background(), 5)
		require.NoError(t, err)
		assert.Equal(t, 3, app.Version)
		assert.Equal(t, "votes:v1", app.VoteMessage.String())
		assert.Equal(t, admission.StageRatification, app.Stage())
	})

	t.Run("maps record not found", func(t *testing.T) {
		mock.ExpectQuery(`SELECT \* FROM "applications" WHERE id = \$1 ORDER BY .* LIMIT .*`).
			WithArgs(int64(6), 1).
			WillReturnError(gorm.ErrRecordNotFound)

		_, err := repo.FindByID(context.Background(), 6)
		assert.Equal(t, shared.ErrNotFound, err)
	})

	t.Run("version mismatch surfaces as a conflict", func(t *testing.T) {
		app := newSubmitted(t, "u1", "Night Owls", "m1")
		app.ID = 5
		app.Version = 3

		mock.ExpectExec(`UPDATE "applications" SET .* WHERE id = \$\d+ AND version = \$\d+`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT count\(\*\) FROM "applications" WHERE id = \$1`).
			WithArgs(int64(5)).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

		err := repo.Save(context.Background(), app)
		assert.ErrorIs(t, err, shared.ErrConcurrencyConflict)
		assert.Equal(t, 3, app.Version)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormInviteRepository(t *testing.T) {
	db := setupAdmissionTestDB(t)
	repo := NewGormInviteRepository(db)
	ctx := context.Background()

	inv, err := admission.NewInvite(1, "AbCd1234", 5, nil, repoNow)
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, inv))
	require.NotZero(t, inv.ID)

	found, err := repo.FindByCode(ctx, "AbCd1234")
	require.NoError(t, err)
	assert.Equal(t, int64(1), found.ApplicationID)

	found, err = repo.FindByApplication(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "AbCd1234", found.Code)

	found.Uses = 2
	require.NoError(t, repo.Save(ctx, found))
	again, err := repo.FindByCode(ctx, "AbCd1234")
	require.NoError(t, err)
	assert.Equal(t, 2, again.Uses)

	dup, err := admission.NewInvite(1, "Other123", 5, nil, repoNow)
	require.NoError(t, err)
	assert.ErrorIs(t, repo.Save(ctx, dup), shared.ErrAlreadyExists)

	_, err = repo.FindByCode(ctx, "missing")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}
