package config

import (
	"os"
	"testing"
	"time"

	"github.com/hotline/admissions/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	// Save original env vars and restore after tests
	originalEnv := map[string]string{
		"HOTLINE_APP_NAME":                        os.Getenv("HOTLINE_APP_NAME"),
		"HOTLINE_APP_ENV":                         os.Getenv("HOTLINE_APP_ENV"),
		"HOTLINE_DATABASE_DRIVER":                 os.Getenv("HOTLINE_DATABASE_DRIVER"),
		"HOTLINE_DATABASE_MAX_OPEN_CONNS":         os.Getenv("HOTLINE_DATABASE_MAX_OPEN_CONNS"),
		"HOTLINE_DATABASE_MAX_IDLE_CONNS":         os.Getenv("HOTLINE_DATABASE_MAX_IDLE_CONNS"),
		"HOTLINE_JWT_SECRET":                      os.Getenv("HOTLINE_JWT_SECRET"),
		"HOTLINE_REVIEW_APPROVAL_THRESHOLD":       os.Getenv("HOTLINE_REVIEW_APPROVAL_THRESHOLD"),
		"HOTLINE_REVIEW_SUPERMAJORITY_RATIO":      os.Getenv("HOTLINE_REVIEW_SUPERMAJORITY_RATIO"),
		"HOTLINE_REVIEW_EARLY_APPROVAL_THRESHOLD": os.Getenv("HOTLINE_REVIEW_EARLY_APPROVAL_THRESHOLD"),
		"HOTLINE_REVIEW_WINDOW":                   os.Getenv("HOTLINE_REVIEW_WINDOW"),
		"HOTLINE_RECONCILE_INTERVAL":              os.Getenv("HOTLINE_RECONCILE_INTERVAL"),
		"HOTLINE_IDEMPOTENCY_BACKEND":             os.Getenv("HOTLINE_IDEMPOTENCY_BACKEND"),
		"HOTLINE_REDIS_ENABLED":                   os.Getenv("HOTLINE_REDIS_ENABLED"),
	}

	defer func() {
		for k, v := range originalEnv {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	}()

	clearEnv := func() {
		for k := range originalEnv {
			os.Unsetenv(k)
		}
	}

	t.Run("loads default values when env vars not set", func(t *testing.T) {
		clearEnv()

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "hotline-admissions", cfg.App.Name)
		assert.Equal(t, "postgres", cfg.Database.Driver)
		assert.Equal(t, 10, cfg.Review.ApprovalThreshold)
		assert.Equal(t, 5, cfg.Review.DenyFloor)
		assert.Equal(t, "3", cfg.Review.SupermajorityRatio.String())
		assert.Equal(t, 11, cfg.Review.Quorum)
		assert.Equal(t, 20, cfg.Review.EarlyApprovalThreshold)
		assert.Equal(t, 72*time.Hour, cfg.Review.ReviewWindow)
		assert.Equal(t, 15*time.Minute, cfg.Reconcile.Interval)
		assert.True(t, cfg.Reconcile.RunOnStart)
		assert.Equal(t, 5*time.Second, cfg.Router.Debounce)
		assert.Equal(t, "memory", cfg.Idempotency.Backend)
	})

	t.Run("loads review thresholds from environment", func(t *testing.T) {
		clearEnv()
		os.Setenv("HOTLINE_REVIEW_APPROVAL_THRESHOLD", "7")
		os.Setenv("HOTLINE_REVIEW_SUPERMAJORITY_RATIO", "2.5")
		os.Setenv("HOTLINE_REVIEW_EARLY_APPROVAL_THRESHOLD", "0")
		os.Setenv("HOTLINE_REVIEW_WINDOW", "48h")
		os.Setenv("HOTLINE_RECONCILE_INTERVAL", "5m")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 7, cfg.Review.ApprovalThreshold)
		assert.Equal(t, "2.5", cfg.Review.SupermajorityRatio.String())
		assert.Equal(t, 0, cfg.Review.EarlyApprovalThreshold)
		assert.Equal(t, 48*time.Hour, cfg.Review.ReviewWindow)
		assert.Equal(t, 5*time.Minute, cfg.Reconcile.Interval)
	})

	t.Run("rejects malformed ratio", func(t *testing.T) {
		clearEnv()
		os.Setenv("HOTLINE_REVIEW_SUPERMAJORITY_RATIO", "three")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "supermajority_ratio")
	})

	t.Run("rejects unknown database driver", func(t *testing.T) {
		clearEnv()
		os.Setenv("HOTLINE_DATABASE_DRIVER", "mysql")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database.driver")
	})

	t.Run("validates MaxIdleConns cannot exceed MaxOpenConns", func(t *testing.T) {
		clearEnv()
		os.Setenv("HOTLINE_DATABASE_MAX_OPEN_CONNS", "2")
		os.Setenv("HOTLINE_DATABASE_MAX_IDLE_CONNS", "4")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cannot exceed")
	})

	t.Run("redis idempotency requires redis", func(t *testing.T) {
		clearEnv()
		os.Setenv("HOTLINE_IDEMPOTENCY_BACKEND", "redis")

		_, err := Load()
		require.Error(t, err)

		os.Setenv("HOTLINE_REDIS_ENABLED", "true")
		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "redis", cfg.Idempotency.Backend)
	})

	t.Run("production requires a long jwt secret", func(t *testing.T) {
		clearEnv()
		os.Setenv("HOTLINE_APP_ENV", "production")
		os.Setenv("HOTLINE_DATABASE_DRIVER", "sqlite")
		os.Setenv("HOTLINE_JWT_SECRET", "short")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "jwt.secret")
	})
}

func TestDiscordConfig_Validate(t *testing.T) {
	complete := DiscordConfig{
		Token:                "token",
		GuildID:              "1",
		ApprovalChannelID:    "2",
		VoteChannelID:        "3",
		DiscussionCategoryID: "4",
		ServerOwnerRoleID:    "5",
		InviteBaseURL:        "https://apply.example/",
	}
	require.NoError(t, complete.Validate())

	missing := complete
	missing.VoteChannelID = ""
	missing.Token = ""
	err := missing.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrConfigurationMissing)
	assert.Contains(t, err.Error(), "discord.vote_channel_id")
	assert.Contains(t, err.Error(), "discord.token")
}

func TestDatabaseConfig_DSN(t *testing.T) {
	pg := DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, User: "u", Password: "p@ss", DBName: "hotline", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p%40ss@db:5432/hotline?sslmode=disable", pg.DSN())

	lite := DatabaseConfig{Driver: "sqlite", Path: "/tmp/h.db"}
	assert.Equal(t, "/tmp/h.db", lite.DSN())
}
