package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/hotline/admissions/internal/infrastructure/auth"
	"github.com/hotline/admissions/internal/infrastructure/config"
)

func main() {
	var (
		subject string
		name    string
		ttl     time.Duration
	)
	flag.StringVar(&subject, "subject", "", "Staff member id, usually the Discord user id (required)")
	flag.StringVar(&name, "name", "", "Display name recorded in the token")
	flag.DurationVar(&ttl, "ttl", 30*24*time.Hour, "Token lifetime")
	flag.Parse()

	if subject == "" {
		fmt.Fprintln(os.Stderr, "Usage: stafftoken -subject <id> [-name <display>] [-ttl 720h]")
		os.Exit(2)
	}
	if ttl <= 0 {
		fmt.Fprintln(os.Stderr, "ttl must be positive")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if cfg.JWT.Secret == "" {
		fmt.Fprintln(os.Stderr, "jwt.secret is not set")
		os.Exit(1)
	}

	token, err := auth.NewJWTService(cfg.JWT).IssueStaffToken(subject, name, ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to issue token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
