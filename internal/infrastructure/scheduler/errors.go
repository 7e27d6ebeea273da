package scheduler

import "errors"

var (
	// ErrSchedulerNotRunning is returned when a pass is requested from a stopped scheduler
	ErrSchedulerNotRunning = errors.New("scheduler is not running")

	// ErrPassInProgress is returned when a pass is requested while another one is running
	ErrPassInProgress = errors.New("reconcile pass already in progress")

	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid scheduler configuration")
)
