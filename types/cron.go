package types

import (
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs named background jobs on cron schedules. The janitor sweep
// is its only mandatory client; jobs must never block foreground operations.
type Scheduler interface {
	LifecycleManager
	Add(jobName, spec string, job func()) error
}

type JobEntry struct {
	ID           cron.EntryID
	Name         string
	Spec         string
	AddedAt      time.Time
	LastRun      time.Time
	NextRun      time.Time
	LastDuration time.Duration
	RunCount     int64
	Error        error
}
