// Package scheduler runs the pipelines on cron schedules in daemon mode.
//
// Jobs are registered by name; registering a name again replaces its
// schedule, and an empty expression removes it. A job that is still running
// when its next tick fires is skipped, not queued.
package scheduler
