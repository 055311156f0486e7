// Package runner executes the ranking and recruiting pipelines end to end.
//
// Each run takes the store's run lock before it reads any persisted state
// and releases it on every exit path. A run builds its own fetch.Run, so the
// key pool, cache and request budget never outlive it. Results are written
// in one transaction at the end; a run that fails anywhere before that
// leaves the previous output as it was.
package runner
