// Package compute scores clan members from their reconciled war history.
//
// score.go holds the pure functions: ParticipationRate, Compute (weighted
// composite with inactivity decay) and Normalize (rescale a batch against its
// maximum). They take every input explicitly, including the current time, so
// tests are deterministic and the same inputs always give the same scores.
//
// engine.go provides the Engine that turns member snapshots, histories and
// tenure records into scored rows for the ranking stage, and UpdateTenure,
// which carries first-seen dates and weekly donation maxima across runs.
package compute
