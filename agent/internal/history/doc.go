// Package history keeps the per-member weekly war contribution record.
//
// A History maps a week identifier ("YYWNN", derived from the ISO week) to
// the fame a member earned that week. Week IDs sort lexicographically in
// chronological order. Histories are combined with max-merge: a later write
// for a week only wins if it is strictly greater, so merging is commutative
// and re-fetching a race log can never lower a recorded value.
//
// The persisted form is the string "<value> <week> | <value> <week> | ...".
// It is parsed into a History at the storage boundary and formatted back on
// write; nothing else handles the string.
package history
