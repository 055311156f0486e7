// Package store persists warboard state in a single SQLite file.
//
// It offers three things: a key/value area whose large values are split
// into ordered chunks, a lease-based run lock so two runs never read and
// write persisted state at the same time, and the tabular ranking state
// (member tenure and the last rendered rank rows). Writes that belong to one
// pipeline stage go through a single transaction, so a failed run leaves the
// previous output untouched.
package store
