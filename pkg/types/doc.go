// Package types defines the shared Go types handed between the engine and its
// collaborators (persistence, rendering, the read-only API). These are plain
// data: no behaviour beyond trivial helpers lives here.
package types
