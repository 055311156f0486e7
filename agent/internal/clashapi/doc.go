// Package clashapi is a typed view over the subset of the game stats API the
// ranking and recruiting pipelines consume.
//
// Every request goes through a fetch.Engine, so the client inherits its
// batching, key rotation, caching and budget. Methods taking a list of tags
// issue one batched call. A missing or skipped payload is not an error: it is
// simply absent from the returned map (or yields a zero value), and callers
// decide what an absence means.
package clashapi
