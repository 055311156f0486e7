// Package api implements the read-only HTTP API of the warboard daemon.
//
// New(src, rec) returns an http.Handler that serves:
//
//	GET /api/v1/health          state, store reachability, last ranking time
//	GET /api/v1/rankings        the last saved ranking, rank order (?limit=N)
//	GET /api/v1/rankings/{tag}  one ranked member; 404 if not ranked
//	GET /api/v1/recruits        tracked candidates and the current benchmark
//	GET /api/v1/blacklist       the exclusion list with expiry times
//	GET /api/v1/stream          WebSocket run events, when WithStream is set
//	GET /metrics                Prometheus text exposition of run metrics
//
// JSON endpoints respond with Content-Type: application/json and return 405
// for non-GET methods. Writes happen only through pipeline runs.
package api
