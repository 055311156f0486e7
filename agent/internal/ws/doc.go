// Package ws implements the WebSocket hub of the warboard daemon.
//
// Hub keeps a set of connected clients and pushes an event to all of them
// whenever a pipeline run finishes. The latest message of each event type is
// replayed to a client as soon as it connects, so a fresh client does not
// wait for the next run.
//
// Message format sent to clients:
//
//	{
//	  "event": "ranking",
//	  "at":    "2024-01-18T12:00:00Z",
//	  "data":  { /* same schema as GET /api/v1/rankings */ }
//	}
//
// The upgrader accepts all origins. Apply CORS restrictions at the reverse
// proxy level. The daemon mounts the hub at /api/v1/stream.
package ws
