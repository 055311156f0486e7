// Package fetch is the batched HTTP layer every other component reads the
// external stats API through.
//
// A Run is the per-execution scope: it owns the active key pool, the
// execution cache (URL -> payload, 404s cached as nil) and the request
// budget. Nothing here is package-level state; callers create one Run per
// pipeline execution and hand it to New.
//
// Engine.FetchBatch deduplicates URLs, serves cache hits, and dispatches the
// rest in fixed-size batches. Requests within a batch run concurrently, each
// with a key drawn at random from the still-active pool. 403 and 429 ban the
// key for the rest of the run; 5xx and transport errors are retried with a
// linear backoff (attempt * base delay). An empty pool or exhausted retries
// are the only fatal outcomes. Once the budget is spent, new requests come
// back as StatusSkipped without touching the network.
package fetch
