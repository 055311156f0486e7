// Package recruit runs the candidate funnel that feeds clan recruiting.
//
// A run starts by refreshing the exclusion list (blacklist.go): expired
// entries are dropped, tags an operator marked as processed are excluded for
// the configured window, and the benchmark is recomputed as the mean of the
// three best excluded scores.
//
// Pipeline.Run then works through its stages in order:
//
//	liveness   drop tracked candidates that joined a clan or vanished
//	discover   keyword search for tournaments, top by capacity, random sample
//	filter     clanless, not excluded, not ours, above the trophy floor
//	profile    top by trophies, random sub-sample, full profile fetch
//	war        war-signal from the recent battle log
//	merge      score and merge into the tracked set, keeping found dates
//	cap        sort by raw score, truncate, scale against the benchmark
//
// The random sampling bounds API usage per run while covering the search
// space across runs. The generator is injected so tests are deterministic.
package recruit
