// Package config loads and watches the warboard configuration file (config.yaml).
//
// Top-level sections:
//   - api — base_url, per-request timeout, keys [] (name + value_env)
//   - fetch — batch_size, max_attempts, base_delay, batch_pause, max_fetches
//   - clan — tag of the clan being ranked
//   - scoring — composite weights, inactivity decay, participation grace weekdays
//   - recruit — discovery keywords, sampling pools, capacity, exclusion window
//   - storage, schedule, http, metrics — collaborators around the engine
//
// Load(path) reads the YAML file, applies defaults, then validates required
// fields. Key values are resolved from the environment by KeyConfig.Value().
//
// Watch(ctx, path, onChange) uses fsnotify to detect file changes and calls
// onChange with the newly parsed Config. A reload that fails validation keeps
// the previous config active.
package config
