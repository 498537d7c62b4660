// Package crawler defines the domain types and ports shared by the render
// pipeline: URL entries, cache records, per-URL outcomes and the browser and
// cache store capabilities consumed by the worker and dispatcher.
package crawler
