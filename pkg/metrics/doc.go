// Package metrics exposes Prometheus collectors for the API surface,
// container lifecycle, filesystem operations, and terminal sessions.
package metrics
