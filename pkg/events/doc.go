// Package events provides an in-process broker fanning container lifecycle
// events out to subscribers. The durable audit trail lives in the store; the
// broker is best-effort observation only.
package events
