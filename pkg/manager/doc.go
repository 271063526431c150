// Package manager owns per-user container lifecycle: provisioning with
// resource caps, start/stop, reconciliation of persisted records against the
// engine, the host-side user data layout, and the audit event stream.
package manager
