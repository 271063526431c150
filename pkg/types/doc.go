// Package types defines the core data model shared across Aisu components:
// users, container records and events, filesystem node metadata, and the
// container spec handed to the runtime adapter.
package types
