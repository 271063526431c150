// Package vfs is the outward virtual-filesystem service. It composes the
// content side (executed inside the user's container) with the metadata
// store (desktop positions, trash provenance) and owns the trash/restore and
// unique-name semantics.
package vfs
