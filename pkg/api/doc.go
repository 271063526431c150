// Package api serves the HTTP and WebSocket surface under /api/v1: auth,
// container lifecycle, the virtual filesystem, and the terminal.
package api
