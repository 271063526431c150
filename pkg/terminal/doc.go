// Package terminal streams an interactive shell between a WebSocket client
// and a detached in-container multiplexer session, so the shell survives
// transport disconnects.
package terminal
