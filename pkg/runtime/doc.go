// Package runtime is the capability boundary over the container engine:
// create, start, stop, inspect, remove, unary exec, and streaming exec with
// PTY resize. DockerRuntime talks to a Docker-compatible engine API;
// LocalRuntime substitutes the host filesystem for development and tests.
package runtime
